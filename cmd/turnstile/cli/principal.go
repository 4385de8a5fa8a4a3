package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/turnstiledev/turnstile/internal/model"
)

func newPrincipalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "principal",
		Short: "Manage principals",
		Long:  "Create and list principals, the account holders that own API keys.",
	}

	cmd.AddCommand(newPrincipalCreateCmd())
	cmd.AddCommand(newPrincipalListCmd())

	return cmd
}

// ---------- principal create ----------

func newPrincipalCreateCmd() *cobra.Command {
	var (
		email string
		name  string
	)

	cmd := &cobra.Command{
		Use:   "create <subject>",
		Short: "Create a new principal",
		Long:  "Register a principal identified by its external identity-provider subject.",
		Example: `  turnstile principal create alice@example.com --email alice@example.com --name "Alice"
  turnstile principal create svc-ingest`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrincipalCreate(args[0], email, name)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Contact email")
	cmd.Flags().StringVar(&name, "name", "", "Display name")

	return cmd
}

func runPrincipalCreate(subject, email, name string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	if _, err := st.GetPrincipalBySubject(ctx, subject); err == nil {
		return fmt.Errorf("principal %q already exists", subject)
	}

	p := &model.Principal{
		ExternalSubject: subject,
		Email:           email,
		Name:            name,
		IsActive:        true,
	}
	if err := st.CreatePrincipal(ctx, p); err != nil {
		return fmt.Errorf("create principal: %w", err)
	}

	fmt.Printf("Created principal %d (%s)\n", p.ID, subject)
	return nil
}

// ---------- principal list ----------

func newPrincipalListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all principals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrincipalList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runPrincipalList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	principals, err := st.ListPrincipals(context.Background())
	if err != nil {
		return fmt.Errorf("list principals: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(principals)
	}

	if len(principals) == 0 {
		fmt.Println("No principals. Use 'turnstile principal create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-32s %-28s %-8s\n", "ID", "SUBJECT", "EMAIL", "ACTIVE")
	fmt.Printf("%-6s %-32s %-28s %-8s\n", "--", "-------", "-----", "------")
	for _, p := range principals {
		active := "yes"
		if !p.IsActive {
			active = "no"
		}
		fmt.Printf("%-6d %-32s %-28s %-8s\n", p.ID, p.ExternalSubject, p.Email, active)
	}

	return nil
}
