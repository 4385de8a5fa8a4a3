package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turnstiledev/turnstile/internal/keys"
	"github.com/turnstiledev/turnstile/internal/store"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke scoped API keys used to authenticate against the Turnstile API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		subject string
		name    string
		scopes  []string
		expires string
		rpm     int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new scoped API key for a principal. The raw key is shown once and cannot be retrieved again.",
		Example: `  turnstile key create --subject alice@example.com --name "CI pipeline" --scope keys:read
  turnstile key create --subject svc-ingest --name ingest --scope chat:* --rpm 600 --expires 2027-01-01T00:00:00Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(subject, name, scopes, expires, rpm)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "External subject of the owning principal (required)")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable name for the key (required)")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scope to grant; repeatable (required)")
	cmd.Flags().StringVar(&expires, "expires", "", "Expiry as an RFC 3339 timestamp")
	cmd.Flags().IntVar(&rpm, "rpm", 0, "Per-key requests-per-minute override (0 uses the server default)")
	cmd.MarkFlagRequired("subject")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("scope")

	return cmd
}

func runKeyCreate(subject, name string, scopes []string, expires string, rpm int) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	logger := newLogger(false)

	principal, err := st.GetPrincipalBySubject(ctx, subject)
	if err != nil {
		return fmt.Errorf("principal %q not found (create it with: turnstile principal create)", subject)
	}

	in := keys.GenerateInput{
		PrincipalID: principal.ID,
		Name:        name,
		Scopes:      scopes,
	}
	if expires != "" {
		t, err := time.Parse(time.RFC3339, expires)
		if err != nil {
			return fmt.Errorf("invalid --expires %q: %w", expires, err)
		}
		in.ExpiresAt = &t
	}
	if rpm > 0 {
		in.RateLimitRPM = &rpm
	}

	generated, err := newKeyService(st, logger).Generate(ctx, in)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API key created:")
	fmt.Println()
	fmt.Printf("  Key:     %s\n", generated.RawKey)
	fmt.Printf("  Prefix:  %s\n", generated.KeyPrefix)
	fmt.Printf("  Name:    %s\n", generated.Name)
	fmt.Printf("  Scopes:  %s\n", strings.Join(generated.Scopes, ", "))
	if generated.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", generated.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		subject    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a principal's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(subject, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "External subject of the principal (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("subject")

	return cmd
}

func runKeyList(subject string, jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	principal, err := st.GetPrincipalBySubject(ctx, subject)
	if err != nil {
		return fmt.Errorf("principal %q not found", subject)
	}

	list, err := st.ListAPIKeys(ctx, principal.ID)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	if len(list) == 0 {
		fmt.Printf("No API keys for %q. Use 'turnstile key create' to create one.\n", subject)
		return nil
	}

	fmt.Printf("%-6s %-10s %-24s %-32s %-8s\n", "ID", "PREFIX", "NAME", "SCOPES", "ACTIVE")
	fmt.Printf("%-6s %-10s %-24s %-32s %-8s\n", "--", "------", "----", "------", "------")
	for _, k := range list {
		active := "yes"
		if !k.IsActive {
			active = "no"
		}
		fmt.Printf("%-6d %-10s %-24s %-32s %-8s\n",
			k.ID, k.KeyPrefix, k.Name, strings.Join(k.Scopes, ","), active)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key by id",
		Long:  "Deactivate an API key, preventing any further authenticated requests using that key. Revocation is one-way.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(subject, args[0])
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "External subject of the owning principal (required)")
	cmd.MarkFlagRequired("subject")

	return cmd
}

func runKeyRevoke(subject, rawID string) error {
	keyID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || keyID <= 0 {
		return fmt.Errorf("invalid key id %q", rawID)
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	principal, err := st.GetPrincipalBySubject(ctx, subject)
	if err != nil {
		return fmt.Errorf("principal %q not found", subject)
	}

	if err := st.RevokeAPIKey(ctx, keyID, principal.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no API key %d for principal %q", keyID, subject)
		}
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked API key %d\n", keyID)
	return nil
}
