package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/turnstiledev/turnstile/internal/keys"
	"github.com/turnstiledev/turnstile/internal/model"
	"github.com/turnstiledev/turnstile/internal/store"
)

// seedFile is the YAML bootstrap document: principals to ensure exist and
// keys to issue for them. Raw keys are printed once, like `key create`.
type seedFile struct {
	Principals []seedPrincipal `yaml:"principals"`
}

type seedPrincipal struct {
	Subject string    `yaml:"subject"`
	Email   string    `yaml:"email"`
	Name    string    `yaml:"name"`
	Keys    []seedKey `yaml:"keys"`
}

type seedKey struct {
	Name      string     `yaml:"name"`
	Scopes    []string   `yaml:"scopes"`
	ExpiresAt *time.Time `yaml:"expires_at"`
	RPM       *int       `yaml:"rate_limit_rpm"`
}

func newSeedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Bootstrap principals and keys from a YAML file",
		Long: `Create principals and issue keys described in a YAML file. Existing
principals are reused; keys are always newly issued, and their raw values are
printed exactly once.

Example file:

  principals:
    - subject: svc-ingest
      email: ops@example.com
      keys:
        - name: ingest
          scopes: ["ingest:write"]
          rate_limit_rpm: 600`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(file)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the seed YAML file (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func runSeed(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}
	if len(seed.Principals) == 0 {
		return fmt.Errorf("seed file %s contains no principals", path)
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	keySvc := newKeyService(st, newLogger(false))

	for _, sp := range seed.Principals {
		if sp.Subject == "" {
			return fmt.Errorf("seed file: principal with empty subject")
		}

		principal, err := st.GetPrincipalBySubject(ctx, sp.Subject)
		if errors.Is(err, store.ErrNotFound) {
			principal = &model.Principal{
				ExternalSubject: sp.Subject,
				Email:           sp.Email,
				Name:            sp.Name,
				IsActive:        true,
			}
			if err := st.CreatePrincipal(ctx, principal); err != nil {
				return fmt.Errorf("create principal %q: %w", sp.Subject, err)
			}
			fmt.Printf("Created principal %q\n", sp.Subject)
		} else if err != nil {
			return fmt.Errorf("look up principal %q: %w", sp.Subject, err)
		} else {
			fmt.Printf("Principal %q already exists\n", sp.Subject)
		}

		for _, sk := range sp.Keys {
			generated, err := keySvc.Generate(ctx, keys.GenerateInput{
				PrincipalID:  principal.ID,
				Name:         sk.Name,
				Scopes:       sk.Scopes,
				ExpiresAt:    sk.ExpiresAt,
				RateLimitRPM: sk.RPM,
			})
			if err != nil {
				return fmt.Errorf("create key %q for %q: %w", sk.Name, sp.Subject, err)
			}
			fmt.Printf("  key %q: %s\n", generated.Name, generated.RawKey)
		}
	}

	fmt.Println()
	fmt.Println("Save the printed keys now - they cannot be retrieved again.")
	return nil
}
