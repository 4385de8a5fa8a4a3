package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/turnstiledev/turnstile/internal/auth"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Work with delegated session tokens",
	}

	cmd.AddCommand(newSessionTokenCmd())

	return cmd
}

func newSessionTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed session token for a subject",
		Long: `Mint an HMAC-signed session token carried in the ` + auth.SessionCookieName + ` cookie.
Intended for development and testing; in production the identity-provider
integration issues these.

The signing secret is taken from auth.session_secret, or prompted for
interactively when unset.`,
		Example: `  turnstile session token --subject alice@example.com --ttl 24h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionToken(subject, ttl)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "External subject to embed in the token (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	cmd.MarkFlagRequired("subject")

	return cmd
}

func runSessionToken(subject string, ttl time.Duration) error {
	secret, err := sessionSecret()
	if err != nil {
		// Fall back to an interactive prompt so the secret never lands in
		// shell history.
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return err
		}
		fmt.Fprint(os.Stderr, "Session secret: ")
		raw, readErr := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if readErr != nil {
			return fmt.Errorf("read secret: %w", readErr)
		}
		if len(raw) == 0 {
			return fmt.Errorf("empty session secret")
		}
		secret = raw
	}

	token, err := auth.IssueSessionToken(secret, subject, ttl)
	if err != nil {
		return fmt.Errorf("mint session token: %w", err)
	}

	fmt.Println(token)
	return nil
}
