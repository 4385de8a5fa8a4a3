package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/turnstiledev/turnstile/internal/keys"
	"github.com/turnstiledev/turnstile/internal/store"
)

// openStore connects to the credential store configured via the config file
// or TURNSTILE_STORE_* environment variables. With no configuration at all
// it falls back to a SQLite file next to the binary, so the CLI works out of
// the box.
func openStore() (*store.Store, error) {
	driver := viper.GetString("store.driver")
	dsn := viper.GetString("store.dsn")
	if driver == "" {
		driver = store.DriverSQLite
	}
	if driver == store.DriverSQLite && dsn == "" {
		dsn = "file:turnstile.db?_journal_mode=WAL"
	}
	return store.Open(driver, dsn)
}

// newLogger builds the process logger. CLI subcommands log to stderr so
// stdout stays clean for command output.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newKeyService wires a key service over the given store with production
// hash parameters.
func newKeyService(st *store.Store, logger *slog.Logger) *keys.Service {
	return keys.NewService(st, logger, keys.DefaultHashParams())
}

// sessionSecret returns the configured session signing secret, or an error
// when it is unset. It is deliberately never defaulted: a guessable secret
// would let anyone mint sessions.
func sessionSecret() ([]byte, error) {
	secret := viper.GetString("auth.session_secret")
	if secret == "" {
		return nil, fmt.Errorf("auth.session_secret is not set (config file or TURNSTILE_AUTH_SESSION_SECRET)")
	}
	return []byte(secret), nil
}
