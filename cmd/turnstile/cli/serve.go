package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/turnstiledev/turnstile/internal/auth"
	"github.com/turnstiledev/turnstile/internal/ratelimit"
	"github.com/turnstiledev/turnstile/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		port       int
		host       string
		dev        bool
		defaultRPM int
		floodRPM   int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Turnstile API server",
		Long:  "Start the HTTP server that authenticates API keys, enforces scopes and rate limits, and serves the key management API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev, defaultRPM, floodRPM)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging, relaxed session secret handling)")
	cmd.Flags().IntVar(&defaultRPM, "default-rpm", ratelimit.DefaultRPM, "Default per-key requests-per-minute limit")
	cmd.Flags().IntVar(&floodRPM, "flood-rpm", 300, "Pre-auth per-IP requests-per-minute ceiling (0 disables)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("ratelimit.default_rpm", cmd.Flags().Lookup("default-rpm"))

	return cmd
}

func runServe(host string, port int, dev bool, defaultRPM, floodRPM int) error {
	logger := newLogger(dev)

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("credential store ready", "driver", viper.GetString("store.driver"))

	keySvc := newKeyService(st, logger)

	secret, err := sessionSecret()
	if err != nil {
		if !dev {
			return err
		}
		// Dev mode only: sessions still verify, but against a throwaway
		// secret, so tokens minted elsewhere will not validate.
		logger.Warn("auth.session_secret not set, delegated sessions disabled")
		secret = []byte("turnstile-dev-secret-not-for-production")
	}
	sessions := auth.NewJWTSessionResolver(secret)

	cfg := server.DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.DefaultRPM = defaultRPM
	cfg.FloodRPM = floodRPM
	cfg.Version = appVersion
	if origins := viper.GetStringSlice("server.cors_origins"); len(origins) > 0 {
		cfg.CORSOrigins = origins
	}

	srv := server.New(cfg, st, keySvc, sessions, logger)

	fmt.Printf("turnstile %s\n", appVersion)
	fmt.Printf("  listening: http://%s:%d\n", host, port)
	fmt.Printf("  openapi:   http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("  health:    http://%s:%d/healthz\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}
