package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	tmcp "github.com/turnstiledev/turnstile/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes key administration
as tools for AI agents. Supports stdio (default) and HTTP transports.

In stdio mode the server communicates over stdin/stdout using JSON-RPC,
suitable for clients that launch it as a subprocess. The MCP surface has
full store access and bypasses API scope checks; expose it only to trusted
clients.`,
		Example: `  turnstile mcp                             # stdio mode
  turnstile mcp --transport http --port 3001  # Streamable HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")

	return cmd
}

func runMCP(transport string, port int) error {
	logger := newLogger(false)

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	keySvc := newKeyService(st, logger)
	mcpSrv := tmcp.NewMCPServer(st, keySvc, appVersion, logger)

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		return mcpSrv.ServeHTTP(fmt.Sprintf(":%d", port))
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}
