// Package mcp exposes key administration as MCP tools so AI agents can
// issue, inspect, and revoke credentials. The MCP surface is an operator
// channel: it runs with store access and is not subject to the HTTP API's
// scope checks, so it must only be reachable by trusted clients.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/turnstiledev/turnstile/internal/keys"
	"github.com/turnstiledev/turnstile/internal/store"
)

// MCPServer wraps the mcp-go server with the key administration tool set.
type MCPServer struct {
	store  *store.Store
	keySvc *keys.Service
	logger *slog.Logger
	server *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with all tools. The returned
// server is ready to serve over stdio or HTTP.
func NewMCPServer(st *store.Store, keySvc *keys.Service, version string, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		store:  st,
		keySvc: keySvc,
		logger: logger,
	}

	mcpServer := server.NewMCPServer(
		"Turnstile Key Administration",
		version,
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance. Useful for
// advanced configuration or testing.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode, the integration path for
// clients that launch the server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on the
// given address (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(false),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
