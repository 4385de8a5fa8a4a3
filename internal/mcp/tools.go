package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/turnstiledev/turnstile/internal/keys"
	"github.com/turnstiledev/turnstile/internal/model"
	"github.com/turnstiledev/turnstile/internal/store"
)

// registerTools registers the key administration tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	srv.AddTool(
		mcp.NewTool("turnstile_list_principals",
			mcp.WithDescription(
				"List all principals (account holders) registered in Turnstile. Returns "+
					"each principal's id, external subject, email, and active status. Use "+
					"this first to find the subject to operate on.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListPrincipals,
	)

	srv.AddTool(
		mcp.NewTool("turnstile_list_keys",
			mcp.WithDescription(
				"List a principal's API keys as metadata: name, display prefix, scopes, "+
					"active status, expiry, and last use. The key secret is never included; "+
					"it is not stored and cannot be recovered.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("subject",
				mcp.Required(),
				mcp.Description("External subject of the principal whose keys to list"),
			),
		),
		s.handleListKeys,
	)

	srv.AddTool(
		mcp.NewTool("turnstile_create_key",
			mcp.WithDescription(
				"Issue a new scoped API key for a principal. The response contains the "+
					"raw key exactly once; it is never stored or shown again. Scopes use "+
					"the form resource:action, resource:* for all actions on a resource, "+
					"or * for full access. At most 10 keys may be active per principal.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("subject",
				mcp.Required(),
				mcp.Description("External subject of the owning principal"),
			),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Human-readable key name (at most 100 characters)"),
			),
			mcp.WithArray("scopes",
				mcp.Required(),
				mcp.Description("Scopes to grant (e.g. [\"keys:read\", \"chat:*\"])"),
				mcp.WithStringItems(),
			),
			mcp.WithString("expires_at",
				mcp.Description("Optional expiry as an RFC 3339 timestamp (e.g. 2026-12-31T00:00:00Z)"),
			),
			mcp.WithNumber("rate_limit_rpm",
				mcp.Description("Optional per-key requests-per-minute override"),
			),
		),
		s.handleCreateKey,
	)

	srv.AddTool(
		mcp.NewTool("turnstile_revoke_key",
			mcp.WithDescription(
				"Revoke an API key. Revocation is one-way: the key stops authenticating "+
					"immediately and cannot be reactivated. The key must belong to the "+
					"given principal.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("subject",
				mcp.Required(),
				mcp.Description("External subject of the owning principal"),
			),
			mcp.WithNumber("key_id",
				mcp.Required(),
				mcp.Description("Numeric id of the key to revoke"),
			),
		),
		s.handleRevokeKey,
	)

	srv.AddTool(
		mcp.NewTool("turnstile_key_usage",
			mcp.WithDescription(
				"Get traffic statistics recorded for an API key: total requests, error "+
					"responses, requests in the last 24 hours, and the last request time.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("subject",
				mcp.Required(),
				mcp.Description("External subject of the owning principal"),
			),
			mcp.WithNumber("key_id",
				mcp.Required(),
				mcp.Description("Numeric id of the key"),
			),
		),
		s.handleKeyUsage,
	)
}

// =========================================================================
// Tool handlers
// =========================================================================

// handleListPrincipals returns all registered principals.
func (s *MCPServer) handleListPrincipals(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	principals, err := s.store.ListPrincipals(ctx)
	if err != nil {
		return toolError("Failed to list principals: %v", err)
	}

	type principalInfo struct {
		ID       int64  `json:"id"`
		Subject  string `json:"subject"`
		Email    string `json:"email,omitempty"`
		Name     string `json:"name,omitempty"`
		IsActive bool   `json:"is_active"`
	}

	items := make([]principalInfo, len(principals))
	for i, p := range principals {
		items[i] = principalInfo{
			ID:       p.ID,
			Subject:  p.ExternalSubject,
			Email:    p.Email,
			Name:     p.Name,
			IsActive: p.IsActive,
		}
	}

	return successJSON(items)
}

// handleListKeys returns a principal's keys as metadata.
func (s *MCPServer) handleListKeys(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	principal, result := s.resolvePrincipal(ctx, request)
	if result != nil {
		return result, nil
	}

	list, err := s.keySvc.List(ctx, principal.ID)
	if err != nil {
		return toolError("Failed to list keys for %q: %v", principal.ExternalSubject, err)
	}

	return successJSON(map[string]interface{}{
		"subject": principal.ExternalSubject,
		"keys":    list,
	})
}

// handleCreateKey issues a new key and returns the one-time raw secret.
func (s *MCPServer) handleCreateKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	principal, result := s.resolvePrincipal(ctx, request)
	if result != nil {
		return result, nil
	}

	name, err := requireString(request, "name")
	if err != nil {
		return toolError("%v", err)
	}
	scopes := optionalStringSlice(request, "scopes")
	if len(scopes) == 0 {
		return toolError("No scopes provided. The 'scopes' parameter must be a non-empty " +
			"array of scope strings, e.g. [\"keys:read\", \"chat:*\"]")
	}

	var expiresAt *time.Time
	if raw := optionalString(request, "expires_at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return toolError("Invalid expires_at %q: %v. Use RFC 3339, e.g. 2026-12-31T00:00:00Z", raw, err)
		}
		expiresAt = &t
	}

	var rpm *int
	if v := optionalInt(request, "rate_limit_rpm", 0); v > 0 {
		rpm = &v
	}

	generated, err := s.keySvc.Generate(ctx, keys.GenerateInput{
		PrincipalID:  principal.ID,
		Name:         name,
		Scopes:       scopes,
		ExpiresAt:    expiresAt,
		RateLimitRPM: rpm,
	})
	if err != nil {
		var ve *keys.ValidationError
		if errors.As(err, &ve) {
			return toolError("Invalid %s: %s", ve.Field, ve.Message)
		}
		var qe *keys.QuotaError
		if errors.As(err, &qe) {
			return toolError("Key quota exceeded for %q: %d of %d keys active. "+
				"Revoke an existing key first with turnstile_revoke_key.",
				principal.ExternalSubject, qe.Current, qe.Limit)
		}
		return toolError("Failed to create key: %v", err)
	}

	return successJSON(map[string]interface{}{
		"key":     generated,
		"warning": "The api_key value is shown exactly once. Store it now; it cannot be recovered.",
	})
}

// handleRevokeKey revokes one of a principal's keys.
func (s *MCPServer) handleRevokeKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	principal, result := s.resolvePrincipal(ctx, request)
	if result != nil {
		return result, nil
	}

	keyID := optionalInt(request, "key_id", 0)
	if keyID <= 0 {
		return toolError("Missing or invalid key_id. Use turnstile_list_keys to find key ids.")
	}

	if err := s.keySvc.Revoke(ctx, int64(keyID), principal.ID); err != nil {
		if errors.Is(err, keys.ErrNotFound) {
			return toolError("Key %d not found for principal %q. Use turnstile_list_keys to see their keys.",
				keyID, principal.ExternalSubject)
		}
		return toolError("Failed to revoke key %d: %v", keyID, err)
	}

	return successJSON(map[string]interface{}{
		"revoked": keyID,
		"subject": principal.ExternalSubject,
	})
}

// handleKeyUsage returns recorded traffic statistics for one key.
func (s *MCPServer) handleKeyUsage(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	principal, result := s.resolvePrincipal(ctx, request)
	if result != nil {
		return result, nil
	}

	keyID := optionalInt(request, "key_id", 0)
	if keyID <= 0 {
		return toolError("Missing or invalid key_id. Use turnstile_list_keys to find key ids.")
	}

	if _, err := s.keySvc.Get(ctx, int64(keyID), principal.ID); err != nil {
		if errors.Is(err, keys.ErrNotFound) {
			return toolError("Key %d not found for principal %q.", keyID, principal.ExternalSubject)
		}
		return toolError("Failed to look up key %d: %v", keyID, err)
	}

	stats, err := s.store.GetUsageStats(ctx, int64(keyID))
	if err != nil {
		return toolError("Failed to load usage stats for key %d: %v", keyID, err)
	}

	return successJSON(stats)
}

// resolvePrincipal extracts the required subject argument and loads the
// matching principal. On failure it returns a non-nil tool error result.
func (s *MCPServer) resolvePrincipal(ctx context.Context, request mcp.CallToolRequest) (*model.Principal, *mcp.CallToolResult) {
	subject, err := requireString(request, "subject")
	if err != nil {
		res, _ := toolError("%v. Use turnstile_list_principals to discover subjects.", err)
		return nil, res
	}

	principal, err := s.store.GetPrincipalBySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			res, _ := toolError("Principal %q not found. Use turnstile_list_principals to discover subjects.", subject)
			return nil, res
		}
		res, _ := toolError("Failed to look up principal %q: %v", subject, err)
		return nil, res
	}
	return principal, nil
}
