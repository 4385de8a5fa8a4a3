// Package auth implements the per-request authentication decision procedure
// and scope enforcement. A request authenticates either with a Bearer API
// key or with a delegated session; once a Bearer scheme is detected the two
// paths are mutually exclusive, so a garbage token can never be used to
// probe session cookies.
package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/turnstiledev/turnstile/internal/httpx"
	"github.com/turnstiledev/turnstile/internal/keys"
	"github.com/turnstiledev/turnstile/internal/model"
	"github.com/turnstiledev/turnstile/internal/scope"
	"github.com/turnstiledev/turnstile/internal/store"
)

// Authenticate returns the middleware that produces a request Identity or a
// terminal 401/500. Decision procedure:
//
//   - Authorization header with a Bearer scheme: credential path only.
//     An empty token is a terminal 401 INVALID_TOKEN, never a session
//     fallback.
//   - Non-Bearer scheme or no header: session path.
func Authenticate(keySvc *keys.Service, sessions SessionResolver, st *store.Store, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header != "" {
				if sch, rest, _ := strings.Cut(header, " "); strings.EqualFold(sch, "Bearer") {
					authenticateCredential(w, r, next, keySvc, st, logger, strings.TrimSpace(rest))
					return
				}
				// Unrecognized scheme: treat like an absent header.
			}
			authenticateSession(w, r, next, sessions, st, logger)
		})
	}
}

func authenticateCredential(w http.ResponseWriter, r *http.Request, next http.Handler,
	keySvc *keys.Service, st *store.Store, logger *slog.Logger, token string) {

	if token == "" {
		httpx.Error(w, r, http.StatusUnauthorized, model.CodeInvalidToken, "Invalid API key")
		return
	}

	key, err := keySvc.Validate(r.Context(), token)
	if err != nil {
		if errors.Is(err, keys.ErrInvalidKey) {
			httpx.Error(w, r, http.StatusUnauthorized, model.CodeInvalidToken, "Invalid API key")
			return
		}
		logger.Error("api key validation failed", "error", err, "path", r.URL.Path)
		httpx.Internal(w, r)
		return
	}

	principal, err := st.GetPrincipal(r.Context(), key.PrincipalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// A key without an owning principal is an internal-consistency
			// fault. Respond exactly like an invalid key so the caller
			// learns nothing about the key's structural validity.
			logger.Error("api key has no owning principal", "key_id", key.ID, "principal_id", key.PrincipalID)
			httpx.Error(w, r, http.StatusUnauthorized, model.CodeInvalidToken, "Invalid API key")
			return
		}
		logger.Error("principal lookup failed", "error", err, "key_id", key.ID)
		httpx.Internal(w, r)
		return
	}
	if !principal.IsActive {
		httpx.Error(w, r, http.StatusUnauthorized, model.CodeInvalidToken, "Invalid API key")
		return
	}

	identity := CredentialIdentity{
		PrincipalID:     principal.ID,
		ExternalSubject: principal.ExternalSubject,
		KeyID:           key.ID,
		KeyScopes:       key.Scopes,
		RateLimitRPM:    key.RateLimitRPM,
	}
	next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
}

func authenticateSession(w http.ResponseWriter, r *http.Request, next http.Handler,
	sessions SessionResolver, st *store.Store, logger *slog.Logger) {

	subject, err := sessions.CurrentSubject(r)
	if err != nil {
		logger.Error("session resolution failed", "error", err, "path", r.URL.Path)
		httpx.Internal(w, r)
		return
	}
	if subject == "" {
		httpx.Error(w, r, http.StatusUnauthorized, model.CodeUnauthorized, "Authentication required")
		return
	}

	principal, err := st.GetPrincipalBySubject(r.Context(), subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.Error(w, r, http.StatusUnauthorized, model.CodeUnauthorized, "Authentication required")
			return
		}
		logger.Error("session principal lookup failed", "error", err, "subject", subject)
		httpx.Internal(w, r)
		return
	}
	if !principal.IsActive {
		httpx.Error(w, r, http.StatusUnauthorized, model.CodeUnauthorized, "Authentication required")
		return
	}

	identity := SessionIdentity{
		PrincipalID:     principal.ID,
		ExternalSubject: subject,
	}
	next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
}

// RequireScope enforces a capability on the authenticated identity. Unlike
// authentication failures, the missing scope is safe to name in the
// response.
func RequireScope(required string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				httpx.Error(w, r, http.StatusUnauthorized, model.CodeUnauthorized, "Authentication required")
				return
			}
			if !scope.Match(id.Scopes(), required) {
				httpx.Error(w, r, http.StatusForbidden, model.CodeInsufficientScope,
					"Missing required scope: "+required,
					map[string]string{"required_scope": required})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireResourceScope enforces an action on a specific resource instance,
// identified by a chi URL parameter. A collection-level grant
// ("resource:action") or a per-instance grant ("resource:{id}:action") both
// pass.
func RequireResourceScope(resource, urlParam, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				httpx.Error(w, r, http.StatusUnauthorized, model.CodeUnauthorized, "Authentication required")
				return
			}
			resourceID := chi.URLParam(r, urlParam)
			if !scope.MatchResource(id.Scopes(), resource, resourceID, action) {
				required := resource + ":" + action
				httpx.Error(w, r, http.StatusForbidden, model.CodeInsufficientScope,
					"Missing required scope: "+required,
					map[string]string{"required_scope": required})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
