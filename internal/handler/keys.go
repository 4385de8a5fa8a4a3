// Package handler exposes the key management API. Handlers translate the
// key service's typed errors into wire responses; they never construct
// business logic of their own.
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/turnstiledev/turnstile/internal/auth"
	"github.com/turnstiledev/turnstile/internal/httpx"
	"github.com/turnstiledev/turnstile/internal/keys"
	"github.com/turnstiledev/turnstile/internal/model"
	"github.com/turnstiledev/turnstile/internal/store"
)

// KeyHandler serves the /api/v1/keys endpoints.
type KeyHandler struct {
	keys   *keys.Service
	store  *store.Store
	logger *slog.Logger
}

// NewKeyHandler creates a KeyHandler.
func NewKeyHandler(keySvc *keys.Service, st *store.Store, logger *slog.Logger) *KeyHandler {
	return &KeyHandler{keys: keySvc, store: st, logger: logger}
}

// createKeyRequest is the expected payload for CreateKey.
type createKeyRequest struct {
	Name         string     `json:"name"`
	Scopes       []string   `json:"scopes"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	RateLimitRPM *int       `json:"rate_limit_rpm,omitempty"`
}

// CreateKey issues a new API key for the authenticated principal. The raw
// key appears in this response and nowhere else, ever.
// POST /api/v1/keys
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}

	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		httpx.Error(w, r, http.StatusBadRequest, model.CodeValidation, "Invalid request body: "+err.Error())
		return
	}

	generated, err := h.keys.Generate(r.Context(), keys.GenerateInput{
		PrincipalID:  identity.Principal(),
		Name:         req.Name,
		Scopes:       req.Scopes,
		ExpiresAt:    req.ExpiresAt,
		RateLimitRPM: req.RateLimitRPM,
	})
	if err != nil {
		var ve *keys.ValidationError
		if errors.As(err, &ve) {
			httpx.Error(w, r, http.StatusBadRequest, model.CodeValidation, ve.Error(),
				map[string]string{"field": ve.Field})
			return
		}
		var qe *keys.QuotaError
		if errors.As(err, &qe) {
			httpx.Error(w, r, http.StatusUnprocessableEntity, model.CodeQuotaExceeded, qe.Error(),
				map[string]int{"limit": qe.Limit, "current": qe.Current})
			return
		}
		h.logger.Error("key generation failed", "error", err, "principal_id", identity.Principal())
		httpx.Internal(w, r)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, generated)
}

// ListKeys returns the authenticated principal's keys as metadata.
// GET /api/v1/keys
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}

	list, err := h.keys.List(r.Context(), identity.Principal())
	if err != nil {
		h.logger.Error("key listing failed", "error", err, "principal_id", identity.Principal())
		httpx.Internal(w, r)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"keys": list})
}

// RevokeKey permanently deactivates one of the principal's keys.
// DELETE /api/v1/keys/{keyID}
func (h *KeyHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}

	keyID, valid := urlParamID(r, "keyID")
	if !valid {
		httpx.Error(w, r, http.StatusBadRequest, model.CodeValidation, "Invalid key id")
		return
	}

	if err := h.keys.Revoke(r.Context(), keyID, identity.Principal()); err != nil {
		if errors.Is(err, keys.ErrNotFound) {
			httpx.Error(w, r, http.StatusNotFound, model.CodeNotFound, "API key not found")
			return
		}
		h.logger.Error("key revocation failed", "error", err, "key_id", keyID)
		httpx.Internal(w, r)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// KeyUsage returns recorded traffic statistics for one owned key.
// GET /api/v1/keys/{keyID}/usage
func (h *KeyHandler) KeyUsage(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}

	keyID, valid := urlParamID(r, "keyID")
	if !valid {
		httpx.Error(w, r, http.StatusBadRequest, model.CodeValidation, "Invalid key id")
		return
	}

	if _, err := h.keys.Get(r.Context(), keyID, identity.Principal()); err != nil {
		if errors.Is(err, keys.ErrNotFound) {
			httpx.Error(w, r, http.StatusNotFound, model.CodeNotFound, "API key not found")
			return
		}
		h.logger.Error("key lookup failed", "error", err, "key_id", keyID)
		httpx.Internal(w, r)
		return
	}

	stats, err := h.store.GetUsageStats(r.Context(), keyID)
	if err != nil {
		h.logger.Error("usage stats failed", "error", err, "key_id", keyID)
		httpx.Internal(w, r)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, stats)
}

// Me echoes the authenticated identity: principal, subject, authentication
// kind, and effective scopes.
// GET /api/v1/me
func (h *KeyHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}

	authType := "delegated-session"
	var keyID *int64
	if cred, ok := identity.(auth.CredentialIdentity); ok {
		authType = "credential"
		keyID = &cred.KeyID
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"principal_id": identity.Principal(),
		"subject":      identity.Subject(),
		"auth_type":    authType,
		"scopes":       identity.Scopes(),
		"key_id":       keyID,
	})
}
