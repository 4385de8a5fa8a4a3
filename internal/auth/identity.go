package auth

import (
	"context"

	"github.com/turnstiledev/turnstile/internal/scope"
)

// Identity is the normalized authorization context produced once per
// request. It is a closed union with exactly two shapes: SessionIdentity
// and CredentialIdentity. Rate limiting and scope exemption switch
// exhaustively over the concrete type instead of inspecting a kind string.
type Identity interface {
	// Principal returns the owning account's ID.
	Principal() int64
	// Subject returns the external identity-provider subject reference.
	Subject() string
	// Scopes returns the granted capability set.
	Scopes() []string

	sealed()
}

// SessionIdentity is a delegated browser session. Sessions carry the global
// wildcard scope and are exempt from per-credential rate limiting.
type SessionIdentity struct {
	PrincipalID     int64
	ExternalSubject string
}

func (SessionIdentity) sealed() {}

func (i SessionIdentity) Principal() int64 { return i.PrincipalID }
func (i SessionIdentity) Subject() string  { return i.ExternalSubject }
func (i SessionIdentity) Scopes() []string { return []string{scope.Wildcard} }

// CredentialIdentity is an authenticated API key. It carries the key's
// scope set plus the key ID for rate limiting and usage recording.
type CredentialIdentity struct {
	PrincipalID     int64
	ExternalSubject string
	KeyID           int64
	KeyScopes       []string
	RateLimitRPM    *int
}

func (CredentialIdentity) sealed() {}

func (i CredentialIdentity) Principal() int64 { return i.PrincipalID }
func (i CredentialIdentity) Subject() string  { return i.ExternalSubject }
func (i CredentialIdentity) Scopes() []string { return i.KeyScopes }

type contextKey string

const identityKey contextKey = "turnstile_identity"

// WithIdentity attaches the request identity to the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext retrieves the request identity, if any. Handlers behind
// Authenticate can rely on it being present.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id != nil
}
