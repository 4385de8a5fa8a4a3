package model

import "time"

// APIKey is a long-lived bearer credential issued to a principal. The raw
// key exists only once, in the create response; only an Argon2id hash and a
// short display prefix are persisted.
type APIKey struct {
	ID           int64      `json:"id" db:"id"`
	PrincipalID  int64      `json:"principal_id" db:"principal_id"`
	Name         string     `json:"name" db:"name"`
	KeyPrefix    string     `json:"key_prefix" db:"key_prefix"` // First 8 hex chars, for indexed lookup
	KeyHash      string     `json:"-" db:"key_hash"`            // Argon2id PHC string, never expose
	Scopes       []string   `json:"scopes" db:"-"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	RateLimitRPM *int       `json:"rate_limit_rpm,omitempty" db:"rate_limit_rpm"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Usable reports whether the key can authenticate requests right now.
func (k *APIKey) Usable(now time.Time) bool {
	if !k.IsActive || k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
		return false
	}
	return true
}

// Principal is an account (human or automation) that owns API keys. The
// external subject is the identity-provider reference asserted by delegated
// browser sessions.
type Principal struct {
	ID              int64     `json:"id" db:"id"`
	ExternalSubject string    `json:"external_subject" db:"external_subject"`
	Email           string    `json:"email" db:"email"`
	Name            string    `json:"name" db:"name"`
	IsActive        bool      `json:"is_active" db:"is_active"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// UsageEvent is one append-only record per completed credential request. It
// doubles as the rate limiter's sliding-window ledger; rows are never updated
// or deleted by this service.
type UsageEvent struct {
	ID          int64     `json:"id" db:"id"`
	APIKeyID    int64     `json:"api_key_id" db:"api_key_id"`
	Path        string    `json:"path" db:"path"`
	Method      string    `json:"method" db:"method"`
	StatusCode  int       `json:"status_code" db:"status_code"`
	DurationMs  int64     `json:"duration_ms" db:"duration_ms"`
	ClientAddr  string    `json:"client_addr" db:"client_addr"`
	RequestedAt time.Time `json:"requested_at" db:"requested_at"`
}

// UsageStats summarizes a key's recorded traffic for the usage endpoint.
type UsageStats struct {
	TotalRequests int64      `json:"total_requests" db:"total_requests"`
	ErrorRequests int64      `json:"error_requests" db:"error_requests"`
	Last24h       int64      `json:"last_24h" db:"last_24h"`
	LastRequestAt *time.Time `json:"last_request_at,omitempty" db:"last_request_at"`
}
