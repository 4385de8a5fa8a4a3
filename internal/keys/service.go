// Package keys implements the API key lifecycle: generation, validation,
// revocation, and listing. All public operations return typed errors so
// callers handle each failure kind explicitly.
package keys

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/turnstiledev/turnstile/internal/background"
	"github.com/turnstiledev/turnstile/internal/model"
	"github.com/turnstiledev/turnstile/internal/store"
)

const (
	// RawKeyPrefix is the fixed literal prepended to every raw key.
	RawKeyPrefix = "sk-"

	// rawKeyBytes is the amount of random material per key: 256 bits,
	// hex-encoded to 64 characters.
	rawKeyBytes = 32

	// displayPrefixLen is how many hex characters are stored in the clear
	// for indexed lookup. Never enough to reconstruct the secret.
	displayPrefixLen = 8

	// MaxActiveKeys is the per-principal issuance quota, enforced
	// atomically with the insert.
	MaxActiveKeys = 10

	// MaxNameLen bounds the human-readable key name after trimming.
	MaxNameLen = 100
)

// rawKeyPattern gates Validate before any store access. Rejection is
// constant-shape: no malformed input learns how close it was to valid.
var rawKeyPattern = regexp.MustCompile(`^sk-[0-9a-f]{64}$`)

// Service issues and verifies API keys against the credential store.
type Service struct {
	store  *store.Store
	params HashParams
	logger *slog.Logger
}

// NewService creates a key service. Pass DefaultHashParams() outside of
// tests.
func NewService(st *store.Store, logger *slog.Logger, params HashParams) *Service {
	return &Service{store: st, params: params, logger: logger}
}

// Generated is the one-time response to key creation. RawKey is never
// persisted, logged, or derivable again; surface it to the principal
// immediately.
type Generated struct {
	KeyID     int64      `json:"id"`
	RawKey    string     `json:"api_key"`
	KeyPrefix string     `json:"key_prefix"`
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// GenerateInput are the key creation parameters. RateLimitRPM overrides the
// service-wide default throughput for this one credential.
type GenerateInput struct {
	PrincipalID  int64
	Name         string
	Scopes       []string
	ExpiresAt    *time.Time
	RateLimitRPM *int
}

// Generate creates a new API key for a principal. Inputs are validated
// before any store access; the active-key quota is enforced inside the
// insert transaction. Returns *ValidationError, *QuotaError, or an
// infrastructure error.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (*Generated, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if len(name) > MaxNameLen {
		return nil, &ValidationError{Field: "name", Message: fmt.Sprintf("must be at most %d characters", MaxNameLen)}
	}

	cleaned, err := normalizeScopes(in.Scopes)
	if err != nil {
		return nil, err
	}

	randomBytes := make([]byte, rawKeyBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("generate key material: %w", err)
	}
	randomHex := hex.EncodeToString(randomBytes)
	rawKey := RawKeyPrefix + randomHex

	keyHash, err := hashKey(rawKey, s.params)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}

	key := &model.APIKey{
		PrincipalID:  in.PrincipalID,
		Name:         name,
		KeyPrefix:    randomHex[:displayPrefixLen],
		KeyHash:      keyHash,
		Scopes:       cleaned,
		IsActive:     true,
		RateLimitRPM: in.RateLimitRPM,
		ExpiresAt:    in.ExpiresAt,
	}

	if err := s.store.CreateAPIKey(ctx, key, MaxActiveKeys); err != nil {
		var qe *store.QuotaError
		if errors.As(err, &qe) {
			return nil, &QuotaError{Limit: qe.Limit, Current: qe.Current}
		}
		return nil, fmt.Errorf("create api key: %w", err)
	}

	return &Generated{
		KeyID:     key.ID,
		RawKey:    rawKey,
		KeyPrefix: key.KeyPrefix,
		Name:      key.Name,
		Scopes:    key.Scopes,
		ExpiresAt: key.ExpiresAt,
	}, nil
}

// normalizeScopes trims, deduplicates (order-preserving), and validates the
// scope set.
func normalizeScopes(scopes []string) ([]string, error) {
	if len(scopes) == 0 {
		return nil, &ValidationError{Field: "scopes", Message: "at least one scope is required"}
	}

	seen := make(map[string]struct{}, len(scopes))
	cleaned := make([]string, 0, len(scopes))
	for _, sc := range scopes {
		sc = strings.TrimSpace(sc)
		if sc == "" {
			return nil, &ValidationError{Field: "scopes", Message: "scopes must not be empty strings"}
		}
		if sc == ":*" {
			return nil, &ValidationError{Field: "scopes", Message: `":*" is not a valid scope`}
		}
		if _, dup := seen[sc]; dup {
			continue
		}
		seen[sc] = struct{}{}
		cleaned = append(cleaned, sc)
	}
	return cleaned, nil
}

// Validate authenticates a raw key and returns the matching credential, or
// ErrInvalidKey. The display prefix narrows the candidate set via a
// non-unique index; each candidate's Argon2id hash is verified with a
// constant-time compare. Once a hash matches, the key's status decides the
// outcome terminally: a matched-but-revoked key is not shadowed by an
// unrelated prefix collision. On success the last-used timestamp is touched
// from a detached task.
func (s *Service) Validate(ctx context.Context, rawKey string) (*model.APIKey, error) {
	if !rawKeyPattern.MatchString(rawKey) {
		return nil, ErrInvalidKey
	}
	prefix := rawKey[len(RawKeyPrefix) : len(RawKeyPrefix)+displayPrefixLen]

	candidates, err := s.store.GetAPIKeysByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("lookup key candidates: %w", err)
	}

	now := time.Now()
	for i := range candidates {
		key := candidates[i]

		ok, err := verifyKey(rawKey, key.KeyHash)
		if err != nil {
			s.logger.Warn("skipping api key with unreadable hash", "key_id", key.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}

		// Hash matched: status checks are terminal from here on.
		if !key.IsActive {
			return nil, ErrInvalidKey
		}
		if key.RevokedAt != nil {
			return nil, ErrInvalidKey
		}
		if key.ExpiresAt != nil && !key.ExpiresAt.After(now) {
			return nil, ErrInvalidKey
		}

		background.Go(s.logger, "touch_key_last_used", func(ctx context.Context) error {
			return s.store.TouchAPIKeyLastUsed(ctx, key.ID)
		})
		return &key, nil
	}
	return nil, ErrInvalidKey
}

// Revoke deactivates a key owned by the given principal. The transition is
// one-way; the row is never deleted. Returns ErrNotFound when the key does
// not exist or belongs to someone else.
func (s *Service) Revoke(ctx context.Context, keyID, principalID int64) error {
	if err := s.store.RevokeAPIKey(ctx, keyID, principalID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("revoke api key: %w", err)
	}
	return nil
}

// List returns a principal's keys as metadata; the secret hash is excluded
// at the query level.
func (s *Service) List(ctx context.Context, principalID int64) ([]model.APIKey, error) {
	return s.store.ListAPIKeys(ctx, principalID)
}

// Get returns one owned key as metadata, or ErrNotFound.
func (s *Service) Get(ctx context.Context, keyID, principalID int64) (*model.APIKey, error) {
	key, err := s.store.GetAPIKey(ctx, keyID, principalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return key, nil
}
