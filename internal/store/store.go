package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/turnstiledev/turnstile/internal/model"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Store is the single source of truth for principals, API keys, and usage
// events. There is deliberately no in-process caching layer on top of it:
// revocation and expiry take effect on the very next request, at the cost of
// a store round-trip per authentication.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the credential store. SQLite with an empty DSN opens an
// in-memory database, which is what the tests and `--dev` mode use.
func Open(driver, dsn string) (*Store, error) {
	var db *sqlx.DB
	var err error

	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		if dsn == "" {
			dsn = ":memory:?_journal_mode=WAL"
		}
		db, err = sqlx.Connect("sqlite", dsn)
		if err == nil {
			db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		}
	case DriverPostgres:
		db, err = sqlx.Connect("pgx", dsn)
	case DriverMySQL:
		db, err = sqlx.Connect("mysql", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// insertID executes an INSERT written with ? placeholders and returns the
// generated row ID, papering over the LastInsertId / RETURNING split between
// engines.
func insertID(ctx context.Context, q sqlx.ExtContext, driver, query string, args ...interface{}) (int64, error) {
	if driver == DriverPostgres {
		var id int64
		if err := sqlx.GetContext(ctx, q, &id, q.Rebind(query+" RETURNING id"), args...); err != nil {
			return 0, err
		}
		return id, nil
	}
	result, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ---------------------------------------------------------------------------
// Principals
// ---------------------------------------------------------------------------

// CreatePrincipal inserts a new principal. The ID, CreatedAt, and UpdatedAt
// fields are populated after a successful insert.
func (s *Store) CreatePrincipal(ctx context.Context, p *model.Principal) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	const q = `INSERT INTO principals (external_subject, email, name, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	id, err := insertID(ctx, s.db, s.driver, q,
		p.ExternalSubject, p.Email, p.Name, p.IsActive, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert principal: %w", err)
	}
	p.ID = id
	return nil
}

// GetPrincipal returns a principal by ID.
func (s *Store) GetPrincipal(ctx context.Context, id int64) (*model.Principal, error) {
	var p model.Principal
	err := s.db.GetContext(ctx, &p, s.db.Rebind("SELECT * FROM principals WHERE id = ?"), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get principal: %w", err)
	}
	return &p, nil
}

// GetPrincipalBySubject returns a principal by its external identity-provider
// subject reference.
func (s *Store) GetPrincipalBySubject(ctx context.Context, subject string) (*model.Principal, error) {
	var p model.Principal
	err := s.db.GetContext(ctx, &p, s.db.Rebind("SELECT * FROM principals WHERE external_subject = ?"), subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get principal by subject: %w", err)
	}
	return &p, nil
}

// ListPrincipals returns all principals.
func (s *Store) ListPrincipals(ctx context.Context) ([]model.Principal, error) {
	var ps []model.Principal
	if err := s.db.SelectContext(ctx, &ps, "SELECT * FROM principals ORDER BY external_subject"); err != nil {
		return nil, fmt.Errorf("list principals: %w", err)
	}
	return ps, nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// apiKeyRow maps 1:1 to the api_keys table. Scopes are stored as a JSON
// array in scopes_json.
type apiKeyRow struct {
	ID           int64      `db:"id"`
	PrincipalID  int64      `db:"principal_id"`
	Name         string     `db:"name"`
	KeyPrefix    string     `db:"key_prefix"`
	KeyHash      string     `db:"key_hash"`
	ScopesJSON   string     `db:"scopes_json"`
	IsActive     bool       `db:"is_active"`
	RateLimitRPM *int       `db:"rate_limit_rpm"`
	LastUsedAt   *time.Time `db:"last_used_at"`
	ExpiresAt    *time.Time `db:"expires_at"`
	RevokedAt    *time.Time `db:"revoked_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

func (r apiKeyRow) toModel() (model.APIKey, error) {
	var scopes []string
	if r.ScopesJSON != "" {
		if err := json.Unmarshal([]byte(r.ScopesJSON), &scopes); err != nil {
			return model.APIKey{}, fmt.Errorf("unmarshal scopes: %w", err)
		}
	}
	return model.APIKey{
		ID:           r.ID,
		PrincipalID:  r.PrincipalID,
		Name:         r.Name,
		KeyPrefix:    r.KeyPrefix,
		KeyHash:      r.KeyHash,
		Scopes:       scopes,
		IsActive:     r.IsActive,
		RateLimitRPM: r.RateLimitRPM,
		LastUsedAt:   r.LastUsedAt,
		ExpiresAt:    r.ExpiresAt,
		RevokedAt:    r.RevokedAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

// CreateAPIKey inserts a new API key, enforcing the per-principal active-key
// quota atomically. The count and the insert run in one transaction, so two
// concurrent creations cannot both observe limit-1 active keys and slip
// through; read-committed isolation is sufficient. Returns *QuotaError when
// the principal is at the limit.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey, maxActive int) error {
	scopesJSON, err := json.Marshal(key.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}

	now := time.Now().UTC()
	key.CreatedAt = now
	key.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current int
	countQ := tx.Rebind(`SELECT COUNT(*) FROM api_keys
		WHERE principal_id = ? AND is_active = ? AND revoked_at IS NULL
		AND (expires_at IS NULL OR expires_at > ?)`)
	if err := tx.GetContext(ctx, &current, countQ, key.PrincipalID, true, now); err != nil {
		return fmt.Errorf("count active keys: %w", err)
	}
	if current >= maxActive {
		return &QuotaError{Limit: maxActive, Current: current}
	}

	const insertQ = `INSERT INTO api_keys
		(principal_id, name, key_prefix, key_hash, scopes_json, is_active,
		 rate_limit_rpm, last_used_at, expires_at, revoked_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	id, err := insertID(ctx, tx, s.driver, insertQ,
		key.PrincipalID, key.Name, key.KeyPrefix, key.KeyHash, string(scopesJSON),
		key.IsActive, key.RateLimitRPM, key.LastUsedAt, key.ExpiresAt, key.RevokedAt,
		key.CreatedAt, key.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit api key: %w", err)
	}
	key.ID = id
	return nil
}

// GetAPIKeysByPrefix returns all keys sharing a display prefix, hash
// included, for verification. The prefix index is non-unique; collisions are
// rare but expected, so callers must verify the full hash per candidate.
func (s *Store) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]model.APIKey, error) {
	var rows []apiKeyRow
	err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind("SELECT * FROM api_keys WHERE key_prefix = ?"), prefix)
	if err != nil {
		return nil, fmt.Errorf("get api keys by prefix: %w", err)
	}

	keys := make([]model.APIKey, 0, len(rows))
	for _, r := range rows {
		k, err := r.toModel()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// GetAPIKey returns one key as metadata, ownership-filtered: a key ID owned
// by another principal reports ErrNotFound. The hash is excluded from the
// projection.
func (s *Store) GetAPIKey(ctx context.Context, id, principalID int64) (*model.APIKey, error) {
	const q = `SELECT id, principal_id, name, key_prefix, scopes_json, is_active,
		rate_limit_rpm, last_used_at, expires_at, revoked_at, created_at, updated_at
		FROM api_keys WHERE id = ? AND principal_id = ?`

	var row apiKeyRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(q), id, principalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	k, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// ListAPIKeys returns a principal's keys as metadata. The key_hash column is
// excluded from the projection itself, not selected and discarded.
func (s *Store) ListAPIKeys(ctx context.Context, principalID int64) ([]model.APIKey, error) {
	const q = `SELECT id, principal_id, name, key_prefix, scopes_json, is_active,
		rate_limit_rpm, last_used_at, expires_at, revoked_at, created_at, updated_at
		FROM api_keys WHERE principal_id = ? ORDER BY created_at DESC`

	var rows []apiKeyRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), principalID); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}

	keys := make([]model.APIKey, 0, len(rows))
	for _, r := range rows {
		k, err := r.toModel()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// RevokeAPIKey deactivates a key and stamps revoked_at. Ownership is part of
// the UPDATE predicate: a key ID belonging to another principal affects zero
// rows and reports ErrNotFound, indistinguishable from a missing key.
func (s *Store) RevokeAPIKey(ctx context.Context, id, principalID int64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE api_keys SET is_active = ?, revoked_at = ?, updated_at = ?
			WHERE id = ? AND principal_id = ?`),
		false, now, now, id, principalID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAPIKeyLastUsed sets last_used_at to now. Callers run this from a
// detached task; failures must never reach the request path.
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE api_keys SET last_used_at = ? WHERE id = ?"),
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch api key last used: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Usage events
// ---------------------------------------------------------------------------

// InsertUsageEvent appends one usage event. Events are immutable once
// written; retention is an external concern.
func (s *Store) InsertUsageEvent(ctx context.Context, e *model.UsageEvent) error {
	const q = `INSERT INTO usage_events
		(api_key_id, path, method, status_code, duration_ms, client_addr, requested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	id, err := insertID(ctx, s.db, s.driver, q,
		e.APIKeyID, e.Path, e.Method, e.StatusCode, e.DurationMs, e.ClientAddr, e.RequestedAt)
	if err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	e.ID = id
	return nil
}

// CountUsageEventsSince counts a key's usage events with a request timestamp
// after the given instant. This is the rate limiter's sliding-window count.
func (s *Store) CountUsageEventsSince(ctx context.Context, keyID int64, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		s.db.Rebind("SELECT COUNT(*) FROM usage_events WHERE api_key_id = ? AND requested_at > ?"),
		keyID, since)
	if err != nil {
		return 0, fmt.Errorf("count usage events: %w", err)
	}
	return count, nil
}

// GetUsageStats summarizes recorded traffic for one key.
func (s *Store) GetUsageStats(ctx context.Context, keyID int64) (*model.UsageStats, error) {
	var stats model.UsageStats

	err := s.db.GetContext(ctx, &stats.TotalRequests,
		s.db.Rebind("SELECT COUNT(*) FROM usage_events WHERE api_key_id = ?"), keyID)
	if err != nil {
		return nil, fmt.Errorf("count total usage: %w", err)
	}

	err = s.db.GetContext(ctx, &stats.ErrorRequests,
		s.db.Rebind("SELECT COUNT(*) FROM usage_events WHERE api_key_id = ? AND status_code >= 400"), keyID)
	if err != nil {
		return nil, fmt.Errorf("count error usage: %w", err)
	}

	dayAgo := time.Now().UTC().Add(-24 * time.Hour)
	err = s.db.GetContext(ctx, &stats.Last24h,
		s.db.Rebind("SELECT COUNT(*) FROM usage_events WHERE api_key_id = ? AND requested_at > ?"),
		keyID, dayAgo)
	if err != nil {
		return nil, fmt.Errorf("count recent usage: %w", err)
	}

	var last sql.NullTime
	err = s.db.GetContext(ctx, &last,
		s.db.Rebind("SELECT MAX(requested_at) FROM usage_events WHERE api_key_id = ?"), keyID)
	if err != nil {
		return nil, fmt.Errorf("last usage timestamp: %w", err)
	}
	if last.Valid {
		stats.LastRequestAt = &last.Time
	}
	return &stats, nil
}
