package store

import (
	"fmt"
	"strings"
)

// migrate creates the schema. DDL is kept portable across the three
// supported engines; the few dialect differences (auto-increment keys,
// timestamp types) are substituted per driver.
func (s *Store) migrate() error {
	var pk, ts string
	switch s.driver {
	case DriverPostgres:
		pk = "BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY"
		ts = "TIMESTAMPTZ"
	case DriverMySQL:
		pk = "BIGINT AUTO_INCREMENT PRIMARY KEY"
		ts = "DATETIME(6)"
	default:
		pk = "INTEGER PRIMARY KEY AUTOINCREMENT"
		ts = "DATETIME"
	}

	migrations := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS principals (
			id %s,
			external_subject VARCHAR(255) UNIQUE NOT NULL,
			email VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			is_active BOOLEAN NOT NULL,
			created_at %s NOT NULL,
			updated_at %s NOT NULL
		)`, pk, ts, ts),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS api_keys (
			id %s,
			principal_id BIGINT NOT NULL,
			name VARCHAR(100) NOT NULL,
			key_prefix VARCHAR(8) NOT NULL,
			key_hash VARCHAR(255) NOT NULL,
			scopes_json TEXT NOT NULL,
			is_active BOOLEAN NOT NULL,
			rate_limit_rpm INTEGER,
			last_used_at %s,
			expires_at %s,
			revoked_at %s,
			created_at %s NOT NULL,
			updated_at %s NOT NULL
		)`, pk, ts, ts, ts, ts, ts),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS usage_events (
			id %s,
			api_key_id BIGINT NOT NULL,
			path VARCHAR(512) NOT NULL,
			method VARCHAR(10) NOT NULL,
			status_code INTEGER NOT NULL,
			duration_ms BIGINT NOT NULL,
			client_addr VARCHAR(45) NOT NULL,
			requested_at %s NOT NULL
		)`, pk, ts),

		// key_prefix is deliberately NON-unique: 8 hex chars can collide,
		// validation scans all candidates sharing a prefix.
		`CREATE INDEX idx_api_keys_prefix ON api_keys (key_prefix)`,
		`CREATE INDEX idx_api_keys_principal ON api_keys (principal_id)`,
		`CREATE INDEX idx_usage_events_key_time ON usage_events (api_key_id, requested_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// MySQL has no CREATE INDEX IF NOT EXISTS; treat an existing
			// index as a no-op so migrations stay idempotent.
			lower := strings.ToLower(err.Error())
			if strings.Contains(lower, "duplicate key name") ||
				strings.Contains(lower, "already exists") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
