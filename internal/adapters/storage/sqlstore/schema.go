package sqlstore

import (
	"context"
	"fmt"
)

// Migrate creates the ledger tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS actors (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			role TEXT NOT NULL,
			company TEXT NOT NULL,
			license TEXT NOT NULL DEFAULT '',
			registered_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			code TEXT,
			status TEXT NOT NULL,
			version BIGINT NOT NULL,
			owner_id TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_records_code ON records(code)`,
		`CREATE INDEX IF NOT EXISTS idx_records_kind_status ON records(kind, status, created_at)`,
		`CREATE TABLE IF NOT EXISTS record_parents (
			record_id TEXT NOT NULL REFERENCES records(id),
			parent_id TEXT NOT NULL REFERENCES records(id),
			position INTEGER NOT NULL,
			PRIMARY KEY (record_id, parent_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_record_parents_parent ON record_parents(parent_id)`,
		`CREATE TABLE IF NOT EXISTS code_counters (
			prefix TEXT NOT NULL,
			year INTEGER NOT NULL,
			value BIGINT NOT NULL,
			PRIMARY KEY (prefix, year)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS change_events (
			id %s,
			record_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			operation TEXT NOT NULL,
			intent TEXT NOT NULL,
			from_status TEXT NOT NULL DEFAULT '',
			to_status TEXT NOT NULL,
			version BIGINT NOT NULL,
			actor_id TEXT NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			occurred_at TEXT NOT NULL
		)`, s.dialect.EventIDColumn),
		`CREATE INDEX IF NOT EXISTS idx_change_events_record ON change_events(record_id, id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.Name, err)
		}
	}
	return nil
}
