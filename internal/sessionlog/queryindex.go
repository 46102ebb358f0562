package sessionlog

import (
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// QueryIndex is a derived, rebuildable SQLite index over session
// metadata, using github.com/ncruces/go-sqlite3 as a query layer over
// what is conceptually an append log. It can always be rebuilt from the
// JSONL files and index.json; it is cache, not a second source of
// truth, so its schema carries no migration story.
type QueryIndex struct {
	db *sql.DB
}

// OpenQueryIndex opens (creating if absent) the sqlite file at path and
// ensures its schema exists.
func OpenQueryIndex(path string) (*QueryIndex, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: open query index: %w", err)
	}
	q := &QueryIndex{db: db}
	if err := q.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

func (q *QueryIndex) ensureSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			feature_id TEXT,
			agent_kind TEXT NOT NULL,
			outcome TEXT,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			turns INTEGER NOT NULL DEFAULT 0,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			archived INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_feature ON sessions(feature_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_outcome ON sessions(outcome);
		CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
	`)
	if err != nil {
		return fmt.Errorf("sessionlog: ensure schema: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the row for one IndexEntry.
func (q *QueryIndex) Upsert(e IndexEntry) error {
	_, err := q.db.Exec(`
		INSERT INTO sessions (id, feature_id, agent_kind, outcome, started_at, ended_at,
			turns, input_tokens, output_tokens, cost_usd, size_bytes, archived)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			feature_id=excluded.feature_id, agent_kind=excluded.agent_kind,
			outcome=excluded.outcome, started_at=excluded.started_at, ended_at=excluded.ended_at,
			turns=excluded.turns, input_tokens=excluded.input_tokens, output_tokens=excluded.output_tokens,
			cost_usd=excluded.cost_usd, size_bytes=excluded.size_bytes, archived=excluded.archived
	`, e.ID, e.FeatureID, string(e.AgentKind), string(e.Outcome), e.StartedAt, e.EndedAt,
		e.Turns, e.Usage.InputTokens, e.Usage.OutputTokens, e.CostUSD, e.SizeBytes, e.Archived)
	if err != nil {
		return fmt.Errorf("sessionlog: upsert query index: %w", err)
	}
	return nil
}

// Rebuild truncates and repopulates the query index from the canonical
// in-memory index.json entries, the recovery path when the sqlite file is
// lost or corrupted.
func (q *QueryIndex) Rebuild(entries []IndexEntry) error {
	tx, err := q.db.Begin()
	if err != nil {
		return fmt.Errorf("sessionlog: rebuild begin: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions`); err != nil {
		tx.Rollback()
		return fmt.Errorf("sessionlog: rebuild delete: %w", err)
	}
	for _, e := range entries {
		if _, err := tx.Exec(`
			INSERT INTO sessions (id, feature_id, agent_kind, outcome, started_at, ended_at,
				turns, input_tokens, output_tokens, cost_usd, size_bytes, archived)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, e.FeatureID, string(e.AgentKind), string(e.Outcome), e.StartedAt, e.EndedAt,
			e.Turns, e.Usage.InputTokens, e.Usage.OutputTokens, e.CostUSD, e.SizeBytes, e.Archived); err != nil {
			tx.Rollback()
			return fmt.Errorf("sessionlog: rebuild insert: %w", err)
		}
	}
	return tx.Commit()
}

// CountByFeature returns the count of session rows for featureID, used by
// paginated Telemetry API queries that would otherwise linearly scan
// index.json.
func (q *QueryIndex) CountByFeature(featureID string) (int, error) {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE feature_id = ?`, featureID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sessionlog: count by feature: %w", err)
	}
	return n, nil
}

// Close closes the underlying database handle.
func (q *QueryIndex) Close() error {
	return q.db.Close()
}
