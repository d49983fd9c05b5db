package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "constitutions: versioned, immutable rule sets",
		SQL: `
CREATE TABLE constitutions (
    version    INTEGER PRIMARY KEY,
    rules      TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "receipts: archive of receipts evicted from the ledger window",
		SQL: `
CREATE TABLE receipts (
    id                   INTEGER PRIMARY KEY,
    receipt_id           TEXT NOT NULL UNIQUE,
    event_id             TEXT NOT NULL,
    actor                TEXT,
    claim_text           TEXT,
    constitution_version INTEGER NOT NULL,
    findings             TEXT NOT NULL,
    weight               REAL NOT NULL,
    created_at           INTEGER NOT NULL,
    archived_at          INTEGER NOT NULL
);

CREATE INDEX idx_receipts_created ON receipts(created_at);
`,
	},
	{
		Version:     3,
		Description: "summaries: period-bucketed long-term memory",
		SQL: `
CREATE TABLE summaries (
    period_start INTEGER PRIMARY KEY,
    period_end   INTEGER NOT NULL,
    findings     TEXT NOT NULL,
    entry_count  INTEGER NOT NULL DEFAULT 0,
    closed       INTEGER NOT NULL DEFAULT 0,
    digest       TEXT
);
`,
	},
	{
		Version:     4,
		Description: "vibe_points: tension observations over time",
		SQL: `
CREATE TABLE vibe_points (
    id     INTEGER PRIMARY KEY,
    ts     INTEGER NOT NULL,
    score  REAL NOT NULL,
    level  TEXT NOT NULL,
    notify INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_vibe_ts ON vibe_points(ts);
`,
	},
}

// migrate runs pending migrations inside a schema_versions guard table.
func (db *DB) migrate() error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  INTEGER NOT NULL DEFAULT (unixepoch())
		)
	`); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	current, err := db.SchemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_versions (version, description) VALUES (?, ?)`,
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func (db *DB) SchemaVersion() (int, error) {
	var v int
	err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_versions`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("schema version: %w", err)
	}
	return v, nil
}
