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
		Description: "memory_nodes: remembered facts, preferences, thoughts and summaries",
		SQL: `
CREATE TABLE memory_nodes (
    id             TEXT PRIMARY KEY,
    owner_id       TEXT NOT NULL DEFAULT '',
    content        TEXT NOT NULL,
    summary        TEXT,
    category       TEXT NOT NULL,
    importance     REAL NOT NULL DEFAULT 0.5 CHECK (importance >= 0.0 AND importance <= 1.0),
    confidence     REAL NOT NULL DEFAULT 1.0,

    created_at     INTEGER NOT NULL,
    last_accessed  INTEGER,
    access_count   INTEGER NOT NULL DEFAULT 0,

    -- Provenance
    source_type    TEXT,
    source_ref     TEXT,
    source_range   TEXT,

    -- Lifecycle
    is_active      INTEGER NOT NULL DEFAULT 1,
    superseded_by  TEXT
);

CREATE INDEX idx_nodes_owner_active ON memory_nodes(owner_id, is_active);
CREATE INDEX idx_nodes_category     ON memory_nodes(category);
CREATE INDEX idx_nodes_importance   ON memory_nodes(importance DESC, created_at DESC);
`,
	},
	{
		Version:     2,
		Description: "memory_relationships: directed typed edges",
		SQL: `
CREATE TABLE memory_relationships (
    id          TEXT PRIMARY KEY,
    source_id   TEXT NOT NULL,
    target_id   TEXT NOT NULL,
    type        TEXT NOT NULL,
    strength    REAL NOT NULL DEFAULT 1.0,
    context     TEXT,
    created_at  INTEGER NOT NULL,

    FOREIGN KEY (source_id) REFERENCES memory_nodes(id) ON DELETE CASCADE,
    FOREIGN KEY (target_id) REFERENCES memory_nodes(id) ON DELETE CASCADE
);

CREATE INDEX idx_rel_source ON memory_relationships(source_id, type);
CREATE INDEX idx_rel_target ON memory_relationships(target_id, type);
`,
	},
	{
		Version:     3,
		Description: "memory_tags: many-to-many labels",
		SQL: `
CREATE TABLE memory_tags (
    id          TEXT PRIMARY KEY,
    memory_id   TEXT NOT NULL,
    tag         TEXT NOT NULL,
    created_at  INTEGER NOT NULL,

    UNIQUE (memory_id, tag),
    FOREIGN KEY (memory_id) REFERENCES memory_nodes(id) ON DELETE CASCADE
);

CREATE INDEX idx_tags_tag ON memory_tags(tag);
`,
	},
	{
		Version:     4,
		Description: "consolidation_log: append-only audit of lifecycle changes",
		SQL: `
CREATE TABLE consolidation_log (
    id            TEXT PRIMARY KEY,
    owner_id      TEXT NOT NULL DEFAULT '',
    action        TEXT NOT NULL,
    affected_ids  TEXT NOT NULL,
    details       TEXT,
    created_at    INTEGER NOT NULL
);

CREATE INDEX idx_log_owner_created ON consolidation_log(owner_id, created_at DESC);

CREATE TRIGGER consolidation_log_no_update BEFORE UPDATE ON consolidation_log
BEGIN
    SELECT RAISE(ABORT, 'consolidation_log is append-only');
END;

CREATE TRIGGER consolidation_log_no_delete BEFORE DELETE ON consolidation_log
BEGIN
    SELECT RAISE(ABORT, 'consolidation_log is append-only');
END;
`,
	},
	{
		Version:     5,
		Description: "pack_metadata: key-value pairs describing a pack",
		SQL: `
CREATE TABLE pack_metadata (
    key    TEXT PRIMARY KEY,
    value  TEXT NOT NULL
);
`,
	},
	{
		Version:     6,
		Description: "jobs: deferred multi-step work",
		SQL: `
CREATE TABLE jobs (
    id            TEXT PRIMARY KEY,
    type          TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
    payload       TEXT,
    result        TEXT,
    progress      INTEGER NOT NULL DEFAULT 0,
    total_steps   INTEGER NOT NULL DEFAULT 0,
    error         TEXT,
    created_at    INTEGER NOT NULL,
    started_at    INTEGER,
    completed_at  INTEGER
);

CREATE INDEX idx_jobs_status ON jobs(status, created_at);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
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
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
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

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
