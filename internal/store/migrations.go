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
		Description: "nodes: knowledge graph nodes",
		SQL: `
CREATE TABLE nodes (
    id             TEXT PRIMARY KEY,
    label          TEXT NOT NULL,
    node_type      TEXT NOT NULL CHECK (node_type IN ('concept', 'entity', 'process', 'resource', 'wisdom', 'knowledge', 'information', 'raw_data')),
    category       TEXT NOT NULL DEFAULT 'ephemeral' CHECK (category IN ('static', 'ephemeral')),

    -- Layout (advisory only)
    x              REAL NOT NULL DEFAULT 0,
    y              REAL NOT NULL DEFAULT 0,
    z_index        INTEGER NOT NULL DEFAULT 0,

    -- Importance
    mass           REAL NOT NULL DEFAULT 1.0 CHECK (mass >= 1.0 AND mass <= 100.0),

    -- Retrieval
    signature      TEXT NOT NULL DEFAULT '',
    cluster_id     TEXT,
    description    TEXT NOT NULL DEFAULT '',
    metadata       TEXT NOT NULL DEFAULT '{}',

    -- Merge tombstone: set once, never cleared
    redirected_to  TEXT REFERENCES nodes(id),

    -- Access tracking + decay
    last_accessed  INTEGER NOT NULL,
    access_count   INTEGER NOT NULL DEFAULT 0,
    last_decay_at  TEXT,

    -- Optimistic concurrency fingerprint
    version        INTEGER NOT NULL DEFAULT 1,

    created_at     INTEGER NOT NULL
);

CREATE INDEX idx_nodes_label    ON nodes(label);
CREATE INDEX idx_nodes_mass     ON nodes(mass DESC);
CREATE INDEX idx_nodes_accessed ON nodes(last_accessed ASC);
CREATE INDEX idx_nodes_redirect ON nodes(redirected_to);
`,
	},
	{
		Version:     2,
		Description: "links: directed weighted relationships",
		SQL: `
CREATE TABLE links (
    id              TEXT PRIMARY KEY,
    source_id       TEXT NOT NULL REFERENCES nodes(id),
    target_id       TEXT NOT NULL REFERENCES nodes(id),
    strength        REAL NOT NULL CHECK (strength >= 0.0 AND strength <= 1.0),
    link_type       TEXT NOT NULL DEFAULT 'semantic' CHECK (link_type IN ('semantic', 'causal', 'temporal', 'hierarchical')),
    weight          REAL NOT NULL DEFAULT 0,
    last_traversed  INTEGER NOT NULL,
    traversal_count INTEGER NOT NULL DEFAULT 0,
    created_at      INTEGER NOT NULL,

    CHECK (source_id <> target_id)
);

CREATE INDEX idx_links_source ON links(source_id);
CREATE INDEX idx_links_target ON links(target_id);
CREATE UNIQUE INDEX idx_links_pair ON links(source_id, target_id);
`,
	},
	{
		Version:     3,
		Description: "mutation_log: append-only audit trail",
		SQL: `
CREATE TABLE mutation_log (
    id           TEXT PRIMARY KEY,
    action       TEXT NOT NULL,
    target_id    TEXT,
    source_id    TEXT,
    params       TEXT NOT NULL DEFAULT '{}',
    reason       TEXT,
    triggered_by TEXT,
    session_id   TEXT,
    success      INTEGER NOT NULL,
    error        TEXT,
    created_at   INTEGER NOT NULL
);

CREATE INDEX idx_mutlog_created ON mutation_log(created_at, id);
CREATE INDEX idx_mutlog_target  ON mutation_log(target_id);
`,
	},
	{
		Version:     4,
		Description: "force_fields: cluster attractors for layout",
		SQL: `
CREATE TABLE force_fields (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    x          REAL NOT NULL DEFAULT 0,
    y          REAL NOT NULL DEFAULT 0,
    radius     REAL NOT NULL DEFAULT 0,
    strength   REAL NOT NULL DEFAULT 0,
    signature  TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
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
