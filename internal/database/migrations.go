package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    label TEXT NOT NULL,
    entity_count INTEGER NOT NULL,
    group_count INTEGER NOT NULL,
    merge_count INTEGER DEFAULT 0,
    noise_threshold INTEGER NOT NULL,
    min_groups INTEGER NOT NULL,
    report_markdown TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_groups (
    run_id TEXT NOT NULL REFERENCES runs(id),
    group_index INTEGER NOT NULL,
    size INTEGER NOT NULL,
    democrats INTEGER DEFAULT 0,
    republicans INTEGER DEFAULT 0,
    others INTEGER DEFAULT 0,
    regions TEXT,
    PRIMARY KEY (run_id, group_index)
);

CREATE TABLE IF NOT EXISTS group_members (
    run_id TEXT NOT NULL REFERENCES runs(id),
    group_index INTEGER NOT NULL,
    entity_index INTEGER NOT NULL,
    name TEXT,
    PRIMARY KEY (run_id, entity_index)
);

CREATE INDEX IF NOT EXISTS idx_group_members_group ON group_members(run_id, group_index);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "group distances",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS group_distances (
    run_id TEXT NOT NULL REFERENCES runs(id),
    group_a INTEGER NOT NULL,
    group_b INTEGER NOT NULL,
    distance INTEGER NOT NULL,
    PRIMARY KEY (run_id, group_a, group_b),
    CHECK (group_a < group_b)
);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
