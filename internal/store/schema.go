package store

import (
	"database/sql"
	"fmt"
)

// schemaVersion is the schema version this build stamps into
// service_state. Init runs every statement in migrations on each call,
// whatever version it finds stored, and then records schemaVersion.
const schemaVersion = 1

// migrations is the ordered list of schema statements. Each one is
// idempotent (PRAGMA settings and CREATE ... IF NOT EXISTS), so Init runs
// all of them every time; they are not keyed to schema versions.
var migrations = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA busy_timeout=5000;`,
	`PRAGMA foreign_keys=ON;`,

	`CREATE TABLE IF NOT EXISTS service_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
	);`,

	`CREATE TABLE IF NOT EXISTS buckets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		source_folders TEXT NOT NULL,
		destination_folder TEXT NOT NULL,
		worker_count INTEGER NOT NULL DEFAULT 2,
		status TEXT NOT NULL DEFAULT 'stopped',
		created_at TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		updated_at TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
	);`,

	`CREATE TABLE IF NOT EXISTS file_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bucket_id INTEGER NOT NULL REFERENCES buckets(id) ON DELETE CASCADE,
		source_path TEXT NOT NULL,
		source_folder TEXT NOT NULL,
		relative_path TEXT NOT NULL,
		destination_path TEXT NOT NULL,
		file_size INTEGER NOT NULL DEFAULT 0,
		source_hash TEXT,
		destination_hash TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		created_at TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		updated_at TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		started_at TEXT,
		completed_at TEXT,
		next_run_at TEXT,
		worker_id TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		claim_until TEXT,
		UNIQUE(source_path, destination_path, bucket_id)
	);`,

	`CREATE INDEX IF NOT EXISTS ix_file_queue_bucket_status_folder_id
		ON file_queue (bucket_id, status, source_folder, id);`,
	`CREATE INDEX IF NOT EXISTS ix_file_queue_status_updated
		ON file_queue (status, updated_at DESC);`,
	`CREATE INDEX IF NOT EXISTS ix_file_queue_bucket_updated
		ON file_queue (bucket_id, updated_at DESC);`,
	`CREATE INDEX IF NOT EXISTS ix_file_queue_updated
		ON file_queue (updated_at DESC);`,
	`CREATE INDEX IF NOT EXISTS ix_file_queue_source_folder
		ON file_queue (source_folder);`,
}

// Init runs every migration in order and stamps schema_version, so a
// fresh database and one created by any earlier shipped version both
// end up at schemaVersion before serving requests.
func Init(db *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migration failed: %w", err)
		}
	}

	var current string
	err := db.QueryRow(`SELECT value FROM service_state WHERE key = 'schema_version'`).Scan(&current)
	if err == sql.ErrNoRows {
		_, err = db.Exec(`INSERT INTO service_state (key, value) VALUES ('schema_version', ?)`,
			fmt.Sprintf("%d", schemaVersion))
		if err != nil {
			return fmt.Errorf("store: stamp schema_version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: read schema_version: %w", err)
	}

	if current != fmt.Sprintf("%d", schemaVersion) {
		_, err = db.Exec(`UPDATE service_state SET value = ?, updated_at = CURRENT_TIMESTAMP WHERE key = 'schema_version'`,
			fmt.Sprintf("%d", schemaVersion))
		if err != nil {
			return fmt.Errorf("store: bump schema_version: %w", err)
		}
	}

	return nil
}
