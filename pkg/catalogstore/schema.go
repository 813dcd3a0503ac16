package catalogstore

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the schema written by Migrate.
const SchemaVersion = 1

// Migrate creates the catalog schema in place. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS tables (
			table_uuid TEXT PRIMARY KEY,
			metadata_uri TEXT NOT NULL,
			location TEXT NOT NULL,
			format_version INTEGER NOT NULL,
			current_snapshot_id INTEGER NOT NULL,
			last_sequence_number INTEGER NOT NULL,
			last_updated_ms INTEGER NOT NULL,
			-- properties is the table property map as a JSON object.
			properties TEXT NOT NULL,
			synced_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tables_location ON tables(location);`,

		`CREATE TABLE IF NOT EXISTS snapshots (
			table_uuid TEXT NOT NULL,
			snapshot_id INTEGER NOT NULL,
			parent_snapshot_id INTEGER,
			sequence_number INTEGER NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			manifest_list TEXT NOT NULL,
			operation TEXT,
			PRIMARY KEY(table_uuid, snapshot_id),
			FOREIGN KEY(table_uuid) REFERENCES tables(table_uuid)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON snapshots(table_uuid, timestamp_ms);`,

		`CREATE TABLE IF NOT EXISTS manifests (
			table_uuid TEXT NOT NULL,
			snapshot_id INTEGER NOT NULL,
			position INTEGER NOT NULL,
			manifest_path TEXT NOT NULL,
			manifest_length INTEGER NOT NULL,
			content TEXT NOT NULL,
			sequence_number INTEGER NOT NULL,
			added_files INTEGER NOT NULL,
			existing_files INTEGER NOT NULL,
			deleted_files INTEGER NOT NULL,
			PRIMARY KEY(table_uuid, snapshot_id, position),
			FOREIGN KEY(table_uuid, snapshot_id) REFERENCES snapshots(table_uuid, snapshot_id)
		);`,

		`CREATE TABLE IF NOT EXISTS data_files (
			table_uuid TEXT NOT NULL,
			snapshot_id INTEGER NOT NULL,
			file_path TEXT NOT NULL,
			content TEXT NOT NULL,
			file_format TEXT NOT NULL,
			record_count INTEGER NOT NULL,
			file_size_bytes INTEGER NOT NULL,
			sequence_number INTEGER NOT NULL,
			manifest_path TEXT NOT NULL,
			PRIMARY KEY(table_uuid, snapshot_id, file_path),
			FOREIGN KEY(table_uuid, snapshot_id) REFERENCES snapshots(table_uuid, snapshot_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_data_files_content ON data_files(table_uuid, snapshot_id, content);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if current > SchemaVersion {
		return fmt.Errorf("catalog schema version %d is newer than supported version %d", current, SchemaVersion)
	}
	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
