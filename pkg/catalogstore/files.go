package catalogstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/icenimbus/pkg/iceberg"
	"github.com/3leaps/icenimbus/pkg/table"
)

// ManifestRow is a row of the manifests table.
type ManifestRow struct {
	TableUUID      string
	SnapshotID     int64
	Position       int
	ManifestPath   string
	ManifestLength int64
	Content        iceberg.ManifestContent
	SequenceNumber int64
	AddedFiles     int64
	ExistingFiles  int64
	DeletedFiles   int64
}

// DataFileRow is a row of the data_files table.
type DataFileRow struct {
	TableUUID      string
	SnapshotID     int64
	FilePath       string
	Content        iceberg.DataFileContent
	FileFormat     string
	RecordCount    int64
	FileSize       int64
	SequenceNumber int64
	ManifestPath   string
}

// SaveScan stores the table of res and replaces the manifests and files
// recorded for its snapshot, all in one transaction. A result without a
// snapshot stores only the table.
func SaveScan(ctx context.Context, db *sql.DB, res *table.ScanResult) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if res == nil || res.Table == nil {
		return errors.New("scan result without table")
	}
	md := res.Table.Metadata

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := saveTableTx(ctx, tx, res.Table.Locator.String(), md, time.Now().UTC()); err != nil {
		return err
	}
	if res.Snapshot != nil {
		if err := replaceSnapshotFilesTx(ctx, tx, md.UUID, res); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func replaceSnapshotFilesTx(ctx context.Context, tx *sql.Tx, tableUUID string, res *table.ScanResult) error {
	snapID := res.Snapshot.ID
	for _, t := range []string{"manifests", "data_files"} {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+t+` WHERE table_uuid = ? AND snapshot_id = ?`, tableUUID, snapID); err != nil {
			return fmt.Errorf("clear %s: %w", t, err)
		}
	}

	mstmt, err := tx.PrepareContext(ctx,
		`INSERT INTO manifests
		 (table_uuid, snapshot_id, position, manifest_path, manifest_length, content,
		  sequence_number, added_files, existing_files, deleted_files)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare stmt: %w", err)
	}
	defer func() { _ = mstmt.Close() }()

	for i, m := range res.Manifests {
		if _, err := mstmt.ExecContext(ctx,
			tableUUID, snapID, i, m.ManifestPath, m.ManifestLength, m.Content.String(),
			m.SequenceNumber, m.AddedFilesCount, m.ExistingFilesCount, m.DeletedFilesCount); err != nil {
			return fmt.Errorf("insert manifest %s: %w", m.ManifestPath, err)
		}
	}

	// A path listed twice (e.g. by two manifests) keeps its last entry.
	fstmt, err := tx.PrepareContext(ctx,
		`INSERT INTO data_files
		 (table_uuid, snapshot_id, file_path, content, file_format, record_count,
		  file_size_bytes, sequence_number, manifest_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(table_uuid, snapshot_id, file_path) DO UPDATE SET
		   content = excluded.content,
		   file_format = excluded.file_format,
		   record_count = excluded.record_count,
		   file_size_bytes = excluded.file_size_bytes,
		   sequence_number = excluded.sequence_number,
		   manifest_path = excluded.manifest_path`)
	if err != nil {
		return fmt.Errorf("prepare stmt: %w", err)
	}
	defer func() { _ = fstmt.Close() }()

	for _, f := range res.Files {
		if _, err := fstmt.ExecContext(ctx,
			tableUUID, snapID, f.FilePath, f.Content.String(), f.FileFormat, f.RecordCount,
			f.FileSize, f.SequenceNumber, f.ManifestPath); err != nil {
			return fmt.Errorf("insert data file %s: %w", f.FilePath, err)
		}
	}
	return nil
}

// ListManifests returns the manifests recorded for a snapshot in manifest
// list order.
func ListManifests(ctx context.Context, db *sql.DB, tableUUID string, snapshotID int64) ([]ManifestRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := db.QueryContext(ctx,
		`SELECT table_uuid, snapshot_id, position, manifest_path, manifest_length, content,
		        sequence_number, added_files, existing_files, deleted_files
		 FROM manifests WHERE table_uuid = ? AND snapshot_id = ?
		 ORDER BY position`,
		tableUUID, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ManifestRow
	for rows.Next() {
		var (
			m       ManifestRow
			content string
		)
		if err := rows.Scan(&m.TableUUID, &m.SnapshotID, &m.Position, &m.ManifestPath, &m.ManifestLength, &content,
			&m.SequenceNumber, &m.AddedFiles, &m.ExistingFiles, &m.DeletedFiles); err != nil {
			return nil, fmt.Errorf("scan manifest: %w", err)
		}
		if content == iceberg.ManifestDeletes.String() {
			m.Content = iceberg.ManifestDeletes
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manifests: %w", err)
	}
	return out, nil
}

// FileQuery selects stored data files.
type FileQuery struct {
	TableUUID string

	// SnapshotID selects a snapshot. Nil means the table's current one.
	SnapshotID *int64

	// Content restricts the file kinds. Empty means all kinds.
	Content []iceberg.DataFileContent

	// PathPrefix keeps files whose path starts with it.
	PathPrefix string

	// Limit caps the rows returned. Zero means no limit.
	Limit int
}

// ListDataFiles returns stored files ordered by path.
func ListDataFiles(ctx context.Context, db *sql.DB, q FileQuery) ([]DataFileRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if q.TableUUID == "" {
		return nil, errors.New("table uuid is required")
	}

	var sb strings.Builder
	args := []any{q.TableUUID}
	sb.WriteString(`SELECT table_uuid, snapshot_id, file_path, content, file_format, record_count,
	        file_size_bytes, sequence_number, manifest_path
	 FROM data_files WHERE table_uuid = ?`)

	if q.SnapshotID != nil {
		sb.WriteString(` AND snapshot_id = ?`)
		args = append(args, *q.SnapshotID)
	} else {
		sb.WriteString(` AND snapshot_id = (SELECT current_snapshot_id FROM tables WHERE table_uuid = ?)`)
		args = append(args, q.TableUUID)
	}
	if len(q.Content) > 0 {
		sb.WriteString(` AND content IN (?` + strings.Repeat(`, ?`, len(q.Content)-1) + `)`)
		for _, c := range q.Content {
			args = append(args, c.String())
		}
	}
	if q.PathPrefix != "" {
		sb.WriteString(` AND instr(file_path, ?) = 1`)
		args = append(args, q.PathPrefix)
	}
	sb.WriteString(` ORDER BY file_path`)
	if q.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list data files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DataFileRow
	for rows.Next() {
		var (
			f       DataFileRow
			content string
		)
		if err := rows.Scan(&f.TableUUID, &f.SnapshotID, &f.FilePath, &content, &f.FileFormat, &f.RecordCount,
			&f.FileSize, &f.SequenceNumber, &f.ManifestPath); err != nil {
			return nil, fmt.Errorf("scan data file: %w", err)
		}
		if f.Content, err = iceberg.ParseDataFileContent(content); err != nil {
			return nil, fmt.Errorf("data file %s: %w", f.FilePath, err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate data files: %w", err)
	}
	return out, nil
}
