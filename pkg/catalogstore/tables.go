package catalogstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/3leaps/icenimbus/pkg/iceberg"
	"github.com/3leaps/icenimbus/pkg/props"
)

// ErrTableNotFound is returned when no stored table matches a reference.
var ErrTableNotFound = errors.New("table not found in catalog")

// TableRow is a row of the tables table.
type TableRow struct {
	UUID               string
	MetadataURI        string
	Location           string
	FormatVersion      int
	CurrentSnapshotID  int64
	LastSequenceNumber int64
	LastUpdated        time.Time
	Properties         props.Map
	SyncedAt           time.Time
}

// SnapshotRow is a row of the snapshots table.
type SnapshotRow struct {
	TableUUID      string
	SnapshotID     int64
	ParentID       *int64
	SequenceNumber int64
	Timestamp      time.Time
	ManifestList   string
	Operation      string
}

// SaveTable records md, loaded from metadataURI, and replaces the table's
// snapshot log. Manifests and files of snapshots no longer in the log are
// removed.
func SaveTable(ctx context.Context, db *sql.DB, metadataURI string, md *iceberg.TableMetadata) error {
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := saveTableTx(ctx, tx, metadataURI, md, time.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func saveTableTx(ctx context.Context, tx *sql.Tx, metadataURI string, md *iceberg.TableMetadata, now time.Time) error {
	if md == nil || md.UUID == "" {
		return errors.New("table metadata without table-uuid cannot be stored")
	}
	properties, err := json.Marshal(md.Properties)
	if err != nil {
		return fmt.Errorf("encode properties: %w", err)
	}
	if md.Properties == nil {
		properties = []byte("{}")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tables
		 (table_uuid, metadata_uri, location, format_version, current_snapshot_id,
		  last_sequence_number, last_updated_ms, properties, synced_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(table_uuid) DO UPDATE SET
		   metadata_uri = excluded.metadata_uri,
		   location = excluded.location,
		   format_version = excluded.format_version,
		   current_snapshot_id = excluded.current_snapshot_id,
		   last_sequence_number = excluded.last_sequence_number,
		   last_updated_ms = excluded.last_updated_ms,
		   properties = excluded.properties,
		   synced_at_ms = excluded.synced_at_ms`,
		md.UUID, metadataURI, md.Location, md.FormatVersion, md.CurrentSnapshotID,
		md.LastSequenceNumber, md.LastUpdatedMS, string(properties), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert table: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE table_uuid = ?`, md.UUID); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO snapshots
		 (table_uuid, snapshot_id, parent_snapshot_id, sequence_number, timestamp_ms, manifest_list, operation)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare stmt: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range md.Snapshots {
		s := &md.Snapshots[i]
		var parent any
		if s.ParentID != nil {
			parent = *s.ParentID
		}
		if _, err := stmt.ExecContext(ctx,
			md.UUID, s.ID, parent, s.SequenceNumber, s.TimestampMS, s.ManifestListPath, nullString(s.Operation())); err != nil {
			return fmt.Errorf("insert snapshot %d: %w", s.ID, err)
		}
	}

	for _, table := range []string{"manifests", "data_files"} {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE table_uuid = ?
			 AND snapshot_id NOT IN (SELECT snapshot_id FROM snapshots WHERE table_uuid = ?)`,
			md.UUID, md.UUID)
		if err != nil {
			return fmt.Errorf("prune %s: %w", table, err)
		}
	}
	return nil
}

const tableColumns = `table_uuid, metadata_uri, location, format_version, current_snapshot_id,
	last_sequence_number, last_updated_ms, properties, synced_at_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTable(row rowScanner) (*TableRow, error) {
	var (
		t                     TableRow
		lastUpdated, syncedAt int64
		properties            string
	)
	if err := row.Scan(&t.UUID, &t.MetadataURI, &t.Location, &t.FormatVersion, &t.CurrentSnapshotID,
		&t.LastSequenceNumber, &lastUpdated, &properties, &syncedAt); err != nil {
		return nil, err
	}
	t.LastUpdated = time.UnixMilli(lastUpdated).UTC()
	t.SyncedAt = time.UnixMilli(syncedAt).UTC()
	t.Properties = props.New()
	if err := json.Unmarshal([]byte(properties), &t.Properties); err != nil {
		return nil, fmt.Errorf("decode properties of %s: %w", t.UUID, err)
	}
	return &t, nil
}

// GetTable returns the table whose uuid, location or metadata URI equals
// ref.
func GetTable(ctx context.Context, db *sql.DB, ref string) (*TableRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	row := db.QueryRowContext(ctx,
		`SELECT `+tableColumns+` FROM tables
		 WHERE table_uuid = ? OR location = ? OR metadata_uri = ?
		 ORDER BY synced_at_ms DESC LIMIT 1`,
		ref, ref, ref)
	t, err := scanTable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("get table: %w", err)
	}
	return t, nil
}

// ListTables returns every stored table ordered by location.
func ListTables(ctx context.Context, db *sql.DB) ([]TableRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := db.QueryContext(ctx, `SELECT `+tableColumns+` FROM tables ORDER BY location, table_uuid`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TableRow
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return out, nil
}

// ListSnapshots returns the snapshot log of a table in sequence order.
func ListSnapshots(ctx context.Context, db *sql.DB, tableUUID string) ([]SnapshotRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := db.QueryContext(ctx,
		`SELECT table_uuid, snapshot_id, parent_snapshot_id, sequence_number, timestamp_ms, manifest_list, operation
		 FROM snapshots WHERE table_uuid = ?
		 ORDER BY sequence_number, snapshot_id`,
		tableUUID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SnapshotRow
	for rows.Next() {
		var (
			s         SnapshotRow
			parent    sql.NullInt64
			ts        int64
			operation sql.NullString
		)
		if err := rows.Scan(&s.TableUUID, &s.SnapshotID, &parent, &s.SequenceNumber, &ts, &s.ManifestList, &operation); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if parent.Valid {
			p := parent.Int64
			s.ParentID = &p
		}
		s.Timestamp = time.UnixMilli(ts).UTC()
		s.Operation = operation.String
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
