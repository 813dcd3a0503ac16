// Package iceberg decodes Iceberg table metadata: the JSON table metadata
// file, manifest lists and manifests.
//
// Only format version 2 tables are supported. Decoders are pure functions of
// their input bytes and return either a complete value or an error.
package iceberg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/3leaps/icenimbus/pkg/props"
)

// SupportedFormatVersion is the only accepted table format version.
const SupportedFormatVersion = 2

// NoSnapshot is the current-snapshot-id of a table without snapshots.
const NoSnapshot int64 = -1

// TableMetadata is the decoded table metadata file.
type TableMetadata struct {
	UUID               string     `json:"table-uuid" yaml:"table-uuid"`
	Location           string     `json:"location" yaml:"location"`
	FormatVersion      int        `json:"format-version" yaml:"format-version"`
	CurrentSchemaID    int64      `json:"current-schema-id" yaml:"current-schema-id"`
	CurrentSnapshotID  int64      `json:"current-snapshot-id" yaml:"current-snapshot-id"`
	LastColumnID       int64      `json:"last-column-id" yaml:"last-column-id"`
	LastSequenceNumber int64      `json:"last-sequence-number" yaml:"last-sequence-number"`
	LastUpdatedMS      int64      `json:"last-updated-ms" yaml:"last-updated-ms"`
	Snapshots          []Snapshot `json:"snapshots" yaml:"snapshots"`
	Properties         props.Map  `json:"properties" yaml:"properties"`
}

// Snapshot is one entry of the table's snapshot log.
type Snapshot struct {
	ID               int64     `json:"snapshot-id" yaml:"snapshot-id"`
	ParentID         *int64    `json:"parent-snapshot-id,omitempty" yaml:"parent-snapshot-id,omitempty"`
	SchemaID         int64     `json:"schema-id" yaml:"schema-id"`
	SequenceNumber   int64     `json:"sequence-number" yaml:"sequence-number"`
	TimestampMS      int64     `json:"timestamp-ms" yaml:"timestamp-ms"`
	ManifestListPath string    `json:"manifest-list" yaml:"manifest-list"`
	Summary          props.Map `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// LastUpdated returns last-updated-ms as a time.
func (m *TableMetadata) LastUpdated() time.Time {
	return time.UnixMilli(m.LastUpdatedMS).UTC()
}

// CurrentSnapshot returns the snapshot named by current-snapshot-id, or nil
// when the table has none.
func (m *TableMetadata) CurrentSnapshot() *Snapshot {
	if m.CurrentSnapshotID == NoSnapshot {
		return nil
	}
	return m.SnapshotByID(m.CurrentSnapshotID)
}

// SnapshotByID returns the snapshot with the given id, or nil.
func (m *TableMetadata) SnapshotByID(id int64) *Snapshot {
	for i := range m.Snapshots {
		if m.Snapshots[i].ID == id {
			return &m.Snapshots[i]
		}
	}
	return nil
}

// Timestamp returns timestamp-ms as a time.
func (s *Snapshot) Timestamp() time.Time {
	return time.UnixMilli(s.TimestampMS).UTC()
}

// Operation returns the summary operation (append, overwrite, ...), if any.
func (s *Snapshot) Operation() string {
	return s.Summary.Get("operation")
}

// ParseMetadata decodes a table metadata JSON document.
//
// Fields are dispatched by name; unknown fields are ignored. A missing
// format-version or any value other than 2 is ErrUnsupportedVersion.
func ParseMetadata(data []byte) (*TableMetadata, error) {
	obj, err := decodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataJSON, err)
	}

	m := &TableMetadata{CurrentSnapshotID: NoSnapshot, Properties: props.New()}
	versionSeen := false

	for name, raw := range obj {
		var err error
		switch name {
		case "format-version":
			versionSeen = true
			err = decodeValue(raw, &m.FormatVersion)
		case "table-uuid":
			err = decodeValue(raw, &m.UUID)
		case "location":
			err = decodeValue(raw, &m.Location)
		case "current-schema-id":
			err = decodeValue(raw, &m.CurrentSchemaID)
		case "current-snapshot-id":
			err = decodeValue(raw, &m.CurrentSnapshotID)
		case "last-column-id":
			err = decodeValue(raw, &m.LastColumnID)
		case "last-sequence-number":
			err = decodeValue(raw, &m.LastSequenceNumber)
		case "last-updated-ms":
			err = decodeValue(raw, &m.LastUpdatedMS)
		case "properties":
			err = decodeProperties(raw, m.Properties)
		case "snapshots":
			m.Snapshots, err = decodeSnapshots(raw)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMetadataJSON, name, err)
		}
	}

	if !versionSeen {
		return nil, fmt.Errorf("%w: format-version missing", ErrUnsupportedVersion)
	}
	if m.FormatVersion != SupportedFormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, m.FormatVersion)
	}
	return m, nil
}

func decodeSnapshots(raw json.RawMessage) ([]Snapshot, error) {
	var items []json.RawMessage
	if err := decodeValue(raw, &items); err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(items))
	for i, item := range items {
		s, err := decodeSnapshot(item)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func decodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	obj, err := decodeObject(data)
	if err != nil {
		return s, err
	}
	for name, raw := range obj {
		var err error
		switch name {
		case "snapshot-id":
			err = decodeValue(raw, &s.ID)
		case "parent-snapshot-id":
			err = decodeValue(raw, &s.ParentID)
		case "schema-id":
			err = decodeValue(raw, &s.SchemaID)
		case "sequence-number":
			err = decodeValue(raw, &s.SequenceNumber)
		case "timestamp-ms":
			err = decodeValue(raw, &s.TimestampMS)
		case "manifest-list":
			err = decodeValue(raw, &s.ManifestListPath)
		case "summary":
			s.Summary = props.New()
			err = decodeProperties(raw, s.Summary)
		}
		if err != nil {
			return s, fmt.Errorf("%s: %w", name, err)
		}
	}
	return s, nil
}

// decodeProperties copies a JSON object of strings into m. Non-string
// values are kept in their JSON text form.
func decodeProperties(raw json.RawMessage, m props.Map) error {
	obj, err := decodeObject(raw)
	if err != nil {
		return err
	}
	for k, v := range obj {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			s = string(bytes.TrimSpace(v))
		}
		m.Set(k, s)
	}
	return nil
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("expected object, got null")
	}
	return obj, nil
}

func decodeValue(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}
