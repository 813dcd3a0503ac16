package iceberg

import (
	"fmt"

	"github.com/3leaps/icenimbus/pkg/avro"
	"github.com/3leaps/icenimbus/pkg/props"
)

const opManifest = "manifest"

// EntryStatus is the lifecycle state of a manifest entry.
type EntryStatus int

const (
	StatusExisting EntryStatus = 0
	StatusAdded    EntryStatus = 1
	StatusDeleted  EntryStatus = 2
)

// String returns the lower-case status name.
func (s EntryStatus) String() string {
	switch s {
	case StatusExisting:
		return "existing"
	case StatusAdded:
		return "added"
	case StatusDeleted:
		return "deleted"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s EntryStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DataFileContent is the kind of a tracked file.
type DataFileContent int

const (
	ContentData            DataFileContent = 0
	ContentPositionDeletes DataFileContent = 1
	ContentEqualityDeletes DataFileContent = 2
)

// String returns the lower-case content name.
func (c DataFileContent) String() string {
	switch c {
	case ContentData:
		return "data"
	case ContentPositionDeletes:
		return "position_deletes"
	case ContentEqualityDeletes:
		return "equality_deletes"
	}
	return fmt.Sprintf("unknown(%d)", int(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c DataFileContent) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ParseDataFileContent parses a name returned by DataFileContent.String.
func ParseDataFileContent(name string) (DataFileContent, error) {
	switch name {
	case "data":
		return ContentData, nil
	case "position_deletes":
		return ContentPositionDeletes, nil
	case "equality_deletes":
		return ContentEqualityDeletes, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownContent, name)
}

func dataFileContent(v int64) (DataFileContent, error) {
	switch v {
	case 0, 1, 2:
		return DataFileContent(v), nil
	}
	return 0, fmt.Errorf("%w: data file content %d", ErrUnknownContent, v)
}

// ManifestEntry is a live (non-deleted) entry of a manifest.
type ManifestEntry struct {
	Status             EntryStatus     `json:"status"`
	SnapshotID         *int64          `json:"snapshot_id,omitempty"`
	SequenceNumber     int64           `json:"sequence_number"`
	FileSequenceNumber int64           `json:"file_sequence_number"`
	Content            DataFileContent `json:"content"`
	FilePath           string          `json:"file_path"`
	FileFormat         string          `json:"file_format"`
	RecordCount        int64           `json:"record_count"`
	FileSize           int64           `json:"file_size_in_bytes"`
	SplitOffsets       []int64         `json:"split_offsets,omitempty"`
	EqualityIDs        []int64         `json:"equality_ids,omitempty"`
	SortOrderID        *int64          `json:"sort_order_id,omitempty"`

	// Set when the sequence numbers were present in the file rather than
	// left null for inheritance.
	HasSequenceNumber     bool `json:"-"`
	HasFileSequenceNumber bool `json:"-"`
}

// Manifest is a decoded manifest file.
type Manifest struct {
	Properties props.Map       `json:"properties"`
	Content    ManifestContent `json:"content"`
	Entries    []ManifestEntry `json:"entries"`

	// Tombstones counts the deleted entries that were skipped.
	Tombstones int `json:"tombstones"`
}

// InheritSequenceNumbers fills the sequence numbers left null in the file
// with seq, the sequence number of the manifest from the manifest list.
func (m *Manifest) InheritSequenceNumbers(seq int64) {
	for i := range m.Entries {
		e := &m.Entries[i]
		if !e.HasSequenceNumber {
			e.SequenceNumber = seq
		}
		if !e.HasFileSequenceNumber {
			e.FileSequenceNumber = seq
		}
	}
}

var manifestEntryFields = []fieldSpec{
	{id: 0, name: "status", kind: avro.KindLong},
	{id: 1, name: "snapshot_id", kind: avro.KindLong},
	{id: 3, name: "sequence_number", kind: avro.KindLong},
	{id: 4, name: "file_sequence_number", kind: avro.KindLong},
	{id: 2, name: "data_file", kind: avro.KindRecord},
}

var dataFileFields = []fieldSpec{
	{id: 134, name: "content", kind: avro.KindLong},
	{id: 100, name: "file_path", kind: avro.KindString},
	{id: 101, name: "file_format", kind: avro.KindString},
	{id: 102, name: "partition", kind: avro.KindRecord},
	{id: 103, name: "record_count", kind: avro.KindLong},
	{id: 104, name: "file_size_in_bytes", kind: avro.KindLong},
}

// Optional data_file fields that are materialised; the rest are skipped.
const (
	fieldSplitOffsets = 132
	fieldEqualityIDs  = 135
	fieldSortOrderID  = 140
)

// DecodeManifest decodes a manifest container.
//
// The manifest content comes from the "content" header property ("data" or
// "deletes"; absent means data). Entries with status deleted are consumed
// through the schema and not returned.
func DecodeManifest(data []byte) (*Manifest, error) {
	c, schema, err := containerSchema(opManifest, data)
	if err != nil {
		return nil, err
	}
	if err := checkRecord(schema, "manifest_entry", manifestEntryFields); err != nil {
		return nil, fileError(opManifest, err)
	}
	dataFile := schema.Fields[4].Type
	if inner, _, ok := dataFile.Optional(); ok {
		dataFile = inner
	}
	if err := checkRecord(dataFile, "", dataFileFields); err != nil {
		return nil, fileError(opManifest, fmt.Errorf("data_file: %w", err))
	}

	m := &Manifest{Properties: c.Metadata}
	switch v, ok := c.Metadata.Lookup("content"); {
	case !ok || v == "data":
		m.Content = ManifestData
	case v == "deletes":
		m.Content = ManifestDeletes
	default:
		return nil, &DecodeError{Op: opManifest, Record: -1, Field: "content",
			Err: fmt.Errorf("%w: manifest content %q", ErrUnknownContent, v)}
	}

	r := c.Records()
	m.Entries = make([]ManifestEntry, 0, recordCapacity(c))
	for i := 0; int64(i) < c.RecordCount; i++ {
		e, live, ferr := decodeManifestEntry(r, schema)
		if ferr != nil {
			return nil, recordError(opManifest, i, ferr.field, ferr.err)
		}
		if !live {
			m.Tombstones++
			continue
		}
		m.Entries = append(m.Entries, e)
	}
	if r.Remaining() != 0 {
		return nil, fileError(opManifest, fmt.Errorf("%w: %d bytes after %d records",
			ErrContainerFormat, r.Remaining(), c.RecordCount))
	}
	return m, nil
}

// decodeManifestEntry reads one manifest_entry record. It reports false for
// a deleted entry, whose remaining fields are skipped.
func decodeManifestEntry(r *avro.Reader, s *avro.Schema) (ManifestEntry, bool, *fieldErr) {
	var e ManifestEntry
	fields := s.Fields

	status, _, err := readLong(r, fields[0].Type)
	if err != nil {
		return e, false, &fieldErr{field: fields[0].Name, err: err}
	}
	e.Status = EntryStatus(status)
	if e.Status == StatusDeleted {
		for _, f := range fields[1:] {
			if err := avro.Skip(r, f.Type); err != nil {
				return e, false, &fieldErr{field: f.Name, err: err}
			}
		}
		return e, false, nil
	}

	for i, f := range fields {
		if i == 0 {
			continue
		}
		var err error
		switch i {
		case 1:
			var v int64
			var ok bool
			if v, ok, err = readLong(r, f.Type); ok {
				e.SnapshotID = &v
			}
		case 2:
			e.SequenceNumber, e.HasSequenceNumber, err = readLong(r, f.Type)
		case 3:
			e.FileSequenceNumber, e.HasFileSequenceNumber, err = readLong(r, f.Type)
		case 4:
			err = readDataFile(r, f.Type, &e)
		default:
			err = avro.Skip(r, f.Type)
		}
		if err != nil {
			return e, false, &fieldErr{field: f.Name, err: err}
		}
	}
	return e, true, nil
}

func readDataFile(r *avro.Reader, t *avro.Schema, e *ManifestEntry) error {
	rt, ok, err := optional(r, t)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: data_file is null", ErrSchemaMismatch)
	}

	for i, f := range rt.Fields {
		var err error
		switch {
		case i == 0:
			var v int64
			if v, _, err = readLong(r, f.Type); err == nil {
				e.Content, err = dataFileContent(v)
			}
		case i == 1:
			e.FilePath, _, err = readString(r, f.Type)
		case i == 2:
			e.FileFormat, _, err = readString(r, f.Type)
		case i == 4:
			e.RecordCount, _, err = readLong(r, f.Type)
		case i == 5:
			e.FileSize, _, err = readLong(r, f.Type)
		case f.HasID && f.ID == fieldSplitOffsets:
			e.SplitOffsets, err = readLongArray(r, f.Type)
		case f.HasID && f.ID == fieldEqualityIDs:
			e.EqualityIDs, err = readLongArray(r, f.Type)
		case f.HasID && f.ID == fieldSortOrderID:
			var v int64
			var ok bool
			if v, ok, err = readLong(r, f.Type); ok {
				e.SortOrderID = &v
			}
		default:
			err = avro.Skip(r, f.Type)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
	}
	return nil
}

func readLongArray(r *avro.Reader, t *avro.Schema) ([]int64, error) {
	at, ok, err := optional(r, t)
	if err != nil || !ok {
		return nil, err
	}
	if at.Kind != avro.KindArray || !kindCompatible(avro.KindLong, at.Items.Kind) {
		return nil, avro.Skip(r, at)
	}
	var out []int64
	blocks := avro.NewBlockReader(r, 1)
	for {
		n, err := blocks.Next()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out, nil
		}
		for j := int64(0); j < n; j++ {
			v, err := r.ReadInt()
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
}
