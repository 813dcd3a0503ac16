package iceberg

import (
	"fmt"

	"github.com/3leaps/icenimbus/pkg/avro"
	"github.com/3leaps/icenimbus/pkg/props"
)

const opManifestList = "manifest list"

// ManifestContent is the kind of files a manifest tracks.
type ManifestContent int

const (
	ManifestData    ManifestContent = 0
	ManifestDeletes ManifestContent = 1
)

// String returns "data" or "deletes".
func (c ManifestContent) String() string {
	switch c {
	case ManifestData:
		return "data"
	case ManifestDeletes:
		return "deletes"
	}
	return fmt.Sprintf("unknown(%d)", int(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c ManifestContent) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func manifestContent(v int64) (ManifestContent, error) {
	switch v {
	case 0:
		return ManifestData, nil
	case 1:
		return ManifestDeletes, nil
	}
	return 0, fmt.Errorf("%w: manifest content %d", ErrUnknownContent, v)
}

// FieldSummary summarises one partition field across a manifest.
type FieldSummary struct {
	ContainsNull bool   `json:"contains_null"`
	ContainsNaN  *bool  `json:"contains_nan,omitempty"`
	LowerBound   []byte `json:"lower_bound,omitempty"`
	UpperBound   []byte `json:"upper_bound,omitempty"`
}

// ManifestListEntry describes one manifest file of a snapshot.
type ManifestListEntry struct {
	ManifestPath       string          `json:"manifest_path"`
	ManifestLength     int64           `json:"manifest_length"`
	PartitionSpecID    int64           `json:"partition_spec_id"`
	Content            ManifestContent `json:"content"`
	SequenceNumber     int64           `json:"sequence_number"`
	MinSequenceNumber  int64           `json:"min_sequence_number"`
	AddedSnapshotID    int64           `json:"added_snapshot_id"`
	AddedFilesCount    int64           `json:"added_files_count"`
	ExistingFilesCount int64           `json:"existing_files_count"`
	DeletedFilesCount  int64           `json:"deleted_files_count"`
	AddedRowsCount     int64           `json:"added_rows_count"`
	ExistingRowsCount  int64           `json:"existing_rows_count"`
	DeletedRowsCount   int64           `json:"deleted_rows_count"`
	Partitions         []FieldSummary  `json:"partitions,omitempty"`
	KeyMetadata        []byte          `json:"key_metadata,omitempty"`
}

// ManifestList is a decoded manifest list file.
type ManifestList struct {
	Properties props.Map           `json:"properties"`
	Manifests  []ManifestListEntry `json:"manifests"`
}

// Manifest list field ids, in file order.
var manifestFileFields = []fieldSpec{
	{id: 500, name: "manifest_path", kind: avro.KindString},
	{id: 501, name: "manifest_length", kind: avro.KindLong},
	{id: 502, name: "partition_spec_id", kind: avro.KindLong},
	{id: 517, name: "content", kind: avro.KindLong},
	{id: 515, name: "sequence_number", kind: avro.KindLong},
	{id: 516, name: "min_sequence_number", kind: avro.KindLong},
	{id: 503, name: "added_snapshot_id", kind: avro.KindLong},
	{id: 504, name: "added_files_count", alt: "added_data_files_count", kind: avro.KindLong},
	{id: 505, name: "existing_files_count", alt: "existing_data_files_count", kind: avro.KindLong},
	{id: 506, name: "deleted_files_count", alt: "deleted_data_files_count", kind: avro.KindLong},
	{id: 512, name: "added_rows_count", kind: avro.KindLong},
	{id: 513, name: "existing_rows_count", kind: avro.KindLong},
	{id: 514, name: "deleted_rows_count", kind: avro.KindLong},
	{id: 507, name: "partitions", kind: avro.KindArray},
	{id: 519, name: "key_metadata", kind: avro.KindBytes},
}

// DecodeManifestList decodes a manifest list container.
//
// The embedded schema must be the manifest_file record with the expected
// field order; it is checked before any record is read. Fields after
// key_metadata are skipped through the schema.
func DecodeManifestList(data []byte) (*ManifestList, error) {
	c, schema, err := containerSchema(opManifestList, data)
	if err != nil {
		return nil, err
	}
	if err := checkRecord(schema, "manifest_file", manifestFileFields); err != nil {
		return nil, fileError(opManifestList, err)
	}

	r := c.Records()
	list := &ManifestList{
		Properties: c.Metadata,
		Manifests:  make([]ManifestListEntry, 0, recordCapacity(c)),
	}
	for i := 0; int64(i) < c.RecordCount; i++ {
		e, err := decodeManifestListEntry(r, schema)
		if err != nil {
			return nil, recordError(opManifestList, i, err.field, err.err)
		}
		list.Manifests = append(list.Manifests, e)
	}
	if r.Remaining() != 0 {
		return nil, fileError(opManifestList, fmt.Errorf("%w: %d bytes after %d records",
			ErrContainerFormat, r.Remaining(), c.RecordCount))
	}
	return list, nil
}

// recordCapacity bounds the slice pre-allocation for c's records by the
// bytes present, since every record takes at least one.
func recordCapacity(c *avro.Container) int {
	return int(min(c.RecordCount, int64(len(c.Data))))
}

// fieldErr carries the field name of a record-level failure.
type fieldErr struct {
	field string
	err   error
}

func decodeManifestListEntry(r *avro.Reader, s *avro.Schema) (ManifestListEntry, *fieldErr) {
	var e ManifestListEntry
	fields := s.Fields

	longs := []*int64{
		2:  &e.PartitionSpecID,
		4:  &e.SequenceNumber,
		5:  &e.MinSequenceNumber,
		6:  &e.AddedSnapshotID,
		7:  &e.AddedFilesCount,
		8:  &e.ExistingFilesCount,
		9:  &e.DeletedFilesCount,
		10: &e.AddedRowsCount,
		11: &e.ExistingRowsCount,
		12: &e.DeletedRowsCount,
	}

	for i, f := range fields {
		var err error
		switch i {
		case 0:
			e.ManifestPath, _, err = readString(r, f.Type)
		case 1:
			e.ManifestLength, _, err = readLong(r, f.Type)
		case 3:
			var v int64
			if v, _, err = readLong(r, f.Type); err == nil {
				e.Content, err = manifestContent(v)
			}
		case 2, 4, 5, 6, 7, 8, 9, 10, 11, 12:
			*longs[i], _, err = readLong(r, f.Type)
		case 13:
			e.Partitions, err = readPartitions(r, f.Type)
		case 14:
			e.KeyMetadata, err = readBytes(r, f.Type)
		default:
			err = avro.Skip(r, f.Type)
		}
		if err != nil {
			return e, &fieldErr{field: f.Name, err: err}
		}
	}
	return e, nil
}

// readPartitions decodes the optional array of field summaries. Summary
// fields are matched by name; unknown ones are skipped.
func readPartitions(r *avro.Reader, t *avro.Schema) ([]FieldSummary, error) {
	at, ok, err := optional(r, t)
	if err != nil || !ok {
		return nil, err
	}
	item := at.Items
	if item == nil || item.Kind != avro.KindRecord {
		return nil, fmt.Errorf("%w: partitions items are not records", ErrSchemaMismatch)
	}

	out := []FieldSummary{}
	blocks := avro.NewBlockReader(r, avro.MinSize(item))
	for {
		n, err := blocks.Next()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out, nil
		}
		for j := int64(0); j < n; j++ {
			fs, err := readFieldSummary(r, item)
			if err != nil {
				return nil, fmt.Errorf("summary %d: %w", len(out), err)
			}
			out = append(out, fs)
		}
	}
}

func readFieldSummary(r *avro.Reader, s *avro.Schema) (FieldSummary, error) {
	var fs FieldSummary
	for _, f := range s.Fields {
		var err error
		switch f.Name {
		case "contains_null":
			fs.ContainsNull, _, err = readBool(r, f.Type)
		case "contains_nan":
			var v, ok bool
			if v, ok, err = readBool(r, f.Type); ok {
				fs.ContainsNaN = &v
			}
		case "lower_bound":
			fs.LowerBound, err = readBytes(r, f.Type)
		case "upper_bound":
			fs.UpperBound, err = readBytes(r, f.Type)
		default:
			err = avro.Skip(r, f.Type)
		}
		if err != nil {
			return fs, fmt.Errorf("%s: %w", f.Name, err)
		}
	}
	return fs, nil
}
