// Package icebergtest builds table metadata, manifest list and manifest
// files for tests.
package icebergtest

import (
	"encoding/json"
	"sort"

	"github.com/3leaps/icenimbus/pkg/avro"
	"github.com/3leaps/icenimbus/pkg/avro/avrotest"
)

// ManifestListSchema is the format v2 manifest_file schema.
const ManifestListSchema = `{"type":"record","name":"manifest_file","fields":[
{"name":"manifest_path","type":"string","doc":"Location URI with FS scheme","field-id":500},
{"name":"manifest_length","type":"long","field-id":501},
{"name":"partition_spec_id","type":"int","field-id":502},
{"name":"content","type":"int","field-id":517},
{"name":"sequence_number","type":"long","field-id":515},
{"name":"min_sequence_number","type":"long","field-id":516},
{"name":"added_snapshot_id","type":"long","field-id":503},
{"name":"added_files_count","type":"int","field-id":504},
{"name":"existing_files_count","type":"int","field-id":505},
{"name":"deleted_files_count","type":"int","field-id":506},
{"name":"added_rows_count","type":"long","field-id":512},
{"name":"existing_rows_count","type":"long","field-id":513},
{"name":"deleted_rows_count","type":"long","field-id":514},
{"name":"partitions","type":["null",{"type":"array","items":{"type":"record","name":"r508","fields":[
 {"name":"contains_null","type":"boolean","field-id":509},
 {"name":"contains_nan","type":["null","boolean"],"default":null,"field-id":518},
 {"name":"lower_bound","type":["null","bytes"],"default":null,"field-id":510},
 {"name":"upper_bound","type":["null","bytes"],"default":null,"field-id":511}]},"element-id":508}],"default":null,"field-id":507},
{"name":"key_metadata","type":["null","bytes"],"default":null,"field-id":519}]}`

func metricMap(name string, id, key, value int, valueType string) string {
	return `{"name":"` + name + `","type":["null",{"type":"array","items":{"type":"record","name":"k` +
		itoa(key) + `_v` + itoa(value) + `","fields":[{"name":"key","type":"int","field-id":` + itoa(key) +
		`},{"name":"value","type":"` + valueType + `","field-id":` + itoa(value) +
		`}]},"logicalType":"map"}],"default":null,"field-id":` + itoa(id) + `}`
}

func itoa(v int) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// ManifestSchema is the format v2 manifest_entry schema with a table
// partitioned by one optional string column "dt".
var ManifestSchema = `{"type":"record","name":"manifest_entry","fields":[
{"name":"status","type":"int","field-id":0},
{"name":"snapshot_id","type":["null","long"],"default":null,"field-id":1},
{"name":"sequence_number","type":["null","long"],"default":null,"field-id":3},
{"name":"file_sequence_number","type":["null","long"],"default":null,"field-id":4},
{"name":"data_file","type":{"type":"record","name":"r2","fields":[
 {"name":"content","type":"int","field-id":134},
 {"name":"file_path","type":"string","field-id":100},
 {"name":"file_format","type":"string","field-id":101},
 {"name":"partition","type":{"type":"record","name":"r102","fields":[
  {"name":"dt","type":["null","string"],"default":null,"field-id":1000}]},"field-id":102},
 {"name":"record_count","type":"long","field-id":103},
 {"name":"file_size_in_bytes","type":"long","field-id":104},
 ` + metricMap("column_sizes", 108, 117, 118, "long") + `,
 ` + metricMap("value_counts", 109, 119, 120, "long") + `,
 ` + metricMap("null_value_counts", 110, 121, 122, "long") + `,
 ` + metricMap("nan_value_counts", 137, 138, 139, "long") + `,
 ` + metricMap("lower_bounds", 125, 126, 127, "bytes") + `,
 ` + metricMap("upper_bounds", 128, 129, 130, "bytes") + `,
 {"name":"key_metadata","type":["null","bytes"],"default":null,"field-id":131},
 {"name":"split_offsets","type":["null",{"type":"array","items":"long","element-id":133}],"default":null,"field-id":132},
 {"name":"equality_ids","type":["null",{"type":"array","items":"int","element-id":136}],"default":null,"field-id":135},
 {"name":"sort_order_id","type":["null","int"],"default":null,"field-id":140}]},"field-id":2}]}`

// Summary is a partition field summary of a manifest list entry.
type Summary struct {
	ContainsNull bool
	ContainsNaN  *bool
	Lower, Upper []byte
}

// ListEntry is one manifest_file record.
type ListEntry struct {
	Path           string
	Length         int64
	SpecID         int64
	Content        int64
	Seq, MinSeq    int64
	SnapshotID     int64
	AddedFiles     int64
	ExistingFiles  int64
	DeletedFiles   int64
	AddedRows      int64
	ExistingRows   int64
	DeletedRows    int64
	Partitions     []Summary
	NullPartitions bool
	KeyMetadata    []byte
}

// AppendListEntry encodes e in manifest_file field order.
func AppendListEntry(buf []byte, e ListEntry) []byte {
	buf = avro.AppendString(buf, e.Path)
	for _, v := range []int64{e.Length, e.SpecID, e.Content, e.Seq, e.MinSeq, e.SnapshotID,
		e.AddedFiles, e.ExistingFiles, e.DeletedFiles, e.AddedRows, e.ExistingRows, e.DeletedRows} {
		buf = avro.AppendInt(buf, v)
	}
	if e.NullPartitions {
		buf = avro.AppendInt(buf, 0)
	} else {
		buf = avro.AppendInt(buf, 1)
		if len(e.Partitions) > 0 {
			buf = avro.AppendInt(buf, int64(len(e.Partitions)))
			for _, p := range e.Partitions {
				buf = appendBool(buf, p.ContainsNull)
				if p.ContainsNaN == nil {
					buf = avro.AppendInt(buf, 0)
				} else {
					buf = avro.AppendInt(buf, 1)
					buf = appendBool(buf, *p.ContainsNaN)
				}
				buf = appendOptionalBytes(buf, p.Lower)
				buf = appendOptionalBytes(buf, p.Upper)
			}
		}
		buf = avro.AppendInt(buf, 0)
	}
	return appendOptionalBytes(buf, e.KeyMetadata)
}

// ManifestList returns a manifest list container holding entries.
func ManifestList(codec avro.Codec, entries ...ListEntry) []byte {
	var records []byte
	for _, e := range entries {
		records = AppendListEntry(records, e)
	}
	return avrotest.File{
		Metadata: map[string]string{
			avro.MetaSchema:      ManifestListSchema,
			"format-version":     "2",
			"snapshot-id":        "1",
			"parent-snapshot-id": "null",
		},
		Codec:  codec,
		Blocks: []avrotest.Block{{Count: int64(len(entries)), Data: records}},
	}.Bytes()
}

// Entry is one manifest_entry record.
type Entry struct {
	Status       int64
	SnapshotID   *int64
	Seq, FileSeq *int64
	Content      int64
	Path         string
	Format       string
	Partition    *string
	Records      int64
	Size         int64
	ColumnSizes  map[int64]int64
	LowerBounds  map[int64][]byte
	SplitOffsets []int64
	EqualityIDs  []int64
	SortOrderID  *int64
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }

// AppendEntry encodes e in manifest_entry field order.
func AppendEntry(buf []byte, e Entry) []byte {
	buf = avro.AppendInt(buf, e.Status)
	buf = appendOptionalLong(buf, e.SnapshotID)
	buf = appendOptionalLong(buf, e.Seq)
	buf = appendOptionalLong(buf, e.FileSeq)

	buf = avro.AppendInt(buf, e.Content)
	buf = avro.AppendString(buf, e.Path)
	buf = avro.AppendString(buf, e.Format)
	if e.Partition == nil {
		buf = avro.AppendInt(buf, 0)
	} else {
		buf = avro.AppendInt(buf, 1)
		buf = avro.AppendString(buf, *e.Partition)
	}
	buf = avro.AppendInt(buf, e.Records)
	buf = avro.AppendInt(buf, e.Size)

	buf = appendLongMap(buf, e.ColumnSizes)
	buf = avro.AppendInt(buf, 0) // value_counts
	buf = avro.AppendInt(buf, 0) // null_value_counts
	buf = avro.AppendInt(buf, 0) // nan_value_counts
	buf = appendBytesMap(buf, e.LowerBounds)
	buf = avro.AppendInt(buf, 0) // upper_bounds
	buf = avro.AppendInt(buf, 0) // key_metadata
	buf = appendLongArray(buf, e.SplitOffsets)
	buf = appendLongArray(buf, e.EqualityIDs)
	return appendOptionalLong(buf, e.SortOrderID)
}

// Manifest returns a manifest container. An empty content omits the
// "content" header property.
func Manifest(content string, codec avro.Codec, entries ...Entry) []byte {
	var records []byte
	for _, e := range entries {
		records = AppendEntry(records, e)
	}
	meta := map[string]string{
		avro.MetaSchema:     ManifestSchema,
		"format-version":    "2",
		"partition-spec-id": "0",
	}
	if content != "" {
		meta["content"] = content
	}
	return avrotest.File{
		Metadata: meta,
		Codec:    codec,
		Blocks:   []avrotest.Block{{Count: int64(len(entries)), Data: records}},
	}.Bytes()
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendOptionalBytes(buf, b []byte) []byte {
	if b == nil {
		return avro.AppendInt(buf, 0)
	}
	buf = avro.AppendInt(buf, 1)
	return avro.AppendBytes(buf, b)
}

func appendOptionalLong(buf []byte, v *int64) []byte {
	if v == nil {
		return avro.AppendInt(buf, 0)
	}
	buf = avro.AppendInt(buf, 1)
	return avro.AppendInt(buf, *v)
}

func appendLongArray(buf []byte, vs []int64) []byte {
	if vs == nil {
		return avro.AppendInt(buf, 0)
	}
	buf = avro.AppendInt(buf, 1)
	if len(vs) > 0 {
		buf = avro.AppendInt(buf, int64(len(vs)))
		for _, v := range vs {
			buf = avro.AppendInt(buf, v)
		}
	}
	return avro.AppendInt(buf, 0)
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func appendLongMap(buf []byte, m map[int64]int64) []byte {
	if m == nil {
		return avro.AppendInt(buf, 0)
	}
	buf = avro.AppendInt(buf, 1)
	if len(m) > 0 {
		buf = avro.AppendInt(buf, int64(len(m)))
		for _, k := range sortedKeys(m) {
			buf = avro.AppendInt(buf, k)
			buf = avro.AppendInt(buf, m[k])
		}
	}
	return avro.AppendInt(buf, 0)
}

func appendBytesMap(buf []byte, m map[int64][]byte) []byte {
	if m == nil {
		return avro.AppendInt(buf, 0)
	}
	buf = avro.AppendInt(buf, 1)
	if len(m) > 0 {
		buf = avro.AppendInt(buf, int64(len(m)))
		for _, k := range sortedKeys(m) {
			buf = avro.AppendInt(buf, k)
			buf = avro.AppendBytes(buf, m[k])
		}
	}
	return avro.AppendInt(buf, 0)
}

// Snapshot is a snapshot of a Table.
type Snapshot struct {
	ID           int64             `json:"snapshot-id"`
	ParentID     *int64            `json:"parent-snapshot-id,omitempty"`
	SchemaID     int64             `json:"schema-id"`
	Sequence     int64             `json:"sequence-number"`
	TimestampMS  int64             `json:"timestamp-ms"`
	ManifestList string            `json:"manifest-list"`
	Summary      map[string]string `json:"summary,omitempty"`
}

// Table is a table metadata document.
type Table struct {
	FormatVersion      int               `json:"format-version"`
	UUID               string            `json:"table-uuid"`
	Location           string            `json:"location"`
	LastSequenceNumber int64             `json:"last-sequence-number"`
	LastUpdatedMS      int64             `json:"last-updated-ms"`
	LastColumnID       int64             `json:"last-column-id"`
	CurrentSchemaID    int64             `json:"current-schema-id"`
	CurrentSnapshotID  int64             `json:"current-snapshot-id"`
	Snapshots          []Snapshot        `json:"snapshots"`
	Properties         map[string]string `json:"properties,omitempty"`
}

// JSON encodes t.
func (t Table) JSON() []byte {
	b, err := json.Marshal(t)
	if err != nil {
		panic(err)
	}
	return b
}

// SampleTable returns a two-snapshot table rooted at location whose current
// snapshot's manifest list is location/metadata/snap-2.avro.
func SampleTable(location string) Table {
	return Table{
		FormatVersion:      2,
		UUID:               "9c12d441-03fe-4693-9a96-a0705ddf69c1",
		Location:           location,
		LastSequenceNumber: 2,
		LastUpdatedMS:      1755675060000,
		LastColumnID:       3,
		CurrentSchemaID:    0,
		CurrentSnapshotID:  2,
		Snapshots: []Snapshot{
			{ID: 1, Sequence: 1, TimestampMS: 1755600000000,
				ManifestList: location + "/metadata/snap-1.avro",
				Summary:      map[string]string{"operation": "append"}},
			{ID: 2, ParentID: Int64(1), Sequence: 2, TimestampMS: 1755675060000,
				ManifestList: location + "/metadata/snap-2.avro",
				Summary:      map[string]string{"operation": "overwrite"}},
		},
		Properties: map[string]string{"owner": "analytics"},
	}
}

// SampleWarehouse returns the objects of SampleTable rooted at
// s3://bucket/prefix, keyed by object key: a version hint naming v2, a
// stale v1 metadata file, the v2 metadata, the snap-2 manifest list, and
// two manifests. The current snapshot has three live files (two data, one
// position delete, 4908 bytes and 113 records in total) and one tombstone.
func SampleWarehouse(bucket, prefix string) map[string][]byte {
	location := "s3://" + bucket + "/" + prefix
	return map[string][]byte{
		prefix + "/metadata/version-hint.text": []byte("2\n"),
		prefix + "/metadata/v1.metadata.json":  []byte(`{"format-version":2,"table-uuid":"old"}`),
		prefix + "/metadata/v2.metadata.json":  SampleTable(location).JSON(),
		prefix + "/metadata/snap-2.avro":       sampleManifestList(location),
		prefix + "/metadata/m-data.avro":       sampleDataManifest(location),
		prefix + "/metadata/m-deletes.avro":    sampleDeleteManifest(location),
	}
}

func sampleManifestList(location string) []byte {
	return ManifestList(avro.CodecDeflate,
		ListEntry{
			Path: location + "/metadata/m-data.avro", Length: 4096,
			Content: 0, Seq: 2, MinSeq: 1, SnapshotID: 2, AddedFiles: 1, ExistingFiles: 1, DeletedFiles: 1,
		},
		ListEntry{
			Path: location + "/metadata/m-deletes.avro", Length: 1024,
			Content: 1, Seq: 3, MinSeq: 3, SnapshotID: 2, AddedFiles: 1,
		},
	)
}

func sampleDataManifest(location string) []byte {
	return Manifest("data", avro.CodecNull,
		Entry{
			Status: 1, SnapshotID: Int64(2),
			Content: 0, Path: location + "/data/dt=2025-08-20/a.parquet", Format: "PARQUET",
			Records: 100, Size: 4096,
		},
		Entry{
			Status: 0, Seq: Int64(1), FileSeq: Int64(1),
			Content: 0, Path: location + "/data/dt=2025-08-19/b.parquet", Format: "PARQUET",
			Records: 10, Size: 512,
		},
		Entry{
			Status: 2, SnapshotID: Int64(2), Seq: Int64(1), FileSeq: Int64(1),
			Content: 0, Path: location + "/data/dt=2025-08-18/gone.parquet", Format: "PARQUET",
			Records: 5, Size: 256,
		},
	)
}

func sampleDeleteManifest(location string) []byte {
	return Manifest("deletes", avro.CodecNull,
		Entry{
			Status: 1, SnapshotID: Int64(2),
			Content: 1, Path: location + "/data/deletes/pos-1.parquet", Format: "PARQUET",
			Records: 3, Size: 300,
		},
	)
}
