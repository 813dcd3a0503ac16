package iceberg_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/icenimbus/pkg/avro"
	"github.com/3leaps/icenimbus/pkg/avro/avrotest"
	"github.com/3leaps/icenimbus/pkg/iceberg"
	"github.com/3leaps/icenimbus/pkg/iceberg/icebergtest"
)

func sampleListEntries() []icebergtest.ListEntry {
	nan := false
	return []icebergtest.ListEntry{
		{
			Path: "s3://warehouse/db/t/metadata/m0.avro", Length: 6120, SpecID: 0, Content: 0,
			Seq: 2, MinSeq: 1, SnapshotID: 2, AddedFiles: 3, ExistingFiles: 1, DeletedFiles: 0,
			AddedRows: 300, ExistingRows: 100, DeletedRows: 0,
			Partitions: []icebergtest.Summary{
				{ContainsNull: false, ContainsNaN: &nan, Lower: []byte("2025-08-01"), Upper: []byte("2025-08-20")},
			},
		},
		{
			Path: "s3://warehouse/db/t/metadata/m1.avro", Length: 4001, SpecID: 0, Content: 1,
			Seq: 2, MinSeq: 2, SnapshotID: 2, AddedFiles: 1, AddedRows: 7,
			NullPartitions: true, KeyMetadata: []byte{0xca, 0xfe},
		},
	}
}

func TestDecodeManifestList(t *testing.T) {
	for _, codec := range []avro.Codec{avro.CodecNull, avro.CodecDeflate} {
		t.Run(string(codec), func(t *testing.T) {
			data := icebergtest.ManifestList(codec, sampleListEntries()...)

			list, err := iceberg.DecodeManifestList(data)
			require.NoError(t, err)
			require.Len(t, list.Manifests, 2)
			assert.Equal(t, "2", list.Properties.Get("format-version"))
			assert.Equal(t, string(codec), list.Properties.Get(avro.MetaCodec))

			m0 := list.Manifests[0]
			assert.Equal(t, "s3://warehouse/db/t/metadata/m0.avro", m0.ManifestPath)
			assert.Equal(t, int64(6120), m0.ManifestLength)
			assert.Equal(t, iceberg.ManifestData, m0.Content)
			assert.Equal(t, int64(2), m0.SequenceNumber)
			assert.Equal(t, int64(1), m0.MinSequenceNumber)
			assert.Equal(t, int64(3), m0.AddedFilesCount)
			assert.Equal(t, int64(1), m0.ExistingFilesCount)
			assert.Equal(t, int64(300), m0.AddedRowsCount)
			assert.Equal(t, int64(100), m0.ExistingRowsCount)
			require.Len(t, m0.Partitions, 1)
			assert.Equal(t, []byte("2025-08-01"), m0.Partitions[0].LowerBound)
			assert.Equal(t, []byte("2025-08-20"), m0.Partitions[0].UpperBound)
			require.NotNil(t, m0.Partitions[0].ContainsNaN)
			assert.False(t, *m0.Partitions[0].ContainsNaN)
			assert.Nil(t, m0.KeyMetadata)

			m1 := list.Manifests[1]
			assert.Equal(t, iceberg.ManifestDeletes, m1.Content)
			assert.Nil(t, m1.Partitions)
			assert.Equal(t, []byte{0xca, 0xfe}, m1.KeyMetadata)
		})
	}
}

func TestDecodeManifestList_EmptyPartitionsArray(t *testing.T) {
	data := icebergtest.ManifestList(avro.CodecNull, icebergtest.ListEntry{Path: "s3://b/m.avro"})

	list, err := iceberg.DecodeManifestList(data)
	require.NoError(t, err)
	require.Len(t, list.Manifests, 1)
	assert.NotNil(t, list.Manifests[0].Partitions)
	assert.Empty(t, list.Manifests[0].Partitions)
}

func TestDecodeManifestList_UnknownContent(t *testing.T) {
	entries := sampleListEntries()
	entries[1].Content = 7
	data := icebergtest.ManifestList(avro.CodecNull, entries...)

	list, err := iceberg.DecodeManifestList(data)
	require.Error(t, err)
	assert.Nil(t, list)
	assert.ErrorIs(t, err, iceberg.ErrUnknownContent)

	var de *iceberg.DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 1, de.Record)
	assert.Equal(t, "content", de.Field)
}

func TestDecodeManifestList_Truncated(t *testing.T) {
	var records []byte
	records = icebergtest.AppendListEntry(records, sampleListEntries()[0])
	records = records[:len(records)-3]

	data := avrotest.Single(icebergtest.ManifestListSchema, avro.CodecNull, 1, records)

	_, err := iceberg.DecodeManifestList(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, iceberg.ErrTruncatedRecord)
	assert.ErrorIs(t, err, avro.ErrEndOfData)
}

func TestDecodeManifestList_RecordCountTooHigh(t *testing.T) {
	records := icebergtest.AppendListEntry(nil, sampleListEntries()[0])
	data := avrotest.Single(icebergtest.ManifestListSchema, avro.CodecNull, 2, records)

	_, err := iceberg.DecodeManifestList(data)
	assert.ErrorIs(t, err, iceberg.ErrTruncatedRecord)
}

func TestDecodeManifestList_LeftoverBytes(t *testing.T) {
	records := icebergtest.AppendListEntry(nil, sampleListEntries()[0])
	records = append(records, 0x00)
	data := avrotest.Single(icebergtest.ManifestListSchema, avro.CodecNull, 1, records)

	_, err := iceberg.DecodeManifestList(data)
	assert.ErrorIs(t, err, iceberg.ErrContainerFormat)
}

func TestDecodeManifestList_SchemaMismatch(t *testing.T) {
	swapped := strings.Replace(icebergtest.ManifestListSchema,
		`{"name":"manifest_path","type":"string","doc":"Location URI with FS scheme","field-id":500},
{"name":"manifest_length","type":"long","field-id":501},`,
		`{"name":"manifest_length","type":"long","field-id":501},
{"name":"manifest_path","type":"string","doc":"Location URI with FS scheme","field-id":500},`, 1)
	require.NotEqual(t, icebergtest.ManifestListSchema, swapped)

	retyped := strings.Replace(icebergtest.ManifestListSchema,
		`{"name":"content","type":"int","field-id":517}`,
		`{"name":"content","type":"string","field-id":517}`, 1)
	require.NotEqual(t, icebergtest.ManifestListSchema, retyped)

	tests := []struct {
		name   string
		schema string
	}{
		{"wrong record name", strings.Replace(icebergtest.ManifestListSchema, `"name":"manifest_file"`, `"name":"manifest_entry"`, 1)},
		{"not a record", `{"type":"array","items":"long"}`},
		{"reordered fields", swapped},
		{"retyped field", retyped},
		{"too few fields", `{"type":"record","name":"manifest_file","fields":[{"name":"manifest_path","type":"string","field-id":500}]}`},
		{"invalid schema json", `{"type":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := icebergtest.AppendListEntry(nil, sampleListEntries()[0])
			data := avrotest.Single(tt.schema, avro.CodecNull, 1, records)

			_, err := iceberg.DecodeManifestList(data)
			require.Error(t, err)
			assert.ErrorIs(t, err, iceberg.ErrSchemaMismatch)
		})
	}
}

func TestDecodeManifestList_TrailingFieldsSkipped(t *testing.T) {
	schema := strings.Replace(icebergtest.ManifestListSchema,
		`{"name":"key_metadata","type":["null","bytes"],"default":null,"field-id":519}]}`,
		`{"name":"key_metadata","type":["null","bytes"],"default":null,"field-id":519},
{"name":"first_row_id","type":["null","long"],"default":null,"field-id":520}]}`, 1)
	require.NotEqual(t, icebergtest.ManifestListSchema, schema)

	records := icebergtest.AppendListEntry(nil, sampleListEntries()[0])
	records = avro.AppendInt(records, 1)
	records = avro.AppendInt(records, 1000)

	list, err := iceberg.DecodeManifestList(avrotest.Single(schema, avro.CodecNull, 1, records))
	require.NoError(t, err)
	require.Len(t, list.Manifests, 1)
	assert.Equal(t, "s3://warehouse/db/t/metadata/m0.avro", list.Manifests[0].ManifestPath)
}

func TestDecodeManifestList_ContainerErrors(t *testing.T) {
	data := icebergtest.ManifestList(avro.CodecNull, sampleListEntries()...)
	data[0] = 'X'

	_, err := iceberg.DecodeManifestList(data)
	assert.ErrorIs(t, err, iceberg.ErrContainerFormat)

	codec := icebergtest.ManifestList("snappy", sampleListEntries()...)
	_, err = iceberg.DecodeManifestList(codec)
	assert.ErrorIs(t, err, iceberg.ErrUnsupportedCodec)
}

func TestDecodeManifestList_HugeRecordCount(t *testing.T) {
	records := icebergtest.AppendListEntry(nil, sampleListEntries()[0])

	for _, data := range [][]byte{
		avrotest.Single(icebergtest.ManifestListSchema, avro.CodecNull, 1<<50, nil),
		avrotest.Single(icebergtest.ManifestListSchema, avro.CodecNull, 1<<50, records),
	} {
		var list *iceberg.ManifestList
		var err error
		require.NotPanics(t, func() { list, err = iceberg.DecodeManifestList(data) })
		assert.Nil(t, list)
		assert.ErrorIs(t, err, iceberg.ErrTruncatedRecord)
	}
}

func TestDecodeManifestList_HostileBlockCounts(t *testing.T) {
	withNulls := strings.Replace(icebergtest.ManifestListSchema,
		`{"name":"key_metadata","type":["null","bytes"],"default":null,"field-id":519}]}`,
		`{"name":"key_metadata","type":["null","bytes"],"default":null,"field-id":519},
{"name":"markers","type":{"type":"array","items":"null"}}]}`, 1)
	require.NotEqual(t, icebergtest.ManifestListSchema, withNulls)

	hugePartitions := avro.AppendString(nil, "s3://b/m.avro")
	for range 12 {
		hugePartitions = avro.AppendInt(hugePartitions, 0)
	}
	hugePartitions = avro.AppendInt(hugePartitions, 1)
	hugePartitions = avro.AppendInt(hugePartitions, 1<<40)
	hugePartitions = avro.AppendInt(hugePartitions, 0)
	hugePartitions = avro.AppendInt(hugePartitions, 0)

	nullMarkers := icebergtest.AppendListEntry(nil, sampleListEntries()[0])
	nullMarkers = avro.AppendInt(nullMarkers, 1<<40)
	nullMarkers = avro.AppendInt(nullMarkers, 0)

	tests := []struct {
		name    string
		schema  string
		records []byte
		field   string
		wantErr error
	}{
		{"partitions count beyond data", icebergtest.ManifestListSchema, hugePartitions, "partitions", iceberg.ErrTruncatedRecord},
		{"huge array of nulls", withNulls, nullMarkers, "markers", iceberg.ErrContainerFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := avrotest.Single(tt.schema, avro.CodecNull, 1, tt.records)

			_, err := iceberg.DecodeManifestList(data)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var de *iceberg.DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, 0, de.Record)
			assert.Equal(t, tt.field, de.Field)
		})
	}
}
