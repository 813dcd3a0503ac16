package avro

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fieldSummarySchema = `{
  "type": "record",
  "name": "manifest_file",
  "fields": [
    {"name": "manifest_path", "type": "string", "field-id": 500},
    {"name": "partitions", "type": ["null", {"type": "array", "items": {
      "type": "record", "name": "r508", "fields": [
        {"name": "contains_null", "type": "boolean", "field-id": 509},
        {"name": "lower_bound", "type": ["null", "bytes"], "default": null, "field-id": 510}
      ]}, "element-id": 508}], "default": null, "field-id": 507},
    {"name": "sizes", "type": ["null", {"type": "array", "logicalType": "map", "items": {
      "type": "record", "name": "k117_v118", "fields": [
        {"name": "key", "type": "int", "field-id": 117},
        {"name": "value", "type": "long", "field-id": 118}
      ]}}], "default": null, "field-id": 108},
    {"name": "again", "type": ["null", "r508"], "default": null},
    {"name": "props", "type": {"type": "map", "values": "string"}},
    {"name": "hash", "type": {"type": "fixed", "name": "md5", "size": 16}},
    {"name": "kind", "type": {"type": "enum", "name": "kind", "symbols": ["A", "B"]}},
    {"name": "ts", "type": {"type": "long", "logicalType": "timestamp-micros"}},
    {"name": "ratio", "type": "double"},
    {"name": "weight", "type": "float"}
  ]
}`

func TestParseSchema(t *testing.T) {
	s, err := ParseSchema([]byte(fieldSummarySchema))
	require.NoError(t, err)

	assert.Equal(t, KindRecord, s.Kind)
	assert.Equal(t, "manifest_file", s.Name)
	require.Len(t, s.Fields, 10)

	f, idx := s.Field("partitions")
	require.NotNil(t, f)
	assert.Equal(t, 1, idx)
	assert.True(t, f.HasID)
	assert.Equal(t, 507, f.ID)
	assert.True(t, f.HasDefault)

	inner, nullIdx, ok := f.Type.Optional()
	require.True(t, ok)
	assert.Equal(t, 0, nullIdx)
	assert.Equal(t, KindArray, inner.Kind)
	assert.Equal(t, "r508", inner.Items.Name)

	again, _ := s.Field("again")
	assert.Same(t, inner.Items, again.Type.Branches[1])

	byID, idx := s.FieldByID(108)
	require.NotNil(t, byID)
	assert.Equal(t, "sizes", byID.Name)
	assert.Equal(t, 2, idx)

	hash, _ := s.Field("hash")
	assert.Equal(t, KindFixed, hash.Type.Kind)
	assert.Equal(t, 16, hash.Type.Size)

	ts, _ := s.Field("ts")
	assert.Equal(t, KindLong, ts.Type.Kind)
	assert.Equal(t, "timestamp-micros", ts.Type.LogicalType)

	missing, idx := s.Field("nope")
	assert.Nil(t, missing)
	assert.Equal(t, -1, idx)
}

func TestParseSchema_Errors(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"not json", `{`},
		{"unknown type", `{"type": "record", "name": "r", "fields": [{"name": "a", "type": "nope"}]}`},
		{"record without fields", `{"type": "record", "name": "r"}`},
		{"missing type", `{"name": "r"}`},
		{"fixed without size", `{"type": "fixed", "name": "f"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchema([]byte(tt.json))
			assert.ErrorIs(t, err, ErrInvalidSchema)
		})
	}
}

func TestSkip(t *testing.T) {
	s, err := ParseSchema([]byte(fieldSummarySchema))
	require.NoError(t, err)

	var buf []byte
	buf = AppendString(buf, "s3://b/m.avro")
	// partitions: one item in a regular block, one item in a sized block
	buf = AppendInt(buf, 1)
	buf = AppendInt(buf, 1)
	buf = append(buf, 1)
	buf = AppendInt(buf, 1)
	buf = AppendBytes(buf, []byte{9, 9})
	var item []byte
	item = append(item, 0)
	item = AppendInt(item, 0)
	buf = AppendInt(buf, -1)
	buf = AppendInt(buf, int64(len(item)))
	buf = append(buf, item...)
	buf = AppendInt(buf, 0)
	// sizes: null
	buf = AppendInt(buf, 0)
	// again: r508 value
	buf = AppendInt(buf, 1)
	buf = append(buf, 0)
	buf = AppendInt(buf, 0)
	// props: {"a": "b"}
	buf = AppendInt(buf, 1)
	buf = AppendString(buf, "a")
	buf = AppendString(buf, "b")
	buf = AppendInt(buf, 0)
	// hash, kind, ts, ratio, weight
	buf = append(buf, make([]byte, 16)...)
	buf = AppendInt(buf, 1)
	buf = AppendInt(buf, 1700000000000000)
	buf = append(buf, make([]byte, 8)...)
	buf = append(buf, make([]byte, 4)...)
	buf = append(buf, 0x5A)

	r := NewReader(buf)
	require.NoError(t, Skip(r, s))
	assert.Equal(t, 1, r.Remaining())
}

func TestSkip_UnionIndexOutOfRange(t *testing.T) {
	s := &Schema{Kind: KindUnion, Branches: []*Schema{{Kind: KindNull}, {Kind: KindLong}}}
	err := Skip(NewReader(AppendInt(nil, 2)), s)
	assert.ErrorIs(t, err, ErrUnionIndex)

	err = Skip(NewReader(AppendInt(nil, -1)), s)
	assert.ErrorIs(t, err, ErrUnionIndex)
}

func TestSkip_Truncated(t *testing.T) {
	s := &Schema{Kind: KindRecord, Name: "r", Fields: []*Field{
		{Name: "a", Type: &Schema{Kind: KindLong}},
		{Name: "b", Type: &Schema{Kind: KindString}},
	}}
	err := Skip(NewReader(AppendInt(nil, 7)), s)
	assert.ErrorIs(t, err, ErrEndOfData)
	assert.Contains(t, err.Error(), "b:")
}

func TestReadBlockCount(t *testing.T) {
	buf := AppendInt(nil, -2)
	buf = AppendInt(buf, 10)
	n, err := ReadBlockCount(NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = ReadBlockCount(NewReader(AppendInt(nil, 3)))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestParseSchema_RecordContainsItself(t *testing.T) {
	tests := []struct {
		name   string
		schema string
	}{
		{
			name:   "direct",
			schema: `{"type": "record", "name": "n", "fields": [{"name": "self", "type": "n"}]}`,
		},
		{
			name: "through another record",
			schema: `{"type": "record", "name": "a", "fields": [
			  {"name": "b", "type": {"type": "record", "name": "b", "fields": [{"name": "a", "type": "a"}]}}
			]}`,
		},
		{
			name: "nested below the root",
			schema: `{"type": "array", "items": {"type": "record", "name": "ns.n", "fields": [
			  {"name": "x", "type": "long"}, {"name": "self", "type": "ns.n"}
			]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchema([]byte(tt.schema))
			require.ErrorIs(t, err, ErrInvalidSchema)
			assert.Contains(t, err.Error(), "contains itself")
		})
	}
}

func TestParseSchema_RecursionThatCanEnd(t *testing.T) {
	for _, schema := range []string{
		`{"type": "record", "name": "n", "fields": [{"name": "next", "type": ["null", "n"]}]}`,
		`{"type": "record", "name": "n", "fields": [{"name": "kids", "type": {"type": "array", "items": "n"}}]}`,
		`{"type": "record", "name": "n", "fields": [{"name": "kids", "type": {"type": "map", "values": "n"}}]}`,
	} {
		_, err := ParseSchema([]byte(schema))
		assert.NoError(t, err, schema)
	}
}

func TestParseSchema_FixedSizeTooLarge(t *testing.T) {
	_, err := ParseSchema([]byte(`{"type": "fixed", "name": "f", "size": 1e18}`))
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestSkip_NestingDepth(t *testing.T) {
	s, err := ParseSchema([]byte(`{"type": "record", "name": "n", "fields": [{"name": "next", "type": ["null", "n"]}]}`))
	require.NoError(t, err)

	shallow := append(bytes.Repeat(AppendInt(nil, 1), 10), AppendInt(nil, 0)...)
	r := NewReader(shallow)
	require.NoError(t, Skip(r, s))
	assert.Equal(t, 0, r.Remaining())

	deep := append(bytes.Repeat(AppendInt(nil, 1), 10000), AppendInt(nil, 0)...)
	err = Skip(NewReader(deep), s)
	assert.ErrorIs(t, err, ErrNestingDepth)
}

func TestSkip_BlockCounts(t *testing.T) {
	nulls := &Schema{Kind: KindArray, Items: &Schema{Kind: KindNull}}
	longs := &Schema{Kind: KindArray, Items: &Schema{Kind: KindLong}}
	nullMap := &Schema{Kind: KindMap, Values: &Schema{Kind: KindNull}}

	tests := []struct {
		name    string
		schema  *Schema
		data    []byte
		wantErr error
	}{
		{
			name:   "few zero-width items",
			schema: nulls,
			data:   AppendInt(AppendInt(nil, 3), 0),
		},
		{
			name:    "huge zero-width block",
			schema:  nulls,
			data:    AppendInt(AppendInt(nil, 1<<40), 0),
			wantErr: ErrContainerFormat,
		},
		{
			name:    "zero-width items over many blocks",
			schema:  nulls,
			data:    AppendInt(AppendInt(AppendInt(nil, MaxZeroWidthItems), MaxZeroWidthItems), 0),
			wantErr: ErrContainerFormat,
		},
		{
			name:    "count beyond remaining bytes",
			schema:  longs,
			data:    AppendInt(AppendInt(nil, 1<<40), 0),
			wantErr: ErrEndOfData,
		},
		{
			name:    "map count beyond remaining bytes",
			schema:  nullMap,
			data:    AppendInt(AppendInt(nil, 1<<40), 0),
			wantErr: ErrEndOfData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Skip(NewReader(tt.data), tt.schema)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBlockReader(t *testing.T) {
	buf := AppendInt(nil, 2)
	buf = append(buf, 2, 4)
	buf = AppendInt(buf, 0)
	r := NewReader(buf)
	b := NewBlockReader(r, 1)
	n, err := b.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, r.Skip(2))
	n, err = b.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, err = NewBlockReader(NewReader(AppendInt(nil, 5)), 1).Next()
	assert.ErrorIs(t, err, ErrEndOfData)

	_, err = NewBlockReader(NewReader(AppendInt(nil, 1<<40)), 0).Next()
	assert.ErrorIs(t, err, ErrContainerFormat)
}

func TestMinSize(t *testing.T) {
	self := &Schema{Kind: KindRecord, Name: "n"}
	self.Fields = []*Field{
		{Name: "v", Type: &Schema{Kind: KindDouble}},
		{Name: "next", Type: &Schema{Kind: KindUnion, Branches: []*Schema{{Kind: KindNull}, self}}},
	}

	tests := []struct {
		name   string
		schema *Schema
		want   int
	}{
		{"null", &Schema{Kind: KindNull}, 0},
		{"boolean", &Schema{Kind: KindBoolean}, 1},
		{"long", &Schema{Kind: KindLong}, 1},
		{"float", &Schema{Kind: KindFloat}, 4},
		{"double", &Schema{Kind: KindDouble}, 8},
		{"fixed", &Schema{Kind: KindFixed, Size: 16}, 16},
		{"empty fixed", &Schema{Kind: KindFixed}, 0},
		{"string", &Schema{Kind: KindString}, 1},
		{"array", &Schema{Kind: KindArray, Items: &Schema{Kind: KindDouble}}, 1},
		{"empty record", &Schema{Kind: KindRecord}, 0},
		{"record of nulls", &Schema{Kind: KindRecord, Fields: []*Field{
			{Name: "a", Type: &Schema{Kind: KindNull}},
			{Name: "b", Type: &Schema{Kind: KindNull}},
		}}, 0},
		{"record", &Schema{Kind: KindRecord, Fields: []*Field{
			{Name: "a", Type: &Schema{Kind: KindBoolean}},
			{Name: "b", Type: &Schema{Kind: KindFloat}},
		}}, 5},
		{"recursive record", self, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MinSize(tt.schema))
		})
	}
}
