package avro

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrUnionIndex indicates a union branch index outside the declared branches.
var ErrUnionIndex = errors.New("avro: union branch index out of range")

const (
	// MaxDepth bounds how deeply Skip descends into nested values.
	MaxDepth = 64

	// MaxZeroWidthItems bounds the items of one array or map whose items
	// encode to zero bytes. Such items cannot be checked against the bytes
	// remaining.
	MaxZeroWidthItems = 1 << 16
)

// Kind is the type of a schema node.
type Kind string

const (
	KindNull    Kind = "null"
	KindBoolean Kind = "boolean"
	KindInt     Kind = "int"
	KindLong    Kind = "long"
	KindFloat   Kind = "float"
	KindDouble  Kind = "double"
	KindBytes   Kind = "bytes"
	KindString  Kind = "string"
	KindRecord  Kind = "record"
	KindEnum    Kind = "enum"
	KindArray   Kind = "array"
	KindMap     Kind = "map"
	KindFixed   Kind = "fixed"
	KindUnion   Kind = "union"
)

func primitiveKind(name string) (Kind, bool) {
	switch k := Kind(name); k {
	case KindNull, KindBoolean, KindInt, KindLong, KindFloat, KindDouble, KindBytes, KindString:
		return k, true
	}
	return "", false
}

// Schema is a node of a parsed embedded schema. Only the attributes needed to
// validate field order and to skip values are kept.
type Schema struct {
	Kind        Kind
	Name        string
	Namespace   string
	LogicalType string

	Fields   []*Field  // record
	Symbols  []string  // enum
	Items    *Schema   // array
	Values   *Schema   // map
	Branches []*Schema // union
	Size     int       // fixed
}

// Field is a record field. ID holds the Iceberg field-id attribute when
// HasID is set.
type Field struct {
	Name       string
	Aliases    []string
	ID         int
	HasID      bool
	HasDefault bool
	Type       *Schema
}

// FullName returns namespace.name, or name when there is no namespace.
func (s *Schema) FullName() string {
	if s.Namespace == "" {
		return s.Name
	}
	return s.Namespace + "." + s.Name
}

// Field returns the record field called name and its position, or nil and -1.
func (s *Schema) Field(name string) (*Field, int) {
	for i, f := range s.Fields {
		if f.Name == name {
			return f, i
		}
	}
	return nil, -1
}

// FieldByID returns the record field with the given field-id and its
// position, or nil and -1.
func (s *Schema) FieldByID(id int) (*Field, int) {
	for i, f := range s.Fields {
		if f.HasID && f.ID == id {
			return f, i
		}
	}
	return nil, -1
}

// Optional reports whether s is a two-branch union with a null branch. It
// returns the non-null branch and the index of the null branch.
func (s *Schema) Optional() (inner *Schema, nullIndex int, ok bool) {
	if s.Kind != KindUnion || len(s.Branches) != 2 {
		return nil, -1, false
	}
	switch {
	case s.Branches[0].Kind == KindNull:
		return s.Branches[1], 0, true
	case s.Branches[1].Kind == KindNull:
		return s.Branches[0], 1, true
	}
	return nil, -1, false
}

// ParseSchema parses a JSON schema document.
func ParseSchema(data []byte) (*Schema, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	p := schemaParser{named: make(map[string]*Schema)}
	s, err := p.parse(raw, "")
	if err != nil {
		return nil, err
	}
	if err := checkTermination(s); err != nil {
		return nil, err
	}
	return s, nil
}

// checkTermination rejects a record that contains itself through fields of
// record type alone. Such a value never ends. Recursion through a union,
// array or map is allowed since those can stop.
func checkTermination(root *Schema) error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[*Schema]int)
	var visit func(s *Schema) error
	visit = func(s *Schema) error {
		switch state[s] {
		case visiting:
			return fmt.Errorf("%w: record %q contains itself", ErrInvalidSchema, s.FullName())
		case done:
			return nil
		}
		state[s] = visiting
		for _, f := range s.Fields {
			if f.Type.Kind == KindRecord {
				if err := visit(f.Type); err != nil {
					return err
				}
			}
		}
		state[s] = done
		return nil
	}
	for _, s := range collect(root) {
		if s.Kind != KindRecord {
			continue
		}
		if err := visit(s); err != nil {
			return err
		}
	}
	return nil
}

// collect returns every node reachable from root, each once.
func collect(root *Schema) []*Schema {
	seen := make(map[*Schema]bool)
	var out []*Schema
	var walk func(s *Schema)
	walk = func(s *Schema) {
		if s == nil || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
		for _, f := range s.Fields {
			walk(f.Type)
		}
		for _, b := range s.Branches {
			walk(b)
		}
		walk(s.Items)
		walk(s.Values)
	}
	walk(root)
	return out
}

// MinSize returns the fewest bytes a value of schema s can encode to. Zero
// means the value may take no bytes at all.
func MinSize(s *Schema) int {
	return minSize(s, make(map[*Schema]bool))
}

func minSize(s *Schema, active map[*Schema]bool) int {
	switch s.Kind {
	case KindNull:
		return 0
	case KindFloat:
		return 4
	case KindDouble:
		return 8
	case KindFixed:
		return s.Size
	case KindRecord:
		if active[s] {
			return 0
		}
		active[s] = true
		defer delete(active, s)
		total := 0
		for _, f := range s.Fields {
			total += minSize(f.Type, active)
			if total > math.MaxInt32 {
				return math.MaxInt32
			}
		}
		return total
	}
	return 1
}

type schemaParser struct {
	named map[string]*Schema
}

func (p *schemaParser) parse(v any, namespace string) (*Schema, error) {
	switch t := v.(type) {
	case string:
		if k, ok := primitiveKind(t); ok {
			return &Schema{Kind: k}, nil
		}
		if s, ok := p.named[t]; ok {
			return s, nil
		}
		if s, ok := p.named[namespace+"."+t]; ok && namespace != "" {
			return s, nil
		}
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidSchema, t)

	case []any:
		u := &Schema{Kind: KindUnion}
		for i, b := range t {
			bs, err := p.parse(b, namespace)
			if err != nil {
				return nil, fmt.Errorf("union branch %d: %w", i, err)
			}
			u.Branches = append(u.Branches, bs)
		}
		return u, nil

	case map[string]any:
		return p.parseObject(t, namespace)
	}
	return nil, fmt.Errorf("%w: unexpected %T", ErrInvalidSchema, v)
}

func (p *schemaParser) parseObject(obj map[string]any, namespace string) (*Schema, error) {
	typ, ok := obj["type"]
	if !ok {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidSchema)
	}
	name, ok := typ.(string)
	if !ok {
		return p.parse(typ, namespace)
	}

	logical, _ := obj["logicalType"].(string)
	if k, ok := primitiveKind(name); ok {
		return &Schema{Kind: k, LogicalType: logical}, nil
	}

	switch name {
	case "record", "error":
		s := &Schema{Kind: KindRecord, LogicalType: logical}
		ns := p.register(s, obj, namespace)
		fields, ok := obj["fields"].([]any)
		if !ok {
			return nil, fmt.Errorf("%w: record %q without fields", ErrInvalidSchema, s.Name)
		}
		for i, fv := range fields {
			f, err := p.parseField(fv, ns)
			if err != nil {
				return nil, fmt.Errorf("record %q field %d: %w", s.Name, i, err)
			}
			s.Fields = append(s.Fields, f)
		}
		return s, nil

	case "enum":
		s := &Schema{Kind: KindEnum, LogicalType: logical}
		p.register(s, obj, namespace)
		syms, _ := obj["symbols"].([]any)
		for _, sym := range syms {
			if str, ok := sym.(string); ok {
				s.Symbols = append(s.Symbols, str)
			}
		}
		return s, nil

	case "fixed":
		s := &Schema{Kind: KindFixed, LogicalType: logical}
		p.register(s, obj, namespace)
		size, ok := obj["size"].(float64)
		if !ok || size < 0 || size > math.MaxInt32 {
			return nil, fmt.Errorf("%w: fixed %q without valid size", ErrInvalidSchema, s.Name)
		}
		s.Size = int(size)
		return s, nil

	case "array":
		items, err := p.parse(obj["items"], namespace)
		if err != nil {
			return nil, fmt.Errorf("array items: %w", err)
		}
		return &Schema{Kind: KindArray, Items: items, LogicalType: logical}, nil

	case "map":
		values, err := p.parse(obj["values"], namespace)
		if err != nil {
			return nil, fmt.Errorf("map values: %w", err)
		}
		return &Schema{Kind: KindMap, Values: values, LogicalType: logical}, nil
	}

	return p.parse(name, namespace)
}

// register records a named type before its body is parsed so that it can
// refer to itself. It returns the namespace in effect for nested types.
func (p *schemaParser) register(s *Schema, obj map[string]any, namespace string) string {
	s.Name, _ = obj["name"].(string)
	if ns, ok := obj["namespace"].(string); ok {
		s.Namespace = ns
	} else {
		s.Namespace = namespace
	}
	if s.Name != "" {
		p.named[s.Name] = s
		p.named[s.FullName()] = s
	}
	return s.Namespace
}

func (p *schemaParser) parseField(v any, namespace string) (*Field, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: field is %T", ErrInvalidSchema, v)
	}
	f := &Field{}
	f.Name, _ = obj["name"].(string)
	if id, ok := obj["field-id"].(float64); ok {
		f.ID = int(id)
		f.HasID = true
	}
	_, f.HasDefault = obj["default"]
	if aliases, ok := obj["aliases"].([]any); ok {
		for _, a := range aliases {
			if s, ok := a.(string); ok {
				f.Aliases = append(f.Aliases, s)
			}
		}
	}
	t, err := p.parse(obj["type"], namespace)
	if err != nil {
		return nil, err
	}
	f.Type = t
	return f, nil
}

// Skip consumes one value of schema s from r. Values nested deeper than
// MaxDepth fail with ErrNestingDepth.
func Skip(r *Reader, s *Schema) error {
	return skip(r, s, 0)
}

func skip(r *Reader, s *Schema, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("%w: more than %d levels", ErrNestingDepth, MaxDepth)
	}
	depth++
	switch s.Kind {
	case KindNull:
		return nil
	case KindBoolean:
		return r.Skip(1)
	case KindInt, KindLong, KindEnum:
		_, err := r.ReadInt()
		return err
	case KindFloat:
		return r.Skip(4)
	case KindDouble:
		return r.Skip(8)
	case KindBytes, KindString:
		_, err := r.ReadBytesPrefixed()
		return err
	case KindFixed:
		return r.Skip(s.Size)
	case KindRecord:
		for _, f := range s.Fields {
			if err := skip(r, f.Type, depth); err != nil {
				return fmt.Errorf("%s: %w", f.Name, err)
			}
		}
		return nil
	case KindUnion:
		b, err := ReadUnion(r, s)
		if err != nil {
			return err
		}
		return skip(r, b, depth)
	case KindArray:
		return skipBlocks(r, MinSize(s.Items), func() error { return skip(r, s.Items, depth) })
	case KindMap:
		return skipBlocks(r, 1+MinSize(s.Values), func() error {
			if _, err := r.ReadBytesPrefixed(); err != nil {
				return err
			}
			return skip(r, s.Values, depth)
		})
	}
	return fmt.Errorf("%w: cannot skip kind %q", ErrInvalidSchema, s.Kind)
}

// ReadUnion reads a union branch index and returns the selected branch.
func ReadUnion(r *Reader, s *Schema) (*Schema, error) {
	off := r.Offset()
	idx, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= int64(len(s.Branches)) {
		return nil, fmt.Errorf("%w: %d of %d at offset %d", ErrUnionIndex, idx, len(s.Branches), off)
	}
	return s.Branches[idx], nil
}

// ReadBlockCount reads the item count of the next array or map block. A
// negative count is followed by the block size in bytes, which is consumed;
// the absolute count is returned.
func ReadBlockCount(r *Reader) (int64, error) {
	n, err := r.ReadInt()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		if _, err := r.ReadInt(); err != nil {
			return 0, err
		}
		n = -n
	}
	return n, nil
}

// BlockReader reads the block counts of one array or map value and rejects
// counts that the remaining bytes cannot hold.
type BlockReader struct {
	r     *Reader
	width int
	total int64
}

// NewBlockReader returns a BlockReader for items of at least width bytes.
func NewBlockReader(r *Reader, width int) *BlockReader {
	return &BlockReader{r: r, width: width}
}

// Next returns the item count of the next block, or 0 at the end of the
// value.
func (b *BlockReader) Next() (int64, error) {
	n, err := ReadBlockCount(b.r)
	if err != nil {
		return 0, err
	}
	if err := b.check(n); err != nil {
		return 0, err
	}
	return n, nil
}

func (b *BlockReader) check(n int64) error {
	switch {
	case n < 0:
		return fmt.Errorf("%w: block count %d", ErrNegativeLength, n)
	case n == 0:
		return nil
	case b.width == 0:
		if n > MaxZeroWidthItems-b.total {
			return fmt.Errorf("%w: more than %d zero-width items at offset %d", ErrContainerFormat, MaxZeroWidthItems, b.r.Offset())
		}
		b.total += n
	case n > int64(b.r.Remaining()/b.width):
		return fmt.Errorf("%w: block of %d items with %d bytes left", ErrEndOfData, n, b.r.Remaining())
	}
	return nil
}

func skipBlocks(r *Reader, width int, item func() error) error {
	b := NewBlockReader(r, width)
	for {
		n, err := r.ReadInt()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if n < 0 {
			size, err := r.ReadInt()
			if err != nil {
				return err
			}
			if size < 0 {
				return fmt.Errorf("%w: block size %d", ErrNegativeLength, size)
			}
			if err := r.Skip(int(size)); err != nil {
				return err
			}
			continue
		}
		if err := b.check(n); err != nil {
			return err
		}
		if width == 0 {
			continue
		}
		for i := int64(0); i < n; i++ {
			if err := item(); err != nil {
				return err
			}
		}
	}
}
