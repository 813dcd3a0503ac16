package iceberg

import (
	"fmt"

	"github.com/3leaps/icenimbus/pkg/avro"
)

// fieldSpec is one position of an expected record layout. A schema field
// matches by field-id when it carries one, otherwise by name.
type fieldSpec struct {
	id   int
	name string
	alt  string
	kind avro.Kind
}

func (w fieldSpec) matches(f *avro.Field) bool {
	if f.HasID {
		return f.ID == w.id
	}
	return f.Name == w.name || (w.alt != "" && f.Name == w.alt)
}

// valueKind returns the kind of t, looking through an optional union.
func valueKind(t *avro.Schema) avro.Kind {
	if inner, _, ok := t.Optional(); ok {
		return inner.Kind
	}
	return t.Kind
}

func kindCompatible(want, got avro.Kind) bool {
	switch want {
	case avro.KindLong:
		return got == avro.KindInt || got == avro.KindLong
	case avro.KindString:
		return got == avro.KindString || got == avro.KindBytes
	}
	return want == got
}

// checkRecord verifies that s is a record called name whose leading fields
// follow want in order. Fields after the expected prefix are allowed.
func checkRecord(s *avro.Schema, name string, want []fieldSpec) error {
	if s.Kind != avro.KindRecord {
		return fmt.Errorf("%w: kind %q, want record", ErrSchemaMismatch, s.Kind)
	}
	if name != "" && s.Name != name {
		return fmt.Errorf("%w: record name %q, want %q", ErrSchemaMismatch, s.Name, name)
	}
	if len(s.Fields) < len(want) {
		return fmt.Errorf("%w: record %q has %d fields, want at least %d", ErrSchemaMismatch, s.Name, len(s.Fields), len(want))
	}
	for i, w := range want {
		f := s.Fields[i]
		if !w.matches(f) {
			return fmt.Errorf("%w: field %d of %q is %q (id %d), want %q (id %d)",
				ErrSchemaMismatch, i, s.Name, f.Name, f.ID, w.name, w.id)
		}
		if w.kind != "" && !kindCompatible(w.kind, valueKind(f.Type)) {
			return fmt.Errorf("%w: field %q has type %q, want %q", ErrSchemaMismatch, f.Name, valueKind(f.Type), w.kind)
		}
	}
	return nil
}

// containerSchema decodes the container and parses its embedded schema.
func containerSchema(op string, data []byte) (*avro.Container, *avro.Schema, error) {
	c, err := avro.DecodeContainer(data)
	if err != nil {
		return nil, nil, fileError(op, err)
	}
	s, err := c.Schema()
	if err != nil {
		return nil, nil, fileError(op, fmt.Errorf("%w: %w", ErrSchemaMismatch, err))
	}
	return c, s, nil
}

// optional reads the union index when t is a union and reports whether a
// non-null value follows. It returns the schema of that value.
func optional(r *avro.Reader, t *avro.Schema) (*avro.Schema, bool, error) {
	if t.Kind != avro.KindUnion {
		return t, true, nil
	}
	b, err := avro.ReadUnion(r, t)
	if err != nil {
		return nil, false, err
	}
	return b, b.Kind != avro.KindNull, nil
}

func readLong(r *avro.Reader, t *avro.Schema) (int64, bool, error) {
	_, ok, err := optional(r, t)
	if err != nil || !ok {
		return 0, false, err
	}
	v, err := r.ReadInt()
	return v, err == nil, err
}

func readString(r *avro.Reader, t *avro.Schema) (string, bool, error) {
	_, ok, err := optional(r, t)
	if err != nil || !ok {
		return "", false, err
	}
	v, err := r.ReadString()
	return v, err == nil, err
}

func readBytes(r *avro.Reader, t *avro.Schema) ([]byte, error) {
	_, ok, err := optional(r, t)
	if err != nil || !ok {
		return nil, err
	}
	b, err := r.ReadBytesPrefixed()
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func readBool(r *avro.Reader, t *avro.Schema) (bool, bool, error) {
	_, ok, err := optional(r, t)
	if err != nil || !ok {
		return false, false, err
	}
	v, err := r.ReadBool()
	return v, err == nil, err
}
