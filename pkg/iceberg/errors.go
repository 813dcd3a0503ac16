package iceberg

import (
	"errors"
	"fmt"

	"github.com/3leaps/icenimbus/pkg/avro"
)

// Sentinel errors for metadata decoding.
var (
	// ErrMetadataJSON indicates malformed JSON or a field with the wrong shape.
	ErrMetadataJSON = errors.New("iceberg: malformed metadata json")

	// ErrUnsupportedVersion indicates a format-version other than 2.
	ErrUnsupportedVersion = errors.New("iceberg: unsupported format version")

	// ErrSchemaMismatch indicates the embedded schema does not describe the
	// expected record shape.
	ErrSchemaMismatch = errors.New("iceberg: embedded schema mismatch")

	// ErrTruncatedRecord indicates a record ran out of bytes mid-decode.
	ErrTruncatedRecord = errors.New("iceberg: truncated record")

	// ErrUnknownContent indicates a content discriminator outside the known values.
	ErrUnknownContent = errors.New("iceberg: unknown content type")
)

// Container-level errors, re-exported for callers that only import iceberg.
var (
	ErrEndOfData        = avro.ErrEndOfData
	ErrContainerFormat  = avro.ErrContainerFormat
	ErrUnsupportedCodec = avro.ErrUnsupportedCodec
)

// DecodeError wraps a decode failure with its position.
type DecodeError struct {
	// Op is the decode operation (e.g., "manifest list").
	Op string

	// Record is the zero-based record index, or -1 when the failure is not
	// tied to a record.
	Record int

	// Field is the field being decoded, if any.
	Field string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	switch {
	case e.Record >= 0 && e.Field != "":
		return fmt.Sprintf("decode %s: record %d: %s: %v", e.Op, e.Record, e.Field, e.Err)
	case e.Record >= 0:
		return fmt.Sprintf("decode %s: record %d: %v", e.Op, e.Record, e.Err)
	case e.Field != "":
		return fmt.Sprintf("decode %s: %s: %v", e.Op, e.Field, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// recordError builds a DecodeError for a record field. Short reads are
// reported as ErrTruncatedRecord.
func recordError(op string, record int, field string, err error) error {
	if errors.Is(err, avro.ErrEndOfData) && !errors.Is(err, ErrTruncatedRecord) {
		err = fmt.Errorf("%w: %w", ErrTruncatedRecord, err)
	}
	return &DecodeError{Op: op, Record: record, Field: field, Err: err}
}

func fileError(op string, err error) error {
	return &DecodeError{Op: op, Record: -1, Err: err}
}
