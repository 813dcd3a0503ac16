// Package output writes table inspection results as JSONL.
//
// Every line is a Record envelope whose type selects the payload in Data:
// table metadata, snapshots, manifests, data files, signatures, errors and
// a closing summary. Lines can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record types, named icenimbus.<type>.v<version>.
const (
	TypeTable     = "icenimbus.table.v1"
	TypeSnapshot  = "icenimbus.snapshot.v1"
	TypeManifest  = "icenimbus.manifest.v1"
	TypeFile      = "icenimbus.file.v1"
	TypeSignature = "icenimbus.signature.v1"
	TypeError     = "icenimbus.error.v1"
	TypeSummary   = "icenimbus.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`

	// JobID correlates the records of one command invocation.
	JobID string `json:"job_id"`

	// Provider is the storage backend that served the reads ("s3",
	// "s3http", "file"). Empty for records that involve no reads.
	Provider string `json:"provider,omitempty"`

	Data json.RawMessage `json:"data"`
}

// TableRecord describes a loaded metadata file.
type TableRecord struct {
	URI                string            `json:"uri" yaml:"uri"`
	UUID               string            `json:"table_uuid" yaml:"table_uuid"`
	Location           string            `json:"location" yaml:"location"`
	FormatVersion      int               `json:"format_version" yaml:"format_version"`
	CurrentSnapshotID  *int64            `json:"current_snapshot_id" yaml:"current_snapshot_id"`
	LastSequenceNumber int64             `json:"last_sequence_number" yaml:"last_sequence_number"`
	LastUpdated        time.Time         `json:"last_updated" yaml:"last_updated"`
	Snapshots          int               `json:"snapshots" yaml:"snapshots"`
	Properties         map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// SnapshotRecord is one entry of a table's snapshot log.
type SnapshotRecord struct {
	SnapshotID     int64             `json:"snapshot_id" yaml:"snapshot_id"`
	ParentID       *int64            `json:"parent_snapshot_id,omitempty" yaml:"parent_snapshot_id,omitempty"`
	SequenceNumber int64             `json:"sequence_number" yaml:"sequence_number"`
	Timestamp      time.Time         `json:"timestamp" yaml:"timestamp"`
	ManifestList   string            `json:"manifest_list" yaml:"manifest_list"`
	Operation      string            `json:"operation,omitempty" yaml:"operation,omitempty"`
	Current        bool              `json:"current" yaml:"current"`
	Summary        map[string]string `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// ManifestRecord is one manifest of a snapshot's manifest list.
type ManifestRecord struct {
	SnapshotID        int64  `json:"snapshot_id"`
	Path              string `json:"manifest_path"`
	Length            int64  `json:"manifest_length"`
	Content           string `json:"content"`
	PartitionSpecID   int64  `json:"partition_spec_id"`
	SequenceNumber    int64  `json:"sequence_number"`
	MinSequenceNumber int64  `json:"min_sequence_number"`
	AddedSnapshotID   int64  `json:"added_snapshot_id"`
	AddedFiles        int64  `json:"added_files"`
	ExistingFiles     int64  `json:"existing_files"`
	DeletedFiles      int64  `json:"deleted_files"`
	AddedRows         int64  `json:"added_rows"`
	ExistingRows      int64  `json:"existing_rows"`
	DeletedRows       int64  `json:"deleted_rows"`
}

// FileRecord is a live data or delete file.
type FileRecord struct {
	Path               string `json:"file_path"`
	Content            string `json:"content"`
	Format             string `json:"file_format"`
	Status             string `json:"status"`
	Records            int64  `json:"record_count"`
	Size               int64  `json:"file_size_in_bytes"`
	SequenceNumber     int64  `json:"sequence_number"`
	FileSequenceNumber int64  `json:"file_sequence_number"`
	ManifestPath       string `json:"manifest_path"`
}

// SignatureRecord is the result of signing a request.
type SignatureRecord struct {
	Method        string `json:"method"`
	URL           string `json:"url"`
	Date          string `json:"x_amz_date"`
	ContentSHA256 string `json:"x_amz_content_sha256"`
	SignedHeaders string `json:"signed_headers"`
	Signature     string `json:"signature"`
	Authorization string `json:"authorization"`
}

// ErrorRecord reports a failure without aborting the remaining output.
type ErrorRecord struct {
	// Code is one of the ErrCode constants.
	Code    string `json:"code"`
	Message string `json:"message"`

	// URI is the table or file involved, if any.
	URI string `json:"uri,omitempty"`

	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeAccessDenied    = "ACCESS_DENIED"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeInvalidArgument = "INVALID_ARGUMENT"
	ErrCodeUnsupported     = "UNSUPPORTED"
	ErrCodeDecode          = "DECODE"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeThrottled       = "THROTTLED"
	ErrCodeUnavailable     = "UNAVAILABLE"
	ErrCodeInternal        = "INTERNAL"
)

// SummaryRecord closes a listing with aggregate counts.
type SummaryRecord struct {
	SnapshotID *int64 `json:"snapshot_id,omitempty"`
	Manifests  int    `json:"manifests"`
	Files      int    `json:"files"`
	Filtered   int    `json:"filtered"`
	Tombstones int    `json:"tombstones"`
	Bytes      int64  `json:"bytes_total"`
	Records    int64  `json:"records_total"`

	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`

	Errors int64 `json:"errors"`
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = errors.New("writer is closed")

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // marshal_data, marshal_record or write
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
