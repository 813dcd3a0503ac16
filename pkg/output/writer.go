package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits JSONL records. Implementations must be safe for concurrent
// use; each call writes one complete line.
type Writer interface {
	WriteTable(ctx context.Context, rec *TableRecord) error
	WriteSnapshot(ctx context.Context, rec *SnapshotRecord) error
	WriteManifest(ctx context.Context, rec *ManifestRecord) error
	WriteFile(ctx context.Context, rec *FileRecord) error
	WriteSignature(ctx context.Context, rec *SignatureRecord) error
	WriteError(ctx context.Context, rec *ErrorRecord) error
	WriteSummary(ctx context.Context, rec *SummaryRecord) error

	// Close stops further writes. It does not close the underlying stream.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
// Writes are serialized so lines never interleave.
type JSONLWriter struct {
	w        io.Writer
	jobID    string
	provider string
	now      func() time.Time

	mu     sync.Mutex
	closed bool
}

// NewJSONLWriter creates a writer stamping every record with jobID and
// provider.
func NewJSONLWriter(w io.Writer, jobID, provider string) *JSONLWriter {
	return &JSONLWriter{
		w:        w,
		jobID:    jobID,
		provider: provider,
		now:      time.Now,
	}
}

func (jw *JSONLWriter) WriteTable(ctx context.Context, rec *TableRecord) error {
	return jw.writeRecord(ctx, TypeTable, rec)
}

func (jw *JSONLWriter) WriteSnapshot(ctx context.Context, rec *SnapshotRecord) error {
	return jw.writeRecord(ctx, TypeSnapshot, rec)
}

func (jw *JSONLWriter) WriteManifest(ctx context.Context, rec *ManifestRecord) error {
	return jw.writeRecord(ctx, TypeManifest, rec)
}

func (jw *JSONLWriter) WriteFile(ctx context.Context, rec *FileRecord) error {
	return jw.writeRecord(ctx, TypeFile, rec)
}

func (jw *JSONLWriter) WriteSignature(ctx context.Context, rec *SignatureRecord) error {
	return jw.writeRecord(ctx, TypeSignature, rec)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, rec *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, rec)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, rec *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, rec)
}

// Close marks the writer closed.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.closed = true
	return nil
}

func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Payload is marshaled outside the lock.
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(Record{
		Type:     recordType,
		TS:       jw.now().UTC(),
		JobID:    jw.jobID,
		Provider: jw.provider,
		Data:     dataBytes,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	line = append(line, '\n')
	if err := writeAll(jw.w, line); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeAll loops over short writes so a line is never truncated.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ Writer = (*JSONLWriter)(nil)
