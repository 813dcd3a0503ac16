package output

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/3leaps/icenimbus/pkg/avro"
	"github.com/3leaps/icenimbus/pkg/iceberg"
	"github.com/3leaps/icenimbus/pkg/locator"
	"github.com/3leaps/icenimbus/pkg/provider"
	"github.com/3leaps/icenimbus/pkg/sigv4"
	"github.com/3leaps/icenimbus/pkg/table"
)

// NewTableRecord summarises md loaded from uri.
func NewTableRecord(uri string, md *iceberg.TableMetadata) *TableRecord {
	rec := &TableRecord{
		URI:                uri,
		UUID:               md.UUID,
		Location:           md.Location,
		FormatVersion:      md.FormatVersion,
		LastSequenceNumber: md.LastSequenceNumber,
		LastUpdated:        md.LastUpdated(),
		Snapshots:          len(md.Snapshots),
	}
	if md.CurrentSnapshotID != iceberg.NoSnapshot {
		id := md.CurrentSnapshotID
		rec.CurrentSnapshotID = &id
	}
	if md.Properties.Len() > 0 {
		rec.Properties = md.Properties.Clone()
	}
	return rec
}

// NewSnapshotRecords returns the snapshot log of md, oldest first.
func NewSnapshotRecords(md *iceberg.TableMetadata) []*SnapshotRecord {
	out := make([]*SnapshotRecord, 0, len(md.Snapshots))
	for i := range md.Snapshots {
		s := &md.Snapshots[i]
		rec := &SnapshotRecord{
			SnapshotID:     s.ID,
			ParentID:       s.ParentID,
			SequenceNumber: s.SequenceNumber,
			Timestamp:      s.Timestamp(),
			ManifestList:   s.ManifestListPath,
			Operation:      s.Operation(),
			Current:        s.ID == md.CurrentSnapshotID,
		}
		if s.Summary.Len() > 0 {
			rec.Summary = s.Summary.Clone()
		}
		out = append(out, rec)
	}
	return out
}

// NewManifestRecord describes manifest m of snapshot snapshotID.
func NewManifestRecord(snapshotID int64, m *iceberg.ManifestListEntry) *ManifestRecord {
	return &ManifestRecord{
		SnapshotID:        snapshotID,
		Path:              m.ManifestPath,
		Length:            m.ManifestLength,
		Content:           m.Content.String(),
		PartitionSpecID:   m.PartitionSpecID,
		SequenceNumber:    m.SequenceNumber,
		MinSequenceNumber: m.MinSequenceNumber,
		AddedSnapshotID:   m.AddedSnapshotID,
		AddedFiles:        m.AddedFilesCount,
		ExistingFiles:     m.ExistingFilesCount,
		DeletedFiles:      m.DeletedFilesCount,
		AddedRows:         m.AddedRowsCount,
		ExistingRows:      m.ExistingRowsCount,
		DeletedRows:       m.DeletedRowsCount,
	}
}

// NewFileRecord describes a live file of a scan.
func NewFileRecord(f *table.DataFile) *FileRecord {
	return &FileRecord{
		Path:               f.FilePath,
		Content:            f.Content.String(),
		Format:             f.FileFormat,
		Status:             f.Status.String(),
		Records:            f.RecordCount,
		Size:               f.FileSize,
		SequenceNumber:     f.SequenceNumber,
		FileSequenceNumber: f.FileSequenceNumber,
		ManifestPath:       f.ManifestPath,
	}
}

// NewSummaryRecord totals a scan.
func NewSummaryRecord(res *table.ScanResult) *SummaryRecord {
	sum := &SummaryRecord{
		Manifests:     len(res.Manifests),
		Files:         len(res.Files),
		Filtered:      res.Filtered,
		Tombstones:    res.Tombstones,
		Bytes:         res.Bytes,
		Records:       res.Records,
		Duration:      res.Duration,
		DurationHuman: res.Duration.Round(time.Millisecond).String(),
	}
	if res.Snapshot != nil {
		id := res.Snapshot.ID
		sum.SnapshotID = &id
	}
	return sum
}

// NewSignatureRecord describes a request signed with auth, the value
// returned by Signer.Sign.
func NewSignatureRecord(req *sigv4.Request, scheme, auth string) *SignatureRecord {
	rec := &SignatureRecord{
		Method:        req.Method,
		URL:           req.URL(scheme),
		SignedHeaders: req.SignedHeaders(),
		Authorization: auth,
	}
	rec.Date, _ = req.Headers.Get(sigv4.HeaderDate)
	rec.ContentSHA256, _ = req.Headers.Get(sigv4.HeaderContentSHA256)
	if i := strings.LastIndex(auth, "Signature="); i >= 0 {
		rec.Signature = auth[i+len("Signature="):]
	}
	return rec
}

// ErrorCode classifies err into one of the ErrCode constants.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case provider.IsNotFound(err), provider.IsBucketNotFound(err):
		return ErrCodeNotFound
	case provider.IsAccessDenied(err), provider.IsInvalidCredentials(err):
		return ErrCodeAccessDenied
	case provider.IsThrottled(err):
		return ErrCodeThrottled
	case provider.IsProviderUnavailable(err):
		return ErrCodeUnavailable
	case errors.Is(err, locator.ErrInvalidLocator),
		errors.Is(err, table.ErrInvalidPattern),
		errors.Is(err, table.ErrInvalidSize),
		errors.Is(err, table.ErrInvalidContent),
		errors.Is(err, sigv4.ErrInvalidRange):
		return ErrCodeInvalidArgument
	case errors.Is(err, iceberg.ErrUnsupportedVersion),
		errors.Is(err, avro.ErrUnsupportedCodec):
		return ErrCodeUnsupported
	case errors.Is(err, table.ErrNoMetadata), errors.Is(err, table.ErrSnapshotNotFound):
		return ErrCodeNotFound
	case isDecodeError(err):
		return ErrCodeDecode
	}
	return ErrCodeInternal
}

func isDecodeError(err error) bool {
	var de *iceberg.DecodeError
	if errors.As(err, &de) {
		return true
	}
	for _, target := range []error{
		iceberg.ErrMetadataJSON,
		iceberg.ErrSchemaMismatch,
		iceberg.ErrTruncatedRecord,
		iceberg.ErrUnknownContent,
		table.ErrBadVersionHint,
		avro.ErrContainerFormat,
		avro.ErrEndOfData,
		avro.ErrInvalidSchema,
		avro.ErrNestingDepth,
		avro.ErrNegativeLength,
		avro.ErrTooLarge,
		avro.ErrVarintOverflow,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// NewErrorRecord builds an error record for err involving uri.
func NewErrorRecord(err error, uri string) *ErrorRecord {
	return &ErrorRecord{Code: ErrorCode(err), Message: err.Error(), URI: uri}
}
