// Package handlers implements the read API endpoints.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/3leaps/icenimbus/internal/apperrors"
	"github.com/3leaps/icenimbus/pkg/iceberg"
	"github.com/3leaps/icenimbus/pkg/output"
	"github.com/3leaps/icenimbus/pkg/table"
)

// Tables is the table loader surface the read API needs. *table.Loader
// implements it.
type Tables interface {
	LoadMetadata(ctx context.Context, uri string) (*table.Table, error)
	LoadManifestList(ctx context.Context, t *table.Table, snap *iceberg.Snapshot) (*iceberg.ManifestList, error)
	ScanSnapshot(ctx context.Context, t *table.Table, snap *iceberg.Snapshot, f table.Filter) (*table.ScanResult, error)
}

// DefaultFileLimit caps the files returned by one /v1/table/files call.
const DefaultFileLimit = 10000

// TableHandler serves /v1/table and its sub-resources.
type TableHandler struct {
	tables Tables
	logger *zap.Logger
}

// NewTableHandler creates a handler. A nil tables makes every endpoint
// answer 503.
func NewTableHandler(tables Tables, logger *zap.Logger) *TableHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TableHandler{tables: tables, logger: logger}
}

// TableResponse is the body of GET /v1/table.
type TableResponse struct {
	Table *output.TableRecord `json:"table"`
}

// SnapshotsResponse is the body of GET /v1/table/snapshots.
type SnapshotsResponse struct {
	TableUUID string                   `json:"table_uuid"`
	Snapshots []*output.SnapshotRecord `json:"snapshots"`
}

// ManifestsResponse is the body of GET /v1/table/manifests.
type ManifestsResponse struct {
	TableUUID  string                   `json:"table_uuid"`
	SnapshotID int64                    `json:"snapshot_id"`
	Manifests  []*output.ManifestRecord `json:"manifests"`
}

// FilesResponse is the body of GET /v1/table/files.
type FilesResponse struct {
	TableUUID string                `json:"table_uuid"`
	Files     []*output.FileRecord  `json:"files"`
	Truncated bool                  `json:"truncated,omitempty"`
	Summary   *output.SummaryRecord `json:"summary"`
}

// load parses the uri parameter and loads the table. It writes the error
// response itself and returns nil on failure.
func (h *TableHandler) load(w http.ResponseWriter, r *http.Request) *table.Table {
	if h.tables == nil {
		apperrors.Write(w, r, http.StatusServiceUnavailable, apperrors.HTTPError{
			Code:    output.ErrCodeUnavailable,
			Message: "table loader not configured",
		})
		return nil
	}
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		apperrors.BadRequest(w, r, "query parameter uri is required")
		return nil
	}
	t, err := h.tables.LoadMetadata(r.Context(), uri)
	if err != nil {
		h.fail(w, r, uri, err)
		return nil
	}
	return t
}

// snapshot resolves the optional snapshot_id parameter.
func (h *TableHandler) snapshot(w http.ResponseWriter, r *http.Request, t *table.Table) *iceberg.Snapshot {
	id := iceberg.NoSnapshot
	if v := r.URL.Query().Get("snapshot_id"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			apperrors.BadRequest(w, r, "snapshot_id must be an integer")
			return nil
		}
		id = parsed
	}
	snap, err := t.Snapshot(id)
	if err != nil {
		h.fail(w, r, t.Locator.String(), err)
		return nil
	}
	return snap
}

func (h *TableHandler) fail(w http.ResponseWriter, r *http.Request, uri string, err error) {
	h.logger.Warn("table request failed",
		zap.String("path", r.URL.Path),
		zap.String("uri", uri),
		zap.String("code", output.ErrorCode(err)),
		zap.Error(err))
	apperrors.RespondWithError(w, r, err)
}

// Metadata handles GET /v1/table?uri=.
func (h *TableHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	t := h.load(w, r)
	if t == nil {
		return
	}
	writeJSON(w, http.StatusOK, TableResponse{Table: output.NewTableRecord(t.Locator.String(), t.Metadata)})
}

// Snapshots handles GET /v1/table/snapshots?uri=.
func (h *TableHandler) Snapshots(w http.ResponseWriter, r *http.Request) {
	t := h.load(w, r)
	if t == nil {
		return
	}
	writeJSON(w, http.StatusOK, SnapshotsResponse{
		TableUUID: t.Metadata.UUID,
		Snapshots: output.NewSnapshotRecords(t.Metadata),
	})
}

// Manifests handles GET /v1/table/manifests?uri=[&snapshot_id=].
func (h *TableHandler) Manifests(w http.ResponseWriter, r *http.Request) {
	t := h.load(w, r)
	if t == nil {
		return
	}
	snap := h.snapshot(w, r, t)
	if snap == nil {
		return
	}
	list, err := h.tables.LoadManifestList(r.Context(), t, snap)
	if err != nil {
		h.fail(w, r, snap.ManifestListPath, err)
		return
	}

	resp := ManifestsResponse{
		TableUUID:  t.Metadata.UUID,
		SnapshotID: snap.ID,
		Manifests:  make([]*output.ManifestRecord, 0, len(list.Manifests)),
	}
	for i := range list.Manifests {
		resp.Manifests = append(resp.Manifests, output.NewManifestRecord(snap.ID, &list.Manifests[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Files handles GET /v1/table/files?uri=. Optional parameters: include and
// exclude (repeatable globs), content, min_size, max_size, snapshot_id and
// limit.
func (h *TableHandler) Files(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := table.FilterSpec{
		Include: q["include"],
		Exclude: q["exclude"],
		Content: q["content"],
		MinSize: q.Get("min_size"),
		MaxSize: q.Get("max_size"),
	}.Build()
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}
	limit := DefaultFileLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			apperrors.BadRequest(w, r, "limit must be a positive integer")
			return
		}
		limit = n
	}

	t := h.load(w, r)
	if t == nil {
		return
	}
	snap := h.snapshot(w, r, t)
	if snap == nil {
		return
	}
	res, err := h.tables.ScanSnapshot(r.Context(), t, snap, filter)
	if err != nil {
		h.fail(w, r, t.Locator.String(), err)
		return
	}

	files := res.Files
	truncated := len(files) > limit
	if truncated {
		files = files[:limit]
	}
	resp := FilesResponse{
		TableUUID: t.Metadata.UUID,
		Files:     make([]*output.FileRecord, 0, len(files)),
		Truncated: truncated,
		Summary:   output.NewSummaryRecord(res),
	}
	for i := range files {
		resp.Files = append(resp.Files, output.NewFileRecord(&files[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}
