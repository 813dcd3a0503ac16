package table

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/icenimbus/pkg/iceberg"
	"github.com/3leaps/icenimbus/pkg/iceberg/icebergtest"
)

func filePaths(files []DataFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.FilePath
	}
	return out
}

func TestScan(t *testing.T) {
	w := newWarehouse(t)
	ctx := context.Background()

	tests := []struct {
		name         string
		filter       Filter
		want         []string
		wantFiltered int
	}{
		{
			name: "everything",
			want: []string{
				tableURI + "/data/dt=2025-08-20/a.parquet",
				tableURI + "/data/dt=2025-08-19/b.parquet",
				tableURI + "/data/deletes/pos-1.parquet",
			},
		},
		{
			name:         "include partition",
			filter:       Filter{Include: []string{"db/t/data/dt=2025-08-20/**"}},
			want:         []string{tableURI + "/data/dt=2025-08-20/a.parquet"},
			wantFiltered: 2,
		},
		{
			name:   "exclude deletes dir",
			filter: Filter{Exclude: []string{"**/deletes/**"}},
			want: []string{
				tableURI + "/data/dt=2025-08-20/a.parquet",
				tableURI + "/data/dt=2025-08-19/b.parquet",
			},
			wantFiltered: 1,
		},
		{
			name:         "position deletes only",
			filter:       Filter{Content: []iceberg.DataFileContent{iceberg.ContentPositionDeletes}},
			want:         []string{tableURI + "/data/deletes/pos-1.parquet"},
			wantFiltered: 2,
		},
		{
			name:         "size window",
			filter:       Filter{MinSize: 300, MaxSize: 1000},
			want:         []string{tableURI + "/data/dt=2025-08-19/b.parquet", tableURI + "/data/deletes/pos-1.parquet"},
			wantFiltered: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := w.loader(t).Scan(ctx, tableURI+"/", tt.filter)
			require.NoError(t, err)
			require.NotNil(t, res.Snapshot)
			assert.Equal(t, int64(2), res.Snapshot.ID)
			assert.Len(t, res.Manifests, 2)
			assert.Equal(t, 1, res.Tombstones)
			assert.Equal(t, tt.wantFiltered, res.Filtered)
			assert.Equal(t, tt.want, filePaths(res.Files))
		})
	}
}

func TestScan_Totals(t *testing.T) {
	w := newWarehouse(t)
	res, err := w.loader(t).Scan(context.Background(), tableURI+"/", Filter{})
	require.NoError(t, err)

	assert.Equal(t, int64(4096+512+300), res.Bytes)
	assert.Equal(t, int64(100+10+3), res.Records)

	require.Len(t, res.Files, 3)
	assert.Equal(t, tableURI+"/metadata/m-data.avro", res.Files[0].ManifestPath)
	assert.Equal(t, iceberg.ManifestData, res.Files[0].ManifestContent)
	assert.Equal(t, tableURI+"/metadata/m-deletes.avro", res.Files[2].ManifestPath)
	assert.Equal(t, iceberg.ManifestDeletes, res.Files[2].ManifestContent)
	assert.Equal(t, iceberg.StatusAdded, res.Files[0].Status)
}

func TestScan_NoSnapshot(t *testing.T) {
	w := newWarehouse(t)
	empty := icebergtest.SampleTable("s3://warehouse/db/empty")
	empty.Snapshots = nil
	empty.CurrentSnapshotID = -1
	w.put(t, "db/empty/metadata/v1.metadata.json", empty.JSON())

	res, err := w.loader(t).Scan(context.Background(), "s3://warehouse/db/empty/", Filter{})
	require.NoError(t, err)
	assert.Nil(t, res.Snapshot)
	assert.Empty(t, res.Files)
	assert.Zero(t, res.Bytes)
}

func TestScan_InvalidFilter(t *testing.T) {
	w := newWarehouse(t)
	_, err := w.loader(t).Scan(context.Background(), tableURI+"/", Filter{Include: []string{"data/[x"}})
	assert.ErrorIs(t, err, ErrInvalidPattern)
	assert.Zero(t, w.opened.Load())
}

func TestScanSnapshot(t *testing.T) {
	w := newWarehouse(t)
	l := w.loader(t)
	ctx := context.Background()

	tbl, err := l.LoadMetadata(ctx, tableURI+"/")
	require.NoError(t, err)

	res, err := l.ScanSnapshot(ctx, tbl, tbl.Metadata.SnapshotByID(2), Filter{Content: []iceberg.DataFileContent{iceberg.ContentData}})
	require.NoError(t, err)
	assert.Len(t, res.Files, 2)
	assert.Equal(t, 1, res.Filtered)

	// snap-1.avro was never written.
	_, err = l.ScanSnapshot(ctx, tbl, tbl.Metadata.SnapshotByID(1), Filter{})
	assert.Error(t, err)
}
