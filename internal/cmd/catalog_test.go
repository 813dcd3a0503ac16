package cmd

import (
	"path/filepath"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/icenimbus/pkg/catalogstore"
	"github.com/3leaps/icenimbus/pkg/output"
)

func TestCatalogCommands(t *testing.T) {
	isolate(t)
	root := sampleWarehouse(t)
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	catalog := func(args ...string) []string {
		return fileArgs(root, append(append([]string{"catalog"}, args...), "--db", dbPath)...)
	}

	out, err := runCLI(t, catalog("sync", sampleTableURI)...)
	require.NoError(t, err)
	records := decodeRecords(t, out)
	require.Len(t, records, 2)
	assert.Equal(t, output.TypeTable, records[0].Type)
	assert.Equal(t, output.TypeSummary, records[1].Type)

	t.Run("tables", func(t *testing.T) {
		out, err := runCLI(t, catalog("tables")...)
		require.NoError(t, err)
		records := decodeRecords(t, out)
		require.Len(t, records, 1)
		assert.Equal(t, "catalog", records[0].Provider)

		rec := decodeData[output.TableRecord](t, records[0])
		assert.Equal(t, sampleTableUUID, rec.UUID)
		assert.Equal(t, 2, rec.Snapshots)
		require.NotNil(t, rec.CurrentSnapshotID)
		assert.Equal(t, int64(2), *rec.CurrentSnapshotID)
		assert.Equal(t, "analytics", rec.Properties["owner"])
	})

	t.Run("snapshots by location", func(t *testing.T) {
		out, err := runCLI(t, catalog("snapshots", sampleTableURI+"/")...)
		require.NoError(t, err)
		records := decodeRecords(t, out)
		require.Len(t, records, 2)
		assert.True(t, decodeData[output.SnapshotRecord](t, records[1]).Current)
	})

	t.Run("files", func(t *testing.T) {
		tests := []struct {
			name  string
			flags []string
			want  int
		}{
			{name: "all", want: 3},
			{name: "data", flags: []string{"--content", "data"}, want: 2},
			{name: "prefix", flags: []string{"--prefix", sampleTableURI + "/data/dt=2025-08-20/"}, want: 1},
			{name: "limit", flags: []string{"-n", "1"}, want: 1},
			{name: "snapshot zero", flags: []string{"--snapshot-id", "0"}, want: 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				out, err := runCLI(t, catalog(append([]string{"files", sampleTableUUID}, tt.flags...)...)...)
				require.NoError(t, err)
				files := recordsOfType(decodeRecords(t, out), output.TypeFile)
				assert.Len(t, files, tt.want)
			})
		}
	})

	t.Run("resync is idempotent", func(t *testing.T) {
		_, err := runCLI(t, catalog("sync", sampleTableURI)...)
		require.NoError(t, err)

		out, err := runCLI(t, catalog("files", sampleTableUUID)...)
		require.NoError(t, err)
		assert.Len(t, recordsOfType(decodeRecords(t, out), output.TypeFile), 3)
	})

	t.Run("unknown table", func(t *testing.T) {
		_, err := runCLI(t, catalog("snapshots", "no-such-table")...)
		require.Error(t, err)
		assert.Equal(t, foundry.ExitFileNotFound, ExitCode(err))
		assert.ErrorIs(t, err, catalogstore.ErrTableNotFound)
	})
}

func TestCatalogSync_PartialFailure(t *testing.T) {
	isolate(t)
	root := sampleWarehouse(t)
	dbPath := filepath.Join(t.TempDir(), "catalog.db")

	out, err := runCLI(t, fileArgs(root, "catalog", "sync", sampleTableURI, "s3://warehouse/db/missing", "--db", dbPath)...)
	require.Error(t, err)
	assert.Equal(t, foundry.ExitFileNotFound, ExitCode(err))

	records := decodeRecords(t, out)
	assert.Len(t, recordsOfType(records, output.TypeTable), 1)
	errs := recordsOfType(records, output.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, "s3://warehouse/db/missing/", decodeData[output.ErrorRecord](t, errs[0]).URI)

	// The table that could be read was still recorded.
	out, err = runCLI(t, fileArgs(root, "catalog", "tables", "--db", dbPath)...)
	require.NoError(t, err)
	assert.Len(t, decodeRecords(t, out), 1)
}

func TestCatalog_MissingDatabase(t *testing.T) {
	isolate(t)
	_, err := runCLI(t, fileArgs(sampleWarehouse(t), "catalog", "tables")...)
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}
