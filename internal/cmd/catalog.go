package cmd

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/icenimbus/internal/config"
	"github.com/3leaps/icenimbus/internal/observability"
	"github.com/3leaps/icenimbus/pkg/catalogstore"
	"github.com/3leaps/icenimbus/pkg/iceberg"
	"github.com/3leaps/icenimbus/pkg/output"
	"github.com/3leaps/icenimbus/pkg/table"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Record table metadata in a local catalog database",
	Long: `Sync tables into a SQLite (or libsql) catalog and query what was
recorded without touching object storage again.

Examples:
  icenimbus catalog sync s3://warehouse/db/events s3://warehouse/db/users --db catalog.db
  icenimbus catalog tables --db catalog.db
  icenimbus catalog snapshots s3://warehouse/db/events --db catalog.db
  icenimbus catalog files 9c12d441-03fe-4693-9a96-a0705ddf69c1 --content data --db catalog.db`,
}

var catalogSyncCmd = &cobra.Command{
	Use:   "sync <table-uri>...",
	Short: "Scan tables and store their current snapshot",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCatalogSync,
}

var catalogTablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List recorded tables",
	Args:  cobra.NoArgs,
	RunE:  runCatalogTables,
}

var catalogSnapshotsCmd = &cobra.Command{
	Use:   "snapshots <table>",
	Short: "List the recorded snapshot log of a table",
	Long: `List the recorded snapshot log of a table. The table is named by its
uuid, its location or the metadata URI it was synced from.`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogSnapshots,
}

var catalogFilesCmd = &cobra.Command{
	Use:   "files <table>",
	Short: "List recorded files of a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogFiles,
}

var (
	catalogFilesSnapshotID int64
	catalogFilesContent    []string
	catalogFilesPrefix     string
	catalogFilesLimit      int
)

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogSyncCmd, catalogTablesCmd, catalogSnapshotsCmd, catalogFilesCmd)

	flags := catalogCmd.PersistentFlags()
	flags.String("db", "", "Catalog database file")
	flags.String("db-url", "", "Remote libsql catalog URL (cgo builds)")
	_ = viper.BindPFlag("catalog.path", flags.Lookup("db"))
	_ = viper.BindPFlag("catalog.url", flags.Lookup("db-url"))

	catalogFilesCmd.Flags().Int64Var(&catalogFilesSnapshotID, "snapshot-id", 0, "Snapshot (default: current)")
	catalogFilesCmd.Flags().StringSliceVar(&catalogFilesContent, "content", nil, "File kinds: data, position_deletes, equality_deletes")
	catalogFilesCmd.Flags().StringVar(&catalogFilesPrefix, "prefix", "", "Keep files whose path starts with this")
	catalogFilesCmd.Flags().IntVarP(&catalogFilesLimit, "limit", "n", 0, "Max files to print (0 = all)")
}

// openCatalog opens and migrates the configured catalog database.
func openCatalog(ctx context.Context) (*sql.DB, error) {
	cc := config.GetConfig().Catalog
	if cc.Path == "" && cc.URL == "" {
		err := errors.New("no catalog database configured (use --db or ICENIMBUS_CATALOG_PATH)")
		return nil, exitError(foundry.ExitInvalidArgument, "Missing catalog database", err)
	}

	db, err := catalogstore.Open(ctx, catalogstore.Config{Path: cc.Path, URL: cc.URL, AuthToken: cc.AuthToken})
	if err != nil {
		observability.CLILogger.Error("Failed to open catalog", zap.Error(err))
		return nil, exitError(foundry.ExitFileReadError, "Failed to open catalog", err)
	}
	if err := catalogstore.Migrate(ctx, db); err != nil {
		_ = db.Close()
		observability.CLILogger.Error("Failed to migrate catalog", zap.Error(err))
		return nil, exitError(foundry.ExitFileWriteError, "Failed to migrate catalog", err)
	}
	return db, nil
}

func runCatalogSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	uris := make([]string, 0, len(args))
	for _, arg := range args {
		loc, err := ParseTableURI(arg)
		if err != nil {
			observability.CLILogger.Error("Invalid URI", zap.String("uri", arg), zap.Error(err))
			return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
		}
		uris = append(uris, loc.String())
	}

	db, err := openCatalog(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	sess, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	var (
		saveMu   sync.Mutex
		failed   atomic.Int64
		firstErr error
		errOnce  sync.Once
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.GetConfig().Workers)
	for _, uri := range uris {
		g.Go(func() error {
			err := syncTable(gctx, sess, db, &saveMu, uri)
			if err != nil {
				failed.Add(1)
				errOnce.Do(func() { firstErr = err })
				observability.CLILogger.Warn("Table sync failed", zap.String("uri", uri), zap.Error(err))
				_ = sess.writer.WriteError(gctx, output.NewErrorRecord(err, uri))
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := failed.Load(); n > 0 {
		observability.CLILogger.Error("Catalog sync incomplete",
			zap.Int64("failed", n),
			zap.Int("tables", len(uris)))
		return exitError(exitCodeFor(firstErr), "Catalog sync incomplete", firstErr)
	}
	observability.CLILogger.Info("Catalog sync complete", zap.Int("tables", len(uris)))
	return nil
}

// syncTable scans one table and stores the result. Scans run in parallel;
// writes to the catalog are serialised by mu.
func syncTable(ctx context.Context, sess *session, db *sql.DB, mu *sync.Mutex, uri string) error {
	res, err := sess.loader.Scan(ctx, uri, table.Filter{})
	if err != nil {
		return err
	}

	mu.Lock()
	err = catalogstore.SaveScan(ctx, db, res)
	mu.Unlock()
	if err != nil {
		return err
	}

	if err := sess.writer.WriteTable(ctx, output.NewTableRecord(res.Table.Locator.String(), res.Table.Metadata)); err != nil {
		return err
	}
	return sess.writer.WriteSummary(ctx, output.NewSummaryRecord(res))
}

// catalogWriter opens --output for commands that only read the catalog.
func catalogWriter(cmd *cobra.Command) (output.Writer, func(), error) {
	w, _, cleanup, err := createWriter(cmd, uuid.NewString(), "catalog")
	if err != nil {
		return nil, nil, exitError(foundry.ExitFileWriteError, "Failed to open output", err)
	}
	return w, cleanup, nil
}

func runCatalogTables(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	db, err := openCatalog(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	tables, err := catalogstore.ListTables(ctx, db)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to list tables", err)
	}

	w, cleanup, err := catalogWriter(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	for i := range tables {
		snaps, err := catalogstore.ListSnapshots(ctx, db, tables[i].UUID)
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to list snapshots", err)
		}
		if err := w.WriteTable(ctx, tableRecordFromRow(&tables[i], len(snaps))); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	return nil
}

func runCatalogSnapshots(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := openCatalog(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	tbl, err := lookupCatalogTable(ctx, db, args[0])
	if err != nil {
		return err
	}
	snaps, err := catalogstore.ListSnapshots(ctx, db, tbl.UUID)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to list snapshots", err)
	}

	w, cleanup, err := catalogWriter(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	for i := range snaps {
		rec := snapshotRecordFromRow(&snaps[i], tbl.CurrentSnapshotID)
		if err := w.WriteSnapshot(ctx, rec); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	return nil
}

func runCatalogFiles(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var content []iceberg.DataFileContent
	if len(catalogFilesContent) > 0 {
		f, err := table.FilterSpec{Content: catalogFilesContent}.Build()
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --content", err)
		}
		content = f.Content
	}

	db, err := openCatalog(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	tbl, err := lookupCatalogTable(ctx, db, args[0])
	if err != nil {
		return err
	}
	query := catalogstore.FileQuery{
		TableUUID:  tbl.UUID,
		Content:    content,
		PathPrefix: catalogFilesPrefix,
		Limit:      catalogFilesLimit,
	}
	if cmd.Flags().Changed("snapshot-id") {
		query.SnapshotID = &catalogFilesSnapshotID
	}
	files, err := catalogstore.ListDataFiles(ctx, db, query)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to list files", err)
	}

	w, cleanup, err := catalogWriter(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	for i := range files {
		if err := w.WriteFile(ctx, fileRecordFromRow(&files[i])); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	return nil
}

// lookupCatalogTable resolves ref by uuid, location or metadata URI. A
// bare table root such as s3://bucket/db/t is also tried without its
// trailing slash, which is how locations are usually written.
func lookupCatalogTable(ctx context.Context, db *sql.DB, ref string) (*catalogstore.TableRow, error) {
	tbl, err := catalogstore.GetTable(ctx, db, ref)
	if errors.Is(err, catalogstore.ErrTableNotFound) && len(ref) > 1 && ref[len(ref)-1] == '/' {
		tbl, err = catalogstore.GetTable(ctx, db, ref[:len(ref)-1])
	}
	if errors.Is(err, catalogstore.ErrTableNotFound) {
		return nil, exitError(foundry.ExitFileNotFound, "Table not in catalog", err)
	}
	if err != nil {
		return nil, exitError(foundry.ExitFileReadError, "Failed to read catalog", err)
	}
	return tbl, nil
}

func tableRecordFromRow(t *catalogstore.TableRow, snapshots int) *output.TableRecord {
	rec := &output.TableRecord{
		URI:                t.MetadataURI,
		UUID:               t.UUID,
		Location:           t.Location,
		FormatVersion:      t.FormatVersion,
		LastSequenceNumber: t.LastSequenceNumber,
		LastUpdated:        t.LastUpdated,
		Snapshots:          snapshots,
	}
	if t.CurrentSnapshotID != iceberg.NoSnapshot {
		id := t.CurrentSnapshotID
		rec.CurrentSnapshotID = &id
	}
	if t.Properties.Len() > 0 {
		rec.Properties = t.Properties.Clone()
	}
	return rec
}

func snapshotRecordFromRow(s *catalogstore.SnapshotRow, current int64) *output.SnapshotRecord {
	return &output.SnapshotRecord{
		SnapshotID:     s.SnapshotID,
		ParentID:       s.ParentID,
		SequenceNumber: s.SequenceNumber,
		Timestamp:      s.Timestamp,
		ManifestList:   s.ManifestList,
		Operation:      s.Operation,
		Current:        s.SnapshotID == current,
	}
}

func fileRecordFromRow(f *catalogstore.DataFileRow) *output.FileRecord {
	return &output.FileRecord{
		Path:           f.FilePath,
		Content:        f.Content.String(),
		Format:         f.FileFormat,
		Records:        f.RecordCount,
		Size:           f.FileSize,
		SequenceNumber: f.SequenceNumber,
		ManifestPath:   f.ManifestPath,
	}
}
