package cmd

import (
	"context"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/icenimbus/internal/observability"
	"github.com/3leaps/icenimbus/pkg/iceberg"
	"github.com/3leaps/icenimbus/pkg/output"
	"github.com/3leaps/icenimbus/pkg/table"
)

var filesCmd = &cobra.Command{
	Use:   "files <table-uri>",
	Short: "List the live files of a snapshot",
	Long: `Read every manifest of a snapshot and print its live data and delete
files, followed by a summary record.

Globs use doublestar syntax and match the object key of each file (the
path after s3://bucket/). Repeat --include/--exclude for several patterns.

Examples:
  icenimbus files s3://warehouse/db/events
  icenimbus files s3://warehouse/db/events --include 'db/events/data/dt=2025-08-*/**'
  icenimbus files s3://warehouse/db/events --content position_deletes,equality_deletes
  icenimbus files s3://warehouse/db/events --min-size 128MiB --snapshot-id 42`,
	Args: cobra.ExactArgs(1),
	RunE: runFiles,
}

var (
	filesInclude    []string
	filesExclude    []string
	filesContent    []string
	filesMinSize    string
	filesMaxSize    string
	filesSnapshotID int64
)

func init() {
	rootCmd.AddCommand(filesCmd)

	// StringArray keeps commas inside globs such as {a,b}.
	filesCmd.Flags().StringArrayVar(&filesInclude, "include", nil, "Keep files matching this glob (repeatable)")
	filesCmd.Flags().StringArrayVar(&filesExclude, "exclude", nil, "Drop files matching this glob (repeatable)")
	filesCmd.Flags().StringSliceVar(&filesContent, "content", nil, "File kinds: data, position_deletes, equality_deletes")
	filesCmd.Flags().StringVar(&filesMinSize, "min-size", "", "Minimum file size (e.g. 1MiB)")
	filesCmd.Flags().StringVar(&filesMaxSize, "max-size", "", "Maximum file size (e.g. 2GB)")
	filesCmd.Flags().Int64Var(&filesSnapshotID, "snapshot-id", 0, "Snapshot to read (default: current)")
}

func runFiles(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	loc, err := ParseTableURI(args[0])
	if err != nil {
		observability.CLILogger.Error("Invalid URI", zap.String("uri", args[0]), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}

	filter, err := table.FilterSpec{
		Include: filesInclude,
		Exclude: filesExclude,
		Content: filesContent,
		MinSize: filesMinSize,
		MaxSize: filesMaxSize,
	}.Build()
	if err != nil {
		observability.CLILogger.Error("Invalid filter", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid filter", err)
	}

	sess, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	res, err := scanTable(ctx, sess.loader, loc.String(), snapshotFlag(cmd, filesSnapshotID), filter)
	if err != nil {
		return sess.fail(ctx, "Failed to scan table", loc.String(), err)
	}

	for i := range res.Files {
		if err := sess.writer.WriteFile(ctx, output.NewFileRecord(&res.Files[i])); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	if err := sess.writer.WriteSummary(ctx, output.NewSummaryRecord(res)); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}

	observability.CLILogger.Info("Listed files",
		zap.String("uri", res.Table.Locator.String()),
		zap.Int("files", len(res.Files)),
		zap.Int("filtered", res.Filtered),
		zap.Duration("elapsed", res.Duration))
	return nil
}

// snapshotFlag returns the --snapshot-id value, or iceberg.NoSnapshot when
// the flag was not given. Zero is a valid snapshot id.
func snapshotFlag(cmd *cobra.Command, value int64) int64 {
	if !cmd.Flags().Changed("snapshot-id") {
		return iceberg.NoSnapshot
	}
	return value
}

// scanTable scans snapshotID, or the current snapshot for iceberg.NoSnapshot.
func scanTable(ctx context.Context, l *table.Loader, uri string, snapshotID int64, f table.Filter) (*table.ScanResult, error) {
	if snapshotID == iceberg.NoSnapshot {
		return l.Scan(ctx, uri, f)
	}
	tbl, err := l.LoadMetadata(ctx, uri)
	if err != nil {
		return nil, err
	}
	snap, err := tbl.Snapshot(snapshotID)
	if err != nil {
		return nil, err
	}
	return l.ScanSnapshot(ctx, tbl, snap, f)
}
