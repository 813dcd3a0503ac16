package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/icenimbus/internal/observability"
	"github.com/3leaps/icenimbus/pkg/output"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots <table-uri>",
	Short: "List the snapshot log of a table",
	Long: `Print one record per snapshot in the table's metadata, oldest first.
The current snapshot is flagged with "current": true.

Examples:
  icenimbus snapshots s3://warehouse/db/events
  icenimbus snapshots s3://warehouse/db/events --current`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshots,
}

var snapshotsCurrent bool

func init() {
	rootCmd.AddCommand(snapshotsCmd)

	snapshotsCmd.Flags().BoolVar(&snapshotsCurrent, "current", false, "Only print the current snapshot")
}

func runSnapshots(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	loc, err := ParseTableURI(args[0])
	if err != nil {
		observability.CLILogger.Error("Invalid URI", zap.String("uri", args[0]), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}

	sess, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	tbl, err := sess.loader.LoadMetadata(ctx, loc.String())
	if err != nil {
		return sess.fail(ctx, "Failed to load table metadata", loc.String(), err)
	}

	for _, rec := range output.NewSnapshotRecords(tbl.Metadata) {
		if snapshotsCurrent && !rec.Current {
			continue
		}
		if err := sess.writer.WriteSnapshot(ctx, rec); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	return nil
}
