package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/icenimbus/internal/observability"
	"github.com/3leaps/icenimbus/pkg/output"
)

var manifestsCmd = &cobra.Command{
	Use:   "manifests <table-uri>",
	Short: "List the manifests of a snapshot",
	Long: `Decode a snapshot's manifest list and print one record per manifest.

Examples:
  icenimbus manifests s3://warehouse/db/events
  icenimbus manifests s3://warehouse/db/events --snapshot-id 3051729675574597004`,
	Args: cobra.ExactArgs(1),
	RunE: runManifests,
}

var manifestsSnapshotID int64

func init() {
	rootCmd.AddCommand(manifestsCmd)

	manifestsCmd.Flags().Int64Var(&manifestsSnapshotID, "snapshot-id", 0, "Snapshot to read (default: current)")
}

func runManifests(cmd *cobra.Command, args []string) error {
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
	snap, err := tbl.Snapshot(snapshotFlag(cmd, manifestsSnapshotID))
	if err != nil {
		return sess.fail(ctx, "Snapshot not found", tbl.Locator.String(), err)
	}

	list, err := sess.loader.LoadManifestList(ctx, tbl, snap)
	if err != nil {
		return sess.fail(ctx, "Failed to read manifest list", snap.ManifestListPath, err)
	}

	for i := range list.Manifests {
		if err := sess.writer.WriteManifest(ctx, output.NewManifestRecord(snap.ID, &list.Manifests[i])); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	return nil
}
