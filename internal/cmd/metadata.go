package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/icenimbus/internal/observability"
	"github.com/3leaps/icenimbus/pkg/output"
)

var metadataCmd = &cobra.Command{
	Use:   "metadata <table-uri>",
	Short: "Show table metadata",
	Long: `Load a table's metadata file and print a summary of it.

A table root is resolved through metadata/version-hint.text, or by listing
metadata/ when no hint exists. A metadata file URI is read as is.

Examples:
  icenimbus metadata s3://warehouse/db/events
  icenimbus metadata s3://warehouse/db/events/metadata/v12.metadata.json
  icenimbus metadata s3://warehouse/db/events --format yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runMetadata,
}

var metadataFormat string

func init() {
	rootCmd.AddCommand(metadataCmd)

	metadataCmd.Flags().StringVar(&metadataFormat, "format", "json", "Output format: json (JSONL record) or yaml")
}

// metadataDocument is the YAML rendering of a table.
type metadataDocument struct {
	Table     *output.TableRecord      `yaml:"table"`
	Snapshots []*output.SnapshotRecord `yaml:"snapshots"`
}

func runMetadata(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if metadataFormat != "json" && metadataFormat != "yaml" {
		err := fmt.Errorf("unknown format %q", metadataFormat)
		return exitError(foundry.ExitInvalidArgument, "Invalid --format", err)
	}

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
	rec := output.NewTableRecord(tbl.Locator.String(), tbl.Metadata)

	if metadataFormat == "yaml" {
		enc := yaml.NewEncoder(sess.out)
		enc.SetIndent(2)
		doc := metadataDocument{Table: rec, Snapshots: output.NewSnapshotRecords(tbl.Metadata)}
		if err := enc.Encode(doc); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write YAML", err)
		}
		if err := enc.Close(); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write YAML", err)
		}
		return nil
	}

	if err := sess.writer.WriteTable(ctx, rec); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return nil
}
