package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/icenimbus/internal/config"
	"github.com/3leaps/icenimbus/internal/observability"
	"github.com/3leaps/icenimbus/internal/storage"
	"github.com/3leaps/icenimbus/pkg/locator"
	"github.com/3leaps/icenimbus/pkg/provider"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <uri>",
	Short: "List raw objects under a table or prefix",
	Long: `Inspect the objects behind a table without decoding them: metadata
files, manifest lists, manifests or data files.

A URI ending in "/" is listed as a prefix; anything else is looked up as a
single object.

Examples:
  icenimbus inspect s3://warehouse/db/events/metadata/
  icenimbus inspect s3://warehouse/db/events/metadata/version-hint.text
  icenimbus inspect s3://warehouse/db/events/ --match '**/*.avro' --json`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var (
	inspectMatch string
	inspectLimit int
	inspectJSON  bool
)

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVar(&inspectMatch, "match", "", "Keep keys matching this glob")
	inspectCmd.Flags().IntVarP(&inspectLimit, "limit", "n", 100, "Max objects to list")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output as JSONL")
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	loc, err := locator.Parse(args[0])
	if err != nil {
		observability.CLILogger.Error("Invalid URI", zap.String("uri", args[0]), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}
	if inspectMatch != "" && !doublestar.ValidatePattern(inspectMatch) {
		return exitError(foundry.ExitInvalidArgument, "Invalid --match", fmt.Errorf("bad glob %q", inspectMatch))
	}

	backend, err := storage.New(config.GetConfig(), observability.CLILogger, observability.Metrics)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid storage configuration", err)
	}
	defer func() { _ = backend.Close() }()

	prov, err := backend.Open(ctx, loc.Bucket())
	if err != nil {
		observability.CLILogger.Error("Failed to open bucket", zap.String("bucket", loc.Bucket()), zap.Error(err))
		return exitError(exitCodeFor(err), "Failed to open bucket", err)
	}
	defer func() { _ = prov.Close() }()

	objects, err := listObjects(ctx, prov, loc)
	if err != nil {
		observability.CLILogger.Error("Failed to list objects", zap.String("uri", loc.String()), zap.Error(err))
		return exitError(exitCodeFor(err), "Failed to list objects", err)
	}

	if inspectJSON {
		return outputJSON(cmd.OutOrStdout(), objects)
	}
	return outputTable(cmd.OutOrStdout(), objects)
}

// listObjects heads an exact key, or lists a prefix up to --limit objects.
func listObjects(ctx context.Context, prov provider.Provider, loc locator.Locator) ([]provider.ObjectSummary, error) {
	// Head avoids matching "a.json" against "a.json.bak".
	if !loc.IsPrefix() {
		meta, err := prov.Head(ctx, loc.Key())
		if err != nil {
			return nil, err
		}
		return []provider.ObjectSummary{meta.ObjectSummary}, nil
	}

	lister, ok := prov.(provider.Lister)
	if !ok {
		return nil, fmt.Errorf("%T cannot list objects", prov)
	}

	var (
		objects []provider.ObjectSummary
		token   string
	)
	for len(objects) < inspectLimit {
		res, err := lister.List(ctx, provider.ListOptions{Prefix: loc.Key(), ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		for _, obj := range res.Objects {
			if inspectMatch != "" {
				if ok, _ := doublestar.Match(inspectMatch, obj.Key); !ok {
					continue
				}
			}
			objects = append(objects, obj)
			if len(objects) >= inspectLimit {
				break
			}
		}
		if !res.IsTruncated || res.ContinuationToken == "" {
			break
		}
		token = res.ContinuationToken
	}
	return objects, nil
}

type objectOutput struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	ETag         string    `json:"etag,omitempty"`
}

func outputJSON(w io.Writer, objects []provider.ObjectSummary) error {
	enc := json.NewEncoder(w)
	for _, obj := range objects {
		out := objectOutput{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			ETag:         obj.ETag,
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("failed to encode object: %w", err)
		}
	}
	return nil
}

func outputTable(out io.Writer, objects []provider.ObjectSummary) error {
	if len(objects) == 0 {
		_, err := fmt.Fprintln(out, "No objects found.")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, "KEY\tSIZE\tMODIFIED"); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	var totalSize int64
	for _, obj := range objects {
		totalSize += obj.Size
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n",
			obj.Key,
			formatSize(obj.Size),
			obj.LastModified.Format("2006-01-02 15:04:05")); err != nil {
			return fmt.Errorf("failed to write object: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	_, err := fmt.Fprintf(out, "\nFound %d object(s) (%s total)\n", len(objects), formatSize(totalSize))
	return err
}

// formatSize formats bytes with binary units.
func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
