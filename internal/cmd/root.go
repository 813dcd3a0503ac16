package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/3leaps/icenimbus/internal/config"
	"github.com/3leaps/icenimbus/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// appIdentity is set once configuration has been loaded.
var appIdentity *config.Identity

var (
	cfgFile    string
	verbose    bool
	logLevel   string
	outputDest string
)

var rootCmd = &cobra.Command{
	Use:   "icenimbus",
	Short: "Read Apache Iceberg table metadata from object storage",
	Long: `icenimbus reads Apache Iceberg tables straight from S3-compatible
storage: metadata JSON, snapshot logs, manifest lists and manifests.

Results are written as JSONL records. Storage access goes through one of
three backends: s3http (built-in SigV4 client), s3 (AWS SDK) or file (a
local directory laid out as <root>/<bucket>/<key>).

Examples:
  icenimbus metadata s3://warehouse/db/events
  icenimbus files s3://warehouse/db/events --content data --min-size 1MiB
  icenimbus catalog sync s3://warehouse/db/events --db catalog.db
  icenimbus serve --port 8080`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default: user config dir)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Debug logging with caller info")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVarP(&outputDest, "output", "o", "stdout", "Output destination: stdout or a file path")

	flags.String("backend", "", "Storage backend: s3http, s3 or file")
	flags.String("endpoint", "", "S3-compatible endpoint URL")
	flags.String("region", "", "Signing region")
	flags.String("profile", "", "AWS profile (s3 backend)")
	flags.Bool("path-style", false, "Use path-style bucket addressing")
	flags.String("file-root", "", "Root directory for the file backend")
	flags.Int("concurrency", 0, "Manifests fetched in parallel")
	flags.Float64("rate-limit", 0, "Requests per second for s3http (0 = unlimited)")

	for key, name := range map[string]string{
		config.FileKey:             "config",
		"logging.level":            "log-level",
		"storage.backend":          "backend",
		"storage.endpoint":         "endpoint",
		"storage.region":           "region",
		"storage.profile":          "profile",
		"storage.force_path_style": "path-style",
		"storage.file_root":        "file-root",
		"loader.concurrency":       "concurrency",
		"transport.rate_limit":     "rate-limit",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(name))
	}
}

// initConfig loads configuration and sets up logging before any command
// runs.
func initConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadViper(cmd.Context(), viper.GetViper())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
	}
	appIdentity = config.GetIdentity()

	observability.InitCLILogger(appIdentity.BinaryName, verbose, cfg.Logging.Level)
	if cfg.Metrics.Enabled {
		observability.InitMetrics()
	}
	return nil
}

// SetVersionInfo records build information for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the identity in use, or nil before configuration
// has been loaded.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// cliError carries the process exit code of a failed command.
type cliError struct {
	code    int
	message string
	err     error
}

func (e *cliError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *cliError) Unwrap() error {
	return e.err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &cliError{code: code, message: message, err: err}
}

// ExitCode returns the exit code for an error returned by Execute: 0 for
// nil, the code attached by the failing command, or 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}
