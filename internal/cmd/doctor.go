package cmd

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/icenimbus/internal/config"
	"github.com/3leaps/icenimbus/internal/observability"
	"github.com/3leaps/icenimbus/internal/storage"
	"github.com/3leaps/icenimbus/pkg/catalogstore"
	"github.com/3leaps/icenimbus/pkg/provider"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor [table-uri]",
	Short: "Run diagnostic checks",
	Long: `Check the environment, configuration and credentials. With a table
URI, also load its metadata through the configured backend.

Examples:
  icenimbus doctor
  icenimbus doctor s3://warehouse/db/events
  icenimbus doctor s3://warehouse/db/events --backend s3 --profile analytics`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// doctorCheck is one diagnostic. A nil error passes; detail is shown
// either way.
type doctorCheck struct {
	name string
	run  func(ctx context.Context) (detail string, err error)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()
	log := observability.CLILogger

	bannerName := "doctor"
	if id := GetAppIdentity(); id != nil && id.BinaryName != "" {
		bannerName = id.BinaryName + " doctor"
	}

	checks := []doctorCheck{
		{name: "Go version", run: checkGoVersion},
		{name: "Gofulmen", run: checkGofulmen},
		{name: "Storage backend", run: func(context.Context) (string, error) {
			return fmt.Sprintf("%s (region %s, endpoint %q)", cfg.Storage.Backend, cfg.Storage.Region, cfg.Storage.Endpoint), nil
		}},
		{name: "Credentials", run: func(ctx context.Context) (string, error) { return checkCredentials(ctx, cfg) }},
	}
	if cfg.Catalog.Path != "" || cfg.Catalog.URL != "" {
		checks = append(checks, doctorCheck{name: "Catalog", run: func(ctx context.Context) (string, error) {
			return checkCatalog(ctx, cfg.Catalog)
		}})
	}
	if len(args) == 1 {
		uri := args[0]
		checks = append(checks, doctorCheck{name: "Table access", run: func(ctx context.Context) (string, error) {
			return checkTable(ctx, cfg, uri)
		}})
	}

	log.Info("=== " + bannerName + " ===")
	var failed []string
	for i, c := range checks {
		detail, err := c.run(ctx)
		prefix := fmt.Sprintf("[%d/%d] %s...", i+1, len(checks), c.name)
		if err != nil {
			failed = append(failed, c.name)
			log.Error(prefix+" FAILED", zap.String("detail", detail), zap.Error(err))
			if c.name == "Credentials" {
				printCredentialsHelp()
			}
			continue
		}
		log.Info(prefix+" ok", zap.String("detail", detail))
	}

	if len(failed) > 0 {
		log.Warn("Some checks failed", zap.Strings("failed", failed))
		return exitError(foundry.ExitExternalServiceUnavailable, "Diagnostics failed",
			fmt.Errorf("%d of %d checks failed", len(failed), len(checks)))
	}
	log.Info("All checks passed")
	return nil
}

func checkGoVersion(context.Context) (string, error) {
	return fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH), nil
}

func checkGofulmen(context.Context) (string, error) {
	v := crucible.GetVersion()
	gofulmen, crucibleVersion := v.Gofulmen, v.Crucible
	if gofulmen == "" {
		gofulmen = "unknown"
	}
	if crucibleVersion == "" {
		crucibleVersion = "unknown"
	}
	return fmt.Sprintf("gofulmen %s, crucible %s", gofulmen, crucibleVersion), nil
}

// checkCredentials reports which credentials the backend will sign with.
// The s3 backend resolves them through the AWS SDK chain.
func checkCredentials(ctx context.Context, cfg *config.Config) (string, error) {
	st := cfg.Storage
	switch provider.ProviderType(st.Backend) {
	case provider.ProviderFile:
		return "not needed for the file backend", nil
	case provider.ProviderS3:
		var opts []func(*awsconfig.LoadOptions) error
		if st.Profile != "" {
			opts = append(opts, awsconfig.WithSharedConfigProfile(st.Profile))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return "cannot load AWS config", err
		}
		creds, err := awsCfg.Credentials.Retrieve(ctx)
		if err != nil {
			return "cannot retrieve AWS credentials", err
		}
		source := creds.Source
		if source == "" {
			source = "unknown"
		}
		return fmt.Sprintf("%s from %s", maskAccessKey(creds.AccessKeyID), source), nil
	default:
		if st.AccessKeyID == "" || st.SecretAccessKey == "" {
			return "", errors.New("storage.access_key_id and storage.secret_access_key are required")
		}
		return maskAccessKey(st.AccessKeyID), nil
	}
}

func checkCatalog(ctx context.Context, cc config.CatalogConfig) (string, error) {
	db, err := catalogstore.Open(ctx, catalogstore.Config{Path: cc.Path, URL: cc.URL, AuthToken: cc.AuthToken})
	if err != nil {
		return "", err
	}
	defer func() { _ = db.Close() }()
	if err := (catalogHealthChecker{db: db}).CheckHealth(ctx); err != nil {
		return "", err
	}
	where := cc.URL
	if where == "" {
		where = cc.Path
	}
	return where, nil
}

// checkTable loads the table's metadata through the configured backend.
func checkTable(ctx context.Context, cfg *config.Config, uri string) (string, error) {
	loc, err := ParseTableURI(uri)
	if err != nil {
		return "", err
	}
	backend, err := storage.New(cfg, observability.CLILogger, observability.Metrics)
	if err != nil {
		return "", err
	}
	defer func() { _ = backend.Close() }()
	loader := backend.NewLoader()
	defer func() { _ = loader.Close() }()

	tbl, err := loader.LoadMetadata(ctx, loc.String())
	if err != nil {
		return loc.String(), err
	}
	return fmt.Sprintf("%s (uuid %s, %d snapshots)", tbl.Locator, tbl.Metadata.UUID, len(tbl.Metadata.Snapshots)), nil
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printCredentialsHelp() {
	log := observability.CLILogger
	log.Info("To configure credentials:")
	log.Info("  s3http: set ICENIMBUS_ACCESS_KEY_ID and ICENIMBUS_SECRET_ACCESS_KEY")
	log.Info("  s3:     set AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY, run 'aws configure', or pass --profile")
	log.Info("  S3-compatible stores also need --endpoint and usually --path-style")
}
