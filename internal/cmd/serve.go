package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strconv"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/icenimbus/internal/config"
	"github.com/3leaps/icenimbus/internal/observability"
	"github.com/3leaps/icenimbus/internal/server"
	"github.com/3leaps/icenimbus/internal/server/handlers"
	"github.com/3leaps/icenimbus/internal/storage"
	"github.com/3leaps/icenimbus/pkg/catalogstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP read API",
	Long: `Serve table metadata over HTTP.

Endpoints:
  GET /health, /health/live, /health/ready, /health/startup
  GET /version
  GET /v1/table?uri=...
  GET /v1/table/snapshots?uri=...
  GET /v1/table/manifests?uri=...&snapshot_id=...
  GET /v1/table/files?uri=...&include=...&exclude=...&content=...&min_size=...&max_size=...&limit=...
  GET /metrics (on metrics.port when it differs from the server port)

Examples:
  icenimbus serve
  icenimbus serve --host 0.0.0.0 --port 8080 --metrics-port 9090
  ICENIMBUS_ACCESS_KEY_ID=... ICENIMBUS_SECRET_ACCESS_KEY=... icenimbus serve --endpoint http://localhost:9000 --path-style`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.String("host", "", "Listen host")
	flags.Int("port", 0, "Listen port")
	flags.Int("metrics-port", 0, "Metrics port (same as --port serves /metrics on the API listener)")
	flags.Bool("pprof", false, "Mount pprof under /debug")
	_ = viper.BindPFlag("server.host", flags.Lookup("host"))
	_ = viper.BindPFlag("server.port", flags.Lookup("port"))
	_ = viper.BindPFlag("metrics.port", flags.Lookup("metrics-port"))
	_ = viper.BindPFlag("debug.pprof_enabled", flags.Lookup("pprof"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	return serveAPI(cmd.Context(), config.GetConfig())
}

// serveAPI runs the read API until ctx ends or a listener fails.
func serveAPI(ctx context.Context, cfg *config.Config) error {
	logger := observability.CLILogger

	backend, err := storage.New(cfg, logger, observability.Metrics)
	if err != nil {
		logger.Error("Invalid storage configuration", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid storage configuration", err)
	}
	defer func() { _ = backend.Close() }()
	loader := backend.NewLoader()
	defer func() { _ = loader.Close() }()

	hm := handlers.InitHealthManager(versionInfo.Version)
	hm.RegisterChecker("signals", signalHealthChecker{})
	if id := config.GetIdentity(); id != nil {
		hm.RegisterChecker("identity", identityHealthChecker{
			binaryName: id.BinaryName,
			envPrefix:  id.EnvPrefix,
			configName: id.ConfigName,
		})
	}

	opts := []server.Option{
		server.WithTables(loader),
		server.WithLogger(logger.Named("http")),
		server.WithVersion(currentVersion()),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
		server.WithPprof(cfg.Debug.PprofEnabled),
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		m := observability.InitMetrics()
		hm.RegisterChecker("metrics", metricsHealthChecker{})
		opts = append(opts, server.WithMetrics(m))
		if separateMetricsPort(cfg) {
			opts = append(opts, server.WithMetricsEndpoint(false))
			metricsSrv = &http.Server{
				Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Metrics.Port)),
				Handler:           m.Handler(),
				ReadHeaderTimeout: cfg.Server.ReadTimeout,
			}
		}
	}

	if cfg.Catalog.Path != "" || cfg.Catalog.URL != "" {
		db, err := catalogstore.Open(ctx, catalogstore.Config{
			Path:      cfg.Catalog.Path,
			URL:       cfg.Catalog.URL,
			AuthToken: cfg.Catalog.AuthToken,
		})
		if err != nil {
			logger.Error("Failed to open catalog", zap.Error(err))
			return exitError(foundry.ExitFileReadError, "Failed to open catalog", err)
		}
		defer func() { _ = db.Close() }()
		hm.RegisterChecker("catalog", catalogHealthChecker{db: db})
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Start() }()
	if metricsSrv != nil {
		logger.Info("metrics listening", zap.String("addr", metricsSrv.Addr))
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics listener: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API shutdown incomplete", zap.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown incomplete", zap.Error(err))
		}
	}

	if serveErr != nil {
		logger.Error("Server failed", zap.Error(serveErr))
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", serveErr)
	}
	return nil
}

// separateMetricsPort reports whether /metrics gets its own listener.
func separateMetricsPort(cfg *config.Config) bool {
	return cfg.Metrics.Port != 0 && cfg.Metrics.Port != cfg.Server.Port
}

func currentVersion() handlers.VersionInfo {
	return handlers.VersionInfo{
		Version:   versionInfo.Version,
		Commit:    versionInfo.Commit,
		BuildDate: versionInfo.BuildDate,
		GoVersion: runtime.Version(),
	}
}

// signalHealthChecker is always healthy; a process that handles signals is
// alive.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(context.Context) error {
	return nil
}

type metricsHealthChecker struct{}

func (metricsHealthChecker) CheckHealth(context.Context) error {
	if observability.Metrics == nil {
		return errors.New("metrics collector not initialized")
	}
	return nil
}

type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("app identity missing binary name")
	case c.envPrefix == "":
		return errors.New("app identity missing env prefix")
	case c.configName == "":
		return errors.New("app identity missing config name")
	}
	return nil
}

type catalogHealthChecker struct {
	db *sql.DB
}

func (c catalogHealthChecker) CheckHealth(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("catalog unreachable: %w", err)
	}
	return nil
}
