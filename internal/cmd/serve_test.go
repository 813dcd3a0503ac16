package cmd

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/icenimbus/internal/config"
	"github.com/3leaps/icenimbus/internal/observability"
	"github.com/3leaps/icenimbus/pkg/catalogstore"
	"github.com/3leaps/icenimbus/pkg/metrics"
)

func TestSignalHealthChecker(t *testing.T) {
	assert.NoError(t, signalHealthChecker{}.CheckHealth(context.Background()))
}

func TestMetricsHealthChecker(t *testing.T) {
	orig := observability.Metrics
	defer func() { observability.Metrics = orig }()

	observability.Metrics = nil
	err := metricsHealthChecker{}.CheckHealth(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics collector not initialized")

	observability.Metrics = metrics.New()
	assert.NoError(t, metricsHealthChecker{}.CheckHealth(context.Background()))
}

func TestIdentityHealthChecker(t *testing.T) {
	tests := []struct {
		name       string
		binaryName string
		envPrefix  string
		configName string
		errContain string
	}{
		{name: "all fields valid", binaryName: "myapp", envPrefix: "MYAPP", configName: "myapp"},
		{name: "missing binary name", envPrefix: "MYAPP", configName: "myapp", errContain: "missing binary name"},
		{name: "missing env prefix", binaryName: "myapp", configName: "myapp", errContain: "missing env prefix"},
		{name: "missing config name", binaryName: "myapp", envPrefix: "MYAPP", errContain: "missing config name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := identityHealthChecker{
				binaryName: tt.binaryName,
				envPrefix:  tt.envPrefix,
				configName: tt.configName,
			}

			err := checker.CheckHealth(context.Background())
			if tt.errContain == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContain)
		})
	}
}

func TestCatalogHealthChecker(t *testing.T) {
	ctx := context.Background()
	db, err := catalogstore.Open(ctx, catalogstore.Config{Path: ":memory:"})
	require.NoError(t, err)

	checker := catalogHealthChecker{db: db}
	assert.NoError(t, checker.CheckHealth(ctx))

	require.NoError(t, db.Close())
	err = checker.CheckHealth(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog unreachable")
}

func TestSeparateMetricsPort(t *testing.T) {
	tests := []struct {
		server, metrics int
		want            bool
	}{
		{server: 8080, metrics: 9090, want: true},
		{server: 8080, metrics: 8080, want: false},
		{server: 8080, metrics: 0, want: false},
	}
	for _, tt := range tests {
		cfg := &config.Config{}
		cfg.Server.Port = tt.server
		cfg.Metrics.Port = tt.metrics
		assert.Equal(t, tt.want, separateMetricsPort(cfg), "server %d metrics %d", tt.server, tt.metrics)
	}
}

func serveConfig(t *testing.T, overrides map[string]any) *config.Config {
	t.Helper()
	isolate(t)
	base := map[string]any{
		"server": map[string]any{"host": "127.0.0.1", "port": 0, "shutdown_timeout": "2s"},
		"metrics": map[string]any{"port": 0},
		"storage": map[string]any{"backend": "file", "file_root": sampleWarehouse(t)},
	}
	cfg, err := config.Load(context.Background(), base, overrides)
	require.NoError(t, err)
	return cfg
}

func TestServeAPI_StopsOnCancel(t *testing.T) {
	cfg := serveConfig(t, map[string]any{
		"catalog": map[string]any{"path": filepath.Join(t.TempDir(), "catalog.db")},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	assert.NoError(t, serveAPI(ctx, cfg))
}

func TestServeAPI_ListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	cfg := serveConfig(t, map[string]any{
		"server":  map[string]any{"port": ln.Addr().(*net.TCPAddr).Port},
		"metrics": map[string]any{"enabled": false},
	})

	err = serveAPI(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCode(err))
}
