package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and the XDG config dir at an empty directory so no
// real user config file leaks into a test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	return home
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	isolate(t)

	t.Run("LoadDefaults", func(t *testing.T) {
		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, "localhost:8080", cfg.Server.Addr())

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "structured", cfg.Logging.Profile)

		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)
		assert.True(t, cfg.Health.Enabled)
		assert.False(t, cfg.Debug.Enabled)
		assert.False(t, cfg.Debug.PprofEnabled)
		assert.Equal(t, 4, cfg.Workers)

		assert.Equal(t, "s3http", cfg.Storage.Backend)
		assert.Equal(t, "us-east-1", cfg.Storage.Region)
		assert.Equal(t, 8, cfg.Transport.Workers)
		assert.Equal(t, 64, cfg.Transport.QueueSize)
		assert.Equal(t, 60*time.Second, cfg.Transport.Timeout)
		assert.Equal(t, int64(512<<20), cfg.Transport.MaxBodyBytes)
		assert.Equal(t, 4, cfg.Loader.Concurrency)
		assert.Empty(t, cfg.Catalog.Path)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
			"storage": map[string]any{
				"backend":   "FILE",
				"file_root": "/srv/warehouse",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "file", cfg.Storage.Backend)
		assert.Equal(t, "/srv/warehouse", cfg.Storage.FileRoot)

		assert.Equal(t, "structured", cfg.Logging.Profile)
		assert.Equal(t, 9090, cfg.Metrics.Port)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("ICENIMBUS_PORT", "3000")
		t.Setenv("ICENIMBUS_LOG_LEVEL", "warn")
		t.Setenv("ICENIMBUS_METRICS_ENABLED", "false")
		t.Setenv("ICENIMBUS_ENDPOINT", "http://localhost:9000")
		t.Setenv("ICENIMBUS_RATE_LIMIT", "25.5")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, "http://localhost:9000", cfg.Storage.Endpoint)
		assert.Equal(t, 25.5, cfg.Transport.RateLimit)
	})

	t.Run("AutomaticEnvNestedKey", func(t *testing.T) {
		t.Setenv("ICENIMBUS_TRANSPORT_QUEUE_SIZE", "7")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Transport.QueueSize)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		t.Setenv("ICENIMBUS_PORT", "4000")

		overrides := map[string]any{
			"server": map[string]any{
				"port": 5000,
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("InvalidValues", func(t *testing.T) {
		tests := []struct {
			name      string
			overrides map[string]any
			contains  string
		}{
			{name: "port", overrides: map[string]any{"server": map[string]any{"port": 70000}}, contains: "server.port"},
			{name: "backend", overrides: map[string]any{"storage": map[string]any{"backend": "gcs"}}, contains: "storage.backend"},
			{name: "file root", overrides: map[string]any{"storage": map[string]any{"backend": "file"}}, contains: "file_root"},
			{name: "profile", overrides: map[string]any{"logging": map[string]any{"profile": "fancy"}}, contains: "logging.profile"},
			{name: "concurrency", overrides: map[string]any{"loader": map[string]any{"concurrency": 0}}, contains: "loader.concurrency"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := Load(ctx, tt.overrides)
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.contains)
			})
		}
	})
}

func TestLoad_ConfigFile(t *testing.T) {
	ctx := context.Background()
	home := isolate(t)

	body := []byte("server:\n  port: 7000\nstorage:\n  backend: s3\n  region: eu-west-1\ntransport:\n  timeout: 5s\n")

	t.Run("ExplicitFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cfg.yaml")
		require.NoError(t, os.WriteFile(path, body, 0o644))
		t.Setenv("ICENIMBUS_CONFIG", path)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7000, cfg.Server.Port)
		assert.Equal(t, "s3", cfg.Storage.Backend)
		assert.Equal(t, "eu-west-1", cfg.Storage.Region)
		assert.Equal(t, 5*time.Second, cfg.Transport.Timeout)
	})

	t.Run("EnvBeatsFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cfg.yaml")
		require.NoError(t, os.WriteFile(path, body, 0o644))
		t.Setenv("ICENIMBUS_CONFIG", path)
		t.Setenv("ICENIMBUS_PORT", "7100")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7100, cfg.Server.Port)
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		t.Setenv("ICENIMBUS_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := Load(ctx)
		assert.Error(t, err)
	})

	t.Run("UserFile", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(home, ".icenimbus.yaml"), body, 0o644))
		defer func() { _ = os.Remove(filepath.Join(home, ".icenimbus.yaml")) }()

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7000, cfg.Server.Port)
	})
}

func TestLoadViper_BoundValuesWin(t *testing.T) {
	isolate(t)
	t.Setenv("ICENIMBUS_PORT", "4000")

	v := viper.New()
	v.Set("server.port", 4500)

	cfg, err := LoadViper(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, 4500, cfg.Server.Port)
}

func TestLoad_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetConfig(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	retrieved := GetConfig()
	require.NotNil(t, retrieved)
	assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
	assert.Equal(t, cfg.Logging.Level, retrieved.Logging.Level)
}

func TestEnvSpecs(t *testing.T) {
	isolate(t)
	_, err := Load(context.Background())
	require.NoError(t, err)

	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	names := make(map[string]string)
	for _, spec := range specs {
		assert.Contains(t, spec.Name, "ICENIMBUS_")
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
		names[spec.Name] = spec.Path
	}

	assert.Equal(t, "logging.level", names["ICENIMBUS_LOG_LEVEL"])
	assert.Equal(t, "server.port", names["ICENIMBUS_PORT"])
	assert.Equal(t, "server.host", names["ICENIMBUS_HOST"])
	assert.Equal(t, "metrics.port", names["ICENIMBUS_METRICS_PORT"])
	assert.Equal(t, "storage.endpoint", names["ICENIMBUS_ENDPOINT"])
	assert.Equal(t, "storage.secret_access_key", names["ICENIMBUS_SECRET_ACCESS_KEY"])
}

func TestDurationParsing(t *testing.T) {
	isolate(t)
	t.Setenv("ICENIMBUS_READ_TIMEOUT", "45s")
	t.Setenv("ICENIMBUS_SHUTDOWN_TIMEOUT", "5m")
	t.Setenv("ICENIMBUS_REQUEST_TIMEOUT", "1m30s")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 90*time.Second, cfg.Transport.Timeout)
}

func TestConfigReload(t *testing.T) {
	isolate(t)
	ctx := context.Background()

	cfg1, err := Load(ctx)
	require.NoError(t, err)
	initialPort := cfg1.Server.Port

	cfg2, err := Load(ctx, map[string]any{
		"server": map[string]any{"port": initialPort + 1000},
	})
	require.NoError(t, err)
	assert.Equal(t, initialPort+1000, cfg2.Server.Port)
	assert.Equal(t, cfg2.Server.Port, GetConfig().Server.Port)
}

// resetAppIdentity resets package state for isolated tests.
func resetAppIdentity() {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = nil
	appConfig = nil
}

func TestNilIdentity(t *testing.T) {
	isolate(t)
	resetAppIdentity()
	defer func() { _, _ = Load(context.Background()) }()

	assert.Empty(t, getUserConfigPaths())
	assert.Empty(t, getEnvSpecs())
	assert.Nil(t, GetIdentity())
	assert.Nil(t, GetConfig())
}

func TestSetIdentity(t *testing.T) {
	isolate(t)
	defer resetAppIdentity()

	SetIdentity(Identity{BinaryName: "nimbus", EnvPrefix: "NIMBUS", ConfigName: "nimbus"})
	t.Setenv("NIMBUS_PORT", "6100")

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6100, cfg.Server.Port)
	assert.Equal(t, "NIMBUS", GetIdentity().EnvPrefix)

	paths := getUserConfigPaths()
	require.NotEmpty(t, paths)
	assert.Contains(t, paths[len(paths)-1], ".nimbus.yaml")
}

func TestFlatten(t *testing.T) {
	got := flatten("", map[string]any{
		"workers": 2,
		"server":  map[string]any{"port": 1, "tls": map[string]any{"enabled": true}},
	})
	assert.Equal(t, map[string]any{
		"workers":            2,
		"server.port":        1,
		"server.tls.enabled": true,
	}, got)
}
