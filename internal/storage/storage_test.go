package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/icenimbus/internal/config"
	"github.com/3leaps/icenimbus/pkg/iceberg/icebergtest"
	"github.com/3leaps/icenimbus/pkg/metrics"
	"github.com/3leaps/icenimbus/pkg/provider"
	"github.com/3leaps/icenimbus/pkg/provider/file"
	"github.com/3leaps/icenimbus/pkg/provider/s3http"
	"github.com/3leaps/icenimbus/pkg/table"
	"github.com/3leaps/icenimbus/test/cloudtest"
)

func baseConfig() *config.Config {
	return &config.Config{
		Storage:   config.StorageConfig{Backend: "s3http", Region: cloudtest.DefaultRegion},
		Transport: config.TransportConfig{Workers: 2, QueueSize: 4},
		Loader:    config.LoaderConfig{Concurrency: 2},
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "unknown backend", mutate: func(c *config.Config) { c.Storage.Backend = "gcs" }},
		{name: "file without root", mutate: func(c *config.Config) { c.Storage.Backend = "file" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)
			_, err := New(cfg, nil, nil)
			assert.Error(t, err)
		})
	}
}

func TestBackend_Open(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		backend string
		check   func(t *testing.T, p provider.Provider)
		wantErr bool
	}{
		{
			name:    "s3http",
			backend: "s3http",
			check: func(t *testing.T, p provider.Provider) {
				assert.IsType(t, &s3http.Provider{}, p)
			},
		},
		{
			name:    "s3http without credentials",
			backend: "s3http",
			wantErr: true,
		},
		{
			name:    "file",
			backend: "file",
			check: func(t *testing.T, p provider.Provider) {
				assert.IsType(t, &file.Provider{}, p)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.Storage.Backend = tt.backend
			cfg.Storage.FileRoot = t.TempDir()
			cfg.Storage.Endpoint = "http://127.0.0.1:9000"
			if !tt.wantErr {
				cfg.Storage.AccessKeyID = cloudtest.TestAccessKeyID
				cfg.Storage.SecretAccessKey = cloudtest.TestSecretAccessKey
			}

			b, err := New(cfg, nil, nil)
			require.NoError(t, err)
			defer func() { _ = b.Close() }()
			assert.Equal(t, provider.ProviderType(tt.backend), b.Kind())

			p, err := b.Open(ctx, "warehouse")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer func() { _ = p.Close() }()
			tt.check(t, p)
		})
	}
}

func TestBackend_ScanOverS3HTTP(t *testing.T) {
	srv := cloudtest.NewServer(t)
	srv.RequireSignature()
	for key, data := range icebergtest.SampleWarehouse("warehouse", "db/t") {
		srv.PutObject("warehouse", key, data)
	}

	cfg := baseConfig()
	cfg.Storage.Endpoint = srv.URL
	cfg.Storage.ForcePathStyle = true
	cfg.Storage.AccessKeyID = cloudtest.TestAccessKeyID
	cfg.Storage.SecretAccessKey = cloudtest.TestSecretAccessKey

	m := metrics.New()
	b, err := New(cfg, nil, m)
	require.NoError(t, err)
	l := b.NewLoader()
	defer func() {
		_ = l.Close()
		_ = b.Close()
	}()

	res, err := l.Scan(context.Background(), "s3://warehouse/db/t/", table.Filter{})
	require.NoError(t, err)
	assert.Len(t, res.Files, 3)
	assert.Equal(t, int64(4908), res.Bytes)
	assert.Equal(t, []string{"warehouse"}, l.Buckets())
	assert.NotEmpty(t, srv.Requests())
}

func TestBackend_ScanOverFile(t *testing.T) {
	root := t.TempDir()
	for key, data := range icebergtest.SampleWarehouse("warehouse", "db/t") {
		full := filepath.Join(root, "warehouse", filepath.FromSlash(key))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, data, 0o644))
	}

	cfg := baseConfig()
	cfg.Storage.Backend = "file"
	cfg.Storage.FileRoot = root

	b, err := New(cfg, nil, nil)
	require.NoError(t, err)
	l := b.NewLoader()
	defer func() {
		_ = l.Close()
		_ = b.Close()
	}()

	res, err := l.Scan(context.Background(), "s3://warehouse/db/t/", table.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(113), res.Records)
	assert.Equal(t, 1, res.Tombstones)
}
