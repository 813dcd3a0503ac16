// Package storage turns the storage section of the configuration into
// bucket-bound providers for the table loader.
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/icenimbus/internal/config"
	"github.com/3leaps/icenimbus/pkg/metrics"
	"github.com/3leaps/icenimbus/pkg/provider"
	"github.com/3leaps/icenimbus/pkg/provider/file"
	"github.com/3leaps/icenimbus/pkg/provider/s3"
	"github.com/3leaps/icenimbus/pkg/provider/s3http"
	"github.com/3leaps/icenimbus/pkg/table"
	"github.com/3leaps/icenimbus/pkg/transport"
)

// Backend opens providers of one kind. The s3http backend shares a single
// transport client across all buckets.
type Backend struct {
	kind    provider.ProviderType
	storage config.StorageConfig
	loader  config.LoaderConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	client  *transport.Client
}

// New validates cfg and prepares a Backend. m may be nil.
func New(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*Backend, error) {
	kind, err := provider.ParseProviderType(cfg.Storage.Backend)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Backend{
		kind:    kind,
		storage: cfg.Storage,
		loader:  cfg.Loader,
		logger:  logger,
		metrics: m,
	}
	switch kind {
	case provider.ProviderS3HTTP:
		b.client = transport.New(transport.Config{
			Workers:      cfg.Transport.Workers,
			QueueSize:    cfg.Transport.QueueSize,
			RateLimit:    cfg.Transport.RateLimit,
			Timeout:      cfg.Transport.Timeout,
			MaxBodyBytes: cfg.Transport.MaxBodyBytes,
		}, transport.WithLogger(logger.Named("transport")), transport.WithMetrics(m))
	case provider.ProviderFile:
		if cfg.Storage.FileRoot == "" {
			return nil, fmt.Errorf("file backend requires storage.file_root")
		}
	}
	return b, nil
}

// Kind returns the backend type.
func (b *Backend) Kind() provider.ProviderType {
	return b.kind
}

// Open returns a provider bound to bucket. It has the table.ProviderFactory
// signature.
func (b *Backend) Open(ctx context.Context, bucket string) (provider.Provider, error) {
	b.logger.Debug("opening provider",
		zap.String("backend", b.kind.String()),
		zap.String("bucket", bucket))

	switch b.kind {
	case provider.ProviderS3HTTP:
		return s3http.New(s3http.Config{
			Bucket:          bucket,
			Endpoint:        b.storage.Endpoint,
			Region:          b.storage.Region,
			AccessKeyID:     b.storage.AccessKeyID,
			SecretAccessKey: b.storage.SecretAccessKey,
			SessionToken:    b.storage.SessionToken,
			ForcePathStyle:  b.storage.ForcePathStyle,
		}, s3http.WithClient(b.client), s3http.WithLogger(b.logger.Named("s3http")))
	case provider.ProviderS3:
		return s3.New(ctx, s3.Config{
			Bucket:          bucket,
			Region:          b.storage.Region,
			Endpoint:        b.storage.Endpoint,
			Profile:         b.storage.Profile,
			AccessKeyID:     b.storage.AccessKeyID,
			SecretAccessKey: b.storage.SecretAccessKey,
			SessionToken:    b.storage.SessionToken,
			ForcePathStyle:  b.storage.ForcePathStyle,
		})
	case provider.ProviderFile:
		return file.New(file.Config{Root: b.storage.FileRoot, Bucket: bucket})
	default:
		return nil, fmt.Errorf("unsupported backend %q", b.kind)
	}
}

// NewLoader returns a table loader reading through this backend.
func (b *Backend) NewLoader() *table.Loader {
	return table.New(b.Open, table.Config{Concurrency: b.loader.Concurrency},
		table.WithLogger(b.logger.Named("table")),
		table.WithMetrics(b.metrics))
}

// Close stops the shared transport. Close loaders first.
func (b *Backend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}
