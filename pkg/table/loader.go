// Package table fetches and decodes the metadata tree of an Iceberg table:
// the metadata JSON file, the current snapshot's manifest list, and the
// manifests it names.
//
// A Loader resolves every s3-like URI to a bucket-bound provider obtained
// from a ProviderFactory and caches one provider per bucket.
package table

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/icenimbus/pkg/iceberg"
	"github.com/3leaps/icenimbus/pkg/locator"
	"github.com/3leaps/icenimbus/pkg/metrics"
	"github.com/3leaps/icenimbus/pkg/provider"
)

// File kinds used in logs and metrics.
const (
	KindVersionHint  = "version-hint"
	KindMetadata     = "metadata"
	KindManifestList = "manifest-list"
	KindManifest     = "manifest"
)

const (
	metadataDir     = "metadata/"
	versionHintFile = "version-hint.text"
)

var (
	// ErrNoMetadata indicates a table root without a version hint or any
	// metadata file.
	ErrNoMetadata = errors.New("no table metadata found")

	// ErrBadVersionHint indicates version-hint.text holds neither a version
	// number nor a metadata file name.
	ErrBadVersionHint = errors.New("malformed version hint")

	// ErrSnapshotNotFound indicates a snapshot id absent from the snapshot
	// log, or a table without a current snapshot.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// ProviderFactory opens a provider bound to bucket.
type ProviderFactory func(ctx context.Context, bucket string) (provider.Provider, error)

// Config configures a Loader.
type Config struct {
	// Concurrency is the number of manifests fetched in parallel.
	// Default: 4
	Concurrency int
}

// DefaultConfig returns the default loader configuration.
func DefaultConfig() Config {
	return Config{Concurrency: 4}
}

// Option configures optional Loader collaborators.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ld *Loader) {
		ld.metrics = m
	}
}

// Loader loads table metadata trees. It is safe for concurrent use.
type Loader struct {
	factory ProviderFactory
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	providers map[string]provider.Provider
}

// New creates a Loader.
func New(factory ProviderFactory, cfg Config, opts ...Option) *Loader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	l := &Loader{
		factory:   factory,
		cfg:       cfg,
		logger:    zap.NewNop(),
		providers: make(map[string]provider.Provider),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Close closes every cached provider.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for bucket, p := range l.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close provider for %s: %w", bucket, err))
		}
		delete(l.providers, bucket)
	}
	return errors.Join(errs...)
}

// Table is a loaded metadata file.
type Table struct {
	// Locator is where the metadata file was read from.
	Locator  locator.Locator
	Metadata *iceberg.TableMetadata
}

// Snapshot returns snapshot id. iceberg.NoSnapshot selects the current
// snapshot; every other value, zero included, is looked up as given.
func (t *Table) Snapshot(id int64) (*iceberg.Snapshot, error) {
	if id == iceberg.NoSnapshot {
		if snap := t.Metadata.CurrentSnapshot(); snap != nil {
			return snap, nil
		}
		return nil, fmt.Errorf("%w: table %s has no current snapshot", ErrSnapshotNotFound, t.Metadata.UUID)
	}
	if snap := t.Metadata.SnapshotByID(id); snap != nil {
		return snap, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrSnapshotNotFound, id)
}

// LoadMetadata loads the table metadata named by uri.
//
// A uri ending in '/' is a table root: metadata/version-hint.text names
// the version N and metadata/vN.metadata.json is loaded. Without a hint the
// highest-versioned metadata file found by listing is used, when the
// provider can list.
func (l *Loader) LoadMetadata(ctx context.Context, uri string) (*Table, error) {
	loc, err := locator.Parse(uri)
	if err != nil {
		return nil, err
	}
	if loc.IsPrefix() {
		if loc, err = l.resolveRoot(ctx, loc); err != nil {
			return nil, err
		}
	}

	data, err := l.fetch(ctx, KindMetadata, loc)
	if err != nil {
		return nil, err
	}
	md, err := iceberg.ParseMetadata(data)
	l.metrics.ObserveDecode(KindMetadata, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", loc, err)
	}

	l.logger.Info("loaded table metadata",
		zap.String("uri", loc.String()),
		zap.String("uuid", md.UUID),
		zap.String("location", md.Location),
		zap.Int64("current_snapshot_id", md.CurrentSnapshotID),
		zap.Int("snapshots", len(md.Snapshots)),
	)
	return &Table{Locator: loc, Metadata: md}, nil
}

func (l *Loader) resolveRoot(ctx context.Context, root locator.Locator) (locator.Locator, error) {
	metaDir := root.Join(metadataDir)
	hint := metaDir.Join(versionHintFile)

	data, err := l.fetch(ctx, KindVersionHint, hint)
	switch {
	case err == nil:
		name, err := parseVersionHint(string(data))
		if err != nil {
			return locator.Locator{}, fmt.Errorf("%s: %w", hint, err)
		}
		return metaDir.Join(name), nil
	case !provider.IsNotFound(err):
		return locator.Locator{}, err
	}

	p, err := l.providerFor(ctx, root.Bucket())
	if err != nil {
		return locator.Locator{}, err
	}
	lister, ok := p.(provider.Lister)
	if !ok {
		return locator.Locator{}, fmt.Errorf("%w: %s has no %s", ErrNoMetadata, root, versionHintFile)
	}
	objs, err := provider.ListAll(ctx, lister, metaDir.Key())
	if err != nil {
		return locator.Locator{}, err
	}
	key, ok := latestMetadataKey(objs)
	if !ok {
		return locator.Locator{}, fmt.Errorf("%w: %s", ErrNoMetadata, root)
	}
	l.logger.Debug("resolved metadata by listing", zap.String("root", root.String()), zap.String("key", key))
	return locator.Build(root.Bucket(), key), nil
}

// parseVersionHint accepts a version number or a metadata file name.
func parseVersionHint(text string) (string, error) {
	s := strings.TrimSpace(text)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n >= 0 {
		return "v" + strconv.FormatInt(n, 10) + ".metadata.json", nil
	}
	if s != "" && !strings.Contains(s, "/") && strings.HasSuffix(s, ".metadata.json") {
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrBadVersionHint, s)
}

// metadataName matches v<N>.metadata.json and <N>-<uuid>.metadata.json.
var metadataName = regexp.MustCompile(`^(?:v(\d+)|(\d+)-[0-9a-fA-F-]+)\.metadata\.json$`)

func metadataVersion(key string) (int64, bool) {
	m := metadataName.FindStringSubmatch(path.Base(key))
	if m == nil {
		return 0, false
	}
	digits := m[1]
	if digits == "" {
		digits = m[2]
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	return n, err == nil
}

func latestMetadataKey(objs []provider.ObjectSummary) (string, bool) {
	best, bestVersion := "", int64(-1)
	for _, o := range objs {
		if v, ok := metadataVersion(o.Key); ok && v > bestVersion {
			best, bestVersion = o.Key, v
		}
	}
	return best, bestVersion >= 0
}

// LoadManifestList loads the manifest list of snap.
func (l *Loader) LoadManifestList(ctx context.Context, t *Table, snap *iceberg.Snapshot) (*iceberg.ManifestList, error) {
	if snap == nil {
		return nil, errors.New("table: nil snapshot")
	}
	loc, err := t.Locator.Resolve(snap.ManifestListPath)
	if err != nil {
		return nil, err
	}
	data, err := l.fetch(ctx, KindManifestList, loc)
	if err != nil {
		return nil, err
	}
	list, err := iceberg.DecodeManifestList(data)
	l.metrics.ObserveDecode(KindManifestList, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", loc, err)
	}
	l.logger.Debug("loaded manifest list",
		zap.String("uri", loc.String()),
		zap.Int64("snapshot_id", snap.ID),
		zap.Int("manifests", len(list.Manifests)),
	)
	return list, nil
}

// LoadManifests loads every manifest of list with bounded concurrency.
// Results are in list order and carry inherited sequence numbers. The first
// failure cancels the remaining fetches.
func (l *Loader) LoadManifests(ctx context.Context, t *Table, list *iceberg.ManifestList) ([]*iceberg.Manifest, error) {
	out := make([]*iceberg.Manifest, len(list.Manifests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)
	for i := range list.Manifests {
		entry := &list.Manifests[i]
		g.Go(func() error {
			m, err := l.loadManifest(gctx, t, entry)
			if err != nil {
				return err
			}
			out[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Loader) loadManifest(ctx context.Context, t *Table, entry *iceberg.ManifestListEntry) (*iceberg.Manifest, error) {
	loc, err := t.Locator.Resolve(entry.ManifestPath)
	if err != nil {
		return nil, err
	}
	data, err := l.fetch(ctx, KindManifest, loc)
	if err != nil {
		return nil, err
	}
	m, err := iceberg.DecodeManifest(data)
	l.metrics.ObserveDecode(KindManifest, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", loc, err)
	}
	m.InheritSequenceNumbers(entry.SequenceNumber)
	return m, nil
}

func (l *Loader) providerFor(ctx context.Context, bucket string) (provider.Provider, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.providers[bucket]; ok {
		return p, nil
	}
	p, err := l.factory(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("open provider for bucket %s: %w", bucket, err)
	}
	l.providers[bucket] = p
	return p, nil
}

// Buckets returns the buckets with a cached provider, sorted.
func (l *Loader) Buckets() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.providers))
	for b := range l.providers {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

func (l *Loader) fetch(ctx context.Context, kind string, loc locator.Locator) ([]byte, error) {
	p, err := l.providerFor(ctx, loc.Bucket())
	if err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := provider.ReadAll(ctx, p, loc.Key())
	l.metrics.ObserveFetch(kind, int64(len(data)), err)
	if err != nil {
		l.logger.Debug("fetch failed", zap.String("kind", kind), zap.String("uri", loc.String()), zap.Error(err))
		return nil, err
	}
	l.logger.Debug("fetched",
		zap.String("kind", kind),
		zap.String("uri", loc.String()),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return data, nil
}
