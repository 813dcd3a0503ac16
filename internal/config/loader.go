package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// FileKey is the viper key holding an explicit config file path.
const FileKey = "config"

// Identity names the application for env prefixes and config paths.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is used when no identity was set before Load.
var DefaultIdentity = Identity{
	BinaryName: "icenimbus",
	EnvPrefix:  "ICENIMBUS",
	ConfigName: "icenimbus",
}

var (
	configMu    sync.RWMutex
	appIdentity *Identity
	appConfig   *Config
)

// SetIdentity overrides DefaultIdentity for subsequent loads.
func SetIdentity(id Identity) {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = &id
}

// GetIdentity returns the active identity, or nil before the first Load.
func GetIdentity() *Identity {
	configMu.RLock()
	defer configMu.RUnlock()
	return appIdentity
}

// GetConfig returns the most recently loaded configuration.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)

	v.SetDefault("workers", 4)

	v.SetDefault("storage.backend", "s3http")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.force_path_style", false)

	v.SetDefault("transport.workers", 8)
	v.SetDefault("transport.queue_size", 64)
	v.SetDefault("transport.rate_limit", 0)
	v.SetDefault("transport.timeout", "60s")
	v.SetDefault("transport.max_body_bytes", 512<<20)

	v.SetDefault("loader.concurrency", 4)
}

// EnvSpec maps one environment variable onto a config key.
type EnvSpec struct {
	Name string
	Path string
}

// envKeys pairs env var suffixes with config keys. Keys not listed here are
// still reachable as PREFIX_SECTION_FIELD through AutomaticEnv.
var envKeys = [][2]string{
	{"CONFIG", FileKey},
	{"HOST", "server.host"},
	{"PORT", "server.port"},
	{"READ_TIMEOUT", "server.read_timeout"},
	{"WRITE_TIMEOUT", "server.write_timeout"},
	{"IDLE_TIMEOUT", "server.idle_timeout"},
	{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
	{"LOG_LEVEL", "logging.level"},
	{"LOG_PROFILE", "logging.profile"},
	{"METRICS_ENABLED", "metrics.enabled"},
	{"METRICS_PORT", "metrics.port"},
	{"HEALTH_ENABLED", "health.enabled"},
	{"DEBUG", "debug.enabled"},
	{"PPROF_ENABLED", "debug.pprof_enabled"},
	{"WORKERS", "workers"},
	{"STORAGE_BACKEND", "storage.backend"},
	{"REGION", "storage.region"},
	{"ENDPOINT", "storage.endpoint"},
	{"PROFILE", "storage.profile"},
	{"ACCESS_KEY_ID", "storage.access_key_id"},
	{"SECRET_ACCESS_KEY", "storage.secret_access_key"},
	{"SESSION_TOKEN", "storage.session_token"},
	{"FORCE_PATH_STYLE", "storage.force_path_style"},
	{"FILE_ROOT", "storage.file_root"},
	{"RATE_LIMIT", "transport.rate_limit"},
	{"REQUEST_TIMEOUT", "transport.timeout"},
	{"CONCURRENCY", "loader.concurrency"},
	{"CATALOG_PATH", "catalog.path"},
	{"CATALOG_URL", "catalog.url"},
	{"CATALOG_AUTH_TOKEN", "catalog.auth_token"},
}

func getEnvSpecs() []EnvSpec {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil || id.EnvPrefix == "" {
		return []EnvSpec{}
	}
	specs := make([]EnvSpec, 0, len(envKeys))
	for _, kv := range envKeys {
		specs = append(specs, EnvSpec{Name: id.EnvPrefix + "_" + kv[0], Path: kv[1]})
	}
	return specs
}

// getUserConfigPaths lists candidate config files, most specific first.
func getUserConfigPaths() []string {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil || id.ConfigName == "" {
		return []string{}
	}

	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, id.ConfigName, "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "."+id.ConfigName+".yaml"))
	}
	return paths
}

// Load builds a Config on a fresh viper instance.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadViper(ctx, viper.New(), overrides...)
}

// LoadViper builds a Config from v, which may already carry bound flags.
// Each override map is applied last, so it wins over every other layer.
func LoadViper(ctx context.Context, v *viper.Viper, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}
	prefix := appIdentity.EnvPrefix
	configMu.Unlock()

	SetDefaults(v)

	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)
	cfg.Logging.Profile = strings.ToLower(cfg.Logging.Profile)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// readConfigFile reads the explicit file when one is set, otherwise the
// first user config file that exists.
func readConfigFile(v *viper.Viper) error {
	path := v.GetString(FileKey)
	explicit := path != ""
	if !explicit {
		for _, p := range getUserConfigPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path == "" {
		return nil
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !explicit && (errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := m[k].(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = m[k]
	}
	return out
}
