// Package config loads icenimbus configuration.
//
// Values are layered, lowest first: built-in defaults, an optional YAML
// file, ICENIMBUS_* environment variables, command-line flags bound to the
// same viper instance, and runtime overrides passed to Load.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/icenimbus/pkg/provider"
)

// Config is the complete application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Debug   DebugConfig   `mapstructure:"debug"`

	// Workers bounds background work in the server.
	Workers int `mapstructure:"workers"`

	Storage   StorageConfig   `mapstructure:"storage"`
	Transport TransportConfig `mapstructure:"transport"`
	Loader    LoaderConfig    `mapstructure:"loader"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggingConfig struct {
	// Level is a zap level name.
	Level string `mapstructure:"level"`

	// Profile is "structured" (JSON) or "console".
	Profile string `mapstructure:"profile"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port serves /metrics on its own listener when it differs from the
	// server port. Zero keeps /metrics on the main router only.
	Port int `mapstructure:"port"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// StorageConfig selects and configures the object store backend.
type StorageConfig struct {
	// Backend is s3, s3http or file.
	Backend string `mapstructure:"backend"`

	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`

	// Profile is an AWS shared-config profile (s3 backend only).
	Profile string `mapstructure:"profile"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`

	// FileRoot is the warehouse directory for the file backend.
	FileRoot string `mapstructure:"file_root"`
}

// TransportConfig configures the async HTTP transport of the s3http
// backend.
type TransportConfig struct {
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

type LoaderConfig struct {
	// Concurrency is the number of manifests fetched in parallel.
	Concurrency int `mapstructure:"concurrency"`
}

// CatalogConfig locates the catalog database. URL (libsql://...) wins over
// Path.
type CatalogConfig struct {
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		problems = append(problems, fmt.Sprintf("metrics.port %d out of range", c.Metrics.Port))
	}
	if c.Workers < 1 {
		problems = append(problems, "workers must be >= 1")
	}
	switch strings.ToLower(c.Logging.Profile) {
	case "structured", "console":
	default:
		problems = append(problems, fmt.Sprintf("logging.profile %q (want structured or console)", c.Logging.Profile))
	}
	if _, err := provider.ParseProviderType(c.Storage.Backend); err != nil {
		problems = append(problems, "storage.backend: "+err.Error())
	}
	if c.Storage.Backend == string(provider.ProviderFile) && c.Storage.FileRoot == "" {
		problems = append(problems, "storage.file_root is required for the file backend")
	}
	if c.Transport.Workers < 1 {
		problems = append(problems, "transport.workers must be >= 1")
	}
	if c.Transport.RateLimit < 0 {
		problems = append(problems, "transport.rate_limit must be >= 0")
	}
	if c.Loader.Concurrency < 1 {
		problems = append(problems, "loader.concurrency must be >= 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
