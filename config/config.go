// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Schema  SchemaConfig  `yaml:"schema"`
	Query   QueryConfig   `yaml:"query"`
	Bulk    BulkConfig    `yaml:"bulk"`
	Expand  ExpandConfig  `yaml:"expand"`
	IDs     IDsConfig     `yaml:"ids"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	OpenAPI OpenAPIConfig `yaml:"openapi"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig selects the record store.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "memory" or "sqlite"
	DSN    string `yaml:"dsn"`
}

// SchemaConfig locates module and catalog files.
type SchemaConfig struct {
	Dir        string `yaml:"dir"`
	CatalogDir string `yaml:"catalog_dir"`
	Watch      bool   `yaml:"watch"` // reload on file changes
}

// QueryConfig bounds list pagination.
type QueryConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// BulkConfig bounds bulk requests.
type BulkConfig struct {
	Workers  int `yaml:"workers"`
	MaxItems int `yaml:"max_items"`
}

// ExpandConfig bounds nested reference expansion.
type ExpandConfig struct {
	MaxDepth    int `yaml:"max_depth"`
	MaxChildren int `yaml:"max_children"`
}

// IDsConfig selects the record id generator.
type IDsConfig struct {
	Generator string `yaml:"generator"` // "uuid" or "ulid"
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// OpenAPIConfig configures OpenAPI/Swagger documentation.
type OpenAPIConfig struct {
	Enabled bool `yaml:"enabled"` // Enable /api/openapi.json and /api/docs/
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Metrics: MetricsConfig{Enabled: true},
		OpenAPI: OpenAPIConfig{Enabled: true},
	}
	setDefaults(cfg)
	return cfg
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding ${VAR} references first.
// Keys absent from the document keep their defaults.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	KALITA_SERVER_HOST         - Server host (default: 0.0.0.0)
//	KALITA_SERVER_PORT         - Server port (default: 8080)
//	KALITA_STORAGE_DRIVER      - memory or sqlite (default: memory)
//	KALITA_STORAGE_DSN         - SQLite database path
//	KALITA_SCHEMA_DIR          - Module files directory (default: schemas)
//	KALITA_SCHEMA_CATALOG_DIR  - Catalog files directory (default: catalogs next to the schema dir)
//	KALITA_SCHEMA_WATCH        - Reload schemas on file changes (default: false)
//	KALITA_QUERY_DEFAULT_LIMIT - List page size (default: 50)
//	KALITA_QUERY_MAX_LIMIT     - Largest allowed page (default: 1000)
//	KALITA_BULK_WORKERS        - Concurrent bulk items (default: 8)
//	KALITA_BULK_MAX_ITEMS      - Items per bulk request (default: 1000)
//	KALITA_EXPAND_MAX_DEPTH    - Expansion depth cap (default: 5)
//	KALITA_EXPAND_MAX_CHILDREN - Expansion size cap (default: 500)
//	KALITA_IDS_GENERATOR       - uuid or ulid (default: uuid)
//	KALITA_LOG_LEVEL           - debug, info, warn, error (default: info)
//	KALITA_LOG_FORMAT          - json or console (default: json)
//	KALITA_METRICS_ENABLED     - Enable /metrics (default: true)
//	KALITA_OPENAPI_ENABLED     - Enable OpenAPI and Swagger UI (default: true)
func LoadFromEnv() (*Config, error) {
	cfg := Default()

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadWithFallback loads path when it exists and falls back to the environment.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if HasEnvConfig() {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide a config file or set KALITA_SCHEMA_DIR")
}

// HasEnvConfig returns true if essential environment variables are set.
func HasEnvConfig() bool {
	return os.Getenv("KALITA_SCHEMA_DIR") != ""
}

// applyEnvOverrides applies KALITA_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = parseBool(v)
		}
	}

	// Server configuration
	str("KALITA_SERVER_HOST", &cfg.Server.Host)
	num("KALITA_SERVER_PORT", &cfg.Server.Port)
	dur("KALITA_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	dur("KALITA_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	dur("KALITA_SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	if v := os.Getenv("KALITA_SERVER_MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Server.MaxBodyBytes = n
		}
	}

	str("KALITA_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("KALITA_STORAGE_DSN", &cfg.Storage.DSN)

	str("KALITA_SCHEMA_DIR", &cfg.Schema.Dir)
	str("KALITA_SCHEMA_CATALOG_DIR", &cfg.Schema.CatalogDir)
	flag("KALITA_SCHEMA_WATCH", &cfg.Schema.Watch)

	num("KALITA_QUERY_DEFAULT_LIMIT", &cfg.Query.DefaultLimit)
	num("KALITA_QUERY_MAX_LIMIT", &cfg.Query.MaxLimit)
	num("KALITA_BULK_WORKERS", &cfg.Bulk.Workers)
	num("KALITA_BULK_MAX_ITEMS", &cfg.Bulk.MaxItems)
	num("KALITA_EXPAND_MAX_DEPTH", &cfg.Expand.MaxDepth)
	num("KALITA_EXPAND_MAX_CHILDREN", &cfg.Expand.MaxChildren)

	str("KALITA_IDS_GENERATOR", &cfg.IDs.Generator)

	str("KALITA_LOG_LEVEL", &cfg.Logging.Level)
	str("KALITA_LOG_FORMAT", &cfg.Logging.Format)

	flag("KALITA_METRICS_ENABLED", &cfg.Metrics.Enabled)
	str("KALITA_METRICS_PATH", &cfg.Metrics.Path)
	flag("KALITA_OPENAPI_ENABLED", &cfg.OpenAPI.Enabled)
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 10 << 20
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "kalita.db"
	}

	if cfg.Schema.Dir == "" {
		cfg.Schema.Dir = "schemas"
	}
	if cfg.Schema.CatalogDir == "" {
		// Sibling of the module directory; module parsing recurses into subdirectories.
		cfg.Schema.CatalogDir = filepath.Join(filepath.Dir(filepath.Clean(cfg.Schema.Dir)), "catalogs")
	}

	if cfg.Query.DefaultLimit == 0 {
		cfg.Query.DefaultLimit = 50
	}
	if cfg.Query.MaxLimit == 0 {
		cfg.Query.MaxLimit = 1000
	}

	if cfg.Bulk.Workers == 0 {
		cfg.Bulk.Workers = 8
	}
	if cfg.Bulk.MaxItems == 0 {
		cfg.Bulk.MaxItems = 1000
	}

	if cfg.Expand.MaxDepth == 0 {
		cfg.Expand.MaxDepth = 5
	}
	if cfg.Expand.MaxChildren == 0 {
		cfg.Expand.MaxChildren = 500
	}

	if cfg.IDs.Generator == "" {
		cfg.IDs.Generator = "uuid"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", cfg.Server.Port))
	}
	if cfg.Server.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must not be negative"))
	}

	switch cfg.Storage.Driver {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be 'memory' or 'sqlite', got %q", cfg.Storage.Driver))
	}

	if cfg.Query.DefaultLimit < 0 || cfg.Query.MaxLimit < 0 {
		errs = append(errs, fmt.Errorf("query limits must not be negative"))
	}
	if cfg.Query.DefaultLimit > cfg.Query.MaxLimit {
		errs = append(errs, fmt.Errorf("query.default_limit (%d) exceeds query.max_limit (%d)", cfg.Query.DefaultLimit, cfg.Query.MaxLimit))
	}
	if cfg.Bulk.Workers < 0 || cfg.Bulk.MaxItems < 0 {
		errs = append(errs, fmt.Errorf("bulk limits must not be negative"))
	}
	if cfg.Expand.MaxDepth < 0 || cfg.Expand.MaxChildren < 0 {
		errs = append(errs, fmt.Errorf("expand limits must not be negative"))
	}

	switch cfg.IDs.Generator {
	case "uuid", "ulid":
	default:
		errs = append(errs, fmt.Errorf("ids.generator must be 'uuid' or 'ulid', got %q", cfg.IDs.Generator))
	}

	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format))
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path must start with /, got %q", cfg.Metrics.Path))
	}

	return errors.Join(errs...)
}
