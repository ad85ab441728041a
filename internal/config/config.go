// Package config assembles the service configuration: compiled-in defaults,
// then an optional YAML file, then EVALCORE_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/animus-labs/evalcore/internal/cache"
	"github.com/animus-labs/evalcore/internal/platform/env"
	"github.com/animus-labs/evalcore/internal/platform/httpserver"
	"github.com/animus-labs/evalcore/internal/platform/objectstore"
	"github.com/animus-labs/evalcore/internal/platform/sqldb"
	"github.com/animus-labs/evalcore/internal/service/artifacts"
	"github.com/animus-labs/evalcore/internal/service/reconcile"
	"github.com/animus-labs/evalcore/internal/service/results"
	"github.com/animus-labs/evalcore/internal/upstream"
	"gopkg.in/yaml.v3"
)

const (
	BlobBackendMinIO  = "minio"
	BlobBackendMemory = "memory"
)

type Config struct {
	HTTP        httpserver.Config  `yaml:"http"`
	Database    sqldb.Config       `yaml:"database"`
	BlobBackend string             `yaml:"blob_backend"`
	ObjectStore objectstore.Config `yaml:"object_store"`
	// Upstream is disabled when BaseURL is empty: runs are created but
	// enrichment is never requested.
	Upstream     upstream.Config  `yaml:"upstream"`
	MirrorStatus bool             `yaml:"mirror_status"`
	Cache        CacheConfig      `yaml:"cache"`
	Storage      StorageConfig    `yaml:"storage"`
	Queues       QueueConfig      `yaml:"queues"`
	Runs         RunsConfig       `yaml:"runs"`
	Reconcile    reconcile.Config `yaml:"reconcile"`
}

type CacheConfig struct {
	Enabled  bool       `yaml:"enabled"`
	Capacity uint64     `yaml:"capacity"`
	TTLs     cache.TTLs `yaml:"ttls"`
}

type StorageConfig struct {
	DatasetsFolder string `yaml:"datasets_folder"`
	MetricsFolder  string `yaml:"metrics_folder"`
}

type QueueConfig struct {
	Processing          string `yaml:"processing"`
	DataPlatform        string `yaml:"data_platform"`
	DataPlatformEnabled bool   `yaml:"data_platform_enabled"`
}

type RunsConfig struct {
	DispatchTimeout   time.Duration `yaml:"dispatch_timeout"`
	MaxUpdateAttempts int           `yaml:"max_update_attempts"`
}

func Default() Config {
	return Config{
		HTTP: httpserver.Config{
			Service:         "evalcore",
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			CheckTimeout:    750 * time.Millisecond,
		},
		Database:    sqldb.DefaultConfig(),
		BlobBackend: BlobBackendMinIO,
		ObjectStore: objectstore.DefaultConfig(),
		Upstream:    upstream.DefaultConfig(),
		Cache: CacheConfig{
			Enabled: true,
			TTLs:    cache.DefaultTTLs(),
		},
		Storage: StorageConfig{
			DatasetsFolder: artifacts.DefaultDatasetsFolder,
			MetricsFolder:  artifacts.DefaultMetricsFolder,
		},
		Queues: QueueConfig{
			Processing:   artifacts.DefaultProcessingQueue,
			DataPlatform: results.DefaultDataPlatformQueue,
		},
		Runs: RunsConfig{
			DispatchTimeout:   30 * time.Second,
			MaxUpdateAttempts: 5,
		},
		Reconcile: reconcile.DefaultConfig(),
	}
}

// Load reads path (if non-empty) over the defaults and applies environment
// overrides. Unknown YAML keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = Parse(raw); err != nil {
			return Config{}, err
		}
	}
	cfg, err := applyEnv(cfg)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without validating.
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg Config) (Config, error) {
	var err error
	if cfg.Database, err = sqldb.ConfigFromEnv(cfg.Database); err != nil {
		return Config{}, err
	}
	cfg.BlobBackend = strings.ToLower(env.String("EVALCORE_BLOB_BACKEND", cfg.BlobBackend))
	if cfg.BlobBackend == BlobBackendMinIO {
		if cfg.ObjectStore, err = objectstore.ConfigFromEnv(cfg.ObjectStore); err != nil {
			return Config{}, err
		}
	}

	cfg.HTTP.Addr = env.String("EVALCORE_HTTP_ADDR", cfg.HTTP.Addr)
	if cfg.HTTP.ShutdownTimeout, err = env.Duration("EVALCORE_SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout); err != nil {
		return Config{}, err
	}

	cfg.Upstream.BaseURL = env.String("EVALCORE_UPSTREAM_BASE_URL", cfg.Upstream.BaseURL)
	cfg.Upstream.TokenURL = env.String("EVALCORE_UPSTREAM_TOKEN_URL", cfg.Upstream.TokenURL)
	cfg.Upstream.ClientID = env.String("EVALCORE_UPSTREAM_CLIENT_ID", cfg.Upstream.ClientID)
	cfg.Upstream.ClientSecret = env.String("EVALCORE_UPSTREAM_CLIENT_SECRET", cfg.Upstream.ClientSecret)
	cfg.Upstream.Scopes = env.List("EVALCORE_UPSTREAM_SCOPES", cfg.Upstream.Scopes)
	if cfg.Upstream.AttemptTimeout, err = env.Duration("EVALCORE_UPSTREAM_ATTEMPT_TIMEOUT", cfg.Upstream.AttemptTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MirrorStatus, err = env.Bool("EVALCORE_MIRROR_STATUS", cfg.MirrorStatus); err != nil {
		return Config{}, err
	}

	if cfg.Cache.Enabled, err = env.Bool("EVALCORE_CACHE_ENABLED", cfg.Cache.Enabled); err != nil {
		return Config{}, err
	}
	if cfg.Cache.TTLs.Content, err = env.Duration("EVALCORE_CACHE_CONTENT_TTL", cfg.Cache.TTLs.Content); err != nil {
		return Config{}, err
	}
	if cfg.Cache.TTLs.Metadata, err = env.Duration("EVALCORE_CACHE_METADATA_TTL", cfg.Cache.TTLs.Metadata); err != nil {
		return Config{}, err
	}
	if cfg.Cache.TTLs.List, err = env.Duration("EVALCORE_CACHE_LIST_TTL", cfg.Cache.TTLs.List); err != nil {
		return Config{}, err
	}

	cfg.Queues.Processing = env.String("EVALCORE_PROCESSING_QUEUE", cfg.Queues.Processing)
	cfg.Queues.DataPlatform = env.String("EVALCORE_DATA_PLATFORM_QUEUE", cfg.Queues.DataPlatform)
	if cfg.Queues.DataPlatformEnabled, err = env.Bool("EVALCORE_DATA_PLATFORM_ENABLED", cfg.Queues.DataPlatformEnabled); err != nil {
		return Config{}, err
	}

	if cfg.Reconcile.Enabled, err = env.Bool("EVALCORE_RECONCILE_ENABLED", cfg.Reconcile.Enabled); err != nil {
		return Config{}, err
	}
	cfg.Reconcile.Schedule = env.String("EVALCORE_RECONCILE_SCHEDULE", cfg.Reconcile.Schedule)
	if cfg.Reconcile.GracePeriod, err = env.Duration("EVALCORE_RECONCILE_GRACE_PERIOD", cfg.Reconcile.GracePeriod); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// UpstreamEnabled reports whether an upstream platform is configured.
func (c Config) UpstreamEnabled() bool {
	return strings.TrimSpace(c.Upstream.BaseURL) != ""
}

func (c Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	switch c.BlobBackend {
	case BlobBackendMinIO:
		if err := c.ObjectStore.Validate(); err != nil {
			return fmt.Errorf("object store: %w", err)
		}
	case BlobBackendMemory:
	default:
		return fmt.Errorf("blob backend must be %q or %q, got %q", BlobBackendMinIO, BlobBackendMemory, c.BlobBackend)
	}
	if c.UpstreamEnabled() {
		if err := c.Upstream.Validate(); err != nil {
			return err
		}
	} else if c.MirrorStatus {
		return errors.New("mirror_status requires an upstream base url")
	}
	if c.Cache.Enabled {
		t := c.Cache.TTLs
		if t.Content <= 0 || t.Metadata <= 0 || t.List <= 0 {
			return errors.New("cache ttls must be positive")
		}
	}
	if strings.TrimSpace(c.Storage.DatasetsFolder) == "" || strings.TrimSpace(c.Storage.MetricsFolder) == "" {
		return errors.New("storage folders are required")
	}
	if strings.TrimSpace(c.Queues.Processing) == "" {
		return errors.New("processing queue name is required")
	}
	if c.Queues.DataPlatformEnabled && strings.TrimSpace(c.Queues.DataPlatform) == "" {
		return errors.New("data platform queue name is required when enabled")
	}
	if c.Runs.DispatchTimeout <= 0 {
		return errors.New("runs dispatch timeout must be positive")
	}
	if c.Runs.MaxUpdateAttempts < 1 {
		return errors.New("runs max update attempts must be >= 1")
	}
	if c.Reconcile.Enabled {
		if err := c.Reconcile.Validate(); err != nil {
			return err
		}
	}
	return nil
}
