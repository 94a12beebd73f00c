// Package config loads snapgraph configuration from a YAML file with
// SNAPGRAPH_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"snapgraph/changeset"
	"snapgraph/store"
)

// Config holds snapgraph configuration.
type Config struct {
	// DataDir is the root directory for database files.
	DataDir string `yaml:"data_dir"`
	// Backend is the content store: sqlite, badger or memory.
	Backend string `yaml:"backend"`
	// CompressAbove is the object size in bytes above which content is
	// zstd-compressed at rest. Negative disables compression.
	CompressAbove int  `yaml:"compress_above"`
	SyncWrites    bool `yaml:"sync_writes"`
	// CacheEntries sizes the read-through content cache.
	CacheEntries int `yaml:"cache_entries"`

	Log     LogConfig     `yaml:"log"`
	Rebaser RebaserConfig `yaml:"rebaser"`

	// Approvals are the path rules a change set must satisfy to be applied.
	Approvals []changeset.Rule `yaml:"approvals"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type RebaserConfig struct {
	QueueSize int `yaml:"queue_size"`
	// IdleTTL is how long an idle workspace worker is kept.
	IdleTTL        time.Duration `yaml:"idle_ttl"`
	SnapshotCache  int           `yaml:"snapshot_cache"`
	DetailMaxBytes int           `yaml:"detail_max_bytes"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		DataDir:       "./data",
		Backend:       store.BackendSQLite,
		CompressAbove: store.DefaultCompressAbove,
		CacheEntries:  4096,
		Log:           LogConfig{Level: "info", Format: "text"},
		Rebaser: RebaserConfig{
			QueueSize:      64,
			IdleTTL:        10 * time.Minute,
			SnapshotCache:  32,
			DetailMaxBytes: 64 << 10,
		},
	}
}

// Load reads path (if not empty) over the defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DataDir = getEnv("SNAPGRAPH_DATA", c.DataDir)
	c.Backend = getEnv("SNAPGRAPH_BACKEND", c.Backend)
	c.CompressAbove = getEnvInt("SNAPGRAPH_COMPRESS_ABOVE", c.CompressAbove)
	c.SyncWrites = getEnvBool("SNAPGRAPH_SYNC_WRITES", c.SyncWrites)
	c.CacheEntries = getEnvInt("SNAPGRAPH_CACHE_ENTRIES", c.CacheEntries)
	c.Log.Level = getEnv("SNAPGRAPH_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("SNAPGRAPH_LOG_FORMAT", c.Log.Format)
	c.Rebaser.QueueSize = getEnvInt("SNAPGRAPH_QUEUE_SIZE", c.Rebaser.QueueSize)
	c.Rebaser.IdleTTL = getEnvDuration("SNAPGRAPH_IDLE_TTL", c.Rebaser.IdleTTL)
}

// Validate checks for settings that cannot work.
func (c *Config) Validate() error {
	switch c.Backend {
	case store.BackendSQLite, store.BackendBadger, store.BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Backend != store.BackendMemory && c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if _, err := changeset.NewPolicy(c.Approvals...); err != nil {
		return err
	}
	return nil
}

// Logger builds the logger described by c.Log.
func (c *Config) Logger() *logrus.Logger {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(c.Log.Level); err == nil {
		log.SetLevel(lvl)
	}
	if c.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// Store returns the storage settings.
func (c *Config) Store(log *logrus.Logger) store.Config {
	return store.Config{
		Backend:       c.Backend,
		DataDir:       c.DataDir,
		CompressAbove: c.CompressAbove,
		SyncWrites:    c.SyncWrites,
		CacheEntries:  c.CacheEntries,
		Logger:        log,
	}
}

// Policy builds the approval policy.
func (c *Config) Policy() (*changeset.Policy, error) {
	return changeset.NewPolicy(c.Approvals...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
