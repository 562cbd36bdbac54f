// Package config loads server configuration from defaults, an optional YAML or JSON
// file, and CONCORD_* environment variables, in that order of precedence.
package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/concord/pkg/domain"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "CONCORD_"

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendFile   = "file"
)

// Config is the complete server configuration.
type Config struct {
	Listen        string  `yaml:"listen" json:"listen" env:"LISTEN"`
	MetricsListen string  `yaml:"metrics_listen" json:"metrics_listen" env:"METRICS_LISTEN"`
	Log           Log     `yaml:"log" json:"log" envPrefix:"LOG_"`
	Session       Session `yaml:"session" json:"session" envPrefix:"SESSION_"`
	Store         Store   `yaml:"store" json:"store" envPrefix:"STORE_"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level" json:"level" env:"LEVEL"`
	Format string `yaml:"format" json:"format" env:"FORMAT"` // auto, text or json
}

// Session configures the session store.
type Session struct {
	TTL          time.Duration `yaml:"ttl" json:"ttl" env:"TTL"`
	ReapInterval time.Duration `yaml:"reap_interval" json:"reap_interval" env:"REAP_INTERVAL"`
	LockTimeout  time.Duration `yaml:"lock_timeout" json:"lock_timeout" env:"LOCK_TIMEOUT"`
	CacheShards  int           `yaml:"cache_shards" json:"cache_shards" env:"CACHE_SHARDS"`
}

// Store selects and configures the durable backend.
type Store struct {
	Backend         string   `yaml:"backend" json:"backend" env:"BACKEND"`
	Redis           Redis    `yaml:"redis" json:"redis" envPrefix:"REDIS_"`
	File            File     `yaml:"file" json:"file" envPrefix:"FILE_"`
	Compress        bool     `yaml:"compress" json:"compress" env:"COMPRESS"`
	EncryptionKey   string   `yaml:"encryption_key" json:"encryption_key" env:"ENCRYPTION_KEY"`
	FallbackKeys    []string `yaml:"fallback_keys" json:"fallback_keys" env:"FALLBACK_KEYS" envSeparator:","`
	DistributedLock bool     `yaml:"distributed_lock" json:"distributed_lock" env:"DISTRIBUTED_LOCK"`
}

// Redis holds connection settings for the redis backend.
type Redis struct {
	Addr     string `yaml:"addr" json:"addr" env:"ADDR"`
	Password string `yaml:"password" json:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" json:"db" env:"DB"`
	Prefix   string `yaml:"prefix" json:"prefix" env:"PREFIX"`
}

// File holds settings for the file backend.
type File struct {
	Path string `yaml:"path" json:"path" env:"PATH"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Listen:        ":8080",
		MetricsListen: ":9090",
		Log:           Log{Level: "info", Format: "auto"},
		Session: Session{
			TTL:          domain.DefaultSessionTTL,
			ReapInterval: time.Minute,
			LockTimeout:  domain.DefaultLockTimeout,
			CacheShards:  32,
		},
		Store: Store{
			Backend: BackendMemory,
			Redis:   Redis{Addr: "localhost:6379", Prefix: "concord:session:"},
			File:    File{Path: ".concord/sessions"},
		},
	}
}

// Load builds the configuration. An empty path skips the file; a missing file is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return nil
	}
	// Default to YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case BackendMemory, BackendFile:
		if c.Store.DistributedLock {
			errs = append(errs, errors.New("store.distributed_lock requires the redis backend"))
		}
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}

	if c.Session.TTL < 0 {
		errs = append(errs, errors.New("session.ttl must not be negative"))
	}
	if c.Session.LockTimeout < 0 {
		errs = append(errs, errors.New("session.lock_timeout must not be negative"))
	}
	if _, _, err := c.Store.Keys(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Keys decodes the hex encryption keys. Both results are nil when encryption is off.
func (s Store) Keys() (active []byte, fallback [][]byte, err error) {
	if s.EncryptionKey == "" {
		if len(s.FallbackKeys) > 0 {
			return nil, nil, errors.New("store.fallback_keys set without store.encryption_key")
		}
		return nil, nil, nil
	}
	if active, err = decodeKey("store.encryption_key", s.EncryptionKey); err != nil {
		return nil, nil, err
	}
	for i, k := range s.FallbackKeys {
		key, err := decodeKey(fmt.Sprintf("store.fallback_keys[%d]", i), k)
		if err != nil {
			return nil, nil, err
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(name, s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s must be 32 bytes (64 hex characters), got %d", name, len(key))
	}
	return key, nil
}
