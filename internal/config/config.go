// Package config provides configuration management for emostate.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	badgercache "github.com/thebtf/emostate/internal/cache/badger"
	rediscache "github.com/thebtf/emostate/internal/cache/redis"
	"github.com/thebtf/emostate/internal/decay"
	"github.com/thebtf/emostate/internal/engine"
	"github.com/thebtf/emostate/internal/maintenance"
	"github.com/thebtf/emostate/internal/signal"
	"github.com/thebtf/emostate/internal/state"
	"github.com/thebtf/emostate/internal/window"
	"github.com/thebtf/emostate/pkg/models"
)

const (
	// DefaultServerAddr is the default listen address for the ops server.
	DefaultServerAddr = "127.0.0.1:37780"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "EMOSTATE_"
)

// Cache backends.
const (
	CacheBadger = "badger"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Store backends.
const (
	StoreSQL    = "sql"
	StoreMemory = "memory"
)

// LogConfig controls zerolog output.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	// JSON switches from the console writer to plain JSON lines.
	JSON bool `yaml:"json" json:"json"`
}

// StoreConfig selects the durable record store.
type StoreConfig struct {
	Backend string `yaml:"backend" json:"backend"`
	// DSN is a PostgreSQL connection string; takes precedence over Path.
	DSN      string `yaml:"dsn" json:"dsn"`
	Path     string `yaml:"path" json:"path"`
	MaxConns int    `yaml:"max_conns" json:"max_conns"`
}

// CacheConfig selects the TTL cache.
type CacheConfig struct {
	Backend string             `yaml:"backend" json:"backend"`
	TTL     time.Duration      `yaml:"ttl" json:"ttl"`
	Badger  badgercache.Config `yaml:"badger" json:"badger"`
	Redis   rediscache.Config  `yaml:"redis" json:"redis"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Addr    string `yaml:"addr" json:"addr"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// ExtractorConfig configures the optional model-backed signal extractor.
type ExtractorConfig struct {
	Provider   string        `yaml:"provider" json:"provider"`
	Model      string        `yaml:"model" json:"model"`
	BaseURL    string        `yaml:"base_url" json:"base_url"`
	APIKey     string        `yaml:"-" json:"-"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
}

// Config holds the application configuration.
type Config struct {
	Scoring     models.ScoringConfig `yaml:"scoring" json:"scoring"`
	Window      window.Config        `yaml:"window" json:"window"`
	Signal      signal.Config        `yaml:"signal" json:"signal"`
	State       state.Config         `yaml:"state" json:"state"`
	Decay       decay.Config         `yaml:"decay" json:"decay"`
	Maintenance maintenance.Config   `yaml:"maintenance" json:"maintenance"`
	Cache       CacheConfig          `yaml:"cache" json:"cache"`
	Store       StoreConfig          `yaml:"store" json:"store"`
	Server      ServerConfig         `yaml:"server" json:"server"`
	Extractor   ExtractorConfig      `yaml:"extractor" json:"extractor"`
	Log         LogConfig            `yaml:"log" json:"log"`
	DataDir     string               `yaml:"data_dir" json:"data_dir"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// DataDir returns the default data directory path (~/.emostate), or
// EMOSTATE_DATA_DIR when set.
func DataDir() string {
	if dir := os.Getenv(EnvPrefix + "DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".emostate")
}

// SettingsPath returns the default settings file path.
func SettingsPath() string {
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	return filepath.Join(DataDir(), "config.yaml")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0750)
}

// Default returns a Config with default values.
func Default() *Config {
	dir := DataDir()
	return &Config{
		DataDir:     dir,
		Scoring:     *models.DefaultScoringConfig(),
		Window:      window.DefaultConfig(),
		Signal:      signal.DefaultConfig(),
		State:       state.DefaultConfig(),
		Decay:       decay.DefaultConfig(),
		Maintenance: maintenance.DefaultConfig(),
		Cache: CacheConfig{
			Backend: CacheBadger,
			TTL:     engine.DefaultCacheTTL,
			Badger:  badgercache.DefaultConfig(),
			Redis:   rediscache.DefaultConfig(),
		},
		Store: StoreConfig{
			Backend:  StoreSQL,
			MaxConns: 10,
		},
		Server: ServerConfig{
			Addr:    DefaultServerAddr,
			Enabled: true,
		},
		Extractor: ExtractorConfig{
			Model:      "gpt-4o-mini",
			Timeout:    20 * time.Second,
			MaxRetries: 3,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fillPaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillPaths derives file locations that default to the data directory.
func (c *Config) fillPaths() {
	if c.DataDir == "" {
		c.DataDir = DataDir()
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "emostate.db")
	}
	if c.Cache.Badger.Path == "" {
		c.Cache.Badger.Path = filepath.Join(c.DataDir, "cache")
	}
}

// applyEnv applies EMOSTATE_* overrides.
func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	str("DATA_DIR", &c.DataDir)
	str("LOG_LEVEL", &c.Log.Level)
	str("STORE_BACKEND", &c.Store.Backend)
	str("DB_DSN", &c.Store.DSN)
	str("DB_PATH", &c.Store.Path)
	str("CACHE_BACKEND", &c.Cache.Backend)
	str("REDIS_ADDR", &c.Cache.Redis.Addr)
	str("REDIS_PASSWORD", &c.Cache.Redis.Password)
	str("SERVER_ADDR", &c.Server.Addr)
	str("EXTRACTOR", &c.Extractor.Provider)
	str("EXTRACTOR_MODEL", &c.Extractor.Model)

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Extractor.APIKey = v
	}
	str("OPENAI_API_KEY", &c.Extractor.APIKey)

	if v, ok := os.LookupEnv(EnvPrefix + "LOG_JSON"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sLOG_JSON: %w", EnvPrefix, err)
		}
		c.Log.JSON = b
	}
	if v, ok := os.LookupEnv(EnvPrefix + "MIN_CONFIDENCE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sMIN_CONFIDENCE: %w", EnvPrefix, err)
		}
		c.Signal.MinConfidence = f
	}
	if v, ok := os.LookupEnv(EnvPrefix + "DECAY_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sDECAY_INTERVAL: %w", EnvPrefix, err)
		}
		c.Decay.Interval = d
	}
	return nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Signal.MinConfidence <= 0 || c.Signal.MinConfidence >= 1 {
		add("signal.min_confidence must be between 0 and 1")
	}
	for h, w := range c.Scoring.HorizonWeights {
		if w < 0 {
			add("scoring.horizon_weights[%s] must not be negative", models.Horizon(h))
		}
	}
	if c.Scoring.FrequencyWeight < 0 || c.Scoring.FrequencyCap < 0 {
		add("scoring frequency weight and cap must not be negative")
	}
	if c.Scoring.MaxScore() < models.LTThreshold {
		add("scoring weights cannot reach the long-term threshold %.0f", models.LTThreshold)
	}
	for h, n := range c.Window.Capacities {
		if n <= 0 {
			add("window.capacities[%s] must be positive", models.Horizon(h))
		}
	}
	if c.Window.DecayK < 0 {
		add("window.decay_k must not be negative")
	}
	if c.State.CompoundingThreshold < 2 {
		add("state.compounding_threshold must be at least 2")
	}
	if c.State.CompoundingWindow <= 0 {
		add("state.compounding_window must be positive")
	}
	if c.State.PromotionMentions < 0 || c.State.PromotionMinDuration < 0 {
		add("state.promotion_mentions and state.promotion_min_duration must not be negative")
	}
	if c.State.ResurgenceSimilarity < 0 || c.State.ResurgenceSimilarity > 1 {
		add("state.resurgence_similarity must be between 0 and 1")
	}
	for _, t := range models.ActiveTiers {
		if c.State.Inactivity.For(t) <= 0 {
			add("state.inactivity.%s must be positive", strings.ToLower(string(t)))
		}
	}
	r := c.Decay.Relevance
	if r.ExponentialLambda <= 0 || r.SigmoidK <= 0 || r.AsymptoticMu <= 0 {
		add("decay.relevance rates must be positive")
	}
	if r.AsymptoticFloor < 0 || r.AsymptoticFloor >= 1 {
		add("decay.relevance.asymptotic_floor must be in [0,1)")
	}
	if c.Decay.Interval <= 0 {
		add("decay.interval must be positive")
	}
	if c.Maintenance.Retention < 0 {
		add("maintenance.retention must not be negative")
	}
	switch c.Cache.Backend {
	case CacheBadger, CacheRedis, CacheNone:
	default:
		add("cache.backend must be one of %s, %s, %s", CacheBadger, CacheRedis, CacheNone)
	}
	switch c.Store.Backend {
	case StoreSQL, StoreMemory:
	default:
		add("store.backend must be %s or %s", StoreSQL, StoreMemory)
	}
	switch c.Extractor.Provider {
	case "", "openai":
	default:
		add("extractor.provider %q is not supported", c.Extractor.Provider)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Engine returns the pipeline configuration.
func (c *Config) Engine() engine.Config {
	scoring := c.Scoring
	return engine.Config{
		Scoring:   &scoring,
		Window:    c.Window,
		Signal:    c.Signal,
		State:     c.State,
		Relevance: c.Decay.Relevance,
		CacheTTL:  c.Cache.TTL,
	}
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configOnce.Do(func() {
		cfg, err := Load(SettingsPath())
		if err != nil {
			cfg = Default()
		}
		configMu.Lock()
		globalConfig = cfg
		configMu.Unlock()
	})

	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Set replaces the global configuration, as done after a reload.
func Set(cfg *Config) {
	configOnce.Do(func() {})
	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()
}
