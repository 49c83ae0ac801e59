package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/emostate/pkg/models"
)

// ConfigSuite validates loading, overrides and validation.
type ConfigSuite struct {
	suite.Suite
	dir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.T().Setenv("EMOSTATE_DATA_DIR", s.dir)
}

func (s *ConfigSuite) write(body string) string {
	path := filepath.Join(s.dir, "config.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(body), 0600))
	return path
}

func (s *ConfigSuite) TestDefaultIsValid() {
	cfg := Default()
	s.NoError(cfg.Validate())
	s.Equal(0.65, cfg.Signal.MinConfidence)
	s.Equal([models.NumHorizons]int{5, 20, 50}, cfg.Window.Capacities)
	s.Equal(CacheBadger, cfg.Cache.Backend)
	s.Equal(14*24*time.Hour, cfg.Cache.TTL)
	s.Equal(s.dir, cfg.DataDir)
}

func (s *ConfigSuite) TestLoadMissingFileUsesDefaults() {
	cfg, err := Load(filepath.Join(s.dir, "absent.yaml"))
	s.Require().NoError(err)
	s.Equal(filepath.Join(s.dir, "emostate.db"), cfg.Store.Path)
	s.Equal(filepath.Join(s.dir, "cache"), cfg.Cache.Badger.Path)
}

func (s *ConfigSuite) TestLoadYAMLOverDefaults() {
	path := s.write(`
scoring:
  horizon_weights: [10, 30, 70]
  frequency_window: 72h
state:
  compounding_threshold: 4
  inactivity:
    st: 240h
    mt: 1000h
    lt: 2000h
decay:
  interval: 30m
cache:
  backend: none
log:
  level: debug
`)
	cfg, err := Load(path)
	s.Require().NoError(err)
	s.Equal([models.NumHorizons]float64{10, 30, 70}, cfg.Scoring.HorizonWeights)
	s.Equal(72*time.Hour, cfg.Scoring.FrequencyWindow)
	s.Equal(0.25, cfg.Scoring.FrequencyWeight, "unset keys keep defaults")
	s.Equal(4, cfg.State.CompoundingThreshold)
	s.Equal(240*time.Hour, cfg.State.Inactivity.ST)
	s.Equal(30*time.Minute, cfg.Decay.Interval)
	s.Equal(CacheNone, cfg.Cache.Backend)
	s.Equal("debug", cfg.Log.Level)

	ec := cfg.Engine()
	s.Equal(cfg.Scoring, *ec.Scoring)
	s.Equal(4, ec.State.CompoundingThreshold)
}

func (s *ConfigSuite) TestEnvOverrides() {
	s.T().Setenv("EMOSTATE_LOG_LEVEL", "warn")
	s.T().Setenv("EMOSTATE_MIN_CONFIDENCE", "0.7")
	s.T().Setenv("EMOSTATE_DECAY_INTERVAL", "2h")
	s.T().Setenv("EMOSTATE_CACHE_BACKEND", "redis")
	s.T().Setenv("EMOSTATE_REDIS_ADDR", "cache:6379")
	s.T().Setenv("EMOSTATE_LOG_JSON", "true")
	s.T().Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(s.write("log:\n  level: debug\n"))
	s.Require().NoError(err)
	s.Equal("warn", cfg.Log.Level)
	s.Equal(0.7, cfg.Signal.MinConfidence)
	s.Equal(2*time.Hour, cfg.Decay.Interval)
	s.Equal(CacheRedis, cfg.Cache.Backend)
	s.Equal("cache:6379", cfg.Cache.Redis.Addr)
	s.True(cfg.Log.JSON)
	s.Equal("sk-test", cfg.Extractor.APIKey)
}

func (s *ConfigSuite) TestBadEnvValue() {
	s.T().Setenv("EMOSTATE_DECAY_INTERVAL", "soon")
	_, err := Load(filepath.Join(s.dir, "absent.yaml"))
	s.Error(err)
}

func (s *ConfigSuite) TestParseError() {
	_, err := Load(s.write("scoring: [unterminated"))
	s.Error(err)
}

func (s *ConfigSuite) TestValidateRejects() {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"confidence", func(c *Config) { c.Signal.MinConfidence = 1.5 }},
		{"compounding", func(c *Config) { c.State.CompoundingThreshold = 1 }},
		{"capacity", func(c *Config) { c.Window.Capacities[1] = 0 }},
		{"unreachable lt", func(c *Config) { c.Scoring.HorizonWeights = [models.NumHorizons]float64{1, 1, 1} }},
		{"inactivity", func(c *Config) { c.State.Inactivity.MT = 0 }},
		{"floor", func(c *Config) { c.Decay.Relevance.AsymptoticFloor = 1 }},
		{"cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"store backend", func(c *Config) { c.Store.Backend = "mongo" }},
		{"extractor", func(c *Config) { c.Extractor.Provider = "local" }},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			cfg := Default()
			tt.mutate(cfg)
			s.Error(cfg.Validate())
		})
	}
}

func (s *ConfigSuite) TestValidationErrorFromFile() {
	_, err := Load(s.write("state:\n  compounding_threshold: 1\n"))
	s.Require().Error(err)
	s.Contains(err.Error(), "compounding_threshold")
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("EMOSTATE_DATA_DIR", dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0600))

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { reloaded <- c }, zerolog.Nop())
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "debug", Get().Log.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	// Invalid content is ignored.
	require.NoError(t, os.WriteFile(path, []byte("state:\n  compounding_threshold: 0\n"), 0600))
	select {
	case <-reloaded:
		t.Fatal("invalid config must not be delivered")
	case <-time.After(200 * time.Millisecond):
	}
}
