package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/predictrun/internal/domain/trade"
	"github.com/sawpanic/predictrun/internal/engine"
	"github.com/sawpanic/predictrun/internal/features"
	"github.com/sawpanic/predictrun/internal/infrastructure/db"
	"github.com/sawpanic/predictrun/internal/ingest"
	monitor "github.com/sawpanic/predictrun/internal/interfaces/http"
	"github.com/sawpanic/predictrun/internal/lifecycle"
	"github.com/sawpanic/predictrun/internal/nn"
	"github.com/sawpanic/predictrun/internal/scheduler"
	"github.com/sawpanic/predictrun/internal/stream"
)

// Config is the complete application configuration
type Config struct {
	Database  db.Config            `yaml:"database"`
	Redis     RedisConfig          `yaml:"redis"`
	Cache     CacheConfig          `yaml:"cache"`
	Model     ModelConfig          `yaml:"model"`
	Engine    engine.Config        `yaml:"engine"`
	Lifecycle lifecycle.Config     `yaml:"lifecycle"`
	Ingest    ingest.Config        `yaml:"ingest"`
	Scheduler scheduler.Config     `yaml:"scheduler"`
	HTTP      monitor.ServerConfig `yaml:"http"`
	Log       LogConfig            `yaml:"log"`
}

// RedisConfig configures the signal channel. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string              `yaml:"addr"`
	Password string              `yaml:"password"`
	DB       int                 `yaml:"db"`
	Signals  stream.RedisOptions `yaml:"signals"`
}

// Enabled reports whether a Redis address is configured
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// CacheConfig configures the latest-price cache; it shares the Redis address when set
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	Timeout time.Duration `yaml:"timeout"`
}

// ModelConfig shapes the classifier and its feature window
type ModelConfig struct {
	Seed         int64         `yaml:"seed"`
	HiddenLayers int           `yaml:"hidden_layers"`
	HiddenWidth  int           `yaml:"hidden_width"`
	Activation   nn.Activation `yaml:"activation"`
	Classes      int           `yaml:"classes"`
	Window       int           `yaml:"window"`
	Lookback     time.Duration `yaml:"lookback"`
	MinSamples   int           `yaml:"min_samples"`
}

// Topology derives the network shape from the feature window
func (m ModelConfig) Topology() nn.Topology {
	return nn.Topology{
		InputSize:    m.Window - 1,
		HiddenLayers: m.HiddenLayers,
		HiddenWidth:  m.HiddenWidth,
		OutputSize:   m.Classes,
		Activation:   m.Activation,
	}
}

// LogConfig controls zerolog output
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, json, console
}

// Default returns the production defaults
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Redis: RedisConfig{
			Signals: stream.RedisOptions{Channel: "predictions", LatestKey: "predictions:latest"},
		},
		Cache: CacheConfig{Enabled: true, TTL: 5 * time.Minute, Timeout: 500 * time.Millisecond},
		Model: ModelConfig{
			Seed:         42,
			HiddenLayers: 2,
			HiddenWidth:  16,
			Activation:   nn.Sigmoid,
			Classes:      2,
			Window:       features.DefaultWindow,
			Lookback:     features.DefaultLookback,
			MinSamples:   10,
		},
		Engine:    engine.DefaultConfig(),
		Lifecycle: lifecycle.DefaultConfig(),
		Ingest: ingest.Config{
			MaxFailures: ingest.DefaultMaxFailures,
			Quoter:      ingest.QuoterConfig{Timeout: 10 * time.Second, RPS: 5, Burst: 5},
		},
		Scheduler: scheduler.DefaultConfig(),
		HTTP:      monitor.DefaultServerConfig(),
		Log:       LogConfig{Level: "info", Format: "auto"},
	}
}

// Load reads path on top of Default, applies environment overrides and validates.
// An empty path uses defaults and the environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Database.ApplyDefaults()
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return cfg, err
	}
	if cfg.Ingest.Quoter.BaseURL == "" {
		cfg.disableIngestJobs()
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies PG_*, REDIS_ADDR, HTTP_PORT and PREDICTRUN_* variables
func (c *Config) ApplyEnvOverrides() error {
	c.Database.ApplyEnvOverrides()

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Redis.Password = pw
	}
	if url := os.Getenv("PREDICTRUN_QUOTE_URL"); url != "" {
		c.Ingest.Quoter.BaseURL = url
	}
	if symbols := os.Getenv("PREDICTRUN_SYMBOLS"); symbols != "" {
		c.Ingest.Symbols = splitList(symbols)
	}
	if level := os.Getenv("PREDICTRUN_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"HTTP_PORT", &c.HTTP.Port},
		{"PREDICTRUN_HIDDEN_LAYERS", &c.Model.HiddenLayers},
		{"PREDICTRUN_NODES_PER_LAYER", &c.Model.HiddenWidth},
		{"PREDICTRUN_CLASSES", &c.Model.Classes},
		{"PREDICTRUN_TOP_K", &c.Engine.TopK},
		{"PREDICTRUN_EPOCHS", &c.Engine.Epochs},
	}
	for _, v := range ints {
		raw := os.Getenv(v.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", v.name, err)
		}
		*v.dst = n
	}

	if raw := os.Getenv("PREDICTRUN_SEED"); raw != "" {
		seed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("PREDICTRUN_SEED: %w", err)
		}
		c.Model.Seed = seed
	}
	if raw := os.Getenv("PREDICTRUN_LEARNING_RATE"); raw != "" {
		lr, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("PREDICTRUN_LEARNING_RATE: %w", err)
		}
		c.Engine.LearningRate = lr
	}
	return nil
}

// Validate ensures the configuration is valid and consistent
func (c Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.Model.Window < 2 {
		return fmt.Errorf("model: window must be at least 2, got %d", c.Model.Window)
	}
	if c.Model.Classes != 2 && c.Model.Classes != 3 {
		return fmt.Errorf("model: classes must be 2 or 3, got %d", c.Model.Classes)
	}
	if c.Model.MinSamples <= 0 {
		return fmt.Errorf("model: min_samples must be positive")
	}
	if err := c.Model.Topology().Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if !c.Lifecycle.Kind.Valid() {
		return fmt.Errorf("lifecycle: unknown trade kind %q", c.Lifecycle.Kind)
	}
	if c.Lifecycle.Kind == trade.KindSized && !(c.Lifecycle.Sizing.OrderSize > 0) {
		return fmt.Errorf("lifecycle: sized trades need a positive order_size")
	}
	if err := c.Lifecycle.Policy.Validate(); err != nil {
		return fmt.Errorf("lifecycle: %w", err)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache: ttl must be positive")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http: invalid port %d", c.HTTP.Port)
	}
	for _, job := range c.Scheduler.Jobs {
		if job.Enabled && job.Type == scheduler.JobIngest && c.Ingest.Quoter.BaseURL == "" {
			return fmt.Errorf("scheduler: job %q ingests quotes but ingest.quoter.base_url is empty", job.Name)
		}
	}
	return nil
}

// disableIngestJobs turns off quote polling when there is no quote source
func (c *Config) disableIngestJobs() {
	for i, job := range c.Scheduler.Jobs {
		if job.Type == scheduler.JobIngest && job.Enabled {
			c.Scheduler.Jobs[i].Enabled = false
			log.Warn().Str("job", job.Name).Msg("No quote source configured, ingest job disabled")
		}
	}
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
