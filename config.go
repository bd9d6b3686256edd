package linkcheck

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. LINKCHECK_CACHE_TTL.
const EnvPrefix = "LINKCHECK_"

// DefaultCacheTTL is the entry lifetime when none is configured.
const DefaultCacheTTL = 300 * time.Second

// Config holds configuration for a linkcheck process.
type Config struct {
	App      AppConfig      `yaml:"app"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Scraper  ScraperConfig  `yaml:"scraper"`
	Log      LogConfig      `yaml:"log"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Debug   bool   `yaml:"debug"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// CacheConfig is the configuration surface of the cache layer.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	// TTLSeconds is the default entry lifetime.
	TTLSeconds int    `yaml:"ttl_seconds"`
	RedisURL   string `yaml:"redis_url"`
	// OpTimeout bounds every single backend round trip.
	OpTimeout time.Duration `yaml:"op_timeout"`
	Breaker   BreakerConfig `yaml:"breaker"`
	// MemorySize bounds the in-process backend used when RedisURL is "memory".
	MemorySize int `yaml:"memory_size"`
}

// BreakerConfig configures the circuit breaker wrapped around the Redis backend.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	MinRequests      uint32        `yaml:"min_requests"`
	FailureThreshold float64       `yaml:"failure_threshold"`
}

type ScraperConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	UserAgent  string        `yaml:"user_agent"`
	MaxRetries uint64        `yaml:"max_retries"`
}

// LogConfig configures the zap logger and optional file rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json or console
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TTL returns the default cache TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return DefaultCacheTTL
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// DefaultConfig returns the configuration used when no file or environment
// override is present.
func DefaultConfig() Config {
	return Config{
		App: AppConfig{Name: "News Verifier API", Version: "1.0.0"},
		HTTP: HTTPConfig{
			Addr:            ":8000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Database: DatabaseConfig{DSN: "file:linkcheck.db?_foreign_keys=on"},
		Cache: CacheConfig{
			Enabled:    true,
			TTLSeconds: int(DefaultCacheTTL / time.Second),
			RedisURL:   "redis://localhost:6379",
			OpTimeout:  500 * time.Millisecond,
			Breaker: BreakerConfig{
				Enabled:          true,
				MaxRequests:      1,
				Interval:         30 * time.Second,
				Timeout:          10 * time.Second,
				MinRequests:      5,
				FailureThreshold: 0.6,
			},
			MemorySize: 10000,
		},
		Scraper: ScraperConfig{
			Timeout:    30 * time.Second,
			UserAgent:  "NewsVerifier/1.0",
			MaxRetries: 2,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadConfig builds a Config from defaults, then the YAML file at path (if
// path is non-empty), then LINKCHECK_* environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the process cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn must be set"))
	}
	if c.Cache.TTLSeconds <= 0 {
		errs = append(errs, errors.New("cache.ttl_seconds must be positive"))
	}
	if c.Cache.Enabled && c.Cache.RedisURL == "" {
		errs = append(errs, errors.New("cache.redis_url must be set when the cache is enabled"))
	}
	if c.Cache.OpTimeout <= 0 {
		errs = append(errs, errors.New("cache.op_timeout must be positive"))
	}
	if c.Scraper.Timeout <= 0 {
		errs = append(errs, errors.New("scraper.timeout must be positive"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr must be set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	boolean("DEBUG", &cfg.App.Debug)
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	if v, ok := lookup(EnvPrefix + "CORS_ORIGINS"); ok {
		cfg.HTTP.CORSOrigins = splitList(v)
	}
	str("DATABASE_DSN", &cfg.Database.DSN)
	boolean("CACHE_ENABLED", &cfg.Cache.Enabled)
	integer("CACHE_TTL", &cfg.Cache.TTLSeconds)
	str("REDIS_URL", &cfg.Cache.RedisURL)
	duration("CACHE_OP_TIMEOUT", &cfg.Cache.OpTimeout)
	boolean("CACHE_BREAKER_ENABLED", &cfg.Cache.Breaker.Enabled)
	duration("SCRAPER_TIMEOUT", &cfg.Scraper.Timeout)
	str("SCRAPER_USER_AGENT", &cfg.Scraper.UserAgent)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("LOG_FILE", &cfg.Log.File)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(errs...))
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
