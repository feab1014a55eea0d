package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/subosito/gotenv"
)

// DefaultFileName is the service settings file looked up in the working directory.
const DefaultFileName = "fileretrieval.toml"

// Duration wraps time.Duration for TOML unmarshalling.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the top-level structure parsed from fileretrieval.toml.
type Config struct {
	ConfigurationsDir string `toml:"configurations_dir"`
	SecretsPath       string `toml:"secrets"`
	AgeIdentity       string `toml:"age_identity"`
	Development       bool   `toml:"development"`

	Scheduler SchedulerConfig `toml:"scheduler"`
	Dispatch  DispatchConfig  `toml:"dispatch"`
	Store     StoreConfig     `toml:"store"`
	Bus       BusConfig       `toml:"bus"`
	Lock      LockConfig      `toml:"lock"`
	Metrics   MetricsConfig   `toml:"metrics"`

	path string // unexported: filesystem path of the settings file
}

// SchedulerConfig controls the cron tick loop.
type SchedulerConfig struct {
	TickInterval Duration `toml:"tick_interval"`
	MaxCatchUp   Duration `toml:"max_catch_up"`
	Concurrency  int      `toml:"concurrency"`
}

// DispatchConfig controls individual executions.
type DispatchConfig struct {
	ListTimeout     Duration `toml:"list_timeout"`
	ConnectTimeout  Duration `toml:"connect_timeout"`
	RetryMaxElapsed Duration `toml:"retry_max_elapsed"`
	StaleAfter      Duration `toml:"stale_after"`
	Retention       Duration `toml:"retention"`
}

// StoreConfig selects the SQL backend for the ledger and execution history.
type StoreConfig struct {
	Driver string `toml:"driver"` // sqlite, postgres or sqlserver
	DSN    string `toml:"dsn"`
}

// BusConfig selects the message transport.
type BusConfig struct {
	Kind      string `toml:"kind"` // memory or redis
	RedisAddr string `toml:"redis_addr"`
	Consumer  string `toml:"consumer"`
	Retain    int    `toml:"retain"` // memory bus: recent messages kept for inspection
}

// LockConfig selects the per-configuration exclusivity mechanism.
type LockConfig struct {
	Kind      string   `toml:"kind"` // memory or redis
	RedisAddr string   `toml:"redis_addr"`
	TTL       Duration `toml:"ttl"`
}

// MetricsConfig controls the ops HTTP server.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// Path returns the filesystem path this config was loaded from, empty for defaults.
func (c *Config) Path() string {
	return c.path
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	setString(&c.ConfigurationsDir, "configurations")
	setDuration(&c.Scheduler.TickInterval, time.Minute)
	setDuration(&c.Scheduler.MaxCatchUp, time.Hour)
	if c.Scheduler.Concurrency <= 0 {
		c.Scheduler.Concurrency = 100
	}
	setDuration(&c.Dispatch.ListTimeout, 2*time.Minute)
	setDuration(&c.Dispatch.ConnectTimeout, 30*time.Second)
	setDuration(&c.Dispatch.RetryMaxElapsed, 5*time.Minute)
	setDuration(&c.Dispatch.StaleAfter, time.Hour)
	setDuration(&c.Dispatch.Retention, 90*24*time.Hour)
	setString(&c.Store.Driver, "sqlite")
	setString(&c.Store.DSN, "fileretrieval.db")
	setString(&c.Bus.Kind, "memory")
	setString(&c.Bus.Consumer, hostname())
	setString(&c.Lock.Kind, "memory")
	setDuration(&c.Lock.TTL, 15*time.Minute)
	setString(&c.Metrics.Addr, ":9090")
}

// Load reads the settings file at path, loads an optional .env next to it and
// applies FILERETRIEVAL_* environment overrides. A missing file is not an
// error: defaults and environment are used instead.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path %q: %w", path, err)
	}

	_ = gotenv.Load(filepath.Join(filepath.Dir(absPath), ".env"))

	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %q: %w", absPath, err)
		}
		cfg.path = absPath
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading %q: %w", absPath, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	// Make relative paths absolute relative to the settings file
	rootDir := filepath.Dir(absPath)
	cfg.ConfigurationsDir = resolve(rootDir, cfg.ConfigurationsDir)
	if cfg.SecretsPath != "" {
		cfg.SecretsPath = resolve(rootDir, cfg.SecretsPath)
	}
	if cfg.AgeIdentity != "" {
		cfg.AgeIdentity = resolve(rootDir, cfg.AgeIdentity)
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.DSN != ":memory:" && !strings.HasPrefix(cfg.Store.DSN, "file:") {
		cfg.Store.DSN = resolve(rootDir, cfg.Store.DSN)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres", "sqlserver":
	default:
		return fmt.Errorf("invalid store.driver %q (must be sqlite, postgres, or sqlserver)", c.Store.Driver)
	}
	switch c.Bus.Kind {
	case "memory":
	case "redis":
		if c.Bus.RedisAddr == "" {
			return fmt.Errorf("bus.redis_addr is required when bus.kind = \"redis\"")
		}
	default:
		return fmt.Errorf("invalid bus.kind %q (must be memory or redis)", c.Bus.Kind)
	}
	switch c.Lock.Kind {
	case "memory":
	case "redis":
		if c.Lock.RedisAddr == "" && c.Bus.RedisAddr == "" {
			return fmt.Errorf("lock.redis_addr is required when lock.kind = \"redis\"")
		}
	default:
		return fmt.Errorf("invalid lock.kind %q (must be memory or redis)", c.Lock.Kind)
	}
	if c.Lock.TTL.Duration < c.Dispatch.ListTimeout.Duration {
		return fmt.Errorf("lock.ttl (%s) must be at least dispatch.list_timeout (%s)", c.Lock.TTL.Duration, c.Dispatch.ListTimeout.Duration)
	}
	return nil
}

// LockRedisAddr returns the Redis address used for locks, falling back to the bus address.
func (c *Config) LockRedisAddr() string {
	if c.Lock.RedisAddr != "" {
		return c.Lock.RedisAddr
	}
	return c.Bus.RedisAddr
}

// applyEnv overrides settings from FILERETRIEVAL_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"FILERETRIEVAL_CONFIGURATIONS_DIR": &c.ConfigurationsDir,
		"FILERETRIEVAL_SECRETS":            &c.SecretsPath,
		"FILERETRIEVAL_AGE_IDENTITY":       &c.AgeIdentity,
		"FILERETRIEVAL_STORE_DRIVER":       &c.Store.Driver,
		"FILERETRIEVAL_STORE_DSN":          &c.Store.DSN,
		"FILERETRIEVAL_BUS_KIND":           &c.Bus.Kind,
		"FILERETRIEVAL_REDIS_ADDR":         &c.Bus.RedisAddr,
		"FILERETRIEVAL_LOCK_KIND":          &c.Lock.Kind,
		"FILERETRIEVAL_METRICS_ADDR":       &c.Metrics.Addr,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	durations := map[string]*Duration{
		"FILERETRIEVAL_TICK_INTERVAL": &c.Scheduler.TickInterval,
		"FILERETRIEVAL_LIST_TIMEOUT":  &c.Dispatch.ListTimeout,
		"FILERETRIEVAL_LOCK_TTL":      &c.Lock.TTL,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok && v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}

	if v, ok := lookup("FILERETRIEVAL_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FILERETRIEVAL_CONCURRENCY: invalid integer %q", v)
		}
		c.Scheduler.Concurrency = n
	}
	if v, ok := lookup("FILERETRIEVAL_DEVELOPMENT"); ok && v != "" {
		c.Development, _ = strconv.ParseBool(v)
	}
	return nil
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setDuration(dst *Duration, def time.Duration) {
	if dst.Duration <= 0 {
		dst.Duration = def
	}
}

func resolve(rootDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(rootDir, p)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "fileretrieval"
	}
	return h
}
