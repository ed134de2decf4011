package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// BackupConfig controls periodic SQLite snapshots.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Config is shared by the booking, parking and notify binaries. Each binary
// reads only the sections it needs.
type Config struct {
	Service struct {
		Name string `yaml:"name"`
	} `yaml:"service"`

	HTTP struct {
		Address        string   `yaml:"address"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		RateLimit      int      `yaml:"rate_limit_per_minute"`
	} `yaml:"http"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Events struct {
		RetryDelaysMS []int `yaml:"retry_delays_ms"`
		MaxRetries    int   `yaml:"max_retries"`
	} `yaml:"events"`

	Outbox struct {
		PollIntervalMS   int     `yaml:"poll_interval_ms"`
		BatchSize        int     `yaml:"batch_size"`
		MaxAttempts      int     `yaml:"max_attempts"`
		PublishPerSecond float64 `yaml:"publish_per_second"`
	} `yaml:"outbox"`

	Reconcile struct {
		Enabled             bool `yaml:"enabled"`
		IntervalSeconds     int  `yaml:"interval_seconds"`
		PendingAfterSeconds int  `yaml:"pending_after_seconds"`
		GiveUpAfterMinutes  int  `yaml:"give_up_after_minutes"`
	} `yaml:"reconcile"`

	ParkingAPI struct {
		BaseURL         string `yaml:"base_url"`
		HealthURL       string `yaml:"health_url"`
		TimeoutSeconds  int    `yaml:"timeout_seconds"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"parking_api"`

	Lots struct {
		File                 string `yaml:"file"`
		WatchIntervalSeconds int    `yaml:"watch_interval_seconds"`
	} `yaml:"lots"`

	Notify struct {
		DedupeTTLSeconds int `yaml:"dedupe_ttl_seconds"`
	} `yaml:"notify"`

	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
}

// Load reads the YAML config at path. A .env file next to the working
// directory is loaded first so ${VAR} placeholders can refer to it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Path != "" {
		if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// Validate checks settings required by services exposing authenticated routes.
func (c *Config) Validate(requireAuth bool) error {
	if requireAuth && (c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "CHANGE_ME") {
		return errors.New("auth.jwt_secret must be set")
	}
	if c.Outbox.MaxAttempts < 0 || c.Outbox.BatchSize < 0 {
		return errors.New("outbox settings must not be negative")
	}
	return nil
}

func (c *Config) HTTPAddress() string {
	if c.HTTP.Address == "" {
		return ":8080"
	}
	return c.HTTP.Address
}

func (c *Config) RateLimitPerMinute() int {
	if c.HTTP.RateLimit <= 0 {
		return 120
	}
	return c.HTTP.RateLimit
}

// EventRetryDelays returns the consumer-side retry schedule.
func (c *Config) EventRetryDelays() []time.Duration {
	if len(c.Events.RetryDelaysMS) == 0 {
		return []time.Duration{200 * time.Millisecond, time.Second, 5 * time.Second}
	}
	delays := make([]time.Duration, 0, len(c.Events.RetryDelaysMS))
	for _, ms := range c.Events.RetryDelaysMS {
		delays = append(delays, time.Duration(ms)*time.Millisecond)
	}
	return delays
}

func (c *Config) EventMaxRetries() int {
	if c.Events.MaxRetries <= 0 {
		return 3
	}
	return c.Events.MaxRetries
}

func (c *Config) OutboxPollInterval() time.Duration {
	if c.Outbox.PollIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Outbox.PollIntervalMS) * time.Millisecond
}

func (c *Config) OutboxBatchSize() int {
	if c.Outbox.BatchSize <= 0 {
		return 100
	}
	return c.Outbox.BatchSize
}

func (c *Config) OutboxMaxAttempts() int {
	if c.Outbox.MaxAttempts <= 0 {
		return 20
	}
	return c.Outbox.MaxAttempts
}

func (c *Config) OutboxPublishRate() float64 {
	if c.Outbox.PublishPerSecond <= 0 {
		return 200
	}
	return c.Outbox.PublishPerSecond
}

func (c *Config) ReconcileInterval() time.Duration {
	if c.Reconcile.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Reconcile.IntervalSeconds) * time.Second
}

func (c *Config) ReconcilePendingAfter() time.Duration {
	if c.Reconcile.PendingAfterSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.Reconcile.PendingAfterSeconds) * time.Second
}

func (c *Config) ReconcileGiveUpAfter() time.Duration {
	if c.Reconcile.GiveUpAfterMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Reconcile.GiveUpAfterMinutes) * time.Minute
}

func (c *Config) ParkingAPITimeout() time.Duration {
	if c.ParkingAPI.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ParkingAPI.TimeoutSeconds) * time.Second
}

func (c *Config) ParkingAPICacheTTL() time.Duration {
	return time.Duration(c.ParkingAPI.CacheTTLSeconds) * time.Second
}

func (c *Config) LotsWatchInterval() time.Duration {
	if c.Lots.WatchIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Lots.WatchIntervalSeconds) * time.Second
}

func (c *Config) NotifyDedupeTTL() time.Duration {
	if c.Notify.DedupeTTLSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Notify.DedupeTTLSeconds) * time.Second
}
