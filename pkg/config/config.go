package config

import (
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Server    ListenConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Events    EventsConfig    `yaml:"events"`
	Naming    NamingConfig    `yaml:"naming"`
	Streak    StreakConfig    `yaml:"streak"`
	Search    SearchConfig    `yaml:"search"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type ListenConfig struct {
	Listen          string `yaml:"listen" env:"AREUOK_LISTEN"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_s" env:"AREUOK_SHUTDOWN_TIMEOUT_S"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver" env:"AREUOK_DB_DRIVER"`
	DSN          string `yaml:"dsn" env:"AREUOK_DB_DSN"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"AREUOK_DB_MAX_OPEN_CONNS"`
}

type CacheConfig struct {
	RedisURL string `yaml:"redis_url" env:"AREUOK_REDIS_URL"`
	TTLS     int    `yaml:"ttl_s" env:"AREUOK_CACHE_TTL_S"`
}

type EventsConfig struct {
	Brokers []string `yaml:"brokers" env:"AREUOK_KAFKA_BROKERS" envSeparator:","`
	Topic   string   `yaml:"topic" env:"AREUOK_KAFKA_TOPIC"`
}

type NamingConfig struct {
	CaseSensitive bool     `yaml:"case_sensitive" env:"AREUOK_NAME_CASE_SENSITIVE"`
	MinLength     int      `yaml:"min_length"`
	MaxLength     int      `yaml:"max_length"`
	CooldownDays  int      `yaml:"cooldown_days" env:"AREUOK_NAME_COOLDOWN_DAYS"`
	Reserved      []string `yaml:"reserved"`
}

type StreakConfig struct {
	Timezone string `yaml:"timezone" env:"AREUOK_TIMEZONE"`
}

type SearchConfig struct {
	MinQueryLength int `yaml:"min_query_length"`
	Limit          int `yaml:"limit"`
}

type RateLimitConfig struct {
	RegisterPerMinute int `yaml:"register_per_minute"`
	SearchPerMinute   int `yaml:"search_per_minute"`
}

type LoggingConfig struct {
	Level string `yaml:"level" env:"AREUOK_LOG_LEVEL"`
	JSON  bool   `yaml:"json" env:"AREUOK_LOG_JSON"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint" env:"AREUOK_OTLP_ENDPOINT"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
	LogSpans    bool    `yaml:"log_spans"`
}

// DefaultConfig returns a config that runs standalone on sqlite.
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Server: ListenConfig{
			Listen:          ":8080",
			ShutdownTimeout: 10,
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "areuok.db",
			MaxOpenConns: 1,
		},
		Cache: CacheConfig{
			TTLS: 300,
		},
		Events: EventsConfig{
			Topic: "areuok.events",
		},
		Naming: NamingConfig{
			CaseSensitive: false,
			MinLength:     2,
			MaxLength:     32,
			CooldownDays:  15,
		},
		Streak: StreakConfig{
			Timezone: "UTC",
		},
		Search: SearchConfig{
			MinQueryLength: 2,
			Limit:          20,
		},
		RateLimit: RateLimitConfig{
			RegisterPerMinute: 10,
			SearchPerMinute:   60,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
	}
}

// Load reads config from file, then applies AREUOK_* environment overrides.
func Load(path string) (*ServerConfig, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *ServerConfig) Validate() error {
	if c.Server.Listen == "" {
		return ErrMissingListen
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return ErrUnknownDriver
	}
	if c.Database.DSN == "" {
		return ErrMissingDSN
	}
	if _, err := time.LoadLocation(c.Streak.Timezone); err != nil {
		return &Error{"invalid streak timezone: " + c.Streak.Timezone}
	}
	if c.Naming.CooldownDays < 0 {
		return ErrInvalidCooldown
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 1
	}
	if c.Cache.TTLS <= 0 {
		c.Cache.TTLS = 300
	}
	if c.Events.Topic == "" {
		c.Events.Topic = "areuok.events"
	}
	if c.Naming.MinLength <= 0 {
		c.Naming.MinLength = 1
	}
	if c.Naming.MaxLength < c.Naming.MinLength {
		c.Naming.MaxLength = c.Naming.MinLength
	}
	if c.Search.MinQueryLength <= 0 {
		c.Search.MinQueryLength = 2
	}
	if c.Search.Limit <= 0 {
		c.Search.Limit = 20
	}
	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = 1
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

// Location returns the timezone that anchors calendar days.
func (c *ServerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Streak.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *ServerConfig) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLS) * time.Second
}

var (
	ErrMissingListen   = &Error{"listen address is required"}
	ErrUnknownDriver   = &Error{"database driver must be sqlite or postgres"}
	ErrMissingDSN      = &Error{"database dsn is required"}
	ErrInvalidCooldown = &Error{"naming cooldown_days must be >= 0"}
)

type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
