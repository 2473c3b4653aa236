package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	Driver      string `mapstructure:"driver"` // postgres, memory
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type LedgerConfig struct {
	// MaxAttempts counts every CAS attempt, the first one included, before
	// ConcurrentModification.
	MaxAttempts int `mapstructure:"max_attempts"`
}

type WorkflowConfig struct {
	MaxQuantity int64 `mapstructure:"max_quantity"`
	PageSize    int   `mapstructure:"page_size"`
}

// RealtimeConfig configures both the change publisher and the subscription layer.
type RealtimeConfig struct {
	Transport      string         `mapstructure:"transport"` // redis, supabase, none
	ChannelPrefix  string         `mapstructure:"channel_prefix"`
	BaseDelay      time.Duration  `mapstructure:"base_delay"`
	MaxDelay       time.Duration  `mapstructure:"max_delay"`
	MaxRetries     int            `mapstructure:"max_retries"` // 0 = unbounded
	RetryEnabled   bool           `mapstructure:"retry_enabled"`
	NotifierBuffer int            `mapstructure:"notifier_buffer"`
	PingInterval   time.Duration  `mapstructure:"ping_interval"` // redis subscriber liveness probe
	Supabase       SupabaseConfig `mapstructure:"supabase"`
}

const (
	TransportRedis    = "redis"
	TransportSupabase = "supabase"
	TransportNone     = "none"
)

type SupabaseConfig struct {
	URL               string        `mapstructure:"url"`
	APIKey            string        `mapstructure:"api_key"`
	Schema            string        `mapstructure:"schema"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type ReconcileConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Schedule    string `mapstructure:"schedule"` // cron expression or @every
	Concurrency int    `mapstructure:"concurrency"`
}

type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int64         `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: LDG_.
// Nested keys use underscore: LDG_DATABASE_HOST, LDG_REALTIME_MAX_RETRIES, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "lead_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "lead-ledger")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("storage.driver", DriverPostgres)
	v.SetDefault("storage.auto_migrate", false)
	v.SetDefault("ledger.max_attempts", 3)
	v.SetDefault("workflow.max_quantity", 100000)
	v.SetDefault("workflow.page_size", 20)
	v.SetDefault("realtime.transport", TransportRedis)
	v.SetDefault("realtime.channel_prefix", "changes")
	v.SetDefault("realtime.base_delay", "1s")
	v.SetDefault("realtime.max_delay", "10s")
	v.SetDefault("realtime.max_retries", 3)
	v.SetDefault("realtime.retry_enabled", true)
	v.SetDefault("realtime.notifier_buffer", 256)
	v.SetDefault("realtime.ping_interval", "30s")
	v.SetDefault("realtime.supabase.schema", "public")
	v.SetDefault("realtime.supabase.heartbeat_interval", "30s")
	v.SetDefault("reconcile.enabled", true)
	v.SetDefault("reconcile.schedule", "@every 1h")
	v.SetDefault("reconcile.concurrency", 4)
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.limit", 120)
	v.SetDefault("rate_limit.window", "1m")

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: LDG_DATABASE_HOST -> database.host
	v.SetEnvPrefix("LDG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional, env vars can suffice.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("storage.driver: unsupported driver %q", c.Storage.Driver)
	}
	switch c.Realtime.Transport {
	case TransportRedis, TransportNone:
	case TransportSupabase:
		if c.Realtime.Supabase.URL == "" {
			return fmt.Errorf("realtime.supabase.url is required for the supabase transport")
		}
	default:
		return fmt.Errorf("realtime.transport: unsupported transport %q", c.Realtime.Transport)
	}
	if c.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("ledger.max_attempts must be at least 1")
	}
	if c.Realtime.MaxRetries < 0 {
		return fmt.Errorf("realtime.max_retries must not be negative")
	}
	if c.Realtime.BaseDelay <= 0 || c.Realtime.MaxDelay < c.Realtime.BaseDelay {
		return fmt.Errorf("realtime delays: need 0 < base_delay <= max_delay")
	}
	return nil
}
