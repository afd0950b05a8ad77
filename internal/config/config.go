package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	SQLite     SQLiteConfig     `mapstructure:"sqlite"`
	Redis      RedisConfig      `mapstructure:"redis"`
	RabbitMQ   RabbitMQConfig   `mapstructure:"rabbitmq"`
	Events     EventsConfig     `mapstructure:"events"`
	Migration  MigrationConfig  `mapstructure:"migration"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Admins     AdminsConfig     `mapstructure:"admins"`
	Resolution ResolutionConfig `mapstructure:"resolution"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

const (
	StorageDriverPostgres = "postgres"
	StorageDriverSQLite   = "sqlite"
	StorageDriverMemory   = "memory"
)

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	// CacheTTL is how long the rulebook snapshot stays in redis. Zero disables the cache.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RabbitMQConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Exchange string `mapstructure:"exchange"`
	Queue    string `mapstructure:"queue"`
}

const (
	EventsDriverRabbitMQ = "rabbitmq"
	EventsDriverRedis    = "redis"
	EventsDriverNone     = "none"
)

type EventsConfig struct {
	Driver string `mapstructure:"driver"`
	// Channel is the redis pub/sub channel prefix used by the redis driver.
	Channel string `mapstructure:"channel"`
}

type MigrationConfig struct {
	AutoMigrate bool   `mapstructure:"auto_migrate"`
	Dir         string `mapstructure:"dir"`
}

type JWTConfig struct {
	SecretKey     string        `mapstructure:"secret_key"`
	Issuer        string        `mapstructure:"issuer"`
	TokenDuration time.Duration `mapstructure:"token_duration"`
}

type OracleConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Temperature float64       `mapstructure:"temperature"`
}

const (
	AdminsModeTelegram = "telegram"
	AdminsModeStatic   = "static"
)

type AdminsConfig struct {
	Mode     string        `mapstructure:"mode"`
	BotToken string        `mapstructure:"bot_token"`
	APIURL   string        `mapstructure:"api_url"`
	UserIDs  []int64       `mapstructure:"user_ids"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type ResolutionConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// Coalesce shares one oracle round-trip between concurrent applies of the same poll.
	Coalesce bool `mapstructure:"coalesce"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	ServiceName string  `mapstructure:"service_name"`
}

func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	if err := bindEnvs(v); err != nil {
		return nil, fmt.Errorf("bind env vars: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "development")
	v.SetDefault("storage.driver", StorageDriverPostgres)
	v.SetDefault("storage.cache_ttl", 5*time.Minute)
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("sqlite.path", "rulebook.db")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("rabbitmq.exchange", "rulebook")
	v.SetDefault("rabbitmq.queue", "rulebook.transport")
	v.SetDefault("events.driver", EventsDriverRabbitMQ)
	v.SetDefault("events.channel", "rulebook")
	v.SetDefault("migration.auto_migrate", false)
	v.SetDefault("migration.dir", "migrations")
	v.SetDefault("jwt.issuer", "rulebook")
	v.SetDefault("jwt.token_duration", 24*time.Hour)
	v.SetDefault("oracle.base_url", "https://api.openai.com/v1")
	v.SetDefault("oracle.model", "gpt-4o-mini")
	v.SetDefault("oracle.timeout", 30*time.Second)
	v.SetDefault("oracle.max_retries", 2)
	v.SetDefault("oracle.temperature", 0.0)
	v.SetDefault("admins.mode", AdminsModeTelegram)
	v.SetDefault("admins.api_url", "https://api.telegram.org")
	v.SetDefault("admins.cache_ttl", time.Minute)
	v.SetDefault("resolution.timeout", 45*time.Second)
	v.SetDefault("resolution.coalesce", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 0.1)
	v.SetDefault("tracing.service_name", "rulebook")
}

func bindEnvs(v *viper.Viper) error {
	bindings := map[string]string{
		"server.port":            "RULEBOOK_SERVER_PORT",
		"server.env":             "RULEBOOK_SERVER_ENV",
		"storage.driver":         "RULEBOOK_STORAGE_DRIVER",
		"storage.cache_ttl":      "RULEBOOK_STORAGE_CACHE_TTL",
		"postgres.host":          "RULEBOOK_POSTGRES_HOST",
		"postgres.port":          "RULEBOOK_POSTGRES_PORT",
		"postgres.user":          "RULEBOOK_POSTGRES_USER",
		"postgres.password":      "RULEBOOK_POSTGRES_PASSWORD",
		"postgres.dbname":        "RULEBOOK_POSTGRES_DBNAME",
		"postgres.sslmode":       "RULEBOOK_POSTGRES_SSLMODE",
		"sqlite.path":            "RULEBOOK_SQLITE_PATH",
		"redis.enabled":          "RULEBOOK_REDIS_ENABLED",
		"redis.host":             "RULEBOOK_REDIS_HOST",
		"redis.port":             "RULEBOOK_REDIS_PORT",
		"redis.password":         "RULEBOOK_REDIS_PASSWORD",
		"redis.db":               "RULEBOOK_REDIS_DB",
		"rabbitmq.host":          "RULEBOOK_RABBITMQ_HOST",
		"rabbitmq.port":          "RULEBOOK_RABBITMQ_PORT",
		"rabbitmq.user":          "RULEBOOK_RABBITMQ_USER",
		"rabbitmq.password":      "RULEBOOK_RABBITMQ_PASSWORD",
		"rabbitmq.vhost":         "RULEBOOK_RABBITMQ_VHOST",
		"events.driver":          "RULEBOOK_EVENTS_DRIVER",
		"migration.auto_migrate": "RULEBOOK_MIGRATION_AUTO_MIGRATE",
		"jwt.secret_key":         "RULEBOOK_JWT_SECRET_KEY",
		"jwt.token_duration":     "RULEBOOK_JWT_TOKEN_DURATION",
		"oracle.base_url":        "RULEBOOK_OPENAI_BASE_URL",
		"oracle.api_key":         "RULEBOOK_OPENAI_API_KEY",
		"oracle.model":           "RULEBOOK_OPENAI_MODEL",
		"admins.mode":            "RULEBOOK_ADMINS_MODE",
		"admins.bot_token":       "RULEBOOK_TELEGRAM_TOKEN",
		"logging.level":          "RULEBOOK_LOG_LEVEL",
		"tracing.enabled":        "RULEBOOK_TRACING_ENABLED",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 {
		return fmt.Errorf("server.port must be greater than 0")
	}
	if cfg.Server.Env == "" {
		return fmt.Errorf("server.env is required")
	}

	switch cfg.Storage.Driver {
	case StorageDriverPostgres:
		if cfg.Postgres.Host == "" {
			return fmt.Errorf("postgres.host is required")
		}
		if cfg.Postgres.Port <= 0 {
			return fmt.Errorf("postgres.port must be greater than 0")
		}
		if cfg.Postgres.User == "" {
			return fmt.Errorf("postgres.user is required")
		}
		if cfg.Postgres.DBName == "" {
			return fmt.Errorf("postgres.dbname is required")
		}
	case StorageDriverSQLite:
		if cfg.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required")
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("storage.driver %q is not supported", cfg.Storage.Driver)
	}

	if cfg.Redis.Enabled {
		if cfg.Redis.Host == "" {
			return fmt.Errorf("redis.host is required")
		}
		if cfg.Redis.Port <= 0 {
			return fmt.Errorf("redis.port must be greater than 0")
		}
	}

	switch cfg.Events.Driver {
	case EventsDriverRabbitMQ:
		if cfg.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq.host is required")
		}
		if cfg.RabbitMQ.Port <= 0 {
			return fmt.Errorf("rabbitmq.port must be greater than 0")
		}
		if cfg.RabbitMQ.User == "" {
			return fmt.Errorf("rabbitmq.user is required")
		}
	case EventsDriverRedis:
		if !cfg.Redis.Enabled {
			return fmt.Errorf("events.driver redis requires redis.enabled")
		}
	case EventsDriverNone:
	default:
		return fmt.Errorf("events.driver %q is not supported", cfg.Events.Driver)
	}

	if cfg.JWT.SecretKey == "" {
		return fmt.Errorf("jwt.secret_key is required")
	}
	if cfg.JWT.TokenDuration <= 0 {
		return fmt.Errorf("jwt.token_duration must be greater than 0")
	}

	if cfg.Oracle.APIKey == "" {
		return fmt.Errorf("oracle.api_key is required")
	}
	if cfg.Oracle.Model == "" {
		return fmt.Errorf("oracle.model is required")
	}
	if cfg.Oracle.Timeout <= 0 {
		return fmt.Errorf("oracle.timeout must be greater than 0")
	}

	switch cfg.Admins.Mode {
	case AdminsModeTelegram:
		if cfg.Admins.BotToken == "" {
			return fmt.Errorf("admins.bot_token is required in telegram mode")
		}
	case AdminsModeStatic:
		if len(cfg.Admins.UserIDs) == 0 {
			return fmt.Errorf("admins.user_ids is required in static mode")
		}
	default:
		return fmt.Errorf("admins.mode %q is not supported", cfg.Admins.Mode)
	}

	if cfg.Resolution.Timeout <= 0 {
		return fmt.Errorf("resolution.timeout must be greater than 0")
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}

	return nil
}
