// Package config handles application configuration loading and validation using Viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Events       EventsConfig       `mapstructure:"events"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Push         PushConfig         `mapstructure:"push"`
	Rules        RulesConfig        `mapstructure:"rules"`
	Achievements AchievementsConfig `mapstructure:"achievements"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig contains database connection settings for PostgreSQL and Redis.
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains PostgreSQL database connection and pool settings.
type PostgresConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Database        string `mapstructure:"database"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// DSN builds the libpq connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL builds the postgres:// URL used by the migration runner.
func (c *PostgresConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// RedisConfig contains Redis connection and pool settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Addr returns host:port.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EventsConfig configures the document change event transport.
type EventsConfig struct {
	Stream       string `mapstructure:"stream"`
	Group        string `mapstructure:"group"`
	Consumer     string `mapstructure:"consumer"`
	BatchSize    int64  `mapstructure:"batch_size"`
	BlockSeconds int    `mapstructure:"block_seconds"`
	IngestToken  string `mapstructure:"ingest_token"`
	// ClaimMinIdleSeconds is how long an entry must sit unacknowledged in
	// another consumer's pending list before this consumer claims it.
	ClaimMinIdleSeconds int `mapstructure:"claim_min_idle_seconds"`
	// RelayIntervalSeconds and RelayBatchSize drive the change outbox relay.
	RelayIntervalSeconds int `mapstructure:"relay_interval_seconds"`
	RelayBatchSize       int `mapstructure:"relay_batch_size"`
}

// SchedulerConfig contains batch job schedules. Cron expressions use five fields.
type SchedulerConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Timezone           string `mapstructure:"timezone"`
	HealthDecay        string `mapstructure:"health_decay"`
	BattleExpiry       string `mapstructure:"battle_expiry"`
	LeaderboardRebuild string `mapstructure:"leaderboard_rebuild"`
	OutboxRelay        string `mapstructure:"outbox_relay"`
	BatchSize          int    `mapstructure:"batch_size"`
}

// GetLocation returns the timezone location.
func (c *SchedulerConfig) GetLocation() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// PushConfig contains push gateway settings.
type PushConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	RelayBatchSize int    `mapstructure:"relay_batch_size"`
}

// RulesConfig holds the tunable gamification constants.
type RulesConfig struct {
	UserXPPerLevel     int   `mapstructure:"user_xp_per_level"`
	PetXPPerLevel      int   `mapstructure:"pet_xp_per_level"`
	WinnerXP           int   `mapstructure:"winner_xp"`
	LoserXP            int   `mapstructure:"loser_xp"`
	DrawXP             int   `mapstructure:"draw_xp"`
	DecayPerDay        int   `mapstructure:"decay_per_day"`
	LowHealthThreshold int   `mapstructure:"low_health_threshold"`
	EvolutionHealth    int   `mapstructure:"evolution_health"`
	EvolutionStat      int   `mapstructure:"evolution_stat"`
	StreakMilestones   []int `mapstructure:"streak_milestones"`
}

// AchievementsConfig points at an optional catalog override.
type AchievementsConfig struct {
	CatalogPath string `mapstructure:"catalog_path"`
}

// MetricsConfig contains metrics settings.
type MetricsConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig contains Prometheus metrics exporter settings.
type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig contains application logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// DefaultRules returns the rule constants the game ships with.
func DefaultRules() RulesConfig {
	return RulesConfig{
		UserXPPerLevel:     100,
		PetXPPerLevel:      50,
		WinnerXP:           30,
		LoserXP:            10,
		DrawXP:             20,
		DecayPerDay:        10,
		LowHealthThreshold: 20,
		EvolutionHealth:    20,
		EvolutionStat:      5,
		StreakMilestones:   []int{3, 7, 30, 100},
	}
}

func setDefaults(v *viper.Viper) {
	rules := DefaultRules()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", "development")

	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 20)
	v.SetDefault("database.postgres.max_idle_conns", 5)
	v.SetDefault("database.postgres.conn_max_lifetime", 300)
	v.SetDefault("database.redis.port", 6379)
	v.SetDefault("database.redis.pool_size", 10)

	v.SetDefault("events.stream", "habit:changes")
	v.SetDefault("events.group", "rules-engine")
	v.SetDefault("events.consumer", "engine-1")
	v.SetDefault("events.batch_size", 50)
	v.SetDefault("events.block_seconds", 5)
	v.SetDefault("events.claim_min_idle_seconds", 60)
	v.SetDefault("events.relay_interval_seconds", 5)
	v.SetDefault("events.relay_batch_size", 100)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.timezone", "Europe/Berlin")
	v.SetDefault("scheduler.health_decay", "0 6 * * *")
	v.SetDefault("scheduler.battle_expiry", "0 2 * * *")
	v.SetDefault("scheduler.leaderboard_rebuild", "30 3 * * *")
	v.SetDefault("scheduler.outbox_relay", "@every 1m")
	v.SetDefault("scheduler.batch_size", 200)

	v.SetDefault("push.timeout_seconds", 10)
	v.SetDefault("push.max_attempts", 3)
	v.SetDefault("push.relay_batch_size", 100)

	v.SetDefault("rules.user_xp_per_level", rules.UserXPPerLevel)
	v.SetDefault("rules.pet_xp_per_level", rules.PetXPPerLevel)
	v.SetDefault("rules.winner_xp", rules.WinnerXP)
	v.SetDefault("rules.loser_xp", rules.LoserXP)
	v.SetDefault("rules.draw_xp", rules.DrawXP)
	v.SetDefault("rules.decay_per_day", rules.DecayPerDay)
	v.SetDefault("rules.low_health_threshold", rules.LowHealthThreshold)
	v.SetDefault("rules.evolution_health", rules.EvolutionHealth)
	v.SetDefault("rules.evolution_stat", rules.EvolutionStat)
	v.SetDefault("rules.streak_milestones", rules.StreakMilestones)

	v.SetDefault("metrics.prometheus.enabled", true)
	v.SetDefault("metrics.prometheus.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/habit-engine/")
	}

	// Explicit bindings for 12-factor deployments
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.environment", "SERVER_ENVIRONMENT")

	_ = v.BindEnv("database.postgres.host", "POSTGRES_HOST")
	_ = v.BindEnv("database.postgres.port", "POSTGRES_PORT")
	_ = v.BindEnv("database.postgres.database", "POSTGRES_DB")
	_ = v.BindEnv("database.postgres.user", "POSTGRES_USER")
	_ = v.BindEnv("database.postgres.password", "POSTGRES_PASSWORD")
	_ = v.BindEnv("database.postgres.ssl_mode", "POSTGRES_SSL_MODE")
	_ = v.BindEnv("database.postgres.auto_migrate", "POSTGRES_AUTO_MIGRATE")

	_ = v.BindEnv("database.redis.host", "REDIS_HOST")
	_ = v.BindEnv("database.redis.port", "REDIS_PORT")
	_ = v.BindEnv("database.redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("database.redis.db", "REDIS_DB")

	_ = v.BindEnv("events.stream", "EVENTS_STREAM")
	_ = v.BindEnv("events.group", "EVENTS_GROUP")
	_ = v.BindEnv("events.consumer", "EVENTS_CONSUMER", "HOSTNAME")
	_ = v.BindEnv("events.ingest_token", "EVENTS_INGEST_TOKEN")

	_ = v.BindEnv("scheduler.enabled", "SCHEDULER_ENABLED")
	_ = v.BindEnv("scheduler.timezone", "SCHEDULER_TIMEZONE")

	_ = v.BindEnv("push.enabled", "PUSH_ENABLED")
	_ = v.BindEnv("push.endpoint", "PUSH_ENDPOINT")
	_ = v.BindEnv("push.api_key", "PUSH_API_KEY")

	_ = v.BindEnv("achievements.catalog_path", "ACHIEVEMENTS_CATALOG_PATH")

	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
	_ = v.BindEnv("logging.output", "LOG_OUTPUT")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if c.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if c.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}
	if c.Database.Redis.Host == "" {
		return fmt.Errorf("database.redis.host is required")
	}
	if c.Events.Stream == "" || c.Events.Group == "" {
		return fmt.Errorf("events.stream and events.group are required")
	}
	if c.Push.Enabled && c.Push.Endpoint == "" {
		return fmt.Errorf("push.endpoint is required when push is enabled")
	}
	if c.Rules.UserXPPerLevel <= 0 || c.Rules.PetXPPerLevel <= 0 {
		return fmt.Errorf("rules xp per level must be positive")
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be positive")
	}
	if _, err := c.Scheduler.GetLocation(); err != nil {
		return fmt.Errorf("invalid scheduler.timezone %q: %w", c.Scheduler.Timezone, err)
	}

	return nil
}
