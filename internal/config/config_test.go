package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
database:
  postgres:
    host: db
    database: habit_royale
    user: habit
  redis:
    host: cache
events:
  ingest_token: s3cret
rules:
  winner_xp: 40
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Equal(t, "habit:changes", cfg.Events.Stream)
	assert.Equal(t, "rules-engine", cfg.Events.Group)
	assert.Equal(t, "s3cret", cfg.Events.IngestToken)
	assert.Equal(t, 60, cfg.Events.ClaimMinIdleSeconds)
	assert.Equal(t, 5, cfg.Events.RelayIntervalSeconds)
	assert.Equal(t, 100, cfg.Events.RelayBatchSize)
	assert.Equal(t, "0 6 * * *", cfg.Scheduler.HealthDecay)
	assert.Equal(t, 200, cfg.Scheduler.BatchSize)

	// file values win over defaults
	assert.Equal(t, 40, cfg.Rules.WinnerXP)
	assert.Equal(t, DefaultRules().LoserXP, cfg.Rules.LoserXP)
	assert.Equal(t, []int{3, 7, 30, 100}, cfg.Rules.StreakMilestones)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("SCHEDULER_TIMEZONE", "UTC")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
	assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database: DatabaseConfig{
				Postgres: PostgresConfig{Host: "db", Database: "habit", User: "habit"},
				Redis:    RedisConfig{Host: "cache"},
			},
			Events:    EventsConfig{Stream: "s", Group: "g"},
			Scheduler: SchedulerConfig{Timezone: "Europe/Berlin", BatchSize: 100},
			Rules:     DefaultRules(),
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing postgres host", mutate: func(c *Config) { c.Database.Postgres.Host = "" }, wantErr: "database.postgres.host"},
		{name: "missing redis host", mutate: func(c *Config) { c.Database.Redis.Host = "" }, wantErr: "database.redis.host"},
		{name: "missing stream", mutate: func(c *Config) { c.Events.Stream = "" }, wantErr: "events.stream"},
		{name: "push without endpoint", mutate: func(c *Config) { c.Push.Enabled = true }, wantErr: "push.endpoint"},
		{name: "zero xp per level", mutate: func(c *Config) { c.Rules.PetXPPerLevel = 0 }, wantErr: "xp per level"},
		{name: "zero batch size", mutate: func(c *Config) { c.Scheduler.BatchSize = 0 }, wantErr: "batch_size"},
		{name: "bad timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, wantErr: "scheduler.timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPostgresConfig_URL(t *testing.T) {
	c := PostgresConfig{Host: "db", Port: 5432, Database: "habit", User: "u", Password: "p", SSLMode: "disable"}

	assert.Equal(t, "postgres://u:p@db:5432/habit?sslmode=disable", c.URL())
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=habit sslmode=disable", c.DSN())
}
