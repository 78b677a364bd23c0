package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a minimal Config that passes Validate.
func validConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Database.User = "rxmi"
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	require.NoError(t, validConfig().Validate())
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "server port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantSub: "server.port",
		},
		{
			name:    "server mode invalid",
			mutate:  func(c *Config) { c.Server.Mode = "production" },
			wantSub: "server.mode",
		},
		{
			name:    "database host missing",
			mutate:  func(c *Config) { c.Database.Host = "" },
			wantSub: "database.host",
		},
		{
			name:    "database user missing",
			mutate:  func(c *Config) { c.Database.User = "" },
			wantSub: "database.user",
		},
		{
			name:    "database name missing",
			mutate:  func(c *Config) { c.Database.DBName = "" },
			wantSub: "database.db_name",
		},
		{
			name:    "database max conns zero",
			mutate:  func(c *Config) { c.Database.MaxConns = 0 },
			wantSub: "database.max_conns",
		},
		{
			name:    "redis addr missing",
			mutate:  func(c *Config) { c.Redis.Addr = "" },
			wantSub: "redis.addr",
		},
		{
			name:    "kafka brokers empty",
			mutate:  func(c *Config) { c.Kafka.Brokers = nil },
			wantSub: "kafka.brokers",
		},
		{
			name:    "kafka group id missing",
			mutate:  func(c *Config) { c.Kafka.GroupID = "" },
			wantSub: "kafka.group_id",
		},
		{
			name:    "quality threshold zero",
			mutate:  func(c *Config) { c.Engine.QualityThreshold = -0.1 },
			wantSub: "engine.quality_threshold",
		},
		{
			name:    "quality threshold above one",
			mutate:  func(c *Config) { c.Engine.QualityThreshold = 1.5 },
			wantSub: "engine.quality_threshold",
		},
		{
			name:    "negative retry attempts",
			mutate:  func(c *Config) { c.Engine.MaxRetryAttempts = -1 },
			wantSub: "engine.max_retry_attempts",
		},
		{
			name:    "negative retry delay",
			mutate:  func(c *Config) { c.Engine.RetryDelay = -time.Second },
			wantSub: "engine.retry_delay",
		},
		{
			name:    "min source count zero",
			mutate:  func(c *Config) { c.Engine.MinSourceCount = 0 },
			wantSub: "engine.min_source_count",
		},
		{
			name:    "request timeout zero",
			mutate:  func(c *Config) { c.Engine.RequestTimeout = 0 },
			wantSub: "engine.request_timeout",
		},
		{
			name:    "generation backend missing",
			mutate:  func(c *Config) { c.Generation.BackendAddr = "" },
			wantSub: "generation.backend_addr",
		},
		{
			name:    "generation model missing",
			mutate:  func(c *Config) { c.Generation.Model = "" },
			wantSub: "generation.model",
		},
		{
			name:    "milvus addr missing",
			mutate:  func(c *Config) { c.Milvus.Addr = "" },
			wantSub: "milvus.addr",
		},
		{
			name:    "worker concurrency zero",
			mutate:  func(c *Config) { c.Worker.Concurrency = 0 },
			wantSub: "worker.concurrency",
		},
		{
			name:    "log level invalid",
			mutate:  func(c *Config) { c.Log.Level = "trace" },
			wantSub: "log.level",
		},
		{
			name:    "log format invalid",
			mutate:  func(c *Config) { c.Log.Format = "text" },
			wantSub: "log.format",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantSub)
		})
	}
}

func TestValidate_ZeroRetryAttemptsAllowed(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Engine.MaxRetryAttempts = 0
	assert.NoError(t, cfg.Validate())
}
