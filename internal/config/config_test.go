package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "tutor_db", cfg.Database.Database)
			assert.True(t, cfg.Database.AutoMigrate)
			assert.Equal(t, "generation_exchange", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, 4, cfg.RabbitMQ.Consumer.PrefetchCount)
			assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
			assert.Equal(t, 2*time.Second, cfg.Worker.BatchInterval)
			assert.Equal(t, "google/gemini-2.5-flash", cfg.LLM.Model)
			assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORS.AllowedOrigins)
			assert.Equal(t, 20, cfg.Jobs.MaxTotalBatches)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/missing_database.yaml")
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.RabbitMQ.Consumer.PrefetchCount)
	assert.Equal(t, "jobs", cfg.Redis.ChannelPrefix)
	assert.Equal(t, 2*time.Second, cfg.Worker.BatchInterval)
	assert.Equal(t, 30*time.Second, cfg.Worker.MaxBatchInterval)
	assert.Equal(t, 2*time.Minute, cfg.Worker.LeaseDuration)
	assert.Equal(t, 3, cfg.LLM.MaxAttempts)
	assert.Equal(t, 50, cfg.Jobs.MaxTotalBatches)
	assert.Equal(t, 50, cfg.Jobs.MaxQuestionsPerBatch)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LLM_API_KEY", "env-key")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("DATABASE_PASSWORD", "")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.LLM.APIKey)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	// empty env values do not clobber the file
	assert.Equal(t, "tutor", cfg.Database.Password)
}

func baseConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "tutor_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "generation_exchange"},
			Queue:    QueueConfig{Name: "generation_jobs"},
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Worker: WorkerConfig{
			Concurrency:       2,
			JobTimeout:        time.Minute,
			LeaseDuration:     time.Minute,
			HeartbeatInterval: 10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			BatchInterval:     2 * time.Second,
			MaxBatchInterval:  30 * time.Second,
		},
		LLM:  LLMConfig{BaseURL: "http://llm", Model: "m"},
		Auth: AuthConfig{JWTSecret: "secret"},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "empty database host", mutate: func(c *Config) { c.Database.Host = "" }, errString: "database host is required"},
		{name: "invalid database port", mutate: func(c *Config) { c.Database.Port = 0 }, errString: "invalid database port"},
		{name: "empty database name", mutate: func(c *Config) { c.Database.Database = "" }, errString: "database name is required"},
		{name: "empty rabbitmq host", mutate: func(c *Config) { c.RabbitMQ.Host = "" }, errString: "rabbitmq host is required"},
		{name: "invalid rabbitmq port", mutate: func(c *Config) { c.RabbitMQ.Port = 70000 }, errString: "invalid rabbitmq port"},
		{name: "empty exchange name", mutate: func(c *Config) { c.RabbitMQ.Exchange.Name = "" }, errString: "rabbitmq exchange name is required"},
		{name: "empty queue name", mutate: func(c *Config) { c.RabbitMQ.Queue.Name = "" }, errString: "rabbitmq queue name is required"},
		{name: "empty redis addr", mutate: func(c *Config) { c.Redis.Addr = "" }, errString: "redis addr is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "server port too low", mutate: func(c *Config) { c.Server.Port = 0 }, errString: "invalid server port"},
		{name: "server port too high", mutate: func(c *Config) { c.Server.Port = 70000 }, errString: "invalid server port"},
		{name: "missing jwt secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, errString: "jwt_secret is required"},
		{name: "missing llm model", mutate: func(c *Config) { c.LLM.Model = "" }, errString: "llm model is required"},
		{name: "common check still applies", mutate: func(c *Config) { c.Redis.Addr = "" }, errString: "redis addr is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "zero concurrency", mutate: func(c *Config) { c.Worker.Concurrency = 0 }, errString: "concurrency must be greater than 0"},
		{name: "zero job timeout", mutate: func(c *Config) { c.Worker.JobTimeout = 0 }, errString: "job_timeout must be greater than 0"},
		{name: "heartbeat not shorter than lease", mutate: func(c *Config) { c.Worker.HeartbeatInterval = c.Worker.LeaseDuration }, errString: "heartbeat_interval must be shorter"},
		{name: "max interval below base", mutate: func(c *Config) { c.Worker.MaxBatchInterval = time.Second }, errString: "max_batch_interval"},
		{name: "zero shutdown timeout", mutate: func(c *Config) { c.Worker.ShutdownTimeout = 0 }, errString: "shutdown_timeout must be greater than 0"},
		{name: "missing llm base url", mutate: func(c *Config) { c.LLM.BaseURL = "" }, errString: "llm base_url is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}
