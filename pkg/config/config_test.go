package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "postgres", cfg.Database.User)
				assert.Equal(t, "leadflow", cfg.Database.Database)
				assert.Equal(t, "redis", cfg.Queue.Backend)
				assert.Equal(t, 8, cfg.Queue.Workers)
				assert.Equal(t, "https://graph.facebook.com", cfg.Facebook.GraphURL)
				assert.False(t, cfg.Notification.Email.Enabled)
				assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
				assert.EqualValues(t, 10<<20, cfg.MaxBodyBytes())
				assert.Equal(t, time.Hour, cfg.Sweeper.StepTimeout)
				assert.Equal(t, 10*time.Minute, cfg.Sweeper.ClaimTimeout)
			},
		},
		{
			name: "custom values",
			env: map[string]string{
				"LEADFLOW_SERVER_PORT":            "9000",
				"LEADFLOW_DATABASE_HOST":          "db.example.com",
				"LEADFLOW_DATABASE_PORT":          "5433",
				"LEADFLOW_DATABASE_NAME":          "custom_db",
				"LEADFLOW_REDIS_HOST":             "redis.example.com",
				"LEADFLOW_REDIS_PORT":             "6380",
				"LEADFLOW_LOGGER_LEVEL":           "debug",
				"LEADFLOW_APP_ENVIRONMENT":        "production",
				"LEADFLOW_SWEEPER_INTERVAL":       "5s",
				"LEADFLOW_FACEBOOK_VERIFY_TOKEN":  "hush",
				"LEADFLOW_SERVER_ALLOWED_ORIGINS": "https://crm.example.com,https://admin.example.com",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9000, cfg.Server.Port)
				assert.Equal(t, "db.example.com", cfg.Database.Host)
				assert.Equal(t, 5433, cfg.Database.Port)
				assert.Equal(t, "custom_db", cfg.Database.Database)
				assert.Equal(t, "redis.example.com", cfg.Redis.Host)
				assert.Equal(t, 6380, cfg.Redis.Port)
				assert.Equal(t, "debug", cfg.Logger.Level)
				assert.Equal(t, "production", cfg.App.Environment)
				assert.Equal(t, 5*time.Second, cfg.Sweeper.Interval)
				assert.Equal(t, "hush", cfg.Facebook.VerifyToken)
				assert.Equal(t, []string{"https://crm.example.com", "https://admin.example.com"}, cfg.Server.AllowedOrigins)
			},
		},
		{
			name: "invalid port",
			env: map[string]string{
				"LEADFLOW_SERVER_PORT": "99999",
			},
			wantErr: true,
		},
		{
			name: "unknown queue backend",
			env: map[string]string{
				"LEADFLOW_QUEUE_BACKEND": "kafka",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load("")

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leadflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7000
queue:
  backend: memory
  workers: 2
notification:
  email:
    enabled: true
    smtp_host: smtp.example.com
`), 0o600))

	t.Setenv("LEADFLOW_QUEUE_WORKERS", "4")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.True(t, cfg.Notification.Email.Enabled)
	assert.Equal(t, "smtp.example.com", cfg.Notification.Email.SMTPHost)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, MaxBodyMB: 1},
		Database: DatabaseConfig{
			Host:     "localhost",
			Database: "leadflow",
		},
		Redis: RedisConfig{Host: "localhost"},
		Queue: QueueConfig{Backend: "redis", Workers: 1},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid port - too low",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
			errMsg:  "invalid server port",
		},
		{
			name:    "invalid port - too high",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
			errMsg:  "invalid server port",
		},
		{
			name:    "missing database host",
			mutate:  func(c *Config) { c.Database.Host = "" },
			wantErr: true,
			errMsg:  "database host is required",
		},
		{
			name:    "missing database name",
			mutate:  func(c *Config) { c.Database.Database = "" },
			wantErr: true,
			errMsg:  "database name is required",
		},
		{
			name:    "missing redis host",
			mutate:  func(c *Config) { c.Redis.Host = "" },
			wantErr: true,
			errMsg:  "redis host is required",
		},
		{
			name: "memory queue needs no redis",
			mutate: func(c *Config) {
				c.Redis.Host = ""
				c.Queue.Backend = "memory"
			},
		},
		{
			name:    "no body limit",
			mutate:  func(c *Config) { c.Server.MaxBodyMB = 0 },
			wantErr: true,
			errMsg:  "max body size",
		},
		{
			name:    "no workers",
			mutate:  func(c *Config) { c.Queue.Workers = 0 },
			wantErr: true,
			errMsg:  "workers must be positive",
		},
		{
			name:    "whatsapp without phone number",
			mutate:  func(c *Config) { c.Notification.WhatsApp.Enabled = true },
			wantErr: true,
			errMsg:  "phone number id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_DatabaseDSN(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     "db.example.com",
			Port:     5432,
			User:     "testuser",
			Password: "testpass",
			Database: "testdb",
			SSLMode:  "require",
		},
	}

	dsn := cfg.DatabaseDSN()

	assert.Contains(t, dsn, "host=db.example.com")
	assert.Contains(t, dsn, "port=5432")
	assert.Contains(t, dsn, "user=testuser")
	assert.Contains(t, dsn, "password=testpass")
	assert.Contains(t, dsn, "dbname=testdb")
	assert.Contains(t, dsn, "sslmode=require")
}

func TestConfig_RedisAddr(t *testing.T) {
	cfg := &Config{
		Redis: RedisConfig{
			Host: "redis.example.com",
			Port: 6379,
		},
	}

	assert.Equal(t, "redis.example.com:6379", cfg.RedisAddr())
}
