package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. LEADFLOW_SERVER_PORT
const EnvPrefix = "LEADFLOW"

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	App          AppConfig          `mapstructure:"app"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Sweeper      SweeperConfig      `mapstructure:"sweeper"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	Facebook     FacebookConfig     `mapstructure:"facebook"`
	Notification NotificationConfig `mapstructure:"notification"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	MaxBodyMB       int64         `mapstructure:"max_body_mb"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
	Name        string `mapstructure:"name"`
}

// QueueConfig selects the job queue backend and sizes the worker pool
type QueueConfig struct {
	Backend     string        `mapstructure:"backend"` // redis or memory
	Workers     int           `mapstructure:"workers"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// SweeperConfig controls re-enqueueing of due delays and stalled work
type SweeperConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	EventGrace   time.Duration `mapstructure:"event_grace"`
	StepGrace    time.Duration `mapstructure:"step_grace"`
	StepTimeout  time.Duration `mapstructure:"step_timeout"`  // longest a step may stay running
	ClaimTimeout time.Duration `mapstructure:"claim_timeout"` // longest an event may stay processing
	BatchSize    int           `mapstructure:"batch_size"`
}

// SchedulerConfig controls the cron trigger worker
type SchedulerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// WebhookConfig rate limits inbound webhook routes per client
type WebhookConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// FacebookConfig holds Lead Ads webhook and Graph API settings
type FacebookConfig struct {
	VerifyToken  string        `mapstructure:"verify_token"`
	AppSecret    string        `mapstructure:"app_secret"`
	GraphURL     string        `mapstructure:"graph_url"`
	GraphVersion string        `mapstructure:"graph_version"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// NotificationConfig holds outbound messaging configuration
type NotificationConfig struct {
	Email    EmailConfig    `mapstructure:"email"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
}

// EmailConfig holds SMTP configuration
type EmailConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUser     string `mapstructure:"smtp_user"`
	SMTPPassword string `mapstructure:"smtp_password"`
	FromAddress  string `mapstructure:"from_address"`
}

// WhatsAppConfig holds WhatsApp Cloud API configuration
type WhatsAppConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	APIURL        string        `mapstructure:"api_url"`
	PhoneNumberID string        `mapstructure:"phone_number_id"`
	AccessToken   string        `mapstructure:"access_token"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.max_body_mb", 10)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "leadflow")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "leadflow")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.name", "leadflow")

	v.SetDefault("queue.backend", "redis")
	v.SetDefault("queue.workers", 8)
	v.SetDefault("queue.poll_timeout", 2*time.Second)

	v.SetDefault("sweeper.interval", 30*time.Second)
	v.SetDefault("sweeper.event_grace", 2*time.Minute)
	v.SetDefault("sweeper.step_grace", 2*time.Minute)
	v.SetDefault("sweeper.step_timeout", time.Hour)
	v.SetDefault("sweeper.claim_timeout", 10*time.Minute)
	v.SetDefault("sweeper.batch_size", 100)

	v.SetDefault("scheduler.interval", time.Minute)

	v.SetDefault("webhook.rate_per_second", 50.0)
	v.SetDefault("webhook.burst", 100)

	v.SetDefault("facebook.verify_token", "")
	v.SetDefault("facebook.app_secret", "")
	v.SetDefault("facebook.graph_url", "https://graph.facebook.com")
	v.SetDefault("facebook.graph_version", "v19.0")
	v.SetDefault("facebook.timeout", 10*time.Second)

	v.SetDefault("notification.email.enabled", false)
	v.SetDefault("notification.email.smtp_host", "localhost")
	v.SetDefault("notification.email.smtp_port", 587)
	v.SetDefault("notification.email.smtp_user", "")
	v.SetDefault("notification.email.smtp_password", "")
	v.SetDefault("notification.email.from_address", "noreply@example.com")

	v.SetDefault("notification.whatsapp.enabled", false)
	v.SetDefault("notification.whatsapp.api_url", "https://graph.facebook.com/v19.0")
	v.SetDefault("notification.whatsapp.phone_number_id", "")
	v.SetDefault("notification.whatsapp.access_token", "")
	v.SetDefault("notification.whatsapp.timeout", 10*time.Second)
}

// Load reads configuration from defaults, an optional YAML file and
// LEADFLOW_* environment variables, in increasing precedence.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.MaxBodyMB <= 0 {
		return fmt.Errorf("server max body size must be positive, got %d MB", c.Server.MaxBodyMB)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	switch c.Queue.Backend {
	case "redis":
		if c.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid queue backend: %q", c.Queue.Backend)
	}

	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue workers must be positive, got %d", c.Queue.Workers)
	}

	if c.Notification.Email.Enabled && c.Notification.Email.SMTPHost == "" {
		return fmt.Errorf("smtp host is required when email is enabled")
	}

	if c.Notification.WhatsApp.Enabled && c.Notification.WhatsApp.PhoneNumberID == "" {
		return fmt.Errorf("whatsapp phone number id is required when whatsapp is enabled")
	}

	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// MaxBodyBytes is the request body limit in bytes
func (c *Config) MaxBodyBytes() int64 {
	return c.Server.MaxBodyMB << 20
}

// RedisAddr returns the Redis address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
