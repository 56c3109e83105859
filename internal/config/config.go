package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Queue     QueueConfig
	Auth      AuthConfig
	Engine    EngineConfig
	Approval  ApprovalConfig
	Session   SessionConfig
	Logging   LoggingConfig
	Metrics   MetricsConfig
	Tracing   TracingConfig
	Webhook   WebhookConfig
	Scheduler SchedulerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  int
	Burst           int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
	Migrate  bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds object storage configuration for daily reports
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// AuthConfig holds admin authentication settings
type AuthConfig struct {
	JWTSecret    string
	AdminPINHash string
	TokenTTL     time.Duration
}

// EngineConfig tunes the access engine and ledger
type EngineConfig struct {
	DefaultTimezone string
	SchedulePolicy  string
	MaxDeltaSeconds int
	// HeartbeatGap is the minimum spacing of booked heartbeats per session
	HeartbeatGap time.Duration
}

// ApprovalConfig tunes the request workflow
type ApprovalConfig struct {
	SubmitCooldown time.Duration
}

// SessionConfig tunes kid sessions and PIN attempts
type SessionConfig struct {
	TTL            time.Duration
	CookieName     string
	PINMaxAttempts int
	PINWindow      time.Duration
}

// LoggingConfig mirrors logging.Config
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig holds the Prometheus server settings
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// TracingConfig holds Jaeger settings
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// WebhookConfig holds the bootstrap parent notification endpoint
type WebhookConfig struct {
	DiscordURL string
	Secret     string
	// DiscordPublicKey is the hex Ed25519 key of the Discord application.
	// Empty disables the interactions endpoint.
	DiscordPublicKey string
}

// SchedulerConfig holds worker task timings
type SchedulerConfig struct {
	SweepInterval time.Duration
	ReportHour    int
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory is loaded first when present.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("KIDTUBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	switch c.Engine.SchedulePolicy {
	case "exhaustive", "per_day":
	default:
		return fmt.Errorf("invalid engine.schedulePolicy %q", c.Engine.SchedulePolicy)
	}
	if _, err := time.LoadLocation(c.Engine.DefaultTimezone); err != nil {
		return fmt.Errorf("invalid engine.defaultTimezone %q: %w", c.Engine.DefaultTimezone, err)
	}
	if c.Engine.MaxDeltaSeconds < 1 {
		return fmt.Errorf("engine.maxDeltaSeconds must be >= 1")
	}
	if c.Engine.HeartbeatGap < time.Second {
		return fmt.Errorf("engine.heartbeatGap must be at least 1s")
	}
	if c.Scheduler.ReportHour < 0 || c.Scheduler.ReportHour > 23 {
		return fmt.Errorf("scheduler.reportHour must be between 0 and 23")
	}
	if len(c.Auth.JWTSecret) < minJWTSecretLen || c.Auth.JWTSecret == placeholderJWTSecret {
		return fmt.Errorf("auth.jwtSecret must be set to a random value of at least %d characters", minJWTSecretLen)
	}
	return nil
}

const (
	minJWTSecretLen      = 16
	placeholderJWTSecret = "change-me"
)

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "15s")
	v.SetDefault("server.writeTimeout", "15s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.requestsPerSec", 20)
	v.SetDefault("server.burst", 40)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "kidtube")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)
	v.SetDefault("database.migrate", true)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Storage defaults
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "kidtube-reports")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)

	// Queue defaults
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")

	// Auth defaults
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.adminPinHash", "")
	v.SetDefault("auth.tokenTTL", "12h")

	// Engine defaults
	v.SetDefault("engine.defaultTimezone", "UTC")
	v.SetDefault("engine.schedulePolicy", "exhaustive")
	v.SetDefault("engine.maxDeltaSeconds", 120)
	v.SetDefault("engine.heartbeatGap", "8s")

	v.SetDefault("approval.submitCooldown", "30s")

	// Session defaults
	v.SetDefault("session.ttl", "720h")
	v.SetDefault("session.cookieName", "kidtube_session")
	v.SetDefault("session.pinMaxAttempts", 5)
	v.SetDefault("session.pinWindow", "5m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "kidtube")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")

	v.SetDefault("webhook.discordURL", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.discordPublicKey", "")

	v.SetDefault("scheduler.sweepInterval", "10m")
	v.SetDefault("scheduler.reportHour", 20)
}
