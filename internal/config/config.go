package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Sender    SenderConfig    `yaml:"sender"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Retention RetentionConfig `yaml:"retention"`
	Feedback  FeedbackConfig  `yaml:"feedback"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds Postgres connection configuration
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds Redis configuration for worker coordination locks.
// When Addr is empty the workers fall back to Postgres advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SenderConfig holds delivery worker pool configuration
type SenderConfig struct {
	NumWorkers          int `yaml:"num_workers"`
	BatchSize           int `yaml:"batch_size"`
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	SendTimeoutSeconds  int `yaml:"send_timeout_seconds"`
}

// PollInterval returns the claim poll interval as a duration
func (c SenderConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// SendTimeout returns the per-send timeout as a duration
func (c SenderConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// SMTPConfig holds the outbound SMTP relay configuration
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	HELOHost string `yaml:"helo_host"`
}

// RecoveryConfig holds stale lease recovery configuration
type RecoveryConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	StaleAgeSeconds int `yaml:"stale_age_seconds"`
}

// Interval returns the recovery scan interval as a duration
func (c RecoveryConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// StaleAge returns the processing lease age treated as abandoned
func (c RecoveryConfig) StaleAge() time.Duration {
	return time.Duration(c.StaleAgeSeconds) * time.Second
}

// RetentionConfig holds purge windows for terminal queue rows and events
type RetentionConfig struct {
	QueueDays     int `yaml:"queue_days"`
	EventDays     int `yaml:"event_days"`
	IntervalHours int `yaml:"interval_hours"`
}

// QueueRetention returns how long terminal queue items are kept
func (c RetentionConfig) QueueRetention() time.Duration {
	return time.Duration(c.QueueDays) * 24 * time.Hour
}

// EventRetention returns how long delivery events are kept
func (c RetentionConfig) EventRetention() time.Duration {
	return time.Duration(c.EventDays) * 24 * time.Hour
}

// Interval returns the cleanup cycle interval as a duration
func (c RetentionConfig) Interval() time.Duration {
	return time.Duration(c.IntervalHours) * time.Hour
}

// FeedbackConfig holds the SQS feedback loop consumer configuration
type FeedbackConfig struct {
	Enabled   bool   `yaml:"enabled"`
	QueueURL  string `yaml:"queue_url"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// LoggingConfig holds structured logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Sender.NumWorkers == 0 {
		cfg.Sender.NumWorkers = 10
	}
	if cfg.Sender.BatchSize == 0 {
		cfg.Sender.BatchSize = 25
	}
	if cfg.Sender.PollIntervalSeconds == 0 {
		cfg.Sender.PollIntervalSeconds = 1
	}
	if cfg.Sender.SendTimeoutSeconds == 0 {
		cfg.Sender.SendTimeoutSeconds = 30
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.Recovery.IntervalSeconds == 0 {
		cfg.Recovery.IntervalSeconds = 120
	}
	if cfg.Recovery.StaleAgeSeconds == 0 {
		cfg.Recovery.StaleAgeSeconds = 300
	}
	if cfg.Retention.QueueDays == 0 {
		cfg.Retention.QueueDays = 30
	}
	if cfg.Retention.EventDays == 0 {
		cfg.Retention.EventDays = 90
	}
	if cfg.Retention.IntervalHours == 0 {
		cfg.Retention.IntervalHours = 1
	}
	if cfg.Feedback.Region == "" {
		cfg.Feedback.Region = "us-west-2"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Database override (critical for ECS deployment where config.yaml has local defaults)
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.SMTP.Host = host
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.SMTP.Port = p
		}
	}
	if username := os.Getenv("SMTP_USERNAME"); username != "" {
		cfg.SMTP.Username = username
	}
	if password := os.Getenv("SMTP_PASSWORD"); password != "" {
		cfg.SMTP.Password = password
	}

	if queueURL := os.Getenv("FEEDBACK_QUEUE_URL"); queueURL != "" {
		cfg.Feedback.QueueURL = queueURL
		cfg.Feedback.Enabled = true
	}
	if region := os.Getenv("AWS_SQS_REGION"); region != "" {
		cfg.Feedback.Region = region
	}
	if accessKey := os.Getenv("AWS_SQS_ACCESS_KEY"); accessKey != "" {
		cfg.Feedback.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SQS_SECRET_KEY"); secretKey != "" {
		cfg.Feedback.SecretKey = secretKey
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, nil
}
