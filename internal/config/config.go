package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Log         LogConfig         `yaml:"log"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Quota       QuotaConfig       `yaml:"quota"`
	Transmitter TransmitterConfig `yaml:"transmitter"`
	Google      GoogleConfig      `yaml:"google"`
	SES         SESConfig         `yaml:"ses"`
	Attachments AttachmentsConfig `yaml:"attachments"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	BaseURL        string   `yaml:"base_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds the PostgreSQL connection settings
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the pool connection lifetime.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds the Redis connection. An empty URL selects the in-process
// quota tracker, progress broker and PostgreSQL advisory locks.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// LogConfig controls the structured logger
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on (default true).
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// DispatchConfig holds the send loop policy
type DispatchConfig struct {
	Concurrency           int  `yaml:"concurrency"`
	MaxAttempts           int  `yaml:"max_attempts"`
	BackoffBaseMillis     int  `yaml:"backoff_base_ms"`
	BackoffMaxMillis      int  `yaml:"backoff_max_ms"`
	LockTTLSeconds        int  `yaml:"lock_ttl_seconds"`
	AutoResume            bool `yaml:"auto_resume"`
	AutoResumeIntervalSec int  `yaml:"auto_resume_interval_seconds"`
}

// BackoffBase returns the first retry delay.
func (c DispatchConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMillis) * time.Millisecond
}

// BackoffMax returns the retry delay cap.
func (c DispatchConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMillis) * time.Millisecond
}

// LockTTL returns the per-campaign dispatch lock TTL.
func (c DispatchConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// AutoResumeInterval returns how often quota-paused campaigns are re-checked.
func (c DispatchConfig) AutoResumeInterval() time.Duration {
	return time.Duration(c.AutoResumeIntervalSec) * time.Second
}

// QuotaConfig holds the daily send limits
type QuotaConfig struct {
	DefaultDailyLimit int                      `yaml:"default_daily_limit"`
	DefaultTimezone   string                   `yaml:"default_timezone"`
	Identities        map[string]IdentityQuota `yaml:"identities"`
}

// IdentityQuota overrides the limit and day boundary for one sending identity.
type IdentityQuota struct {
	DailyLimit int    `yaml:"daily_limit"`
	Timezone   string `yaml:"timezone"`
}

// TransmitterConfig selects the outbound provider: "gmail" or "ses".
type TransmitterConfig struct {
	Provider       string `yaml:"provider"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-call transmission timeout.
func (c TransmitterConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GoogleConfig holds the OAuth client used to send through Gmail
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
	APIBaseURL   string `yaml:"api_base_url"`
}

// SESConfig holds AWS SES configuration
type SESConfig struct {
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	Region      string `yaml:"region"`
	FromAddress string `yaml:"from_address"`
}

// AttachmentsConfig selects where attachment blobs live: "local" or "s3".
type AttachmentsConfig struct {
	Type      string `yaml:"type"`
	LocalPath string `yaml:"local_path"`
	S3Bucket  string `yaml:"s3_bucket"`
	S3Region  string `yaml:"s3_region"`
	S3Prefix  string `yaml:"s3_prefix"`
	MaxBytes  int64  `yaml:"max_bytes"`
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
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied, used when no
// config file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Dispatch.Concurrency == 0 {
		cfg.Dispatch.Concurrency = 3
	}
	if cfg.Dispatch.MaxAttempts == 0 {
		cfg.Dispatch.MaxAttempts = 3
	}
	if cfg.Dispatch.BackoffBaseMillis == 0 {
		cfg.Dispatch.BackoffBaseMillis = 1000
	}
	if cfg.Dispatch.BackoffMaxMillis == 0 {
		cfg.Dispatch.BackoffMaxMillis = 30000
	}
	if cfg.Dispatch.LockTTLSeconds == 0 {
		cfg.Dispatch.LockTTLSeconds = 60
	}
	if cfg.Dispatch.AutoResumeIntervalSec == 0 {
		cfg.Dispatch.AutoResumeIntervalSec = 300
	}
	if cfg.Quota.DefaultDailyLimit == 0 {
		cfg.Quota.DefaultDailyLimit = 500
	}
	if cfg.Quota.DefaultTimezone == "" {
		cfg.Quota.DefaultTimezone = "UTC"
	}
	if cfg.Transmitter.Provider == "" {
		cfg.Transmitter.Provider = "gmail"
	}
	if cfg.Transmitter.TimeoutSeconds == 0 {
		cfg.Transmitter.TimeoutSeconds = 30
	}
	if cfg.Google.RedirectURL == "" {
		cfg.Google.RedirectURL = cfg.Server.BaseURL + "/auth/google/callback"
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.Attachments.Type == "" {
		cfg.Attachments.Type = "local"
	}
	if cfg.Attachments.LocalPath == "" {
		cfg.Attachments.LocalPath = "./data/attachments"
	}
	if cfg.Attachments.S3Prefix == "" {
		cfg.Attachments.S3Prefix = "attachments/"
	}
	if cfg.Attachments.MaxBytes == 0 {
		cfg.Attachments.MaxBytes = 10 << 20
	}
}

// Validate rejects combinations the server cannot start with.
func (cfg *Config) Validate() error {
	switch cfg.Transmitter.Provider {
	case "gmail":
		if cfg.Google.ClientID == "" || cfg.Google.ClientSecret == "" {
			return fmt.Errorf("transmitter gmail requires google.client_id and google.client_secret")
		}
	case "ses":
		if cfg.SES.FromAddress == "" {
			return fmt.Errorf("transmitter ses requires ses.from_address")
		}
	default:
		return fmt.Errorf("unknown transmitter provider %q", cfg.Transmitter.Provider)
	}
	switch cfg.Attachments.Type {
	case "local":
	case "s3":
		if cfg.Attachments.S3Bucket == "" {
			return fmt.Errorf("attachments type s3 requires attachments.s3_bucket")
		}
	default:
		return fmt.Errorf("unknown attachments type %q", cfg.Attachments.Type)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("database url is required (set DATABASE_URL)")
	}
	if _, err := time.LoadLocation(cfg.Quota.DefaultTimezone); err != nil {
		return fmt.Errorf("quota.default_timezone: %w", err)
	}
	for id, q := range cfg.Quota.Identities {
		if q.Timezone == "" {
			continue
		}
		if _, err := time.LoadLocation(q.Timezone); err != nil {
			return fmt.Errorf("quota.identities.%s.timezone: %w", id, err)
		}
	}
	return nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars in deployment. A missing config
// file is not an error: defaults plus environment are used.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TRANSMITTER_PROVIDER"); v != "" {
		cfg.Transmitter.Provider = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Google.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Google.ClientSecret = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("SES_FROM_ADDRESS"); v != "" {
		cfg.SES.FromAddress = v
	}
	if v := os.Getenv("ATTACHMENTS_S3_BUCKET"); v != "" {
		cfg.Attachments.S3Bucket = v
		cfg.Attachments.Type = "s3"
	}
	if v := os.Getenv("DEFAULT_DAILY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Quota.DefaultDailyLimit = n
		}
	}

	return cfg, nil
}
