// Package config provides configuration utilities for the application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/llm"
	"github.com/Veraticus/ledger-intake/internal/normalize"
)

// Config is the typed application configuration.
type Config struct {
	Logging    LoggingConfig
	Database   DatabaseConfig
	Storage    StorageConfig
	HTTP       HTTPConfig
	LLM        llm.Config
	OCR        OCRConfig
	Moderation ModerationConfig
	Categorize CategorizeConfig
	Upload     UploadConfig
	Queue      QueueConfig
	RateLimit  RateLimitConfig
	Redis      RedisConfig
	Currency   string
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string
	Format string
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string
}

// StorageConfig configures the content store and its credentials.
type StorageConfig struct {
	Root          string
	SigningKey    string
	CredentialTTL time.Duration
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
	// TLS serves HTTPS with a self-signed certificate kept in CertDir.
	TLS      bool
	CertDir  string
	TLSHosts []string
}

// OCRConfig holds the image text providers' credentials.
type OCRConfig struct {
	VisionAPIKey          string
	VisionCredentialsFile string
	OCRSpaceAPIKey        string
}

// ModerationConfig selects the moderator.
type ModerationConfig struct {
	Provider string
	APIKey   string
	URL      string
}

// CategorizeConfig tunes the categorization cascade.
type CategorizeConfig struct {
	LLMMinAmount    decimal.Decimal
	MinCorrections  int
	ReviewThreshold float64
	ReviewMaxLow    int
}

// UploadConfig tunes upload completeness checks.
type UploadConfig struct {
	SizeTolerance float64
}

// QueueConfig selects the task backend and sizes the worker pool.
type QueueConfig struct {
	Backend      string
	Workers      int
	MaxAttempts  int
	PollInterval time.Duration
	Lease        time.Duration
}

// RateLimitConfig configures the per-owner API limit.
type RateLimitConfig struct {
	Backend  string
	Requests int
	Window   time.Duration
}

// RedisConfig locates Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("database.path", filepath.Join(home, ".local", "share", "intake", "intake.db"))
	v.SetDefault("storage.root", filepath.Join(home, ".local", "share", "intake", "objects"))
	v.SetDefault("storage.credential_ttl", 15*time.Minute)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 60*time.Second)
	v.SetDefault("http.idle_timeout", 120*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.max_upload_bytes", 32<<20)
	v.SetDefault("http.tls", false)
	v.SetDefault("http.cert_dir", "~/.config/intake/certs")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay", time.Second)
	v.SetDefault("llm.cache_ttl", 24*time.Hour)
	v.SetDefault("llm.rate_limit", 60)
	v.SetDefault("moderation.provider", "keyword")
	v.SetDefault("categorize.llm_min_amount", "5.00")
	v.SetDefault("categorize.min_corrections", 2)
	v.SetDefault("categorize.review_threshold", 0.6)
	v.SetDefault("categorize.review_max_low", 2)
	v.SetDefault("upload.size_tolerance", 0.02)
	v.SetDefault("queue.backend", "sqlite")
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.lease", 5*time.Minute)
	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.requests", 120)
	v.SetDefault("ratelimit.window", time.Minute)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("currency.default", "USD")
}

// Load builds a Config from v, resolving provider credentials and
// validating enumerated settings.
func Load(v *viper.Viper) (*Config, error) {
	minAmount, err := decimal.NewFromString(strings.TrimSpace(v.GetString("categorize.llm_min_amount")))
	if err != nil {
		return nil, fmt.Errorf("%w: categorize.llm_min_amount: %v", common.ErrInvalidConfig, err)
	}

	cfg := &Config{
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Database: DatabaseConfig{Path: ExpandPath(v.GetString("database.path"))},
		Storage: StorageConfig{
			Root:          ExpandPath(v.GetString("storage.root")),
			SigningKey:    v.GetString("storage.signing_key"),
			CredentialTTL: v.GetDuration("storage.credential_ttl"),
		},
		HTTP: HTTPConfig{
			Addr:            v.GetString("http.addr"),
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			IdleTimeout:     v.GetDuration("http.idle_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			MaxUploadBytes:  v.GetInt64("http.max_upload_bytes"),
			TLS:             v.GetBool("http.tls"),
			CertDir:         ExpandPath(v.GetString("http.cert_dir")),
			TLSHosts:        v.GetStringSlice("http.tls_hosts"),
		},
		LLM: llm.Config{
			Provider:    strings.ToLower(v.GetString("llm.provider")),
			Model:       v.GetString("llm.model"),
			BaseURL:     v.GetString("llm.base_url"),
			Temperature: v.GetFloat64("llm.temperature"),
			MaxTokens:   v.GetInt("llm.max_tokens"),
			MaxRetries:  v.GetInt("llm.max_retries"),
			RetryDelay:  v.GetDuration("llm.retry_delay"),
			CacheTTL:    v.GetDuration("llm.cache_ttl"),
			RateLimit:   v.GetInt("llm.rate_limit"),
		},
		OCR: OCRConfig{
			VisionAPIKey:          v.GetString("ocr.vision.api_key"),
			VisionCredentialsFile: ExpandPath(v.GetString("ocr.vision.credentials_file")),
			OCRSpaceAPIKey:        v.GetString("ocr.ocrspace.api_key"),
		},
		Moderation: ModerationConfig{
			Provider: strings.ToLower(v.GetString("moderation.provider")),
			APIKey:   v.GetString("moderation.api_key"),
			URL:      v.GetString("moderation.url"),
		},
		Categorize: CategorizeConfig{
			LLMMinAmount:    minAmount,
			MinCorrections:  v.GetInt("categorize.min_corrections"),
			ReviewThreshold: v.GetFloat64("categorize.review_threshold"),
			ReviewMaxLow:    v.GetInt("categorize.review_max_low"),
		},
		Upload: UploadConfig{SizeTolerance: v.GetFloat64("upload.size_tolerance")},
		Queue: QueueConfig{
			Backend:      strings.ToLower(v.GetString("queue.backend")),
			Workers:      v.GetInt("queue.workers"),
			MaxAttempts:  v.GetInt("queue.max_attempts"),
			PollInterval: v.GetDuration("queue.poll_interval"),
			Lease:        v.GetDuration("queue.lease"),
		},
		RateLimit: RateLimitConfig{
			Backend:  strings.ToLower(v.GetString("ratelimit.backend")),
			Requests: v.GetInt("ratelimit.requests"),
			Window:   v.GetDuration("ratelimit.window"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Currency: strings.ToUpper(v.GetString("currency.default")),
	}

	resolveCredentials(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated and bounded settings.
func (c *Config) Validate() error {
	invalid := func(key string, val any) error {
		return fmt.Errorf("%w: %s=%v", common.ErrInvalidConfig, key, val)
	}
	switch {
	case !oneOf(c.Logging.Format, "console", "json"):
		return invalid("logging.format", c.Logging.Format)
	case !oneOf(c.Moderation.Provider, "openai", "keyword", "none"):
		return invalid("moderation.provider", c.Moderation.Provider)
	case !oneOf(c.Queue.Backend, "sqlite", "redis"):
		return invalid("queue.backend", c.Queue.Backend)
	case !oneOf(c.RateLimit.Backend, "memory", "redis"):
		return invalid("ratelimit.backend", c.RateLimit.Backend)
	case c.Upload.SizeTolerance < 0 || c.Upload.SizeTolerance >= 1:
		return invalid("upload.size_tolerance", c.Upload.SizeTolerance)
	case c.Categorize.ReviewThreshold < 0 || c.Categorize.ReviewThreshold > 1:
		return invalid("categorize.review_threshold", c.Categorize.ReviewThreshold)
	case c.Categorize.LLMMinAmount.IsNegative():
		return invalid("categorize.llm_min_amount", c.Categorize.LLMMinAmount)
	case c.Storage.SigningKey != "" && len(c.Storage.SigningKey) < 16:
		return fmt.Errorf("%w: storage.signing_key must be at least 16 bytes", common.ErrInvalidConfig)
	}
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level", c.Logging.Level)
	}
	return normalize.ValidateCurrency(c.Currency)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
