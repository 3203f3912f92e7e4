package config

import (
	"os"

	"github.com/spf13/viper"
)

// resolveCredentials fills provider secrets. Precedence:
// 1. Viper configuration (config file or INTAKE_ env vars)
// 2. The provider's conventional environment variable
// 3. Empty, which disables the provider
func resolveCredentials(v *viper.Viper, cfg *Config) {
	cfg.LLM.APIKey = v.GetString("llm.api_key")
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "anthropic":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		default:
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	if cfg.Moderation.APIKey == "" && cfg.Moderation.Provider == "openai" {
		cfg.Moderation.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if cfg.OCR.VisionCredentialsFile == "" {
		if p := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); p != "" {
			cfg.OCR.VisionCredentialsFile = ExpandPath(p)
		}
	}
	if cfg.OCR.OCRSpaceAPIKey == "" {
		cfg.OCR.OCRSpaceAPIKey = os.Getenv("OCR_SPACE_API_KEY")
	}

	if cfg.Redis.Password == "" {
		cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}
}

// VisionEnabled reports whether Cloud Vision can be constructed.
func (c *Config) VisionEnabled() bool {
	return c.OCR.VisionAPIKey != "" || c.OCR.VisionCredentialsFile != ""
}

// AIEnabled reports whether an LLM categorization tier can be constructed.
func (c *Config) AIEnabled() bool {
	return c.LLM.APIKey != ""
}

// NeedsRedis reports whether any backend is configured to use Redis.
func (c *Config) NeedsRedis() bool {
	return c.Queue.Backend == "redis" || c.RateLimit.Backend == "redis"
}
