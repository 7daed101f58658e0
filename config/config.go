package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ProviderOpenAI = "openai"
	ProviderStub   = "stub"

	// APIKeyPrefix is the prefix every upstream credential starts with.
	APIKeyPrefix = "sk-"
)

var (
	ErrMissingAPIKey   = errors.New("DEEPSEEK_API_KEY environment variable is required")
	ErrInvalidAPIKey   = errors.New("DEEPSEEK_API_KEY must start with " + APIKeyPrefix)
	ErrUnknownProvider = errors.New("LLM_PROVIDER must be one of: openai, stub")
)

// Config holds all configuration for the chat relay service
type Config struct {
	// Server configuration
	Port               string
	AllowedOrigins     []string
	RateLimitPerMinute int

	// Upstream configuration
	Provider            string
	APIKey              string
	UpstreamBaseURL     string
	UpstreamModel       string
	MaxTokens           int
	Temperature         float64
	UpstreamIdleTimeout time.Duration

	// Relay behavior
	ExposeUpstreamErrors bool
	SystemPrompt         string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "3000"),
		AllowedOrigins:     getStringSliceEnv("ALLOWED_ORIGINS", "*"),
		RateLimitPerMinute: getIntEnv("RATE_LIMIT_PER_MINUTE", 30),

		Provider:            strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI)),
		APIKey:              getEnv("DEEPSEEK_API_KEY", getEnv("OPENAI_API_KEY", "")),
		UpstreamBaseURL:     getEnv("UPSTREAM_BASE_URL", "https://api.deepseek.com/v1"),
		UpstreamModel:       getEnv("UPSTREAM_MODEL", "deepseek-chat"),
		MaxTokens:           getIntEnv("MAX_TOKENS", 100),
		Temperature:         getFloatEnv("TEMPERATURE", 0.9),
		UpstreamIdleTimeout: getDurationEnv("UPSTREAM_IDLE_TIMEOUT", 0),

		ExposeUpstreamErrors: getBoolEnv("EXPOSE_UPSTREAM_ERRORS", false),
		SystemPrompt:         getEnv("SYSTEM_PROMPT", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Validate reports whether the service can start with this configuration.
// The credential is only required when the real upstream provider is selected.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderStub:
		return nil
	case ProviderOpenAI:
	default:
		return ErrUnknownProvider
	}
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if !strings.HasPrefix(c.APIKey, APIKeyPrefix) {
		return ErrInvalidAPIKey
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getStringSliceEnv gets a comma-separated environment variable as a slice, dropping empty parts
func getStringSliceEnv(key, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
