// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Storage
	DatabaseURL       string
	SourcesConfigPath string
	SignalsConfigPath string
	RedisURL          string

	// LLM settings
	LLMProvider       string
	LLMModel          string
	LLMImpactModel    string
	OpenAIAPIKey      string
	AnthropicAPIKey   string
	OpenRouterAPIKey  string
	GeminiAPIKey      string
	LLMTimeout        time.Duration
	MaxLLMRequests    int // per day, 0 = unlimited
	ImpactThreshold   float64
	ImpactConcurrency int

	// Enrichment
	EnrichMaxChars int
	EnrichMinChars int

	// Ingestion
	DedupWindow    int
	FetchTimeout   time.Duration
	FetchUserAgent string
	FeedSince      time.Duration
	BatchSize      int

	// Retry settings
	RetryAttempts  int
	RetryBaseDelay time.Duration

	// Delivery
	TelegramToken     string
	TelegramChatID    string
	DiscordWebhookURL string
	PostDelay         time.Duration
	PostMinImpact     []string
	DigestWindow      time.Duration
	DigestSize        int

	// Server
	HTTPAddr string
	CacheTTL time.Duration

	// Schedules
	IngestCron  string
	FetchCron   string
	EnrichCron  string
	DeliverCron string
	DigestCron  string

	// App settings
	Debug     bool
	LogFormat string
}

var knownProviders = map[string]bool{
	"openai":     true,
	"anthropic":  true,
	"openrouter": true,
	"gemini":     true,
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SourcesConfigPath: getEnvOrDefault("SOURCES_CONFIG_PATH", "configs/sources.yaml"),
		SignalsConfigPath: getEnvOrDefault("SIGNALS_CONFIG", "configs/signals.yaml"),
		RedisURL:          os.Getenv("REDIS_URL"),

		LLMProvider:       strings.ToLower(getEnvOrDefault("LLM_PROVIDER", "openai")),
		LLMModel:          os.Getenv("LLM_MODEL"),
		LLMImpactModel:    os.Getenv("LLM_IMPACT_MODEL"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		LLMTimeout:        getEnvDurationOrDefault("LLM_TIMEOUT", 60*time.Second),
		MaxLLMRequests:    getEnvIntOrDefault("MAX_LLM_REQUESTS", 0),
		ImpactThreshold:   getEnvFloatOrDefault("IMPACT_THRESHOLD", 0.7),
		ImpactConcurrency: getEnvIntOrDefault("IMPACT_CONCURRENCY", 3),

		EnrichMaxChars: getEnvIntOrDefault("ENRICH_MAX_CHARS", 4000),
		EnrichMinChars: getEnvIntOrDefault("ENRICH_MIN_CHARS", 100),

		DedupWindow:    getEnvIntOrDefault("DEDUP_WINDOW", 500),
		FetchTimeout:   getEnvDurationOrDefault("FETCH_TIMEOUT", 20*time.Second),
		FetchUserAgent: getEnvOrDefault("FETCH_USER_AGENT", "noonfeed/1.0 (+https://github.com/duiduidodge/noon-feed-sub001)"),
		FeedSince:      getEnvDurationOrDefault("FEED_SINCE", 24*time.Hour),
		BatchSize:      getEnvIntOrDefault("BATCH_SIZE", 25),

		RetryAttempts:  getEnvIntOrDefault("RETRY_ATTEMPTS", 3),
		RetryBaseDelay: getEnvDurationOrDefault("RETRY_BASE_DELAY", 2*time.Second),

		TelegramToken:     os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID:    os.Getenv("TELEGRAM_CHAT_ID"),
		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
		PostDelay:         getEnvDurationOrDefault("POST_DELAY", 2*time.Second),
		PostMinImpact:     impactsAtLeast(getEnvOrDefault("POST_MIN_IMPACT", "high")),
		DigestWindow:      getEnvDurationOrDefault("DIGEST_WINDOW", 6*time.Hour),
		DigestSize:        getEnvIntOrDefault("DIGEST_SIZE", 8),

		HTTPAddr: getEnvOrDefault("HTTP_ADDR", ":8080"),
		CacheTTL: getEnvDurationOrDefault("CACHE_TTL", 45*time.Second),

		IngestCron:  getEnvOrDefault("INGEST_CRON", "*/10 * * * *"),
		FetchCron:   getEnvOrDefault("FETCH_CRON", "2-59/10 * * * *"),
		EnrichCron:  getEnvOrDefault("ENRICH_CRON", "4-59/10 * * * *"),
		DeliverCron: getEnvOrDefault("DELIVER_CRON", "6-59/10 * * * *"),
		DigestCron:  getEnvOrDefault("DIGEST_CRON", "0 */6 * * *"),

		Debug:     getEnvBoolOrDefault("DEBUG", false),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	return cfg, cfg.Validate()
}

// LLMAPIKey returns the key for the selected provider.
func (c *Config) LLMAPIKey() string {
	switch c.LLMProvider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "openrouter":
		return c.OpenRouterAPIKey
	case "gemini":
		return c.GeminiAPIKey
	}
	return ""
}

// impactsAtLeast expands a minimum impact level into the levels that meet it.
func impactsAtLeast(min string) []string {
	switch strings.ToLower(strings.TrimSpace(min)) {
	case "low":
		return []string{"high", "medium", "low"}
	case "medium":
		return []string{"high", "medium"}
	default:
		return []string{"high"}
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if !knownProviders[c.LLMProvider] {
		return fmt.Errorf("LLM_PROVIDER must be one of openai, anthropic, openrouter, gemini (got %q)", c.LLMProvider)
	}
	if c.LLMAPIKey() == "" {
		return fmt.Errorf("%s_API_KEY is required for LLM_PROVIDER=%s", strings.ToUpper(c.LLMProvider), c.LLMProvider)
	}
	if c.ImpactThreshold < 0 || c.ImpactThreshold > 1 {
		return fmt.Errorf("IMPACT_THRESHOLD must be within [0, 1]")
	}
	if c.ImpactConcurrency < 1 {
		return fmt.Errorf("IMPACT_CONCURRENCY must be at least 1")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1")
	}
	if c.TelegramToken != "" && c.TelegramChatID == "" {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_TOKEN is set")
	}
	return nil
}
