package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string

	// Telegram transport
	TelegramBotToken      string
	TelegramBotUsername   string
	TelegramWebhookSecret string
	OwnerChatID           string

	// Gemini backend
	GeminiAPIKeys  []string
	GeminiModelID  string
	GeminiTimeout  time.Duration
	GeminiMaxToken int

	// Conversation context
	ContextMaxTurns   int
	ContextTimeout    time.Duration
	ContextSweepEvery time.Duration

	// Classifier
	DefaultLanguage string

	// Circuit breaker
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Reply limits
	PrivateReplyLimit int
	GroupReplyLimit   int

	// Broadcast
	BroadcastConcurrency int
	BroadcastBatchSize   int
	BroadcastBatchDelay  time.Duration

	// Persona
	PersonaFile string

	// Recipient registry
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),

		TelegramBotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramBotUsername:   getEnv("TELEGRAM_BOT_USERNAME", ""),
		TelegramWebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
		OwnerChatID:           getEnv("OWNER_CHAT_ID", ""),

		GeminiAPIKeys:  getEnvAsList("GEMINI_API_KEYS"),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.0-flash-001"),
		GeminiTimeout:  getEnvAsDuration("GEMINI_TIMEOUT", 30*time.Second),
		GeminiMaxToken: getEnvAsInt("GEMINI_MAX_OUTPUT_TOKENS", 3000),

		ContextMaxTurns:   getEnvAsInt("CONTEXT_MAX_TURNS", 20),
		ContextTimeout:    getEnvAsDuration("CONTEXT_TIMEOUT", 2*time.Hour),
		ContextSweepEvery: getEnvAsDuration("CONTEXT_SWEEP_INTERVAL", time.Hour),

		DefaultLanguage: getEnv("DEFAULT_LANGUAGE", "en"),

		BreakerThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:  getEnvAsDuration("BREAKER_COOLDOWN", 5*time.Minute),

		PrivateReplyLimit: getEnvAsInt("PRIVATE_REPLY_LIMIT", 1000),
		GroupReplyLimit:   getEnvAsInt("GROUP_REPLY_LIMIT", 400),

		BroadcastConcurrency: getEnvAsInt("BROADCAST_CONCURRENCY", 20),
		BroadcastBatchSize:   getEnvAsInt("BROADCAST_BATCH_SIZE", 25),
		BroadcastBatchDelay:  getEnvAsDuration("BROADCAST_BATCH_DELAY", time.Second),

		PersonaFile: getEnv("PERSONA_FILE", "persona.yaml"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated environment variable, dropping empty entries.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			values = append(values, v)
		}
	}
	return values
}
