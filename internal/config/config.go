package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Messaging provider credentials. The auth token doubles as the webhook
	// signature secret and as basic-auth for media downloads.
	TwilioAccountSID string
	TwilioAuthToken  string

	// OCR service
	OCRBaseURL       string
	OCRTimeout       time.Duration
	OCRMaxRetries    int
	OCRRetryBackoff  time.Duration
	MaxImageDimension int

	// Language model
	OpenAIAPIKey    string
	OpenAIModel     string
	LLMTimeout      time.Duration
	LLMMaxRetries   int
	LLMRetryBackoff time.Duration

	// Intake behaviour
	SessionTTL           time.Duration
	ExtractionMaxFailures int
	InstructionCacheTTL  time.Duration
	SchedulingRulesPath  string

	// Operator escalation
	OperatorWebhookURL string
	OperatorEmail      string
	SendGridAPIKey     string
	SendGridFromEmail  string
	SendGridFromName   string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),

		OCRBaseURL:        getEnv("OCR_BASE_URL", ""),
		OCRTimeout:        getEnvAsDuration("OCR_TIMEOUT", 15*time.Second),
		OCRMaxRetries:     getEnvAsInt("OCR_MAX_RETRIES", 2),
		OCRRetryBackoff:   getEnvAsDuration("OCR_RETRY_BACKOFF", 500*time.Millisecond),
		MaxImageDimension: getEnvAsInt("MAX_IMAGE_DIMENSION", 1600),

		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		LLMTimeout:      getEnvAsDuration("LLM_TIMEOUT", 30*time.Second),
		LLMMaxRetries:   getEnvAsInt("LLM_MAX_RETRIES", 2),
		LLMRetryBackoff: getEnvAsDuration("LLM_RETRY_BACKOFF", 750*time.Millisecond),

		SessionTTL:            getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		ExtractionMaxFailures: getEnvAsInt("EXTRACTION_MAX_FAILURES", 3),
		InstructionCacheTTL:   getEnvAsDuration("INSTRUCTION_CACHE_TTL", 72*time.Hour),
		SchedulingRulesPath:   getEnv("SCHEDULING_RULES_PATH", "configs/scheduling.json"),

		OperatorWebhookURL: getEnv("OPERATOR_WEBHOOK_URL", ""),
		OperatorEmail:      getEnv("OPERATOR_EMAIL", ""),
		SendGridAPIKey:     getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:  getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:   getEnv("SENDGRID_FROM_NAME", "ALIA Laboratorio"),
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
