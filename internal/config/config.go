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
	PublicBaseURL string
	LogLevel      string
	LogFormat     string
	Timezone      string

	// Document store
	StoreBackend      string
	DatabaseURL       string
	DocumentsTable    string
	StorePollInterval time.Duration

	// HTTP
	AuthJWTSecret      string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Notification dispatch
	UseMemoryQueue       bool
	NotifyAsync          bool
	NotificationQueueURL string
	WorkerCount          int
	NotifyTimeout        time.Duration
	EmailProvider        string
	SendGridAPIKey       string
	EmailFromAddress     string
	EmailFromName        string
	PushEnabled          bool

	// Directory cache
	RedisAddr          string
	RedisPassword      string
	RedisTLS           bool
	DirectoryCacheSize int
	DirectoryCacheTTL  time.Duration

	// Lifecycle events and archives
	AMQPURL              string
	AMQPExchange         string
	SummaryArchiveBucket string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
		Timezone:      getEnv("TIMEZONE", "UTC"),

		StoreBackend:      strings.ToLower(strings.TrimSpace(getEnv("STORE_BACKEND", "memory"))),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		DocumentsTable:    getEnv("DOCUMENTS_TABLE", "smartcare_documents"),
		StorePollInterval: getEnvAsDuration("STORE_POLL_INTERVAL", 5*time.Second),

		AuthJWTSecret:      getEnv("AUTH_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		UseMemoryQueue:       getEnvAsBool("USE_MEMORY_QUEUE", false),
		NotifyAsync:          getEnvAsBool("NOTIFY_ASYNC", false),
		NotificationQueueURL: getEnv("NOTIFICATION_QUEUE_URL", ""),
		WorkerCount:          getEnvAsInt("WORKER_COUNT", 2),
		NotifyTimeout:        getEnvAsDuration("NOTIFY_TIMEOUT", 15*time.Second),
		EmailProvider:        strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:       getEnv("SENDGRID_API_KEY", ""),
		EmailFromAddress:     getEnv("EMAIL_FROM_ADDRESS", ""),
		EmailFromName:        getEnv("EMAIL_FROM_NAME", "Smart Care"),
		PushEnabled:          getEnvAsBool("PUSH_ENABLED", false),

		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),
		DirectoryCacheSize: getEnvAsInt("DIRECTORY_CACHE_SIZE", 512),
		DirectoryCacheTTL:  getEnvAsDuration("DIRECTORY_CACHE_TTL", 5*time.Minute),

		AMQPURL:              getEnv("AMQP_URL", ""),
		AMQPExchange:         getEnv("AMQP_EXCHANGE", "smartcare.appointments"),
		SummaryArchiveBucket: getEnv("SUMMARY_ARCHIVE_BUCKET", ""),
	}
}

// Location resolves Timezone, falling back to UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	if c == nil || strings.TrimSpace(c.Timezone) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
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

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
