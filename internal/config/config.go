package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr       string
	Env        string
	CORSOrigin string

	// Storage: Postgres wins over Redis; with neither, state lives in memory.
	RedisURL      string
	DatabaseURL   string
	MigrationsDir string
	HistoryDir    string

	TokenSecret string
	TokenTTL    time.Duration
	// SecretKey seals stored API keys. Empty stores them in the clear.
	SecretKey string

	// Direct calls made with a user's own key.
	OpenAIBaseURL   string
	CompletionModel string
	ChatCompletions bool

	// Server-side proxy at /api/complete. ProxyURL points completions at a
	// remote proxy; empty runs them through the local one in-process.
	OpenAIAPIKey      string
	ProxyModel        string
	ProxyChat         bool
	ProxyURL          string
	RateLimitPolicy   string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	TrustProxyHeaders bool

	DocumentDebounce time.Duration

	// S3-compatible export uploads; disabled without an endpoint.
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool
	PresignTTL  time.Duration
}

// Load reads configuration from the environment, after merging a .env file
// from the working directory when one exists.
func Load() Config {
	_ = godotenv.Load()

	policy := strings.ToLower(getenv("SCRIBE_RATE_LIMIT_POLICY", "fixed"))
	requests, window := 50, 24*time.Hour
	if policy == "sliding" {
		requests, window = 1, 10*time.Second
	}
	return Config{
		Addr:          getenv("API_ADDR", ":8787"),
		Env:           getenv("SCRIBE_ENV", "production"),
		CORSOrigin:    getenv("SCRIBE_CORS_ORIGIN", "*"),
		RedisURL:      getenv("REDIS_URL", ""),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		MigrationsDir: getenv("SCRIBE_MIGRATIONS_DIR", "./db/migrations"),
		HistoryDir:    getenv("SCRIBE_HISTORY_DIR", "./data/history"),
		TokenSecret:   getenv("SCRIBE_TOKEN_SECRET", "scribe-dev-secret"),
		TokenTTL:      time.Duration(getenvInt("SCRIBE_TOKEN_TTL_SECONDS", 0)) * time.Second,
		SecretKey:     getenv("SCRIBE_SECRET_KEY", ""),

		OpenAIBaseURL:   getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		CompletionModel: getenv("SCRIBE_COMPLETION_MODEL", "gpt-3.5-turbo-instruct"),
		ChatCompletions: getenvBool("SCRIBE_CHAT_COMPLETIONS", false),

		OpenAIAPIKey:      getenv("OPENAI_API_KEY", ""),
		ProxyModel:        getenv("SCRIBE_PROXY_MODEL", "gpt-3.5-turbo-instruct"),
		ProxyChat:         strings.EqualFold(getenv("SCRIBE_PROXY_MODE", "completions"), "chat"),
		ProxyURL:          getenv("SCRIBE_PROXY_URL", ""),
		RateLimitPolicy:   policy,
		RateLimitRequests: getenvInt("SCRIBE_RATE_LIMIT_REQUESTS", requests),
		RateLimitWindow:   getenvDuration("SCRIBE_RATE_LIMIT_WINDOW", window),
		TrustProxyHeaders: getenvBool("SCRIBE_TRUST_PROXY_HEADERS", false),

		DocumentDebounce: getenvDuration("SCRIBE_DOCUMENT_DEBOUNCE", 500*time.Millisecond),

		S3Endpoint:  getenv("SCRIBE_S3_ENDPOINT", ""),
		S3AccessKey: getenv("SCRIBE_S3_ACCESS_KEY", ""),
		S3SecretKey: getenv("SCRIBE_S3_SECRET_KEY", ""),
		S3Bucket:    getenv("SCRIBE_S3_BUCKET", "scribe-exports"),
		S3Region:    getenv("SCRIBE_S3_REGION", "us-east-1"),
		S3UseSSL:    getenvBool("SCRIBE_S3_USE_SSL", true),
		PresignTTL:  getenvDuration("SCRIBE_S3_PRESIGN_TTL", 15*time.Minute),
	}
}

// Development reports whether the server runs with developer defaults.
func (c Config) Development() bool {
	return strings.EqualFold(c.Env, "development")
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getenvDuration accepts Go durations ("10s") or a bare number of seconds.
func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
