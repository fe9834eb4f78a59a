// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	GRPCPort           string // empty disables the gRPC listener
	FrontendURL        string
	DBPath             string
	UploadDir          string
	JWTSecret          string
	TokenTTL           time.Duration
	MaxRequestBodySize int64
	Timezone           string
	Log                LogConfig
	Generative         GenerativeConfig
	Kafka              KafkaConfig
	RateLimit          RateLimitConfig
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// GenerativeConfig configures the model behind intent resolution.
type GenerativeConfig struct {
	Provider      string // gemini, openai
	GeminiURL     string
	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string
	Timeout       time.Duration
	ProxyAddr     string // SOCKS5 host:port
}

// KafkaConfig controls publication of turn events.
type KafkaConfig struct {
	Enabled   bool
	Brokers   []string
	Topic     string
	Principal string
}

// RateLimitConfig bounds assistant requests per user.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		GRPCPort:           getEnv("GRPC_PORT", ""),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		DBPath:             getEnv("DB_PATH", "./data/assistant.db"),
		UploadDir:          getEnv("UPLOAD_DIR", "./data/uploads"),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		TokenTTL:           getEnvDuration("TOKEN_TTL", 7*24*time.Hour),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 5<<20)),
		Timezone:           getEnv("TIMEZONE", ""),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Generative: LoadGenerative(),
		Kafka: KafkaConfig{
			Enabled:   getEnvBool("KAFKA_ENABLED", false),
			Brokers:   getEnvList("KAFKA_BROKERS"),
			Topic:     getEnv("KAFKA_TOPIC", "assistant.turns"),
			Principal: getEnv("KAFKA_PRINCIPAL", "voice-assistant"),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadGenerative reads only the generative provider settings, for tools that resolve
// intents without running the server.
func LoadGenerative() GenerativeConfig {
	return GenerativeConfig{
		Provider:      strings.ToLower(getEnv("GENERATIVE_PROVIDER", "gemini")),
		GeminiURL:     getEnv("GEMINI_API_URL", ""),
		OpenAIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		Timeout:       getEnvDuration("GENERATIVE_TIMEOUT", 15*time.Second),
		ProxyAddr:     getEnv("GENERATIVE_PROXY", ""),
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR cannot be empty")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	switch c.Generative.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("GENERATIVE_PROVIDER must be gemini or openai, got %q", c.Generative.Provider)
	}
	if c.Generative.Timeout <= 0 {
		return fmt.Errorf("GENERATIVE_TIMEOUT must be > 0")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	if c.Kafka.Topic == "" {
		return fmt.Errorf("KAFKA_TOPIC cannot be empty")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("TIMEZONE: %w", err)
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// LoadLocation returns the TIMEZONE zone without loading the rest of the server config.
func LoadLocation() *time.Location {
	return (&Config{Timezone: getEnv("TIMEZONE", "")}).Location()
}

// Location returns the zone used for date and time answers.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
