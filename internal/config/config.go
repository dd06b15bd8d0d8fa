package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultScopes = "identity:manage ledgers:manage cards:manage beneficiaries:manage " +
	"transactions:manage kyc:manage webhooks:manage fx:read"

type Config struct {
	DBSource string
	Port     string
	Env      string

	LogLevel  string
	LogFormat string
	LogFile   string

	Provider ProviderConfig

	PollInterval time.Duration
	PollDelay    time.Duration

	WebhookBaseURL string

	RedisAddr string

	KafkaBrokers           []string
	KafkaNotificationTopic string
}

// ProviderConfig holds the banking provider endpoint and credentials.
// Credentials are only ever injected through the environment.
type ProviderConfig struct {
	BaseURL     string
	TokenURL    string
	Audience    string
	ClientID    string
	KeyID       string
	PrivateKey  []byte
	Scopes      string
	AuthMode    string
	Timeout     time.Duration
	MaxAttempts int
}

// Load reads the environment, after loading an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	providerTimeout, err := getDuration("PROVIDER_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	maxAttempts, err := getInt("PROVIDER_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	pollInterval, err := getDuration("POLL_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	pollDelay, err := getDuration("POLL_DELAY", time.Second)
	if err != nil {
		return nil, err
	}
	key, err := privateKey()
	if err != nil {
		return nil, err
	}

	authMode := getEnv("PROVIDER_AUTH_MODE", "assertion")
	if authMode != "assertion" && authMode != "exchange" {
		return nil, fmt.Errorf("PROVIDER_AUTH_MODE must be assertion or exchange, got %q", authMode)
	}

	baseURL := getEnv("PROVIDER_BASE_URL", "https://api.sandbox.baas.example")
	return &Config{
		DBSource:  dbSource,
		Port:      getEnv("SERVER_PORT", "8080"),
		Env:       getEnv("ENVIRONMENT", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		LogFile:   os.Getenv("LOG_FILE"),
		Provider: ProviderConfig{
			BaseURL:     baseURL,
			TokenURL:    getEnv("PROVIDER_TOKEN_URL", strings.TrimRight(baseURL, "/")+"/oauth/token"),
			Audience:    getEnv("PROVIDER_AUDIENCE", baseURL),
			ClientID:    os.Getenv("PROVIDER_CLIENT_ID"),
			KeyID:       os.Getenv("PROVIDER_KEY_ID"),
			PrivateKey:  key,
			Scopes:      getEnv("PROVIDER_SCOPES", defaultScopes),
			AuthMode:    authMode,
			Timeout:     providerTimeout,
			MaxAttempts: maxAttempts,
		},
		PollInterval:           pollInterval,
		PollDelay:              pollDelay,
		WebhookBaseURL:         os.Getenv("WEBHOOK_BASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		KafkaBrokers:           splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaNotificationTopic: getEnv("KAFKA_NOTIFICATION_TOPIC", "banking.notifications"),
	}, nil
}

// privateKey reads the PEM key inline or from a mounted file. Inline keys may
// carry escaped newlines.
func privateKey() ([]byte, error) {
	if v := os.Getenv("PROVIDER_PRIVATE_KEY"); v != "" {
		return []byte(strings.ReplaceAll(v, `\n`, "\n")), nil
	}
	if path := os.Getenv("PROVIDER_PRIVATE_KEY_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read PROVIDER_PRIVATE_KEY_FILE: %w", err)
		}
		return b, nil
	}
	return nil, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
