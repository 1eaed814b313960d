package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the composition root needs at startup.
// Provider URL and API key are deploy-time inputs and must be present.
type Config struct {
	ListenAddr     string
	GRPCListenAddr string

	ProviderBaseURL string
	ProviderAPIKey  string

	PostgresDSN string

	StoreSecret string

	SessionTimeout time.Duration
	WarningOffset  time.Duration

	MaxLoginAttempts int
	LockoutWindow    time.Duration

	SentryDSN   string
	Environment string
}

// Load reads configuration from the environment. When loadDotEnv is set, a
// local .env file is merged in first (missing file is not an error).
func Load(loadDotEnv bool) (Config, error) {
	if loadDotEnv {
		_ = godotenv.Load()
	}

	cfg := Config{
		ListenAddr:       envOrDefault("CAREDESK_LISTEN_ADDR", ":8080"),
		GRPCListenAddr:   envOrDefault("CAREDESK_GRPC_ADDR", ":9090"),
		PostgresDSN:      os.Getenv("CAREDESK_PG_DSN"),
		StoreSecret:      envOrDefault("CAREDESK_STORE_SECRET", ""),
		SessionTimeout:   envMinutesOrDefault("CAREDESK_SESSION_TIMEOUT_MINUTES", 30),
		WarningOffset:    envMinutesOrDefault("CAREDESK_SESSION_WARNING_MINUTES", 5),
		MaxLoginAttempts: envIntOrDefault("CAREDESK_MAX_LOGIN_ATTEMPTS", 5),
		LockoutWindow:    envMinutesOrDefault("CAREDESK_LOCKOUT_MINUTES", 15),
		SentryDSN:        os.Getenv("SENTRY_DSN"),
		Environment:      envOrDefault("CAREDESK_ENV", "development"),
	}

	var err error
	if cfg.ProviderBaseURL, err = mustEnv("CAREDESK_PROVIDER_URL"); err != nil {
		return Config{}, err
	}
	if cfg.ProviderAPIKey, err = mustEnv("CAREDESK_PROVIDER_KEY"); err != nil {
		return Config{}, err
	}
	if cfg.StoreSecret == "" {
		return Config{}, fmt.Errorf("config: CAREDESK_STORE_SECRET is required")
	}
	return cfg, nil
}

func mustEnv(key string) (string, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", fmt.Errorf("config: %s is required", key)
	}
	return v, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envMinutesOrDefault(key string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(key, fallback)) * time.Minute
}
