package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv              string
	Port                string
	APIBaseURL          string
	APIKey              string
	DefaultModel        string
	CORSOrigins         []string
	HTTPReadTimeout     time.Duration
	HTTPWriteTimeout    time.Duration
	HTTPIdleTimeout     time.Duration
	RequestTimeout      time.Duration
	CreditsPollInterval time.Duration
	MaxBatchSize        int
	SubmitRateLimit     int
	SubmitRateWindow    time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
//
// The upstream API key is optional at boot: without it the credits poller
// stays off and job submission is rejected per request, but the server still
// serves everything else. The write timeout defaults to 0 because job event
// feeds are long-lived streams.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:              getEnv("APP_ENV", "development"),
		Port:                getEnv("PORT", "8080"),
		APIBaseURL:          strings.TrimRight(os.Getenv("NANO_API_BASE_URL"), "/"),
		APIKey:              strings.TrimSpace(os.Getenv("NANO_API_KEY")),
		DefaultModel:        getEnv("NANO_MODEL", "nano-banana"),
		CORSOrigins:         splitEnvList(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		HTTPReadTimeout:     time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:    time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:     time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RequestTimeout:      time.Second * time.Duration(getEnvInt("UPSTREAM_TIMEOUT_SECONDS", 0)),
		CreditsPollInterval: time.Second * time.Duration(getEnvInt("CREDITS_POLL_SECONDS", 30)),
		MaxBatchSize:        getEnvInt("MAX_BATCH_SIZE", 50),
		SubmitRateLimit:     getEnvInt("SUBMIT_RATE_LIMIT", 60),
		SubmitRateWindow:    time.Second * time.Duration(getEnvInt("SUBMIT_RATE_WINDOW_SECONDS", 60)),
	}

	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("NANO_API_BASE_URL is required")
	}
	if cfg.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("MAX_BATCH_SIZE must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitEnvList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
