package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr              string
	ProxyAddr             string
	MetricsAddr           string
	APIBaseURL            string
	AppAPIURL             string
	PostgresDSN           string
	RedisAddr             string
	KafkaBrokers          []string
	JWTSecret             string
	LocalStorePath        string
	CacheVersion          string
	ProbeInterval         time.Duration
	ReminderCheckInterval time.Duration
	LogLevel              string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		ProxyAddr:             getEnv("PROXY_ADDR", ":8081"),
		MetricsAddr:           os.Getenv("METRICS_ADDR"),
		APIBaseURL:            strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8080"), "/"),
		AppAPIURL:             strings.TrimRight(getEnv("APP_API_URL", "http://localhost:8081"), "/"),
		PostgresDSN:           os.Getenv("POSTGRES_DSN"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKER")),
		JWTSecret:             getEnv("JWT_SECRET", "supersecret"),
		LocalStorePath:        getEnv("LOCAL_STORE_PATH", "paisa-offline.db"),
		CacheVersion:          getEnv("CACHE_VERSION", "v1"),
		ProbeInterval:         getDuration("PROBE_INTERVAL", 10*time.Second),
		ReminderCheckInterval: getDuration("REMINDER_CHECK_INTERVAL", 30*time.Second),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
	}

	slog.Info("config loaded",
		"http_addr", cfg.HTTPAddr,
		"api_base_url", cfg.APIBaseURL,
		"app_api_url", cfg.AppAPIURL,
		"postgres", cfg.PostgresDSN != "",
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"local_store_path", cfg.LocalStorePath,
		"cache_version", cfg.CacheVersion)
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
