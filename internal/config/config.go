// Package config loads runtime settings from the environment. A .env file
// is honored when present.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr      string
	DatabaseURL   string
	RedisAddr     string
	JWTSecret     string
	JWTIssuer     string
	JWTTTL        time.Duration
	InternalToken string
	WSOrigin      string
	FeedURL       string
	MarginAsset   string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		JWTIssuer:     getEnv("JWT_ISSUER", "lv-margin"),
		InternalToken: os.Getenv("INTERNAL_API_TOKEN"),
		WSOrigin:      getEnv("WS_ORIGIN", "*"),
		FeedURL:       os.Getenv("FEED_URL"),
		MarginAsset:   getEnv("MARGIN_ASSET", "USDT"),
	}

	ttl := getEnv("JWT_TTL", "24h")
	d, err := time.ParseDuration(ttl)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JWT_TTL %q: %w", ttl, err)
	}
	cfg.JWTTTL = d

	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if cfg.FeedURL == "" {
		missing = append(missing, "FEED_URL")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
