// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything main needs to wire the service.
type Config struct {
	HTTPAddr         string
	DatabaseDSN      string
	RedisAddr        string
	InferenceBaseURL string
	InferenceTimeout time.Duration
	JWTSecret        string
	JWTAudience      string
}

// Load reads configuration from the environment. A missing .env file is not
// an error; set variables always win over file values.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		DatabaseDSN:      getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=screening port=5432 sslmode=disable"),
		RedisAddr:        getEnv("REDIS_ADDR", "redis:6379"),
		InferenceBaseURL: getEnv("INFERENCE_BASE_URL", "http://ml-server:8000"),
		InferenceTimeout: getDuration("INFERENCE_TIMEOUT", 60*time.Second),
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
		JWTAudience:      os.Getenv("JWT_AUDIENCE"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getDuration falls back on unparseable values rather than failing startup.
func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
