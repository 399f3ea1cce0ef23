package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds application configuration
type Config struct {
	Port                string
	Env                 string
	Debug               bool
	DBPath              string
	JWTSecret           string
	ExpirySweepInterval time.Duration
}

// Load reads configuration from the environment, falling back to defaults.
// A .env file is honoured when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using system environment")
	}

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		Env:                 getEnv("ENV", "development"),
		Debug:               getEnv("DEBUG", "") == "true",
		DBPath:              getEnv("DB_PATH", "calls.db"),
		JWTSecret:           getEnv("JWT_SECRET", "calls-secret-key"),
		ExpirySweepInterval: getEnvDuration("EXPIRY_SWEEP_INTERVAL", 5*time.Minute),
	}

	if cfg.JWTSecret == "calls-secret-key" && cfg.Env == "production" {
		log.Warn().Msg("using default JWT_SECRET in production")
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Warn().Str("key", key).Str("value", value).Msg("invalid duration, using default")
	return fallback
}
