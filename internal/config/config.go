package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go-attendance/internal/shared/connection"
)

type Config struct {
	Port               string
	DB                 connection.DBConfig
	DBMaxRetries       int
	RedisAddr          string
	KafkaBroker        string
	JWTSecret          string
	Timezone           *time.Location
	SweepInterval      time.Duration
	OutboxPollInterval time.Duration
	RBACModelPath      string
}

// Load reads the process environment. Callers load .env with godotenv first.
func Load() (Config, error) {
	cfg := Config{
		Port: getEnv("PORT", "3000"),
		DB: connection.DBConfig{
			Host:     os.Getenv("DB_HOST"),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     os.Getenv("DB_NAME"),
			Port:     getEnv("DB_PORT", "5432"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		KafkaBroker:   os.Getenv("KAFKA_BROKER"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		RBACModelPath: os.Getenv("RBAC_MODEL_PATH"),
	}

	if cfg.DB.Host == "" {
		return Config{}, fmt.Errorf("DB_HOST environment variable is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	retries, err := strconv.Atoi(getEnv("DB_MAX_RETRIES", "5"))
	if err != nil || retries < 1 {
		return Config{}, fmt.Errorf("DB_MAX_RETRIES must be a positive integer")
	}
	cfg.DBMaxRetries = retries

	loc, err := time.LoadLocation(getEnv("ATTENDANCE_TIMEZONE", "UTC"))
	if err != nil {
		return Config{}, fmt.Errorf("ATTENDANCE_TIMEZONE is invalid: %w", err)
	}
	cfg.Timezone = loc

	if cfg.SweepInterval, err = parseDuration("SWEEP_INTERVAL", "5m"); err != nil {
		return Config{}, err
	}
	if cfg.OutboxPollInterval, err = parseDuration("OUTBOX_POLL_INTERVAL", "3s"); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration", key)
	}
	return d, nil
}
