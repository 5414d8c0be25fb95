package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration loaded from the environment.
type Config struct {
	Environment string
	Port        string
	LogLevel    slog.Level

	DatabaseURL string
	RedisURL    string

	Casdoor CasdoorConfig
	Engine  EngineConfig
	Kafka   KafkaConfig
}

// CasdoorConfig holds identity provider settings.
type CasdoorConfig struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	Cert         string
	Organization string
	Application  string
}

// EngineConfig holds the adaptive engine defaults used when no per
// subject/grade assessment configuration row exists.
type EngineConfig struct {
	DifficultyMin        int
	DifficultyMax        int
	MaxQuestions         int
	DifficultyTolerance  int
	ConvergenceThreshold float64
	ConvergenceWindow    int
	CompetencyBlend      float64
	AbandonAfter         time.Duration
	SweepInterval        time.Duration
}

// KafkaConfig holds event publishing settings. Publishing is disabled
// when Brokers is empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// LoadConfig reads configuration from the environment, loading a local
// .env file first when present.
func LoadConfig() (*Config, error) {
	// .env is optional; real deployments inject env vars directly
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Port:        getEnv("PORT", "8080"),
		LogLevel:    parseLogLevel(getEnv("LOG_LEVEL", "info")),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		Casdoor: CasdoorConfig{
			Endpoint:     os.Getenv("CASDOOR_ENDPOINT"),
			ClientID:     os.Getenv("CASDOOR_CLIENT_ID"),
			ClientSecret: os.Getenv("CASDOOR_CLIENT_SECRET"),
			Cert:         os.Getenv("CASDOOR_CERT"),
			Organization: os.Getenv("CASDOOR_ORGANIZATION"),
			Application:  os.Getenv("CASDOOR_APPLICATION"),
		},
		Engine: EngineConfig{
			DifficultyMin:        getEnvInt("ENGINE_DIFFICULTY_MIN", 1),
			DifficultyMax:        getEnvInt("ENGINE_DIFFICULTY_MAX", 10),
			MaxQuestions:         getEnvInt("ENGINE_MAX_QUESTIONS", 40),
			DifficultyTolerance:  getEnvInt("ENGINE_DIFFICULTY_TOLERANCE", 3),
			ConvergenceThreshold: getEnvFloat("ENGINE_CONVERGENCE_THRESHOLD", 0.05),
			ConvergenceWindow:    getEnvInt("ENGINE_CONVERGENCE_WINDOW", 4),
			CompetencyBlend:      getEnvFloat("ENGINE_COMPETENCY_BLEND", 0.4),
			AbandonAfter:         getEnvDuration("ENGINE_ABANDON_AFTER", 2*time.Hour),
			SweepInterval:        getEnvDuration("ENGINE_SWEEP_INTERVAL", 10*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers: splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
			Topic:   getEnv("KAFKA_TOPIC", "assessment-events"),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Engine.DifficultyMin >= cfg.Engine.DifficultyMax {
		return nil, fmt.Errorf("invalid difficulty range [%d, %d]",
			cfg.Engine.DifficultyMin, cfg.Engine.DifficultyMax)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
