package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process-wide settings for the reachability tools
type Config struct {
	// Upstream API
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration

	// Batch defaults
	Radius           int
	MaxTimeThreshold int
	OutputDir        string
	Prefix           string
	Pause            time.Duration

	// Stub server
	StubPort     string
	StubCellSize float64
}

// Load reads configuration from environment variables with sensible
// defaults. Optional .env and .env.local files in the working directory are
// loaded first; .env.local overrides .env but never the real environment.
func Load() *Config {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	return &Config{
		BaseURL:        getEnv("REACHABILITY_URL", "http://localhost:8080"),
		APIKey:         os.Getenv("REACHABILITY_API_KEY"),
		RequestTimeout: getEnvDuration("REACHABILITY_REQUEST_TIMEOUT", 2*time.Minute),

		Radius:           getEnvInt("REACHABILITY_RADIUS", 20000),
		MaxTimeThreshold: getEnvInt("REACHABILITY_MAX_TIME", 30),
		OutputDir:        getEnv("REACHABILITY_OUTPUT_DIR", filepath.Join(os.TempDir(), "reachability")),
		Prefix:           getEnv("REACHABILITY_PREFIX", "reachability"),
		Pause:            getEnvDuration("REACHABILITY_PAUSE", 5*time.Second),

		StubPort:     getEnv("STUB_PORT", "8080"),
		StubCellSize: getEnvFloat("STUB_CELL_SIZE", 250),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
