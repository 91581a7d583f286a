package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/waregrid/picksync/internal/utils"
)

// Config holds all agent configuration
type Config struct {
	NodeEnv    string
	Port       string
	DeviceID   string
	OperatorID string
	JWTSecret  string
	Database   DatabaseConfig
	Remote     RemoteConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Verbose  bool
}

// RemoteConfig holds remote fulfillment backend configuration
type RemoteConfig struct {
	BaseURL     string
	FallbackURL string
	TimeoutSec  int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	deviceID, err := utils.LoadOrGenerateDeviceID()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device identity: %w", err)
	}

	remoteURL := os.Getenv("REMOTE_BASE_URL")
	if remoteURL == "" {
		return nil, fmt.Errorf("REMOTE_BASE_URL is required")
	}

	return &Config{
		NodeEnv:    getEnv("NODE_ENV", "development"),
		Port:       getEnv("PORT", "3001"),
		DeviceID:   deviceID,
		OperatorID: os.Getenv("OPERATOR_ID"),
		JWTSecret:  jwtSecret,
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "picksync"),
			Verbose:  getEnv("DB_VERBOSE", "false") == "true",
		},
		Remote: RemoteConfig{
			BaseURL:     remoteURL,
			FallbackURL: os.Getenv("REMOTE_FALLBACK_URL"),
			TimeoutSec:  getIntEnv("REMOTE_TIMEOUT", 30),
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
