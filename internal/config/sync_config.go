package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// SyncConfig holds synchronization tuning
type SyncConfig struct {
	// ============ BASIC SETTINGS ============
	Enabled bool `json:"enabled"`

	// ============ SCHEDULING ============
	AutoSyncEnabled  bool `json:"auto_sync_enabled"`
	AutoSyncInterval int  `json:"auto_sync_interval"` // seconds
	SyncOnStartup    bool `json:"sync_on_startup"`

	// ============ RETRY ============
	MaxRetries      int `json:"max_retries"`       // attempts per push item per cycle
	RetryBaseDelay  int `json:"retry_base_delay"`  // seconds, doubles each attempt
	RetryMaxDelay   int `json:"retry_max_delay"`   // seconds, backoff cap
	ParallelWorkers int `json:"parallel_workers"`  // concurrent push items across tasks

	// ============ CONNECTIVITY ============
	HealthCheckInterval int `json:"health_check_interval"` // seconds

	// ============ BACKGROUND WINDOW ============
	BackgroundPullLimit int `json:"background_pull_limit"` // max remote tasks merged in a budgeted window
	BackgroundPushLimit int `json:"background_push_limit"` // max push items in a budgeted window
}

// LoadSyncConfig loads sync configuration from environment or file
func LoadSyncConfig() *SyncConfig {
	// Try to load from file first
	if configPath := os.Getenv("SYNC_CONFIG_PATH"); configPath != "" {
		if cfg, err := loadSyncConfigFromFile(configPath); err == nil {
			return cfg
		}
	}

	// Otherwise use defaults
	return getDefaultSyncConfig()
}

// loadSyncConfigFromFile loads sync config from JSON file
func loadSyncConfigFromFile(path string) (*SyncConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg SyncConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// getDefaultSyncConfig returns default sync configuration
func getDefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		Enabled: getBoolEnv("SYNC_ENABLED", true),

		AutoSyncEnabled:  getBoolEnv("SYNC_AUTO_ENABLED", true),
		AutoSyncInterval: getIntEnv("SYNC_AUTO_INTERVAL", 300),
		SyncOnStartup:    getBoolEnv("SYNC_ON_STARTUP", true),

		MaxRetries:      getIntEnv("SYNC_MAX_RETRIES", 3),
		RetryBaseDelay:  getIntEnv("SYNC_RETRY_BASE_DELAY", 2),
		RetryMaxDelay:   getIntEnv("SYNC_RETRY_MAX_DELAY", 30),
		ParallelWorkers: getIntEnv("SYNC_WORKERS", 4),

		HealthCheckInterval: getIntEnv("SYNC_HEALTH_INTERVAL", 30),

		BackgroundPullLimit: getIntEnv("SYNC_BG_PULL_LIMIT", 50),
		BackgroundPushLimit: getIntEnv("SYNC_BG_PUSH_LIMIT", 10),
	}
}

// Helper functions for environment variables

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
