// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir         string // Base directory for all databases, always absolute
	Port            int
	LogLevel        string
	LogPretty       bool
	Timezone        string        // Exchange timezone for the scheduler
	FetchTimeout    time.Duration // Default per-attempt timeout for provider calls
	SchedulerOn     bool          // Start the refresh scheduler
	RunJobsOnStart  bool          // Fire refresh jobs once right after startup
	Backup          *BackupConfig
}

// BackupConfig holds object-storage backup configuration.
// Backups stay disabled until an endpoint and bucket are configured.
type BackupConfig struct {
	Enabled   bool
	Endpoint  string // S3-compatible endpoint URL (R2, MinIO, AWS)
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Keep      int // Number of snapshots retained remotely
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("MARKETD_DATA_DIR", "./data")

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:        absDataDir,
		Port:           getEnvAsInt("MARKETD_PORT", 8000),
		LogLevel:       getEnv("MARKETD_LOG_LEVEL", "info"),
		LogPretty:      getEnvAsBool("MARKETD_LOG_PRETTY", true),
		Timezone:       getEnv("MARKETD_TIMEZONE", "Asia/Shanghai"),
		FetchTimeout:   getEnvAsDuration("MARKETD_HTTP_TIMEOUT", 10*time.Second),
		SchedulerOn:    getEnvAsBool("MARKETD_SCHEDULER_ENABLED", true),
		RunJobsOnStart: getEnvAsBool("MARKETD_RUN_JOBS_ON_START", false),
		Backup:         loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive, got %s", c.FetchTimeout)
	}
	if c.Backup.Enabled {
		if c.Backup.Bucket == "" {
			return fmt.Errorf("backups enabled but MARKETD_S3_BUCKET is empty")
		}
		if c.Backup.AccessKey == "" || c.Backup.SecretKey == "" {
			return fmt.Errorf("backups enabled but S3 credentials are missing")
		}
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// loadBackupConfig loads object-storage backup settings.
func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Enabled:   getEnvAsBool("MARKETD_BACKUP_ENABLED", false),
		Endpoint:  getEnv("MARKETD_S3_ENDPOINT", ""),
		Bucket:    getEnv("MARKETD_S3_BUCKET", ""),
		AccessKey: getEnv("MARKETD_S3_ACCESS_KEY", ""),
		SecretKey: getEnv("MARKETD_S3_SECRET_KEY", ""),
		Region:    getEnv("MARKETD_S3_REGION", "auto"),
		Keep:      getEnvAsInt("MARKETD_BACKUP_KEEP", 8),
	}
}
