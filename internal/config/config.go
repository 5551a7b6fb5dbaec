package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/cesargomez89/inkqueue/internal/constants"
	"github.com/cesargomez89/inkqueue/internal/storage"
)

// Config holds all application configuration
type Config struct {
	Port                string
	DBPath              string
	LibraryDir          string
	StagingDir          string
	ProviderURL         string
	LogLevel            string
	LogFormat           string
	RecoveryPolicy      string
	ArchiveTemplate     string
	DownloadConcurrency int
	PollInterval        time.Duration
	StallTimeout        time.Duration
	PageDelay           time.Duration

	// values that could not be parsed; reported by Validate
	parseErrors []string
}

// LoadEnvFile loads KEY=value pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	cfg := &Config{
		Port:            getEnv("PORT", constants.DefaultPort),
		DBPath:          getEnv("DB_PATH", constants.DefaultDBPath),
		LibraryDir:      getEnv("LIBRARY_DIR", constants.DefaultLibraryDir),
		ProviderURL:     getEnv("PROVIDER_URL", constants.DefaultProviderURL),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
		RecoveryPolicy:  getEnv("RECOVERY_POLICY", constants.DefaultRecoveryPolicy),
		ArchiveTemplate: getEnv("ARCHIVE_TEMPLATE", constants.DefaultArchiveTemplate),
	}
	cfg.StagingDir = getEnv("STAGING_DIR", filepath.Join(cfg.LibraryDir, ".staging"))

	cfg.DownloadConcurrency = cfg.getInt("DOWNLOAD_CONCURRENCY", constants.DefaultDownloadConcurrency)
	cfg.PollInterval = cfg.getDuration("POLL_INTERVAL", constants.DefaultPollInterval)
	cfg.StallTimeout = cfg.getDuration("STALL_TIMEOUT", constants.DefaultStallTimeout)
	cfg.PageDelay = cfg.getDuration("PAGE_DELAY", constants.DefaultPageDelay)

	return cfg
}

// Validate validates the configuration and returns detailed errors
func (c *Config) Validate() error {
	errs := append([]string(nil), c.parseErrors...)

	// Validate Port
	if c.Port == "" {
		errs = append(errs, "PORT cannot be empty")
	} else {
		port, err := strconv.Atoi(c.Port)
		if err != nil {
			errs = append(errs, fmt.Sprintf("PORT must be a valid number, got: %s", c.Port))
		} else if port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("PORT must be between 1 and 65535, got: %d", port))
		}
	}

	if c.DBPath == "" {
		errs = append(errs, "DB_PATH cannot be empty")
	}

	if c.LibraryDir == "" {
		errs = append(errs, "LIBRARY_DIR cannot be empty")
	}

	if c.StagingDir == "" {
		errs = append(errs, "STAGING_DIR cannot be empty")
	}

	// Validate ProviderURL
	if c.ProviderURL == "" {
		errs = append(errs, "PROVIDER_URL cannot be empty")
	} else if u, err := url.Parse(c.ProviderURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("PROVIDER_URL is not a valid URL: %s", c.ProviderURL))
	}

	if c.DownloadConcurrency < 1 {
		errs = append(errs, fmt.Sprintf("DOWNLOAD_CONCURRENCY must be at least 1, got: %d", c.DownloadConcurrency))
	}

	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Sprintf("POLL_INTERVAL must be positive, got: %s", c.PollInterval))
	}

	// zero disables the stall watchdog
	if c.StallTimeout < 0 {
		errs = append(errs, fmt.Sprintf("STALL_TIMEOUT cannot be negative, got: %s", c.StallTimeout))
	}

	if c.PageDelay < 0 {
		errs = append(errs, fmt.Sprintf("PAGE_DELAY cannot be negative, got: %s", c.PageDelay))
	}

	if c.RecoveryPolicy != constants.RecoveryFail && c.RecoveryPolicy != constants.RecoveryRequeue {
		errs = append(errs, fmt.Sprintf("RECOVERY_POLICY must be one of: fail, requeue, got: %s", c.RecoveryPolicy))
	}

	if c.ArchiveTemplate == "" {
		errs = append(errs, "ARCHIVE_TEMPLATE cannot be empty")
	} else if _, err := storage.BuildPath(c.ArchiveTemplate, &storage.ArchivePathData{Series: "s", Chapter: "c"}); err != nil {
		errs = append(errs, fmt.Sprintf("ARCHIVE_TEMPLATE is invalid: %v", err))
	}

	// Validate LogLevel
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL must be one of: debug, info, warn, error, got: %s", c.LogLevel))
	}

	// Validate LogFormat
	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.LogFormat] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT must be one of: text, json, got: %s", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func (c *Config) getInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.parseErrors = append(c.parseErrors, fmt.Sprintf("%s must be a valid number, got: %s", key, raw))
		return fallback
	}
	return n
}

func (c *Config) getDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		c.parseErrors = append(c.parseErrors, fmt.Sprintf("%s must be a duration like 5s or 1m, got: %s", key, raw))
		return fallback
	}
	return d
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
