package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultEndpoint is the base URL all API methods are appended to
	DefaultEndpoint = "https://api.vk.com/method/"

	// DefaultAPIVersion is the API version sent with every request
	DefaultAPIVersion = "5.131"

	// DefaultPageSize is the number of items requested per page
	DefaultPageSize = 50

	// MaxPageSize is the largest page the collection methods accept
	MaxPageSize = 200
)

// Config holds all configuration options for the harvester
type Config struct {
	// API access
	VK VKConfig `yaml:"vk" json:"vk"`

	// Request pacing
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// VKConfig holds API access configuration
type VKConfig struct {
	AccessToken string `yaml:"access_token" json:"access_token"`
	APIVersion  string `yaml:"api_version" json:"api_version"`
	Endpoint    string `yaml:"endpoint" json:"endpoint"`
	UserAgent   string `yaml:"user_agent" json:"user_agent"`
}

// RateLimitConfig holds request pacing configuration
type RateLimitConfig struct {
	// RequestsPerSecond caps API method calls. Zero disables pacing.
	RequestsPerSecond int `yaml:"requests_per_second" json:"requests_per_second"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
}

// DownloadConfig holds pagination and download configuration
type DownloadConfig struct {
	PageSize int `yaml:"page_size" json:"page_size"`

	// ConcurrentDownloads bounds in-flight downloads per page. Zero means unbounded.
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	DownloadTimeout     time.Duration `yaml:"download_timeout" json:"download_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`

	// ErrorFile receives error and critical records only
	ErrorFile  string `yaml:"error_file" json:"error_file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		VK: VKConfig{
			APIVersion: DefaultAPIVersion,
			Endpoint:   DefaultEndpoint,
			UserAgent:  "vkharvest/1.0",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 3,
		},
		Output: OutputConfig{
			BaseDirectory: "./data",
		},
		Download: DownloadConfig{
			PageSize:            DefaultPageSize,
			ConcurrentDownloads: 8,
			DownloadTimeout:     60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			ErrorFile:  "err.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   false,
		},
	}
}

// LoadFromEnv loads configuration from environment variables.
// TOKEN is honoured for compatibility with existing .env files; the
// prefixed variable wins when both are set.
func (c *Config) LoadFromEnv() error {
	if token := os.Getenv("TOKEN"); token != "" {
		c.VK.AccessToken = token
	}
	if token := os.Getenv("VKHARVEST_ACCESS_TOKEN"); token != "" {
		c.VK.AccessToken = token
	}
	if version := os.Getenv("VKHARVEST_API_VERSION"); version != "" {
		c.VK.APIVersion = version
	}
	if endpoint := os.Getenv("VKHARVEST_ENDPOINT"); endpoint != "" {
		c.VK.Endpoint = endpoint
	}
	if userAgent := os.Getenv("VKHARVEST_USER_AGENT"); userAgent != "" {
		c.VK.UserAgent = userAgent
	}

	var errs []error

	if rps := os.Getenv("VKHARVEST_REQUESTS_PER_SECOND"); rps != "" {
		val, err := strconv.Atoi(rps)
		if err != nil {
			errs = append(errs, fmt.Errorf("VKHARVEST_REQUESTS_PER_SECOND: %w", err))
		} else {
			c.RateLimit.RequestsPerSecond = val
		}
	}

	if outputDir := os.Getenv("VKHARVEST_OUTPUT_DIR"); outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}

	if pageSize := os.Getenv("VKHARVEST_PAGE_SIZE"); pageSize != "" {
		val, err := strconv.Atoi(pageSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("VKHARVEST_PAGE_SIZE: %w", err))
		} else {
			c.Download.PageSize = val
		}
	}

	if concurrent := os.Getenv("VKHARVEST_CONCURRENT_DOWNLOADS"); concurrent != "" {
		val, err := strconv.Atoi(concurrent)
		if err != nil {
			errs = append(errs, fmt.Errorf("VKHARVEST_CONCURRENT_DOWNLOADS: %w", err))
		} else {
			c.Download.ConcurrentDownloads = val
		}
	}

	if timeout := os.Getenv("VKHARVEST_DOWNLOAD_TIMEOUT"); timeout != "" {
		val, err := time.ParseDuration(timeout)
		if err != nil {
			errs = append(errs, fmt.Errorf("VKHARVEST_DOWNLOAD_TIMEOUT: %w", err))
		} else {
			c.Download.DownloadTimeout = val
		}
	}

	if logLevel := os.Getenv("VKHARVEST_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile := os.Getenv("VKHARVEST_LOG_FILE"); logFile != "" {
		c.Logging.File = logFile
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".vkharvest.yaml",
		".vkharvest.yml",
		filepath.Join(home, ".config", "vkharvest", "config.yaml"),
		filepath.Join(home, ".config", "vkharvest", "config.yml"),
		filepath.Join(home, ".vkharvest.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid. The access token is not
// checked here since it may also come from the credential store.
func (c *Config) Validate() error {
	var errs []error

	if c.VK.APIVersion == "" {
		errs = append(errs, errors.New("API version is required"))
	}
	if !strings.HasPrefix(c.VK.Endpoint, "http://") && !strings.HasPrefix(c.VK.Endpoint, "https://") {
		errs = append(errs, fmt.Errorf("endpoint must be an http(s) URL, got %q", c.VK.Endpoint))
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("requests per second cannot be negative"))
	}

	if c.Download.PageSize <= 0 || c.Download.PageSize > MaxPageSize {
		errs = append(errs, fmt.Errorf("page size must be between 1 and %d", MaxPageSize))
	}
	if c.Download.ConcurrentDownloads < 0 {
		errs = append(errs, errors.New("concurrent downloads cannot be negative"))
	}
	if c.Download.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}

	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "critical": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only flags the user actually set should be present in the map.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if token, ok := flags["token"].(string); ok && token != "" {
		c.VK.AccessToken = token
	}
	if outputDir, ok := flags["path"].(string); ok && outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if pageSize, ok := flags["count"].(int); ok && pageSize > 0 {
		c.Download.PageSize = pageSize
	}
	if concurrent, ok := flags["concurrent"].(int); ok && concurrent >= 0 {
		c.Download.ConcurrentDownloads = concurrent
	}
	if rps, ok := flags["rate-limit"].(int); ok && rps >= 0 {
		c.RateLimit.RequestsPerSecond = rps
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile, ok := flags["log-file"].(string); ok && logFile != "" {
		c.Logging.File = logFile
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".vkharvest.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
