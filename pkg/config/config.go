package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the bulkline configuration
type Config struct {
	BulkSize int     `yaml:"bulk_size"`
	Port     int     `yaml:"port"`
	Bind     string  `yaml:"bind"`
	APIKey   string  `yaml:"api_key"`
	Engine   Engine  `yaml:"engine"`
	Sinks    Sinks   `yaml:"sinks"`
	Logging  Logging `yaml:"logging"`
}

// Engine configures the execution engine
type Engine struct {
	QueueSize   int `yaml:"queue_size"`
	FileWorkers int `yaml:"file_workers"`
}

// Sinks selects where emitted batches go. Empty paths disable a sink.
type Sinks struct {
	Console      bool          `yaml:"console"`
	FilesDir     string        `yaml:"files_dir"`
	JournalPath  string        `yaml:"journal_path"`
	JournalFsync time.Duration `yaml:"journal_fsync"`
	ArchiveDir   string        `yaml:"archive_dir"`
}

// Logging contains logging configuration
type Logging struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		BulkSize: 3,
		Port:     8080,
		Bind:     "127.0.0.1",
		Engine: Engine{
			QueueSize:   1024,
			FileWorkers: 2,
		},
		Sinks: Sinks{
			Console: true,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.BulkSize < 1 {
		errs = append(errs, fmt.Errorf("bulk_size must be at least 1, got %d", c.BulkSize))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	if c.Engine.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("engine.queue_size must not be negative"))
	}
	if c.Engine.FileWorkers < 0 {
		errs = append(errs, fmt.Errorf("engine.file_workers must not be negative"))
	}
	if c.Sinks.JournalFsync < 0 {
		errs = append(errs, fmt.Errorf("sinks.journal_fsync must not be negative"))
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// LoadConfig loads configuration from the specified path. Fields missing from
// the file keep their defaults.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	if !filepath.IsAbs(configPath) {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		configPath = absPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return config, nil
}

// SaveConfig saves the configuration to the specified path with secure permissions
func SaveConfig(config *Config, configPath string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file holds the API key
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateSecureKey generates a cryptographically secure random key
func GenerateSecureKey(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure key: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// BootstrapConfig creates and saves a default configuration with a generated
// API key. dataDir, when set, enables the file, journal and archive sinks
// below it.
func BootstrapConfig(configPath string, dataDir string) (*Config, error) {
	config := DefaultConfig()
	if dataDir != "" {
		config.Sinks.FilesDir = filepath.Join(dataDir, "bulks")
		config.Sinks.JournalPath = filepath.Join(dataDir, "journal.log")
		config.Sinks.ArchiveDir = filepath.Join(dataDir, "archive")
	}

	apiKey, err := GenerateSecureKey(32) // 256 bits
	if err != nil {
		return nil, fmt.Errorf("failed to generate API key: %w", err)
	}
	config.APIKey = apiKey

	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save bootstrap config: %w", err)
	}

	return config, nil
}

// GetDefaultConfigPath returns the default configuration path for the current platform
func GetDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./bulkline.yaml"
	}

	// For Linux/macOS, use ~/.config/bulkline/config.yaml
	return filepath.Join(homeDir, ".config", "bulkline", "config.yaml")
}

// ConfigExists checks if a configuration file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return !os.IsNotExist(err)
}
