package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed config.toml.sample
var configTemplate string

// Config holds every tunable the hub and its transports recognize.
type Config struct {
	ListenAddr     string   `toml:"listen_addr"`
	DatabasePath   string   `toml:"database_path"`
	TablePrefix    string   `toml:"table_prefix"`
	SessionTTL     Duration `toml:"session_ttl"`
	HandlerTimeout Duration `toml:"handler_timeout"`
	PollMaxWait    Duration `toml:"poll_max_wait"`
	TimeZone       string   `toml:"time_zone"`
	TrackInstances bool     `toml:"track_instances"`
}

type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Location resolves the configured time zone, defaulting to UTC.
func (c *Config) Location() *time.Location {
	if c.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func GetDefaultConfig() (*Config, error) {
	dbPath, err := GetDefaultDBPath()
	if err != nil {
		return nil, fmt.Errorf("getting default database path: %w", err)
	}
	return &Config{
		ListenAddr:     ":8326",
		DatabasePath:   dbPath,
		TablePrefix:    "",
		SessionTTL:     Duration{10 * time.Minute},
		HandlerTimeout: Duration{30 * time.Second},
		PollMaxWait:    Duration{25 * time.Second},
		TimeZone:       "UTC",
		TrackInstances: true,
	}, nil
}

func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return GetDefaultConfig()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	defaults, err := GetDefaultConfig()
	if err != nil {
		return nil, err
	}
	if config.ListenAddr == "" {
		config.ListenAddr = defaults.ListenAddr
	}
	if config.DatabasePath == "" {
		config.DatabasePath = defaults.DatabasePath
	}
	if config.SessionTTL.Duration == 0 {
		config.SessionTTL = defaults.SessionTTL
	}
	if config.HandlerTimeout.Duration == 0 {
		config.HandlerTimeout = defaults.HandlerTimeout
	}
	if config.PollMaxWait.Duration == 0 {
		config.PollMaxWait = defaults.PollMaxWait
	}
	if config.TimeZone == "" {
		config.TimeZone = defaults.TimeZone
	}

	return &config, nil
}

func (c *Config) SaveConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

func (c *Config) SaveTemplateConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	template, err := c.generateConfigTemplate()
	if err != nil {
		return fmt.Errorf("generating config template: %w", err)
	}
	return os.WriteFile(configPath, []byte(template), 0644)
}

func (c *Config) generateConfigTemplate() (string, error) {
	dbPath := c.DatabasePath
	if dbPath == "" {
		var err error
		dbPath, err = GetDefaultDBPath()
		if err != nil {
			return "", fmt.Errorf("getting default database path: %w", err)
		}
	}

	// Replace the placeholder database_path with the actual path
	template := strings.Replace(configTemplate, "/home/user/.local/share/wirehub/wirehub.db", dbPath, 1)
	return template, nil
}

// GetDefaultStorageDir returns the default storage directory for the database
func GetDefaultStorageDir() (string, error) {
	// Use XDG_DATA_HOME if set, otherwise use ~/.local/share
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	hubDir := filepath.Join(dataDir, "wirehub")

	if err := os.MkdirAll(hubDir, 0755); err != nil {
		return "", fmt.Errorf("creating storage directory %s: %w", hubDir, err)
	}

	return hubDir, nil
}

// GetDefaultDBPath returns the default database path in the user's data directory
func GetDefaultDBPath() (string, error) {
	storageDir, err := GetDefaultStorageDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(storageDir, "wirehub.db"), nil
}

// GetConfigDir returns the configuration directory for wirehub
func GetConfigDir() (string, error) {
	// Use XDG_CONFIG_HOME if set, otherwise use ~/.config
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	hubConfigDir := filepath.Join(configDir, "wirehub")

	if err := os.MkdirAll(hubConfigDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory %s: %w", hubConfigDir, err)
	}

	return hubConfigDir, nil
}

// GetDefaultConfigPath returns the default configuration file path
func GetDefaultConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}
