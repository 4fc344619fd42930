package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server  ServerSection  `toml:"server"`
	Auth    AuthSection    `toml:"auth"`
	Cleanup CleanupSection `toml:"cleanup"`
}

type ServerSection struct {
	HTTPPort int `toml:"http_port"`
}

type AuthSection struct {
	MinTokenLength int      `toml:"min_token_length"`
	AdminTokens    []string `toml:"admin_tokens"`
	StrictRejects  bool     `toml:"strict_rejects"`
}

type CleanupSection struct {
	PlayerTimeoutMinutes    int `toml:"player_timeout_minutes"`
	SweepIntervalMinutes    int `toml:"sweep_interval_minutes"`
	StatsLogIntervalMinutes int `toml:"stats_log_interval_minutes"`
}

// Config holds the resolved server configuration
type Config struct {
	HTTPPort         int
	MinTokenLength   int
	AdminTokens      []string
	StrictRejects    bool
	PlayerTimeout    time.Duration
	SweepInterval    time.Duration
	StatsLogInterval time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		HTTPPort:         8080,
		MinTokenLength:   8,
		AdminTokens:      nil,
		StrictRejects:    false,
		PlayerTimeout:    5 * time.Minute,
		SweepInterval:    5 * time.Minute,
		StatsLogInterval: 10 * time.Minute,
	}
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			HTTPPort: 8080,
		},
		Auth: AuthSection{
			MinTokenLength: 8,
			AdminTokens:    []string{},
			StrictRejects:  false,
		},
		Cleanup: CleanupSection{
			PlayerTimeoutMinutes:    5,
			SweepIntervalMinutes:    5,
			StatsLogIntervalMinutes: 10,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found
func LoadConfig(path string) (TOMLConfig, error) {
	// Expand ~ in path
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// File doesn't exist, create default config
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// If we can't write, just return defaults without error
			// (might be a permissions issue, but we can still run)
			return config, nil
		}
		return config, nil
	}

	// Load from file
	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create file
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	// Write header comment
	header := `# Friend Hunter Relay Server Configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	// Encode config as TOML
	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToConfig converts TOMLConfig to Config, falling back to defaults for
// unset (zero) values.
func (c *TOMLConfig) ToConfig() Config {
	cfg := DefaultConfig()

	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}

	if c.Auth.MinTokenLength != 0 {
		cfg.MinTokenLength = c.Auth.MinTokenLength
	}

	if len(c.Auth.AdminTokens) > 0 {
		cfg.AdminTokens = c.Auth.AdminTokens
	}

	cfg.StrictRejects = c.Auth.StrictRejects

	if c.Cleanup.PlayerTimeoutMinutes != 0 {
		cfg.PlayerTimeout = time.Duration(c.Cleanup.PlayerTimeoutMinutes) * time.Minute
	}

	if c.Cleanup.SweepIntervalMinutes != 0 {
		cfg.SweepInterval = time.Duration(c.Cleanup.SweepIntervalMinutes) * time.Minute
	}

	if c.Cleanup.StatsLogIntervalMinutes != 0 {
		cfg.StatsLogInterval = time.Duration(c.Cleanup.StatsLogIntervalMinutes) * time.Minute
	}

	return cfg
}
