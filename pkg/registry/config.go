package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the registry's runtime configuration.
type Config struct {
	Host             string
	TCPPort          int
	UDPPort          int
	MaxUsers         int
	HeartbeatTimeout time.Duration
	MetricsPort      int // 0 disables the metrics listener
}

// DefaultConfig returns default registry configuration.
func DefaultConfig() Config {
	return Config{
		Host:             "",
		TCPPort:          15600,
		UDPPort:          15500,
		MaxUsers:         100,
		HeartbeatTimeout: 3 * time.Second,
		MetricsPort:      0,
	}
}

// TOMLConfig represents the structure of the registry config file.
type TOMLConfig struct {
	Registry  RegistrySection  `toml:"registry"`
	Heartbeat HeartbeatSection `toml:"heartbeat"`
}

type RegistrySection struct {
	Host         string `toml:"host"`
	TCPPort      int    `toml:"tcp_port"`
	UDPPort      int    `toml:"udp_port"`
	MaxUsers     int    `toml:"max_users"`
	DatabasePath string `toml:"database_path"`
	MetricsPort  int    `toml:"metrics_port"`
}

type HeartbeatSection struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// DefaultTOMLConfig returns the default TOML configuration.
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Registry: RegistrySection{
			Host:         "",
			TCPPort:      15600,
			UDPPort:      15500,
			MaxUsers:     100,
			DatabasePath: "~/.peerchat/registry.db",
			MetricsPort:  0,
		},
		Heartbeat: HeartbeatSection{
			TimeoutSeconds: 3,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creating a default file
// if none exists.
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// Could not persist defaults (permissions, read-only fs);
			// still usable in memory.
			return config, nil
		}
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

func writeDefaultConfig(path string, config TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# Peerchat Registry Configuration
# This file was auto-generated with default values
# Edit as needed and restart the registry for changes to take effect

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ToConfig converts the TOML file contents to a runtime Config, filling
// gaps with defaults.
func (c *TOMLConfig) ToConfig() Config {
	cfg := DefaultConfig()

	if c.Registry.Host != "" {
		cfg.Host = c.Registry.Host
	}
	if c.Registry.TCPPort != 0 {
		cfg.TCPPort = c.Registry.TCPPort
	}
	if c.Registry.UDPPort != 0 {
		cfg.UDPPort = c.Registry.UDPPort
	}
	if c.Registry.MaxUsers != 0 {
		cfg.MaxUsers = c.Registry.MaxUsers
	}
	if c.Registry.MetricsPort != 0 {
		cfg.MetricsPort = c.Registry.MetricsPort
	}
	if c.Heartbeat.TimeoutSeconds != 0 {
		cfg.HeartbeatTimeout = time.Duration(c.Heartbeat.TimeoutSeconds) * time.Second
	}

	return cfg
}

// GetDatabasePath returns the database path with ~ expanded.
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	return expandHome(c.Registry.DatabasePath)
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}
	return path, nil
}
