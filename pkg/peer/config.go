package peer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds a peer node's runtime configuration.
type Config struct {
	RegistryHost    string
	RegistryTCPPort int
	RegistryUDPPort int
	HelloInterval   time.Duration
	PortBase        int
	PortPoolSize    int
}

// DefaultConfig returns default peer configuration. The hello interval must
// stay well under the registry's heartbeat timeout.
func DefaultConfig() Config {
	return Config{
		RegistryHost:    "localhost",
		RegistryTCPPort: 15600,
		RegistryUDPPort: 15500,
		HelloInterval:   1 * time.Second,
		PortBase:        4000,
		PortPoolSize:    100,
	}
}

// RegistryTCPAddr returns the registry's TCP dial address.
func (c Config) RegistryTCPAddr() string {
	return fmt.Sprintf("%s:%d", c.RegistryHost, c.RegistryTCPPort)
}

// RegistryUDPAddr returns the registry's heartbeat address.
func (c Config) RegistryUDPAddr() string {
	return fmt.Sprintf("%s:%d", c.RegistryHost, c.RegistryUDPPort)
}

// TOMLConfig represents the structure of the peer config file.
type TOMLConfig struct {
	Registry RegistrySection `toml:"registry"`
	Peer     PeerSection     `toml:"peer"`
}

type RegistrySection struct {
	Host    string `toml:"host"`
	TCPPort int    `toml:"tcp_port"`
	UDPPort int    `toml:"udp_port"`
}

type PeerSection struct {
	HelloIntervalSeconds int `toml:"hello_interval_seconds"`
	PortBase             int `toml:"port_base"`
	PortPoolSize         int `toml:"port_pool_size"`
}

// DefaultTOMLConfig returns the default TOML configuration.
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Registry: RegistrySection{
			Host:    "localhost",
			TCPPort: 15600,
			UDPPort: 15500,
		},
		Peer: PeerSection{
			HelloIntervalSeconds: 1,
			PortBase:             4000,
			PortPoolSize:         100,
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

	header := `# Peerchat Peer Configuration
# This file was auto-generated with default values
# Edit as needed and restart the peer for changes to take effect

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
		cfg.RegistryHost = c.Registry.Host
	}
	if c.Registry.TCPPort != 0 {
		cfg.RegistryTCPPort = c.Registry.TCPPort
	}
	if c.Registry.UDPPort != 0 {
		cfg.RegistryUDPPort = c.Registry.UDPPort
	}
	if c.Peer.HelloIntervalSeconds != 0 {
		cfg.HelloInterval = time.Duration(c.Peer.HelloIntervalSeconds) * time.Second
	}
	if c.Peer.PortBase != 0 {
		cfg.PortBase = c.Peer.PortBase
	}
	if c.Peer.PortPoolSize != 0 {
		cfg.PortPoolSize = c.Peer.PortPoolSize
	}

	return cfg
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
