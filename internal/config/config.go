package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/gattlink/internal/ble"
)

// minMTU is the ATT default that every peer supports.
const minMTU = 23

// Config holds all application configuration.
type Config struct {
	Transport string        `yaml:"transport"` // "ble" or "socket"
	Device    DeviceConfig  `yaml:"device"`
	Profile   ProfileConfig `yaml:"profile"`
	Session   SessionConfig `yaml:"session"`
	Scan      ScanConfig    `yaml:"scan"`
	Backend   BackendConfig `yaml:"backend"`
	Socket    SocketConfig  `yaml:"socket"`
	LogLevel  string        `yaml:"log_level"`
}

// DeviceConfig identifies the peer to connect to.
type DeviceConfig struct {
	// Address is a BLE address, a host:port or a ws:// URL depending on
	// the transport.
	Address string `yaml:"address"`
}

// ProfileConfig holds the GATT UUIDs of the message service.
type ProfileConfig struct {
	Service      string `yaml:"service"`
	Read         string `yaml:"read"`
	Write        string `yaml:"write"`
	PreferredMTU int    `yaml:"preferred_mtu"`
}

// SessionConfig holds BLE session settings.
type SessionConfig struct {
	RequestMTU bool `yaml:"request_mtu"`
}

// ScanConfig holds device discovery settings.
type ScanConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// BackendConfig selects the BLE stack.
type BackendConfig struct {
	Name     string `yaml:"name"`      // "tinygo" or "goble"
	Adapter  string `yaml:"adapter"`   // tinygo adapter id, empty for the default
	HCIIndex int    `yaml:"hci_index"` // goble HCI device index
}

// SocketConfig holds socket transport settings.
type SocketConfig struct {
	Network     string        `yaml:"network"` // "tcp" or "unix"; ws:// addresses ignore it
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gattlink")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	p := ble.ZumCoreProfile
	return &Config{
		Transport: "ble",
		Profile: ProfileConfig{
			Service:      p.Service.String(),
			Read:         p.ReadCharacteristic.String(),
			Write:        p.WriteCharacteristic.String(),
			PreferredMTU: p.PreferredMTU,
		},
		Scan: ScanConfig{
			Timeout: ble.DefaultScanTimeout,
		},
		Backend: BackendConfig{
			Name: "tinygo",
		},
		Socket: SocketConfig{
			Network:     "tcp",
			DialTimeout: 10 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in a unix socket path is expanded to the user's
// home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.Socket.Network == "unix" {
		cfg.Device.Address = expandTilde(cfg.Device.Address)
	}

	return cfg, nil
}

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the path written, or "" when a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	content := append([]byte("# gattlink configuration\n"), data...)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Transport {
	case "ble", "socket":
	default:
		return fmt.Errorf("transport must be \"ble\" or \"socket\", got %q", c.Transport)
	}

	for _, f := range []struct{ name, value string }{
		{"profile.service", c.Profile.Service},
		{"profile.read", c.Profile.Read},
		{"profile.write", c.Profile.Write},
	} {
		if _, err := uuid.Parse(f.value); err != nil {
			return fmt.Errorf("%s must be a UUID, got %q", f.name, f.value)
		}
	}

	if c.Profile.PreferredMTU < minMTU {
		return fmt.Errorf("profile.preferred_mtu must be >= %d, got %d", minMTU, c.Profile.PreferredMTU)
	}

	if c.Scan.Timeout <= 0 {
		return fmt.Errorf("scan.timeout must be > 0")
	}

	switch c.Backend.Name {
	case "tinygo", "goble":
	default:
		return fmt.Errorf("backend.name must be \"tinygo\" or \"goble\", got %q", c.Backend.Name)
	}

	if c.Backend.HCIIndex < 0 {
		return fmt.Errorf("backend.hci_index must be >= 0")
	}

	switch c.Socket.Network {
	case "tcp", "unix":
	default:
		return fmt.Errorf("socket.network must be \"tcp\" or \"unix\", got %q", c.Socket.Network)
	}

	if c.Socket.DialTimeout <= 0 {
		return fmt.Errorf("socket.dial_timeout must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// BLEProfile builds the ble.Profile described by the profile section.
func (c *Config) BLEProfile() (ble.Profile, error) {
	return ble.NewProfile(c.Profile.Service, c.Profile.Read, c.Profile.Write, c.Profile.PreferredMTU)
}

// SessionOptions builds ble.SessionOptions from the session section.
func (c *Config) SessionOptions() ble.SessionOptions {
	opts := ble.DefaultSessionOptions()
	opts.RequestMTU = c.Session.RequestMTU
	return opts
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
