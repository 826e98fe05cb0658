package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/gattlink/internal/ble"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Transport != "ble" {
		t.Errorf("Transport = %q, want %q", cfg.Transport, "ble")
	}
	if cfg.Profile.Service != ble.ZumCoreProfile.Service.String() {
		t.Errorf("Profile.Service = %q, want the ZUM Core service", cfg.Profile.Service)
	}
	if cfg.Profile.PreferredMTU != ble.DefaultPreferredMTU {
		t.Errorf("Profile.PreferredMTU = %d, want %d", cfg.Profile.PreferredMTU, ble.DefaultPreferredMTU)
	}
	if cfg.Session.RequestMTU {
		t.Error("Session.RequestMTU should default to false")
	}
	if cfg.Scan.Timeout != 8*time.Second {
		t.Errorf("Scan.Timeout = %v, want 8s", cfg.Scan.Timeout)
	}
	if cfg.Backend.Name != "tinygo" {
		t.Errorf("Backend.Name = %q, want %q", cfg.Backend.Name, "tinygo")
	}
	if cfg.Socket.Network != "tcp" {
		t.Errorf("Socket.Network = %q, want %q", cfg.Socket.Network, "tcp")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
transport: ble
device:
  address: "C8:2B:96:A1:02:33"
profile:
  service: 0000ffe0-0000-1000-8000-00805f9b34fb
  read: 0000ffe1-0000-1000-8000-00805f9b34fb
  write: 0000ffe2-0000-1000-8000-00805f9b34fb
  preferred_mtu: 247
session:
  request_mtu: true
scan:
  timeout: 3s
backend:
  name: goble
  hci_index: 1
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Address != "C8:2B:96:A1:02:33" {
		t.Errorf("Device.Address = %q", cfg.Device.Address)
	}
	if cfg.Profile.PreferredMTU != 247 {
		t.Errorf("Profile.PreferredMTU = %d, want 247", cfg.Profile.PreferredMTU)
	}
	if !cfg.Session.RequestMTU {
		t.Error("Session.RequestMTU = false, want true")
	}
	if cfg.Scan.Timeout != 3*time.Second {
		t.Errorf("Scan.Timeout = %v, want 3s", cfg.Scan.Timeout)
	}
	if cfg.Backend.Name != "goble" || cfg.Backend.HCIIndex != 1 {
		t.Errorf("Backend = %+v, want goble on hci1", cfg.Backend)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	// Unset sections keep their defaults.
	if cfg.Socket.DialTimeout != 10*time.Second {
		t.Errorf("Socket.DialTimeout = %v, want default", cfg.Socket.DialTimeout)
	}

	p, err := cfg.BLEProfile()
	if err != nil {
		t.Fatalf("BLEProfile() error = %v", err)
	}
	if p.ReadCharacteristic.String() != "0000ffe1-0000-1000-8000-00805f9b34fb" {
		t.Errorf("ReadCharacteristic = %v", p.ReadCharacteristic)
	}
	if !cfg.SessionOptions().RequestMTU {
		t.Error("SessionOptions().RequestMTU = false, want true")
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
transport: socket
device:
  address: ~/robot.sock
socket:
  network: unix
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := filepath.Join(home, "robot.sock")
	if cfg.Device.Address != expected {
		t.Errorf("Device.Address = %q, want %q", cfg.Device.Address, expected)
	}
}

func TestLoadKeepsTildeForTCP(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("device:\n  address: ~host:1\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Device.Address != "~host:1" {
		t.Errorf("Device.Address = %q, want it untouched", cfg.Device.Address)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("scan: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should return error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "socket transport",
			modify:  func(c *Config) { c.Transport = "socket" },
			wantErr: false,
		},
		{
			name:    "invalid transport",
			modify:  func(c *Config) { c.Transport = "usb" },
			wantErr: true,
		},
		{
			name:    "invalid service uuid",
			modify:  func(c *Config) { c.Profile.Service = "not-a-uuid" },
			wantErr: true,
		},
		{
			name:    "empty write uuid",
			modify:  func(c *Config) { c.Profile.Write = "" },
			wantErr: true,
		},
		{
			name:    "mtu below ATT default",
			modify:  func(c *Config) { c.Profile.PreferredMTU = 22 },
			wantErr: true,
		},
		{
			name:    "zero scan timeout",
			modify:  func(c *Config) { c.Scan.Timeout = 0 },
			wantErr: true,
		},
		{
			name:    "invalid backend",
			modify:  func(c *Config) { c.Backend.Name = "bluez" },
			wantErr: true,
		},
		{
			name:    "negative hci index",
			modify:  func(c *Config) { c.Backend.HCIIndex = -1 },
			wantErr: true,
		},
		{
			name:    "invalid socket network",
			modify:  func(c *Config) { c.Socket.Network = "udp" },
			wantErr: true,
		},
		{
			name:    "zero dial timeout",
			modify:  func(c *Config) { c.Socket.DialTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "gattlink", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# gattlink") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Scan.Timeout != ble.DefaultScanTimeout {
		t.Errorf("written config Scan.Timeout = %v, want %v", cfg.Scan.Timeout, ble.DefaultScanTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "gattlink")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("transport: socket\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}
