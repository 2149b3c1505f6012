// Package settings manages persistent user settings for the netmirror CLI.
package settings

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings holds persistent user preferences
type Settings struct {
	// LogLevel overrides the default log level (info)
	LogLevel string `yaml:"log_level,omitempty"`

	// JSONLogs enables JSON-formatted log output
	JSONLogs bool `yaml:"json_logs,omitempty"`

	// DefaultDevice is the wireless interface used when --device is not
	// specified
	DefaultDevice string `yaml:"default_device,omitempty"`

	// SettleMillis is how long commands that open the mirror wait for it
	// to settle before the first read (default: 500)
	SettleMillis int `yaml:"settle_millis,omitempty"`

	// HashPsk makes set-psk store the derived 64-hex key instead of the
	// passphrase
	HashPsk bool `yaml:"hash_psk,omitempty"`
}

// DefaultSettleMillis is the default mirror settle delay in milliseconds.
const DefaultSettleMillis = 500

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/netmirror_settings.yaml"
	}
	return filepath.Join(home, ".netmirror", "settings.yaml")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty settings if file doesn't exist
			return s, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, err
	}

	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// SettleMillisOrDefault returns the configured settle delay or the default.
func (s *Settings) SettleMillisOrDefault() int {
	if s.SettleMillis > 0 {
		return s.SettleMillis
	}
	return DefaultSettleMillis
}
