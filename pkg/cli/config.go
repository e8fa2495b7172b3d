package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the handset configuration stored at ~/.handset/config.yaml.
// Zero values fall back to the defaults of the packages they configure.
type Config struct {
	// Pin is the GPIO pin wired to the hook switch (e.g. "P1_18")
	Pin string `yaml:"pin,omitempty"`

	// Inverted treats a low pin level as off-hook
	Inverted bool `yaml:"inverted,omitempty"`

	// PollInterval is the hook poll interval in milliseconds
	PollInterval int `yaml:"poll_interval,omitempty"`

	// LanguageCode is the assistant's language (e.g. "en-US")
	LanguageCode string `yaml:"language_code,omitempty"`

	// Display requests screen output from the assistant
	Display bool `yaml:"display,omitempty"`

	// Endpoint is the assistant gRPC endpoint (host:port)
	Endpoint string `yaml:"endpoint,omitempty"`

	// Deadline is the per-turn deadline in seconds
	Deadline int `yaml:"deadline,omitempty"`

	// MaxRetries is the number of attempts per turn on transient failures
	MaxRetries int `yaml:"max_retries,omitempty"`

	// Volume is the initial playback volume in percent
	Volume int `yaml:"volume,omitempty"`

	// DeviceConfig is the device identity file, relative to the app dir
	DeviceConfig string `yaml:"device_config,omitempty"`

	// Credentials is the OAuth2 credentials file, relative to the app dir
	Credentials string `yaml:"credentials,omitempty"`

	// ProjectID is the cloud project used for device registration
	ProjectID string `yaml:"project_id,omitempty"`

	// ModelID is the device model used for device registration
	ModelID string `yaml:"model_id,omitempty"`

	// MetricsAddr is the listen address of the Prometheus endpoint, empty to
	// disable it
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	// configPath is the path to the config file
	configPath string
}

// Settable keys, grouped by value type.
var (
	stringKeys = map[string]func(*Config) *string{
		"pin":           func(c *Config) *string { return &c.Pin },
		"language_code": func(c *Config) *string { return &c.LanguageCode },
		"endpoint":      func(c *Config) *string { return &c.Endpoint },
		"device_config": func(c *Config) *string { return &c.DeviceConfig },
		"credentials":   func(c *Config) *string { return &c.Credentials },
		"project_id":    func(c *Config) *string { return &c.ProjectID },
		"model_id":      func(c *Config) *string { return &c.ModelID },
		"metrics_addr":  func(c *Config) *string { return &c.MetricsAddr },
	}
	intKeys = map[string]func(*Config) *int{
		"poll_interval": func(c *Config) *int { return &c.PollInterval },
		"deadline":      func(c *Config) *int { return &c.Deadline },
		"max_retries":   func(c *Config) *int { return &c.MaxRetries },
		"volume":        func(c *Config) *int { return &c.Volume },
	}
	boolKeys = map[string]func(*Config) *bool{
		"inverted": func(c *Config) *bool { return &c.Inverted },
		"display":  func(c *Config) *bool { return &c.Display },
	}
)

// LoadConfig loads the configuration from the default location.
func LoadConfig() (*Config, error) {
	return LoadConfigWithPath("")
}

// LoadConfigWithPath loads configuration from a custom path. A missing file
// yields an empty configuration; nothing is written until Save.
func LoadConfigWithPath(customPath string) (*Config, error) {
	configPath := customPath
	if configPath == "" {
		paths, err := NewPaths()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = paths.ConfigFile()
	}

	cfg := &Config{configPath: configPath}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", configPath, err)
	}
	cfg.configPath = configPath

	return cfg, nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Path returns the config file path
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the config directory path
func (c *Config) Dir() string {
	return filepath.Dir(c.configPath)
}

// Set assigns the value of a config key from its string form.
func (c *Config) Set(key, value string) error {
	var err error
	if f, ok := stringKeys[key]; ok {
		*f(c) = value
	} else if f, ok := intKeys[key]; ok {
		err = parseInt(value, f(c))
	} else if f, ok := boolKeys[key]; ok {
		err = parseBool(value, f(c))
	} else {
		return fmt.Errorf("unknown config key %q", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}

// Keys returns the settable config keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(stringKeys)+len(intKeys)+len(boolKeys))
	for k := range stringKeys {
		keys = append(keys, k)
	}
	for k := range intKeys {
		keys = append(keys, k)
	}
	for k := range boolKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PollIntervalDuration returns the poll interval, zero when unset.
func (c *Config) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

// DeadlineDuration returns the per-turn deadline, zero when unset.
func (c *Config) DeadlineDuration() time.Duration {
	return time.Duration(c.Deadline) * time.Second
}

// DeviceConfigPath resolves the device identity file against the config
// directory.
func (c *Config) DeviceConfigPath() string {
	return c.resolve(c.DeviceConfig, DefaultDeviceConfigFile)
}

// CredentialsPath resolves the credentials file against the config directory.
func (c *Config) CredentialsPath() string {
	return c.resolve(c.Credentials, DefaultCredentialsFile)
}

func (c *Config) resolve(path, def string) string {
	if path == "" {
		path = def
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Dir(), path)
}

func parseBool(v string, dst *bool) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("must not be negative: %d", n)
	}
	*dst = n
	return nil
}
