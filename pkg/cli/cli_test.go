package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigWithPath_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg, err := LoadConfigWithPath(path)
	if err != nil {
		t.Fatalf("LoadConfigWithPath() error = %v", err)
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %q, want %q", cfg.Path(), path)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("config file should not be created on load, stat error = %v", err)
	}
}

func TestConfig_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handset", "config.yaml")
	cfg, err := LoadConfigWithPath(path)
	if err != nil {
		t.Fatalf("LoadConfigWithPath() error = %v", err)
	}

	cfg.Pin = "GPIO24"
	cfg.Inverted = true
	cfg.PollInterval = 50
	cfg.LanguageCode = "fr-FR"
	cfg.Deadline = 60
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := LoadConfigWithPath(path)
	if err != nil {
		t.Fatalf("LoadConfigWithPath() error = %v", err)
	}
	if got.Pin != "GPIO24" || !got.Inverted || got.LanguageCode != "fr-FR" {
		t.Errorf("loaded config = %+v", got)
	}
	if d := got.PollIntervalDuration(); d != 50*time.Millisecond {
		t.Errorf("PollIntervalDuration() = %v, want 50ms", d)
	}
	if d := got.DeadlineDuration(); d != time.Minute {
		t.Errorf("DeadlineDuration() = %v, want 1m", d)
	}
}

func TestLoadConfigWithPath_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("pin: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigWithPath(path); err == nil {
		t.Error("LoadConfigWithPath() should fail on invalid YAML")
	}
}

func TestConfig_Set(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		wantErr bool
		check   func(*Config) bool
	}{
		{"pin", "P1_22", false, func(c *Config) bool { return c.Pin == "P1_22" }},
		{"inverted", "true", false, func(c *Config) bool { return c.Inverted }},
		{"display", "1", false, func(c *Config) bool { return c.Display }},
		{"volume", "80", false, func(c *Config) bool { return c.Volume == 80 }},
		{"max_retries", "5", false, func(c *Config) bool { return c.MaxRetries == 5 }},
		{"project_id", "my-project", false, func(c *Config) bool { return c.ProjectID == "my-project" }},
		{"volume", "loud", true, nil},
		{"deadline", "-1", true, nil},
		{"inverted", "maybe", true, nil},
		{"colour", "blue", true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := &Config{}
			err := cfg.Set(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Set(%q, %q) error = %v, wantErr %v", tt.key, tt.value, err, tt.wantErr)
			}
			if tt.check != nil && !tt.check(cfg) {
				t.Errorf("Set(%q, %q) did not apply: %+v", tt.key, tt.value, cfg)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	keys := Keys()
	if !slices.IsSorted(keys) {
		t.Errorf("Keys() not sorted: %v", keys)
	}
	cfg := &Config{}
	for _, k := range keys {
		if err := cfg.Set(k, "1"); err != nil && strings.Contains(err.Error(), "unknown") {
			t.Errorf("Keys() lists %q but Set rejects it", k)
		}
	}
}

func TestConfig_ResolvePaths(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfigWithPath(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	if got, want := cfg.DeviceConfigPath(), filepath.Join(dir, DefaultDeviceConfigFile); got != want {
		t.Errorf("DeviceConfigPath() = %q, want %q", got, want)
	}
	if got, want := cfg.CredentialsPath(), filepath.Join(dir, DefaultCredentialsFile); got != want {
		t.Errorf("CredentialsPath() = %q, want %q", got, want)
	}

	cfg.Credentials = "/etc/handset/credentials.json"
	cfg.DeviceConfig = "devices/kitchen.json"
	if got := cfg.CredentialsPath(); got != "/etc/handset/credentials.json" {
		t.Errorf("CredentialsPath() = %q, want absolute path unchanged", got)
	}
	if got, want := cfg.DeviceConfigPath(), filepath.Join(dir, "devices", "kitchen.json"); got != want {
		t.Errorf("DeviceConfigPath() = %q, want %q", got, want)
	}
}

func TestPaths(t *testing.T) {
	p := &Paths{HomeDir: "/home/pi"}
	if got := p.ConfigFile(); got != "/home/pi/.handset/config.yaml" {
		t.Errorf("ConfigFile() = %q", got)
	}
	if got := p.DeviceConfigFile(); got != "/home/pi/.handset/device_config.json" {
		t.Errorf("DeviceConfigFile() = %q", got)
	}
	if got := p.CredentialsFile(); got != "/home/pi/.handset/credentials.json" {
		t.Errorf("CredentialsFile() = %q", got)
	}
}

func TestOutput(t *testing.T) {
	v := map[string]string{"id": "abc"}

	var buf bytes.Buffer
	if err := Output(&buf, v, FormatJSON); err != nil {
		t.Fatalf("Output(json) error = %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil || got["id"] != "abc" {
		t.Errorf("Output(json) = %q", buf.String())
	}

	buf.Reset()
	if err := Output(&buf, v, FormatYAML); err != nil {
		t.Fatalf("Output(yaml) error = %v", err)
	}
	if !strings.Contains(buf.String(), "id: abc") {
		t.Errorf("Output(yaml) = %q", buf.String())
	}

	if err := Output(&buf, v, FormatPanel); err == nil {
		t.Error("Output(panel) should reject non-panel values")
	}
	if err := Output(&buf, v, "xml"); err == nil {
		t.Error("Output(xml) should fail")
	}
}

func TestPanel_Render(t *testing.T) {
	out := NewPanel("Device").Add("id", "abc-123").Add("model id", "").Render()
	for _, want := range []string{"Device", "abc-123", "model id", "-"} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() missing %q:\n%s", want, out)
		}
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"1234", "****"},
		{"12345678", "********"},
		{"123456789", "1234*6789"},
	}
	for _, tt := range tests {
		if got := MaskSecret(tt.in); got != tt.want {
			t.Errorf("MaskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
