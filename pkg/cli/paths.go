package cli

import (
	"os"
	"path/filepath"
)

const (
	// DefaultBaseDir is the directory under the user's home holding the
	// handset's files.
	DefaultBaseDir = ".handset"
	// DefaultConfigFile is the configuration filename.
	DefaultConfigFile = "config.yaml"
	// DefaultDeviceConfigFile holds the registered device identity.
	DefaultDeviceConfigFile = "device_config.json"
	// DefaultCredentialsFile holds the OAuth2 user credentials.
	DefaultCredentialsFile = "credentials.json"
)

// Paths provides access to the handset directory structure.
type Paths struct {
	// HomeDir is the user's home directory
	HomeDir string
}

// NewPaths creates a Paths rooted at the user's home directory.
func NewPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Paths{HomeDir: home}, nil
}

// AppDir returns the app directory (~/.handset)
func (p *Paths) AppDir() string {
	return filepath.Join(p.HomeDir, DefaultBaseDir)
}

// ConfigFile returns the config file path (~/.handset/config.yaml)
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.AppDir(), DefaultConfigFile)
}

// DeviceConfigFile returns the device identity path (~/.handset/device_config.json)
func (p *Paths) DeviceConfigFile() string {
	return filepath.Join(p.AppDir(), DefaultDeviceConfigFile)
}

// CredentialsFile returns the credentials path (~/.handset/credentials.json)
func (p *Paths) CredentialsFile() string {
	return filepath.Join(p.AppDir(), DefaultCredentialsFile)
}

// EnsureAppDir creates the app directory if it doesn't exist
func (p *Paths) EnsureAppDir() error {
	return os.MkdirAll(p.AppDir(), 0755)
}
