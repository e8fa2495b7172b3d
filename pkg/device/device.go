// Package device loads the device identity used by the assistant and
// registers a new one on first run.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultBaseURL is the device registration API.
	DefaultBaseURL = "https://embeddedassistant.googleapis.com/v1alpha2"
	// ClientTypeSDKService is the client type of a device using the gRPC API.
	ClientTypeSDKService = "SDK_SERVICE"

	// EnvProjectID names the project a new device is registered in.
	EnvProjectID = "PROJECT_ID"
	// EnvModelID names the model a new device is registered as.
	EnvModelID = "DEVICE_MODEL_ID"
)

// ErrConfig is returned when the device config file is unreadable or
// incomplete, or when registration settings are missing.
var ErrConfig = errors.New("device: invalid config")

// RegistrationError is returned when the registration API rejects a device.
type RegistrationError struct {
	StatusCode int
	Body       string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("device: registration failed: %d %s: %s",
		e.StatusCode, http.StatusText(e.StatusCode), strings.TrimSpace(e.Body))
}

// Identity identifies this device to the assistant. It is persisted once and
// never modified.
type Identity struct {
	ID         string `json:"id"`
	ModelID    string `json:"model_id"`
	ClientType string `json:"client_type,omitempty"`
}

// Load reads an identity from path. A missing file is reported with an error
// matching os.ErrNotExist.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrConfig, path, err)
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrConfig, path, err)
	}
	if id.ID == "" || id.ModelID == "" {
		return nil, fmt.Errorf("%w: %s: id and model_id are required", ErrConfig, path)
	}
	return &id, nil
}

// Save writes the identity to path, creating the parent directory.
func (id *Identity) Save(path string) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("device: create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("device: write %s: %w", path, err)
	}
	return nil
}

// Registry provides the device identity, registering a new device when none
// has been persisted yet.
type Registry struct {
	// ConfigPath is the device config file.
	ConfigPath string

	// ProjectID and ModelID are used for registration. Empty values are read
	// from PROJECT_ID and DEVICE_MODEL_ID.
	ProjectID string
	ModelID   string

	// BaseURL of the registration API. Empty means DefaultBaseURL.
	BaseURL string

	// HTTPClient must add authorization to requests.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// LoadOrRegister loads the persisted identity. Only if the config file does
// not exist is a new device registered and persisted.
func (r *Registry) LoadOrRegister(ctx context.Context) (*Identity, error) {
	id, err := Load(r.ConfigPath)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	r.logger().Info("device: config not found, registering new device", "path", r.ConfigPath)
	return r.Register(ctx)
}

// Register registers a new device id and persists it. Nothing is written
// unless the API accepts the device.
func (r *Registry) Register(ctx context.Context) (*Identity, error) {
	projectID := r.ProjectID
	if projectID == "" {
		projectID = os.Getenv(EnvProjectID)
	}
	modelID := r.ModelID
	if modelID == "" {
		modelID = os.Getenv(EnvModelID)
	}
	if projectID == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrConfig, EnvProjectID)
	}
	if modelID == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrConfig, EnvModelID)
	}

	u, err := uuid.NewUUID()
	if err != nil {
		return nil, fmt.Errorf("device: generate id: %w", err)
	}
	id := &Identity{
		ID:         u.String(),
		ModelID:    modelID,
		ClientType: ClientTypeSDKService,
	}
	payload, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}

	base := r.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	url := fmt.Sprintf("%s/projects/%s/devices", strings.TrimRight(base, "/"), projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("device: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("device: register: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &RegistrationError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := id.Save(r.ConfigPath); err != nil {
		return nil, err
	}
	r.logger().Info("device: registered", "id", id.ID, "model_id", id.ModelID)
	return id, nil
}

func (r *Registry) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
