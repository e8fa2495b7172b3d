package device

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestLoadOrRegister_FirstRun(t *testing.T) {
	var (
		got     Identity
		gotPath string
		calls   atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("method = %s; want POST", r.Method)
		}
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("unmarshal payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "device_config.json")
	r := &Registry{
		ConfigPath: path,
		ProjectID:  "my-project",
		ModelID:    "my-model",
		BaseURL:    srv.URL + "/v1alpha2",
		HTTPClient: srv.Client(),
	}

	id, err := r.LoadOrRegister(context.Background())
	if err != nil {
		t.Fatalf("LoadOrRegister: %v", err)
	}
	if gotPath != "/v1alpha2/projects/my-project/devices" {
		t.Errorf("path = %q", gotPath)
	}
	if got.ModelID != "my-model" || got.ClientType != ClientTypeSDKService || got.ID == "" {
		t.Errorf("payload = %+v", got)
	}
	if id.ID != got.ID {
		t.Errorf("id = %q; want %q", id.ID, got.ID)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after register: %v", err)
	}
	if *loaded != *id {
		t.Errorf("loaded = %+v; want %+v", loaded, id)
	}

	// A second run reads the file and does not register again.
	again, err := r.LoadOrRegister(context.Background())
	if err != nil {
		t.Fatalf("second LoadOrRegister: %v", err)
	}
	if *again != *id {
		t.Errorf("second run identity = %+v; want %+v", again, id)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("registration calls = %d; want 1", n)
	}
}

func TestRegister_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "permission denied", http.StatusForbidden)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "device_config.json")
	r := &Registry{
		ConfigPath: path,
		ProjectID:  "p",
		ModelID:    "m",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	}
	_, err := r.LoadOrRegister(context.Background())
	var regErr *RegistrationError
	if !errors.As(err, &regErr) {
		t.Fatalf("error = %v; want RegistrationError", err)
	}
	if regErr.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d; want 403", regErr.StatusCode)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("config file written after rejected registration: %v", err)
	}
}

func TestRegister_MissingEnv(t *testing.T) {
	t.Setenv(EnvProjectID, "")
	t.Setenv(EnvModelID, "")
	r := &Registry{ConfigPath: filepath.Join(t.TempDir(), "device_config.json")}
	if _, err := r.Register(context.Background()); !errors.Is(err, ErrConfig) {
		t.Errorf("error = %v; want ErrConfig", err)
	}
}

func TestRegister_FromEnv(t *testing.T) {
	t.Setenv(EnvProjectID, "env-project")
	t.Setenv(EnvModelID, "env-model")

	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
	}))
	defer srv.Close()

	r := &Registry{
		ConfigPath: filepath.Join(t.TempDir(), "device_config.json"),
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	}
	id, err := r.Register(context.Background())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if path != "/projects/env-project/devices" {
		t.Errorf("path = %q", path)
	}
	if id.ModelID != "env-model" {
		t.Errorf("model id = %q; want env-model", id.ModelID)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"valid", `{"id":"abc","model_id":"m"}`, nil},
		{"invalid json", `{`, ErrConfig},
		{"missing id", `{"model_id":"m"}`, ErrConfig},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".json")
			if err := os.WriteFile(path, []byte(tc.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Load error = %v; want %v", err, tc.wantErr)
			}
		})
	}

	if _, err := Load(filepath.Join(dir, "missing.json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load missing error = %v; want ErrNotExist", err)
	}
}

func TestLoadOrRegister_InvalidFileIsNotReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device_config.json")
	if err := os.WriteFile(path, []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}
	r := &Registry{ConfigPath: path, ProjectID: "p", ModelID: "m", BaseURL: "http://127.0.0.1:0"}
	if _, err := r.LoadOrRegister(context.Background()); !errors.Is(err, ErrConfig) {
		t.Errorf("error = %v; want ErrConfig", err)
	}
}
