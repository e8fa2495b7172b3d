package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCredentials(t *testing.T) {
	path := writeJSON(t, Credentials{
		RefreshToken: "refresh",
		TokenURI:     "https://example.com/token",
		ClientID:     "client",
		ClientSecret: "secret",
		Scopes:       []string{ScopeAssistant},
	})
	c, err := LoadCredentials(path)
	if err != nil {
		t.Fatalf("LoadCredentials: %v", err)
	}
	cfg := c.OAuth2Config()
	if cfg.Endpoint.TokenURL != "https://example.com/token" {
		t.Errorf("token url = %q", cfg.Endpoint.TokenURL)
	}
	if cfg.ClientID != "client" || cfg.ClientSecret != "secret" {
		t.Errorf("client = %q/%q", cfg.ClientID, cfg.ClientSecret)
	}
}

func TestLoadCredentials_Errors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.json") }},
		{"missing refresh token", func(t *testing.T) string {
			return writeJSON(t, Credentials{ClientID: "c", ClientSecret: "s"})
		}},
		{"invalid json", func(t *testing.T) string {
			path := filepath.Join(t.TempDir(), "credentials.json")
			os.WriteFile(path, []byte("{"), 0600)
			return path
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadCredentials(tc.path(t)); !errors.Is(err, ErrCredentials) {
				t.Errorf("error = %v; want ErrCredentials", err)
			}
		})
	}
}

func TestCredentials_Defaults(t *testing.T) {
	c := &Credentials{RefreshToken: "r", ClientID: "c", ClientSecret: "s"}
	cfg := c.OAuth2Config()
	if cfg.Endpoint.TokenURL != DefaultTokenURI {
		t.Errorf("token url = %q; want %q", cfg.Endpoint.TokenURL, DefaultTokenURI)
	}
	if len(cfg.Scopes) != 1 || cfg.Scopes[0] != ScopeAssistant {
		t.Errorf("scopes = %v", cfg.Scopes)
	}
}

func TestTokenSource_Refresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Error(err)
			return
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "refresh" {
			t.Errorf("refresh_token = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	c := &Credentials{RefreshToken: "refresh", TokenURI: srv.URL, ClientID: "c", ClientSecret: "s"}
	tok, err := c.TokenSource(context.Background()).Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "fresh" {
		t.Errorf("access token = %q; want fresh", tok.AccessToken)
	}
}
