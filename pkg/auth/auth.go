// Package auth loads the OAuth2 user credentials of the device and turns
// them into token sources for gRPC and HTTP.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
)

const (
	// DefaultTokenURI is Google's OAuth2 token endpoint.
	DefaultTokenURI = "https://oauth2.googleapis.com/token"
	// ScopeAssistant is the scope required by the assistant API.
	ScopeAssistant = "https://www.googleapis.com/auth/assistant-sdk-prototype"
)

// ErrCredentials is returned when the credentials file is missing or
// invalid.
var ErrCredentials = errors.New("auth: invalid credentials")

// Credentials is the authorized user file written by google-oauthlib-tool.
type Credentials struct {
	Token        string   `json:"token,omitempty"`
	RefreshToken string   `json:"refresh_token"`
	TokenURI     string   `json:"token_uri"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes,omitempty"`
}

// LoadCredentials reads credentials from path.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCredentials, err)
	}
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrCredentials, path, err)
	}
	if c.RefreshToken == "" || c.ClientID == "" || c.ClientSecret == "" {
		return nil, fmt.Errorf("%w: %s: refresh_token, client_id and client_secret are required", ErrCredentials, path)
	}
	return &c, nil
}

// OAuth2Config returns the client configuration of the credentials.
func (c *Credentials) OAuth2Config() *oauth2.Config {
	tokenURI := c.TokenURI
	if tokenURI == "" {
		tokenURI = DefaultTokenURI
	}
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = []string{ScopeAssistant}
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURI,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: scopes,
	}
}

// TokenSource returns a token source that refreshes the access token when it
// expires. The stored access token, if any, is treated as already expired.
func (c *Credentials) TokenSource(ctx context.Context) oauth2.TokenSource {
	return c.OAuth2Config().TokenSource(ctx, &oauth2.Token{
		RefreshToken: c.RefreshToken,
	})
}

// HTTPClient returns a client that authorizes requests with ts.
func HTTPClient(ctx context.Context, ts oauth2.TokenSource) *http.Client {
	return oauth2.NewClient(ctx, ts)
}
