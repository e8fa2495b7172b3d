package assistant

import (
	"crypto/tls"
	"fmt"

	"golang.org/x/oauth2"
	embedded "google.golang.org/genproto/googleapis/assistant/embedded/v1alpha2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/oauth"
)

// DefaultEndpoint is the embedded assistant gRPC endpoint.
const DefaultEndpoint = "embeddedassistant.googleapis.com:443"

// Dial opens a TLS channel to endpoint authorized with tokens from ts. The
// token source refreshes tokens on demand.
func Dial(endpoint string, ts oauth2.TokenSource) (*grpc.ClientConn, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})),
		grpc.WithPerRPCCredentials(oauth.TokenSource{TokenSource: ts}),
	)
	if err != nil {
		return nil, fmt.Errorf("assistant: dial %s: %w", endpoint, err)
	}
	return conn, nil
}

// NewClient returns an embedded assistant client on conn.
func NewClient(conn grpc.ClientConnInterface) embedded.EmbeddedAssistantClient {
	return embedded.NewEmbeddedAssistantClient(conn)
}
