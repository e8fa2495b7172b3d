package assistant

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TransportError is returned by Session.Assist when the streaming call
// failed with a gRPC status. Unavailable failures have been retried before
// the error is returned.
type TransportError struct {
	// Attempts is the number of calls made, including the failed one.
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("assistant: assist failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Code returns the gRPC status code of the failure.
func (e *TransportError) Code() codes.Code {
	return status.Code(e.Err)
}

// Transient reports whether the failure was a retryable Unavailable status.
func (e *TransportError) Transient() bool {
	return IsUnavailable(e.Err)
}
