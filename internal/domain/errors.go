package domain

import (
	"fmt"
)

// RemoteErrorKind classifies why a remote call failed.
type RemoteErrorKind string

const (
	RemoteTimeout    RemoteErrorKind = "timeout"
	RemoteHTTPStatus RemoteErrorKind = "http_status"
	RemoteNetwork    RemoteErrorKind = "network"
	RemoteProtocol   RemoteErrorKind = "protocol"
)

// RemoteError is the final, non-retryable failure of an upload or dispatch.
// Transport errors never leave the clients in any other shape.
type RemoteError struct {
	Service    string
	Kind       RemoteErrorKind
	StatusCode int
	Attempts   int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Kind == RemoteHTTPStatus {
		return fmt.Sprintf("%s: HTTP %d after %d attempt(s): %s", e.Service, e.StatusCode, e.Attempts, e.Message)
	}
	return fmt.Sprintf("%s: %s after %d attempt(s): %s", e.Service, e.Kind, e.Attempts, e.Message)
}

// ValidationError is a recoverable input problem shown back to the user.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
