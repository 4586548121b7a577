package nanobanana

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAPIKey indicates that the client was configured without credentials.
	ErrMissingAPIKey = errors.New("nanobanana: api key is required")

	// ErrIncompleteStream indicates the stream ended without a terminal event.
	ErrIncompleteStream = errors.New("nanobanana: stream ended without a terminal event")
)

// TransportError covers non-2xx responses and network-level failures. Both
// are terminal for the current attempt and eligible for retry.
type TransportError struct {
	StatusCode int
	Message    string
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("nanobanana: http %d", e.StatusCode)
	}
	return fmt.Sprintf("nanobanana: %s", e.Message)
}
