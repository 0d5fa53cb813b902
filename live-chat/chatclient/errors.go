package chatclient

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrClosed           = errors.New("chatclient: connection closed")
	ErrNotConnected     = errors.New("chatclient: not connected")
	ErrAlreadyConnected = errors.New("chatclient: already connected")
	ErrInvalidKey       = errors.New("chatclient: invalid storage key")
)

// StatusError is returned when the history endpoint answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chatclient: GET %s: unexpected status %d", e.URL, e.StatusCode)
}
