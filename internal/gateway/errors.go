package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/odyssey-erp/purchasing/internal/purchasing"
)

// ErrUnavailable matches transport errors that never reached a response.
var ErrUnavailable = errors.New("gateway: backend unavailable")

// TransportError reports a failed backend call: either a network failure
// (StatusCode 0) or a 4xx/5xx response.
type TransportError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("gateway: %s %s: %v", e.Method, e.Path, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("gateway: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway: %s %s: status %d", e.Method, e.Path, e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is maps 404 onto purchasing.ErrNotFound and network failures onto
// ErrUnavailable.
func (e *TransportError) Is(target error) bool {
	switch target {
	case purchasing.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnavailable:
		return e.StatusCode == 0
	}
	return false
}

// Rejected reports whether the backend answered with a client error.
func (e *TransportError) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}
