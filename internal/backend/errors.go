package backend

import (
	"errors"
	"fmt"
	"net/http"

	"reelgraph/internal/domain"
)

// Error is a non-2xx response from the backend
type Error struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Unwrap maps 404 responses onto domain.ErrNotFound so callers can use
// errors.Is without knowing about HTTP.
func (e *Error) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the backend
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

// StatusCode extracts the HTTP status from err, or 0 for transport failures
func StatusCode(err error) int {
	var be *Error
	if errors.As(err, &be) {
		return be.StatusCode
	}
	return 0
}
