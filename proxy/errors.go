package proxy

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedPath is returned for requests to a path other than the
	// configured inbound path.
	ErrUnsupportedPath = errors.New("unsupported path")

	// ErrInvalidRequest wraps failures to decode a client request.
	ErrInvalidRequest = errors.New("invalid chat request")

	// ErrInvalidResponse wraps failures to decode a backend response.
	ErrInvalidResponse = errors.New("invalid backend response")
)

// maxErrorExcerpt bounds the backend body kept in a StatusError.
const maxErrorExcerpt = 4 << 10

// StatusError reports a non-2xx backend response.
type StatusError struct {
	StatusCode int

	// Body is the start of the backend's response body.
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend responded with status %d: %s", e.StatusCode, e.Body)
}
