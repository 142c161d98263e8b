package registry

import (
	"errors"
	"fmt"
)

// Common registry errors
var (
	// ErrSchemaNotFound is returned when the registry has no schema for the
	// requested global ID or artifact.
	ErrSchemaNotFound = errors.New("registry: schema not found")

	// ErrClosed is returned when an operation is attempted on a closed client.
	ErrClosed = errors.New("registry: client is closed")
)

// RequestError carries the status code and body of a failed registry call.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("registry: request failed with status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound checks if the error is a "schema not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSchemaNotFound)
}
