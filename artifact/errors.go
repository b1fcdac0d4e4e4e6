package artifact

import "errors"

var (
	// ErrNotFound is returned when no object exists under a key.
	ErrNotFound = errors.New("artifact not found")
	// ErrEmptyKey is returned for an empty object key.
	ErrEmptyKey = errors.New("artifact key must not be empty")
	// ErrInvalidKey is returned for keys with a path traversal segment.
	ErrInvalidKey = errors.New("artifact key contains invalid path segment")
)
