package docstore

import "errors"

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrPermissionDenied is returned when a Guard rule rejects a request.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConflict is returned when an optimistic write lost a race too many times.
	ErrConflict = errors.New("write conflict")

	// ErrInvalidPath is returned for malformed document or collection paths.
	ErrInvalidPath = errors.New("invalid path")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("backend closed")
)
