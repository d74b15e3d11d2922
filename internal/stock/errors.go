package stock

import "errors"

var (
	ErrGroupNotFound     = errors.New("group not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidValue      = errors.New("invalid value")

	// ErrDuplicateRequest is returned when a request id has already been applied.
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrLockTimeout is transient; the caller may retry the whole operation.
	ErrLockTimeout = errors.New("stock record lock timeout")

	ErrAlreadyExists = errors.New("stock record already exists")
)
