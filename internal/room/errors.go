package room

import "errors"

var (
	// ErrNotFound means no session matches the given id or join code.
	ErrNotFound = errors.New("session not found")
	// ErrForbidden means the requester may not perform the operation.
	ErrForbidden = errors.New("forbidden")
)
