// ABOUTME: Domain error kinds returned by the save-data engine
// ABOUTME: Sentinel values matched with errors.Is across every layer

package record

import "errors"

var (
	// ErrInvalidAuthority is returned when the caller or target lacks (or
	// already has) the permission the operation depends on.
	ErrInvalidAuthority = errors.New("invalid authority")

	// ErrInvalidAccess is returned when the caller's access level does not
	// cover the requested route.
	ErrInvalidAccess = errors.New("invalid access")

	// ErrAlreadyRegistered is returned when registering a game some
	// authority already holds a permission for.
	ErrAlreadyRegistered = errors.New("game already registered")

	// ErrNotFound is returned when a keyed record or entry is absent.
	ErrNotFound = errors.New("not found")

	// ErrBadSize is returned when a numeric merge operand is not exactly 4 bytes.
	ErrBadSize = errors.New("bad numeric size")

	// ErrCapacityExceeded is returned when a bounded collection would overflow.
	ErrCapacityExceeded = errors.New("capacity exceeded")
)
