// ABOUTME: Error kinds shared by the HTTP error body and the gRPC error trailer
// ABOUTME: Maps each kind back to the record sentinel it was produced from

package api

import "github.com/2389/metasave/internal/record"

// ErrorKindTrailer is the gRPC trailer key carrying the error kind.
const ErrorKindTrailer = "x-metasave-error-kind"

// Error kinds.
const (
	KindInvalidAuthority  = "invalid_authority"
	KindInvalidAccess     = "invalid_access"
	KindAlreadyRegistered = "already_registered"
	KindNotFound          = "not_found"
	KindBadSize           = "bad_size"
	KindCapacityExceeded  = "capacity_exceeded"
	KindBadRequest        = "bad_request"
	KindUnavailable       = "unavailable"
	KindInternal          = "internal"
)

var kindErrors = map[string]error{
	KindInvalidAuthority:  record.ErrInvalidAuthority,
	KindInvalidAccess:     record.ErrInvalidAccess,
	KindAlreadyRegistered: record.ErrAlreadyRegistered,
	KindNotFound:          record.ErrNotFound,
	KindBadSize:           record.ErrBadSize,
	KindCapacityExceeded:  record.ErrCapacityExceeded,
}

// KindError returns the record sentinel for kind, or nil when the kind has
// no domain counterpart.
func KindError(kind string) error {
	return kindErrors[kind]
}
