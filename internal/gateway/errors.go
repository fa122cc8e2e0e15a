// ABOUTME: Maps domain errors to HTTP status codes and gRPC status codes
// ABOUTME: Unknown errors become 500 / Internal with the detail logged, not returned

package gateway

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/metasave/internal/api"
	"github.com/2389/metasave/internal/record"
	"github.com/2389/metasave/internal/store"
)

// errBadRequest marks malformed input detected by the transport itself.
var errBadRequest = errors.New("bad request")

// errorKind names the domain error for clients.
func errorKind(err error) string {
	switch {
	case errors.Is(err, record.ErrInvalidAuthority):
		return api.KindInvalidAuthority
	case errors.Is(err, record.ErrInvalidAccess):
		return api.KindInvalidAccess
	case errors.Is(err, record.ErrAlreadyRegistered):
		return api.KindAlreadyRegistered
	case errors.Is(err, record.ErrNotFound):
		return api.KindNotFound
	case errors.Is(err, record.ErrBadSize):
		return api.KindBadSize
	case errors.Is(err, record.ErrCapacityExceeded):
		return api.KindCapacityExceeded
	case errors.Is(err, errBadRequest):
		return api.KindBadRequest
	case errors.Is(err, store.ErrClosed):
		return api.KindUnavailable
	default:
		return api.KindInternal
	}
}

// httpStatus maps an error to its HTTP status code.
func httpStatus(err error) int {
	switch errorKind(err) {
	case api.KindInvalidAuthority, api.KindInvalidAccess:
		return http.StatusForbidden
	case api.KindAlreadyRegistered:
		return http.StatusConflict
	case api.KindNotFound:
		return http.StatusNotFound
	case api.KindBadSize, api.KindBadRequest:
		return http.StatusBadRequest
	case api.KindCapacityExceeded:
		return http.StatusRequestEntityTooLarge
	case api.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// grpcCode maps an error to its gRPC status code.
func grpcCode(err error) codes.Code {
	switch errorKind(err) {
	case api.KindInvalidAuthority, api.KindInvalidAccess:
		return codes.PermissionDenied
	case api.KindAlreadyRegistered:
		return codes.AlreadyExists
	case api.KindNotFound:
		return codes.NotFound
	case api.KindBadSize, api.KindBadRequest:
		return codes.InvalidArgument
	case api.KindCapacityExceeded:
		return codes.ResourceExhausted
	case api.KindUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// grpcError converts err into a gRPC status error.
func grpcError(err error) error {
	code := grpcCode(err)
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

// publicMessage returns the message safe to send to clients.
func publicMessage(err error) string {
	if errorKind(err) == api.KindInternal {
		return "internal error"
	}
	return err.Error()
}
