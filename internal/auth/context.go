// ABOUTME: Caller identity context for tracking the authenticated account through handlers
// ABOUTME: Provides WithCaller/CallerFromContext for propagating identity via context

package auth

import (
	"context"

	"github.com/2389/metasave/internal/record"
)

// Method names how a caller proved its identity.
type Method string

const (
	MethodJWT      Method = "jwt"
	MethodSSH      Method = "ssh"
	MethodInsecure Method = "insecure"
)

// Caller holds the authenticated identity extracted from a request.
// It is populated by the auth interceptor or middleware and read by handlers.
type Caller struct {
	Account record.AccountID
	Method  Method
}

// callerContextKey is the key type for storing Caller in context.Context.
type callerContextKey struct{}

// WithCaller returns a new context with the Caller attached.
func WithCaller(ctx context.Context, caller *Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext retrieves the Caller from the context, returning nil if not present.
func CallerFromContext(ctx context.Context) *Caller {
	caller, ok := ctx.Value(callerContextKey{}).(*Caller)
	if !ok {
		return nil
	}
	return caller
}

// MustCallerFromContext retrieves the Caller from the context, panicking if not present.
func MustCallerFromContext(ctx context.Context) *Caller {
	caller := CallerFromContext(ctx)
	if caller == nil {
		panic("auth: Caller not found in context")
	}
	return caller
}
