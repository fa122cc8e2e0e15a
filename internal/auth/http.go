// ABOUTME: HTTP middleware for JWT or SSH authentication on API endpoints
// ABOUTME: Resolves the caller from request headers and adds it to the request context

package auth

import (
	"encoding/json"
	"net/http"

	"github.com/2389/metasave/internal/record"
)

// writeAuthError writes a JSON error body with the given status.
func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// HTTPAuthMiddleware creates an HTTP middleware that authenticates each request.
// It attaches the Caller with the same WithCaller/CallerFromContext pattern
// as the gRPC interceptor.
func HTTPAuthMiddleware(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := a.Authenticate(r.Header.Get)
			if err != nil {
				a.logFailure("http_auth_failed", err, "remote_addr", r.RemoteAddr, "path", r.URL.Path)
				writeAuthError(w, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// NoAuthHTTPMiddleware trusts the X-Metasave-Account header as the caller.
// Development only.
func NoAuthHTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account := r.Header.Get(AccountHeader)
			if account == "" {
				account = "anonymous"
			}
			caller := &Caller{Account: record.AccountID(account), Method: MethodInsecure}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}
