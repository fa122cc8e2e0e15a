// ABOUTME: gRPC interceptors for authenticating requests using JWT or SSH keys
// ABOUTME: Extracts the caller from metadata and populates context for handlers

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/2389/metasave/internal/record"
)

// AccountHeader carries the caller's account when authentication is disabled.
const AccountHeader = "x-metasave-account"

// Authentication errors
var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrSSHNotConfigured   = errors.New("SSH authentication not configured")
	ErrJWTNotConfigured   = errors.New("token authentication not configured")
)

// Authenticator resolves a caller from request headers. Either verifier may
// be nil, which disables that method.
type Authenticator struct {
	tokens TokenVerifier
	ssh    *SSHVerifier
	logger *slog.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(tokens TokenVerifier, sshVerifier *SSHVerifier, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{tokens: tokens, ssh: sshVerifier, logger: logger.With("component", "auth")}
}

// Authenticate resolves the caller using get to read request headers.
// SSH headers take precedence over a bearer token.
func (a *Authenticator) Authenticate(get func(key string) string) (*Caller, error) {
	if req := ExtractSSHAuth(get); req != nil {
		if a.ssh == nil {
			return nil, ErrSSHNotConfigured
		}
		account, err := a.ssh.Verify(req)
		if err != nil {
			return nil, fmt.Errorf("SSH auth failed: %w", err)
		}
		return &Caller{Account: account, Method: MethodSSH}, nil
	}

	token, err := extractBearerToken(get("authorization"))
	if err != nil {
		return nil, err
	}
	if a.tokens == nil {
		return nil, ErrJWTNotConfigured
	}
	account, err := a.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	return &Caller{Account: account, Method: MethodJWT}, nil
}

// logFailure logs an authentication failure with structured context.
func (a *Authenticator) logFailure(reason string, err error, attrs ...any) {
	attrs = append([]any{"reason", reason, "error", err}, attrs...)
	a.logger.Warn("auth failure", attrs...)
}

// extractBearerToken extracts a bearer token from an Authorization value.
func extractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingCredentials
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return "", errors.New("invalid authorization header format")
	}
	if token == "" {
		return "", errors.New("empty token")
	}
	return token, nil
}

func metadataGetter(md metadata.MD) func(string) string {
	return func(key string) string {
		if vals := md.Get(key); len(vals) > 0 {
			return vals[0]
		}
		return ""
	}
}

// UnaryInterceptor returns a gRPC unary interceptor that authenticates requests.
// Health checks under /grpc.health.v1. pass through unauthenticated.
func UnaryInterceptor(a *Authenticator) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.") {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			a.logFailure("missing_metadata", ErrMissingCredentials, peerAttrs(ctx)...)
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		caller, err := a.Authenticate(metadataGetter(md))
		if err != nil {
			a.logFailure("grpc_auth_failed", err, append(peerAttrs(ctx), "method", info.FullMethod)...)
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		return handler(WithCaller(ctx, caller), req)
	}
}

// NoAuthUnaryInterceptor returns a gRPC unary interceptor that trusts the
// x-metasave-account metadata as the caller. Development only.
func NoAuthUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		account := metadataGetter(md)(AccountHeader)
		if account == "" {
			account = "anonymous"
		}
		ctx = WithCaller(ctx, &Caller{Account: record.AccountID(account), Method: MethodInsecure})
		return handler(ctx, req)
	}
}

func peerAttrs(ctx context.Context) []any {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return []any{"peer_addr", p.Addr.String()}
	}
	return nil
}
