// Package auth resolves the identity of metasave callers.
//
// # Authentication Methods
//
//   - JWT Tokens: HS256 tokens signed with the configured jwt_secret. The
//     "sub" claim is the caller's account.
//
//   - SSH Signatures: the caller signs "timestamp|nonce" with an SSH key and
//     sends the public key, signature, timestamp and nonce as x-ssh-*
//     headers. The caller's account is the hex SHA-256 fingerprint of the
//     key. Nonces are remembered for the signature window to stop replay.
//
// SSH headers take precedence over an Authorization header.
//
// # Transport Integration
//
//	a := NewAuthenticator(NewJWTVerifier(secret), NewSSHVerifier(), logger)
//	grpc.NewServer(grpc.UnaryInterceptor(UnaryInterceptor(a)))
//	handler = HTTPAuthMiddleware(a)(mux)
//
// Handlers read the caller with CallerFromContext. The insecure variants
// (NoAuthUnaryInterceptor, NoAuthHTTPMiddleware) trust the
// x-metasave-account header and exist for local development.
package auth
