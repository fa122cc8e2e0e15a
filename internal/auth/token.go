// ABOUTME: HS256 bearer tokens naming the calling account
// ABOUTME: Tokens are issued by metasave bootstrap/token and carry the account in sub

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/metasave/internal/record"
)

// Issuer is the iss claim on every token metasave signs.
const Issuer = "metasave"

// clockSkew is tolerated on exp, nbf and iat.
const clockSkew = 30 * time.Second

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier resolves a bearer token to the account it names.
type TokenVerifier interface {
	Verify(tokenString string) (record.AccountID, error)
}

// JWTVerifier signs and checks tokens with a shared secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(Issuer),
			jwt.WithLeeway(clockSkew),
		),
	}
}

func (v *JWTVerifier) key(*jwt.Token) (any, error) {
	return v.secret, nil
}

// Verify returns the account in the sub claim of a valid token.
func (v *JWTVerifier) Verify(tokenString string) (record.AccountID, error) {
	var claims jwt.RegisteredClaims
	if _, err := v.parser.ParseWithClaims(tokenString, &claims, v.key); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return record.AccountID(claims.Subject), nil
}

// Generate signs a token for account valid for ttl. A negative ttl yields
// an already expired token.
func (v *JWTVerifier) Generate(account record.AccountID, ttl time.Duration) (string, error) {
	if account == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   string(account),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}).SignedString(v.secret)
}
