// ABOUTME: Per-RPC credentials for bearer tokens, SSH signatures and insecure accounts
// ABOUTME: SSH credentials sign every call with a fresh timestamp and nonce

package client

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/2389/metasave/internal/auth"
	"github.com/2389/metasave/internal/record"
)

// tokenCredentials sends a bearer token.
type tokenCredentials struct {
	token string
}

func (c tokenCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + c.token}, nil
}

// RequireTransportSecurity is false so the client works over plain TCP on
// a trusted network or a tailnet.
func (c tokenCredentials) RequireTransportSecurity() bool { return false }

// sshCredentials signs each call.
type sshCredentials struct {
	signer ssh.Signer
	now    func() time.Time
}

func (c sshCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	req, err := auth.SignRequest(c.signer, c.now(), uuid.NewString())
	if err != nil {
		return nil, err
	}
	return req.Headers(), nil
}

func (c sshCredentials) RequireTransportSecurity() bool { return false }

// accountCredentials names the caller for servers in insecure mode.
type accountCredentials struct {
	account record.AccountID
}

func (c accountCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{auth.AccountHeader: string(c.account)}, nil
}

func (c accountCredentials) RequireTransportSecurity() bool { return false }
