package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/2389/metasave/internal/auth"
	"github.com/2389/metasave/internal/client"
	"github.com/2389/metasave/internal/config"
	"github.com/2389/metasave/internal/gateway"
	"github.com/2389/metasave/internal/record"
	"github.com/2389/metasave/internal/store"
)

func startServer(t *testing.T) *grpc.ClientConn {
	t.Helper()
	cfg := config.Default("")
	cfg.Database.Driver = store.DriverMemory
	cfg.Auth = config.AuthConfig{Insecure: true}

	gw, err := gateway.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	lis := bufconn.Listen(1 << 20)
	go func() { _ = gw.GRPCServer().Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func newAdmin(conn *grpc.ClientConn, account record.AccountID) (*admin, *bytes.Buffer) {
	var buf bytes.Buffer
	return &admin{client: client.New(conn, client.WithAccount(account)), out: &buf, self: account}, &buf
}

func runCmd(t *testing.T, a *admin, buf *bytes.Buffer, cmd string, args ...string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	buf.Reset()
	require.NoError(t, a.run(ctx, cmd, args))
	return buf.String()
}

func runErr(t *testing.T, a *admin, cmd string, args ...string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.run(ctx, cmd, args)
	require.Error(t, err)
	return err
}

func TestAdmin_GameLifecycle(t *testing.T) {
	conn := startServer(t)
	alice, out := newAdmin(conn, "alice")

	assert.Contains(t, runCmd(t, alice, out, "register", "7"), "Registered game 7")
	assert.Contains(t, runCmd(t, alice, out, "grant", "7", "bob"), "Granted external on game 7 to bob")

	perms := runCmd(t, alice, out, "perms")
	assert.Contains(t, perms, "internal_external")

	assert.Contains(t, runCmd(t, alice, out, "perms", "bob"), "external")
	assert.Contains(t, runCmd(t, alice, out, "revoke", "7", "bob"), "Revoked bob")
	assert.Contains(t, runCmd(t, alice, out, "perms", "bob"), "holds no permissions")

	err := runErr(t, alice, "register", "7")
	assert.ErrorIs(t, err, record.ErrAlreadyRegistered)

	audit := runCmd(t, alice, out, "audit", "--game", "7", "--limit", "2")
	assert.Contains(t, audit, "revoke_authority")
	assert.Contains(t, audit, "grant_authority")
	assert.NotContains(t, audit, "register_game")
}

func TestAdmin_WorldRecords(t *testing.T) {
	conn := startServer(t)
	alice, out := newAdmin(conn, "alice")
	stranger, _ := newAdmin(conn, "mallory")

	runCmd(t, alice, out, "register", "1")
	runCmd(t, alice, out, "world", "set", "1", "Kills", "9", "--int")
	runCmd(t, alice, out, "world", "add", "1", "Kills", "1")
	runCmd(t, alice, out, "world", "set", "1", "motd", "hello")
	runCmd(t, alice, out, "world", "set", "1", "secret", "c2VjcmV0", "--base64", "--route=internal")

	got := runCmd(t, alice, out, "world", "get", "1")
	assert.Contains(t, got, `"Kills"`)
	assert.Contains(t, got, "10")
	assert.Contains(t, got, `"hello"`)
	assert.NotContains(t, got, "secret")

	assert.Contains(t, runCmd(t, alice, out, "world", "get", "1", "--route", "internal"), `"secret"`)

	err := runErr(t, stranger, "world", "get", "1", "--route", "internal")
	assert.ErrorIs(t, err, record.ErrInvalidAuthority)

	err = runErr(t, alice, "world", "add", "1", "motd", "1")
	assert.ErrorIs(t, err, record.ErrBadSize)

	runCmd(t, alice, out, "world", "rm", "1", "motd")
	assert.NotContains(t, runCmd(t, alice, out, "world", "get", "1"), "motd")

	events := runCmd(t, alice, out, "events", "1")
	assert.Contains(t, events, "world_data_updated")
	assert.Contains(t, events, "internal")

	assert.NotContains(t, runCmd(t, stranger, out, "events", "1"), "internal")
}

func TestAdmin_UserRecords(t *testing.T) {
	conn := startServer(t)
	alice, out := newAdmin(conn, "alice")

	runCmd(t, alice, out, "register", "3")
	assert.Contains(t, runCmd(t, alice, out, "user", "get", "3", "bob"), "(empty)")

	runCmd(t, alice, out, "user", "set", "3", "bob", "Level", "4", "--int")
	got := runCmd(t, alice, out, "user", "get", "3", "bob")
	assert.Contains(t, got, `"Level"`)
	assert.Contains(t, got, "4")

	runCmd(t, alice, out, "user", "rm", "3", "bob", "Level")
	assert.Contains(t, runCmd(t, alice, out, "user", "get", "3", "bob"), "(empty)")

	err := runErr(t, alice, "user", "rm", "3", "bob", "Level")
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestAdmin_UsageErrors(t *testing.T) {
	conn := startServer(t)
	alice, _ := newAdmin(conn, "alice")
	nobody, _ := newAdmin(conn, "")

	tests := []struct {
		name string
		a    *admin
		cmd  string
		args []string
		want string
	}{
		{"unknown command", alice, "frobnicate", nil, "unknown command"},
		{"missing game", alice, "register", nil, "usage"},
		{"bad game", alice, "register", []string{"seven"}, "invalid game"},
		{"bad access", alice, "grant", []string{"1", "bob", "root"}, "unknown access"},
		{"bad route", alice, "world", []string{"get", "1", "--route", "side"}, "unknown route"},
		{"unknown flag", alice, "world", []string{"get", "1", "--limit", "2"}, "unknown flag"},
		{"int and base64", alice, "world", []string{"set", "1", "k", "1", "--int", "--base64"}, "mutually exclusive"},
		{"bad int", alice, "world", []string{"set", "1", "k", "x", "--int"}, "invalid int32"},
		{"bad delta", alice, "world", []string{"add", "1", "k", "99999999999"}, "invalid delta"},
		{"bad limit", alice, "events", []string{"1", "--limit", "-1"}, "non-negative"},
		{"world subcommand", alice, "world", []string{"list", "1"}, "unknown world subcommand"},
		{"perms without account", nobody, "perms", nil, "METASAVE_ACCOUNT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runErr(t, tt.a, tt.cmd, tt.args...)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, `"Time"`, display([]byte("Time")))
	assert.Equal(t, "base64:AQAAAA==", display(record.EncodeInt32(1)))
	assert.Equal(t, "base64:3q0=", display([]byte{0xde, 0xad}))
}

func TestGetToken(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("METASAVE_TOKEN", "")
	t.Setenv("XDG_CONFIG_HOME", dir)
	assert.Empty(t, getToken())

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "metasave"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metasave", "token"), []byte("file-token\n"), 0600))
	assert.Equal(t, "file-token", getToken())

	t.Setenv("METASAVE_TOKEN", "env-token")
	assert.Equal(t, "env-token", getToken())
}

func TestFingerprint(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	want := auth.ComputeFingerprint(signer.PublicKey())

	dir := t.TempDir()
	pubPath := filepath.Join(dir, "id_ed25519.pub")
	require.NoError(t, os.WriteFile(pubPath, ssh.MarshalAuthorizedKey(signer.PublicKey()), 0600))

	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	privPath := filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(block), 0600))

	var out bytes.Buffer
	require.NoError(t, runFingerprint([]string{pubPath}, &out))
	assert.Equal(t, want+"\n", out.String())

	// with no argument the signing key is used
	t.Setenv("METASAVE_SSH_KEY", privPath)
	out.Reset()
	require.NoError(t, runFingerprint(nil, &out))
	assert.Equal(t, want+"\n", out.String())

	garbage := filepath.Join(dir, "garbage")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0600))
	assert.Error(t, runFingerprint([]string{garbage}, &out))
	assert.Error(t, runFingerprint([]string{pubPath, "extra"}, &out))

	t.Setenv("METASAVE_SSH_KEY", "")
	assert.Error(t, runFingerprint(nil, &out))
}
