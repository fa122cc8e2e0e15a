package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/metasave/internal/auth"
	"github.com/2389/metasave/internal/config"
	"github.com/2389/metasave/internal/record"
)

func TestParseAccountFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		genesis bool
		want    bootstrapOptions
		wantErr string
	}{
		{"separate value", []string{"--account", "alice"}, false, bootstrapOptions{account: "alice", ttl: defaultTokenTTL}, ""},
		{"equals form", []string{"--account=bob", "--ttl=1h"}, false, bootstrapOptions{account: "bob", ttl: time.Hour}, ""},
		{"short flag", []string{"-a", "carol"}, false, bootstrapOptions{account: "carol", ttl: defaultTokenTTL}, ""},
		{"genesis", []string{"--account", "alice", "--genesis"}, true, bootstrapOptions{account: "alice", genesis: true, ttl: defaultTokenTTL}, ""},
		{"genesis not allowed", []string{"--account", "alice", "--genesis"}, false, bootstrapOptions{}, "unknown flag"},
		{"missing account", nil, false, bootstrapOptions{}, "--account flag is required"},
		{"blank account", []string{"--account", "   "}, false, bootstrapOptions{}, "--account flag is required"},
		{"dangling account", []string{"--account"}, false, bootstrapOptions{}, "requires a value"},
		{"bad ttl", []string{"--account", "a", "--ttl", "soon"}, false, bootstrapOptions{}, "parsing --ttl"},
		{"negative ttl", []string{"--account", "a", "--ttl", "-1h"}, false, bootstrapOptions{}, "must be positive"},
		{"stray argument", []string{"alice"}, false, bootstrapOptions{}, "unexpected argument"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAccountFlags(tt.args, tt.genesis)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBootstrap(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config", "config.yaml")
	t.Setenv("METASAVE_CONFIG", configPath)
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))

	require.NoError(t, runBootstrap([]string{"--account", "alice", "--genesis"}))

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	assert.Len(t, cfg.Auth.JWTSecret, 44)
	assert.Equal(t, filepath.Join(dir, "data", "metasave", "metasave.db"), cfg.Database.Path)
	require.Len(t, cfg.Genesis.Games, 2)
	assert.Equal(t, record.AccountID("alice"), cfg.Genesis.Games[1].Authority)

	token, err := os.ReadFile(filepath.Join(dir, "config", "token"))
	require.NoError(t, err)
	account, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Verify(string(token))
	require.NoError(t, err)
	assert.Equal(t, record.AccountID("alice"), account)

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// A second bootstrap reuses the config and secret.
	require.NoError(t, runBootstrap([]string{"--account", "bob"}))
	again, err := config.Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, cfg.Auth.JWTSecret, again.Auth.JWTSecret)

	err = runBootstrap([]string{"--account", "bob", "--genesis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestBootstrap_ExistingConfigWithoutSecret(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	t.Setenv("METASAVE_CONFIG", configPath)

	cfg := config.Default(filepath.Join(dir, "metasave.db"))
	require.NoError(t, writeConfig(configPath, cfg))

	err := runBootstrap([]string{"--account", "alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret not configured")
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "metasave.yaml")
	dbPath := filepath.Join(dir, "db", "metasave.ldb")

	answers := strings.Join([]string{
		out,
		"", // grpc
		"", // http
		"leveldb",
		dbPath,
		"no",  // jwt secret
		"yes", // ssh
		"no",  // tailscale
		"debug",
		"json",
	}, "\n") + "\n"

	require.NoError(t, runInit(strings.NewReader(answers)))

	cfg, err := config.Load(out)
	require.NoError(t, err)
	assert.Equal(t, "leveldb", cfg.Database.Driver)
	assert.Equal(t, dbPath, cfg.Database.Path)
	assert.Equal(t, "localhost:50061", cfg.Server.GRPCAddr)
	assert.Empty(t, cfg.Auth.JWTSecret)
	assert.True(t, cfg.Auth.SSHAuth)
	assert.Equal(t, "debug", cfg.Logging.Level)

	_, err = os.Stat(filepath.Dir(dbPath))
	assert.NoError(t, err)
}

func TestInit_RejectsNoAuth(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "metasave.yaml")
	answers := strings.Join([]string{out, "", "", "memory", "", "no", "no", "no", "", ""}, "\n") + "\n"

	err := runInit(strings.NewReader(answers))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid answers")

	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("dropped")
	logger.Warn("kept", "game", 7)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, float64(7), line["game"])
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "debug"}, &buf)

	logger.With("component", "savedata").WithGroup("req").Debug("world updated", "game", 1)

	out := buf.String()
	assert.Contains(t, out, "world updated")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, "req.game=")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "ERROR", parseLevel("error").String())
	assert.Equal(t, "INFO", parseLevel("chatty").String())
}
