package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/metasave/internal/auth"
	"github.com/2389/metasave/internal/config"
	"github.com/2389/metasave/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns an in-memory config with header-trusting auth.
func testConfig() *config.Config {
	cfg := config.Default("")
	cfg.Database.Driver = store.DriverMemory
	cfg.Auth = config.AuthConfig{Insecure: true}
	return cfg
}

// newTestGateway builds a gateway over a fresh memory store.
func newTestGateway(t *testing.T, cfg *config.Config) *Gateway {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	gw, err := newWithStore(cfg, store.NewMemoryStore(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw
}

// do sends a request to the gateway handler as account. A non-nil body is
// JSON-encoded unless it is already a string.
func do(t *testing.T, gw *Gateway, method, path string, account string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if account != "" {
		req.Header.Set(auth.AccountHeader, account)
	}
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

// decode decodes a JSON response body into v.
func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

// requireStatus asserts the status code, showing the body on mismatch.
func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, rec.Code, "body: %s", rec.Body.String())
}

// registerGame registers game for account through the HTTP API.
func registerGame(t *testing.T, gw *Gateway, account, game string) {
	t.Helper()
	rec := do(t, gw, http.MethodPost, "/api/games", account, `{"game":"`+game+`"}`)
	requireStatus(t, rec, http.StatusCreated)
}
