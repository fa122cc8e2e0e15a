// ABOUTME: Tests for the HTTP JSON API handlers
// ABOUTME: Drives every route through the real mux with header-trusting auth

package gateway

import (
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/metasave/internal/api"
	"github.com/2389/metasave/internal/config"
)

func TestHealth(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := do(t, gw, http.MethodGet, "/health", "", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, "OK", rec.Body.String())

	rec = do(t, gw, http.MethodGet, "/health/ready", "", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, "ready", rec.Body.String())
}

func TestReady_StoreClosed(t *testing.T) {
	gw := newTestGateway(t, nil)
	require.NoError(t, gw.store.Close())

	rec := do(t, gw, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	// the cause is logged, not served
	assert.Equal(t, "store unavailable", rec.Body.String())
}

func TestRegisterGame(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := do(t, gw, http.MethodPost, "/api/games", "alice", `{"game":"1"}`)
	requireStatus(t, rec, http.StatusCreated)
	var status api.StatusResponse
	decode(t, rec, &status)
	assert.True(t, status.OK)

	rec = do(t, gw, http.MethodPost, "/api/games", "bob", `{"game":"1"}`)
	requireStatus(t, rec, http.StatusConflict)
	var e api.ErrorResponse
	decode(t, rec, &e)
	assert.Equal(t, "already_registered", e.Kind)

	rec = do(t, gw, http.MethodGet, "/api/accounts/alice/permissions", "bob", nil)
	requireStatus(t, rec, http.StatusOK)
	var perms api.PermissionsResponse
	decode(t, rec, &perms)
	assert.Equal(t, []api.Permission{{Game: 1, Access: "internal_external"}}, perms.Permissions)
}

func TestRegisterGame_LargeID(t *testing.T) {
	gw := newTestGateway(t, nil)
	registerGame(t, gw, "alice", "18446744073709551615")

	rec := do(t, gw, http.MethodGet, "/api/accounts/alice/permissions", "alice", nil)
	requireStatus(t, rec, http.StatusOK)
	var perms api.PermissionsResponse
	decode(t, rec, &perms)
	require.Len(t, perms.Permissions, 1)
	assert.Equal(t, uint64(18446744073709551615), uint64(perms.Permissions[0].Game))
}

func TestAuthorities(t *testing.T) {
	gw := newTestGateway(t, nil)
	registerGame(t, gw, "alice", "1")

	// bob holds nothing, so cannot grant
	rec := do(t, gw, http.MethodPost, "/api/games/1/authorities", "bob", map[string]string{"account": "carol"})
	requireStatus(t, rec, http.StatusForbidden)

	rec = do(t, gw, http.MethodPost, "/api/games/1/authorities", "alice", map[string]string{"account": "bob"})
	requireStatus(t, rec, http.StatusCreated)

	rec = do(t, gw, http.MethodPost, "/api/games/1/authorities", "alice", map[string]string{"account": "bob", "access": "internal_external"})
	requireStatus(t, rec, http.StatusConflict)

	rec = do(t, gw, http.MethodPost, "/api/games/1/authorities", "alice", map[string]string{"account": "carol", "access": "root"})
	requireStatus(t, rec, http.StatusBadRequest)

	rec = do(t, gw, http.MethodGet, "/api/accounts/bob/permissions", "alice", nil)
	var perms api.PermissionsResponse
	decode(t, rec, &perms)
	assert.Equal(t, []api.Permission{{Game: 1, Access: "external"}}, perms.Permissions)

	rec = do(t, gw, http.MethodDelete, "/api/games/1/authorities/bob", "alice", nil)
	requireStatus(t, rec, http.StatusOK)

	rec = do(t, gw, http.MethodDelete, "/api/games/1/authorities/bob", "alice", nil)
	requireStatus(t, rec, http.StatusForbidden)
}

func TestRemoveLastAuthority_Unregisters(t *testing.T) {
	gw := newTestGateway(t, nil)
	registerGame(t, gw, "alice", "1")

	rec := do(t, gw, http.MethodDelete, "/api/games/1/authorities/alice", "alice", nil)
	requireStatus(t, rec, http.StatusOK)

	// the id is free again
	registerGame(t, gw, "bob", "1")
}

func TestWorldRecord(t *testing.T) {
	gw := newTestGateway(t, nil)
	registerGame(t, gw, "alice", "1")

	rec := do(t, gw, http.MethodPut, "/api/games/1/world/external", "alice", map[string]any{"key": "Time", "int32": 1})
	requireStatus(t, rec, http.StatusOK)
	rec = do(t, gw, http.MethodPut, "/api/games/1/world/external", "alice", map[string]any{
		"key":            "Name",
		"value":          "arena",
		"value_encoding": "utf8",
	})
	requireStatus(t, rec, http.StatusOK)

	// External is readable by anyone
	rec = do(t, gw, http.MethodGet, "/api/games/1/world/external", "stranger", nil)
	requireStatus(t, rec, http.StatusOK)
	var resp api.RecordResponse
	decode(t, rec, &resp)
	assert.Equal(t, "external", resp.Route)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "Time", resp.Entries[0].Key)
	require.NotNil(t, resp.Entries[0].AsInt32)
	assert.Equal(t, int32(1), *resp.Entries[0].AsInt32)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("arena")), resp.Entries[1].Value)

	rec = do(t, gw, http.MethodPatch, "/api/games/1/world/external", "alice", map[string]any{"key": "Time", "delta": 41})
	requireStatus(t, rec, http.StatusOK)

	rec = do(t, gw, http.MethodGet, "/api/games/1/world/external/Time", "alice", nil)
	requireStatus(t, rec, http.StatusOK)
	var entry api.Entry
	decode(t, rec, &entry)
	require.NotNil(t, entry.AsInt32)
	assert.Equal(t, int32(42), *entry.AsInt32)

	rec = do(t, gw, http.MethodDelete, "/api/games/1/world/external/Time", "alice", nil)
	requireStatus(t, rec, http.StatusOK)

	rec = do(t, gw, http.MethodGet, "/api/games/1/world/external/Time", "alice", nil)
	requireStatus(t, rec, http.StatusNotFound)

	rec = do(t, gw, http.MethodDelete, "/api/games/1/world/external/Time", "alice", nil)
	requireStatus(t, rec, http.StatusNotFound)
}

func TestWorldRecord_EmptyWhenUnwritten(t *testing.T) {
	gw := newTestGateway(t, nil)
	registerGame(t, gw, "alice", "1")

	rec := do(t, gw, http.MethodGet, "/api/games/1/world/internal", "alice", nil)
	requireStatus(t, rec, http.StatusOK)
	var resp api.RecordResponse
	decode(t, rec, &resp)
	assert.Empty(t, resp.Entries)
}

func TestWorldRecord_InternalAccess(t *testing.T) {
	gw := newTestGateway(t, nil)
	registerGame(t, gw, "alice", "1")
	rec := do(t, gw, http.MethodPost, "/api/games/1/authorities", "alice", map[string]string{"account": "bob", "access": "external"})
	requireStatus(t, rec, http.StatusCreated)

	rec = do(t, gw, http.MethodPut, "/api/games/1/world/internal", "alice", map[string]any{"key": "Seed", "int32": 7})
	requireStatus(t, rec, http.StatusOK)

	tests := []struct {
		name    string
		account string
		status  int
		kind    string
	}{
		{"holder with internal access", "alice", http.StatusOK, ""},
		{"external-only holder", "bob", http.StatusForbidden, "invalid_access"},
		{"no permission", "carol", http.StatusForbidden, "invalid_authority"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, gw, http.MethodGet, "/api/games/1/world/internal", tt.account, nil)
			requireStatus(t, rec, tt.status)
			if tt.kind != "" {
				var e api.ErrorResponse
				decode(t, rec, &e)
				assert.Equal(t, tt.kind, e.Kind)
			}
		})
	}

	rec = do(t, gw, http.MethodPut, "/api/games/1/world/internal", "bob", map[string]any{"key": "Seed", "int32": 8})
	requireStatus(t, rec, http.StatusForbidden)
}

func TestModWorldRecord_Errors(t *testing.T) {
	gw := newTestGateway(t, nil)
	registerGame(t, gw, "alice", "1")
	rec := do(t, gw, http.MethodPut, "/api/games/1/world/external", "alice", map[string]any{"key": "Name", "value": "YQ=="})
	requireStatus(t, rec, http.StatusOK)

	tests := []struct {
		name   string
		body   map[string]any
		status int
		kind   string
	}{
		{"missing key", map[string]any{"key": "Deaths", "delta": 1}, http.StatusNotFound, "not_found"},
		{"stored value not 4 bytes", map[string]any{"key": "Name", "delta": 1}, http.StatusBadRequest, "bad_size"},
		{"incoming value not 4 bytes", map[string]any{"key": "Name", "value": "YQ=="}, http.StatusBadRequest, "bad_size"},
		{"delta and value", map[string]any{"key": "Name", "delta": 1, "value": "AQAAAA=="}, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, gw, http.MethodPatch, "/api/games/1/world/external", "alice", tt.body)
			requireStatus(t, rec, tt.status)
			var e api.ErrorResponse
			decode(t, rec, &e)
			assert.Equal(t, tt.kind, e.Kind)
		})
	}
}

func TestUserRecord(t *testing.T) {
	gw := newTestGateway(t, nil)
	registerGame(t, gw, "alice", "1")

	rec := do(t, gw, http.MethodPut, "/api/games/1/users/dave/external", "alice", map[string]any{"key": "Kills", "int32": 3})
	requireStatus(t, rec, http.StatusOK)

	rec = do(t, gw, http.MethodGet, "/api/games/1/users/dave/external", "dave", nil)
	requireStatus(t, rec, http.StatusOK)
	var resp api.RecordResponse
	decode(t, rec, &resp)
	assert.Equal(t, "dave", string(resp.User))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, int32(3), *resp.Entries[0].AsInt32)

	// the user itself is not an authority
	rec = do(t, gw, http.MethodPut, "/api/games/1/users/dave/external", "dave", map[string]any{"key": "Kills", "int32": 99})
	requireStatus(t, rec, http.StatusForbidden)

	rec = do(t, gw, http.MethodDelete, "/api/games/1/users/dave/external/Kills", "alice", nil)
	requireStatus(t, rec, http.StatusOK)

	rec = do(t, gw, http.MethodDelete, "/api/games/1/users/erin/external/Kills", "alice", nil)
	requireStatus(t, rec, http.StatusNotFound)
}

func TestBinaryKey(t *testing.T) {
	gw := newTestGateway(t, nil)
	registerGame(t, gw, "alice", "1")

	key := base64.StdEncoding.EncodeToString([]byte{0xff, 0x00})
	rec := do(t, gw, http.MethodPut, "/api/games/1/world/external", "alice", map[string]any{
		"key":          key,
		"key_encoding": "base64",
		"int32":        5,
	})
	requireStatus(t, rec, http.StatusOK)

	rec = do(t, gw, http.MethodGet, "/api/games/1/world/external", "alice", nil)
	var resp api.RecordResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, key, resp.Entries[0].Key)
	assert.Equal(t, "base64", resp.Entries[0].KeyEncoding)
}

func TestEvents(t *testing.T) {
	gw := newTestGateway(t, nil)
	registerGame(t, gw, "alice", "1")

	for _, route := range []string{"external", "internal", "external"} {
		rec := do(t, gw, http.MethodPut, "/api/games/1/world/"+route, "alice", map[string]any{"key": "Time", "int32": 1})
		requireStatus(t, rec, http.StatusOK)
	}
	// user writes are not ledgered
	rec := do(t, gw, http.MethodPut, "/api/games/1/users/dave/external", "alice", map[string]any{"key": "Kills", "int32": 3})
	requireStatus(t, rec, http.StatusOK)

	rec = do(t, gw, http.MethodGet, "/api/games/1/events", "alice", nil)
	requireStatus(t, rec, http.StatusOK)
	var resp api.EventsResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Events, 3)
	assert.Greater(t, resp.Events[0].Sequence, resp.Events[1].Sequence, "newest first")
	assert.Equal(t, "world_data_updated", resp.Events[0].Type)

	rec = do(t, gw, http.MethodGet, "/api/games/1/events?limit=1", "alice", nil)
	decode(t, rec, &resp)
	assert.Len(t, resp.Events, 1)

	// strangers see only the external route
	rec = do(t, gw, http.MethodGet, "/api/games/1/events", "stranger", nil)
	decode(t, rec, &resp)
	require.Len(t, resp.Events, 2)
	for _, e := range resp.Events {
		assert.Equal(t, "external", e.Route)
	}
}

func TestAudit(t *testing.T) {
	gw := newTestGateway(t, nil)
	registerGame(t, gw, "alice", "1")
	registerGame(t, gw, "bob", "2")
	rec := do(t, gw, http.MethodPost, "/api/games/1/authorities", "alice", map[string]string{"account": "carol"})
	requireStatus(t, rec, http.StatusCreated)

	rec = do(t, gw, http.MethodGet, "/api/audit", "alice", nil)
	requireStatus(t, rec, http.StatusOK)
	var resp api.AuditResponse
	decode(t, rec, &resp)
	assert.Len(t, resp.Entries, 3)

	rec = do(t, gw, http.MethodGet, "/api/audit?game=1&action=grant_authority", "alice", nil)
	decode(t, rec, &resp)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "carol", string(resp.Entries[0].Target))
	assert.Equal(t, "external", resp.Entries[0].Detail["access"])

	rec = do(t, gw, http.MethodGet, "/api/audit?actor=bob", "alice", nil)
	decode(t, rec, &resp)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "register_game", resp.Entries[0].Action)
}

func TestBadRequests(t *testing.T) {
	gw := newTestGateway(t, nil)
	registerGame(t, gw, "alice", "1")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"non-numeric game", http.MethodGet, "/api/games/abc/world/external", nil},
		{"unknown route", http.MethodGet, "/api/games/1/world/private", nil},
		{"unknown body field", http.MethodPost, "/api/games", `{"game":"3","owner":"x"}`},
		{"invalid JSON", http.MethodPost, "/api/games", `{`},
		{"bad limit", http.MethodGet, "/api/games/1/events?limit=-1", nil},
		{"bad audit action", http.MethodGet, "/api/audit?action=explode", nil},
		{"bad audit game", http.MethodGet, "/api/audit?game=x", nil},
		{"both value kinds", http.MethodPut, "/api/games/1/world/external", `{"key":"a","value":"AA==","int32":1}`},
		{"bad key encoding", http.MethodDelete, "/api/games/1/world/external/a?key_encoding=hex", nil},
		{"missing grantee", http.MethodPost, "/api/games/1/authorities", `{"access":"external"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, gw, tt.method, tt.path, "alice", tt.body)
			requireStatus(t, rec, http.StatusBadRequest)
			var e api.ErrorResponse
			decode(t, rec, &e)
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := do(t, gw, http.MethodPatch, "/api/games/1/users/dave/external", "alice", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAPI_RequiresCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{JWTSecret: testSecret}
	gw := newTestGateway(t, cfg)

	rec := do(t, gw, http.MethodGet, "/api/games/1/world/external", "alice", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// health stays open
	rec = do(t, gw, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
