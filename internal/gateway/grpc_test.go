// ABOUTME: Tests for the SaveData gRPC service over an in-process connection
// ABOUTME: Uses bufconn with the real interceptor chain and structpb documents

package gateway

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/metasave/internal/api"
	"github.com/2389/metasave/internal/auth"
	"github.com/2389/metasave/internal/config"
)

// dialGateway serves gw's gRPC server on a bufconn listener and dials it.
func dialGateway(t *testing.T, gw *Gateway) *grpc.ClientConn {
	t.Helper()
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

// invoke calls method as account with req and decodes the reply into resp.
func invoke(t *testing.T, conn *grpc.ClientConn, account, method string, req, resp any) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if account != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, auth.AccountHeader, account)
	}

	in, err := api.ToStruct(req)
	require.NoError(t, err)
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, api.FullMethod(method), in, out); err != nil {
		return err
	}
	if resp != nil {
		require.NoError(t, api.FromStruct(out, resp))
	}
	return nil
}

func TestGRPC_WorldRoundTrip(t *testing.T) {
	gw := newTestGateway(t, nil)
	conn := dialGateway(t, gw)

	var st api.StatusResponse
	require.NoError(t, invoke(t, conn, "alice", api.MethodRegisterGame, api.RegisterGameRequest{Game: 7}, &st))
	assert.True(t, st.OK)

	one := int32(1)
	require.NoError(t, invoke(t, conn, "alice", api.MethodUpdateWorldRecord, api.UpdateRequest{
		Game:  7,
		Route: "external",
		Entry: api.Entry{Key: "Time", Int32: &one},
	}, nil))

	delta := int32(-3)
	require.NoError(t, invoke(t, conn, "alice", api.MethodModWorldRecord, api.ModRequest{
		Game:  7,
		Route: "external",
		Key:   "Time",
		Delta: &delta,
	}, nil))

	var rec api.RecordResponse
	require.NoError(t, invoke(t, conn, "bob", api.MethodGetWorldRecord, api.RecordRequest{Game: 7, Route: "external"}, &rec))
	require.Len(t, rec.Entries, 1)
	require.NotNil(t, rec.Entries[0].AsInt32)
	assert.Equal(t, int32(-2), *rec.Entries[0].AsInt32)

	var events api.EventsResponse
	require.NoError(t, invoke(t, conn, "alice", api.MethodListEvents, api.EventsRequest{Game: 7}, &events))
	require.Len(t, events.Events, 1, "numeric merge is not ledgered")
	assert.NotZero(t, events.Events[0].Sequence)
	assert.Equal(t, "alice", string(events.Events[0].Actor))
}

func TestGRPC_UserRecord(t *testing.T) {
	gw := newTestGateway(t, nil)
	conn := dialGateway(t, gw)
	require.NoError(t, invoke(t, conn, "alice", api.MethodRegisterGame, api.RegisterGameRequest{Game: 7}, nil))

	require.NoError(t, invoke(t, conn, "alice", api.MethodUpdateUserRecord, api.UpdateRequest{
		Game:  7,
		User:  "dave",
		Route: "internal",
		Entry: api.Entry{Key: "Rank", Value: "Z29sZA=="},
	}, nil))

	var rec api.RecordResponse
	require.NoError(t, invoke(t, conn, "alice", api.MethodGetUserRecord, api.RecordRequest{Game: 7, User: "dave", Route: "internal"}, &rec))
	require.Len(t, rec.Entries, 1)
	assert.Equal(t, "Z29sZA==", rec.Entries[0].Value)

	// a world call ignores the user field
	require.NoError(t, invoke(t, conn, "alice", api.MethodGetWorldRecord, api.RecordRequest{Game: 7, User: "dave", Route: "internal"}, &rec))
	assert.Empty(t, rec.Entries)

	err := invoke(t, conn, "alice", api.MethodGetUserRecord, api.RecordRequest{Game: 7, Route: "internal"}, nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	require.NoError(t, invoke(t, conn, "alice", api.MethodRemoveUserRecord, api.RemoveRequest{Game: 7, User: "dave", Route: "internal", Key: "Rank"}, nil))
}

func TestGRPC_Authorities(t *testing.T) {
	gw := newTestGateway(t, nil)
	conn := dialGateway(t, gw)
	require.NoError(t, invoke(t, conn, "alice", api.MethodRegisterGame, api.RegisterGameRequest{Game: 7}, nil))
	require.NoError(t, invoke(t, conn, "alice", api.MethodAddAuthority, api.AuthorityRequest{Game: 7, Account: "bob", Access: "internal_external"}, nil))

	var perms api.PermissionsResponse
	require.NoError(t, invoke(t, conn, "carol", api.MethodGetPermissions, api.PermissionsRequest{Account: "bob"}, &perms))
	assert.Equal(t, []api.Permission{{Game: 7, Access: "internal_external"}}, perms.Permissions)

	require.NoError(t, invoke(t, conn, "bob", api.MethodRemoveAuthority, api.AuthorityRequest{Game: 7, Account: "alice"}, nil))

	var audit api.AuditResponse
	require.NoError(t, invoke(t, conn, "carol", api.MethodListAudit, api.AuditRequest{Game: "7"}, &audit))
	require.Len(t, audit.Entries, 3)
	assert.Equal(t, "revoke_authority", audit.Entries[0].Action)
}

func TestGRPC_ErrorCodes(t *testing.T) {
	gw := newTestGateway(t, nil)
	conn := dialGateway(t, gw)
	require.NoError(t, invoke(t, conn, "alice", api.MethodRegisterGame, api.RegisterGameRequest{Game: 7}, nil))

	tests := []struct {
		name    string
		account string
		method  string
		req     any
		code    codes.Code
	}{
		{"already registered", "bob", api.MethodRegisterGame, api.RegisterGameRequest{Game: 7}, codes.AlreadyExists},
		{"no authority", "bob", api.MethodUpdateWorldRecord, api.UpdateRequest{Game: 7, Route: "external", Entry: api.Entry{Key: "k"}}, codes.PermissionDenied},
		{"unknown route", "alice", api.MethodGetWorldRecord, api.RecordRequest{Game: 7, Route: "secret"}, codes.InvalidArgument},
		{"missing key", "alice", api.MethodRemoveWorldRecord, api.RemoveRequest{Game: 7, Route: "external", Key: "k"}, codes.NotFound},
		{"bad audit action", "alice", api.MethodListAudit, api.AuditRequest{Action: "nope"}, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := invoke(t, conn, tt.account, tt.method, tt.req, nil)
			assert.Equal(t, tt.code, status.Code(err), "err: %v", err)
		})
	}
}

func TestGRPC_RequiresCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{JWTSecret: testSecret}
	gw := newTestGateway(t, cfg)
	conn := dialGateway(t, gw)

	err := invoke(t, conn, "alice", api.MethodRegisterGame, api.RegisterGameRequest{Game: 7}, nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	token, err := auth.NewJWTVerifier([]byte(testSecret)).Generate("alice", time.Hour)
	require.NoError(t, err)
	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
	in, err := api.ToStruct(api.RegisterGameRequest{Game: 7})
	require.NoError(t, err)
	require.NoError(t, conn.Invoke(ctx, api.FullMethod(api.MethodRegisterGame), in, new(structpb.Struct)))

	perms, err := gw.Service().Permissions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, perms, 1)
}

func TestGRPC_HealthBypassesAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{JWTSecret: testSecret}
	gw := newTestGateway(t, cfg)
	conn := dialGateway(t, gw)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: api.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestServiceDesc(t *testing.T) {
	assert.Equal(t, api.ServiceName, SaveDataServiceDesc.ServiceName)
	require.Len(t, SaveDataServiceDesc.Methods, len(api.Methods))

	srv := newSaveDataServer(newTestGateway(t, nil), testLogger())
	for _, m := range SaveDataServiceDesc.Methods {
		assert.NotNil(t, srv.handler(m.MethodName), m.MethodName)
	}
}
