// ABOUTME: SaveData gRPC service registered from a hand-written ServiceDesc
// ABOUTME: Every method takes and returns a google.protobuf.Struct holding an api document

package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/metasave/internal/api"
	"github.com/2389/metasave/internal/auth"
	"github.com/2389/metasave/internal/record"
)

// structHandler serves one SaveData method.
type structHandler func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

// SaveDataServer is the handler type checked by grpc.RegisterService.
type SaveDataServer interface {
	handler(method string) structHandler
}

// saveDataServer implements the SaveData gRPC service.
type saveDataServer struct {
	methods map[string]structHandler
	logger  *slog.Logger
}

// newSaveDataServer creates a new SaveData service instance.
func newSaveDataServer(gw *Gateway, logger *slog.Logger) *saveDataServer {
	s := &saveDataServer{logger: logger}
	s.methods = map[string]structHandler{
		api.MethodRegisterGame:      unary(s, gw.registerGame),
		api.MethodAddAuthority:      unary(s, gw.addAuthority),
		api.MethodRemoveAuthority:   unary(s, gw.removeAuthority),
		api.MethodGetPermissions:    unary(s, gw.getPermissions),
		api.MethodGetWorldRecord:    unary(s, worldOnly(gw.getRecord)),
		api.MethodUpdateWorldRecord: unary(s, worldOnlyUpdate(gw.updateRecord)),
		api.MethodRemoveWorldRecord: unary(s, worldOnlyRemove(gw.removeRecord)),
		api.MethodModWorldRecord:    unary(s, gw.modRecord),
		api.MethodGetUserRecord:     unary(s, userOnly(gw.getRecord)),
		api.MethodUpdateUserRecord:  unary(s, userOnlyUpdate(gw.updateRecord)),
		api.MethodRemoveUserRecord:  unary(s, userOnlyRemove(gw.removeRecord)),
		api.MethodListEvents:        unary(s, gw.listEvents),
		api.MethodListAudit:         unary(s, gw.listAudit),
	}
	return s
}

func (s *saveDataServer) handler(method string) structHandler {
	return s.methods[method]
}

// unary decodes the request document, runs op as the authenticated
// caller, and encodes the response document.
func unary[Req, Resp any](s *saveDataServer, op func(ctx context.Context, caller record.AccountID, req Req) (Resp, error)) structHandler {
	return func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		caller := auth.CallerFromContext(ctx)
		if caller == nil {
			return nil, status.Error(codes.Unauthenticated, "not authenticated")
		}

		var req Req
		if err := api.FromStruct(in, &req); err != nil {
			return nil, s.fail(ctx, fmt.Errorf("%w: %v", errBadRequest, err))
		}

		resp, err := op(ctx, caller.Account, req)
		if err != nil {
			return nil, s.fail(ctx, err)
		}

		out, err := api.ToStruct(resp)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
		}
		return out, nil
	}
}

// fail logs server faults, attaches the error kind as a trailer and
// returns the status error.
func (s *saveDataServer) fail(ctx context.Context, err error) error {
	if grpcCode(err) == codes.Internal {
		s.logger.Error("request failed", "error", err)
	}
	_ = grpc.SetTrailer(ctx, metadata.Pairs(api.ErrorKindTrailer, errorKind(err)))
	return grpcError(err)
}

// The world and user variants share one operation; the method name decides
// which record is addressed, so a stray user field cannot redirect a world call.

func worldOnly[Resp any](op func(context.Context, record.AccountID, api.RecordRequest) (Resp, error)) func(context.Context, record.AccountID, api.RecordRequest) (Resp, error) {
	return func(ctx context.Context, caller record.AccountID, req api.RecordRequest) (Resp, error) {
		req.User = ""
		return op(ctx, caller, req)
	}
}

func userOnly[Resp any](op func(context.Context, record.AccountID, api.RecordRequest) (Resp, error)) func(context.Context, record.AccountID, api.RecordRequest) (Resp, error) {
	return func(ctx context.Context, caller record.AccountID, req api.RecordRequest) (Resp, error) {
		if err := requireAccount("user", req.User); err != nil {
			var zero Resp
			return zero, err
		}
		return op(ctx, caller, req)
	}
}

func worldOnlyUpdate(op func(context.Context, record.AccountID, api.UpdateRequest) (api.StatusResponse, error)) func(context.Context, record.AccountID, api.UpdateRequest) (api.StatusResponse, error) {
	return func(ctx context.Context, caller record.AccountID, req api.UpdateRequest) (api.StatusResponse, error) {
		req.User = ""
		return op(ctx, caller, req)
	}
}

func userOnlyUpdate(op func(context.Context, record.AccountID, api.UpdateRequest) (api.StatusResponse, error)) func(context.Context, record.AccountID, api.UpdateRequest) (api.StatusResponse, error) {
	return func(ctx context.Context, caller record.AccountID, req api.UpdateRequest) (api.StatusResponse, error) {
		if err := requireAccount("user", req.User); err != nil {
			return api.StatusResponse{}, err
		}
		return op(ctx, caller, req)
	}
}

func worldOnlyRemove(op func(context.Context, record.AccountID, api.RemoveRequest) (api.StatusResponse, error)) func(context.Context, record.AccountID, api.RemoveRequest) (api.StatusResponse, error) {
	return func(ctx context.Context, caller record.AccountID, req api.RemoveRequest) (api.StatusResponse, error) {
		req.User = ""
		return op(ctx, caller, req)
	}
}

func userOnlyRemove(op func(context.Context, record.AccountID, api.RemoveRequest) (api.StatusResponse, error)) func(context.Context, record.AccountID, api.RemoveRequest) (api.StatusResponse, error) {
	return func(ctx context.Context, caller record.AccountID, req api.RemoveRequest) (api.StatusResponse, error) {
		if err := requireAccount("user", req.User); err != nil {
			return api.StatusResponse{}, err
		}
		return op(ctx, caller, req)
	}
}

// methodHandler adapts a named method to grpc.MethodHandler, running the
// server's interceptor chain the way generated code does.
func methodHandler(method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		h := srv.(SaveDataServer).handler(method)
		if interceptor == nil {
			return h(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: api.FullMethod(method)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return h(ctx, req.(*structpb.Struct))
		})
	}
}

// SaveDataServiceDesc describes the metasave.v1.SaveData service.
var SaveDataServiceDesc = func() grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: api.ServiceName,
		HandlerType: (*SaveDataServer)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "metasave/v1/savedata.proto",
	}
	for _, m := range api.Methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{MethodName: m, Handler: methodHandler(m)})
	}
	return desc
}()

// registerSaveDataServer registers srv on s.
func registerSaveDataServer(s grpc.ServiceRegistrar, srv SaveDataServer) {
	s.RegisterService(&SaveDataServiceDesc, srv)
}
