// ABOUTME: gRPC service and method names for the SaveData service
// ABOUTME: Shared by the server registration and the client Invoke calls

package api

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "metasave.v1.SaveData"

// SaveData method names.
const (
	MethodRegisterGame      = "RegisterGame"
	MethodAddAuthority      = "AddAuthority"
	MethodRemoveAuthority   = "RemoveAuthority"
	MethodGetPermissions    = "GetPermissions"
	MethodGetWorldRecord    = "GetWorldRecord"
	MethodUpdateWorldRecord = "UpdateWorldRecord"
	MethodRemoveWorldRecord = "RemoveWorldRecord"
	MethodModWorldRecord    = "ModWorldRecord"
	MethodGetUserRecord     = "GetUserRecord"
	MethodUpdateUserRecord  = "UpdateUserRecord"
	MethodRemoveUserRecord  = "RemoveUserRecord"
	MethodListEvents        = "ListEvents"
	MethodListAudit         = "ListAudit"
)

// Methods lists every SaveData method in registration order.
var Methods = []string{
	MethodRegisterGame,
	MethodAddAuthority,
	MethodRemoveAuthority,
	MethodGetPermissions,
	MethodGetWorldRecord,
	MethodUpdateWorldRecord,
	MethodRemoveWorldRecord,
	MethodModWorldRecord,
	MethodGetUserRecord,
	MethodUpdateUserRecord,
	MethodRemoveUserRecord,
	MethodListEvents,
	MethodListAudit,
}

// FullMethod returns the gRPC path for method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}
