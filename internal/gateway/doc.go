// Package gateway orchestrates the metasave server components.
//
// # Overview
//
// The gateway package owns the store, the save-data service, the event
// broadcaster and both network servers. The same operations are exposed
// over gRPC and over an HTTP JSON API; both call one transport-neutral
// implementation, so authorization and error mapping never diverge.
//
// # gRPC
//
// The metasave.v1.SaveData service is registered from a hand-written
// grpc.ServiceDesc. Every method takes and returns a google.protobuf.Struct
// holding the JSON document defined in package api. The standard
// grpc.health.v1 service is registered next to it and bypasses auth.
//
// # HTTP API
//
//	POST   /api/games                                       register a game
//	POST   /api/games/{game}/authorities                    grant authority
//	DELETE /api/games/{game}/authorities/{account}          revoke authority
//	GET    /api/accounts/{account}/permissions              list grants
//	GET    /api/games/{game}/world/{route}[/{key}]          read world record
//	PUT    /api/games/{game}/world/{route}                  upsert world entry
//	PATCH  /api/games/{game}/world/{route}                  numeric merge
//	DELETE /api/games/{game}/world/{route}/{key}            remove world entry
//	GET    /api/games/{game}/users/{user}/{route}[/{key}]   read user record
//	PUT    /api/games/{game}/users/{user}/{route}           upsert user entry
//	DELETE /api/games/{game}/users/{user}/{route}/{key}     remove user entry
//	GET    /api/games/{game}/events                         ledger page
//	GET    /api/games/{game}/events/stream                  live ledger (SSE)
//	GET    /api/audit                                       audit log
//
// Errors are JSON bodies of the form {"error": "...", "kind": "..."} where
// kind names the failure: invalid_authority (403), invalid_access (403),
// already_registered (409), not_found (404), bad_size (400),
// capacity_exceeded (413), bad_request (400), unavailable (503) or
// internal (500).
//
// # Health Endpoints
//
//	GET /health        - Always returns 200 OK (liveness)
//	GET /health/ready  - Returns 200 when the store answers (readiness)
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Run listens on TCP, or on a tailnet through tsnet when tailscale is
// enabled, and shuts down gracefully within server.shutdown_timeout.
package gateway
