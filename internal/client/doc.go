// Package client is a Go client for the metasave SaveData gRPC service.
//
// # Overview
//
// Client wraps a grpc.ClientConn and exposes each SaveData method with
// record types instead of wire documents:
//
//	c, err := client.Dial("localhost:50061", client.WithToken(token))
//	if err != nil { ... }
//	defer c.Close()
//
//	err = c.UpdateWorldRecord(ctx, 1, record.RouteExternal,
//	    record.DataEntry{Key: []byte("Time"), Value: record.EncodeInt32(1)})
//
// # Credentials
//
// Exactly one credential option is normally given:
//
//   - WithToken sends a JWT as an authorization bearer token
//   - WithSSHSigner signs every call with an SSH key and a fresh nonce
//   - WithAccount names the caller to a server running in insecure mode
//
// # Errors
//
// Failed calls return *Error. It unwraps to the record sentinel the server
// reported, so errors.Is(err, record.ErrInvalidAuthority) works across the
// wire.
package client
