// Package api defines the wire shapes shared by the HTTP API, the gRPC
// SaveData service, and the admin client.
//
// Requests and responses are plain structs with JSON tags. The HTTP API
// sends them as JSON bodies; the gRPC service carries the same JSON object
// inside a google.protobuf.Struct, so both transports accept identical
// documents and no code generation is needed.
//
// Keys and values are byte strings. A key is sent as UTF-8 text unless its
// key_encoding is "base64"; a value is base64 unless its value_encoding is
// "utf8". Game ids travel as decimal strings so they survive the float64
// numbers of google.protobuf.Value.
package api
