// Package savedata implements the save-data operations.
//
// # Operations
//
// Game lifecycle and administration:
//
//   - RegisterGame: first caller to register a game becomes its
//     InternalExternal authority
//   - AddAuthority / RemoveAuthority: existing authorities grant and revoke
//
// World data, one record per (game, route):
//
//   - UpdateWorldRecord: insert or replace an entry, emits world_data_updated
//   - RemoveWorldRecord: remove an entry
//   - ModWorldRecord: add a signed 32-bit little-endian delta in place
//
// User data, one record per (game, user, route):
//
//   - UpdateUserRecord / RemoveUserRecord
//
// Every operation is a single store.Update. The authorization gate runs
// first; if any check fails the error is returned and no write survives.
//
// # Events
//
// Events are appended to the store's ledger inside the operation and passed
// to the EventSink only after the commit succeeds, so a sink never sees an
// event for a rolled-back write.
//
// # Errors
//
// Failures wrap the record package sentinels (ErrInvalidAuthority,
// ErrInvalidAccess, ErrAlreadyRegistered, ErrNotFound, ErrBadSize,
// ErrCapacityExceeded); match them with errors.Is.
package savedata
