// Package record defines the save-data model shared by every other package.
//
// # Types
//
//   - GameID, AccountID: identifiers. Accounts are supplied by the host
//     (token subject or key fingerprint) and never minted here.
//   - Route: visibility partition of a record, External or Internal.
//   - Access: how much of the Route space a Permission unlocks.
//   - Permission / Permissions: one account's grants, bounded to MaxPermissions.
//   - DataEntry / DataRecord: bounded key-value pairs and the bounded,
//     key-unique sequence that holds them.
//
// # Bounds
//
// Keys and values are capped at 256 bytes, records at 256 entries and
// permission lists at 256 grants. Every insert checks the bound first and
// returns ErrCapacityExceeded instead of truncating.
//
// # Ordering
//
// Removal swaps the last element into the removed slot, so order is not
// preserved across deletes. The codec keeps whatever order is stored.
//
// # Numeric values
//
// Counters are 4-byte little-endian signed integers. AddInt32 adds two of
// them with wrapping arithmetic.
package record
