// Package authority maintains which accounts may act on which games.
//
// # Registry
//
// Each account that holds at least one grant has an ordered permission
// list of (game, access) pairs. A game is registered iff some account holds
// a permission for it. The Registry keeps a per-game holder count next to
// the lists so that existence checks do not scan every account; both are
// written in the same transaction.
//
// # Gate
//
// Authorize is the check every data operation runs first:
//
//   - no permission for the game: record.ErrInvalidAuthority
//   - Internal route without InternalExternal access: record.ErrInvalidAccess
//
// All Registry methods operate on a store.Tx supplied by the caller and never
// commit on their own.
package authority
