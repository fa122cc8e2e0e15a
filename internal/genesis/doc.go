// Package genesis seeds a fresh store with its initial games.
//
// Each GameSeed names a game, the account that becomes its
// InternalExternal authority, and the entries of its External world
// record. Integer seeds are stored as 4-byte little-endian values so they
// can be merged with ModWorldRecord.
//
// Apply validates the full configuration first: a missing authority or a
// duplicate name or id aborts bootstrap and writes nothing. A meta marker
// makes a second Apply a no-op.
package genesis
