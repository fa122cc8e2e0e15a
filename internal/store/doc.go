// Package store provides persistent, transactional storage for save data.
//
// # Architecture
//
// Callers never touch a backend directly. Every operation runs inside
// Store.Update (read-write) or Store.View (read-only) and receives a Tx:
//
//	err := s.Update(ctx, func(tx store.Tx) error {
//	    rec, _, err := tx.WorldRecord(ctx, game, record.RouteExternal)
//	    ...
//	    return tx.PutWorldRecord(ctx, game, record.RouteExternal, rec)
//	})
//
// If fn returns an error nothing it wrote is kept. Update calls are
// serialized, so a read-check-write sequence inside one Update is atomic.
//
// # Backends
//
//   - MemoryStore: maps guarded by a mutex, for tests and ephemeral runs
//   - SQLiteStore: modernc.org/sqlite ("sqlite") or mattn/go-sqlite3 ("sqlite3")
//   - LevelStore: syndtr/goleveldb with a prefix-byte keyspace
//
// Open selects a backend by driver name.
//
// # Data
//
//   - World records keyed by (game, route)
//   - User records keyed by (game, user, route)
//   - Authority permission lists keyed by account
//   - Game index: holder count per game, used for existence checks
//   - Event ledger per game, newest first
//   - Audit log of authority administration, newest first
//   - Meta: small string settings such as the genesis marker
//
// Records and permission lists cross the Tx boundary as copies.
//
// # Testing
//
// Use NewMemoryStore() for unit tests and NewSQLiteStore(":memory:") or
// NewLevelStore(":memory:") for integration tests against a real engine.
package store
