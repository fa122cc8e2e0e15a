// ABOUTME: Store interface and transaction boundary for save-data persistence
// ABOUTME: Defines Tx (keyed maps, game index, event ledger, audit log) and Open

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2389/metasave/internal/record"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// errReadOnly is returned by writes attempted inside View.
var errReadOnly = errors.New("write in read-only transaction")

// EventType names a domain event recorded in the ledger.
type EventType string

const (
	// EventWorldDataUpdated is recorded when a world entry is inserted or replaced.
	EventWorldDataUpdated EventType = "world_data_updated"
)

// Event is a domain event appended to a game's ledger.
type Event struct {
	ID        string
	Sequence  uint64 // assigned by the store on append
	Game      record.GameID
	Type      EventType
	Route     record.Route
	Actor     record.AccountID
	Entry     record.DataEntry
	CreatedAt time.Time
}

// Tx is the view of persistent state available inside one operation.
// Records and permission lists returned by Tx are copies; callers may mutate
// them freely and must Put them back to persist changes.
type Tx interface {
	// World records, keyed by (game, route).
	WorldRecord(ctx context.Context, game record.GameID, route record.Route) (record.DataRecord, bool, error)
	PutWorldRecord(ctx context.Context, game record.GameID, route record.Route, rec record.DataRecord) error

	// User records, keyed by (game, user, route).
	UserRecord(ctx context.Context, game record.GameID, user record.AccountID, route record.Route) (record.DataRecord, bool, error)
	PutUserRecord(ctx context.Context, game record.GameID, user record.AccountID, route record.Route, rec record.DataRecord) error

	// Authority lists, keyed by account.
	Permissions(ctx context.Context, account record.AccountID) (record.Permissions, bool, error)
	PutPermissions(ctx context.Context, account record.AccountID, perms record.Permissions) error
	ForEachAuthority(ctx context.Context, fn func(account record.AccountID, perms record.Permissions) error) error

	// Game-existence index: number of permission entries held for a game.
	// Zero removes the game from the index. ForEachGame visits games in
	// ascending order.
	GameHolders(ctx context.Context, game record.GameID) (int, error)
	PutGameHolders(ctx context.Context, game record.GameID, holders int) error
	ForEachGame(ctx context.Context, fn func(game record.GameID, holders int) error) error

	// Event ledger. ListEvents returns newest first.
	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, game record.GameID, limit int) ([]*Event, error)

	// Audit log. ListAudit returns newest first.
	AppendAudit(ctx context.Context, e *AuditEntry) error
	ListAudit(ctx context.Context, f AuditFilter) ([]*AuditEntry, error)

	// Small string settings such as the genesis marker.
	Meta(ctx context.Context, key string) (string, bool, error)
	PutMeta(ctx context.Context, key, value string) error
}

// Store owns the persistent maps. Update runs fn in a transaction that is
// committed only if fn returns nil; any error discards every write fn made.
// Update calls are applied one at a time.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Backend driver names accepted by Open.
const (
	DriverMemory  = "memory"
	DriverSQLite  = "sqlite"
	DriverSQLite3 = "sqlite3"
	DriverLevelDB = "leveldb"
)

// ValidDrivers lists the backend names accepted by Open.
var ValidDrivers = []string{DriverMemory, DriverSQLite, DriverSQLite3, DriverLevelDB}

// Open creates the backend named by driver at path.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite, "":
		return NewSQLiteStore(path)
	case DriverSQLite3:
		return NewSQLiteStoreWithDriver(path, DriverSQLite3)
	case DriverLevelDB:
		return NewLevelStore(path)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

// normalizeLimit applies the default (100) and cap (1000) to list limits.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
