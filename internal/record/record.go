// ABOUTME: Record model types: games, accounts, routes, access levels, entries
// ABOUTME: Bounded DataRecord and Permissions with swap-remove semantics

package record

import (
	"bytes"
	"fmt"
	"strconv"
)

// Capacity bounds.
const (
	MaxKeyLen        = 256
	MaxValueLen      = 256
	MaxRecordEntries = 256
	MaxPermissions   = 256
)

// GameID identifies a registered game. IDs are never reused.
type GameID uint64

// String renders the ID in decimal.
func (g GameID) String() string {
	return strconv.FormatUint(uint64(g), 10)
}

// ParseGameID parses a decimal game ID.
func ParseGameID(s string) (GameID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing game id %q: %w", s, err)
	}
	return GameID(n), nil
}

// AccountID is the caller identity furnished by the host.
type AccountID string

// Route partitions a record by visibility.
type Route uint8

const (
	RouteExternal Route = 0
	RouteInternal Route = 1
)

// String returns "external" or "internal".
func (r Route) String() string {
	switch r {
	case RouteExternal:
		return "external"
	case RouteInternal:
		return "internal"
	default:
		return "route(" + strconv.Itoa(int(r)) + ")"
	}
}

// Valid reports whether r is one of the defined routes.
func (r Route) Valid() bool {
	return r == RouteExternal || r == RouteInternal
}

// ParseRoute parses "external" or "internal".
func ParseRoute(s string) (Route, error) {
	switch s {
	case "external":
		return RouteExternal, nil
	case "internal":
		return RouteInternal, nil
	default:
		return 0, fmt.Errorf("unknown route %q", s)
	}
}

// Access is the level a Permission grants. The zero value is AccessExternal.
type Access uint8

const (
	AccessExternal         Access = 0
	AccessInternalExternal Access = 1
)

// String returns "external" or "internal_external".
func (a Access) String() string {
	switch a {
	case AccessExternal:
		return "external"
	case AccessInternalExternal:
		return "internal_external"
	default:
		return "access(" + strconv.Itoa(int(a)) + ")"
	}
}

// Valid reports whether a is one of the defined access levels.
func (a Access) Valid() bool {
	return a == AccessExternal || a == AccessInternalExternal
}

// Allows reports whether this access level may touch the given route.
// Only InternalExternal reaches Internal routes.
func (a Access) Allows(r Route) bool {
	if r == RouteInternal {
		return a == AccessInternalExternal
	}
	return true
}

// ParseAccess parses "external" or "internal_external".
func ParseAccess(s string) (Access, error) {
	switch s {
	case "external", "":
		return AccessExternal, nil
	case "internal_external":
		return AccessInternalExternal, nil
	default:
		return 0, fmt.Errorf("unknown access %q", s)
	}
}

// Permission is one account's grant for one game.
type Permission struct {
	Game   GameID
	Access Access
}

// Permissions is an account's ordered, bounded grant list.
type Permissions []Permission

// Find returns the first permission for game. Later duplicates are shadowed.
func (p Permissions) Find(game GameID) (Permission, bool) {
	i := p.index(game)
	if i < 0 {
		return Permission{}, false
	}
	return p[i], true
}

func (p Permissions) index(game GameID) int {
	for i, perm := range p {
		if perm.Game == game {
			return i
		}
	}
	return -1
}

// Append adds perm to the end of the list.
func (p Permissions) Append(perm Permission) (Permissions, error) {
	if len(p) >= MaxPermissions {
		return p, fmt.Errorf("permission list full (%d): %w", MaxPermissions, ErrCapacityExceeded)
	}
	return append(p, perm), nil
}

// Remove swap-removes the first permission for game.
func (p Permissions) Remove(game GameID) (Permissions, error) {
	i := p.index(game)
	if i < 0 {
		return p, ErrInvalidAuthority
	}
	last := len(p) - 1
	p[i] = p[last]
	return p[:last], nil
}

// Clone returns an independent copy.
func (p Permissions) Clone() Permissions {
	if p == nil {
		return nil
	}
	out := make(Permissions, len(p))
	copy(out, p)
	return out
}

// DataEntry is a single key-value pair of a record.
type DataEntry struct {
	Key   []byte
	Value []byte
}

// Validate checks the key and value bounds.
func (e DataEntry) Validate() error {
	if len(e.Key) > MaxKeyLen {
		return fmt.Errorf("key is %d bytes, max %d: %w", len(e.Key), MaxKeyLen, ErrCapacityExceeded)
	}
	if len(e.Value) > MaxValueLen {
		return fmt.Errorf("value is %d bytes, max %d: %w", len(e.Value), MaxValueLen, ErrCapacityExceeded)
	}
	return nil
}

// Clone returns a deep copy of the entry.
func (e DataEntry) Clone() DataEntry {
	return DataEntry{
		Key:   append([]byte{}, e.Key...),
		Value: append([]byte{}, e.Value...),
	}
}

// DataRecord is an ordered, bounded sequence of entries with unique keys.
type DataRecord []DataEntry

// Index returns the position of key, or -1.
func (r DataRecord) Index(key []byte) int {
	for i := range r {
		if bytes.Equal(r[i].Key, key) {
			return i
		}
	}
	return -1
}

// Get returns the value stored under key.
func (r DataRecord) Get(key []byte) ([]byte, bool) {
	i := r.Index(key)
	if i < 0 {
		return nil, false
	}
	return r[i].Value, true
}

// Upsert replaces the value of an existing key, or appends the entry.
// Appending past MaxRecordEntries fails with ErrCapacityExceeded.
func (r DataRecord) Upsert(entry DataEntry) (DataRecord, error) {
	if err := entry.Validate(); err != nil {
		return r, err
	}
	if i := r.Index(entry.Key); i >= 0 {
		r[i].Value = append([]byte{}, entry.Value...)
		return r, nil
	}
	if len(r) >= MaxRecordEntries {
		return r, fmt.Errorf("record full (%d entries): %w", MaxRecordEntries, ErrCapacityExceeded)
	}
	return append(r, entry.Clone()), nil
}

// Remove swap-removes key. The removed slot takes the last entry.
func (r DataRecord) Remove(key []byte) (DataRecord, error) {
	i := r.Index(key)
	if i < 0 {
		return r, ErrNotFound
	}
	last := len(r) - 1
	r[i] = r[last]
	return r[:last], nil
}

// Clone returns a deep copy. A nil record clones to an empty one.
func (r DataRecord) Clone() DataRecord {
	out := make(DataRecord, len(r))
	for i, e := range r {
		out[i] = e.Clone()
	}
	return out
}
