// ABOUTME: In-memory Store implementation for tests and ephemeral deployments
// ABOUTME: Buffers writes in a per-transaction overlay applied only on commit

package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/2389/metasave/internal/record"
)

type worldKey struct {
	game  record.GameID
	route record.Route
}

type userKey struct {
	game  record.GameID
	user  record.AccountID
	route record.Route
}

// memoryState holds the committed maps.
type memoryState struct {
	world       map[worldKey]record.DataRecord
	users       map[userKey]record.DataRecord
	authorities map[record.AccountID]record.Permissions
	holders     map[record.GameID]int
	events      []*Event
	audit       []*AuditEntry
	meta        map[string]string
	seq         uint64
}

// MemoryStore keeps all state in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	state  memoryState
	closed bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: memoryState{
			world:       make(map[worldKey]record.DataRecord),
			users:       make(map[userKey]record.DataRecord),
			authorities: make(map[record.AccountID]record.Permissions),
			holders:     make(map[record.GameID]int),
			meta:        make(map[string]string),
		},
	}
}

// Update runs fn against an overlay and applies it if fn succeeds.
func (m *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	tx := newMemoryTx(&m.state, true)
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// View runs fn against the committed state. Writes fail.
func (m *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	return fn(newMemoryTx(&m.state, false))
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// memoryTx reads through to the committed state and buffers writes.
type memoryTx struct {
	base     *memoryState
	writable bool

	world       map[worldKey]record.DataRecord
	users       map[userKey]record.DataRecord
	authorities map[record.AccountID]record.Permissions
	holders     map[record.GameID]int
	events      []*Event
	audit       []*AuditEntry
	meta        map[string]string
	seq         uint64
}

func newMemoryTx(base *memoryState, writable bool) *memoryTx {
	return &memoryTx{
		base:        base,
		writable:    writable,
		world:       make(map[worldKey]record.DataRecord),
		users:       make(map[userKey]record.DataRecord),
		authorities: make(map[record.AccountID]record.Permissions),
		holders:     make(map[record.GameID]int),
		meta:        make(map[string]string),
		seq:         base.seq,
	}
}

func (t *memoryTx) commit() {
	for k, v := range t.world {
		t.base.world[k] = v
	}
	for k, v := range t.users {
		t.base.users[k] = v
	}
	for k, v := range t.authorities {
		t.base.authorities[k] = v
	}
	for k, v := range t.holders {
		if v <= 0 {
			delete(t.base.holders, k)
			continue
		}
		t.base.holders[k] = v
	}
	for k, v := range t.meta {
		t.base.meta[k] = v
	}
	t.base.events = append(t.base.events, t.events...)
	t.base.audit = append(t.base.audit, t.audit...)
	t.base.seq = t.seq
}

func (t *memoryTx) checkWritable() error {
	if !t.writable {
		return errReadOnly
	}
	return nil
}

func (t *memoryTx) WorldRecord(ctx context.Context, game record.GameID, route record.Route) (record.DataRecord, bool, error) {
	k := worldKey{game, route}
	if rec, ok := t.world[k]; ok {
		return rec.Clone(), true, nil
	}
	rec, ok := t.base.world[k]
	if !ok {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

func (t *memoryTx) PutWorldRecord(ctx context.Context, game record.GameID, route record.Route, rec record.DataRecord) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.world[worldKey{game, route}] = rec.Clone()
	return nil
}

func (t *memoryTx) UserRecord(ctx context.Context, game record.GameID, user record.AccountID, route record.Route) (record.DataRecord, bool, error) {
	k := userKey{game, user, route}
	if rec, ok := t.users[k]; ok {
		return rec.Clone(), true, nil
	}
	rec, ok := t.base.users[k]
	if !ok {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

func (t *memoryTx) PutUserRecord(ctx context.Context, game record.GameID, user record.AccountID, route record.Route, rec record.DataRecord) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.users[userKey{game, user, route}] = rec.Clone()
	return nil
}

func (t *memoryTx) Permissions(ctx context.Context, account record.AccountID) (record.Permissions, bool, error) {
	if p, ok := t.authorities[account]; ok {
		return p.Clone(), true, nil
	}
	p, ok := t.base.authorities[account]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

func (t *memoryTx) PutPermissions(ctx context.Context, account record.AccountID, perms record.Permissions) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if perms == nil {
		perms = record.Permissions{}
	}
	t.authorities[account] = perms.Clone()
	return nil
}

// ForEachAuthority visits accounts in lexical order.
func (t *memoryTx) ForEachAuthority(ctx context.Context, fn func(account record.AccountID, perms record.Permissions) error) error {
	accounts := make([]record.AccountID, 0, len(t.base.authorities)+len(t.authorities))
	for a := range t.base.authorities {
		accounts = append(accounts, a)
	}
	for a := range t.authorities {
		if _, ok := t.base.authorities[a]; !ok {
			accounts = append(accounts, a)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })

	for _, a := range accounts {
		if err := ctx.Err(); err != nil {
			return err
		}
		perms, _, _ := t.Permissions(ctx, a)
		if err := fn(a, perms); err != nil {
			return err
		}
	}
	return nil
}

func (t *memoryTx) GameHolders(ctx context.Context, game record.GameID) (int, error) {
	if n, ok := t.holders[game]; ok {
		return n, nil
	}
	return t.base.holders[game], nil
}

func (t *memoryTx) PutGameHolders(ctx context.Context, game record.GameID, holders int) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.holders[game] = holders
	return nil
}

func (t *memoryTx) ForEachGame(ctx context.Context, fn func(game record.GameID, holders int) error) error {
	games := make([]record.GameID, 0, len(t.base.holders)+len(t.holders))
	for g := range t.base.holders {
		games = append(games, g)
	}
	for g := range t.holders {
		if _, ok := t.base.holders[g]; !ok {
			games = append(games, g)
		}
	}
	slices.Sort(games)

	for _, g := range games {
		n, _ := t.GameHolders(ctx, g)
		if n <= 0 {
			continue
		}
		if err := fn(g, n); err != nil {
			return err
		}
	}
	return nil
}

func (t *memoryTx) AppendEvent(ctx context.Context, e *Event) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	prepareEvent(e)
	t.seq++
	e.Sequence = t.seq
	t.events = append(t.events, cloneEvent(e))
	return nil
}

func (t *memoryTx) ListEvents(ctx context.Context, game record.GameID, limit int) ([]*Event, error) {
	limit = normalizeLimit(limit)
	all := slices.Concat(t.base.events, t.events)

	out := []*Event{}
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if all[i].Game == game {
			out = append(out, cloneEvent(all[i]))
		}
	}
	return out, nil
}

func (t *memoryTx) AppendAudit(ctx context.Context, e *AuditEntry) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	prepareAudit(e)
	t.seq++
	e.Sequence = t.seq
	t.audit = append(t.audit, cloneAudit(e))
	return nil
}

func (t *memoryTx) ListAudit(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	limit := normalizeLimit(f.Limit)
	all := slices.Concat(t.base.audit, t.audit)

	out := []*AuditEntry{}
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if f.matches(all[i]) {
			out = append(out, cloneAudit(all[i]))
		}
	}
	return out, nil
}

func (t *memoryTx) Meta(ctx context.Context, key string) (string, bool, error) {
	if v, ok := t.meta[key]; ok {
		return v, true, nil
	}
	v, ok := t.base.meta[key]
	return v, ok, nil
}

func (t *memoryTx) PutMeta(ctx context.Context, key, value string) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.meta[key] = value
	return nil
}
