// ABOUTME: LevelDB implementation of the Store interface using syndtr/goleveldb
// ABOUTME: Prefix-byte keyspace with a read-your-writes overlay flushed as one batch

package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	ldb_opt "github.com/syndtr/goleveldb/leveldb/opt"
	ldb_storage "github.com/syndtr/goleveldb/leveldb/storage"
	ldb_util "github.com/syndtr/goleveldb/leveldb/util"

	"github.com/2389/metasave/internal/record"
)

// Key prefixes. Game IDs and sequences are big-endian so that iteration
// order matches numeric order.
const (
	prefixWorld     byte = 'W' // game | route
	prefixUser      byte = 'U' // game | route | account
	prefixAuthority byte = 'A' // account
	prefixGame      byte = 'G' // game
	prefixEvent     byte = 'E' // game | seq
	prefixAudit     byte = 'L' // seq
	prefixMeta      byte = 'M' // key
	keySequence          = "S"
)

// LevelStore implements the Store interface on a LevelDB database.
type LevelStore struct {
	db     *leveldb.DB
	logger *slog.Logger

	// serializes Update so reads of the live database see only committed data
	mu sync.Mutex
}

// NewLevelStore opens (or creates) a LevelDB database at path. The path
// ":memory:" opens a non-persistent in-memory database.
func NewLevelStore(path string) (*LevelStore, error) {
	logger := slog.Default().With("component", "store", "driver", DriverLevelDB)

	var (
		db  *leveldb.DB
		err error
	)
	opt := &ldb_opt.Options{
		ErrorIfMissing: false,
	}
	switch path {
	case "":
		return nil, errors.New("database path is required")
	case ":memory:":
		db, err = leveldb.Open(ldb_storage.NewMemStorage(), opt)
	default:
		db, err = leveldb.OpenFile(path, opt)
	}
	if err != nil {
		return nil, fmt.Errorf("opening leveldb: %w", err)
	}

	logger.Info("LevelDB store initialized", "path", path)
	return &LevelStore{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *LevelStore) Close() error {
	s.logger.Info("closing LevelDB store")
	return s.db.Close()
}

// Update runs fn against an overlay and writes it as one batch if fn succeeds.
func (s *LevelStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &levelTx{
		src:      s.db,
		writable: true,
		pending:  make(map[string]pendingValue),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(tx.pending) == 0 {
		return nil
	}

	batch := new(leveldb.Batch)
	for k, v := range tx.pending {
		if v.deleted {
			batch.Delete([]byte(k))
		} else {
			batch.Put([]byte(k), v.value)
		}
	}
	if err := s.db.Write(batch, nil); err != nil {
		return mapLevelErr(err)
	}
	return nil
}

// View runs fn against a snapshot of the database.
func (s *LevelStore) View(ctx context.Context, fn func(tx Tx) error) error {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return mapLevelErr(err)
	}
	defer snap.Release()

	return fn(&levelTx{src: snap, pending: map[string]pendingValue{}})
}

func mapLevelErr(err error) error {
	if errors.Is(err, leveldb.ErrClosed) {
		return ErrClosed
	}
	return err
}

// levelReader is satisfied by both *leveldb.DB and *leveldb.Snapshot.
type levelReader interface {
	Get(key []byte, ro *ldb_opt.ReadOptions) ([]byte, error)
	NewIterator(slice *ldb_util.Range, ro *ldb_opt.ReadOptions) iterator.Iterator
}

type pendingValue struct {
	value   []byte
	deleted bool
}

// levelTx reads through its pending writes to the underlying reader.
type levelTx struct {
	src      levelReader
	writable bool
	pending  map[string]pendingValue
}

func (t *levelTx) get(key []byte) ([]byte, bool, error) {
	if p, ok := t.pending[string(key)]; ok {
		if p.deleted {
			return nil, false, nil
		}
		return p.value, true, nil
	}
	val, err := t.src.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapLevelErr(err)
	}
	return val, true, nil
}

func (t *levelTx) put(key, value []byte) error {
	if !t.writable {
		return errReadOnly
	}
	t.pending[string(key)] = pendingValue{value: append([]byte{}, value...)}
	return nil
}

func (t *levelTx) delete(key []byte) error {
	if !t.writable {
		return errReadOnly
	}
	t.pending[string(key)] = pendingValue{deleted: true}
	return nil
}

// scan visits every live key under prefix, merging pending writes with the
// database, in ascending or descending key order. fn returns false to stop.
func (t *levelTx) scan(prefix []byte, reverse bool, fn func(key, value []byte) (bool, error)) error {
	var overlay []string
	for k, v := range t.pending {
		if !v.deleted && bytes.HasPrefix([]byte(k), prefix) {
			overlay = append(overlay, k)
		}
	}
	sort.Strings(overlay)
	if reverse {
		for i, j := 0, len(overlay)-1; i < j; i, j = i+1, j-1 {
			overlay[i], overlay[j] = overlay[j], overlay[i]
		}
	}

	iter := t.src.NewIterator(ldb_util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var dbOK bool
	if reverse {
		dbOK = iter.Last()
	} else {
		dbOK = iter.First()
	}
	advance := func() {
		if reverse {
			dbOK = iter.Prev()
		} else {
			dbOK = iter.Next()
		}
	}

	for dbOK || len(overlay) > 0 {
		// skip database keys shadowed by a pending write
		if dbOK {
			if _, shadowed := t.pending[string(iter.Key())]; shadowed {
				advance()
				continue
			}
		}

		var key, value []byte
		takeOverlay := false
		switch {
		case !dbOK:
			takeOverlay = true
		case len(overlay) > 0:
			c := bytes.Compare([]byte(overlay[0]), iter.Key())
			takeOverlay = (c < 0) != reverse
		}

		if takeOverlay {
			key = []byte(overlay[0])
			value = t.pending[overlay[0]].value
			overlay = overlay[1:]
		} else {
			key = append([]byte{}, iter.Key()...)
			value = append([]byte{}, iter.Value()...)
			advance()
		}

		more, err := fn(key, value)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return mapLevelErr(iter.Error())
}

func beUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func worldKeyBytes(game record.GameID, route record.Route) []byte {
	k := append([]byte{prefixWorld}, beUint64(uint64(game))...)
	return append(k, byte(route))
}

func userKeyBytes(game record.GameID, user record.AccountID, route record.Route) []byte {
	k := append([]byte{prefixUser}, beUint64(uint64(game))...)
	k = append(k, byte(route))
	return append(k, user...)
}

func authorityKeyBytes(account record.AccountID) []byte {
	return append([]byte{prefixAuthority}, account...)
}

func gameKeyBytes(game record.GameID) []byte {
	return append([]byte{prefixGame}, beUint64(uint64(game))...)
}

func eventPrefix(game record.GameID) []byte {
	return append([]byte{prefixEvent}, beUint64(uint64(game))...)
}

func (t *levelTx) loadRecord(key []byte) (record.DataRecord, bool, error) {
	data, ok, err := t.get(key)
	if err != nil || !ok {
		return nil, false, err
	}
	rec, err := record.UnmarshalRecord(data)
	if err != nil {
		return nil, false, fmt.Errorf("decoding record: %w", err)
	}
	return rec, true, nil
}

func (t *levelTx) WorldRecord(ctx context.Context, game record.GameID, route record.Route) (record.DataRecord, bool, error) {
	return t.loadRecord(worldKeyBytes(game, route))
}

func (t *levelTx) PutWorldRecord(ctx context.Context, game record.GameID, route record.Route, rec record.DataRecord) error {
	return t.put(worldKeyBytes(game, route), record.MarshalRecord(rec))
}

func (t *levelTx) UserRecord(ctx context.Context, game record.GameID, user record.AccountID, route record.Route) (record.DataRecord, bool, error) {
	return t.loadRecord(userKeyBytes(game, user, route))
}

func (t *levelTx) PutUserRecord(ctx context.Context, game record.GameID, user record.AccountID, route record.Route, rec record.DataRecord) error {
	return t.put(userKeyBytes(game, user, route), record.MarshalRecord(rec))
}

func (t *levelTx) Permissions(ctx context.Context, account record.AccountID) (record.Permissions, bool, error) {
	data, ok, err := t.get(authorityKeyBytes(account))
	if err != nil || !ok {
		return nil, false, err
	}
	perms, err := record.UnmarshalPermissions(data)
	if err != nil {
		return nil, false, fmt.Errorf("decoding permissions for %s: %w", account, err)
	}
	return perms, true, nil
}

func (t *levelTx) PutPermissions(ctx context.Context, account record.AccountID, perms record.Permissions) error {
	return t.put(authorityKeyBytes(account), record.MarshalPermissions(perms))
}

// ForEachAuthority visits accounts in lexical order.
func (t *levelTx) ForEachAuthority(ctx context.Context, fn func(account record.AccountID, perms record.Permissions) error) error {
	type row struct {
		account record.AccountID
		perms   record.Permissions
	}
	var all []row
	err := t.scan([]byte{prefixAuthority}, false, func(key, value []byte) (bool, error) {
		perms, err := record.UnmarshalPermissions(value)
		if err != nil {
			return false, fmt.Errorf("decoding permissions for %s: %w", key[1:], err)
		}
		all = append(all, row{record.AccountID(key[1:]), perms})
		return true, nil
	})
	if err != nil {
		return err
	}

	for _, r := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r.account, r.perms); err != nil {
			return err
		}
	}
	return nil
}

func (t *levelTx) GameHolders(ctx context.Context, game record.GameID) (int, error) {
	data, ok, err := t.get(gameKeyBytes(game))
	if err != nil || !ok {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt game index entry for %s", game)
	}
	return int(binary.BigEndian.Uint64(data)), nil
}

func (t *levelTx) PutGameHolders(ctx context.Context, game record.GameID, holders int) error {
	if holders <= 0 {
		return t.delete(gameKeyBytes(game))
	}
	return t.put(gameKeyBytes(game), beUint64(uint64(holders)))
}

func (t *levelTx) ForEachGame(ctx context.Context, fn func(game record.GameID, holders int) error) error {
	type row struct {
		game    record.GameID
		holders int
	}
	var all []row
	err := t.scan([]byte{prefixGame}, false, func(key, value []byte) (bool, error) {
		if len(key) != 9 || len(value) != 8 {
			return false, errors.New("corrupt game index entry")
		}
		all = append(all, row{
			game:    record.GameID(binary.BigEndian.Uint64(key[1:])),
			holders: int(binary.BigEndian.Uint64(value)),
		})
		return true, nil
	})
	if err != nil {
		return err
	}

	for _, r := range all {
		if err := fn(r.game, r.holders); err != nil {
			return err
		}
	}
	return nil
}

// nextSequence returns the next value of the shared event/audit counter.
func (t *levelTx) nextSequence() (uint64, error) {
	data, ok, err := t.get([]byte(keySequence))
	if err != nil {
		return 0, err
	}
	var seq uint64
	if ok {
		if len(data) != 8 {
			return 0, errors.New("corrupt sequence counter")
		}
		seq = binary.BigEndian.Uint64(data)
	}
	seq++
	if err := t.put([]byte(keySequence), beUint64(seq)); err != nil {
		return 0, err
	}
	return seq, nil
}

func (t *levelTx) AppendEvent(ctx context.Context, e *Event) error {
	if !t.writable {
		return errReadOnly
	}
	prepareEvent(e)
	seq, err := t.nextSequence()
	if err != nil {
		return err
	}
	e.Sequence = seq

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return t.put(append(eventPrefix(e.Game), beUint64(seq)...), data)
}

func (t *levelTx) ListEvents(ctx context.Context, game record.GameID, limit int) ([]*Event, error) {
	limit = normalizeLimit(limit)
	events := []*Event{}
	err := t.scan(eventPrefix(game), true, func(_, value []byte) (bool, error) {
		var e Event
		if err := json.Unmarshal(value, &e); err != nil {
			return false, fmt.Errorf("unmarshaling event: %w", err)
		}
		e.Entry = e.Entry.Clone()
		events = append(events, &e)
		return len(events) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (t *levelTx) AppendAudit(ctx context.Context, e *AuditEntry) error {
	if !t.writable {
		return errReadOnly
	}
	prepareAudit(e)
	seq, err := t.nextSequence()
	if err != nil {
		return err
	}
	e.Sequence = seq

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}
	return t.put(append([]byte{prefixAudit}, beUint64(seq)...), data)
}

func (t *levelTx) ListAudit(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	limit := normalizeLimit(f.Limit)
	entries := []*AuditEntry{}
	err := t.scan([]byte{prefixAudit}, true, func(_, value []byte) (bool, error) {
		var e AuditEntry
		if err := json.Unmarshal(value, &e); err != nil {
			return false, fmt.Errorf("unmarshaling audit entry: %w", err)
		}
		if f.matches(&e) {
			entries = append(entries, &e)
		}
		return len(entries) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (t *levelTx) Meta(ctx context.Context, key string) (string, bool, error) {
	data, ok, err := t.get(append([]byte{prefixMeta}, key...))
	if err != nil || !ok {
		return "", false, err
	}
	return string(data), true, nil
}

func (t *levelTx) PutMeta(ctx context.Context, key, value string) error {
	return t.put(append([]byte{prefixMeta}, key...), []byte(value))
}
