package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/metasave/internal/record"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// eachBackend runs fn against a fresh instance of every backend.
func eachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	backends := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return setupTestStore(t) },
		"sqlite3": func(t *testing.T) Store {
			s, err := NewSQLiteStoreWithDriver(filepath.Join(t.TempDir(), "test3.db"), DriverSQLite3)
			require.NoError(t, err)
			return s
		},
		"leveldb": func(t *testing.T) Store {
			s, err := NewLevelStore(filepath.Join(t.TempDir(), "level"))
			require.NoError(t, err)
			return s
		},
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { s.Close() })
			fn(t, s)
		})
	}
}

var errAbort = errors.New("abort")

func TestStore_WorldRecordRoundTrip(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rec := record.DataRecord{
			{Key: []byte("Time"), Value: record.EncodeInt32(1)},
			{Key: []byte("b"), Value: []byte{}},
		}

		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			return tx.PutWorldRecord(ctx, 7, record.RouteInternal, rec)
		}))

		require.NoError(t, s.View(ctx, func(tx Tx) error {
			got, ok, err := tx.WorldRecord(ctx, 7, record.RouteInternal)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, rec, got)

			_, ok, err = tx.WorldRecord(ctx, 7, record.RouteExternal)
			require.NoError(t, err)
			assert.False(t, ok, "routes are separate records")
			return nil
		}))
	})
}

func TestStore_UserRecordsAreKeyedByUser(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			if err := tx.PutUserRecord(ctx, 1, "alice", record.RouteExternal,
				record.DataRecord{{Key: []byte("k"), Value: []byte("a")}}); err != nil {
				return err
			}
			return tx.PutUserRecord(ctx, 1, "bob", record.RouteExternal,
				record.DataRecord{{Key: []byte("k"), Value: []byte("b")}})
		}))

		require.NoError(t, s.View(ctx, func(tx Tx) error {
			got, ok, err := tx.UserRecord(ctx, 1, "alice", record.RouteExternal)
			require.NoError(t, err)
			require.True(t, ok)
			v, _ := got.Get([]byte("k"))
			assert.Equal(t, []byte("a"), v)

			_, ok, err = tx.UserRecord(ctx, 2, "alice", record.RouteExternal)
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		}))
	})
}

func TestStore_UpdateErrorDiscardsWrites(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		err := s.Update(ctx, func(tx Tx) error {
			require.NoError(t, tx.PutPermissions(ctx, "alice", record.Permissions{{Game: 1}}))
			require.NoError(t, tx.PutGameHolders(ctx, 1, 1))
			require.NoError(t, tx.AppendEvent(ctx, &Event{Game: 1, Type: EventWorldDataUpdated}))
			require.NoError(t, tx.PutMeta(ctx, "k", "v"))
			return errAbort
		})
		assert.ErrorIs(t, err, errAbort)

		require.NoError(t, s.View(ctx, func(tx Tx) error {
			_, ok, err := tx.Permissions(ctx, "alice")
			require.NoError(t, err)
			assert.False(t, ok)

			n, err := tx.GameHolders(ctx, 1)
			require.NoError(t, err)
			assert.Zero(t, n)

			events, err := tx.ListEvents(ctx, 1, 0)
			require.NoError(t, err)
			assert.Empty(t, events)

			_, ok, err = tx.Meta(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		}))
	})
}

func TestStore_ReadYourWrites(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			require.NoError(t, tx.PutGameHolders(ctx, 5, 2))
			n, err := tx.GameHolders(ctx, 5)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			require.NoError(t, tx.PutGameHolders(ctx, 5, 0))
			n, err = tx.GameHolders(ctx, 5)
			require.NoError(t, err)
			assert.Zero(t, n)

			require.NoError(t, tx.PutPermissions(ctx, "carol", record.Permissions{}))
			perms, ok, err := tx.Permissions(ctx, "carol")
			require.NoError(t, err)
			assert.True(t, ok, "an empty list still marks an authority")
			assert.Empty(t, perms)
			return nil
		}))
	})
}

func TestStore_ReturnedRecordsAreCopies(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			return tx.PutWorldRecord(ctx, 1, record.RouteExternal,
				record.DataRecord{{Key: []byte("k"), Value: []byte("v")}})
		}))

		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			rec, _, err := tx.WorldRecord(ctx, 1, record.RouteExternal)
			require.NoError(t, err)
			rec[0].Value[0] = 'x'

			again, _, err := tx.WorldRecord(ctx, 1, record.RouteExternal)
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), again[0].Value)
			return nil
		}))
	})
}

func TestStore_ForEachAuthority(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			require.NoError(t, tx.PutPermissions(ctx, "bob", record.Permissions{{Game: 2}}))
			return tx.PutPermissions(ctx, "alice", record.Permissions{{Game: 1, Access: record.AccessInternalExternal}})
		}))

		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			// pending write in the same transaction is visited too
			require.NoError(t, tx.PutPermissions(ctx, "carol", record.Permissions{}))

			var seen []record.AccountID
			err := tx.ForEachAuthority(ctx, func(a record.AccountID, p record.Permissions) error {
				seen = append(seen, a)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []record.AccountID{"alice", "bob", "carol"}, seen)
			return nil
		}))
	})
}

func TestStore_EventsNewestFirst(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				e := &Event{
					Game:  9,
					Type:  EventWorldDataUpdated,
					Route: record.RouteExternal,
					Actor: "alice",
					Entry: record.DataEntry{Key: []byte{byte('a' + i)}, Value: []byte{byte(i)}},
				}
				if err := tx.AppendEvent(ctx, e); err != nil {
					return err
				}
				assert.NotEmpty(t, e.ID)
				assert.NotZero(t, e.Sequence)
				return nil
			}))
		}
		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			return tx.AppendEvent(ctx, &Event{Game: 10, Type: EventWorldDataUpdated})
		}))

		require.NoError(t, s.View(ctx, func(tx Tx) error {
			events, err := tx.ListEvents(ctx, 9, 0)
			require.NoError(t, err)
			require.Len(t, events, 3)
			assert.Equal(t, []byte("c"), events[0].Entry.Key)
			assert.Equal(t, []byte("a"), events[2].Entry.Key)
			assert.Greater(t, events[0].Sequence, events[1].Sequence)
			assert.Equal(t, record.AccountID("alice"), events[0].Actor)

			limited, err := tx.ListEvents(ctx, 9, 2)
			require.NoError(t, err)
			assert.Len(t, limited, 2)
			return nil
		}))
	})
}

func TestStore_ViewIsReadOnly(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		err := s.View(ctx, func(tx Tx) error {
			return tx.PutMeta(ctx, "k", "v")
		})
		assert.Error(t, err)
	})
}

func TestStore_Meta(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			return tx.PutMeta(ctx, "genesis_applied", "1")
		}))
		require.NoError(t, s.View(ctx, func(tx Tx) error {
			v, ok, err := tx.Meta(ctx, "genesis_applied")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "1", v)
			return nil
		}))
	})
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	for _, driver := range ValidDrivers {
		s, err := Open(driver, filepath.Join(dir, driver))
		require.NoError(t, err, driver)
		require.NoError(t, s.Close())
	}

	_, err := Open("postgres", "x")
	assert.Error(t, err)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeLimit(0))
	assert.Equal(t, 100, normalizeLimit(-5))
	assert.Equal(t, 7, normalizeLimit(7))
	assert.Equal(t, 1000, normalizeLimit(5000))
}
