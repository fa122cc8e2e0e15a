// ABOUTME: World data repository operations keyed by (game, route)
// ABOUTME: Update emits world_data_updated; numeric merge adds 4-byte little-endian ints

package savedata

import (
	"context"
	"fmt"

	"github.com/2389/metasave/internal/record"
	"github.com/2389/metasave/internal/store"
)

// UpdateWorldRecord inserts entry into the world record, replacing the
// value if the key is already present.
func (s *Service) UpdateWorldRecord(ctx context.Context, caller record.AccountID, game record.GameID, route record.Route, entry record.DataEntry) error {
	return s.update(ctx, "world_update_data_record", caller, func(t *txn) error {
		if _, err := s.registry.Authorize(ctx, t, caller, game, route); err != nil {
			return err
		}

		rec, _, err := t.WorldRecord(ctx, game, route)
		if err != nil {
			return err
		}
		rec, err = rec.Upsert(entry)
		if err != nil {
			return err
		}
		if err := t.PutWorldRecord(ctx, game, route, rec); err != nil {
			return err
		}

		return t.emit(ctx, &store.Event{
			Game:  game,
			Type:  store.EventWorldDataUpdated,
			Route: route,
			Actor: caller,
			Entry: entry.Clone(),
		})
	})
}

// RemoveWorldRecord removes key from the world record. Order of the
// remaining entries is not preserved.
func (s *Service) RemoveWorldRecord(ctx context.Context, caller record.AccountID, game record.GameID, route record.Route, key []byte) error {
	return s.update(ctx, "world_remove_data_record", caller, func(t *txn) error {
		if _, err := s.registry.Authorize(ctx, t, caller, game, route); err != nil {
			return err
		}

		rec, ok, err := t.WorldRecord(ctx, game, route)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no %s world record for game %s: %w", route, game, record.ErrNotFound)
		}
		rec, err = rec.Remove(key)
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		return t.PutWorldRecord(ctx, game, route, rec)
	})
}

// ModWorldRecord adds entry's value to the stored value of the same key.
// Both must be exactly 4 bytes; the sum wraps on overflow. No event is
// emitted.
func (s *Service) ModWorldRecord(ctx context.Context, caller record.AccountID, game record.GameID, route record.Route, entry record.DataEntry) error {
	return s.update(ctx, "world_mod_data_record", caller, func(t *txn) error {
		if _, err := s.registry.Authorize(ctx, t, caller, game, route); err != nil {
			return err
		}

		rec, ok, err := t.WorldRecord(ctx, game, route)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no %s world record for game %s: %w", route, game, record.ErrNotFound)
		}
		i := rec.Index(entry.Key)
		if i < 0 {
			return fmt.Errorf("key %q: %w", entry.Key, record.ErrNotFound)
		}

		sum, err := record.AddInt32(rec[i].Value, entry.Value)
		if err != nil {
			return fmt.Errorf("key %q: %w", entry.Key, err)
		}
		rec[i].Value = sum
		return t.PutWorldRecord(ctx, game, route, rec)
	})
}
