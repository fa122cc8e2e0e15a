// ABOUTME: User data repository operations keyed by (game, user, route)
// ABOUTME: Same update and remove contract as world data, without merge or events

package savedata

import (
	"context"
	"fmt"

	"github.com/2389/metasave/internal/record"
)

// UpdateUserRecord inserts entry into user's record, replacing the value if
// the key is already present.
func (s *Service) UpdateUserRecord(ctx context.Context, caller record.AccountID, game record.GameID, user record.AccountID, route record.Route, entry record.DataEntry) error {
	return s.update(ctx, "user_update_data_record", caller, func(t *txn) error {
		if _, err := s.registry.Authorize(ctx, t, caller, game, route); err != nil {
			return err
		}

		rec, _, err := t.UserRecord(ctx, game, user, route)
		if err != nil {
			return err
		}
		rec, err = rec.Upsert(entry)
		if err != nil {
			return err
		}
		return t.PutUserRecord(ctx, game, user, route, rec)
	})
}

// RemoveUserRecord removes key from user's record.
func (s *Service) RemoveUserRecord(ctx context.Context, caller record.AccountID, game record.GameID, user record.AccountID, route record.Route, key []byte) error {
	return s.update(ctx, "user_remove_data_record", caller, func(t *txn) error {
		if _, err := s.registry.Authorize(ctx, t, caller, game, route); err != nil {
			return err
		}

		rec, ok, err := t.UserRecord(ctx, game, user, route)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no %s record for %s in game %s: %w", route, user, game, record.ErrNotFound)
		}
		rec, err = rec.Remove(key)
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		return t.PutUserRecord(ctx, game, user, route, rec)
	})
}
