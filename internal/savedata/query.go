// ABOUTME: Read-side queries over records, permissions, the event ledger and the audit log
// ABOUTME: External routes are readable by any caller; Internal routes pass the gate first

package savedata

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/metasave/internal/record"
	"github.com/2389/metasave/internal/store"
)

// checkRead applies the read rule for route.
func (s *Service) checkRead(ctx context.Context, tx store.Tx, caller record.AccountID, game record.GameID, route record.Route) error {
	switch route {
	case record.RouteExternal:
		return nil
	case record.RouteInternal:
		_, err := s.registry.Authorize(ctx, tx, caller, game, route)
		return err
	default:
		return fmt.Errorf("unknown %s: %w", route, record.ErrInvalidAccess)
	}
}

// WorldRecord returns the world record for (game, route), empty if none
// has been written.
func (s *Service) WorldRecord(ctx context.Context, caller record.AccountID, game record.GameID, route record.Route) (record.DataRecord, error) {
	var out record.DataRecord
	err := s.view(ctx, func(tx store.Tx) error {
		if err := s.checkRead(ctx, tx, caller, game, route); err != nil {
			return err
		}
		rec, _, err := tx.WorldRecord(ctx, game, route)
		out = rec
		return err
	})
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

// UserRecord returns user's record for (game, route), empty if none has
// been written.
func (s *Service) UserRecord(ctx context.Context, caller record.AccountID, game record.GameID, user record.AccountID, route record.Route) (record.DataRecord, error) {
	var out record.DataRecord
	err := s.view(ctx, func(tx store.Tx) error {
		if err := s.checkRead(ctx, tx, caller, game, route); err != nil {
			return err
		}
		rec, _, err := tx.UserRecord(ctx, game, user, route)
		out = rec
		return err
	})
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

// Permissions returns account's permission list.
func (s *Service) Permissions(ctx context.Context, account record.AccountID) (record.Permissions, error) {
	var out record.Permissions
	err := s.view(ctx, func(tx store.Tx) error {
		var err error
		out, err = s.registry.PermissionsOf(ctx, tx, account)
		return err
	})
	return out, err
}

// GameExists reports whether game is registered.
func (s *Service) GameExists(ctx context.Context, game record.GameID) (bool, error) {
	var exists bool
	err := s.view(ctx, func(tx store.Tx) error {
		var err error
		exists, err = s.registry.GameExists(ctx, tx, game)
		return err
	})
	return exists, err
}

// Events returns game's ledger, newest first. Events on the Internal
// route are omitted unless caller holds InternalExternal for game, so limit
// bounds the events scanned rather than the events returned.
func (s *Service) Events(ctx context.Context, caller record.AccountID, game record.GameID, limit int) ([]*store.Event, error) {
	var out []*store.Event
	err := s.view(ctx, func(tx store.Tx) error {
		events, err := tx.ListEvents(ctx, game, limit)
		if err != nil {
			return err
		}
		internal, err := s.canRead(ctx, tx, caller, game, record.RouteInternal)
		if err != nil {
			return err
		}
		for _, e := range events {
			if e.Route == record.RouteExternal || internal {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

// CanRead reports whether caller may read game's records on route.
func (s *Service) CanRead(ctx context.Context, caller record.AccountID, game record.GameID, route record.Route) (bool, error) {
	var allowed bool
	err := s.view(ctx, func(tx store.Tx) error {
		var err error
		allowed, err = s.canRead(ctx, tx, caller, game, route)
		return err
	})
	return allowed, err
}

// canRead is checkRead with the gate's refusals reported as false.
func (s *Service) canRead(ctx context.Context, tx store.Tx, caller record.AccountID, game record.GameID, route record.Route) (bool, error) {
	err := s.checkRead(ctx, tx, caller, game, route)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, record.ErrInvalidAuthority), errors.Is(err, record.ErrInvalidAccess):
		return false, nil
	default:
		return false, err
	}
}

// Audit returns administrative actions matching f, newest first.
func (s *Service) Audit(ctx context.Context, f store.AuditFilter) ([]*store.AuditEntry, error) {
	var out []*store.AuditEntry
	err := s.view(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListAudit(ctx, f)
		return err
	})
	return out, err
}

// Reindex rebuilds the game-existence index and returns how many games
// were corrected.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	var changed int
	err := s.store.Update(ctx, func(tx store.Tx) error {
		var err error
		changed, err = s.registry.Reindex(ctx, tx)
		return err
	})
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		s.logger.Warn("game index rebuilt", "changed", changed)
	}
	return changed, nil
}

// Ping checks that the store answers.
func (s *Service) Ping(ctx context.Context) error {
	return s.view(ctx, func(tx store.Tx) error {
		_, _, err := tx.Meta(ctx, "schema_version")
		return err
	})
}
