// ABOUTME: Game lifecycle and authority administration operations
// ABOUTME: RegisterGame, AddAuthority and RemoveAuthority, each audited in the same transaction

package savedata

import (
	"context"
	"fmt"

	"github.com/2389/metasave/internal/record"
	"github.com/2389/metasave/internal/store"
)

// RegisterGame registers game and grants caller InternalExternal access to it.
func (s *Service) RegisterGame(ctx context.Context, caller record.AccountID, game record.GameID) error {
	err := s.update(ctx, "register_game", caller, func(t *txn) error {
		exists, err := s.registry.GameExists(ctx, t, game)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("game %s: %w", game, record.ErrAlreadyRegistered)
		}

		if err := s.registry.Grant(ctx, t, caller, game, record.AccessInternalExternal); err != nil {
			return err
		}
		return t.AppendAudit(ctx, &store.AuditEntry{
			Actor:  caller,
			Action: store.AuditRegisterGame,
			Game:   game,
			Target: caller,
			Detail: map[string]any{"access": record.AccessInternalExternal.String()},
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("registered game", "game", game, "authority", caller)
	return nil
}

// AddAuthority grants target access to game. The caller must hold a
// permission for game and target must not.
func (s *Service) AddAuthority(ctx context.Context, caller record.AccountID, game record.GameID, target record.AccountID, access record.Access) error {
	err := s.update(ctx, "add_authority", caller, func(t *txn) error {
		held, err := s.registry.Holds(ctx, t, caller, game)
		if err != nil {
			return err
		}
		if !held {
			return fmt.Errorf("%s holds no permission for game %s: %w", caller, game, record.ErrInvalidAuthority)
		}

		if err := s.registry.Grant(ctx, t, target, game, access); err != nil {
			return err
		}
		return t.AppendAudit(ctx, &store.AuditEntry{
			Actor:  caller,
			Action: store.AuditGrantAuthority,
			Game:   game,
			Target: target,
			Detail: map[string]any{"access": access.String()},
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("granted authority", "game", game, "by", caller, "target", target, "access", access)
	return nil
}

// RemoveAuthority revokes target's permission for game. The caller must
// hold a permission for game; removing oneself is allowed, and removing
// the last holder unregisters the game.
func (s *Service) RemoveAuthority(ctx context.Context, caller record.AccountID, game record.GameID, target record.AccountID) error {
	err := s.update(ctx, "remove_authority", caller, func(t *txn) error {
		held, err := s.registry.Holds(ctx, t, caller, game)
		if err != nil {
			return err
		}
		if !held {
			return fmt.Errorf("%s holds no permission for game %s: %w", caller, game, record.ErrInvalidAuthority)
		}

		if err := s.registry.Revoke(ctx, t, target, game); err != nil {
			return err
		}
		return t.AppendAudit(ctx, &store.AuditEntry{
			Actor:  caller,
			Action: store.AuditRevokeAuthority,
			Game:   game,
			Target: target,
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("revoked authority", "game", game, "by", caller, "target", target)
	return nil
}
