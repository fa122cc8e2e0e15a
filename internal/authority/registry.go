// ABOUTME: Authority registry: per-account permission lists and the game-holder index
// ABOUTME: Grant, Revoke, Lookup and game existence, all inside a caller-supplied store.Tx

package authority

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/metasave/internal/record"
	"github.com/2389/metasave/internal/store"
)

// Registry reads and mutates authority lists within a transaction.
type Registry struct {
	logger *slog.Logger
}

// NewRegistry creates a Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger.With("component", "authority")}
}

// Grant gives account the access level for game. An account holds at most
// one permission per game; a second grant fails with ErrInvalidAuthority.
func (r *Registry) Grant(ctx context.Context, tx store.Tx, account record.AccountID, game record.GameID, access record.Access) error {
	if !access.Valid() {
		return fmt.Errorf("unknown access level %d: %w", access, record.ErrInvalidAccess)
	}

	perms, _, err := tx.Permissions(ctx, account)
	if err != nil {
		return fmt.Errorf("loading permissions: %w", err)
	}
	if _, held := perms.Find(game); held {
		return fmt.Errorf("%s already holds a permission for game %s: %w", account, game, record.ErrInvalidAuthority)
	}

	perms, err = perms.Append(record.Permission{Game: game, Access: access})
	if err != nil {
		return err
	}
	if err := tx.PutPermissions(ctx, account, perms); err != nil {
		return fmt.Errorf("saving permissions: %w", err)
	}
	return r.adjustHolders(ctx, tx, game, 1)
}

// Revoke removes account's first permission for game.
func (r *Registry) Revoke(ctx context.Context, tx store.Tx, account record.AccountID, game record.GameID) error {
	perms, ok, err := tx.Permissions(ctx, account)
	if err != nil {
		return fmt.Errorf("loading permissions: %w", err)
	}
	if !ok {
		return fmt.Errorf("%s is not an authority: %w", account, record.ErrInvalidAuthority)
	}

	perms, err = perms.Remove(game)
	if err != nil {
		return fmt.Errorf("%s holds no permission for game %s: %w", account, game, err)
	}
	if err := tx.PutPermissions(ctx, account, perms); err != nil {
		return fmt.Errorf("saving permissions: %w", err)
	}
	return r.adjustHolders(ctx, tx, game, -1)
}

// PermissionsOf returns account's permission list, empty if it has none.
func (r *Registry) PermissionsOf(ctx context.Context, tx store.Tx, account record.AccountID) (record.Permissions, error) {
	perms, _, err := tx.Permissions(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("loading permissions: %w", err)
	}
	if perms == nil {
		perms = record.Permissions{}
	}
	return perms, nil
}

// Lookup returns the access level of account's first permission for game.
func (r *Registry) Lookup(ctx context.Context, tx store.Tx, account record.AccountID, game record.GameID) (record.Access, bool, error) {
	perms, _, err := tx.Permissions(ctx, account)
	if err != nil {
		return 0, false, fmt.Errorf("loading permissions: %w", err)
	}
	perm, ok := perms.Find(game)
	return perm.Access, ok, nil
}

// GameExists reports whether any account holds a permission for game.
func (r *Registry) GameExists(ctx context.Context, tx store.Tx, game record.GameID) (bool, error) {
	n, err := tx.GameHolders(ctx, game)
	if err != nil {
		return false, fmt.Errorf("reading game index: %w", err)
	}
	return n > 0, nil
}

// Reindex rebuilds the game-holder index from the permission lists and
// returns the number of games whose count changed.
func (r *Registry) Reindex(ctx context.Context, tx store.Tx) (int, error) {
	want := make(map[record.GameID]int)
	err := tx.ForEachAuthority(ctx, func(_ record.AccountID, perms record.Permissions) error {
		for _, p := range perms {
			want[p.Game]++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanning authorities: %w", err)
	}

	have := make(map[record.GameID]int)
	err = tx.ForEachGame(ctx, func(game record.GameID, holders int) error {
		have[game] = holders
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanning game index: %w", err)
	}

	changed := 0
	// games indexed but no longer held drop out
	for game := range have {
		if _, ok := want[game]; !ok {
			want[game] = 0
		}
	}
	for game, n := range want {
		if have[game] == n {
			continue
		}
		r.logger.Warn("game index out of date", "game", game, "indexed", have[game], "actual", n)
		if err := tx.PutGameHolders(ctx, game, n); err != nil {
			return changed, fmt.Errorf("updating game index: %w", err)
		}
		changed++
	}
	return changed, nil
}

func (r *Registry) adjustHolders(ctx context.Context, tx store.Tx, game record.GameID, delta int) error {
	n, err := tx.GameHolders(ctx, game)
	if err != nil {
		return fmt.Errorf("reading game index: %w", err)
	}
	n += delta
	if n < 0 {
		n = 0
	}
	if err := tx.PutGameHolders(ctx, game, n); err != nil {
		return fmt.Errorf("updating game index: %w", err)
	}
	return nil
}
