// ABOUTME: Authorization gate run at the top of every data operation
// ABOUTME: Resolves the caller's access for (game, route) or rejects the call

package authority

import (
	"context"
	"fmt"

	"github.com/2389/metasave/internal/record"
	"github.com/2389/metasave/internal/store"
)

// Authorize returns caller's access level for game if it may use route.
func (r *Registry) Authorize(ctx context.Context, tx store.Tx, caller record.AccountID, game record.GameID, route record.Route) (record.Access, error) {
	if !route.Valid() {
		return 0, fmt.Errorf("unknown %s: %w", route, record.ErrInvalidAccess)
	}

	access, ok, err := r.Lookup(ctx, tx, caller, game)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%s holds no permission for game %s: %w", caller, game, record.ErrInvalidAuthority)
	}
	if !access.Allows(route) {
		return access, fmt.Errorf("%s access cannot use the %s route: %w", access, route, record.ErrInvalidAccess)
	}
	return access, nil
}

// Holds reports whether account holds any permission for game.
func (r *Registry) Holds(ctx context.Context, tx store.Tx, account record.AccountID, game record.GameID) (bool, error) {
	_, ok, err := r.Lookup(ctx, tx, account, game)
	return ok, err
}
