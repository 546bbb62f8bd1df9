package players

import (
	"context"
	"fmt"

	"github.com/fastprodman/balancesync/internal/repos/players"
)

func (r *playersRepo) SetFrozen(ctx context.Context, playerID uint64, frozen bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE players
		SET frozen = $2, updated_at = now()
		WHERE id = $1
	`, playerID, frozen)
	if err != nil {
		return fmt.Errorf("set frozen: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return players.ErrPlayerNotFound
	}

	return nil
}
