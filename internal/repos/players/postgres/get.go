package players

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/balancesync/internal/repos/players"
)

func (r *playersRepo) Get(ctx context.Context, playerID uint64) (players.Player, error) {
	p := players.Player{ID: playerID}

	err := r.db.QueryRowContext(ctx, `
		SELECT cash, bank_balance, frozen, updated_at
		FROM players
		WHERE id = $1
	`, playerID).Scan(&p.Cash, &p.BankBalance, &p.Frozen, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return players.Player{}, players.ErrPlayerNotFound
		}

		return players.Player{}, fmt.Errorf("get player: %w", err)
	}

	return p, nil
}
