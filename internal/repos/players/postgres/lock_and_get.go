package players

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/balancesync/internal/repos/players"
)

func (r *playersRepo) LockAndGet(tx *sql.Tx, playerID uint64) (players.Player, error) {
	p := players.Player{ID: playerID}

	err := tx.QueryRow(`
		SELECT cash, bank_balance, frozen, updated_at
		FROM players
		WHERE id = $1
		FOR UPDATE
	`, playerID).Scan(&p.Cash, &p.BankBalance, &p.Frozen, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return players.Player{}, players.ErrPlayerNotFound
		}

		return players.Player{}, fmt.Errorf("lock/get player: %w", err)
	}

	return p, nil
}
