package players

import (
	"database/sql"
	"fmt"

	"github.com/fastprodman/balancesync/internal/money"
	"github.com/fastprodman/balancesync/internal/repos/players"
	"github.com/fastprodman/balancesync/internal/services/ledger"
)

func (r *playersRepo) DecreaseBalance(tx *sql.Tx, playerID uint64, account ledger.Account, amount money.Money) error {
	col, err := column(account)
	if err != nil {
		return err
	}

	res, err := tx.Exec(fmt.Sprintf(`
		UPDATE players
		SET %[1]s = %[1]s - $2, updated_at = now()
		WHERE id = $1
		  AND %[1]s >= $2
	`, col), playerID, amount)
	if err != nil {
		return fmt.Errorf("decrease %s: %w", col, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return players.ErrInsufficientFunds
	}

	return nil
}
