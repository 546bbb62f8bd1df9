package players

import (
	"database/sql"
	"fmt"

	"github.com/fastprodman/balancesync/internal/money"
	"github.com/fastprodman/balancesync/internal/services/ledger"
)

func (r *playersRepo) IncreaseBalance(tx *sql.Tx, playerID uint64, account ledger.Account, amount money.Money) error {
	col, err := column(account)
	if err != nil {
		return err
	}

	_, err = tx.Exec(fmt.Sprintf(`
		UPDATE players
		SET %[1]s = %[1]s + $2, updated_at = now()
		WHERE id = $1
	`, col), playerID, amount)
	if err != nil {
		return fmt.Errorf("increase %s: %w", col, err)
	}

	return nil
}
