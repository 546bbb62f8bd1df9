package players

import (
	"database/sql"
	"fmt"

	"github.com/fastprodman/balancesync/internal/repos/players"
	"github.com/fastprodman/balancesync/internal/services/ledger"
)

var _ players.Players = (*playersRepo)(nil)

type playersRepo struct{ db *sql.DB }

func New(db *sql.DB) *playersRepo {
	return &playersRepo{db: db}
}

// column maps an account to its balance column.
func column(a ledger.Account) (string, error) {
	switch a {
	case ledger.Cash:
		return "cash", nil
	case ledger.Bank:
		return "bank_balance", nil
	default:
		return "", fmt.Errorf("%w: %q", ledger.ErrInvalidAccount, a)
	}
}
