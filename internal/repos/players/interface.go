package players

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fastprodman/balancesync/internal/money"
	"github.com/fastprodman/balancesync/internal/services/ledger"
)

var ErrInsufficientFunds = errors.New("insufficient funds")
var ErrPlayerNotFound = errors.New("player not found")

type Player struct {
	ID          uint64
	Cash        money.Money
	BankBalance money.Money
	Frozen      bool
	UpdatedAt   time.Time
}

func (p Player) Balances() ledger.Balances {
	return ledger.Balances{Cash: p.Cash, BankBalance: p.BankBalance}
}

type Players interface {
	Exists(tx *sql.Tx, playerID uint64) error
	Get(ctx context.Context, playerID uint64) (Player, error)
	LockAndGet(tx *sql.Tx, playerID uint64) (Player, error)
	IncreaseBalance(tx *sql.Tx, playerID uint64, account ledger.Account, amount money.Money) error
	DecreaseBalance(tx *sql.Tx, playerID uint64, account ledger.Account, amount money.Money) error
	SetFrozen(ctx context.Context, playerID uint64, frozen bool) error
}
