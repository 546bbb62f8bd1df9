package bank

import (
	"errors"
	"time"

	"github.com/fastprodman/balancesync/internal/money"
	"github.com/fastprodman/balancesync/internal/services/ledger"
	"github.com/google/uuid"
)

type Transaction struct {
	IdempotencyKey uuid.UUID
	PlayerID       uint64
	Kind           ledger.Kind
	Amount         money.Money
}

// Result is the authoritative outcome of an applied transaction.
type Result struct {
	Balances  ledger.Balances
	Replayed  bool
	Timestamp time.Time
}

var (
	ErrAccountFrozen       = errors.New("account frozen")
	ErrIdempotencyConflict = errors.New("idempotency key reused with different request")
	ErrInvalidTransaction  = errors.New("invalid transaction")
)
