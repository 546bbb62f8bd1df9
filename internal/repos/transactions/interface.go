package transactions

import (
	"database/sql"
	"errors"
	"time"

	"github.com/fastprodman/balancesync/internal/money"
	"github.com/fastprodman/balancesync/internal/services/ledger"
	"github.com/google/uuid"
)

var ErrDuplicateTransaction = errors.New("duplicate transaction")
var ErrTransactionNotFound = errors.New("transaction not found")

// Record is an applied transaction, keyed by the client's idempotency key.
type Record struct {
	IdempotencyKey uuid.UUID
	PlayerID       uint64
	Kind           ledger.Kind
	Amount         money.Money
	CreatedAt      time.Time
}

// Matches reports whether r describes the same request as other.
func (r Record) Matches(other Record) bool {
	return r.PlayerID == other.PlayerID && r.Kind == other.Kind && r.Amount.Equal(other.Amount)
}

type Transactions interface {
	Insert(tx *sql.Tx, rec Record) error
	Get(tx *sql.Tx, key uuid.UUID) (Record, error)
}
