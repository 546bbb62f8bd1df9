package ledger

import (
	"errors"
	"fmt"

	"github.com/fastprodman/balancesync/internal/money"
)

var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrAlreadyConfirmed    = errors.New("transaction already confirmed")
	ErrTransactionFailed   = errors.New("transaction already failed")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidAmount       = errors.New("amount must be > 0")
	ErrInvalidAccount      = errors.New("invalid account")
	ErrInvalidKind         = errors.New("invalid transaction kind")
	ErrRollbackOverdraw    = errors.New("rollback would overdraw account")
	ErrLedgerNotEmpty      = errors.New("ledger already has state")
	ErrReentrantMutation   = errors.New("ledger mutated from its own commit hook")
)

// InsufficientFundsError reports a rejected debit. Nothing was mutated.
type InsufficientFundsError struct {
	Account   Account
	Available money.Money
	Requested money.Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in %s: available %s, requested %s",
		e.Account, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}
