package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/balancesync/internal/money"
	"github.com/fastprodman/balancesync/internal/services/ledger"
	"github.com/google/uuid"
)

// Request is what the backend transaction endpoint accepts.
type Request struct {
	IdempotencyKey uuid.UUID   `json:"idempotencyKey"`
	Kind           ledger.Kind `json:"kind"`
	Amount         money.Money `json:"amount"`
	AccountHint    string      `json:"accountHint,omitempty"`
}

type ResponseStatus string

const (
	StatusConfirmed ResponseStatus = "confirmed"
	StatusRejected  ResponseStatus = "rejected"
)

// Rejection reasons sent by the backend.
const (
	ReasonInsufficientFunds   = "insufficient_funds"
	ReasonAccountFrozen       = "account_frozen"
	ReasonPlayerNotFound      = "player_not_found"
	ReasonIdempotencyConflict = "idempotency_conflict"
	ReasonInvalidRequest      = "invalid_request"
)

type Response struct {
	Status          ResponseStatus  `json:"status"`
	ServerBalance   ledger.Balances `json:"serverBalance"`
	ServerTimestamp time.Time       `json:"serverTimestamp"`
	Reason          string          `json:"reason,omitempty"`
}

// Backend is the authoritative transaction endpoint of one player.
//
// Submit returns a non-nil error only when the outcome is unknown (timeout,
// transport failure, 5xx). An explicit rejection is a Response with
// StatusRejected and a nil error.
type Backend interface {
	Submit(ctx context.Context, req Request) (Response, error)
	FetchBalances(ctx context.Context) (ledger.Balances, time.Time, error)
}

var (
	ErrSyncTimeout    = errors.New("sync timeout")
	ErrUnknownStatus  = errors.New("unknown response status")
	ErrNotQueued      = errors.New("transaction is not queued")
	ErrNotCompensable = errors.New("transaction kind cannot be compensated")
)

// BackendRejectionError wraps the reason the backend gave for refusing a
// transaction.
type BackendRejectionError struct {
	Reason string
}

func (e *BackendRejectionError) Error() string {
	return fmt.Sprintf("backend rejected transaction: %s", e.Reason)
}

// SyncTimeoutError means retries ran out without a definitive answer; the
// backend may or may not have applied the transaction.
type SyncTimeoutError struct {
	Attempts int
	Err      error
}

func (e *SyncTimeoutError) Error() string {
	return fmt.Sprintf("unconfirmed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *SyncTimeoutError) Unwrap() error { return e.Err }

func (e *SyncTimeoutError) Is(target error) bool { return target == ErrSyncTimeout }
