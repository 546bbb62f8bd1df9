package snapshots

import (
	"context"
	"errors"

	"github.com/fastprodman/balancesync/internal/services/ledger"
)

var ErrNotFound = errors.New("session snapshot not found")

// Record is the single persisted record of one player session.
type Record struct {
	Snapshot            ledger.Snapshot      `json:"snapshot"`
	PendingTransactions []ledger.Transaction `json:"pendingTransactions"`
}

// Store keeps the latest Record per session. A Save carrying an older
// snapshot version than the stored one is ignored.
type Store interface {
	Save(ctx context.Context, sessionID string, rec Record) error
	Load(ctx context.Context, sessionID string) (Record, error)
}
