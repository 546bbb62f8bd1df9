package transactions

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/balancesync/internal/infra/pgutils"
	"github.com/fastprodman/balancesync/internal/repos/transactions"
	"github.com/fastprodman/balancesync/internal/services/ledger"
	"github.com/google/uuid"
)

var _ transactions.Transactions = (*transactionsRepo)(nil)

type transactionsRepo struct{ db *sql.DB }

func New(db *sql.DB) *transactionsRepo {
	return &transactionsRepo{db: db}
}

func (r *transactionsRepo) Insert(tx *sql.Tx, rec transactions.Record) error {
	_, err := tx.Exec(`
		INSERT INTO transactions (idempotency_key, player_id, kind, amount)
		VALUES ($1, $2, $3, $4)
	`, rec.IdempotencyKey, rec.PlayerID, string(rec.Kind), rec.Amount)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return transactions.ErrDuplicateTransaction
		}

		return fmt.Errorf("insert transaction: %w", err)
	}

	return nil
}

func (r *transactionsRepo) Get(tx *sql.Tx, key uuid.UUID) (transactions.Record, error) {
	rec := transactions.Record{IdempotencyKey: key}

	var kind string

	err := tx.QueryRow(`
		SELECT player_id, kind, amount, created_at
		FROM transactions
		WHERE idempotency_key = $1
	`, key).Scan(&rec.PlayerID, &kind, &rec.Amount, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return transactions.Record{}, transactions.ErrTransactionNotFound
		}

		return transactions.Record{}, fmt.Errorf("get transaction: %w", err)
	}

	rec.Kind = ledger.Kind(kind)

	return rec, nil
}
