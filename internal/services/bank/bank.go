// Package bank is the authoritative side of the balance protocol: it applies
// player transactions exactly once per idempotency key.
package bank

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/balancesync/internal/infra/pgutils"
	"github.com/fastprodman/balancesync/internal/money"
	"github.com/fastprodman/balancesync/internal/repos/players"
	pgplayers "github.com/fastprodman/balancesync/internal/repos/players/postgres"
	"github.com/fastprodman/balancesync/internal/repos/transactions"
	pgtransactions "github.com/fastprodman/balancesync/internal/repos/transactions/postgres"
	"github.com/fastprodman/balancesync/internal/services/ledger"
)

type BankService struct {
	db      *sql.DB
	players players.Players
	txns    transactions.Transactions
	now     func() time.Time
}

func New(db *sql.DB) *BankService {
	return &BankService{
		db:      db,
		players: pgplayers.New(db),
		txns:    pgtransactions.New(db),
		now:     time.Now,
	}
}

// ProcessTransaction runs the full flow in a single DB transaction:
//
// 1) Ensure the player exists.
// 2) Lock the player row (FOR UPDATE).
// 3) Replay a known idempotency key instead of applying it again.
// 4) Apply the kind's legs.
// 5) Insert the idempotency record.
func (s *BankService) ProcessTransaction(ctx context.Context, t Transaction) (Result, error) {
	plan, ok := t.Kind.Plan()
	if !ok || !t.Amount.IsPositive() {
		return Result{}, fmt.Errorf("process transaction: %w", ErrInvalidTransaction)
	}

	var res Result

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		err := s.players.Exists(tx, t.PlayerID)
		if err != nil {
			return fmt.Errorf("check player exists: %w", err)
		}

		p, err := s.players.LockAndGet(tx, t.PlayerID)
		if err != nil {
			return fmt.Errorf("lock player: %w", err)
		}

		rec := transactions.Record{
			IdempotencyKey: t.IdempotencyKey,
			PlayerID:       t.PlayerID,
			Kind:           t.Kind,
			Amount:         t.Amount,
		}

		prev, err := s.txns.Get(tx, t.IdempotencyKey)
		switch {
		case err == nil:
			if !prev.Matches(rec) {
				return ErrIdempotencyConflict
			}

			res = Result{Balances: p.Balances(), Replayed: true}

			return nil
		case !errors.Is(err, transactions.ErrTransactionNotFound):
			return fmt.Errorf("lookup idempotency key: %w", err)
		}

		if p.Frozen {
			return ErrAccountFrozen
		}

		next := p.Balances()

		if plan.Direction == ledger.Debit {
			// pre-check against the locked balance
			if next.Of(plan.Account).LessThan(t.Amount) {
				return fmt.Errorf("pre-check decrease: %w", players.ErrInsufficientFunds)
			}

			err = s.players.DecreaseBalance(tx, t.PlayerID, plan.Account, t.Amount)
			if err != nil {
				return fmt.Errorf("decrease balance: %w", err)
			}

			next = credit(next, plan.Account, t.Amount.Neg())
		} else {
			err = s.players.IncreaseBalance(tx, t.PlayerID, plan.Account, t.Amount)
			if err != nil {
				return fmt.Errorf("increase balance: %w", err)
			}

			next = credit(next, plan.Account, t.Amount)
		}

		if plan.Settle.Valid() {
			err = s.players.IncreaseBalance(tx, t.PlayerID, plan.Settle, t.Amount)
			if err != nil {
				return fmt.Errorf("settle balance: %w", err)
			}

			next = credit(next, plan.Settle, t.Amount)
		}

		err = s.txns.Insert(tx, rec)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		res = Result{Balances: next}

		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("process transaction: %w", err)
	}

	res.Timestamp = s.now()

	return res, nil
}

// GetBalances returns the player's balances (no locks; suitable for the GET endpoint).
func (s *BankService) GetBalances(ctx context.Context, playerID uint64) (ledger.Balances, time.Time, error) {
	p, err := s.players.Get(ctx, playerID)
	if err != nil {
		return ledger.Balances{}, time.Time{}, fmt.Errorf("get balances: %w", err)
	}

	return p.Balances(), s.now(), nil
}

// SetFrozen freezes or unfreezes a player's accounts.
func (s *BankService) SetFrozen(ctx context.Context, playerID uint64, frozen bool) error {
	err := s.players.SetFrozen(ctx, playerID, frozen)
	if err != nil {
		return fmt.Errorf("set frozen: %w", err)
	}

	return nil
}

func credit(b ledger.Balances, a ledger.Account, delta money.Money) ledger.Balances {
	if a == ledger.Bank {
		b.BankBalance = b.BankBalance.Add(delta)
	} else {
		b.Cash = b.Cash.Add(delta)
	}

	return b
}
