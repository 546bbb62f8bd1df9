// Package session composes the balance components of one player session:
// a ledger, a notification bus, a reconciliation engine and a snapshot store.
//
// Every committed ledger mutation is published on the bus and then saved,
// before the call that caused it returns. A money flow called synchronously
// from a subscriber callback fails with ledger.ErrReentrantMutation.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fastprodman/balancesync/internal/infra/logging"
	"github.com/fastprodman/balancesync/internal/money"
	"github.com/fastprodman/balancesync/internal/repos/snapshots"
	"github.com/fastprodman/balancesync/internal/services/ledger"
	"github.com/fastprodman/balancesync/internal/services/notify"
	"github.com/fastprodman/balancesync/internal/services/reconcile"
	"github.com/google/uuid"
)

type Config struct {
	SaveTimeout time.Duration `env:"SAVE_TIMEOUT" default:"2s"`
	Sync        reconcile.Config
}

// Note carries the display fields of a money flow.
type Note struct {
	Description string
	Location    string
}

type Session struct {
	id      string
	ledger  *ledger.Ledger
	bus     *notify.Bus[ledger.Event]
	engine  *reconcile.Engine
	backend reconcile.Backend
	store   snapshots.Store
	cfg     Config
	log     *slog.Logger

	mu      sync.Mutex
	lastErr error
}

func New(id string, backend reconcile.Backend, store snapshots.Store, cfg Config, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}

	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 2 * time.Second
	}

	log = log.With(slog.String("session", id))
	l := ledger.New()

	s := &Session{
		id:      id,
		ledger:  l,
		bus:     notify.New[ledger.Event](log),
		engine:  reconcile.New(l, backend, cfg.Sync, log),
		backend: backend,
		store:   store,
		cfg:     cfg,
		log:     log,
	}

	l.OnCommit(s.commit)

	return s
}

func (s *Session) ID() string { return s.id }

// Run drives the sync queue until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	return s.engine.Run(ctx)
}

// Resume restores the last persisted record and queues its pending
// transactions, oldest first, for resubmission. It reports whether a record
// existed. Without one, the ledger starts from the backend's balances, or
// from zero when the backend is unreachable. Resume must be called before any
// money flow.
func (s *Session) Resume(ctx context.Context) (bool, error) {
	rec, err := s.store.Load(ctx, s.id)
	if err != nil {
		if errors.Is(err, snapshots.ErrNotFound) {
			return false, s.seed(ctx)
		}

		return false, fmt.Errorf("load session: %w", err)
	}

	err = s.ledger.Restore(rec.Snapshot, rec.PendingTransactions)
	if err != nil {
		return false, fmt.Errorf("restore session: %w", err)
	}

	pending := s.ledger.Pending()
	for _, tx := range pending {
		s.engine.Enqueue(tx.ID)
	}

	s.log.Info("session resumed",
		slog.Int64("version", rec.Snapshot.Version),
		slog.Int("pending", len(pending)),
	)

	return true, nil
}

func (s *Session) seed(ctx context.Context) error {
	b, ts, err := s.backend.FetchBalances(ctx)
	if err != nil {
		s.log.Warn("no persisted session and backend unreachable, starting from zero", logging.Err(err))

		return nil
	}

	snap := ledger.Snapshot{Cash: b.Cash, BankBalance: b.BankBalance}
	if !ts.IsZero() {
		snap.LastSyncedAt = &ts
	}

	err = s.ledger.Restore(snap, nil)
	if err != nil {
		return fmt.Errorf("seed session: %w", err)
	}

	s.log.Info("no persisted session, starting from backend balances",
		slog.String("cash", b.Cash.String()),
		slog.String("bank", b.BankBalance.String()),
	)

	return nil
}

// Reconcile waits for the sync queue to drain and then compares the local
// balances with the backend, adopting the backend's on divergence.
func (s *Session) Reconcile(ctx context.Context) error {
	err := s.engine.WaitIdle(ctx)
	if err != nil {
		return err
	}

	err = s.engine.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile session: %w", err)
	}

	return nil
}

func (s *Session) Deposit(amount money.Money, n Note) (ledger.Transaction, error) {
	return s.Submit(ledger.Deposit, amount, n)
}

func (s *Session) Withdraw(amount money.Money, n Note) (ledger.Transaction, error) {
	return s.Submit(ledger.Withdrawal, amount, n)
}

func (s *Session) BuyStock(amount money.Money, n Note) (ledger.Transaction, error) {
	return s.Submit(ledger.StockBuy, amount, n)
}

func (s *Session) SellStock(amount money.Money, n Note) (ledger.Transaction, error) {
	return s.Submit(ledger.StockSell, amount, n)
}

func (s *Session) CreateFixedDeposit(amount money.Money, n Note) (ledger.Transaction, error) {
	return s.Submit(ledger.FixedDepositCreate, amount, n)
}

func (s *Session) ClaimFixedDeposit(amount money.Money, n Note) (ledger.Transaction, error) {
	return s.Submit(ledger.FixedDepositClaim, amount, n)
}

func (s *Session) Transfer(amount money.Money, n Note) (ledger.Transaction, error) {
	return s.Submit(ledger.Transfer, amount, n)
}

// Submit applies kind optimistically and queues it for backend sync.
// An *ledger.InsufficientFundsError leaves every balance untouched.
func (s *Session) Submit(kind ledger.Kind, amount money.Money, n Note) (ledger.Transaction, error) {
	tx, err := s.ledger.Apply(kind, amount, ledger.Meta{Description: n.Description, Location: n.Location})
	if err != nil {
		return ledger.Transaction{}, err
	}

	s.engine.Enqueue(tx.ID)

	return tx, nil
}

// Cancel withdraws a transaction that has not been sent yet. For one already
// in flight, deferred is true and a reversal follows its confirmation.
func (s *Session) Cancel(id uuid.UUID) (deferred bool, err error) {
	return s.engine.Cancel(id)
}

func (s *Session) Snapshot() ledger.Snapshot { return s.ledger.Snapshot() }

// Subscribe registers fn for future balance events. Pull Snapshot for the
// initial state.
func (s *Session) Subscribe(fn func(ledger.Event)) func() {
	return s.bus.Subscribe(fn)
}

func (s *Session) History() []ledger.Transaction { return s.ledger.Transactions() }

func (s *Session) Pending() []ledger.Transaction { return s.ledger.Pending() }

func (s *Session) Transaction(id uuid.UUID) (ledger.Transaction, bool) {
	return s.ledger.Transaction(id)
}

func (s *Session) WaitIdle(ctx context.Context) error {
	return s.engine.WaitIdle(ctx)
}

// Degraded reports whether the most recent save failed, and why.
func (s *Session) Degraded() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastErr != nil, s.lastErr
}

func (s *Session) commit(c ledger.Change) {
	s.bus.Publish(c.Event)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SaveTimeout)
	defer cancel()

	err := s.store.Save(ctx, s.id, snapshots.Record{
		Snapshot:            c.Event.Snapshot,
		PendingTransactions: c.Pending,
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		perr := &PersistenceWriteError{SessionID: s.id, Version: c.Event.Snapshot.Version, Err: err}
		s.lastErr = perr
		s.log.Error("session persistence degraded", logging.Err(perr))

		return
	}

	if s.lastErr != nil {
		s.log.Info("session persistence recovered", slog.Int64("version", c.Event.Snapshot.Version))
	}

	s.lastErr = nil
}
