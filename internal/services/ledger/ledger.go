// Package ledger is the only mutator of a session's balances.
//
// Every mutation runs as one critical section under the ledger mutex, so
// check-then-act on a balance can never interleave with another mutation of
// the same session. Separate ledgers share nothing.
package ledger

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fastprodman/balancesync/internal/money"
	"github.com/google/uuid"
)

// ResyncReason is the failure reason stamped on pending transactions that a
// hard resync discarded.
const ResyncReason = "superseded by backend resync"

type Ledger struct {
	mu    sync.Mutex
	snap  Snapshot
	txs   map[uuid.UUID]*Transaction
	order []uuid.UUID
	hooks []func(Change)

	// commit tickets: hooks run in the order mutations committed.
	deliverMu   sync.Mutex
	deliverCond *sync.Cond
	seq         uint64
	delivered   uint64
	deliverer   atomic.Uint64

	now   func() time.Time
	newID func() uuid.UUID
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithIDSource(newID func() uuid.UUID) Option {
	return func(l *Ledger) { l.newID = newID }
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		txs:   make(map[uuid.UUID]*Transaction),
		now:   time.Now,
		newID: uuid.New,
	}
	l.deliverCond = sync.NewCond(&l.deliverMu)

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// OnCommit registers fn to run after every committed mutation.
//
// Hooks run outside the state lock and may read the ledger. A mutation made
// synchronously from a hook fails with ErrReentrantMutation.
func (l *Ledger) OnCommit(fn func(Change)) {
	if fn == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.hooks = append(l.hooks, fn)
}

// ApplyDebit removes amount from account and records a pending transaction.
func (l *Ledger) ApplyDebit(account Account, amount money.Money, meta Meta) (Transaction, error) {
	err := validate(account, amount, meta)
	if err != nil {
		return Transaction{}, err
	}

	if l.reentrant() {
		return Transaction{}, fmt.Errorf("debit %s: %w", account, ErrReentrantMutation)
	}

	l.mu.Lock()

	available := l.snap.Balance(account)
	if available.LessThan(amount) {
		l.mu.Unlock()

		return Transaction{}, &InsufficientFundsError{
			Account:   account,
			Available: available,
			Requested: amount,
		}
	}

	l.addLocked(account, amount.Neg())
	tx := l.recordLocked(Debit, account, amount, meta)
	l.commitLocked(Event{Cause: CauseDebit, Transaction: &tx})

	return tx, nil
}

// ApplyCredit adds amount to account and records a pending transaction.
// Credits are never rejected for insufficiency.
func (l *Ledger) ApplyCredit(account Account, amount money.Money, meta Meta) (Transaction, error) {
	err := validate(account, amount, meta)
	if err != nil {
		return Transaction{}, err
	}

	if l.reentrant() {
		return Transaction{}, fmt.Errorf("credit %s: %w", account, ErrReentrantMutation)
	}

	l.mu.Lock()

	l.addLocked(account, amount)
	tx := l.recordLocked(Credit, account, amount, meta)
	l.commitLocked(Event{Cause: CauseCredit, Transaction: &tx})

	return tx, nil
}

// Apply runs the optimistic leg of kind's plan.
func (l *Ledger) Apply(kind Kind, amount money.Money, meta Meta) (Transaction, error) {
	plan, ok := kind.Plan()
	if !ok {
		return Transaction{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	meta.Kind = kind
	meta.Settle = plan.Settle

	if plan.Direction == Credit {
		return l.ApplyCredit(plan.Account, amount, meta)
	}

	return l.ApplyDebit(plan.Account, amount, meta)
}

// Confirm marks a pending transaction confirmed and credits its settlement
// leg. Confirming an already confirmed transaction is a no-op.
func (l *Ledger) Confirm(id uuid.UUID) error {
	if l.reentrant() {
		return fmt.Errorf("confirm %s: %w", id, ErrReentrantMutation)
	}

	l.mu.Lock()

	tx, ok := l.txs[id]
	if !ok {
		l.mu.Unlock()

		return fmt.Errorf("confirm %s: %w", id, ErrTransactionNotFound)
	}

	switch tx.Status {
	case Confirmed:
		l.mu.Unlock()

		return nil
	case Failed:
		l.mu.Unlock()

		return fmt.Errorf("confirm %s: %w", id, ErrTransactionFailed)
	}

	if tx.Settle.Valid() {
		l.addLocked(tx.Settle, tx.Amount)
	}

	now := l.now()
	tx.Status = Confirmed
	tx.ResolvedAt = &now
	l.snap.LastSyncedAt = &now
	l.snap.Version++

	out := tx.clone()
	l.commitLocked(Event{Cause: CauseConfirm, Transaction: &out})

	return nil
}

// Rollback reverses the optimistic leg of a pending transaction and marks it
// failed. Rolling back a failed transaction is a no-op; a confirmed one is
// final and returns ErrAlreadyConfirmed.
func (l *Ledger) Rollback(id uuid.UUID, f Failure) error {
	if l.reentrant() {
		return fmt.Errorf("rollback %s: %w", id, ErrReentrantMutation)
	}

	l.mu.Lock()

	tx, ok := l.txs[id]
	if !ok {
		l.mu.Unlock()

		return fmt.Errorf("rollback %s: %w", id, ErrTransactionNotFound)
	}

	switch tx.Status {
	case Confirmed:
		l.mu.Unlock()

		return fmt.Errorf("rollback %s: %w", id, ErrAlreadyConfirmed)
	case Failed:
		l.mu.Unlock()

		return nil
	}

	reverse := tx.delta().Neg()
	if l.snap.Balance(tx.Account).Add(reverse).IsNegative() {
		l.mu.Unlock()

		return fmt.Errorf("rollback %s: %w", id, ErrRollbackOverdraw)
	}

	l.addLocked(tx.Account, reverse)

	now := l.now()
	tx.Status = Failed
	tx.FailureReason = f.Reason
	tx.Unconfirmed = f.Unconfirmed
	tx.ResolvedAt = &now
	l.snap.Version++

	out := tx.clone()
	l.commitLocked(Event{Cause: CauseRollback, Transaction: &out})

	return nil
}

// Resync adopts the backend's balances wholesale. Every pending transaction
// is failed without reversing its delta; the backend balance already is the
// truth. It returns the transactions it failed.
func (l *Ledger) Resync(b Balances, syncedAt time.Time) ([]Transaction, error) {
	if b.Cash.IsNegative() || b.BankBalance.IsNegative() {
		return nil, fmt.Errorf("resync to %s/%s: %w", b.Cash, b.BankBalance, ErrInvalidAmount)
	}

	if l.reentrant() {
		return nil, fmt.Errorf("resync: %w", ErrReentrantMutation)
	}

	l.mu.Lock()

	now := l.now()

	var failed []Transaction

	for _, id := range l.order {
		tx := l.txs[id]
		if tx.Status != Pending {
			continue
		}

		tx.Status = Failed
		tx.FailureReason = ResyncReason
		tx.ResolvedAt = &now
		failed = append(failed, tx.clone())
	}

	l.snap.Cash = b.Cash
	l.snap.BankBalance = b.BankBalance
	l.snap.LastSyncedAt = &syncedAt
	l.snap.Version++

	l.commitLocked(Event{Cause: CauseResync, Failed: failed})

	return failed, nil
}

// Restore seeds an empty ledger from a persisted record. Only pending
// transactions are kept; anything else was already resolved before the crash.
func (l *Ledger) Restore(s Snapshot, pending []Transaction) error {
	if s.Cash.IsNegative() || s.BankBalance.IsNegative() {
		return fmt.Errorf("restore: %w", ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.snap.Version != 0 || len(l.order) != 0 {
		return ErrLedgerNotEmpty
	}

	l.snap = s.clone()

	for _, tx := range pending {
		if tx.Status != Pending {
			continue
		}

		if _, dup := l.txs[tx.ID]; dup {
			continue
		}

		c := tx.clone()
		l.txs[c.ID] = &c
		l.order = append(l.order, c.ID)
	}

	return nil
}

// MarkSynced records a successful comparison with the backend. It does not
// change balances, so it neither bumps the version nor notifies.
func (l *Ledger) MarkSynced(at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.snap.LastSyncedAt = &at
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.snap.clone()
}

// Settled returns the balances the backend should hold: the local balances
// minus the optimistic legs still awaiting confirmation.
func (l *Ledger) Settled() Balances {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.snap.Balances()

	for _, id := range l.order {
		tx := l.txs[id]
		if tx.Status != Pending {
			continue
		}

		undo := tx.delta().Neg()
		if tx.Account == Bank {
			b.BankBalance = b.BankBalance.Add(undo)
		} else {
			b.Cash = b.Cash.Add(undo)
		}
	}

	return b
}

func (l *Ledger) Transaction(id uuid.UUID) (Transaction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.txs[id]
	if !ok {
		return Transaction{}, false
	}

	return tx.clone(), true
}

// Transactions returns the full history in creation order.
func (l *Ledger) Transactions() []Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Transaction, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.txs[id].clone())
	}

	return out
}

// Pending returns the pending transactions in causal (creation) order.
func (l *Ledger) Pending() []Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.pendingLocked()
}

func (l *Ledger) pendingLocked() []Transaction {
	var out []Transaction

	for _, id := range l.order {
		tx := l.txs[id]
		if tx.Status == Pending {
			out = append(out, tx.clone())
		}
	}

	return out
}

func (l *Ledger) addLocked(a Account, delta money.Money) {
	if a == Bank {
		l.snap.BankBalance = l.snap.BankBalance.Add(delta)

		return
	}

	l.snap.Cash = l.snap.Cash.Add(delta)
}

func (l *Ledger) recordLocked(dir Direction, account Account, amount money.Money, meta Meta) Transaction {
	l.snap.Version++

	tx := &Transaction{
		ID:          l.newID(),
		Kind:        meta.Kind,
		Amount:      amount,
		Direction:   dir,
		Account:     account,
		Settle:      meta.Settle,
		Description: meta.Description,
		Location:    meta.Location,
		Status:      Pending,
		CreatedAt:   l.now(),
	}

	l.txs[tx.ID] = tx
	l.order = append(l.order, tx.ID)

	return tx.clone()
}

// commitLocked releases l.mu and runs the hooks once this commit's turn
// comes up.
func (l *Ledger) commitLocked(ev Event) {
	ev.Snapshot = l.snap.clone()

	l.seq++
	ticket := l.seq
	change := Change{Event: ev, Pending: l.pendingLocked()}
	hooks := l.hooks

	l.mu.Unlock()

	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()

	for l.delivered != ticket-1 {
		l.deliverCond.Wait()
	}

	defer func() {
		l.deliverer.Store(0)
		l.delivered = ticket
		l.deliverCond.Broadcast()
	}()

	if len(hooks) == 0 {
		return
	}

	l.deliverer.Store(goroutineID())

	for _, h := range hooks {
		h(change)
	}
}

func validate(account Account, amount money.Money, meta Meta) error {
	if !account.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAccount, account)
	}

	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	if !meta.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, meta.Kind)
	}

	if meta.Settle != NoAccount && !meta.Settle.Valid() {
		return fmt.Errorf("%w: settle %q", ErrInvalidAccount, meta.Settle)
	}

	return nil
}

func (s Snapshot) clone() Snapshot {
	if s.LastSyncedAt != nil {
		t := *s.LastSyncedAt
		s.LastSyncedAt = &t
	}

	return s
}

func (t *Transaction) clone() Transaction {
	c := *t
	if t.ResolvedAt != nil {
		r := *t.ResolvedAt
		c.ResolvedAt = &r
	}

	return c
}
