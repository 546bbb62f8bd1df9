// Package reconcile drives pending ledger transactions to a final state by
// talking to the authoritative backend.
//
// One Engine serves one session. It submits transactions strictly in the
// order they were enqueued, one at a time, retrying unknown outcomes with the
// transaction id as idempotency key.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fastprodman/balancesync/internal/infra/logging"
	"github.com/fastprodman/balancesync/internal/services/ledger"
	"github.com/google/uuid"
)

// CancelReason is the failure reason of a transaction cancelled before its
// first attempt.
const CancelReason = "cancelled"

type Engine struct {
	ledger  *ledger.Ledger
	backend Backend
	cfg     Config
	log     *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	queue      []uuid.UUID
	inflight   uuid.UUID
	compensate map[uuid.UUID]bool
	changed    chan struct{}
	wake       chan struct{}
}

func New(l *ledger.Ledger, b Backend, cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}

	return &Engine{
		ledger:     l,
		backend:    b,
		cfg:        cfg.withDefaults(),
		log:        log,
		now:        time.Now,
		compensate: make(map[uuid.UUID]bool),
		changed:    make(chan struct{}),
		wake:       make(chan struct{}, 1),
	}
}

// Enqueue appends a pending transaction to the FIFO sync queue.
func (e *Engine) Enqueue(id uuid.UUID) {
	e.mu.Lock()
	e.queue = append(e.queue, id)
	e.notifyLocked()
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Queued reports how many transactions are waiting or in flight.
func (e *Engine) Queued() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.queue)
	if e.inflight != uuid.Nil {
		n++
	}

	return n
}

// Run processes the queue until ctx is done. A transaction in flight when
// ctx ends stays pending and goes back to the head of the queue.
func (e *Engine) Run(ctx context.Context) error {
	for {
		id, ok := e.next()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.wake:
				continue
			}
		}

		e.resolve(ctx, id)
		e.finish(ctx, id)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// WaitIdle blocks until nothing is queued or in flight.
func (e *Engine) WaitIdle(ctx context.Context) error {
	for {
		e.mu.Lock()
		idle := len(e.queue) == 0 && e.inflight == uuid.Nil
		ch := e.changed
		e.mu.Unlock()

		if idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait idle: %w", ctx.Err())
		case <-ch:
		}
	}
}

// Cancel withdraws a queued transaction and rolls it back locally. For a
// transaction already in flight it schedules a compensating transaction to
// run if the backend confirms; deferred is true in that case.
func (e *Engine) Cancel(id uuid.UUID) (deferred bool, err error) {
	e.mu.Lock()

	if e.inflight == id {
		tx, _ := e.ledger.Transaction(id)
		if tx.Status != ledger.Pending {
			e.mu.Unlock()

			return false, fmt.Errorf("cancel %s: %w", id, ErrNotQueued)
		}

		if _, ok := tx.Kind.Compensation(); !ok {
			e.mu.Unlock()

			return false, fmt.Errorf("cancel %s: %w", id, ErrNotCompensable)
		}

		e.compensate[id] = true
		e.mu.Unlock()

		e.log.Info("cancel deferred until backend answers", slog.String("tx", id.String()))

		return true, nil
	}

	idx := indexOf(e.queue, id)
	if idx < 0 {
		e.mu.Unlock()

		return false, fmt.Errorf("cancel %s: %w", id, ErrNotQueued)
	}

	// taken out while rolling back so the run loop cannot submit it
	var ahead uuid.UUID
	if idx > 0 {
		ahead = e.queue[idx-1]
	}

	e.queue = append(e.queue[:idx:idx], e.queue[idx+1:]...)
	e.mu.Unlock()

	err = e.ledger.Rollback(id, ledger.Failure{Reason: CancelReason})
	if err != nil {
		e.requeue(id, ahead)

		return false, fmt.Errorf("cancel %s: %w", id, err)
	}

	e.mu.Lock()
	e.notifyLocked()
	e.mu.Unlock()

	return false, nil
}

// requeue puts id back right behind ahead, or at the head once ahead has
// left the queue.
func (e *Engine) requeue(id, ahead uuid.UUID) {
	e.mu.Lock()

	at := 0
	if ahead != uuid.Nil {
		at = indexOf(e.queue, ahead) + 1
	}

	e.queue = append(e.queue[:at], append([]uuid.UUID{id}, e.queue[at:]...)...)

	e.notifyLocked()
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Reconcile compares the backend's authoritative balances with the local
// settled balances and performs a hard resync when they diverge.
func (e *Engine) Reconcile(ctx context.Context) error {
	b, ts, err := e.fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch balances: %w", err)
	}

	e.reconcileWith(b, ts)

	return nil
}

func (e *Engine) next() (uuid.UUID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.queue) == 0 {
		return uuid.Nil, false
	}

	id := e.queue[0]
	e.queue = e.queue[1:]
	e.inflight = id
	e.notifyLocked()

	return id, true
}

func (e *Engine) finish(ctx context.Context, id uuid.UUID) {
	tx, _ := e.ledger.Transaction(id)

	e.mu.Lock()
	compensate := e.compensate[id]
	delete(e.compensate, id)

	if ctx.Err() != nil && tx.Status == ledger.Pending {
		e.queue = append([]uuid.UUID{id}, e.queue...)
		if compensate {
			e.compensate[id] = true
		}
	}
	e.mu.Unlock()

	// the reversal is queued before the engine reports idle
	if compensate && tx.Status == ledger.Confirmed {
		e.compensateFor(tx)
	}

	e.mu.Lock()
	e.inflight = uuid.Nil
	e.notifyLocked()
	e.mu.Unlock()
}

func (e *Engine) resolve(ctx context.Context, id uuid.UUID) {
	tx, ok := e.ledger.Transaction(id)
	if !ok || tx.Status != ledger.Pending {
		return
	}

	log := e.log.With(slog.String("tx", tx.ID.String()), slog.String("kind", string(tx.Kind)))

	resp, err := e.submit(ctx, log, Request{
		IdempotencyKey: tx.ID,
		Kind:           tx.Kind,
		Amount:         tx.Amount,
		AccountHint:    string(tx.Account),
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Info("engine stopping, transaction stays pending")

			return
		}

		e.fail(ctx, log, tx, ledger.Failure{Reason: err.Error(), Unconfirmed: true})

		return
	}

	if resp.Status == StatusRejected {
		rej := &BackendRejectionError{Reason: resp.Reason}
		e.fail(ctx, log, tx, ledger.Failure{Reason: rej.Error()})

		return
	}

	err = e.ledger.Confirm(tx.ID)

	switch {
	case err == nil:
		log.Info("transaction confirmed")
	case errors.Is(err, ledger.ErrTransactionFailed):
		// a resync failed it while in flight; the backend balance includes it
		log.Warn("backend confirmed a transaction already failed locally", logging.Err(err))
	default:
		log.Error("confirm transaction", logging.Err(err))

		return
	}

	e.reconcileWith(resp.ServerBalance, resp.ServerTimestamp)
}

func (e *Engine) submit(ctx context.Context, log *slog.Logger, req Request) (Response, error) {
	var (
		resp     Response
		attempts int
	)

	op := func() error {
		attempts++

		actx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		defer cancel()

		r, err := e.backend.Submit(actx, req)
		if err != nil {
			return err
		}

		if r.Status != StatusConfirmed && r.Status != StatusRejected {
			return fmt.Errorf("%w: %q", ErrUnknownStatus, r.Status)
		}

		resp = r

		return nil
	}

	notify := func(err error, wait time.Duration) {
		log.Warn("backend sync attempt failed",
			slog.Int("attempt", attempts),
			slog.Duration("retry_in", wait),
			logging.Err(err),
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(e.cfg.policy(), ctx), notify)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}

		return Response{}, &SyncTimeoutError{Attempts: attempts, Err: err}
	}

	return resp, nil
}

func (e *Engine) fail(ctx context.Context, log *slog.Logger, tx ledger.Transaction, f ledger.Failure) {
	err := e.ledger.Rollback(tx.ID, f)

	switch {
	case err == nil:
		log.Warn("transaction failed, rolled back",
			slog.String("reason", f.Reason),
			slog.Bool("unconfirmed", f.Unconfirmed),
		)
	case errors.Is(err, ledger.ErrRollbackOverdraw):
		log.Warn("rollback would overdraw, resyncing from backend", logging.Err(err))

		e.hardResync(ctx)
	default:
		log.Error("rollback transaction", logging.Err(err))
	}
}

func (e *Engine) reconcileWith(server ledger.Balances, ts time.Time) {
	if ts.IsZero() {
		ts = e.now()
	}

	local := e.ledger.Settled()
	if local.Equal(server) {
		e.ledger.MarkSynced(ts)

		return
	}

	e.log.Warn("backend balance diverged, hard resync",
		slog.String("local_cash", local.Cash.String()),
		slog.String("local_bank", local.BankBalance.String()),
		slog.String("server_cash", server.Cash.String()),
		slog.String("server_bank", server.BankBalance.String()),
	)

	e.adopt(server, ts)
}

func (e *Engine) hardResync(ctx context.Context) {
	b, ts, err := e.fetch(ctx)
	if err != nil {
		e.log.Error("hard resync: fetch balances", logging.Err(err))

		return
	}

	if ts.IsZero() {
		ts = e.now()
	}

	e.adopt(b, ts)
}

func (e *Engine) adopt(b ledger.Balances, ts time.Time) {
	failed, err := e.ledger.Resync(b, ts)
	if err != nil {
		e.log.Error("hard resync", logging.Err(err))

		return
	}

	if len(failed) > 0 {
		e.dequeue(failed)
	}

	e.log.Info("hard resync applied", slog.Int("discarded_pending", len(failed)))
}

func (e *Engine) fetch(ctx context.Context) (ledger.Balances, time.Time, error) {
	var (
		b  ledger.Balances
		ts time.Time
	)

	op := func() error {
		actx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		defer cancel()

		var err error

		b, ts, err = e.backend.FetchBalances(actx)

		return err
	}

	err := backoff.Retry(op, backoff.WithContext(e.cfg.policy(), ctx))
	if err != nil {
		return ledger.Balances{}, time.Time{}, err
	}

	return b, ts, nil
}

func (e *Engine) compensateFor(tx ledger.Transaction) {
	kind, ok := tx.Kind.Compensation()
	if !ok {
		return
	}

	comp, err := e.ledger.Apply(kind, tx.Amount, ledger.Meta{
		Description: "reversal of " + tx.ID.String(),
		Location:    tx.Location,
	})
	if err != nil {
		e.log.Error("compensate cancelled transaction",
			slog.String("tx", tx.ID.String()),
			logging.Err(err),
		)

		return
	}

	e.log.Info("compensating transaction queued",
		slog.String("tx", tx.ID.String()),
		slog.String("compensation", comp.ID.String()),
	)

	e.Enqueue(comp.ID)
}

// dequeue drops the given transactions from the queue. Anything enqueued
// after them stays.
func (e *Engine) dequeue(txs []ledger.Transaction) {
	drop := make(map[uuid.UUID]struct{}, len(txs))
	for _, tx := range txs {
		drop[tx.ID] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.queue[:0]

	for _, id := range e.queue {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}

	e.queue = kept
	e.notifyLocked()
}

func indexOf(ids []uuid.UUID, id uuid.UUID) int {
	for i, q := range ids {
		if q == id {
			return i
		}
	}

	return -1
}

func (e *Engine) notifyLocked() {
	close(e.changed)
	e.changed = make(chan struct{})
}
