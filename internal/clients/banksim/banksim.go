// Package banksim is an in-memory authoritative bank for one player. It
// honours idempotency keys the way bankd does and can inject transport
// faults, lost responses and external balance drift.
package banksim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fastprodman/balancesync/internal/money"
	"github.com/fastprodman/balancesync/internal/services/ledger"
	"github.com/fastprodman/balancesync/internal/services/reconcile"
	"github.com/google/uuid"
)

var (
	ErrInjectedTimeout = errors.New("banksim: injected timeout")
	ErrLostResponse    = errors.New("banksim: response lost")
	ErrUnavailable     = errors.New("banksim: unavailable")
)

const (
	ReasonInsufficientFunds   = reconcile.ReasonInsufficientFunds
	ReasonAccountFrozen       = reconcile.ReasonAccountFrozen
	ReasonIdempotencyConflict = reconcile.ReasonIdempotencyConflict
	ReasonInvalidRequest      = reconcile.ReasonInvalidRequest
)

type Fault int

const (
	// FaultTimeout fails the call before the bank sees it.
	FaultTimeout Fault = iota + 1
	// FaultLostResponse processes the call and then drops the answer.
	FaultLostResponse
)

type processed struct {
	req  reconcile.Request
	resp reconcile.Response
}

type gate struct {
	entered chan struct{}
	release chan struct{}
}

type Bank struct {
	mu            sync.Mutex
	balances      ledger.Balances
	frozen        bool
	seen          map[uuid.UUID]processed
	faults        []Fault
	fetchFailures int
	gate          *gate
	calls         int
	applied       int
	now           func() time.Time
}

func New(b ledger.Balances) *Bank {
	return &Bank{
		balances: b,
		seen:     make(map[uuid.UUID]processed),
		now:      time.Now,
	}
}

// Inject queues faults for the next Submit calls, one per call.
func (b *Bank) Inject(faults ...Fault) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.faults = append(b.faults, faults...)
}

// FailFetches makes the next n FetchBalances calls fail.
func (b *Bank) FailFetches(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fetchFailures = n
}

func (b *Bank) Freeze(frozen bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frozen = frozen
}

// Drift changes the server balances behind the client's back.
func (b *Bank) Drift(cash, bank money.Money) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.balances.Cash = b.balances.Cash.Add(cash)
	b.balances.BankBalance = b.balances.BankBalance.Add(bank)
}

// Hold makes the next Submit block until release is called. entered is
// closed once that Submit is waiting.
func (b *Bank) Hold() (entered <-chan struct{}, release func()) {
	g := &gate{entered: make(chan struct{}), release: make(chan struct{})}

	b.mu.Lock()
	b.gate = g
	b.mu.Unlock()

	var once sync.Once

	return g.entered, func() { once.Do(func() { close(g.release) }) }
}

func (b *Bank) Balances() ledger.Balances {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.balances
}

// Calls counts Submit invocations, retries included.
func (b *Bank) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.calls
}

// Applied counts transactions that actually moved money.
func (b *Bank) Applied() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.applied
}

func (b *Bank) Submit(ctx context.Context, req reconcile.Request) (reconcile.Response, error) {
	b.mu.Lock()
	g := b.gate
	b.gate = nil
	b.mu.Unlock()

	if g != nil {
		close(g.entered)

		select {
		case <-g.release:
		case <-ctx.Done():
			return reconcile.Response{}, fmt.Errorf("banksim submit: %w", ctx.Err())
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls++

	var fault Fault
	if len(b.faults) > 0 {
		fault = b.faults[0]
		b.faults = b.faults[1:]
	}

	if fault == FaultTimeout {
		return reconcile.Response{}, ErrInjectedTimeout
	}

	resp := b.processLocked(req)

	if fault == FaultLostResponse {
		return reconcile.Response{}, ErrLostResponse
	}

	return resp, nil
}

func (b *Bank) FetchBalances(ctx context.Context) (ledger.Balances, time.Time, error) {
	err := ctx.Err()
	if err != nil {
		return ledger.Balances{}, time.Time{}, fmt.Errorf("banksim fetch: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fetchFailures > 0 {
		b.fetchFailures--

		return ledger.Balances{}, time.Time{}, ErrUnavailable
	}

	return b.balances, b.now(), nil
}

func (b *Bank) processLocked(req reconcile.Request) reconcile.Response {
	if prev, ok := b.seen[req.IdempotencyKey]; ok {
		if prev.req.Kind != req.Kind || !prev.req.Amount.Equal(req.Amount) {
			return b.rejectLocked(ReasonIdempotencyConflict)
		}

		resp := prev.resp
		if resp.Status == reconcile.StatusConfirmed {
			resp.ServerBalance = b.balances
		}

		return resp
	}

	resp := b.applyLocked(req)
	b.seen[req.IdempotencyKey] = processed{req: req, resp: resp}

	return resp
}

func (b *Bank) applyLocked(req reconcile.Request) reconcile.Response {
	plan, ok := req.Kind.Plan()
	if !ok || !req.Amount.IsPositive() {
		return b.rejectLocked(ReasonInvalidRequest)
	}

	if b.frozen {
		return b.rejectLocked(ReasonAccountFrozen)
	}

	next := b.balances

	if plan.Direction == ledger.Debit {
		if next.Of(plan.Account).LessThan(req.Amount) {
			return b.rejectLocked(ReasonInsufficientFunds)
		}

		next = add(next, plan.Account, req.Amount.Neg())
	} else {
		next = add(next, plan.Account, req.Amount)
	}

	if plan.Settle.Valid() {
		next = add(next, plan.Settle, req.Amount)
	}

	b.balances = next
	b.applied++

	return reconcile.Response{
		Status:          reconcile.StatusConfirmed,
		ServerBalance:   b.balances,
		ServerTimestamp: b.now(),
	}
}

func (b *Bank) rejectLocked(reason string) reconcile.Response {
	return reconcile.Response{
		Status:          reconcile.StatusRejected,
		Reason:          reason,
		ServerTimestamp: b.now(),
	}
}

func add(b ledger.Balances, a ledger.Account, delta money.Money) ledger.Balances {
	if a == ledger.Bank {
		b.BankBalance = b.BankBalance.Add(delta)
	} else {
		b.Cash = b.Cash.Add(delta)
	}

	return b
}
