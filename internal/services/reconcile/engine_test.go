package reconcile_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fastprodman/balancesync/internal/clients/banksim"
	"github.com/fastprodman/balancesync/internal/money"
	"github.com/fastprodman/balancesync/internal/services/ledger"
	"github.com/fastprodman/balancesync/internal/services/reconcile"
	"github.com/google/uuid"
)

var fastConfig = reconcile.Config{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
	Multiplier:     2,
	MaxBackoff:     5 * time.Millisecond,
	AttemptTimeout: time.Second,
}

type harness struct {
	ledger *ledger.Ledger
	bank   *banksim.Bank
	engine *reconcile.Engine
}

func newHarness(t *testing.T, cash, bank string, backend func(*banksim.Bank) reconcile.Backend) *harness {
	t.Helper()

	start := ledger.Balances{Cash: money.MustParse(cash), BankBalance: money.MustParse(bank)}

	l := ledger.New()

	err := l.Restore(ledger.Snapshot{Cash: start.Cash, BankBalance: start.BankBalance}, nil)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	b := banksim.New(start)

	var be reconcile.Backend = b
	if backend != nil {
		be = backend(b)
	}

	return &harness{ledger: l, bank: b, engine: reconcile.New(l, be, fastConfig, nil)}
}

func (h *harness) run(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- h.engine.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) apply(t *testing.T, kind ledger.Kind, amount string) ledger.Transaction {
	t.Helper()

	tx, err := h.ledger.Apply(kind, money.MustParse(amount), ledger.Meta{Description: string(kind)})
	if err != nil {
		t.Fatalf("apply %s %s: %v", kind, amount, err)
	}

	h.engine.Enqueue(tx.ID)

	return tx
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.engine.WaitIdle(ctx)
	if err != nil {
		t.Fatalf("wait idle: %v", err)
	}
}

func (h *harness) status(t *testing.T, id uuid.UUID) ledger.Transaction {
	t.Helper()

	tx, ok := h.ledger.Transaction(id)
	if !ok {
		t.Fatalf("transaction %s not found", id)
	}

	return tx
}

func assertLocal(t *testing.T, l *ledger.Ledger, cash, bank string) {
	t.Helper()

	s := l.Snapshot()
	if s.Cash.String() != cash || s.BankBalance.String() != bank {
		t.Fatalf("local: want cash=%s bank=%s, got cash=%s bank=%s", cash, bank, s.Cash, s.BankBalance)
	}
}

func TestEngine_ConfirmsDeposit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "1000", "0", nil)
	h.run(t)

	tx := h.apply(t, ledger.Deposit, "400")
	h.waitIdle(t)

	if got := h.status(t, tx.ID); got.Status != ledger.Confirmed {
		t.Fatalf("want confirmed, got %s (%s)", got.Status, got.FailureReason)
	}

	assertLocal(t, h.ledger, "600.00", "400.00")

	if !h.bank.Balances().Equal(h.ledger.Snapshot().Balances()) {
		t.Fatalf("server and local diverged: %+v vs %+v", h.bank.Balances(), h.ledger.Snapshot())
	}

	if h.ledger.Snapshot().LastSyncedAt == nil {
		t.Fatalf("expected lastSyncedAt")
	}
}

func TestEngine_RejectionRollsBack(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "1000", "0", nil)
	h.bank.Freeze(true)
	h.run(t)

	tx := h.apply(t, ledger.Deposit, "400")
	h.waitIdle(t)

	got := h.status(t, tx.ID)
	if got.Status != ledger.Failed || got.Unconfirmed {
		t.Fatalf("want definitive failure, got %+v", got)
	}

	if !strings.Contains(got.FailureReason, banksim.ReasonAccountFrozen) {
		t.Fatalf("failure reason %q lacks backend reason", got.FailureReason)
	}

	assertLocal(t, h.ledger, "1000.00", "0.00")
}

func TestEngine_RetriesWithSameKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		faults    []banksim.Fault
		wantCalls int
	}{
		{name: "two timeouts", faults: []banksim.Fault{banksim.FaultTimeout, banksim.FaultTimeout}, wantCalls: 3},
		{name: "lost response", faults: []banksim.Fault{banksim.FaultLostResponse}, wantCalls: 2},
		{name: "timeout then lost response", faults: []banksim.Fault{banksim.FaultTimeout, banksim.FaultLostResponse}, wantCalls: 3},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, "100", "0", nil)
			h.bank.Inject(tt.faults...)
			h.run(t)

			tx := h.apply(t, ledger.StockBuy, "40")
			h.waitIdle(t)

			if got := h.status(t, tx.ID); got.Status != ledger.Confirmed {
				t.Fatalf("want confirmed, got %s (%s)", got.Status, got.FailureReason)
			}

			if h.bank.Calls() != tt.wantCalls {
				t.Fatalf("want %d calls, got %d", tt.wantCalls, h.bank.Calls())
			}

			if h.bank.Applied() != 1 {
				t.Fatalf("transaction applied %d times", h.bank.Applied())
			}

			assertLocal(t, h.ledger, "60.00", "0.00")

			if !h.bank.Balances().Cash.Equal(money.MustParse("60")) {
				t.Fatalf("server cash %s", h.bank.Balances().Cash)
			}
		})
	}
}

func TestEngine_RetriesExhausted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "100", "0", nil)
	h.bank.Inject(banksim.FaultTimeout, banksim.FaultTimeout, banksim.FaultTimeout)
	h.run(t)

	tx := h.apply(t, ledger.StockBuy, "40")
	h.waitIdle(t)

	got := h.status(t, tx.ID)
	if got.Status != ledger.Failed || !got.Unconfirmed {
		t.Fatalf("want unconfirmed failure, got %+v", got)
	}

	if !strings.Contains(got.FailureReason, "unconfirmed after 3 attempts") {
		t.Fatalf("unexpected reason %q", got.FailureReason)
	}

	if h.bank.Calls() != 3 {
		t.Fatalf("want 3 attempts, got %d", h.bank.Calls())
	}

	assertLocal(t, h.ledger, "100.00", "0.00")
}

func TestSyncTimeoutError(t *testing.T) {
	t.Parallel()

	err := error(&reconcile.SyncTimeoutError{Attempts: 3, Err: banksim.ErrInjectedTimeout})

	if !errors.Is(err, reconcile.ErrSyncTimeout) {
		t.Fatalf("want ErrSyncTimeout match")
	}

	if !errors.Is(err, banksim.ErrInjectedTimeout) {
		t.Fatalf("want cause to unwrap")
	}

	var ste *reconcile.SyncTimeoutError
	if !errors.As(err, &ste) || ste.Attempts != 3 {
		t.Fatalf("errors.As: %v", err)
	}
}

type recorder struct {
	reconcile.Backend

	mu   sync.Mutex
	keys []uuid.UUID
}

func (r *recorder) Submit(ctx context.Context, req reconcile.Request) (reconcile.Response, error) {
	r.mu.Lock()
	r.keys = append(r.keys, req.IdempotencyKey)
	r.mu.Unlock()

	return r.Backend.Submit(ctx, req)
}

func TestEngine_SubmitsInOrder(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	h := newHarness(t, "100", "100", func(b *banksim.Bank) reconcile.Backend {
		rec.Backend = b

		return rec
	})

	var want []uuid.UUID

	// queued before the worker starts so the whole batch is waiting
	for _, k := range []ledger.Kind{ledger.StockBuy, ledger.Withdrawal, ledger.StockSell, ledger.Transfer, ledger.FixedDepositCreate} {
		want = append(want, h.apply(t, k, "10").ID)
	}

	if h.engine.Queued() != len(want) {
		t.Fatalf("want %d queued, got %d", len(want), h.engine.Queued())
	}

	h.run(t)
	h.waitIdle(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if len(rec.keys) != len(want) {
		t.Fatalf("want %d submissions, got %d", len(want), len(rec.keys))
	}

	for i := range want {
		if rec.keys[i] != want[i] {
			t.Fatalf("submission %d out of order", i)
		}
	}

	// withdrawal settles +10 cash
	assertLocal(t, h.ledger, "110.00", "70.00")
}

func TestEngine_CancelQueued(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "1000", "0", nil)

	first := h.apply(t, ledger.StockBuy, "100")
	second := h.apply(t, ledger.Deposit, "400")

	deferred, err := h.engine.Cancel(second.ID)
	if err != nil || deferred {
		t.Fatalf("cancel queued: deferred=%v err=%v", deferred, err)
	}

	got := h.status(t, second.ID)
	if got.Status != ledger.Failed || got.FailureReason != reconcile.CancelReason {
		t.Fatalf("want cancelled, got %+v", got)
	}

	_, err = h.engine.Cancel(second.ID)
	if !errors.Is(err, reconcile.ErrNotQueued) {
		t.Fatalf("want ErrNotQueued on second cancel, got %v", err)
	}

	h.run(t)
	h.waitIdle(t)

	if h.status(t, first.ID).Status != ledger.Confirmed {
		t.Fatalf("first transaction should still sync")
	}

	if h.bank.Applied() != 1 {
		t.Fatalf("cancelled transaction reached the backend")
	}

	assertLocal(t, h.ledger, "900.00", "0.00")
}

func TestEngine_CancelInFlightCompensates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "1000", "0", nil)
	entered, release := h.bank.Hold()
	h.run(t)

	tx := h.apply(t, ledger.Deposit, "400")
	<-entered

	deferred, err := h.engine.Cancel(tx.ID)
	if err != nil || !deferred {
		t.Fatalf("cancel in flight: deferred=%v err=%v", deferred, err)
	}

	release()
	h.waitIdle(t)

	if h.status(t, tx.ID).Status != ledger.Confirmed {
		t.Fatalf("in-flight transaction must still confirm")
	}

	var reversal *ledger.Transaction

	for _, c := range h.ledger.Transactions() {
		if c.Kind == ledger.Withdrawal {
			c := c
			reversal = &c
		}
	}

	if reversal == nil || reversal.Status != ledger.Confirmed {
		t.Fatalf("want confirmed compensating withdrawal, got %+v", reversal)
	}

	if !strings.Contains(reversal.Description, tx.ID.String()) {
		t.Fatalf("reversal should reference the original, got %q", reversal.Description)
	}

	assertLocal(t, h.ledger, "1000.00", "0.00")

	if !h.bank.Balances().Equal(h.ledger.Snapshot().Balances()) {
		t.Fatalf("server and local diverged")
	}
}

func TestEngine_CancelInFlightTransfer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "0", "500", nil)
	entered, release := h.bank.Hold()
	h.run(t)

	tx := h.apply(t, ledger.Transfer, "50")
	<-entered

	_, err := h.engine.Cancel(tx.ID)
	if !errors.Is(err, reconcile.ErrNotCompensable) {
		t.Fatalf("want ErrNotCompensable, got %v", err)
	}

	release()
	h.waitIdle(t)

	assertLocal(t, h.ledger, "0.00", "450.00")
}

func TestEngine_DivergenceHardResync(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "1000", "0", nil)
	h.bank.Drift(money.MustParse("50"), money.Zero)
	h.run(t)

	tx := h.apply(t, ledger.StockBuy, "100")
	h.waitIdle(t)

	if h.status(t, tx.ID).Status != ledger.Confirmed {
		t.Fatalf("want confirmed")
	}

	assertLocal(t, h.ledger, "950.00", "0.00")
}

func TestEngine_RollbackOverdrawResyncs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "0", "0", nil)
	h.bank.Freeze(true)

	sell := h.apply(t, ledger.StockSell, "100")
	buy := h.apply(t, ledger.StockBuy, "80")

	h.run(t)
	h.waitIdle(t)

	for _, id := range []uuid.UUID{sell.ID, buy.ID} {
		if got := h.status(t, id); got.Status != ledger.Failed {
			t.Fatalf("want failed, got %+v", got)
		}
	}

	if got := h.status(t, buy.ID); got.FailureReason != ledger.ResyncReason {
		t.Fatalf("want resync reason, got %q", got.FailureReason)
	}

	if len(h.ledger.Pending()) != 0 || h.engine.Queued() != 0 {
		t.Fatalf("resync must clear pending work")
	}

	assertLocal(t, h.ledger, "0.00", "0.00")
}

func TestEngine_Reconcile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		drift    string
		wantCash string
		bumps    bool
	}{
		{name: "in sync", drift: "0", wantCash: "100.00"},
		{name: "diverged", drift: "25", wantCash: "125.00", bumps: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, "100", "0", nil)
			h.bank.Drift(money.MustParse(tt.drift), money.Zero)
			h.bank.FailFetches(1)

			before := h.ledger.Snapshot().Version

			err := h.engine.Reconcile(context.Background())
			if err != nil {
				t.Fatalf("reconcile: %v", err)
			}

			s := h.ledger.Snapshot()
			if s.Cash.String() != tt.wantCash {
				t.Fatalf("want cash %s, got %s", tt.wantCash, s.Cash)
			}

			if (s.Version > before) != tt.bumps {
				t.Fatalf("version bump: want %v, got %d -> %d", tt.bumps, before, s.Version)
			}

			if s.LastSyncedAt == nil {
				t.Fatalf("expected lastSyncedAt")
			}
		})
	}
}

func TestEngine_ReconcileUnavailable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "100", "0", nil)
	h.bank.FailFetches(3)

	err := h.engine.Reconcile(context.Background())
	if !errors.Is(err, banksim.ErrUnavailable) {
		t.Fatalf("want unavailable, got %v", err)
	}

	if h.ledger.Snapshot().LastSyncedAt != nil {
		t.Fatalf("failed reconcile must not mark synced")
	}
}

func TestEngine_StopLeavesPending(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "100", "0", nil)
	entered, release := h.bank.Hold()
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- h.engine.Run(ctx) }()

	tx := h.apply(t, ledger.StockBuy, "10")
	<-entered
	cancel()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("run: want context.Canceled, got %v", err)
	}

	if got := h.status(t, tx.ID); got.Status != ledger.Pending {
		t.Fatalf("want pending after stop, got %s", got.Status)
	}

	if h.engine.Queued() != 1 {
		t.Fatalf("want transaction requeued, got %d queued", h.engine.Queued())
	}

	release()
	h.run(t)
	h.waitIdle(t)

	if got := h.status(t, tx.ID); got.Status != ledger.Confirmed {
		t.Fatalf("want confirmed after restart, got %s", got.Status)
	}

	if h.bank.Applied() != 1 {
		t.Fatalf("applied %d times", h.bank.Applied())
	}
}

func TestEngine_CancelRollbackOverdrawKeepsQueued(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "0", "0", nil)

	sell := h.apply(t, ledger.StockSell, "100")
	buy := h.apply(t, ledger.StockBuy, "100")

	// the sell's proceeds are already spent
	_, err := h.engine.Cancel(sell.ID)
	if !errors.Is(err, ledger.ErrRollbackOverdraw) {
		t.Fatalf("want ErrRollbackOverdraw, got %v", err)
	}

	if got := h.status(t, sell.ID); got.Status != ledger.Pending {
		t.Fatalf("refused cancel must leave the sell pending, got %+v", got)
	}

	if n := h.engine.Queued(); n != 2 {
		t.Fatalf("want both transactions still queued, got %d", n)
	}

	h.run(t)
	h.waitIdle(t)

	for _, id := range []uuid.UUID{sell.ID, buy.ID} {
		if got := h.status(t, id); got.Status != ledger.Confirmed {
			t.Fatalf("want confirmed, got %+v", got)
		}
	}

	assertLocal(t, h.ledger, "0.00", "0.00")

	if !h.bank.Balances().Equal(h.ledger.Snapshot().Balances()) {
		t.Fatalf("server %+v and local %+v diverged", h.bank.Balances(), h.ledger.Snapshot())
	}
}

func TestEngine_ResyncKeepsLaterTransactions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "1000", "0", nil)

	deposit := h.apply(t, ledger.Deposit, "100")
	h.bank.Drift(money.MustParse("100").Neg(), money.Zero)

	var once sync.Once

	fresh := make(chan uuid.UUID, 1)

	// a player action landing right after the resync commit
	h.ledger.OnCommit(func(c ledger.Change) {
		if c.Event.Cause != ledger.CauseResync {
			return
		}

		once.Do(func() {
			go func() {
				tx, err := h.ledger.Apply(ledger.StockBuy, money.MustParse("50"), ledger.Meta{})
				if err != nil {
					t.Errorf("apply after resync: %v", err)
					close(fresh)

					return
				}

				h.engine.Enqueue(tx.ID)
				fresh <- tx.ID
			}()
		})
	})

	err := h.engine.Reconcile(t.Context())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	id, ok := <-fresh
	if !ok {
		t.FailNow()
	}

	h.run(t)
	h.waitIdle(t)

	if got := h.status(t, deposit.ID); got.Status != ledger.Failed || got.FailureReason != ledger.ResyncReason {
		t.Fatalf("want deposit failed by resync, got %+v", got)
	}

	if got := h.status(t, id); got.Status != ledger.Confirmed {
		t.Fatalf("transaction applied after the resync must still sync, got %+v", got)
	}

	assertLocal(t, h.ledger, "850.00", "0.00")

	if !h.bank.Balances().Equal(h.ledger.Snapshot().Balances()) {
		t.Fatalf("server %+v and local %+v diverged", h.bank.Balances(), h.ledger.Snapshot())
	}
}

func TestEngine_ConfirmAfterResyncConverges(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "1000", "0", nil)

	entered, release := h.bank.Hold()
	defer release()

	h.run(t)

	deposit := h.apply(t, ledger.Deposit, "100")
	<-entered

	// a resync from a stale fetch fails the deposit while it is in flight
	_, err := h.ledger.Resync(ledger.Balances{Cash: money.MustParse("1000"), BankBalance: money.Zero}, time.Now())
	if err != nil {
		t.Fatalf("resync: %v", err)
	}

	assertLocal(t, h.ledger, "1000.00", "0.00")

	release()
	h.waitIdle(t)

	if got := h.status(t, deposit.ID); got.Status != ledger.Failed {
		t.Fatalf("want deposit to stay failed locally, got %+v", got)
	}

	assertLocal(t, h.ledger, "900.00", "100.00")

	if !h.bank.Balances().Equal(h.ledger.Snapshot().Balances()) {
		t.Fatalf("server %+v and local %+v diverged", h.bank.Balances(), h.ledger.Snapshot())
	}
}
