package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fastprodman/balancesync/internal/money"
	"github.com/fastprodman/balancesync/internal/services/ledger"
	"github.com/google/uuid"
)

func TestParseFlow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		opts     options
		wantNil  bool
		wantKind ledger.Kind
		wantErr  bool
	}{
		{name: "no flow", opts: options{}, wantNil: true},
		{name: "deposit", opts: options{kind: "deposit", amount: "400"}, wantKind: ledger.Deposit},
		{name: "transfer", opts: options{kind: "transfer", amount: "0.01"}, wantKind: ledger.Transfer},
		{name: "unknown kind", opts: options{kind: "lottery", amount: "1"}, wantErr: true},
		{name: "bad amount", opts: options{kind: "deposit", amount: "1.234"}, wantErr: true},
		{name: "missing amount", opts: options{kind: "deposit"}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, err := parseFlow(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("want error %v, got %v", tt.wantErr, err)
			}

			if tt.wantErr {
				return
			}

			if (f == nil) != tt.wantNil {
				t.Fatalf("want nil flow %v, got %+v", tt.wantNil, f)
			}

			if f != nil && f.kind != tt.wantKind {
				t.Fatalf("want kind %s, got %s", tt.wantKind, f.kind)
			}
		})
	}
}

func TestPrintHistory(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	printHistory(&buf, []ledger.Transaction{
		{
			ID:          uuid.New(),
			Kind:        ledger.Deposit,
			Amount:      money.MustParse("400"),
			Status:      ledger.Confirmed,
			Description: "savings",
			CreatedAt:   time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			ID:            uuid.New(),
			Kind:          ledger.StockBuy,
			Amount:        money.MustParse("50"),
			Status:        ledger.Failed,
			FailureReason: "sync timeout",
			Unconfirmed:   true,
		},
	})

	out := buf.String()
	for _, want := range []string{"400.00", "confirmed", "savings", "2026-05-01 10:00:00", "stock_buy", "(unconfirmed)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("want %q in output:\n%s", want, out)
		}
	}
}

func TestPrintSnapshot(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	printSnapshot(&buf, ledger.Snapshot{Cash: money.MustParse("600"), BankBalance: money.MustParse("400"), Version: 2})

	want := "cash=600.00 bank=400.00 version=2 last_synced=never\n"
	if buf.String() != want {
		t.Fatalf("want %q, got %q", want, buf.String())
	}
}
