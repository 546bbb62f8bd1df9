package money

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{name: "integer", in: "400", want: "400.00"},
		{name: "two_decimals", in: "10.15", want: "10.15"},
		{name: "one_decimal", in: "0.5", want: "0.50"},
		{name: "trailing_zero_precision_ok", in: "1.500", want: "1.50"},
		{name: "padded", in: "  7.00 ", want: "7.00"},
		{name: "too_precise", in: "1.234", wantErr: ErrPrecision},
		{name: "empty", in: "", wantErr: ErrInvalid},
		{name: "garbage", in: "ten", wantErr: ErrInvalid},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Parse(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("want error %v, got %v", tt.wantErr, err)
				}

				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got.String() != tt.want {
				t.Fatalf("want %s, got %s", tt.want, got)
			}
		})
	}
}

func TestArithmetic(t *testing.T) {
	t.Parallel()

	a := MustParse("1000")
	b := MustParse("400.25")

	if got := a.Sub(b).String(); got != "599.75" {
		t.Fatalf("sub: want 599.75, got %s", got)
	}

	if got := a.Add(b).String(); got != "1400.25" {
		t.Fatalf("add: want 1400.25, got %s", got)
	}

	if !b.Sub(a).IsNegative() {
		t.Fatalf("expected negative result")
	}

	if !FromCents(1015).Equal(MustParse("10.15")) {
		t.Fatalf("FromCents mismatch")
	}

	if !Zero.IsZero() || Zero.IsPositive() {
		t.Fatalf("zero value is not zero")
	}
}

func TestJSON(t *testing.T) {
	t.Parallel()

	type payload struct {
		Amount Money `json:"amount"`
	}

	out, err := json.Marshal(payload{Amount: MustParse("12.3")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if string(out) != `{"amount":"12.30"}` {
		t.Fatalf("want quoted fixed decimal, got %s", out)
	}

	var p payload

	err = json.Unmarshal([]byte(`{"amount":15.5}`), &p)
	if err != nil {
		t.Fatalf("unmarshal number: %v", err)
	}

	if p.Amount.String() != "15.50" {
		t.Fatalf("want 15.50, got %s", p.Amount)
	}

	err = json.Unmarshal([]byte(`{"amount":"1.999"}`), &p)
	if !errors.Is(err, ErrPrecision) {
		t.Fatalf("want ErrPrecision, got %v", err)
	}
}

func TestScan(t *testing.T) {
	t.Parallel()

	var m Money

	err := m.Scan("250.40")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if m.String() != "250.40" {
		t.Fatalf("want 250.40, got %s", m)
	}

	v, err := m.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}

	if v != "250.40" {
		t.Fatalf("want driver value 250.40, got %v", v)
	}
}
