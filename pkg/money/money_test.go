package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRound(t *testing.T) {
	cases := map[string]string{
		"1.005":  "1.01",
		"1.004":  "1",
		"-1.005": "-1.01",
		"10":     "10",
	}
	for in, want := range cases {
		got := Round(decimal.RequireFromString(in))
		if !got.Equal(decimal.RequireFromString(want)) {
			t.Errorf("Round(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestLineTotal(t *testing.T) {
	got := LineTotal(3, decimal.RequireFromString("10"))
	if !got.Equal(decimal.NewFromInt(30)) {
		t.Errorf("expected 30, got %s", got)
	}
	got = LineTotal(3, decimal.RequireFromString("0.1"))
	if !got.Equal(decimal.RequireFromString("0.3")) {
		t.Errorf("expected 0.3, got %s", got)
	}
}

func TestSum_NoDrift(t *testing.T) {
	// 0.1 added a thousand times drifts in float64; decimal must land on 100.
	amounts := make([]decimal.Decimal, 1000)
	for i := range amounts {
		amounts[i] = decimal.RequireFromString("0.1")
	}
	if got := Sum(amounts...); !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected 100, got %s", got)
	}
}

func TestNonNegative(t *testing.T) {
	if !NonNegative(decimal.NewFromInt(-5)).IsZero() {
		t.Error("expected negative to clamp to zero")
	}
	if !NonNegative(decimal.NewFromInt(5)).Equal(decimal.NewFromInt(5)) {
		t.Error("expected positive to pass through")
	}
}

func TestPercent(t *testing.T) {
	got := Percent(decimal.NewFromInt(200), decimal.RequireFromString("0.18"))
	if !got.Equal(decimal.NewFromInt(36)) {
		t.Errorf("expected 36, got %s", got)
	}
}

func TestParse(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
	if _, err := Parse("abc"); err == nil {
		t.Error("expected error for garbage")
	}
	if _, err := Parse("1.234"); err == nil {
		t.Error("expected error for sub-cent precision")
	}
	d, err := Parse(" 120.50 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Equal(decimal.RequireFromString("120.5")) {
		t.Errorf("expected 120.5, got %s", d)
	}
}

func TestHasCents(t *testing.T) {
	if !HasCents(decimal.RequireFromString("1.25")) {
		t.Error("1.25 fits in cents")
	}
	if HasCents(decimal.RequireFromString("1.255")) {
		t.Error("1.255 does not fit in cents")
	}
}
