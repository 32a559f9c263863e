package consultation

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSubtotal_RoundsToCents(t *testing.T) {
	tests := []struct {
		qty, cost, want string
	}{
		{"3", "2.50", "7.5"},
		{"0.333", "10", "3.33"},
		{"1.5", "0.35", "0.53"},
		{"2", "0", "0"},
	}
	for _, tt := range tests {
		got := Subtotal(decimal.RequireFromString(tt.qty), decimal.RequireFromString(tt.cost))
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("Subtotal(%s, %s) = %s, want %s", tt.qty, tt.cost, got, tt.want)
		}
	}
}

func TestComputeTotal(t *testing.T) {
	fee := decimal.RequireFromString("300")
	lines := []*LineItem{
		{Subtotal: decimal.RequireFromString("7.50")},
		{Subtotal: decimal.RequireFromString("150")},
	}
	extras := []*ExtraCharge{{Amount: decimal.RequireFromString("0.10")}, {Amount: decimal.RequireFromString("0.20")}}

	if got := ComputeTotal(&fee, lines, extras); !got.Equal(decimal.RequireFromString("457.80")) {
		t.Errorf("total = %s", got)
	}
	if got := ComputeTotal(nil, lines, nil); !got.Equal(decimal.RequireFromString("157.50")) {
		t.Errorf("total without fee = %s", got)
	}
	if got := ComputeTotal(nil, nil, nil); !got.IsZero() {
		t.Errorf("empty total = %s", got)
	}
}
