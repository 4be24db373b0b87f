package config

import (
	"math"
	"testing"
)

func TestNormalizeModelName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"claude-sonnet-4-5", "claude-sonnet-4-5"},
		{"claude-sonnet-4-5-20250929", "claude-sonnet-4-5"},
		{"claude-opus-4-5-20251101", "claude-opus-4-5"},
		{"claude-mystery-9", "claude-mystery-9"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeModelName(tt.raw); got != tt.want {
			t.Errorf("NormalizeModelName(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestCalculateCost(t *testing.T) {
	// sonnet: 3.00 in, 15.00 out, 3.75 cache write, 0.30 cache read per MTok
	cost := CalculateCost("claude-sonnet-4-5", 1_000_000, 1_000_000, 1_000_000, 1_000_000)
	want := 3.00 + 15.00 + 3.75 + 0.30
	if math.Abs(cost-want) > 1e-9 {
		t.Errorf("CalculateCost = %.4f, want %.4f", cost, want)
	}
}

func TestCalculateCostUnknownModel(t *testing.T) {
	if cost := CalculateCost("gpt-9", 1000, 1000, 0, 0); cost != 0 {
		t.Errorf("unknown model cost = %.4f, want 0", cost)
	}
}

func TestCacheReadDiscount(t *testing.T) {
	// Cache reads must be priced at a 90% discount vs the input rate.
	for name, p := range DefaultPricing {
		want := p.InputPerMTok / 10
		if math.Abs(p.CacheReadPerMTok-want) > 1e-9 {
			t.Errorf("%s: CacheReadPerMTok = %.4f, want %.4f", name, p.CacheReadPerMTok, want)
		}
	}
}

func TestPlanCapacity(t *testing.T) {
	if got := PlanCapacity("pro"); got != 200_000 {
		t.Errorf("pro capacity = %d, want 200000", got)
	}
	if got := PlanCapacity("nonsense"); got != 200_000 {
		t.Errorf("unknown plan capacity = %d, want pro default 200000", got)
	}
	if got := PlanCapacity("max-20x"); got != 4_000_000 {
		t.Errorf("max-20x capacity = %d, want 4000000", got)
	}
}
