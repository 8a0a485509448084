package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestPipsAndFromPipsRoundTrip(t *testing.T) {
	pipSize := FromFloat(0.0001)
	delta := FromFloat(0.0050)
	pips := Pips(delta, pipSize)
	if !pips.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("Pips(0.0050, 0.0001) = %s, want 50", pips)
	}
	if back := FromPips(pips, pipSize); !back.Equal(delta) {
		t.Fatalf("FromPips(Pips(x)) = %s, want %s", back, delta)
	}
}

func TestPipsWithZeroPipSizeReturnsZero(t *testing.T) {
	if got := Pips(FromFloat(1), decimal.Zero); !got.IsZero() {
		t.Fatalf("expected zero on a zero pip size, got %s", got)
	}
}

func TestRoundStepFloorsToNearestMultiple(t *testing.T) {
	got := RoundStep(FromFloat(0.137), FromFloat(0.01))
	if !got.Equal(FromFloat(0.13)) {
		t.Fatalf("RoundStep(0.137, 0.01) = %s, want 0.13", got)
	}
}

func TestRoundStepWithZeroStepReturnsUnchanged(t *testing.T) {
	v := FromFloat(0.137)
	if got := RoundStep(v, decimal.Zero); !got.Equal(v) {
		t.Fatalf("expected v unchanged with a zero step, got %s", got)
	}
}

func TestClampBoundsToRange(t *testing.T) {
	min, max := FromFloat(0.01), FromFloat(10)
	if got := Clamp(FromFloat(-5), min, max); !got.Equal(min) {
		t.Fatalf("Clamp below min = %s, want %s", got, min)
	}
	if got := Clamp(FromFloat(50), min, max); !got.Equal(max) {
		t.Fatalf("Clamp above max = %s, want %s", got, max)
	}
	mid := FromFloat(5)
	if got := Clamp(mid, min, max); !got.Equal(mid) {
		t.Fatalf("Clamp within range = %s, want %s", got, mid)
	}
}

func TestPercentComputesAPortion(t *testing.T) {
	got := Percent(FromFloat(200), FromFloat(1.5))
	if !got.Equal(FromFloat(3)) {
		t.Fatalf("Percent(200, 1.5%%) = %s, want 3", got)
	}
}
