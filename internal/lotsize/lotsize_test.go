package lotsize

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestComputeRiskPercent(t *testing.T) {
	sl := dec(20)
	req := Request{
		Mode:           RiskPercent,
		Parameter:      dec(1), // risk 1% of balance
		Balance:        dec(10000),
		SLDistancePips: &sl,
		PipValue:       dec(10),
		MinLot:         dec(0.01),
		MaxLot:         dec(10),
		Precision:      2,
	}
	res, err := Compute(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// risk amount = 100, divided by (20 pips * $10/pip) = 0.5 lots
	want := dec(0.5)
	if !res.Volume.Equal(want) {
		t.Fatalf("volume = %s, want %s", res.Volume, want)
	}
	if res.Degraded {
		t.Fatalf("should not be degraded")
	}
}

func TestComputeRiskPercentMissingInputsDegrades(t *testing.T) {
	req := Request{
		Mode:      RiskPercent,
		Parameter: dec(1),
		Balance:   dec(10000),
		MinLot:    dec(0.01),
		MaxLot:    dec(10),
	}
	res, err := Compute(req)
	if err == nil {
		t.Fatalf("expected an InsufficientInput error")
	}
	if !res.Degraded || !res.Volume.Equal(req.MinLot) {
		t.Fatalf("expected degraded fallback to MinLot, got %+v", res)
	}
}

func TestComputeClampsToMaxLot(t *testing.T) {
	req := Request{
		Mode:      FixedLot,
		Parameter: dec(50),
		MinLot:    dec(0.01),
		MaxLot:    dec(5),
		Precision: 2,
	}
	res, err := Compute(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Volume.Equal(dec(5)) {
		t.Fatalf("volume = %s, want clamp to max 5", res.Volume)
	}
}

func TestRiskKeywordMultiplierScalesVolume(t *testing.T) {
	sl := dec(10)
	base := Request{
		Mode:           RiskPercent,
		Parameter:      dec(1),
		Balance:        dec(10000),
		SLDistancePips: &sl,
		PipValue:       dec(10),
		MinLot:         dec(0.01),
		MaxLot:         dec(100),
		Precision:      2,
	}
	normal, err := Compute(base)
	if err != nil {
		t.Fatal(err)
	}
	aggressive := base
	aggressive.RiskKeyword = RiskAggressive
	aggRes, err := Compute(aggressive)
	if err != nil {
		t.Fatal(err)
	}
	if !aggRes.Volume.Equal(normal.Volume.Mul(dec(2))) {
		t.Fatalf("aggressive volume %s should be 2x normal %s", aggRes.Volume, normal.Volume)
	}
}

func TestComputeUnknownModeDegrades(t *testing.T) {
	req := Request{Mode: Mode("BOGUS"), MinLot: dec(0.01), MaxLot: dec(10)}
	res, err := Compute(req)
	if err == nil {
		t.Fatalf("expected error for unknown mode")
	}
	if !res.Degraded {
		t.Fatalf("expected degraded result")
	}
}
