package entry

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/core/internal/model"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestResolveAverage(t *testing.T) {
	candidates := []decimal.Decimal{dec(1.10), dec(1.12), dec(1.14)}
	got, err := Resolve(candidates, model.Buy, dec(1.11), model.EntryAverage)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(dec(1.12)) {
		t.Fatalf("average = %s, want 1.12", got)
	}
}

func TestResolveBestPicksNearestToCurrentPrice(t *testing.T) {
	candidates := []decimal.Decimal{dec(1.10), dec(1.20), dec(1.30)}
	got, err := Resolve(candidates, model.Buy, dec(1.19), model.EntryBest)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(dec(1.20)) {
		t.Fatalf("best = %s, want 1.20", got)
	}
}

func TestResolveSecondDependsOnDirection(t *testing.T) {
	candidates := []decimal.Decimal{dec(1.10), dec(1.20), dec(1.30)}

	buySecond, err := Resolve(candidates, model.Buy, dec(0), model.EntrySecond)
	if err != nil {
		t.Fatal(err)
	}
	if !buySecond.Equal(dec(1.20)) {
		t.Fatalf("BUY second-smallest = %s, want 1.20", buySecond)
	}

	sellSecond, err := Resolve(candidates, model.Sell, dec(0), model.EntrySecond)
	if err != nil {
		t.Fatal(err)
	}
	if !sellSecond.Equal(dec(1.20)) {
		t.Fatalf("SELL second-largest = %s, want 1.20", sellSecond)
	}
}

func TestResolveSecondFallsBackToFirstWithOneCandidate(t *testing.T) {
	got, err := Resolve([]decimal.Decimal{dec(1.10)}, model.Buy, dec(0), model.EntrySecond)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(dec(1.10)) {
		t.Fatalf("got %s, want fallback to the only candidate", got)
	}
}

func TestResolveNoCandidatesErrors(t *testing.T) {
	if _, err := Resolve(nil, model.Buy, dec(1), model.EntryBest); err == nil {
		t.Fatalf("expected an error for an empty candidate list")
	}
}

func TestExpandRangeProducesMidpoint(t *testing.T) {
	got := ExpandRange(dec(1.10), dec(1.20))
	want := []decimal.Decimal{dec(1.10), dec(1.15), dec(1.20)}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("ExpandRange[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestModeFromTextDetectsKeywords(t *testing.T) {
	cases := map[string]model.EntryMode{
		"enter at the Average of these":   model.EntryAverage,
		"take the BEST price":             model.EntryBest,
		"use the second entry":            model.EntrySecond,
		"no keyword present here at all":  model.EntryFirst,
	}
	for text, want := range cases {
		if got := ModeFromText(text, model.EntryFirst); got != want {
			t.Fatalf("ModeFromText(%q) = %s, want %s", text, got, want)
		}
	}
}
