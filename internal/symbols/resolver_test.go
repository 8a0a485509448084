package symbols

import "testing"

func TestResolveAliasesAndCase(t *testing.T) {
	r := New()
	if got := r.Resolve("gold"); got != "XAUUSD" {
		t.Fatalf("Resolve(gold) = %s, want XAUUSD", got)
	}
	if got := r.Resolve(" silver "); got != "XAGUSD" {
		t.Fatalf("Resolve(silver) = %s, want XAGUSD", got)
	}
	if got := r.Resolve("eurusd"); got != "EURUSD" {
		t.Fatalf("Resolve(eurusd) = %s, want EURUSD", got)
	}
}

func TestResolveStripsBrokerSuffix(t *testing.T) {
	r := New(WithBrokerSuffixes(".m", "-ECN"))
	if got := r.Resolve("EURUSD.m"); got != "EURUSD" {
		t.Fatalf("Resolve(EURUSD.m) = %s, want EURUSD", got)
	}
	if got := r.Resolve("GBPUSD-ECN"); got != "GBPUSD" {
		t.Fatalf("Resolve(GBPUSD-ECN) = %s, want GBPUSD", got)
	}
}

func TestWithAliasesMerges(t *testing.T) {
	r := New(WithAliases(map[string]string{"BTC": "BTCUSDT"}))
	if got := r.Resolve("btc"); got != "BTCUSDT" {
		t.Fatalf("Resolve(btc) = %s, want BTCUSDT", got)
	}
	// Default aliases survive the merge.
	if got := r.Resolve("gold"); got != "XAUUSD" {
		t.Fatalf("Resolve(gold) = %s, want XAUUSD after merging custom aliases", got)
	}
}

func TestPipSizeByClass(t *testing.T) {
	r := New()
	cases := map[string]string{
		"XAUUSD": "0.01",
		"USDJPY": "0.01",
		"EURUSD": "0.0001",
		"US30":   "1",
	}
	for symbol, want := range cases {
		if got := r.PipSize(symbol).String(); got != want {
			t.Fatalf("PipSize(%s) = %s, want %s", symbol, got, want)
		}
	}
}

func TestContractSizeByClass(t *testing.T) {
	r := New()
	if !r.ContractSize("XAUUSD").Equal(r.ContractSize("XAUUSD")) {
		t.Fatal("sanity")
	}
	if got := r.ContractSize("US30").IntPart(); got != 1 {
		t.Fatalf("ContractSize(US30) = %d, want 1", got)
	}
	if got := r.ContractSize("EURUSD").IntPart(); got != 100000 {
		t.Fatalf("ContractSize(EURUSD) = %d, want 100000", got)
	}
}
