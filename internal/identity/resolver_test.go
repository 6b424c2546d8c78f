package identity

import "testing"

func TestResolveTradeStream(t *testing.T) {
	fields := Fields{
		Exchange: "binance-futures",
		Symbol:   "dogeusdt",
		Type:     "trade",
	}
	resolved := Resolve(fields)

	if resolved.Key != "binance-futures|trade|DOGEUSDT" {
		t.Fatalf("unexpected key %q", resolved.Key)
	}
	if resolved.Category != "trade/binance-futures" {
		t.Fatalf("unexpected category %q", resolved.Category)
	}
	if resolved.Label != "binance-futures DOGEUSDT Trade" {
		t.Fatalf("unexpected label %q", resolved.Label)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	fields := Fields{
		Hostname:  "cc-jp-yf-srv-195",
		Interface: "ens18",
		Exchange:  "OKX",
		Stage:     "5M",
		Type:      "rest_summary",
	}
	first := Resolve(fields)
	second := Resolve(fields)
	if first != second {
		t.Fatalf("repeat resolution differs: %+v vs %+v", first, second)
	}

	// Resolving with the derived key cached back onto the event must be a
	// no-op for the key.
	fields.Key = first.Key
	cached := Resolve(fields)
	if cached.Key != first.Key {
		t.Fatalf("cached key changed: %q vs %q", cached.Key, first.Key)
	}
	if cached.Label != first.Label || cached.Category != first.Category {
		t.Fatalf("cached resolution differs: %+v vs %+v", cached, first)
	}
}

func TestResolveKeyIsCaseNormalized(t *testing.T) {
	lower := Resolve(Fields{Exchange: "okx", Symbol: "btcusdt", Type: "trade"})
	upper := Resolve(Fields{Exchange: "OKX", Symbol: "BTCUSDT", Type: "trade"})
	if lower.Key != upper.Key {
		t.Fatalf("expected identical keys, got %q and %q", lower.Key, upper.Key)
	}
}

func TestResolveAnonymousEvent(t *testing.T) {
	resolved := Resolve(Fields{})
	if resolved.Key != UnknownKey {
		t.Fatalf("expected sentinel key, got %q", resolved.Key)
	}
	if resolved.Category != UnknownCategory {
		t.Fatalf("expected sentinel category, got %q", resolved.Category)
	}
	if resolved.Label != "unknown" {
		t.Fatalf("unexpected label %q", resolved.Label)
	}
}

func TestResolveExplicitKeyReused(t *testing.T) {
	resolved := Resolve(Fields{Key: "custom|key", Type: "trade", Exchange: "bybit"})
	if resolved.Key != "custom|key" {
		t.Fatalf("expected explicit key reused, got %q", resolved.Key)
	}
	if resolved.Category != "trade/bybit" {
		t.Fatalf("unexpected category %q", resolved.Category)
	}
}

func TestResolveRestSummaryDefaultsStage(t *testing.T) {
	resolved := Resolve(Fields{Type: "rest_summary"})
	if resolved.Category != "rest/summary" {
		t.Fatalf("unexpected category %q", resolved.Category)
	}
	staged := Resolve(Fields{Type: "rest_summary", Stage: "1m"})
	if staged.Category != "rest/1m" {
		t.Fatalf("unexpected category %q", staged.Category)
	}
}

func TestResolveRawTypePassthrough(t *testing.T) {
	resolved := Resolve(Fields{Type: "inc_seq", Exchange: "binance"})
	if resolved.Category != "inc_seq" {
		t.Fatalf("unexpected category %q", resolved.Category)
	}
	if resolved.Label != "binance Sequence" {
		t.Fatalf("unexpected label %q", resolved.Label)
	}
	custom := Resolve(Fields{Type: "funding_rate"})
	if custom.Label != "FUNDING_RATE" {
		t.Fatalf("unexpected label %q", custom.Label)
	}
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Binance Futures": "binance-futures",
		"okx":             "okx",
		"a__b..c":         "a-b-c",
		"--trim--":        "trim",
		"":                "",
	}
	for input, want := range cases {
		if got := Slug(input); got != want {
			t.Fatalf("Slug(%q) = %q, want %q", input, got, want)
		}
	}
}
