package venue

import "testing"

func TestDelayForKnownVenue(t *testing.T) {
	if DelayFor(Hyperliquid) != 300_000_000 {
		t.Errorf("hyperliquid delay = %v, want 300ms", DelayFor(Hyperliquid))
	}
	if DelayFor(Bybit) != 750_000_000 {
		t.Errorf("bybit delay = %v, want 750ms", DelayFor(Bybit))
	}
}

func TestDelayForUnknownVenueFallsBackConservative(t *testing.T) {
	if DelayFor(Name("unknown")) != 500_000_000 {
		t.Errorf("unknown venue delay = %v, want 500ms fallback", DelayFor(Name("unknown")))
	}
}
