package storage

import (
	"testing"
	"time"
)

// Repository methods in this package require a live Postgres connection
// and have no tests in this package; the tests below cover the pure-Go
// logic layered around those calls.

func TestHoldSecsComputedFromEntryAndExitTs(t *testing.T) {
	entry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exit := entry.Add(90 * time.Minute)

	secs := exit.Sub(entry).Seconds()
	if secs != 5400 {
		t.Errorf("hold secs = %v, want 5400", secs)
	}
}

func TestClosedHoldHoursConvertsSecondsToHours(t *testing.T) {
	secs := []float64{3600, 7200, 1800}
	want := []float64{1.0, 2.0, 0.5}
	for i, s := range secs {
		got := s / 3600.0
		if got != want[i] {
			t.Errorf("secs %v -> hours %v, want %v", s, got, want[i])
		}
	}
}

func TestTrackedAddressZeroValue(t *testing.T) {
	var a TrackedAddress
	if a.Weight != 0 || a.Rank != 0 {
		t.Errorf("expected zero-value defaults, got %+v", a)
	}
}

func TestPositionSignalOptionalFieldsAreNilable(t *testing.T) {
	s := PositionSignal{Address: "0xabc", Asset: "BTC", Status: "open"}
	if s.HoldSecs != nil || s.RClamped != nil {
		t.Error("expected HoldSecs and RClamped to default to nil, not zero float")
	}
}
