package episode

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func floatEquals(a, b, tol float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func newTestTracker() *EpisodeTracker {
	return NewEpisodeTracker(DefaultConfig(), nil, zerolog.Nop())
}

func TestLongFullClose(t *testing.T) {
	tr := newTestTracker()
	t0 := time.Now()
	t1 := t0.Add(time.Hour)

	closed, err := tr.ProcessFill(Fill{
		FillID: "f1", Address: "0xabc", Asset: "BTC",
		Side: "buy", Size: 1, Price: 100000, Ts: t0,
	}, 0.02)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed != nil {
		t.Fatalf("expected no closed episode on open, got %+v", closed)
	}

	closed, err = tr.ProcessFill(Fill{
		FillID: "f2", Address: "0xabc", Asset: "BTC",
		Side: "sell", Size: 1, Price: 102000, Ts: t1,
	}, 0.02)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed == nil {
		t.Fatal("expected a closed episode")
	}
	if closed.Direction != Long {
		t.Errorf("direction = %v, want long", closed.Direction)
	}
	if !floatEquals(closed.EntryVWAP, 100000, 1e-6) {
		t.Errorf("entry_vwap = %v, want 100000", closed.EntryVWAP)
	}
	if !floatEquals(closed.ExitVWAP, 102000, 1e-6) {
		t.Errorf("exit_vwap = %v, want 102000", closed.ExitVWAP)
	}
	if !floatEquals(closed.RealizedPnL, 2000, 1e-6) {
		t.Errorf("pnl = %v, want 2000", closed.RealizedPnL)
	}
	if !floatEquals(closed.RiskAmount, 2000, 1e-6) {
		t.Errorf("risk_amount = %v, want 2000", closed.RiskAmount)
	}
	if !floatEquals(closed.ResultR, 1.0, 1e-6) {
		t.Errorf("r = %v, want 1.0", closed.ResultR)
	}
	if closed.ClosedReason != ReasonFullClose {
		t.Errorf("reason = %v, want full_close", closed.ClosedReason)
	}
}

func TestDirectionFlip(t *testing.T) {
	tr := newTestTracker()
	t0 := time.Now()
	t1 := t0.Add(time.Hour)

	closed, _ := tr.ProcessFill(Fill{
		FillID: "f1", Address: "0xabc", Asset: "BTC",
		Side: "buy", Size: 1, Price: 100, Ts: t0,
	}, 0.01)
	if closed != nil {
		t.Fatal("expected no close on open")
	}

	closed, err := tr.ProcessFill(Fill{
		FillID: "f2", Address: "0xabc", Asset: "BTC",
		Side: "sell", Size: 3, Price: 110, Ts: t1,
	}, 0.01)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed == nil {
		t.Fatal("expected a closed episode from the flip")
	}
	if closed.Direction != Long {
		t.Errorf("closed direction = %v, want long", closed.Direction)
	}
	if !floatEquals(closed.ExitVWAP, 110, 1e-6) {
		t.Errorf("exit_vwap = %v, want 110", closed.ExitVWAP)
	}
	if !floatEquals(closed.RealizedPnL, 10, 1e-6) {
		t.Errorf("pnl = %v, want 10", closed.RealizedPnL)
	}
	if closed.ClosedReason != ReasonDirectionFlip {
		t.Errorf("reason = %v, want direction_flip", closed.ClosedReason)
	}

	open, ok := tr.GetOpenEpisode("0xabc", "BTC")
	if !ok {
		t.Fatal("expected a new open episode after the flip")
	}
	if open.Direction != Short {
		t.Errorf("new direction = %v, want short", open.Direction)
	}
	if !floatEquals(open.EntrySize, 2, 1e-6) {
		t.Errorf("new entry size = %v, want 2", open.EntrySize)
	}
	if !floatEquals(open.EntryVWAP, 110, 1e-6) {
		t.Errorf("new entry vwap = %v, want 110", open.EntryVWAP)
	}
}

func TestDuplicateFillIsNoOp(t *testing.T) {
	tr := newTestTracker()
	t0 := time.Now()
	fill := Fill{FillID: "f1", Address: "0xabc", Asset: "BTC", Side: "buy", Size: 1, Price: 100, Ts: t0}

	if _, err := tr.ProcessFill(fill, 0.01); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tr.ProcessFill(fill, 0.01); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	open, ok := tr.GetOpenEpisode("0xabc", "BTC")
	if !ok {
		t.Fatal("expected an open episode")
	}
	if len(open.EntryFills) != 1 {
		t.Errorf("entry fill count = %d, want 1 (duplicate must be a no-op)", len(open.EntryFills))
	}
}

func TestAddToPosition(t *testing.T) {
	tr := newTestTracker()
	t0 := time.Now()

	tr.ProcessFill(Fill{FillID: "f1", Address: "0xabc", Asset: "BTC", Side: "buy", Size: 1, Price: 100, Ts: t0}, 0.01)
	tr.ProcessFill(Fill{FillID: "f2", Address: "0xabc", Asset: "BTC", Side: "buy", Size: 1, Price: 120, Ts: t0.Add(time.Minute)}, 0.01)

	open, ok := tr.GetOpenEpisode("0xabc", "BTC")
	if !ok {
		t.Fatal("expected an open episode")
	}
	if !floatEquals(open.EntrySize, 2, 1e-6) {
		t.Errorf("entry size = %v, want 2", open.EntrySize)
	}
	if !floatEquals(open.EntryVWAP, 110, 1e-6) {
		t.Errorf("entry vwap = %v, want 110", open.EntryVWAP)
	}
}

func TestTimeoutClosesBeforeNextFill(t *testing.T) {
	tr := newTestTracker()
	t0 := time.Now()
	tr.ProcessFill(Fill{FillID: "f1", Address: "0xabc", Asset: "BTC", Side: "buy", Size: 1, Price: 100, Ts: t0}, 0.01)

	later := t0.Add(170 * time.Hour)
	closed, err := tr.ProcessFill(Fill{FillID: "f2", Address: "0xabc", Asset: "BTC", Side: "buy", Size: 1, Price: 105, Ts: later}, 0.01)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed == nil {
		t.Fatal("expected the stale episode to close with reason=timeout")
	}
	if closed.ClosedReason != ReasonTimeout {
		t.Errorf("reason = %v, want timeout", closed.ClosedReason)
	}

	open, ok := tr.GetOpenEpisode("0xabc", "BTC")
	if !ok {
		t.Fatal("expected a fresh episode opened by the post-timeout fill")
	}
	if !floatEquals(open.EntrySize, 1, 1e-6) {
		t.Errorf("fresh entry size = %v, want 1", open.EntrySize)
	}
}

func TestPositionEpsilonBoundary(t *testing.T) {
	if signOf(5e-10) != 0 {
		t.Error("5e-10 should be treated as flat")
	}
	if signOf(2e-9) == 0 {
		t.Error("2e-9 should not be treated as flat")
	}
}

func TestSweepTimedOutClosesStaleEpisodeWithoutANewFill(t *testing.T) {
	tr := newTestTracker()
	t0 := time.Now()
	tr.ProcessFill(Fill{FillID: "f1", Address: "0xabc", Asset: "BTC", Side: "buy", Size: 1, Price: 100, Ts: t0}, 0.01)

	closed := tr.SweepTimedOut(t0.Add(170 * time.Hour))
	if len(closed) != 1 {
		t.Fatalf("got %d swept episodes, want 1", len(closed))
	}
	if closed[0].ClosedReason != ReasonTimeout {
		t.Errorf("reason = %v, want timeout", closed[0].ClosedReason)
	}

	if _, open := tr.GetOpenEpisode("0xabc", "BTC"); open {
		t.Error("swept episode must no longer be open")
	}
}

func TestSweepTimedOutLeavesFreshEpisodesOpen(t *testing.T) {
	tr := newTestTracker()
	t0 := time.Now()
	tr.ProcessFill(Fill{FillID: "f1", Address: "0xabc", Asset: "BTC", Side: "buy", Size: 1, Price: 100, Ts: t0}, 0.01)

	closed := tr.SweepTimedOut(t0.Add(time.Hour))
	if len(closed) != 0 {
		t.Fatalf("got %d swept episodes, want 0", len(closed))
	}
	if _, open := tr.GetOpenEpisode("0xabc", "BTC"); !open {
		t.Error("fresh episode should remain open")
	}
}
