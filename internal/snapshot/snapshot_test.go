package snapshot

import (
	"math"
	"testing"
	"time"

	"github.com/alpha-pool/decision-core/internal/episode"
	"github.com/alpha-pool/decision-core/internal/posterior"
)

func TestComputeSkillPValuePositiveRGivesLowPValue(t *testing.T) {
	values := make([]float64, MinEpisodes)
	for i := range values {
		values[i] = 0.1 + float64(i%5)*0.02
	}
	p := computeSkillPValue(values)
	if p == nil {
		t.Fatal("expected a p-value")
	}
	if *p >= 0.05 {
		t.Errorf("p-value = %v, want < 0.05 for consistently positive R", *p)
	}
}

func TestComputeSkillPValueNegativeRGivesHighPValue(t *testing.T) {
	values := make([]float64, MinEpisodes)
	for i := range values {
		values[i] = -0.1 - float64(i%5)*0.02
	}
	p := computeSkillPValue(values)
	if p == nil {
		t.Fatal("expected a p-value")
	}
	if *p <= 0.5 {
		t.Errorf("p-value = %v, want > 0.5 for consistently negative R", *p)
	}
}

func TestComputeSkillPValueZeroMeanNearHalf(t *testing.T) {
	values := make([]float64, MinEpisodes)
	for i := range values {
		sign := 1.0
		if i%2 == 1 {
			sign = -1.0
		}
		values[i] = 0.1 * sign
	}
	p := computeSkillPValue(values)
	if p == nil {
		t.Fatal("expected a p-value")
	}
	if *p < 0.3 || *p > 0.7 {
		t.Errorf("p-value = %v, want within (0.3, 0.7) for zero-mean R", *p)
	}
}

func TestBenjaminiHochbergFindsCorrectKStar(t *testing.T) {
	entries := []PValueEntry{
		{"0x1", 0.01}, {"0x2", 0.02}, {"0x3", 0.025}, {"0x4", 0.035}, {"0x5", 0.045},
		{"0x6", 0.08}, {"0x7", 0.09}, {"0x8", 0.10}, {"0x9", 0.15}, {"0x10", 0.20},
	}
	selected := BenjaminiHochbergSelect(entries, 0.10)
	if len(selected) != 5 {
		t.Fatalf("got %d selected, want 5 (k*=5)", len(selected))
	}
	set := make(map[string]bool)
	for _, a := range selected {
		set[a] = true
	}
	if !set["0x5"] || set["0x6"] {
		t.Errorf("expected 0x5 selected and 0x6 excluded, got %v", selected)
	}
}

func TestBenjaminiHochbergDoesNotStopAtFirstFailure(t *testing.T) {
	entries := []PValueEntry{
		{"0x1", 0.005}, {"0x2", 0.01}, {"0x3", 0.02}, {"0x4", 0.03},
		{"0x5", 0.055}, {"0x6", 0.058}, {"0x7", 0.08}, {"0x8", 0.10}, {"0x9", 0.15}, {"0x10", 0.20},
	}
	selected := BenjaminiHochbergSelect(entries, 0.10)
	if len(selected) != 6 {
		t.Fatalf("got %d selected, want 6 (p_5 fails but p_6 passes)", len(selected))
	}
}

func TestBenjaminiHochbergNoneSignificantReturnsEmpty(t *testing.T) {
	entries := []PValueEntry{{"0x1", 0.5}, {"0x2", 0.6}, {"0x3", 0.7}}
	if selected := BenjaminiHochbergSelect(entries, 0.10); len(selected) != 0 {
		t.Errorf("expected no selection, got %v", selected)
	}
}

func TestEstimateCostRZeroStopIsZeroCost(t *testing.T) {
	if c := EstimateCostR(0); c != 0 {
		t.Errorf("EstimateCostR(0) = %v, want 0", c)
	}
}

func TestEstimateCostRScalesWithStopDistance(t *testing.T) {
	tight := EstimateCostR(50)
	wide := EstimateCostR(200)
	if tight <= wide {
		t.Errorf("a tighter stop (smaller stopBps) should cost more R, got tight=%v wide=%v", tight, wide)
	}
}

func closedEpisode(address string, resultR float64, exitTs time.Time) *episode.Episode {
	return &episode.Episode{
		Address:          address,
		Asset:            "BTC",
		Status:           episode.StatusClosed,
		ResultR:          resultR,
		ResultRUnclamped: resultR,
		StopBps:          100,
		ExitTs:           exitTs,
	}
}

func TestMaxDrawdownFractionDetectsDeath(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	episodes := []*episode.Episode{
		closedEpisode("0x1", 2.0, base),
		closedEpisode("0x1", -1.9, base.Add(time.Hour)),
	}
	if dd := maxDrawdownFraction(episodes); dd < DrawdownDeathThreshold {
		t.Errorf("drawdown = %v, want > %v after giving back 95%% of peak", dd, DrawdownDeathThreshold)
	}
}

func TestEngineClassifiesCensoredOnInactivity(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	history := fakeHistory{
		"0xstale": {closedEpisode("0xstale", 0.5, now.Add(-45*24*time.Hour))},
	}
	engine := NewEngine(Config{History: history, Posteriors: noPosteriors})

	snaps, err := engine.Run(now, []string{"0xstale"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if snaps[0].EventType != EventCensored {
		t.Errorf("event type = %v, want censored", snaps[0].EventType)
	}
	if snaps[0].CensorType == nil || *snaps[0].CensorType != CensorTypeInactive30d {
		t.Errorf("censor type = %v, want inactive_30d", snaps[0].CensorType)
	}
}

func TestEngineRunAppliesFDRAcrossUniverse(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	skilled := make([]*episode.Episode, MinEpisodes)
	unskilled := make([]*episode.Episode, MinEpisodes)
	for i := range skilled {
		ts := now.Add(-time.Duration(MinEpisodes-i) * time.Hour)
		skilled[i] = closedEpisode("0xskilled", 0.15+float64(i%3)*0.01, ts)
		unskilled[i] = closedEpisode("0xunskilled", 0.1*math.Pow(-1, float64(i)), ts)
	}
	history := fakeHistory{"0xskilled": skilled, "0xunskilled": unskilled}
	engine := NewEngine(Config{History: history, Posteriors: noPosteriors})

	snaps, err := engine.Run(now, []string{"0xskilled", "0xunskilled"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	byAddr := make(map[string]Snapshot)
	for _, s := range snaps {
		byAddr[s.Address] = s
	}
	if !byAddr["0xskilled"].FDRQualified {
		t.Error("consistently positive-R trader should FDR-qualify")
	}
	if byAddr["0xunskilled"].FDRQualified {
		t.Error("zero-mean trader should not FDR-qualify")
	}
}

type fakeHistory map[string][]*episode.Episode

func (f fakeHistory) ClosedForAddress(address string) ([]*episode.Episode, error) {
	return f[address], nil
}

func noPosteriors(string) (posterior.TraderPosteriorNIG, bool) {
	return posterior.TraderPosteriorNIG{}, false
}
