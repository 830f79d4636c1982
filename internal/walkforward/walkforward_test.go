package walkforward

import (
	"testing"
	"time"

	"github.com/alpha-pool/decision-core/internal/episode"
	"github.com/alpha-pool/decision-core/internal/storage"
)

func TestPeriodCostRSingleEpisode(t *testing.T) {
	episodes := []*episode.Episode{{StopBps: 100}}
	got := PeriodCostR(episodes)
	want := 30.0 / 100.0
	if got != want {
		t.Errorf("PeriodCostR = %v, want %v", got, want)
	}
}

func TestPeriodCostRSumsAcrossEpisodes(t *testing.T) {
	episodes := []*episode.Episode{{StopBps: 100}, {StopBps: 50}}
	got := PeriodCostR(episodes)
	want := 30.0/100 + 30.0/50
	if got != want {
		t.Errorf("PeriodCostR = %v, want %v", got, want)
	}
}

func TestPeriodCostRZeroStopHandled(t *testing.T) {
	episodes := []*episode.Episode{{StopBps: 0}}
	if got := PeriodCostR(episodes); got != 0 {
		t.Errorf("PeriodCostR with zero stop = %v, want 0", got)
	}
}

func TestPeriodCostREmptyEpisodesZeroCost(t *testing.T) {
	if got := PeriodCostR(nil); got != 0 {
		t.Errorf("PeriodCostR(nil) = %v, want 0", got)
	}
}

func TestEvaluationDaysIsSeven(t *testing.T) {
	if EvaluationDays != 7 {
		t.Errorf("EvaluationDays = %d, want 7", EvaluationDays)
	}
}

func TestEvaluationEndIsStartPlusEvaluationDays(t *testing.T) {
	start := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, EvaluationDays)
	want := time.Date(2025, 12, 8, 0, 0, 0, 0, time.UTC)
	if !end.Equal(want) {
		t.Errorf("evaluation end = %v, want %v", end, want)
	}
}

type fakeSnapshots map[string][]storage.TraderSnapshot

func (f fakeSnapshots) ForDate(date time.Time) ([]storage.TraderSnapshot, error) {
	return f[date.Format("2006-01-02")], nil
}

type fakeEpisodes map[string][]*episode.Episode

func (f fakeEpisodes) ClosedInRange(address string, start, end time.Time) ([]*episode.Episode, error) {
	var out []*episode.Episode
	for _, ep := range f[address] {
		if !ep.EntryTs.Before(start) && ep.EntryTs.Before(end) {
			out = append(out, ep)
		}
	}
	return out, nil
}

func pFloat(v float64) *float64 { return &v }

func TestRunSkipsDatesWithNoStoredUniverse(t *testing.T) {
	start := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 12, 3, 0, 0, 0, 0, time.UTC)
	replayer := NewReplayer(fakeSnapshots{}, fakeEpisodes{})

	summary, err := replayer.Run(start, end)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Periods != 0 {
		t.Errorf("Periods = %d, want 0 for an empty snapshot store", summary.Periods)
	}
}

func TestRunSelectsAndScoresAddressesPerPeriod(t *testing.T) {
	selectionDate := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	snapshots := fakeSnapshots{
		"2025-12-01": {
			{Address: "0xwinner", SkillPValue: pFloat(0.01)},
			{Address: "0xloser", SkillPValue: pFloat(0.9)},
		},
	}
	episodes := fakeEpisodes{
		"0xwinner": {
			{Address: "0xwinner", EntryTs: selectionDate.Add(24 * time.Hour), ResultR: 1.0, StopBps: 100},
			{Address: "0xwinner", EntryTs: selectionDate.Add(48 * time.Hour), ResultR: 0.5, StopBps: 100},
		},
	}
	replayer := NewReplayer(snapshots, episodes)

	summary, err := replayer.Run(selectionDate, selectionDate)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Periods != 1 {
		t.Fatalf("Periods = %d, want 1", summary.Periods)
	}
	period := summary.PeriodResults[0]
	if period.UniverseSize != 2 {
		t.Errorf("UniverseSize = %d, want 2", period.UniverseSize)
	}
	if period.SelectedCount != 1 {
		t.Errorf("SelectedCount = %d, want 1 (only 0xwinner passes FDR)", period.SelectedCount)
	}
	wantGross := 1.5
	if period.TotalRGross != wantGross {
		t.Errorf("TotalRGross = %v, want %v", period.TotalRGross, wantGross)
	}
	if period.TotalRNet >= period.TotalRGross {
		t.Errorf("TotalRNet = %v, want less than TotalRGross = %v", period.TotalRNet, period.TotalRGross)
	}
}

func TestRunCountsDeathsAndCensoredWithinWindowOnce(t *testing.T) {
	selectionDate := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	snapshots := fakeSnapshots{
		"2025-12-01": {{Address: "0xdying", SkillPValue: pFloat(0.01)}},
		"2025-12-03": {{Address: "0xdying", EventType: "death"}},
		"2025-12-05": {{Address: "0xdying", EventType: "death"}},
	}
	replayer := NewReplayer(snapshots, fakeEpisodes{})

	summary, err := replayer.Run(selectionDate, selectionDate)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	period := summary.PeriodResults[0]
	if period.DeathsDuringPeriod != 1 {
		t.Errorf("DeathsDuringPeriod = %d, want 1 (counted once despite two death rows)", period.DeathsDuringPeriod)
	}
}

func TestSummarizeComputesSharpeAsMeanOverStd(t *testing.T) {
	periods := []ReplayPeriod{
		{TotalRGross: 0.3, TotalRNet: 0.2},
		{TotalRGross: 0.7, TotalRNet: 0.6},
	}
	summary := summarize(time.Now(), time.Now(), periods)
	if summary.AvgPeriodRGross != 0.5 {
		t.Errorf("AvgPeriodRGross = %v, want 0.5", summary.AvgPeriodRGross)
	}
	wantSharpe := summary.AvgPeriodRGross / summary.RGrossStd
	if summary.SharpeGross != wantSharpe {
		t.Errorf("SharpeGross = %v, want %v", summary.SharpeGross, wantSharpe)
	}
}

func TestSummarizeCountsWinningAndLosingPeriods(t *testing.T) {
	periods := []ReplayPeriod{
		{TotalRGross: 1.0},
		{TotalRGross: -0.5},
		{TotalRGross: 0},
	}
	summary := summarize(time.Now(), time.Now(), periods)
	if summary.WinningPeriods != 1 {
		t.Errorf("WinningPeriods = %d, want 1", summary.WinningPeriods)
	}
	if summary.LosingPeriods != 2 {
		t.Errorf("LosingPeriods = %d, want 2 (zero counts as not winning)", summary.LosingPeriods)
	}
}

func TestFormatReplaySummaryShapesNestedOutput(t *testing.T) {
	summary := ReplaySummary{
		StartDate:        time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
		EndDate:          time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
		Periods:          1,
		CumulativeRGross: 15.0,
		WinRate:          0.667,
		TotalDeaths:      5,
		PeriodResults: []ReplayPeriod{
			{
				SelectionDate: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
				DeathsDuringPeriod: 1,
			},
		},
	}

	formatted := FormatReplaySummary(summary)
	if formatted.StartDate != "2025-11-01" {
		t.Errorf("StartDate = %q, want 2025-11-01", formatted.StartDate)
	}
	if formatted.Performance.CumulativeRGross != 15.0 {
		t.Errorf("Performance.CumulativeRGross = %v, want 15.0", formatted.Performance.CumulativeRGross)
	}
	if formatted.WinRate.Rate != 0.667 {
		t.Errorf("WinRate.Rate = %v, want 0.667", formatted.WinRate.Rate)
	}
	if formatted.Survival.TotalDeaths != 5 {
		t.Errorf("Survival.TotalDeaths = %v, want 5", formatted.Survival.TotalDeaths)
	}
	if len(formatted.PeriodsDetail) != 1 || formatted.PeriodsDetail[0].Deaths != 1 {
		t.Errorf("PeriodsDetail = %+v, want one entry with Deaths=1", formatted.PeriodsDetail)
	}
}
