// Package walkforward re-evaluates past daily selections over a fixed
// evaluation window, re-running the same Benjamini-Hochberg procedure
// against each historical snapshot universe and scoring the realized R
// of every selected address's episodes opened during that window. Every
// step is driven by stored dates and stored p-values; nothing reads the
// wall clock, so a replay run is bit-reproducible.
package walkforward

import (
	"fmt"
	"math"
	"time"

	"github.com/alpha-pool/decision-core/internal/episode"
	"github.com/alpha-pool/decision-core/internal/snapshot"
	"github.com/alpha-pool/decision-core/internal/storage"
)

// EvaluationDays is the length of the forward window a selection is
// scored over.
const EvaluationDays = 7

// SnapshotSource supplies the stored selection universe for one date.
type SnapshotSource interface {
	ForDate(date time.Time) ([]storage.TraderSnapshot, error)
}

// EpisodeSource supplies an address's closed episodes opened within a
// date range.
type EpisodeSource interface {
	ClosedInRange(address string, start, end time.Time) ([]*episode.Episode, error)
}

// TraderResult is one selected address's realized performance over a
// replayed period.
type TraderResult struct {
	Address      string
	EpisodeCount int
	RGross       float64
	RNet         float64
}

// ReplayPeriod is one historical selection date's re-evaluated outcome.
type ReplayPeriod struct {
	SelectionDate     time.Time
	EvaluationStart   time.Time
	EvaluationEnd     time.Time
	UniverseSize      int
	SelectedCount     int
	FDRQualifiedCount int
	TotalRGross       float64
	TotalRNet         float64
	AvgRGross         float64
	AvgRNet           float64
	TraderResults     []TraderResult
	DeathsDuringPeriod    int
	CensoredDuringPeriod  int
}

// ReplaySummary aggregates every replayed period in [start, end].
type ReplaySummary struct {
	StartDate        time.Time
	EndDate          time.Time
	Periods          int
	CumulativeRGross float64
	CumulativeRNet   float64
	AvgPeriodRGross  float64
	AvgPeriodRNet    float64
	RGrossStd        float64
	RNetStd          float64
	SharpeGross      float64
	SharpeNet        float64
	WinningPeriods   int
	LosingPeriods    int
	WinRate          float64
	TotalDeaths      int
	TotalCensored    int
	PeriodResults    []ReplayPeriod
}

// Replayer runs the walk-forward replay job.
type Replayer struct {
	snapshots SnapshotSource
	episodes  EpisodeSource
}

// NewReplayer constructs a Replayer.
func NewReplayer(snapshots SnapshotSource, episodes EpisodeSource) *Replayer {
	return &Replayer{snapshots: snapshots, episodes: episodes}
}

// Run replays every selection date in [start, end], skipping dates with
// no stored snapshot universe, and returns the aggregated summary.
func (r *Replayer) Run(start, end time.Time) (ReplaySummary, error) {
	var periods []ReplayPeriod
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		period, err := r.runPeriod(d)
		if err != nil {
			return ReplaySummary{}, fmt.Errorf("walkforward: replay %s: %w", d.Format("2006-01-02"), err)
		}
		if period != nil {
			periods = append(periods, *period)
		}
	}
	return summarize(start, end, periods), nil
}

func (r *Replayer) runPeriod(selectionDate time.Time) (*ReplayPeriod, error) {
	universe, err := r.snapshots.ForDate(selectionDate)
	if err != nil {
		return nil, err
	}
	if len(universe) == 0 {
		return nil, nil
	}

	var entries []snapshot.PValueEntry
	for _, row := range universe {
		if row.SkillPValue != nil {
			entries = append(entries, snapshot.PValueEntry{Address: row.Address, PValue: *row.SkillPValue})
		}
	}
	selected := snapshot.BenjaminiHochbergSelect(entries, snapshot.FDRAlpha)
	selectedSet := make(map[string]bool, len(selected))
	for _, addr := range selected {
		selectedSet[addr] = true
	}

	evalStart := selectionDate
	evalEnd := selectionDate.AddDate(0, 0, EvaluationDays)

	results := make([]TraderResult, 0, len(selected))
	var totalGross, totalNet float64
	for _, addr := range selected {
		episodes, err := r.episodes.ClosedInRange(addr, evalStart, evalEnd)
		if err != nil {
			return nil, fmt.Errorf("episodes for %s: %w", addr, err)
		}
		gross := sumResultR(episodes)
		net := gross - PeriodCostR(episodes)
		totalGross += gross
		totalNet += net
		results = append(results, TraderResult{Address: addr, EpisodeCount: len(episodes), RGross: gross, RNet: net})
	}

	deaths, censored := r.countEvents(selectedSet, evalStart, evalEnd)

	var avgGross, avgNet float64
	if len(selected) > 0 {
		avgGross = totalGross / float64(len(selected))
		avgNet = totalNet / float64(len(selected))
	}

	return &ReplayPeriod{
		SelectionDate:        selectionDate,
		EvaluationStart:      evalStart,
		EvaluationEnd:        evalEnd,
		UniverseSize:         len(universe),
		SelectedCount:        len(selected),
		FDRQualifiedCount:    len(selected),
		TotalRGross:          totalGross,
		TotalRNet:            totalNet,
		AvgRGross:            avgGross,
		AvgRNet:              avgNet,
		TraderResults:        results,
		DeathsDuringPeriod:   deaths,
		CensoredDuringPeriod: censored,
	}, nil
}

// countEvents scans each day's snapshot universe within the evaluation
// window and counts the first death/censor classification seen for any
// selected address.
func (r *Replayer) countEvents(selected map[string]bool, start, end time.Time) (deaths, censored int) {
	seenDeath := make(map[string]bool)
	seenCensored := make(map[string]bool)

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		rows, err := r.snapshots.ForDate(d)
		if err != nil {
			continue
		}
		for _, row := range rows {
			if !selected[row.Address] {
				continue
			}
			switch row.EventType {
			case string(snapshot.EventDeath):
				if !seenDeath[row.Address] {
					seenDeath[row.Address] = true
					deaths++
				}
			case string(snapshot.EventCensored):
				if !seenCensored[row.Address] {
					seenCensored[row.Address] = true
					censored++
				}
			}
		}
	}
	return deaths, censored
}

func sumResultR(episodes []*episode.Episode) float64 {
	var sum float64
	for _, ep := range episodes {
		sum += ep.ResultR
	}
	return sum
}

// PeriodCostR sums each episode's round-trip cost in R, converted via the
// same bps/stopBps-to-R formula snapshot.EstimateCostR uses, rather than
// an average across the period — each closed trade pays its own cost.
// This is entry_price*(costBps/10000)/stopDistance reduced to
// costBps/stopBps, since an episode's stop distance in price terms is
// entry_price*stopBps/10000 and the entry_price factor cancels.
func PeriodCostR(episodes []*episode.Episode) float64 {
	var total float64
	for _, ep := range episodes {
		total += snapshot.EstimateCostR(ep.StopBps)
	}
	return total
}

func summarize(start, end time.Time, periods []ReplayPeriod) ReplaySummary {
	summary := ReplaySummary{StartDate: start, EndDate: end, Periods: len(periods), PeriodResults: periods}
	if len(periods) == 0 {
		return summary
	}

	for _, p := range periods {
		summary.CumulativeRGross += p.TotalRGross
		summary.CumulativeRNet += p.TotalRNet
		summary.TotalDeaths += p.DeathsDuringPeriod
		summary.TotalCensored += p.CensoredDuringPeriod
		if p.TotalRGross > 0 {
			summary.WinningPeriods++
		} else {
			summary.LosingPeriods++
		}
	}

	n := float64(len(periods))
	summary.AvgPeriodRGross = summary.CumulativeRGross / n
	summary.AvgPeriodRNet = summary.CumulativeRNet / n
	summary.WinRate = float64(summary.WinningPeriods) / n

	summary.RGrossStd = stddev(periods, summary.AvgPeriodRGross, func(p ReplayPeriod) float64 { return p.TotalRGross })
	summary.RNetStd = stddev(periods, summary.AvgPeriodRNet, func(p ReplayPeriod) float64 { return p.TotalRNet })

	if summary.RGrossStd > 0 {
		summary.SharpeGross = summary.AvgPeriodRGross / summary.RGrossStd
	}
	if summary.RNetStd > 0 {
		summary.SharpeNet = summary.AvgPeriodRNet / summary.RNetStd
	}
	return summary
}

// FormattedSummary is ReplaySummary reshaped into the nested, JSON-ready
// structure the walk-forward-replay HTTP endpoint returns.
type FormattedSummary struct {
	StartDate string          `json:"start_date"`
	EndDate   string          `json:"end_date"`
	Periods   int             `json:"periods"`
	Performance struct {
		CumulativeRGross float64 `json:"cumulative_r_gross"`
		CumulativeRNet   float64 `json:"cumulative_r_net"`
		AvgPeriodRGross  float64 `json:"avg_period_r_gross"`
		AvgPeriodRNet    float64 `json:"avg_period_r_net"`
		RGrossStd        float64 `json:"r_gross_std"`
		RNetStd          float64 `json:"r_net_std"`
		SharpeGross      float64 `json:"sharpe_gross"`
		SharpeNet        float64 `json:"sharpe_net"`
	} `json:"performance"`
	WinRate struct {
		Winning int     `json:"winning_periods"`
		Losing  int     `json:"losing_periods"`
		Rate    float64 `json:"rate"`
	} `json:"win_rate"`
	Survival struct {
		TotalDeaths   int `json:"total_deaths"`
		TotalCensored int `json:"total_censored"`
	} `json:"survival"`
	PeriodsDetail []FormattedPeriod `json:"periods_detail"`
}

// FormattedPeriod is one ReplayPeriod reshaped for the formatted summary's
// periods_detail list.
type FormattedPeriod struct {
	SelectionDate string  `json:"selection_date"`
	EvaluationEnd string  `json:"evaluation_end"`
	UniverseSize  int     `json:"universe_size"`
	SelectedCount int     `json:"selected_count"`
	TotalRGross   float64 `json:"total_r_gross"`
	TotalRNet     float64 `json:"total_r_net"`
	Deaths        int     `json:"deaths"`
	Censored      int     `json:"censored"`
}

// FormatReplaySummary reshapes a ReplaySummary into the dict-of-dicts
// structure the HTTP replay endpoint serializes.
func FormatReplaySummary(summary ReplaySummary) FormattedSummary {
	const dateLayout = "2006-01-02"

	out := FormattedSummary{
		StartDate: summary.StartDate.Format(dateLayout),
		EndDate:   summary.EndDate.Format(dateLayout),
		Periods:   summary.Periods,
	}
	out.Performance.CumulativeRGross = summary.CumulativeRGross
	out.Performance.CumulativeRNet = summary.CumulativeRNet
	out.Performance.AvgPeriodRGross = summary.AvgPeriodRGross
	out.Performance.AvgPeriodRNet = summary.AvgPeriodRNet
	out.Performance.RGrossStd = summary.RGrossStd
	out.Performance.RNetStd = summary.RNetStd
	out.Performance.SharpeGross = summary.SharpeGross
	out.Performance.SharpeNet = summary.SharpeNet

	out.WinRate.Winning = summary.WinningPeriods
	out.WinRate.Losing = summary.LosingPeriods
	out.WinRate.Rate = summary.WinRate

	out.Survival.TotalDeaths = summary.TotalDeaths
	out.Survival.TotalCensored = summary.TotalCensored

	out.PeriodsDetail = make([]FormattedPeriod, len(summary.PeriodResults))
	for i, p := range summary.PeriodResults {
		out.PeriodsDetail[i] = FormattedPeriod{
			SelectionDate: p.SelectionDate.Format(dateLayout),
			EvaluationEnd: p.EvaluationEnd.Format(dateLayout),
			UniverseSize:  p.UniverseSize,
			SelectedCount: p.SelectedCount,
			TotalRGross:   p.TotalRGross,
			TotalRNet:     p.TotalRNet,
			Deaths:        p.DeathsDuringPeriod,
			Censored:      p.CensoredDuringPeriod,
		}
	}
	return out
}

func stddev(periods []ReplayPeriod, mean float64, value func(ReplayPeriod) float64) float64 {
	if len(periods) < 2 {
		return 0
	}
	var sumSq float64
	for _, p := range periods {
		d := value(p) - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(periods)-1))
}
