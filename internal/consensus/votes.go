package consensus

import (
	"time"

	"github.com/alpha-pool/decision-core/internal/episode"
)

// majorityAgreement returns the direction with the larger weight share
// and that share as a fraction of total weight.
func majorityAgreement(votes []Vote) (episode.Direction, float64) {
	var longW, shortW, total float64
	for _, v := range votes {
		total += v.Weight
		if v.Direction == episode.Long {
			longW += v.Weight
		} else {
			shortW += v.Weight
		}
	}
	if total == 0 {
		return episode.Long, 0
	}
	if longW >= shortW {
		return episode.Long, longW / total
	}
	return episode.Short, shortW / total
}

func votesInDirection(votes []Vote, dir episode.Direction) []Vote {
	out := make([]Vote, 0, len(votes))
	for _, v := range votes {
		if v.Direction == dir {
			out = append(out, v)
		}
	}
	return out
}

// effectiveK applies the correlation-adjusted effective-K formula to the
// majority-direction votes: (sum w)^2 / (sum w^2 + 2*sum_{i<j} wi*wj*rho).
func effectiveK(votes []Vote, rho func(a, b string) float64) float64 {
	n := len(votes)
	if n < 2 {
		return float64(n)
	}
	if rho == nil {
		rho = func(a, b string) float64 { return 0 }
	}

	var sumW, sumW2 float64
	for _, v := range votes {
		sumW += v.Weight
		sumW2 += v.Weight * v.Weight
	}

	var cross float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			cross += votes[i].Weight * votes[j].Weight * rho(votes[i].Address, votes[j].Address)
		}
	}

	denom := sumW2 + 2*cross
	if denom <= 0 {
		return float64(n)
	}
	return (sumW * sumW) / denom
}

func oldestAge(votes []Vote, now time.Time) time.Duration {
	var max time.Duration
	for _, v := range votes {
		age := now.Sub(v.EntryTs)
		if age > max {
			max = age
		}
	}
	return max
}

func weightedVWAP(votes []Vote) float64 {
	var notional, weight float64
	for _, v := range votes {
		notional += v.EntryVWAP * v.Weight
		weight += v.Weight
	}
	if weight == 0 {
		return 0
	}
	return notional / weight
}
