package episode

import "time"

// Vote is one trader's contribution to the consensus detector, derived
// from their currently open episode in a given asset.
type Vote struct {
	Address   string
	Direction Direction
	EntryVWAP float64
	EntryTs   time.Time
	Weight    float64
}

// NotionalWeightCap is the notional (in quote currency) above which a
// single trader's vote weight saturates at 1.0.
const NotionalWeightCap = 100_000.0

// VoteForEpisode derives the canonical consensus vote weight for one open
// episode: min(notional / 100_000, 1.0), matching the original
// EpisodeVoteGenerator.get_vote_for_trader exactly. This is the sole
// source of consensus vote weight in this repository — posterior-derived
// weighting (kappa/(kappa+10)) is reserved for Scorer-side trader
// weighting and must never be substituted here.
func VoteForEpisode(ep *Episode) Vote {
	weight := ep.EntryNotional / NotionalWeightCap
	if weight > 1.0 {
		weight = 1.0
	}
	return Vote{
		Address:   ep.Address,
		Direction: ep.Direction,
		EntryVWAP: ep.EntryVWAP,
		EntryTs:   ep.EntryTs,
		Weight:    weight,
	}
}

// VotesForAsset filters a set of open episodes down to one asset and
// derives a vote for each.
func VotesForAsset(episodes []*Episode, asset string) []Vote {
	votes := make([]Vote, 0, len(episodes))
	for _, ep := range episodes {
		if ep.Asset != asset || ep.Status != StatusOpen {
			continue
		}
		votes = append(votes, VoteForEpisode(ep))
	}
	return votes
}
