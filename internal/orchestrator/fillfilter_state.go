package orchestrator

import (
	"sync"

	"github.com/alpha-pool/decision-core/internal/bus"
	"github.com/alpha-pool/decision-core/internal/fillfilter"
)

// fillFilterState keeps a bounded per-address ring of recent raw fills so
// fillfilter.Classify can be re-evaluated as fills arrive, and remembers
// which addresses have already tripped the HFT threshold so every later
// fill from them is dropped without re-classifying.
type fillFilterState struct {
	mu       sync.Mutex
	recent   map[string][]fillfilter.RawFill
	excluded map[string]bool
}

func newFillFilterState() *fillFilterState {
	return &fillFilterState{
		recent:   make(map[string][]fillfilter.RawFill),
		excluded: make(map[string]bool),
	}
}

// classify records ev against its address's ring buffer and returns true
// if the fill should be dropped (address previously or newly classified
// as HFT/noise).
func (f *fillFilterState) classify(ev bus.FillEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.excluded[ev.Address] {
		return true
	}

	raw := fillfilter.RawFill{
		OrderID: orderIDFor(ev),
		Asset:   ev.Asset,
		Ts:      ev.Ts,
	}

	fills := append(f.recent[ev.Address], raw)
	if len(fills) > maxRawFillHistory {
		fills = fills[len(fills)-maxRawFillHistory:]
	}
	f.recent[ev.Address] = fills

	activity := fillfilter.Classify(fills)
	if activity.IsHFT {
		f.excluded[ev.Address] = true
		return true
	}
	return false
}

// orderIDFor extracts the venue order id from a fill's meta, falling back
// to the fill id itself when the venue didn't supply one.
func orderIDFor(ev bus.FillEvent) string {
	if ev.Meta != nil {
		if v, ok := ev.Meta["order_id"]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ev.FillID
}
