// Package pricing derives the charge that should apply to an item at a given
// reference point: either the number of units already sold (count tiers) or a
// wall-clock instant (time tiers). The reconciliation engine compares this
// derived charge against what the gateway says was actually paid.
package pricing

import (
	"time"

	"github.com/avolkov/ticketline/internal/domain"
)

// PriceForCount returns the amount for an item given how many units were
// already sold. Tiers are scanned from the highest threshold downward; the
// first tier whose threshold is strictly below observedCount wins. With no
// qualifying tier the base amount applies.
func PriceForCount(item *domain.Item, observedCount int) float64 {
	best := item.Amount
	bestThreshold := -1
	for _, tier := range item.CountTiers {
		if tier.Threshold < observedCount && tier.Threshold > bestThreshold {
			best = tier.Amount
			bestThreshold = tier.Threshold
		}
	}
	return best
}

// PriceForTime returns the amount for an item at the given instant. Tiers are
// scanned from the most recent cutoff downward; the first tier whose cutoff is
// strictly before the instant wins. With no qualifying tier the base amount
// applies.
func PriceForTime(item *domain.Item, instant time.Time) float64 {
	best := item.Amount
	var bestCutoff time.Time
	for _, tier := range item.TimeTiers {
		if tier.Cutoff.Before(instant) && tier.Cutoff.After(bestCutoff) {
			best = tier.Amount
			bestCutoff = tier.Cutoff
		}
	}
	return best
}
