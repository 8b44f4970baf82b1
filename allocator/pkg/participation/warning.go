package participation

import (
	"github.com/malbeclabs/bounty/allocator/pkg/catalog"
	"github.com/malbeclabs/bounty/allocator/pkg/week"
)

type WarningKind string

const (
	// WarningUnknownCampaign marks a campaign mention that is neither canonical nor an alias.
	WarningUnknownCampaign WarningKind = "unknown_campaign"
	// WarningPoolOverdrawn marks a campaign whose allocated tokens exceed its pool.
	WarningPoolOverdrawn WarningKind = "pool_overdrawn"
)

// Warning is a non-fatal data-quality finding. The affected data is excluded from
// totals and processing continues.
type Warning struct {
	Kind     WarningKind          `json:"kind"`
	Address  string               `json:"address,omitempty"`
	Week     week.Week            `json:"week,omitempty"`
	Label    string               `json:"label,omitempty"`
	Campaign catalog.CampaignName `json:"campaign,omitempty"`
	Message  string               `json:"message"`
}

// CountByKind tallies warnings per kind.
func CountByKind(warnings []Warning) map[WarningKind]int {
	counts := make(map[WarningKind]int)
	for _, w := range warnings {
		counts[w.Kind]++
	}
	return counts
}
