package allocation

import (
	"fmt"

	"github.com/malbeclabs/bounty/allocator/pkg/catalog"
	"github.com/malbeclabs/bounty/allocator/pkg/participation"
	"github.com/malbeclabs/bounty/allocator/pkg/week"
	"github.com/shopspring/decimal"
)

// PercentagePlaces is the precision percentages are rounded to, half away from zero.
const PercentagePlaces = 2

var hundred = decimal.NewFromInt(100)

// MemberCampaignAllocation is the allocation for one (member, campaign) pair.
// Percentages are only meaningful for stake proportional campaigns and are zero
// otherwise; Stake is zero for flat per unit campaigns.
type MemberCampaignAllocation struct {
	Address             string               `json:"address"`
	Campaign            catalog.CampaignName `json:"campaign"`
	RewardModel         catalog.RewardModel  `json:"reward_model"`
	Count               int64                `json:"count"`
	Stake               int64                `json:"stake"`
	Percentage          decimal.Decimal      `json:"percentage"`
	EffectivePercentage decimal.Decimal      `json:"effective_percentage"`
	Tokens              decimal.Decimal      `json:"tokens"`
}

// MemberAllocation groups one member's campaign allocations in catalog order.
type MemberAllocation struct {
	Address     string                     `json:"address"`
	Campaigns   []MemberCampaignAllocation `json:"campaigns"`
	TotalTokens decimal.Decimal            `json:"total_tokens"`
}

// CampaignTotal aggregates a campaign across all members. Stake is the sum of raw
// member stakes before capping.
type CampaignTotal struct {
	Campaign          catalog.CampaignName `json:"campaign"`
	RewardModel       catalog.RewardModel  `json:"reward_model"`
	Count             int64                `json:"count"`
	Stake             int64                `json:"stake"`
	Members           int                  `json:"members"`
	TokenPool         int64                `json:"token_pool"`
	AllocatedTokens   decimal.Decimal      `json:"allocated_tokens"`
	UnallocatedTokens decimal.Decimal      `json:"unallocated_tokens"`
}

type MemberTotal struct {
	Address string          `json:"address"`
	Tokens  decimal.Decimal `json:"tokens"`
}

// Result is the complete, immutable outcome of one allocation run.
type Result struct {
	Members             []participation.MemberRecord `json:"members"`
	CampaignTotals      []CampaignTotal              `json:"campaign_totals"`
	ByMemberAndCampaign []MemberAllocation           `json:"by_member_and_campaign"`
	MemberTotals        []MemberTotal                `json:"member_totals"`
	Detail              []MemberCampaignAllocation   `json:"detail"`
	Warnings            []participation.Warning      `json:"warnings"`
}

func (r *Result) CampaignTotal(name catalog.CampaignName) (CampaignTotal, bool) {
	for _, total := range r.CampaignTotals {
		if total.Campaign == name {
			return total, true
		}
	}
	return CampaignTotal{}, false
}

func (r *Result) Allocation(address string, name catalog.CampaignName) (MemberCampaignAllocation, bool) {
	for _, member := range r.ByMemberAndCampaign {
		if member.Address != address {
			continue
		}
		for _, a := range member.Campaigns {
			if a.Campaign == name {
				return a, true
			}
		}
		return MemberCampaignAllocation{}, false
	}
	return MemberCampaignAllocation{}, false
}

func (r *Result) MemberTotal(address string) (decimal.Decimal, bool) {
	for _, total := range r.MemberTotals {
		if total.Address == address {
			return total.Tokens, true
		}
	}
	return decimal.Zero, false
}

// TotalTokens is the sum of all allocated tokens across members.
func (r *Result) TotalTokens() decimal.Decimal {
	sum := decimal.Zero
	for _, total := range r.MemberTotals {
		sum = sum.Add(total.Tokens)
	}
	return sum
}

type campaignAccumulator struct {
	campaign catalog.Campaign
	count    int64
	stake    int64
	members  int
}

type memberAccumulator struct {
	address string
	counts  map[catalog.CampaignName]int64
}

// Allocate computes per-member, per-campaign token allocations. Campaign totals
// are accumulated in a first pass so that every member share in the second pass
// divides by a complete, nonzero campaign stake.
func Allocate(records []participation.MemberRecord, cat *catalog.Catalog) *Result {
	campaigns := cat.Campaigns()
	arena := make(map[catalog.CampaignName]*campaignAccumulator, len(campaigns))
	for _, c := range campaigns {
		arena[c.Name] = &campaignAccumulator{campaign: c}
	}

	// Pass 1.
	members := make([]memberAccumulator, 0, len(records))
	for _, record := range records {
		m := memberAccumulator{address: record.Address, counts: make(map[catalog.CampaignName]int64)}
		for _, w := range record.Weeks {
			for name, count := range w.Campaigns {
				if _, ok := arena[name]; !ok {
					continue
				}
				m.counts[name] += int64(count)
			}
		}
		for name, count := range m.counts {
			acc := arena[name]
			acc.count += count
			acc.stake += count * cat.StakePerUnit(name)
			acc.members++
		}
		members = append(members, m)
	}

	// The result owns its participation records.
	owned := make([]participation.MemberRecord, len(records))
	for i, record := range records {
		owned[i] = record.Clone()
	}

	// Pass 2.
	capPercent := decimal.NewFromInt(cat.MemberCapPercent())
	allocated := make(map[catalog.CampaignName]decimal.Decimal, len(campaigns))
	result := &Result{
		Members:             owned,
		ByMemberAndCampaign: make([]MemberAllocation, 0, len(members)),
		MemberTotals:        make([]MemberTotal, 0, len(members)),
		Detail:              []MemberCampaignAllocation{},
		Warnings:            []participation.Warning{},
	}
	for _, m := range members {
		member := MemberAllocation{Address: m.address, Campaigns: []MemberCampaignAllocation{}, TotalTokens: decimal.Zero}
		for _, c := range campaigns {
			count := m.counts[c.Name]
			if count == 0 {
				continue
			}
			a := allocate(m.address, c, count, arena[c.Name], capPercent)
			member.Campaigns = append(member.Campaigns, a)
			member.TotalTokens = member.TotalTokens.Add(a.Tokens)
			allocated[c.Name] = allocated[c.Name].Add(a.Tokens)
			result.Detail = append(result.Detail, a)
		}
		result.ByMemberAndCampaign = append(result.ByMemberAndCampaign, member)
		result.MemberTotals = append(result.MemberTotals, MemberTotal{Address: m.address, Tokens: member.TotalTokens})
	}

	result.CampaignTotals = make([]CampaignTotal, 0, len(campaigns))
	for _, c := range campaigns {
		acc := arena[c.Name]
		if acc.count == 0 {
			continue
		}
		pool := decimal.NewFromInt(c.TokenPool)
		total := CampaignTotal{
			Campaign:          c.Name,
			RewardModel:       c.RewardModel,
			Count:             acc.count,
			Stake:             acc.stake,
			Members:           acc.members,
			TokenPool:         c.TokenPool,
			AllocatedTokens:   allocated[c.Name],
			UnallocatedTokens: decimal.Max(pool.Sub(allocated[c.Name]), decimal.Zero),
		}
		if total.AllocatedTokens.GreaterThan(pool) {
			result.Warnings = append(result.Warnings, participation.Warning{
				Kind:     participation.WarningPoolOverdrawn,
				Campaign: c.Name,
				Message: fmt.Sprintf("campaign %q allocates %s tokens from a pool of %d",
					c.Name, total.AllocatedTokens.String(), c.TokenPool),
			})
		}
		result.CampaignTotals = append(result.CampaignTotals, total)
	}
	return result
}

func allocate(address string, c catalog.Campaign, count int64, acc *campaignAccumulator, capPercent decimal.Decimal) MemberCampaignAllocation {
	a := MemberCampaignAllocation{
		Address:             address,
		Campaign:            c.Name,
		RewardModel:         c.RewardModel,
		Count:               count,
		Percentage:          decimal.Zero,
		EffectivePercentage: decimal.Zero,
		Tokens:              decimal.Zero,
	}
	switch c.RewardModel {
	case catalog.StakeProportional:
		// count >= 1 and StakePerUnit > 0, so acc.stake >= a.Stake > 0.
		a.Stake = count * c.StakePerUnit
		a.Percentage = decimal.NewFromInt(a.Stake).Mul(hundred).DivRound(decimal.NewFromInt(acc.stake), PercentagePlaces)
		a.EffectivePercentage = decimal.Min(a.Percentage, capPercent)
		a.Tokens = a.EffectivePercentage.Mul(decimal.NewFromInt(c.TokenPool)).Shift(-2)
	case catalog.FlatPerUnit:
		a.Tokens = decimal.NewFromInt(count * c.TokensPerUnit)
	}
	return a
}

// Compute runs the whole pipeline over raw submissions: week resolution,
// normalization, aggregation and allocation. Only week resolution failures are
// fatal; data-quality problems are returned as warnings on the result.
func Compute(rows []participation.RawSubmission, cat *catalog.Catalog) (*Result, error) {
	records, warnings, err := participation.Aggregate(rows, cat, week.NewResolver(cat))
	if err != nil {
		return nil, err
	}
	result := Allocate(records, cat)
	result.Warnings = append(warnings, result.Warnings...)
	if result.Warnings == nil {
		result.Warnings = []participation.Warning{}
	}
	return result, nil
}
