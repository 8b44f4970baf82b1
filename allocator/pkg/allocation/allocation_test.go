package allocation

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/malbeclabs/bounty/allocator/pkg/catalog"
	"github.com/malbeclabs/bounty/allocator/pkg/participation"
	"github.com/malbeclabs/bounty/allocator/pkg/week"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	addrA = "0x00000000000000000000000000000000000000aa"
	addrB = "0x00000000000000000000000000000000000000bb"
	addrC = "0x00000000000000000000000000000000000000cc"
)

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}

func record(address string, weeks ...participation.WeekParticipation) participation.MemberRecord {
	return participation.MemberRecord{Address: address, Weeks: weeks}
}

func weekOf(w week.Week, counts map[catalog.CampaignName]int) participation.WeekParticipation {
	return participation.WeekParticipation{WeekLabel: string(w), Week: w, Campaigns: counts}
}

func repeat(address, weekLabel, campaignLabel string, n int) []participation.RawSubmission {
	rows := make([]participation.RawSubmission, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, participation.RawSubmission{Address: address, WeekLabel: weekLabel, CampaignLabel: campaignLabel})
	}
	return rows
}

func TestBounty_Allocation_FlatPerUnitAcrossWeeks(t *testing.T) {
	t.Parallel()

	rows := []participation.RawSubmission{
		{Address: addrA, WeekLabel: "Week 30", CampaignLabel: "Youtube Campaign"},
		{Address: addrA, WeekLabel: "Week 31", CampaignLabel: "Youtube Campaign"},
		{Address: addrA, WeekLabel: "Week 32", CampaignLabel: "Youtube Campaign"},
	}

	result, err := Compute(rows, catalog.Default())
	require.NoError(t, err)

	a, ok := result.Allocation(addrA, catalog.YoutubeCampaign)
	require.True(t, ok)
	require.Equal(t, int64(3), a.Count)
	require.Zero(t, a.Stake)
	require.Equal(t, catalog.FlatPerUnit, a.RewardModel)
	requireDecimal(t, "0", a.Percentage)
	requireDecimal(t, "0", a.EffectivePercentage)
	requireDecimal(t, "1500", a.Tokens)

	total, ok := result.CampaignTotal(catalog.YoutubeCampaign)
	require.True(t, ok)
	require.Equal(t, int64(3), total.Count)
	require.Zero(t, total.Stake)
	requireDecimal(t, "1500", total.AllocatedTokens)
	requireDecimal(t, "48500", total.UnallocatedTokens)

	memberTotal, ok := result.MemberTotal(addrA)
	require.True(t, ok)
	requireDecimal(t, "1500", memberTotal)
}

func TestBounty_Allocation_CapCausesUnderDistribution(t *testing.T) {
	t.Parallel()

	var rows []participation.RawSubmission
	rows = append(rows, repeat(addrA, "Week 30", "Twitter Campaign", 1)...)
	rows = append(rows, repeat(addrB, "Week 30", "Twitter Campaign", 9)...)

	result, err := Compute(rows, catalog.Default())
	require.NoError(t, err)

	total, ok := result.CampaignTotal(catalog.TwitterCampaign)
	require.True(t, ok)
	require.Equal(t, int64(50), total.Stake)
	require.Equal(t, int64(10), total.Count)
	require.Equal(t, 2, total.Members)

	a, ok := result.Allocation(addrA, catalog.TwitterCampaign)
	require.True(t, ok)
	require.Equal(t, int64(5), a.Stake)
	requireDecimal(t, "10.00", a.Percentage)
	requireDecimal(t, "5", a.EffectivePercentage)
	requireDecimal(t, "2500", a.Tokens)

	b, ok := result.Allocation(addrB, catalog.TwitterCampaign)
	require.True(t, ok)
	require.Equal(t, int64(45), b.Stake)
	requireDecimal(t, "90.00", b.Percentage)
	requireDecimal(t, "5", b.EffectivePercentage)
	requireDecimal(t, "2500", b.Tokens)

	requireDecimal(t, "5000", total.AllocatedTokens)
	requireDecimal(t, "45000", total.UnallocatedTokens)
	require.Empty(t, result.Warnings)
}

func TestBounty_Allocation_ZeroParticipationCampaignIsAbsent(t *testing.T) {
	t.Parallel()

	rows := []participation.RawSubmission{
		{Address: addrA, WeekLabel: "Week 30", CampaignLabel: "Twitter Campaign"},
		{Address: addrB, WeekLabel: "Week 30", CampaignLabel: "Twitter Campaign;Myspace Campaign"},
	}

	result, err := Compute(rows, catalog.Default())
	require.NoError(t, err)

	require.Len(t, result.CampaignTotals, 1)
	require.Equal(t, catalog.TwitterCampaign, result.CampaignTotals[0].Campaign)

	for _, name := range catalog.Default().Names() {
		if name == catalog.TwitterCampaign {
			continue
		}
		_, ok := result.CampaignTotal(name)
		require.False(t, ok, name)
		for _, member := range result.ByMemberAndCampaign {
			for _, a := range member.Campaigns {
				require.NotEqual(t, name, a.Campaign)
			}
		}
	}
	require.Len(t, result.Warnings, 1)
	require.Equal(t, participation.WarningUnknownCampaign, result.Warnings[0].Kind)
}

func TestBounty_Allocation_PercentageRoundsHalfAwayFromZero(t *testing.T) {
	t.Parallel()

	cfg := catalog.DefaultConfig()
	cfg.MemberCapPercent = 100
	cat, err := catalog.New(cfg)
	require.NoError(t, err)

	// 1/800 of the stake is exactly 0.125%.
	result := Allocate([]participation.MemberRecord{
		record(addrA, weekOf("Week 30", map[catalog.CampaignName]int{catalog.RedditCampaign: 1})),
		record(addrB, weekOf("Week 30", map[catalog.CampaignName]int{catalog.RedditCampaign: 799})),
	}, cat)

	a, ok := result.Allocation(addrA, catalog.RedditCampaign)
	require.True(t, ok)
	requireDecimal(t, "0.13", a.Percentage)
	requireDecimal(t, "0.13", a.EffectivePercentage)
	requireDecimal(t, "32.5", a.Tokens)

	b, ok := result.Allocation(addrB, catalog.RedditCampaign)
	require.True(t, ok)
	requireDecimal(t, "99.88", b.Percentage)
	requireDecimal(t, "24970", b.Tokens)
}

func TestBounty_Allocation_RepeatingPercentages(t *testing.T) {
	t.Parallel()

	result := Allocate([]participation.MemberRecord{
		record(addrA, weekOf("Week 30", map[catalog.CampaignName]int{catalog.TelegramCampaign: 1})),
		record(addrB, weekOf("Week 30", map[catalog.CampaignName]int{catalog.TelegramCampaign: 1})),
		record(addrC, weekOf("Week 31", map[catalog.CampaignName]int{catalog.TelegramCampaign: 1})),
	}, catalog.Default())

	for _, address := range []string{addrA, addrB, addrC} {
		a, ok := result.Allocation(address, catalog.TelegramCampaign)
		require.True(t, ok)
		requireDecimal(t, "33.33", a.Percentage)
		requireDecimal(t, "5", a.EffectivePercentage)
		requireDecimal(t, "1250", a.Tokens)
	}
}

func TestBounty_Allocation_MemberTotalsAndDetail(t *testing.T) {
	t.Parallel()

	var rows []participation.RawSubmission
	rows = append(rows, repeat(addrA, "Week 30", "Twitter Campaign;Youtube Campaign", 1)...)
	rows = append(rows, repeat(addrA, "1", "Facebook", 1)...)
	for i := 0; i < 38; i++ {
		rows = append(rows, participation.RawSubmission{
			Address:       fmt.Sprintf("0x%040x", i+1000),
			WeekLabel:     "Week 30",
			CampaignLabel: "Twitter Campaign;Facebook Campaign",
		})
	}

	result, err := Compute(rows, catalog.Default())
	require.NoError(t, err)

	// 39 equal Twitter participants: 100/39 = 2.564.. rounds to 2.56.
	twitter, ok := result.Allocation(addrA, catalog.TwitterCampaign)
	require.True(t, ok)
	requireDecimal(t, "2.56", twitter.Percentage)
	requireDecimal(t, "1280", twitter.Tokens)

	facebook, ok := result.Allocation(addrA, catalog.FacebookCampaign)
	require.True(t, ok)
	requireDecimal(t, "2.56", facebook.Percentage)
	requireDecimal(t, "1280", facebook.Tokens)

	memberTotal, ok := result.MemberTotal(addrA)
	require.True(t, ok)
	requireDecimal(t, "3060", memberTotal)

	require.Equal(t, addrA, result.ByMemberAndCampaign[0].Address)
	require.Equal(t, []catalog.CampaignName{
		catalog.TwitterCampaign,
		catalog.FacebookCampaign,
		catalog.YoutubeCampaign,
	}, []catalog.CampaignName{
		result.ByMemberAndCampaign[0].Campaigns[0].Campaign,
		result.ByMemberAndCampaign[0].Campaigns[1].Campaign,
		result.ByMemberAndCampaign[0].Campaigns[2].Campaign,
	})

	require.Len(t, result.Detail, 3+38*2)
	require.Len(t, result.MemberTotals, 39)
	for _, d := range result.Detail {
		require.NotEmpty(t, d.Address)
		require.NotEmpty(t, d.Campaign)
	}

	sum := decimal.Zero
	for _, d := range result.Detail {
		sum = sum.Add(d.Tokens)
	}
	require.True(t, sum.Equal(result.TotalTokens()))
}

func TestBounty_Allocation_PoolOverdrawnByRounding(t *testing.T) {
	t.Parallel()

	// Twenty members at exactly 4.995% each round up to 5.00%, plus one at 0.1%.
	records := make([]participation.MemberRecord, 0, 21)
	for i := 0; i < 20; i++ {
		records = append(records, record(
			fmt.Sprintf("0x%040x", i+1),
			weekOf("Week 30", map[catalog.CampaignName]int{catalog.TwitterCampaign: 999}),
		))
	}
	records = append(records, record(addrA, weekOf("Week 30", map[catalog.CampaignName]int{catalog.TwitterCampaign: 20})))

	result := Allocate(records, catalog.Default())

	total, ok := result.CampaignTotal(catalog.TwitterCampaign)
	require.True(t, ok)
	requireDecimal(t, "50050", total.AllocatedTokens)
	requireDecimal(t, "0", total.UnallocatedTokens)

	require.Len(t, result.Warnings, 1)
	require.Equal(t, participation.WarningPoolOverdrawn, result.Warnings[0].Kind)
	require.Equal(t, catalog.TwitterCampaign, result.Warnings[0].Campaign)
}

func TestBounty_Allocation_FlatCampaignOverdrawsPool(t *testing.T) {
	t.Parallel()

	result := Allocate([]participation.MemberRecord{
		record(addrA, weekOf("Week 30", map[catalog.CampaignName]int{catalog.YoutubeCampaign: 101})),
	}, catalog.Default())

	total, ok := result.CampaignTotal(catalog.YoutubeCampaign)
	require.True(t, ok)
	requireDecimal(t, "50500", total.AllocatedTokens)
	require.Len(t, result.Warnings, 1)
	require.Equal(t, participation.WarningPoolOverdrawn, result.Warnings[0].Kind)
}

func TestBounty_Allocation_Properties(t *testing.T) {
	t.Parallel()

	cat := catalog.Default()
	names := cat.Names()
	rng := rand.New(rand.NewPCG(7, 11))

	var rows []participation.RawSubmission
	for i := 0; i < 400; i++ {
		address := fmt.Sprintf("0x%040x", rng.IntN(60))
		label := fmt.Sprintf("Week %d", 22+rng.IntN(31))
		mentions := string(names[rng.IntN(len(names))])
		if rng.IntN(3) == 0 {
			mentions += ";" + string(names[rng.IntN(len(names))])
		}
		if rng.IntN(10) == 0 {
			mentions += ";Unknown Campaign"
		}
		rows = append(rows, participation.RawSubmission{Address: address, WeekLabel: label, CampaignLabel: mentions})
	}

	result, err := Compute(rows, cat)
	require.NoError(t, err)

	overdrawn := make(map[catalog.CampaignName]bool)
	for _, w := range result.Warnings {
		if w.Kind == participation.WarningPoolOverdrawn {
			overdrawn[w.Campaign] = true
		}
	}

	five := decimal.NewFromInt(5)
	for _, a := range result.Detail {
		require.False(t, a.Tokens.IsNegative())
		require.Positive(t, a.Count)
		if a.RewardModel != catalog.StakeProportional {
			continue
		}
		require.False(t, a.Percentage.IsNegative())
		require.True(t, a.Percentage.LessThanOrEqual(hundred))
		require.False(t, a.EffectivePercentage.IsNegative())
		require.True(t, a.EffectivePercentage.LessThanOrEqual(five))
	}

	for _, total := range result.CampaignTotals {
		if total.RewardModel != catalog.StakeProportional || overdrawn[total.Campaign] {
			continue
		}
		require.True(t, total.AllocatedTokens.LessThanOrEqual(decimal.NewFromInt(total.TokenPool)), total.Campaign)
	}

	t.Run("results are identical across runs", func(t *testing.T) {
		t.Parallel()

		again, err := Compute(rows, cat)
		require.NoError(t, err)

		first, err := json.Marshal(result)
		require.NoError(t, err)
		second, err := json.Marshal(again)
		require.NoError(t, err)
		require.Equal(t, string(first), string(second))
	})
}

func TestBounty_Allocation_FatalWeekErrors(t *testing.T) {
	t.Parallel()

	_, err := Compute([]participation.RawSubmission{
		{Address: addrA, WeekLabel: "9", CampaignLabel: "Twitter Campaign"},
	}, catalog.Default())
	require.ErrorIs(t, err, week.ErrUnparseableWeek)

	_, err = Compute([]participation.RawSubmission{
		{Address: addrA, WeekLabel: "Week 99", CampaignLabel: "Twitter Campaign"},
	}, catalog.Default())
	require.ErrorIs(t, err, week.ErrInvalidWeek)
}

func TestBounty_Allocation_ResultDoesNotShareInput(t *testing.T) {
	t.Parallel()

	records := []participation.MemberRecord{
		record(addrA, weekOf("Week 30", map[catalog.CampaignName]int{catalog.TwitterCampaign: 1})),
	}
	result := Allocate(records, catalog.Default())

	records[0].Weeks[0].Campaigns[catalog.TwitterCampaign] = 9
	records[0].Weeks[0].Week = "Week 31"
	records[0].Address = addrB

	require.Equal(t, addrA, result.Members[0].Address)
	require.Equal(t, week.Week("Week 30"), result.Members[0].Weeks[0].Week)
	require.Equal(t, 1, result.Members[0].Weeks[0].Campaigns[catalog.TwitterCampaign])
}

func TestBounty_Allocation_EmptyInput(t *testing.T) {
	t.Parallel()

	result, err := Compute(nil, catalog.Default())
	require.NoError(t, err)
	require.Empty(t, result.CampaignTotals)
	require.Empty(t, result.Detail)
	require.Empty(t, result.MemberTotals)
	require.NotNil(t, result.Warnings)
	requireDecimal(t, "0", result.TotalTokens())
}
