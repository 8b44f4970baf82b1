package catalog

const (
	CreativeContest     CampaignName = "Creative Contest"
	LinkedInCampaign    CampaignName = "LinkedIn Campaign"
	TwitterCampaign     CampaignName = "Twitter Campaign"
	TelegramCampaign    CampaignName = "Telegram Campaign"
	FacebookCampaign    CampaignName = "Facebook Campaign"
	YoutubeCampaign     CampaignName = "Youtube Campaign"
	TranslationCampaign CampaignName = "Translation Campaign"
	PeepethCampaign     CampaignName = "Peepeth Campaign"
	RedditCampaign      CampaignName = "Reddit Campaign"
	SignatureCampaign   CampaignName = "Signature Campaign"
	BitcointalkCampaign CampaignName = "Bitcointalk Campaign"
)

const (
	defaultStakePerUnit  = 5
	defaultTokensPerUnit = 500
)

func stakeCampaign(name CampaignName, pool int64) Campaign {
	return Campaign{
		Name:         name,
		RewardModel:  StakeProportional,
		TokenPool:    pool,
		StakePerUnit: defaultStakePerUnit,
	}
}

func defaultRelativeWeeks() map[int]int {
	return map[int]int{
		1: 23,
		2: 24,
		3: 25,
	}
}

// DefaultConfig is the reference bounty program configuration.
func DefaultConfig() Config {
	return Config{
		Campaigns: []Campaign{
			stakeCampaign(CreativeContest, 50000),
			stakeCampaign(LinkedInCampaign, 25000),
			stakeCampaign(TwitterCampaign, 50000),
			stakeCampaign(TelegramCampaign, 25000),
			stakeCampaign(FacebookCampaign, 50000),
			{
				Name:          YoutubeCampaign,
				RewardModel:   FlatPerUnit,
				TokenPool:     50000,
				TokensPerUnit: defaultTokensPerUnit,
			},
			stakeCampaign(TranslationCampaign, 50000),
			stakeCampaign(PeepethCampaign, 25000),
			stakeCampaign(RedditCampaign, 25000),
			stakeCampaign(SignatureCampaign, 50000),
			stakeCampaign(BitcointalkCampaign, 50000),
		},
		Aliases: map[string]CampaignName{
			"Facebook":          FacebookCampaign,
			"Facebook campaign": FacebookCampaign,
		},
		Delimiter:        DefaultDelimiter,
		MemberCapPercent: DefaultMemberCapPercent,
		Weeks: WeekConfig{
			First:       DefaultFirstWeek,
			Last:        DefaultLastWeek,
			Prefix:      DefaultWeekPrefix,
			PrefixWidth: DefaultWeekPrefixWidth,
			Relative:    defaultRelativeWeeks(),
		},
	}
}

// Default returns the reference catalog.
func Default() *Catalog {
	c, err := New(DefaultConfig())
	if err != nil {
		panic("catalog: invalid default config: " + err.Error())
	}
	return c
}
