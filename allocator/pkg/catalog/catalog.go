package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// CampaignName is the canonical name of a bounty campaign.
type CampaignName string

// RewardModel determines how a campaign converts participation into tokens.
type RewardModel string

const (
	// StakeProportional campaigns share a fixed pool by stake, subject to the member cap.
	StakeProportional RewardModel = "stake_proportional"
	// FlatPerUnit campaigns pay a fixed amount of tokens per completed instance.
	FlatPerUnit RewardModel = "flat_per_unit"
)

func (m RewardModel) Valid() bool {
	return m == StakeProportional || m == FlatPerUnit
}

const (
	DefaultDelimiter        = ";"
	DefaultMemberCapPercent = 5
	DefaultFirstWeek        = 22
	DefaultLastWeek         = 52
	DefaultWeekPrefix       = "Week "
	DefaultWeekPrefixWidth  = 7
)

// Campaign is the static configuration of a single campaign.
type Campaign struct {
	Name          CampaignName `yaml:"name" json:"name"`
	RewardModel   RewardModel  `yaml:"reward_model" json:"reward_model"`
	TokenPool     int64        `yaml:"token_pool" json:"token_pool"`
	StakePerUnit  int64        `yaml:"stake_per_unit,omitempty" json:"stake_per_unit,omitempty"`
	TokensPerUnit int64        `yaml:"tokens_per_unit,omitempty" json:"tokens_per_unit,omitempty"`
}

// WeekConfig describes the valid canonical weeks and how raw numeric labels map onto them.
type WeekConfig struct {
	First       int         `yaml:"first" json:"first"`
	Last        int         `yaml:"last" json:"last"`
	Prefix      string      `yaml:"prefix" json:"prefix"`
	PrefixWidth int         `yaml:"prefix_width" json:"prefix_width"`
	Relative    map[int]int `yaml:"relative" json:"relative"`
}

type Config struct {
	Campaigns        []Campaign              `yaml:"campaigns" json:"campaigns"`
	Aliases          map[string]CampaignName `yaml:"aliases" json:"aliases"`
	Delimiter        string                  `yaml:"delimiter" json:"delimiter"`
	MemberCapPercent int64                   `yaml:"member_cap_percent" json:"member_cap_percent"`
	Weeks            WeekConfig              `yaml:"weeks" json:"weeks"`
}

// Validate fills in defaults for unset settings and checks the campaign table.
func (cfg *Config) Validate() error {
	if len(cfg.Campaigns) == 0 {
		return errors.New("at least one campaign is required")
	}
	if cfg.Delimiter == "" {
		cfg.Delimiter = DefaultDelimiter
	}
	if cfg.MemberCapPercent == 0 {
		cfg.MemberCapPercent = DefaultMemberCapPercent
	}
	if cfg.MemberCapPercent < 0 || cfg.MemberCapPercent > 100 {
		return fmt.Errorf("member cap percent must be within (0, 100], got %d", cfg.MemberCapPercent)
	}
	if cfg.Weeks.First == 0 && cfg.Weeks.Last == 0 {
		cfg.Weeks.First = DefaultFirstWeek
		cfg.Weeks.Last = DefaultLastWeek
	}
	if cfg.Weeks.First > cfg.Weeks.Last {
		return fmt.Errorf("first week %d is after last week %d", cfg.Weeks.First, cfg.Weeks.Last)
	}
	if cfg.Weeks.Prefix == "" {
		cfg.Weeks.Prefix = DefaultWeekPrefix
	}
	if cfg.Weeks.PrefixWidth == 0 {
		cfg.Weeks.PrefixWidth = DefaultWeekPrefixWidth
	}
	if cfg.Weeks.PrefixWidth < 0 {
		return errors.New("week prefix width must be positive")
	}
	if cfg.Weeks.Relative == nil {
		cfg.Weeks.Relative = defaultRelativeWeeks()
	}

	seen := make(map[CampaignName]struct{}, len(cfg.Campaigns))
	for _, c := range cfg.Campaigns {
		if c.Name == "" {
			return errors.New("campaign name is required")
		}
		if _, ok := seen[c.Name]; ok {
			return fmt.Errorf("duplicate campaign %q", c.Name)
		}
		seen[c.Name] = struct{}{}

		if !c.RewardModel.Valid() {
			return fmt.Errorf("campaign %q has unknown reward model %q", c.Name, c.RewardModel)
		}
		if c.TokenPool <= 0 {
			return fmt.Errorf("campaign %q token pool must be greater than 0", c.Name)
		}
		switch c.RewardModel {
		case StakeProportional:
			if c.StakePerUnit <= 0 {
				return fmt.Errorf("campaign %q stake per unit must be greater than 0", c.Name)
			}
		case FlatPerUnit:
			if c.TokensPerUnit <= 0 {
				return fmt.Errorf("campaign %q tokens per unit must be greater than 0", c.Name)
			}
		}
	}

	for alias, target := range cfg.Aliases {
		if _, ok := seen[target]; !ok {
			return fmt.Errorf("alias %q points at unknown campaign %q", alias, target)
		}
		// A canonical name must always canonicalize to itself.
		if _, ok := seen[CampaignName(alias)]; ok && CampaignName(alias) != target {
			return fmt.Errorf("alias %q shadows a canonical campaign name", alias)
		}
	}
	return nil
}

// Catalog is the immutable lookup built from a validated Config.
type Catalog struct {
	cfg       Config
	campaigns []Campaign
	byName    map[CampaignName]Campaign
	aliases   map[string]CampaignName
}

func New(cfg Config) (*Catalog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog config: %w", err)
	}

	c := &Catalog{
		cfg:       cfg,
		campaigns: append([]Campaign(nil), cfg.Campaigns...),
		byName:    make(map[CampaignName]Campaign, len(cfg.Campaigns)),
		aliases:   make(map[string]CampaignName, len(cfg.Aliases)),
	}
	for _, campaign := range c.campaigns {
		c.byName[campaign.Name] = campaign
	}
	for alias, target := range cfg.Aliases {
		c.aliases[alias] = target
	}
	return c, nil
}

// LoadFile reads a YAML catalog definition. Settings omitted from the file take
// their defaults; the campaign table is required.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(cfg)
}

// Campaigns returns the campaigns in configuration order.
func (c *Catalog) Campaigns() []Campaign {
	return append([]Campaign(nil), c.campaigns...)
}

func (c *Catalog) Names() []CampaignName {
	names := make([]CampaignName, 0, len(c.campaigns))
	for _, campaign := range c.campaigns {
		names = append(names, campaign.Name)
	}
	return names
}

func (c *Catalog) IsValidCampaign(name CampaignName) bool {
	_, ok := c.byName[name]
	return ok
}

// Canonicalize maps a raw campaign label to its canonical name. Known aliases are
// rewritten; anything else passes through and must then be a canonical name.
func (c *Catalog) Canonicalize(raw string) (CampaignName, bool) {
	name := CampaignName(raw)
	if target, ok := c.aliases[raw]; ok {
		name = target
	}
	if !c.IsValidCampaign(name) {
		return "", false
	}
	return name, true
}

func (c *Catalog) Campaign(name CampaignName) (Campaign, bool) {
	campaign, ok := c.byName[name]
	return campaign, ok
}

func (c *Catalog) RewardModel(name CampaignName) (RewardModel, bool) {
	campaign, ok := c.byName[name]
	return campaign.RewardModel, ok
}

func (c *Catalog) TokenPool(name CampaignName) (int64, bool) {
	campaign, ok := c.byName[name]
	return campaign.TokenPool, ok
}

// StakePerUnit is zero for campaigns that are not stake proportional.
func (c *Catalog) StakePerUnit(name CampaignName) int64 {
	campaign, ok := c.byName[name]
	if !ok || campaign.RewardModel != StakeProportional {
		return 0
	}
	return campaign.StakePerUnit
}

// TokensPerUnit is zero for campaigns that are not flat per unit.
func (c *Catalog) TokensPerUnit(name CampaignName) int64 {
	campaign, ok := c.byName[name]
	if !ok || campaign.RewardModel != FlatPerUnit {
		return 0
	}
	return campaign.TokensPerUnit
}

// Alias is a single raw label rewrite rule.
type Alias struct {
	Label    string       `json:"label"`
	Campaign CampaignName `json:"campaign"`
}

// Aliases returns the alias table sorted by label.
func (c *Catalog) Aliases() []Alias {
	aliases := make([]Alias, 0, len(c.aliases))
	for label, target := range c.aliases {
		aliases = append(aliases, Alias{Label: label, Campaign: target})
	}
	sort.Slice(aliases, func(i, j int) bool { return aliases[i].Label < aliases[j].Label })
	return aliases
}

func (c *Catalog) Delimiter() string {
	return c.cfg.Delimiter
}

func (c *Catalog) MemberCapPercent() int64 {
	return c.cfg.MemberCapPercent
}

// WeekLabels returns every valid canonical week label in order.
func (c *Catalog) WeekLabels() []string {
	labels := make([]string, 0, c.cfg.Weeks.Last-c.cfg.Weeks.First+1)
	for n := c.cfg.Weeks.First; n <= c.cfg.Weeks.Last; n++ {
		labels = append(labels, c.WeekLabel(n))
	}
	return labels
}

func (c *Catalog) WeekLabel(n int) string {
	return fmt.Sprintf("%s%d", c.cfg.Weeks.Prefix, n)
}

// RelativeWeekLabels maps numeric week labels onto canonical week labels.
func (c *Catalog) RelativeWeekLabels() map[int]string {
	out := make(map[int]string, len(c.cfg.Weeks.Relative))
	for offset, n := range c.cfg.Weeks.Relative {
		out[offset] = c.WeekLabel(n)
	}
	return out
}

func (c *Catalog) WeekPrefixWidth() int {
	return c.cfg.Weeks.PrefixWidth
}

// Config returns a copy of the validated configuration.
func (c *Catalog) Config() Config {
	cfg := c.cfg
	cfg.Campaigns = c.Campaigns()
	cfg.Aliases = make(map[string]CampaignName, len(c.aliases))
	for alias, target := range c.aliases {
		cfg.Aliases[alias] = target
	}
	cfg.Weeks.Relative = make(map[int]int, len(c.cfg.Weeks.Relative))
	for offset, n := range c.cfg.Weeks.Relative {
		cfg.Weeks.Relative[offset] = n
	}
	return cfg
}
