package participation

import (
	"fmt"
	"maps"
	"strings"

	"github.com/malbeclabs/bounty/allocator/pkg/catalog"
	"github.com/malbeclabs/bounty/allocator/pkg/week"
)

// RawSubmission is one submitted row: a wallet address, a free-text week label and
// one or more delimiter-joined campaign names.
type RawSubmission struct {
	Address       string `json:"address"`
	WeekLabel     string `json:"week_label"`
	CampaignLabel string `json:"campaign_label"`
}

// WeekParticipation holds one member's completed campaign instances for one week.
// A campaign missing from Campaigns had no participation that week.
type WeekParticipation struct {
	// WeekLabel is the first raw label seen for this week.
	WeekLabel string                       `json:"week_label"`
	Week      week.Week                    `json:"week"`
	Campaigns map[catalog.CampaignName]int `json:"campaigns"`
}

type MemberRecord struct {
	Address string              `json:"address"`
	Weeks   []WeekParticipation `json:"weeks"`
}

// Clone returns a deep copy that shares no slices or maps with r.
func (r MemberRecord) Clone() MemberRecord {
	out := MemberRecord{Address: r.Address, Weeks: make([]WeekParticipation, len(r.Weeks))}
	for i, w := range r.Weeks {
		out.Weeks[i] = WeekParticipation{WeekLabel: w.WeekLabel, Week: w.Week, Campaigns: maps.Clone(w.Campaigns)}
	}
	return out
}

// SplitCampaigns splits a campaign label into its raw mentions. Mentions are
// not trimmed and empty mentions are kept, so padded or empty entries fail
// canonicalization and surface as warnings.
func SplitCampaigns(label, delimiter string) []string {
	return strings.Split(label, delimiter)
}

// Normalize folds the campaign mentions of one (member, week) row group into
// per-campaign counts. Unrecognized mentions are skipped and reported as warnings.
func Normalize(address string, w week.Week, rows []RawSubmission, cat *catalog.Catalog) (map[catalog.CampaignName]int, []Warning) {
	counts := make(map[catalog.CampaignName]int)
	var warnings []Warning
	for _, row := range rows {
		for _, mention := range SplitCampaigns(row.CampaignLabel, cat.Delimiter()) {
			name, ok := cat.Canonicalize(mention)
			if !ok {
				warnings = append(warnings, Warning{
					Kind:    WarningUnknownCampaign,
					Address: address,
					Week:    w,
					Label:   mention,
					Message: fmt.Sprintf("invalid campaign %q", mention),
				})
				continue
			}
			counts[name]++
		}
	}
	return counts, warnings
}

type weekBucket struct {
	label string
	week  week.Week
	rows  []RawSubmission
}

type memberBucket struct {
	address string
	weeks   []*weekBucket
	byWeek  map[week.Week]*weekBucket
}

// Aggregate groups rows by trimmed address and then by resolved week, and
// normalizes every (member, week) group. Members and weeks keep the order in
// which they first appear. A week label that cannot be resolved aborts the run.
func Aggregate(rows []RawSubmission, cat *catalog.Catalog, resolver *week.Resolver) ([]MemberRecord, []Warning, error) {
	var members []*memberBucket
	byAddress := make(map[string]*memberBucket)

	for i, row := range rows {
		address := strings.TrimSpace(row.Address)
		w, err := resolver.Resolve(row.WeekLabel)
		if err != nil {
			return nil, nil, fmt.Errorf("row %d (address %q): %w", i+1, address, err)
		}

		m, ok := byAddress[address]
		if !ok {
			m = &memberBucket{address: address, byWeek: make(map[week.Week]*weekBucket)}
			byAddress[address] = m
			members = append(members, m)
		}
		b, ok := m.byWeek[w]
		if !ok {
			b = &weekBucket{label: row.WeekLabel, week: w}
			m.byWeek[w] = b
			m.weeks = append(m.weeks, b)
		}
		b.rows = append(b.rows, row)
	}

	records := make([]MemberRecord, 0, len(members))
	var warnings []Warning
	for _, m := range members {
		record := MemberRecord{
			Address: m.address,
			Weeks:   make([]WeekParticipation, 0, len(m.weeks)),
		}
		for _, b := range m.weeks {
			counts, ws := Normalize(m.address, b.week, b.rows, cat)
			warnings = append(warnings, ws...)
			record.Weeks = append(record.Weeks, WeekParticipation{
				WeekLabel: b.label,
				Week:      b.week,
				Campaigns: counts,
			})
		}
		records = append(records, record)
	}
	return records, warnings, nil
}
