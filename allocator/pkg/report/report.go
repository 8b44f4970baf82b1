package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/bounty/allocator/pkg/allocation"
	"github.com/malbeclabs/bounty/allocator/pkg/catalog"
)

// createdLayout matches JavaScript's Date.toISOString.
const createdLayout = "2006-01-02T15:04:05.000Z07:00"

type CampaignCount struct {
	Count int `json:"count"`
}

type WeekNode struct {
	// WeekNo is the first raw label seen for the week.
	WeekNo       string                   `json:"weekNo"`
	ParsedWeekNo string                   `json:"parsedWeekNo"`
	Campaigns    map[string]CampaignCount `json:"campaigns"`
}

type MemberNode struct {
	Address string     `json:"address"`
	Weeks   []WeekNode `json:"weeks"`
}

// Tree is the participation report written alongside allocation exports.
type Tree struct {
	Created   string       `json:"created"`
	WeekNos   []string     `json:"weekNos"`
	Campaigns []string     `json:"campaigns"`
	Data      []MemberNode `json:"data"`
}

// ParticipationTree builds the per-member, per-week participation report.
func ParticipationTree(result *allocation.Result, cat *catalog.Catalog, clock clockwork.Clock) *Tree {
	tree := &Tree{
		Created:   clock.Now().UTC().Format(createdLayout),
		WeekNos:   cat.WeekLabels(),
		Campaigns: make([]string, 0, len(cat.Names())),
		Data:      make([]MemberNode, 0, len(result.Members)),
	}
	for _, name := range cat.Names() {
		tree.Campaigns = append(tree.Campaigns, string(name))
	}
	for _, m := range result.Members {
		node := MemberNode{Address: m.Address, Weeks: make([]WeekNode, 0, len(m.Weeks))}
		for _, w := range m.Weeks {
			campaigns := make(map[string]CampaignCount, len(w.Campaigns))
			for name, count := range w.Campaigns {
				campaigns[string(name)] = CampaignCount{Count: count}
			}
			node.Weeks = append(node.Weeks, WeekNode{
				WeekNo:       w.WeekLabel,
				ParsedWeekNo: string(w.Week),
				Campaigns:    campaigns,
			})
		}
		tree.Data = append(tree.Data, node)
	}
	return tree
}

func (t *Tree) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode participation tree: %w", err)
	}
	return append(data, '\n'), nil
}

// Statistics counts members and distinct campaign entries across member-weeks.
func Statistics(result *allocation.Result) string {
	total := 0
	for _, m := range result.Members {
		for _, w := range m.Weeks {
			total += len(w.Campaigns)
		}
	}
	return fmt.Sprintf("Total Bounty Members: %d, Total Campaigns: %d", len(result.Members), total)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func newTable(headers []string, numeric map[int]bool) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if numeric[col] {
				return numberStyle
			}
			return cellStyle
		})
}

// Summary writes the campaign and member totals as console tables.
func Summary(w io.Writer, result *allocation.Result) error {
	campaigns := newTable(
		[]string{"Campaign", "Model", "Members", "Count", "Stake", "Pool", "Allocated", "Unallocated"},
		map[int]bool{2: true, 3: true, 4: true, 5: true, 6: true, 7: true},
	)
	for _, c := range result.CampaignTotals {
		campaigns.Row(
			string(c.Campaign),
			string(c.RewardModel),
			strconv.Itoa(c.Members),
			strconv.FormatInt(c.Count, 10),
			strconv.FormatInt(c.Stake, 10),
			strconv.FormatInt(c.TokenPool, 10),
			c.AllocatedTokens.String(),
			c.UnallocatedTokens.String(),
		)
	}

	members := newTable([]string{"Address", "Campaigns", "Tokens"}, map[int]bool{1: true, 2: true})
	for _, m := range result.ByMemberAndCampaign {
		members.Row(m.Address, strconv.Itoa(len(m.Campaigns)), m.TotalTokens.String())
	}

	_, err := fmt.Fprintf(w, "%s\n%s\n%s\nTotal Tokens: %s\n",
		Statistics(result),
		campaigns.String(),
		members.String(),
		result.TotalTokens().String(),
	)
	return err
}
