package export

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/malbeclabs/bounty/allocator/pkg/allocation"
)

type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
	FormatJSON  Format = "json"
)

// ParseFormats parses a comma separated list such as "csv,jsonl".
func ParseFormats(raw string) ([]Format, error) {
	var formats []Format
	seen := make(map[Format]bool)
	for _, part := range strings.Split(raw, ",") {
		f := Format(strings.ToLower(strings.TrimSpace(part)))
		if f == "" || seen[f] {
			continue
		}
		if !f.Valid() {
			return nil, fmt.Errorf("unknown export format %q", part)
		}
		seen[f] = true
		formats = append(formats, f)
	}
	return formats, nil
}

func (f Format) Valid() bool {
	switch f {
	case FormatCSV, FormatJSONL, FormatJSON:
		return true
	}
	return false
}

func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSONL:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// FileName is the artifact name for the allocation detail in this format.
func (f Format) FileName() string {
	return "allocations." + string(f)
}

// Artifact is a rendered export and the SHA-256 of its bytes.
type Artifact struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Checksum    string `json:"sha256"`
	Data        []byte `json:"-"`
}

func newArtifact(name, contentType string, data []byte, checksum string) *Artifact {
	return &Artifact{Name: name, ContentType: contentType, Checksum: checksum, Data: data}
}

func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Render renders the allocation detail in the given format.
func Render(f Format, result *allocation.Result) (*Artifact, error) {
	var (
		data     []byte
		checksum string
		err      error
	)
	switch f {
	case FormatCSV:
		data, checksum, err = DetailCSV(result.Detail)
	case FormatJSONL:
		data, checksum, err = DetailJSONL(result.Detail)
	case FormatJSON:
		data, checksum, err = DetailJSON(result)
	default:
		return nil, fmt.Errorf("unknown export format %q", f)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render %s export: %w", f, err)
	}
	return newArtifact(f.FileName(), f.ContentType(), data, checksum), nil
}

// MemberTotalsArtifact renders the per-member totals table as CSV.
func MemberTotalsArtifact(result *allocation.Result) (*Artifact, error) {
	data, checksum, err := MemberTotalsCSV(result.MemberTotals)
	if err != nil {
		return nil, fmt.Errorf("failed to render member totals export: %w", err)
	}
	return newArtifact("member_totals.csv", FormatCSV.ContentType(), data, checksum), nil
}

var detailHeader = []string{
	"address", "campaign", "reward_model", "count", "stake",
	"percentage", "effective_percentage", "tokens",
}

// DetailCSV builds a CSV export of (member, campaign) allocations and returns
// the payload alongside its SHA-256 checksum.
func DetailCSV(detail []allocation.MemberCampaignAllocation) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(detailHeader); err != nil {
		return nil, "", err
	}
	for _, a := range detail {
		record := []string{
			a.Address,
			string(a.Campaign),
			string(a.RewardModel),
			strconv.FormatInt(a.Count, 10),
			strconv.FormatInt(a.Stake, 10),
			a.Percentage.StringFixed(allocation.PercentagePlaces),
			a.EffectivePercentage.StringFixed(allocation.PercentagePlaces),
			a.Tokens.String(),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	return data, Checksum(data), nil
}

type detailLine struct {
	Address             string `json:"address"`
	Campaign            string `json:"campaign"`
	RewardModel         string `json:"reward_model"`
	Count               int64  `json:"count"`
	Stake               int64  `json:"stake"`
	Percentage          string `json:"percentage"`
	EffectivePercentage string `json:"effective_percentage"`
	Tokens              string `json:"tokens"`
}

// DetailJSONL builds a JSON Lines export of (member, campaign) allocations.
// Decimal values are encoded as strings.
func DetailJSONL(detail []allocation.MemberCampaignAllocation) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, a := range detail {
		line := detailLine{
			Address:             a.Address,
			Campaign:            string(a.Campaign),
			RewardModel:         string(a.RewardModel),
			Count:               a.Count,
			Stake:               a.Stake,
			Percentage:          a.Percentage.StringFixed(allocation.PercentagePlaces),
			EffectivePercentage: a.EffectivePercentage.StringFixed(allocation.PercentagePlaces),
			Tokens:              a.Tokens.String(),
		}
		if err := encoder.Encode(line); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	return data, Checksum(data), nil
}

// DetailJSON encodes the whole result as indented JSON.
func DetailJSON(result *allocation.Result) ([]byte, string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, "", err
	}
	data = append(data, '\n')
	return data, Checksum(data), nil
}

func MemberTotalsCSV(totals []allocation.MemberTotal) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write([]string{"address", "tokens"}); err != nil {
		return nil, "", err
	}
	for _, total := range totals {
		if err := writer.Write([]string{total.Address, total.Tokens.String()}); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	return data, Checksum(data), nil
}
