package export

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/malbeclabs/bounty/allocator/pkg/allocation"
	"github.com/malbeclabs/bounty/allocator/pkg/catalog"
	"github.com/malbeclabs/bounty/allocator/pkg/participation"
	"github.com/stretchr/testify/require"
)

func sampleResult(t *testing.T) *allocation.Result {
	t.Helper()

	rows := []participation.RawSubmission{
		{Address: "0xaa", WeekLabel: "Week 30", CampaignLabel: "Twitter Campaign;Youtube Campaign"},
		{Address: "0xaa", WeekLabel: "Week 31", CampaignLabel: "Youtube Campaign"},
		{Address: "0xbb", WeekLabel: "Week 30", CampaignLabel: "Twitter Campaign"},
	}
	for i := 0; i < 8; i++ {
		rows = append(rows, participation.RawSubmission{Address: "0xbb", WeekLabel: "Week 31", CampaignLabel: "Twitter Campaign"})
	}
	result, err := allocation.Compute(rows, catalog.Default())
	require.NoError(t, err)
	return result
}

func sha(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestBounty_Export_DetailCSV(t *testing.T) {
	t.Parallel()

	data, checksum, err := DetailCSV(sampleResult(t).Detail)
	require.NoError(t, err)
	require.Equal(t, sha(data), checksum)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Equal(t, []string{
		"address,campaign,reward_model,count,stake,percentage,effective_percentage,tokens",
		"0xaa,Twitter Campaign,stake_proportional,1,5,10.00,5.00,2500",
		"0xaa,Youtube Campaign,flat_per_unit,2,0,0.00,0.00,1000",
		"0xbb,Twitter Campaign,stake_proportional,9,45,90.00,5.00,2500",
	}, lines)
}

func TestBounty_Export_DetailJSONL(t *testing.T) {
	t.Parallel()

	data, checksum, err := DetailJSONL(sampleResult(t).Detail)
	require.NoError(t, err)
	require.Equal(t, sha(data), checksum)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, "0xaa", first["address"])
	require.Equal(t, "Twitter Campaign", first["campaign"])
	require.Equal(t, "10.00", first["percentage"])
	require.Equal(t, "5.00", first["effective_percentage"])
	require.Equal(t, "2500", first["tokens"])
	require.EqualValues(t, 5, first["stake"])
}

func TestBounty_Export_DetailJSON(t *testing.T) {
	t.Parallel()

	result := sampleResult(t)
	data, checksum, err := DetailJSON(result)
	require.NoError(t, err)
	require.Equal(t, sha(data), checksum)

	var decoded allocation.Result
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Detail, 3)
	require.True(t, decoded.TotalTokens().Equal(result.TotalTokens()))
}

func TestBounty_Export_MemberTotalsCSV(t *testing.T) {
	t.Parallel()

	data, checksum, err := MemberTotalsCSV(sampleResult(t).MemberTotals)
	require.NoError(t, err)
	require.Equal(t, sha(data), checksum)
	require.Equal(t, "address,tokens\n0xaa,3500\n0xbb,2500\n", string(data))
}

func TestBounty_Export_ChecksumIsStable(t *testing.T) {
	t.Parallel()

	for _, f := range []Format{FormatCSV, FormatJSONL, FormatJSON} {
		first, err := Render(f, sampleResult(t))
		require.NoError(t, err)
		second, err := Render(f, sampleResult(t))
		require.NoError(t, err)
		require.Equal(t, first.Checksum, second.Checksum, f)
		require.Equal(t, sha(first.Data), first.Checksum, f)
		require.Equal(t, f.FileName(), first.Name)
		require.Equal(t, f.ContentType(), first.ContentType)
	}
}

func TestBounty_Export_MemberTotalsArtifact(t *testing.T) {
	t.Parallel()

	artifact, err := MemberTotalsArtifact(sampleResult(t))
	require.NoError(t, err)
	require.Equal(t, "member_totals.csv", artifact.Name)
	require.Equal(t, sha(artifact.Data), artifact.Checksum)
}

func TestBounty_Export_ParseFormats(t *testing.T) {
	t.Parallel()

	formats, err := ParseFormats("csv, JSONL,csv,,json")
	require.NoError(t, err)
	require.Equal(t, []Format{FormatCSV, FormatJSONL, FormatJSON}, formats)

	formats, err = ParseFormats("")
	require.NoError(t, err)
	require.Empty(t, formats)

	_, err = ParseFormats("csv,xml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "xml")

	_, err = Render(Format("xml"), sampleResult(t))
	require.Error(t, err)
}
