package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/malbeclabs/bounty/allocator/pkg/participation"
	"github.com/stretchr/testify/require"
)

const sample = `Timestamp,ERC-20 Wallet Address,Week Number,Campaign Name,Proof
2018-07-30,0xaa , Week 30 ,Twitter Campaign;Facebook,https://example.com/1
,,,,
2018-07-31,0xbb,2,Youtube Campaign,https://example.com/2
`

func TestBounty_Ingest_ReadCSV(t *testing.T) {
	t.Parallel()

	t.Run("maps default columns and trims fields", func(t *testing.T) {
		t.Parallel()

		rows, err := ReadCSV(strings.NewReader(sample), DefaultColumns())
		require.NoError(t, err)
		require.Equal(t, []participation.RawSubmission{
			{Address: "0xaa", WeekLabel: "Week 30", CampaignLabel: "Twitter Campaign;Facebook"},
			{Address: "0xbb", WeekLabel: "2", CampaignLabel: "Youtube Campaign"},
		}, rows)
	})

	t.Run("custom columns", func(t *testing.T) {
		t.Parallel()

		input := "wallet,week,campaigns\n0xcc,Week 40,Reddit Campaign\n"
		rows, err := ReadCSV(strings.NewReader(input), Columns{Address: "wallet", Week: "week", Campaign: "campaigns"})
		require.NoError(t, err)
		require.Equal(t, []participation.RawSubmission{
			{Address: "0xcc", WeekLabel: "Week 40", CampaignLabel: "Reddit Campaign"},
		}, rows)
	})

	t.Run("byte order mark on header is ignored", func(t *testing.T) {
		t.Parallel()

		input := "\ufeffERC-20 Wallet Address,Week Number,Campaign Name\n0xdd,Week 22,Twitter Campaign\n"
		rows, err := ReadCSV(strings.NewReader(input), DefaultColumns())
		require.NoError(t, err)
		require.Len(t, rows, 1)
	})

	t.Run("short rows yield empty fields", func(t *testing.T) {
		t.Parallel()

		input := "ERC-20 Wallet Address,Week Number,Campaign Name\n0xee,Week 22\n"
		rows, err := ReadCSV(strings.NewReader(input), DefaultColumns())
		require.NoError(t, err)
		require.Equal(t, "", rows[0].CampaignLabel)
	})

	t.Run("missing column is an error", func(t *testing.T) {
		t.Parallel()

		_, err := ReadCSV(strings.NewReader("ERC-20 Wallet Address,Campaign Name\n"), DefaultColumns())
		require.ErrorIs(t, err, ErrMissingColumn)
		require.Contains(t, err.Error(), "Week Number")
	})

	t.Run("empty input is an error", func(t *testing.T) {
		t.Parallel()

		_, err := ReadCSV(strings.NewReader(""), DefaultColumns())
		require.Error(t, err)
	})

	t.Run("header only yields no rows", func(t *testing.T) {
		t.Parallel()

		rows, err := ReadCSV(strings.NewReader("ERC-20 Wallet Address,Week Number,Campaign Name\n"), DefaultColumns())
		require.NoError(t, err)
		require.Empty(t, rows)
	})

	t.Run("duplicate column names are rejected", func(t *testing.T) {
		t.Parallel()

		_, err := ReadCSV(strings.NewReader(sample), Columns{Address: "a", Week: "a", Campaign: "b"})
		require.Error(t, err)
	})
}

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	body, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("not found")
	}
	return body, nil
}

func (m *memoryStore) Put(_ context.Context, bucket, key string, body []byte, _ string) error {
	m.objects[bucket+"/"+key] = body
	return nil
}

func TestBounty_Ingest_Open(t *testing.T) {
	t.Parallel()

	t.Run("local file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "submissions.csv")
		require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

		src, err := Open(t.Context(), path, nil)
		require.NoError(t, err)
		require.Equal(t, path, src.Location)

		rows, err := src.Submissions(DefaultColumns())
		require.NoError(t, err)
		require.Len(t, rows, 2)
	})

	t.Run("object store url", func(t *testing.T) {
		t.Parallel()

		store := &memoryStore{objects: map[string][]byte{"bounty/in/week30.csv": []byte(sample)}}
		src, err := Open(t.Context(), "s3://bounty/in/week30.csv", store)
		require.NoError(t, err)
		require.Equal(t, []byte(sample), src.Data)
	})

	t.Run("object store url without store", func(t *testing.T) {
		t.Parallel()

		_, err := Open(t.Context(), "s3://bounty/in/week30.csv", nil)
		require.Error(t, err)
	})

	t.Run("missing local file", func(t *testing.T) {
		t.Parallel()

		_, err := Open(t.Context(), filepath.Join(t.TempDir(), "nope.csv"), nil)
		require.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("parse errors name the source", func(t *testing.T) {
		t.Parallel()

		src := &Source{Location: "s3://bounty/bad.csv", Data: []byte("a,b\n")}
		_, err := src.Submissions(DefaultColumns())
		require.ErrorIs(t, err, ErrMissingColumn)
		require.Contains(t, err.Error(), "s3://bounty/bad.csv")
	})
}
