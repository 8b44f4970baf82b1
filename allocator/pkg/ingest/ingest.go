package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/malbeclabs/bounty/allocator/pkg/objectstore"
	"github.com/malbeclabs/bounty/allocator/pkg/participation"
)

const (
	DefaultAddressColumn  = "ERC-20 Wallet Address"
	DefaultWeekColumn     = "Week Number"
	DefaultCampaignColumn = "Campaign Name"
)

var ErrMissingColumn = errors.New("missing required column")

// Columns names the header cells that hold each submission field.
type Columns struct {
	Address  string
	Week     string
	Campaign string
}

func DefaultColumns() Columns {
	return Columns{
		Address:  DefaultAddressColumn,
		Week:     DefaultWeekColumn,
		Campaign: DefaultCampaignColumn,
	}
}

func (c *Columns) Validate() error {
	if c.Address == "" {
		c.Address = DefaultAddressColumn
	}
	if c.Week == "" {
		c.Week = DefaultWeekColumn
	}
	if c.Campaign == "" {
		c.Campaign = DefaultCampaignColumn
	}
	if c.Address == c.Week || c.Address == c.Campaign || c.Week == c.Campaign {
		return fmt.Errorf("columns must be distinct, got %q, %q, %q", c.Address, c.Week, c.Campaign)
	}
	return nil
}

// ReadCSV parses a submissions export. The first record is the header; extra
// columns are ignored and rows whose fields are all blank are skipped.
func ReadCSV(r io.Reader, cols Columns) ([]participation.RawSubmission, error) {
	if err := cols.Validate(); err != nil {
		return nil, fmt.Errorf("invalid columns: %w", err)
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read header: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, ok := index[name]; !ok {
			index[name] = i
		}
	}
	addressIdx, ok := index[cols.Address]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrMissingColumn, cols.Address)
	}
	weekIdx, ok := index[cols.Week]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrMissingColumn, cols.Week)
	}
	campaignIdx, ok := index[cols.Campaign]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrMissingColumn, cols.Campaign)
	}

	var rows []participation.RawSubmission
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		if blank(record) {
			continue
		}
		rows = append(rows, participation.RawSubmission{
			Address:       field(record, addressIdx),
			WeekLabel:     field(record, weekIdx),
			CampaignLabel: field(record, campaignIdx),
		})
	}
	return rows, nil
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Source is a fetched input together with where it came from.
type Source struct {
	Location string
	Data     []byte
}

// Open reads a local file or an s3://bucket/key object. store may be nil when
// only local paths are expected.
func Open(ctx context.Context, location string, store objectstore.Store) (*Source, error) {
	bucket, key, err := objectstore.ParseURL(location)
	switch {
	case errors.Is(err, objectstore.ErrNotObjectURL):
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		return &Source{Location: location, Data: data}, nil
	case err != nil:
		return nil, err
	}

	if store == nil {
		return nil, fmt.Errorf("no object store configured for %s", location)
	}
	data, err := store.Get(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch input object: %w", err)
	}
	return &Source{Location: location, Data: data}, nil
}

// Submissions parses the source as CSV.
func (s *Source) Submissions(cols Columns) ([]participation.RawSubmission, error) {
	rows, err := ReadCSV(bytes.NewReader(s.Data), cols)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.Location, err)
	}
	return rows, nil
}
