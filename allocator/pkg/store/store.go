package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/malbeclabs/bounty/allocator/pkg/allocation"
	"github.com/malbeclabs/bounty/allocator/pkg/catalog"
	"github.com/malbeclabs/bounty/allocator/pkg/clickhouse"
	"github.com/malbeclabs/bounty/allocator/pkg/metrics"
	"github.com/malbeclabs/bounty/utils/pkg/retry"
	"github.com/shopspring/decimal"
)

var ErrRunNotFound = errors.New("run not found")

type StoreConfig struct {
	Logger     *slog.Logger
	ClickHouse clickhouse.Client
	Retry      retry.Config
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ClickHouse == nil {
		return errors.New("clickhouse connection is required")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// Store persists allocation runs to ClickHouse.
type Store struct {
	log *slog.Logger
	cfg StoreConfig
}

func New(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Run is the header row of one allocation run.
type Run struct {
	ID            string
	CreatedAt     time.Time
	InputLocation string
	InputSHA256   string
	InputRows     uint64
	Members       uint64
	Campaigns     uint64
	Warnings      uint64
	TotalTokens   decimal.Decimal
}

// NewRun summarizes a result into a run header.
func NewRun(id string, createdAt time.Time, inputLocation, inputSHA256 string, inputRows int, result *allocation.Result) Run {
	return Run{
		ID:            id,
		CreatedAt:     createdAt.UTC(),
		InputLocation: inputLocation,
		InputSHA256:   inputSHA256,
		InputRows:     uint64(inputRows),
		Members:       uint64(len(result.Members)),
		Campaigns:     uint64(len(result.CampaignTotals)),
		Warnings:      uint64(len(result.Warnings)),
		TotalTokens:   result.TotalTokens(),
	}
}

const (
	insertRunQuery = `INSERT INTO bounty_runs (
		run_id, created_at, input_location, input_sha256, input_rows, members, campaigns, warnings, total_tokens
	)`
	insertAllocationsQuery = `INSERT INTO bounty_allocations (
		run_id, address, campaign, reward_model, unit_count, stake, percentage, effective_percentage, tokens
	)`
	insertMemberTotalsQuery   = `INSERT INTO bounty_member_totals (run_id, address, tokens)`
	insertCampaignTotalsQuery = `INSERT INTO bounty_campaign_totals (
		run_id, campaign, reward_model, members, unit_count, stake, token_pool, allocated_tokens, unallocated_tokens
	)`
)

func runRow(run Run) []any {
	return []any{
		run.ID,
		run.CreatedAt,
		run.InputLocation,
		run.InputSHA256,
		run.InputRows,
		run.Members,
		run.Campaigns,
		run.Warnings,
		run.TotalTokens,
	}
}

func allocationRow(runID string, a allocation.MemberCampaignAllocation) []any {
	return []any{
		runID,
		a.Address,
		string(a.Campaign),
		string(a.RewardModel),
		uint64(a.Count),
		uint64(a.Stake),
		a.Percentage,
		a.EffectivePercentage,
		a.Tokens,
	}
}

func memberTotalRow(runID string, t allocation.MemberTotal) []any {
	return []any{runID, t.Address, t.Tokens}
}

func campaignTotalRow(runID string, t allocation.CampaignTotal) []any {
	return []any{
		runID,
		string(t.Campaign),
		string(t.RewardModel),
		uint64(t.Members),
		uint64(t.Count),
		uint64(t.Stake),
		uint64(t.TokenPool),
		t.AllocatedTokens,
		t.UnallocatedTokens,
	}
}

// SaveRun writes the run header and every result table. The header goes last
// so a run is only listed once its detail rows are in place.
func (s *Store) SaveRun(ctx context.Context, run Run, result *allocation.Result) error {
	allocations := make([][]any, 0, len(result.Detail))
	for _, a := range result.Detail {
		allocations = append(allocations, allocationRow(run.ID, a))
	}
	memberTotals := make([][]any, 0, len(result.MemberTotals))
	for _, t := range result.MemberTotals {
		memberTotals = append(memberTotals, memberTotalRow(run.ID, t))
	}
	campaignTotals := make([][]any, 0, len(result.CampaignTotals))
	for _, t := range result.CampaignTotals {
		campaignTotals = append(campaignTotals, campaignTotalRow(run.ID, t))
	}

	tables := []struct {
		name  string
		query string
		rows  [][]any
	}{
		{"bounty_allocations", insertAllocationsQuery, allocations},
		{"bounty_member_totals", insertMemberTotalsQuery, memberTotals},
		{"bounty_campaign_totals", insertCampaignTotalsQuery, campaignTotals},
		{"bounty_runs", insertRunQuery, [][]any{runRow(run)}},
	}
	for _, table := range tables {
		if err := s.insert(ctx, table.query, table.rows); err != nil {
			return fmt.Errorf("failed to write %s: %w", table.name, err)
		}
		s.log.Debug("allocator/store: wrote table", "table", table.name, "rows", len(table.rows), "run_id", run.ID)
	}
	s.log.Info("allocator/store: saved run", "run_id", run.ID, "allocations", len(allocations))
	return nil
}

func (s *Store) insert(ctx context.Context, query string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	return retry.Do(ctx, s.cfg.Retry, func() error {
		start := time.Now()
		err := s.insertOnce(ctx, query, rows)
		metrics.DatabaseQueryDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.DatabaseQueriesTotal.WithLabelValues("error").Inc()
			return err
		}
		metrics.DatabaseQueriesTotal.WithLabelValues("success").Inc()
		return nil
	})
}

func (s *Store) insertOnce(ctx context.Context, query string, rows [][]any) error {
	conn, err := s.cfg.ClickHouse.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	batch, err := conn.PrepareBatch(clickhouse.ContextWithSyncInsert(ctx), query)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	conn, err := s.cfg.ClickHouse.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.Query(ctx, `
		SELECT run_id, created_at, input_location, input_sha256, input_rows, members, campaigns, warnings, total_tokens
		FROM bounty_runs FINAL
		WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read run: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	var run Run
	if err := rows.Scan(
		&run.ID, &run.CreatedAt, &run.InputLocation, &run.InputSHA256,
		&run.InputRows, &run.Members, &run.Campaigns, &run.Warnings, &run.TotalTokens,
	); err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	return &run, nil
}

// Allocations returns a run's detail rows ordered by address then campaign.
func (s *Store) Allocations(ctx context.Context, runID string) ([]allocation.MemberCampaignAllocation, error) {
	conn, err := s.cfg.ClickHouse.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.Query(ctx, `
		SELECT address, campaign, reward_model, unit_count, stake, percentage, effective_percentage, tokens
		FROM bounty_allocations FINAL
		WHERE run_id = ?
		ORDER BY address, campaign
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var out []allocation.MemberCampaignAllocation
	for rows.Next() {
		var (
			a                   allocation.MemberCampaignAllocation
			campaign, model     string
			count, stake        uint64
			pct, effPct, tokens decimal.Decimal
		)
		if err := rows.Scan(&a.Address, &campaign, &model, &count, &stake, &pct, &effPct, &tokens); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		a.Campaign = catalog.CampaignName(campaign)
		a.RewardModel = catalog.RewardModel(model)
		a.Count = int64(count)
		a.Stake = int64(stake)
		a.Percentage = pct
		a.EffectivePercentage = effPct
		a.Tokens = tokens
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read allocations: %w", err)
	}
	return out, nil
}

func (s *Store) MemberTotals(ctx context.Context, runID string) ([]allocation.MemberTotal, error) {
	conn, err := s.cfg.ClickHouse.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.Query(ctx, `
		SELECT address, tokens
		FROM bounty_member_totals FINAL
		WHERE run_id = ?
		ORDER BY address
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query member totals: %w", err)
	}
	defer rows.Close()

	var out []allocation.MemberTotal
	for rows.Next() {
		var t allocation.MemberTotal
		if err := rows.Scan(&t.Address, &t.Tokens); err != nil {
			return nil, fmt.Errorf("failed to scan member total: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read member totals: %w", err)
	}
	return out, nil
}
