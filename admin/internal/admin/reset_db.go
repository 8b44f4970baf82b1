package admin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/malbeclabs/bounty/allocator/pkg/clickhouse"
)

// gooseVersionTable is dropped with the bounty tables so migrations rerun cleanly.
const gooseVersionTable = "goose_db_version"

type ResetDBConfig struct {
	ClickHouse  clickhouse.ClientConfig
	DryRun      bool
	SkipConfirm bool
	In          io.Reader
	Out         io.Writer
}

func (cfg *ResetDBConfig) Validate() error {
	if cfg.ClickHouse.Addr == "" {
		return errors.New("clickhouse addr is required")
	}
	if cfg.In == nil {
		return errors.New("input reader is required")
	}
	if cfg.Out == nil {
		return errors.New("output writer is required")
	}
	return nil
}

// ResetDB drops every bounty_* table and the migration version table.
func ResetDB(ctx context.Context, log *slog.Logger, cfg ResetDBConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	chDB, err := clickhouse.NewClient(ctx, log, cfg.ClickHouse)
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	defer chDB.Close()

	conn, err := chDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	tables, err := listTables(ctx, conn, cfg.ClickHouse.Database)
	if err != nil {
		return err
	}
	out := cfg.Out

	if len(tables) == 0 {
		fmt.Fprintln(out, "No bounty tables found")
		return nil
	}

	fmt.Fprintf(out, "⚠️  WARNING: This will DROP %d table(s) from database '%s':\n\n", len(tables), cfg.ClickHouse.Database)
	for _, table := range tables {
		fmt.Fprintf(out, "  - %s\n", table)
	}

	if cfg.DryRun {
		fmt.Fprintln(out, "\n[DRY RUN] Would drop the above tables")
		return nil
	}

	if !cfg.SkipConfirm {
		ok, err := confirm(cfg.In, out)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(out, "\nConfirmation failed. Operation cancelled.\n")
			return nil
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, "Dropping tables...")
	for _, table := range tables {
		if err := conn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
		fmt.Fprintf(out, "  ✓ Dropped %s\n", table)
	}

	fmt.Fprintf(out, "\nSuccessfully dropped %d table(s)\n", len(tables))
	return nil
}

func listTables(ctx context.Context, conn clickhouse.Connection, database string) ([]string, error) {
	rows, err := conn.Query(ctx, `
		SELECT name
		FROM system.tables
		WHERE database = ?
		  AND (name LIKE 'bounty\_%' OR name = ?)
		ORDER BY name
	`, database, gooseVersionTable)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tables: %w", err)
	}
	return tables, nil
}

func confirm(in io.Reader, out io.Writer) (bool, error) {
	fmt.Fprintf(out, "\n⚠️  This is a DESTRUCTIVE operation that cannot be undone!\n")
	fmt.Fprintf(out, "Type 'yes' to confirm: ")

	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	return strings.TrimSpace(strings.ToLower(response)) == "yes", nil
}
