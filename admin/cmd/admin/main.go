package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/bounty/admin/internal/admin"
	"github.com/malbeclabs/bounty/allocator/pkg/clickhouse"
	"github.com/malbeclabs/bounty/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	envFileFlag := flag.String("env-file", ".env", "dotenv file to load if present")

	// ClickHouse configuration
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")

	// Commands
	clickhouseMigrateFlag := flag.Bool("clickhouse-migrate", false, "Run ClickHouse database migrations using goose")
	clickhouseMigrateStatusFlag := flag.Bool("clickhouse-migrate-status", false, "Show ClickHouse database migration status")
	clickhouseMigrateVersionFlag := flag.Bool("clickhouse-migrate-version", false, "Print the current ClickHouse migration version")
	clickhouseMigrateDownFlag := flag.Bool("clickhouse-migrate-down", false, "Roll back the most recent ClickHouse migration")
	resetDBFlag := flag.Bool("reset-db", false, "Drop all bounty_* tables and the migration version table")
	dryRunFlag := flag.Bool("dry-run", false, "Dry run mode - show what would be done without actually executing")
	yesFlag := flag.Bool("yes", false, "Skip confirmation prompt (use with caution)")

	flag.Parse()

	if err := godotenv.Load(*envFileFlag); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	log := logger.New(*verboseFlag)

	// Override ClickHouse flags with environment variables if set
	if envClickhouseAddr := os.Getenv("CLICKHOUSE_ADDR_TCP"); envClickhouseAddr != "" {
		*clickhouseAddrFlag = envClickhouseAddr
	}
	if envClickhouseDatabase := os.Getenv("CLICKHOUSE_DATABASE"); envClickhouseDatabase != "" {
		*clickhouseDatabaseFlag = envClickhouseDatabase
	}
	if envClickhouseUsername := os.Getenv("CLICKHOUSE_USERNAME"); envClickhouseUsername != "" {
		*clickhouseUsernameFlag = envClickhouseUsername
	}
	if envClickhousePassword := os.Getenv("CLICKHOUSE_PASSWORD"); envClickhousePassword != "" {
		*clickhousePasswordFlag = envClickhousePassword
	}
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		*clickhouseSecureFlag = true
	}

	chCfg := clickhouse.ClientConfig{
		Addr:     *clickhouseAddrFlag,
		Database: *clickhouseDatabaseFlag,
		Username: *clickhouseUsernameFlag,
		Password: *clickhousePasswordFlag,
		Secure:   *clickhouseSecureFlag,
	}
	requireAddr := func(cmd string) error {
		if chCfg.Addr == "" {
			return fmt.Errorf("--clickhouse-addr is required for --%s", cmd)
		}
		return nil
	}
	ctx := context.Background()

	switch {
	case *clickhouseMigrateFlag:
		if err := requireAddr("clickhouse-migrate"); err != nil {
			return err
		}
		return clickhouse.RunMigrations(ctx, log, chCfg.MigrationConfig())

	case *clickhouseMigrateStatusFlag:
		if err := requireAddr("clickhouse-migrate-status"); err != nil {
			return err
		}
		return clickhouse.MigrationStatus(ctx, log, chCfg.MigrationConfig())

	case *clickhouseMigrateVersionFlag:
		if err := requireAddr("clickhouse-migrate-version"); err != nil {
			return err
		}
		version, err := clickhouse.Version(ctx, log, chCfg.MigrationConfig())
		if err != nil {
			return err
		}
		fmt.Println(version)
		return nil

	case *clickhouseMigrateDownFlag:
		if err := requireAddr("clickhouse-migrate-down"); err != nil {
			return err
		}
		return clickhouse.Down(ctx, log, chCfg.MigrationConfig())

	case *resetDBFlag:
		if err := requireAddr("reset-db"); err != nil {
			return err
		}
		return admin.ResetDB(ctx, log, admin.ResetDBConfig{
			ClickHouse:  chCfg,
			DryRun:      *dryRunFlag,
			SkipConfirm: *yesFlag,
			In:          os.Stdin,
			Out:         os.Stdout,
		})
	}

	flag.Usage()
	return nil
}
