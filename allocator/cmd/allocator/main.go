package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/bounty/allocator/pkg/catalog"
	"github.com/malbeclabs/bounty/allocator/pkg/clickhouse"
	"github.com/malbeclabs/bounty/allocator/pkg/export"
	"github.com/malbeclabs/bounty/allocator/pkg/ingest"
	"github.com/malbeclabs/bounty/allocator/pkg/metrics"
	"github.com/malbeclabs/bounty/allocator/pkg/objectstore"
	"github.com/malbeclabs/bounty/allocator/pkg/report"
	"github.com/malbeclabs/bounty/allocator/pkg/runner"
	"github.com/malbeclabs/bounty/allocator/pkg/store"
	"github.com/malbeclabs/bounty/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	versionFlag := flag.Bool("version", false, "print version and exit")
	envFileFlag := flag.String("env-file", ".env", "dotenv file to load if present")

	// Input and catalog
	inputFlag := flag.String("input", "input.csv", "submissions CSV, local path or s3://bucket/key (or set BOUNTY_INPUT env var)")
	catalogFlag := flag.String("catalog", "", "campaign catalog YAML file, built-in catalog when empty (or set BOUNTY_CATALOG env var)")
	addressColumnFlag := flag.String("address-column", ingest.DefaultAddressColumn, "CSV column holding the wallet address")
	weekColumnFlag := flag.String("week-column", ingest.DefaultWeekColumn, "CSV column holding the week label")
	campaignColumnFlag := flag.String("campaign-column", ingest.DefaultCampaignColumn, "CSV column holding the campaign names")

	// Outputs
	outputDirFlag := flag.String("output-dir", ".", "directory for exports, empty to disable (or set BOUNTY_OUTPUT_DIR env var)")
	outputURLFlag := flag.String("output-url", "", "s3://bucket/prefix for exports (or set BOUNTY_OUTPUT_URL env var)")
	formatsFlag := flag.String("formats", "csv,json", "comma separated export formats: csv, jsonl, json")
	summaryFlag := flag.Bool("summary", true, "print campaign and member totals tables")

	// S3
	s3RegionFlag := flag.String("s3-region", "", "S3 region (or set AWS_REGION env var)")
	s3EndpointFlag := flag.String("s3-endpoint", "", "S3 endpoint override, e.g. for MinIO (or set S3_ENDPOINT env var)")
	s3PathStyleFlag := flag.Bool("s3-path-style", false, "use path-style S3 addressing")

	// ClickHouse
	clickhouseStoreFlag := flag.Bool("clickhouse-store", false, "persist the run to ClickHouse")
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")

	pushgatewayURLFlag := flag.String("pushgateway-url", "", "Prometheus Pushgateway URL (or set PUSHGATEWAY_URL env var)")

	flag.Parse()

	if *versionFlag {
		fmt.Printf("bounty-allocator %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	if err := godotenv.Load(*envFileFlag); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	log := logger.New(*verboseFlag)

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: os.Getenv("SENTRY_ENVIRONMENT"),
			Release:     version,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Override flags with environment variables if set
	overrideString(inputFlag, "BOUNTY_INPUT")
	overrideString(catalogFlag, "BOUNTY_CATALOG")
	overrideString(outputDirFlag, "BOUNTY_OUTPUT_DIR")
	overrideString(outputURLFlag, "BOUNTY_OUTPUT_URL")
	overrideString(s3RegionFlag, "AWS_REGION")
	overrideString(s3EndpointFlag, "S3_ENDPOINT")
	overrideString(clickhouseAddrFlag, "CLICKHOUSE_ADDR_TCP")
	overrideString(clickhouseDatabaseFlag, "CLICKHOUSE_DATABASE")
	overrideString(clickhouseUsernameFlag, "CLICKHOUSE_USERNAME")
	overrideString(clickhousePasswordFlag, "CLICKHOUSE_PASSWORD")
	overrideString(pushgatewayURLFlag, "PUSHGATEWAY_URL")
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		*clickhouseSecureFlag = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	cat := catalog.Default()
	if *catalogFlag != "" {
		var err error
		cat, err = catalog.LoadFile(*catalogFlag)
		if err != nil {
			return err
		}
		log.Info("allocator: loaded catalog", "path", *catalogFlag, "campaigns", len(cat.Names()))
	}

	formats, err := export.ParseFormats(*formatsFlag)
	if err != nil {
		return err
	}

	cfg := runner.Config{
		Logger:  log,
		Catalog: cat,
		Columns: ingest.Columns{
			Address:  *addressColumnFlag,
			Week:     *weekColumnFlag,
			Campaign: *campaignColumnFlag,
		},
		Formats:   formats,
		OutputDir: *outputDirFlag,
		OutputURL: *outputURLFlag,
	}

	if needsObjectStore(*inputFlag, *outputURLFlag) {
		objects, err := objectstore.NewS3(ctx, log, objectstore.S3Config{
			Region:       *s3RegionFlag,
			Endpoint:     *s3EndpointFlag,
			UsePathStyle: *s3PathStyleFlag,
		})
		if err != nil {
			return err
		}
		cfg.ObjectStore = objects
	}

	if *clickhouseStoreFlag {
		if *clickhouseAddrFlag == "" {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-store")
		}
		client, err := clickhouse.NewClient(ctx, log, clickhouse.ClientConfig{
			Addr:     *clickhouseAddrFlag,
			Database: *clickhouseDatabaseFlag,
			Username: *clickhouseUsernameFlag,
			Password: *clickhousePasswordFlag,
			Secure:   *clickhouseSecureFlag,
		})
		if err != nil {
			return err
		}
		defer client.Close()

		runStore, err := store.New(store.StoreConfig{Logger: log, ClickHouse: client})
		if err != nil {
			return fmt.Errorf("failed to create store: %w", err)
		}
		cfg.RunStore = runStore
	}

	r, err := runner.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	outcome, runErr := r.Run(ctx, *inputFlag)
	pushMetrics(ctx, log, *pushgatewayURLFlag)
	if runErr != nil {
		return runErr
	}

	if *summaryFlag {
		if err := report.Summary(os.Stdout, outcome.Result); err != nil {
			return fmt.Errorf("failed to print summary: %w", err)
		}
	}
	return nil
}

func overrideString(flagValue *string, env string) {
	if v := os.Getenv(env); v != "" {
		*flagValue = v
	}
}

func needsObjectStore(input, outputURL string) bool {
	if outputURL != "" {
		return true
	}
	_, _, err := objectstore.ParseURL(input)
	return !errors.Is(err, objectstore.ErrNotObjectURL)
}

func pushMetrics(ctx context.Context, log *slog.Logger, url string) {
	if url == "" {
		return
	}
	if err := metrics.Push(ctx, url); err != nil {
		log.Warn("allocator: failed to push metrics", "error", err)
	}
}
