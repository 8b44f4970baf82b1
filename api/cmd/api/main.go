package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/bounty/allocator/pkg/catalog"
	"github.com/malbeclabs/bounty/allocator/pkg/ingest"
	"github.com/malbeclabs/bounty/api/handlers"
	"github.com/malbeclabs/bounty/api/metrics"
	"github.com/malbeclabs/bounty/api/server"
	"github.com/malbeclabs/bounty/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "0.0.0.0:8080"
	defaultMetricsAddr = "0.0.0.0:0"
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
	jsonLogsFlag := flag.Bool("json-logs", false, "emit JSON logs (or set LOG_FORMAT=json env var)")
	envFileFlag := flag.String("env-file", ".env", "dotenv file to load if present")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "address to serve the API on (or set LISTEN_ADDR env var)")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "address to listen on for prometheus metrics, empty to disable")
	catalogFlag := flag.String("catalog", "", "campaign catalog YAML file, built-in catalog when empty (or set BOUNTY_CATALOG env var)")
	originsFlag := flag.String("allowed-origins", "*", "comma separated CORS origins (or set ALLOWED_ORIGINS env var)")
	rateFlag := flag.Int("rate-per-minute", 30, "allocation requests per minute per client")
	burstFlag := flag.Int("rate-burst", server.DefaultRateBurst, "allocation request burst per client")
	maxBodyFlag := flag.Int64("max-body-bytes", handlers.DefaultMaxBodyBytes, "maximum allocation request body size")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", server.DefaultShutdownTimeout, "maximum time to wait for in-flight requests during shutdown")

	flag.Parse()

	if err := godotenv.Load(*envFileFlag); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		*listenAddrFlag = v
	}
	if v := os.Getenv("BOUNTY_CATALOG"); v != "" {
		*catalogFlag = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		*originsFlag = v
	}
	if os.Getenv("LOG_FORMAT") == "json" {
		*jsonLogsFlag = true
	}

	var log *slog.Logger
	if *jsonLogsFlag {
		log = logger.NewJSON(os.Stdout, *verboseFlag)
	} else {
		log = logger.New(*verboseFlag)
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: os.Getenv("SENTRY_ENVIRONMENT"),
			Release:     version,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		log.Info("sentry initialized")
	}

	cat := catalog.Default()
	if *catalogFlag != "" {
		var err error
		cat, err = catalog.LoadFile(*catalogFlag)
		if err != nil {
			return err
		}
		log.Info("api: loaded catalog", "path", *catalogFlag, "campaigns", len(cat.Names()))
	}

	// Start metrics server
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, mux); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv, err := server.New(server.Config{
		ListenAddr:      *listenAddrFlag,
		ShutdownTimeout: *shutdownTimeoutFlag,
		AllowedOrigins:  splitList(*originsFlag),
		RateLimit:       rate.Every(time.Minute / time.Duration(max(*rateFlag, 1))),
		RateBurst:       *burstFlag,
		VersionInfo: handlers.VersionInfo{
			Version: version,
			Commit:  commit,
			Date:    date,
		},
		HandlersConfig: handlers.Config{
			Logger:       log,
			Catalog:      cat,
			Columns:      ingest.DefaultColumns(),
			MaxBodyBytes: *maxBodyFlag,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Run(ctx)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
