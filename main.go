package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gift-floors/config"
	"gift-floors/models"
	"gift-floors/scraper/market"
	"gift-floors/scraper/thermos"
	"gift-floors/services"
	"gift-floors/storage"
	"gift-floors/utils"
	"gift-floors/web"
)

const usage = `usage: gift-floors [command] [flags]

commands:
  scan      discover per-model floor prices on the resale market (default)
  thermos   fetch model floors from the thermos attributes API
  compare   join two snapshots on (gift, model) and print the differences
  serve     run the dashboard over the latest snapshots
`

func main() {
	logger := utils.NewLogger()
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Invalid configuration: %v", err)
		os.Exit(2)
	}
	logger.SetLevel(utils.ParseLevel(cfg.LogLevel))

	cmd, args := "scan", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "scan":
		err = runScan(ctx, cfg, logger, args)
	case "thermos":
		err = runThermos(ctx, cfg, logger, args)
	case "compare":
		err = runCompare(cfg, logger, args)
	case "serve":
		err = runServe(ctx, cfg, logger)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if errors.Is(err, context.Canceled) {
		logger.Warn("Interrupted — partial results were flushed")
		os.Exit(130)
	}
	if err != nil {
		logger.Error("%s failed: %v", cmd, err)
		os.Exit(1)
	}
}

func newRetry(cfg *config.Config, logger *utils.Logger) *utils.RetryConfig {
	return &utils.RetryConfig{
		MaxAttempts:      cfg.MaxRetries,
		BaseDelay:        cfg.RetryBaseDelay,
		MaxDelay:         cfg.RetryMaxDelay,
		RateLimitPadding: cfg.RateLimitPadding,
		Logger:           logger,
	}
}

// sinks groups a run's writers. The JSON snapshot and Postgres writers are kept
// apart from the fan-out so callers can reload rows and tag runs.
type sinks struct {
	*storage.MultiWriter
	json     *storage.JSONWriter
	postgres *storage.PostgresWriter
}

// openSinks builds the JSON snapshot sink plus the optional CSV and Postgres
// mirrors.
func openSinks(cfg *config.Config, logger *utils.Logger, jsonPath, source string) (*sinks, error) {
	jsonWriter, err := storage.NewJSONWriter(jsonPath, logger)
	if err != nil {
		return nil, err
	}
	writers := []storage.RowWriter{jsonWriter}

	if cfg.CSVOutputPath != "" && source == "market" {
		csvWriter, err := storage.NewCSVWriter(cfg.CSVOutputPath)
		if err != nil {
			return nil, err
		}
		writers = append(writers, csvWriter)
	}

	var pgWriter *storage.PostgresWriter
	if cfg.PostgresEnabled {
		pgWriter, err = storage.NewPostgresWriter(cfg.DSN(), source)
		if err != nil {
			logger.Error("Failed to connect to PostgreSQL: %v", err)
			logger.Error("Make sure Docker is running: docker compose up -d")
			return nil, err
		}
		writers = append(writers, pgWriter)
	}
	return &sinks{MultiWriter: storage.NewMultiWriter(writers...), json: jsonWriter, postgres: pgWriter}, nil
}

// openReaders picks the store the dashboard reads each source from: Postgres
// when enabled, the JSON snapshots otherwise.
func openReaders(cfg *config.Config, logger *utils.Logger) (web.Snapshots, func(), error) {
	paths := map[string]string{"market": cfg.JSONOutputPath, "thermos": cfg.ThermosOutputPath}
	snapshots := make(web.Snapshots, len(paths))

	if !cfg.PostgresEnabled {
		for source, path := range paths {
			r, err := storage.NewJSONWriter(path, logger)
			if err != nil {
				return nil, nil, err
			}
			snapshots[source] = r
		}
		return snapshots, func() {}, nil
	}

	var opened []*storage.PostgresWriter
	closeAll := func() {
		for _, pw := range opened {
			_ = pw.Close()
		}
	}
	for source := range paths {
		pw, err := storage.NewPostgresWriter(cfg.DSN(), source)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		opened = append(opened, pw)
		snapshots[source] = pw
	}
	logger.Info("[web] Reading snapshots from PostgreSQL")
	return snapshots, closeAll, nil
}

func runScan(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	mode := fs.String("mode", cfg.ScanMode, "scan (walk the price-sorted feed) or verify (one query per model)")
	collections := fs.String("collections", strings.Join(cfg.Collections, ","), "comma-separated gift titles to restrict the run to")
	once := fs.Bool("once", false, "ignore SCHEDULE and run a single pass")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *mode != string(services.ModeScan) && *mode != string(services.ModeVerify) {
		return fmt.Errorf("unknown mode %q", *mode)
	}

	logger.Info("=== Gift floor scan starting ===")
	logger.Info("Config — mode: %s | collections: %d | requests/collection: %d | pages: %d x %d",
		*mode, cfg.MaxConcurrency, cfg.MaxRequestsPerCollection, cfg.MaxPagesPerGift, cfg.PageLimit)

	sink, err := openSinks(cfg, logger, cfg.JSONOutputPath, "market")
	if err != nil {
		return err
	}
	defer sink.Close()

	client := market.NewClient(&http.Client{Timeout: cfg.MarketTimeout}, logger).
		WithBaseURL(cfg.MarketBaseURL).
		WithToken(cfg.MarketToken)
	insights := services.NewInsightService(logger)

	pass := func(ctx context.Context) error {
		runID := uuid.NewString()
		if sink.postgres != nil {
			if err := sink.postgres.SetRunID(runID); err != nil {
				return err
			}
		}
		orch := services.NewOrchestrator(client, sink, newRetry(cfg, logger), logger, services.Options{
			RunID:                    runID,
			SourceName:               "market",
			Mode:                     services.Mode(*mode),
			MaxCollections:           cfg.MaxConcurrency,
			MaxRequestsPerCollection: cfg.MaxRequestsPerCollection,
			RateLimitMs:              cfg.RateLimitMs,
			PageLimit:                cfg.PageLimit,
			MaxPages:                 cfg.MaxPagesPerGift,
			CheckpointRows:           cfg.CheckpointRows,
			CheckpointInterval:       cfg.CheckpointInterval,
			Collections:              splitList(*collections),
		})
		report, err := orch.Run(ctx)
		if report != nil && report.CollectionsTotal > 0 {
			rows, rerr := sink.json.ReadRows()
			if rerr != nil {
				logger.Warn("Could not reload snapshot for insights: %v", rerr)
			}
			insights.Print(insights.Generate(rows), report)
		}
		return err
	}

	if cfg.Schedule == "" || *once {
		if err := pass(ctx); err != nil {
			return err
		}
		fmt.Printf("  Done. Snapshot → %s\n\n", sink.json.Path())
		return nil
	}

	sched := utils.NewScheduler(ctx, logger)
	id, err := sched.Add(cfg.Schedule, func(ctx context.Context) {
		if err := pass(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Scheduled scan failed: %v", err)
		}
	})
	if err != nil {
		return err
	}
	if err := pass(ctx); err != nil {
		return err
	}
	sched.Start()
	logger.Info("Next scan at %s (schedule %q)", sched.Next(id).Format("2006-01-02 15:04:05"), cfg.Schedule)
	<-ctx.Done()
	sched.Stop()
	return ctx.Err()
}

func runThermos(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("thermos", flag.ExitOnError)
	transportName := fs.String("transport", cfg.ThermosTransport, "http or browser (headless Chrome)")
	collections := fs.String("collections", strings.Join(cfg.Collections, ","), "comma-separated gift titles (default: the built-in list)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	titles := splitList(*collections)
	if len(titles) == 0 {
		titles = thermos.DefaultCollections
	}

	var transport thermos.Transport
	switch *transportName {
	case "http":
		transport = thermos.NewHTTPTransport(cfg.ThermosTimeout)
	case "browser":
		transport = thermos.NewBrowserTransport(cfg.ChromeBin, cfg.ThermosTimeout, logger)
	default:
		return fmt.Errorf("unknown transport %q", *transportName)
	}

	logger.Info("=== Thermos fetch starting — %d collections via %s ===", len(titles), *transportName)

	client := thermos.NewClient(transport, logger).
		WithBaseURL(cfg.ThermosBaseURL).
		WithRetry(newRetry(cfg, logger))
	payload, err := client.FetchAttributes(ctx, titles)
	if err != nil {
		return err
	}

	rows := services.NewCleaner(logger).Clean(payload)
	if len(rows) == 0 {
		return errors.New("thermos returned no models")
	}

	sink, err := openSinks(cfg, logger, cfg.ThermosOutputPath, "thermos")
	if err != nil {
		return err
	}
	defer sink.Close()

	report := &models.RunReport{RunID: uuid.NewString(), Source: "thermos", CollectionsTotal: len(titles), CollectionsScanned: len(payload)}
	if sink.postgres != nil {
		if err := sink.postgres.SetRunID(report.RunID); err != nil {
			return err
		}
	}
	if err := sink.Write(rows); err != nil {
		return err
	}

	insights := services.NewInsightService(logger)
	summary := insights.Generate(rows)
	report.RowsPriced, report.RowsUnpriced = summary.PricedRows, summary.UnpricedRows
	insights.Print(summary, report)
	fmt.Printf("  Done. Snapshot → %s\n\n", sink.json.Path())
	return nil
}

func runCompare(cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	pathA := fs.String("a", cfg.JSONOutputPath, "first snapshot")
	pathB := fs.String("b", cfg.ThermosOutputPath, "second snapshot")
	out := fs.String("out", "", "write the comparison as JSON to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := storage.ReadSnapshot(*pathA)
	if err != nil {
		return err
	}
	b, err := storage.ReadSnapshot(*pathB)
	if err != nil {
		return err
	}

	rows := services.Compare(a, b)
	logger.Info("[compare] %d rows in A, %d in B, %d shared", len(a), len(b), len(rows))

	if *out != "" {
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return fmt.Errorf("compare: encode: %w", err)
		}
		if err := os.WriteFile(*out, data, 0644); err != nil {
			return fmt.Errorf("compare: write %q: %w", *out, err)
		}
		logger.Info("[compare] Written to %s", *out)
	}

	printComparison(rows)
	return nil
}

func printComparison(rows []models.ComparisonRow) {
	sep := strings.Repeat("═", 78)
	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  %-24s %-20s %10s %10s %10s\033[0m\n", "Gift", "Model", "A", "B", "Diff %")
	fmt.Printf("\033[1;35m%s\033[0m\n", sep)
	for _, r := range rows {
		color := "0"
		if r.Diff != nil && r.Diff.IsNegative() {
			color = "1;32"
		} else if r.Diff != nil && r.Diff.IsPositive() {
			color = "1;31"
		}
		fmt.Printf("  %-24.24s %-20.20s %10s %10s \033[%sm%10s\033[0m\n",
			r.Gift, r.Model, orDash(r.PriceA), orDash(r.PriceB), color, orDash(r.DiffPct))
	}
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)
}

func runServe(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	snapshots, closeReaders, err := openReaders(cfg, logger)
	if err != nil {
		return err
	}
	defer closeReaders()
	srv := web.NewServer(snapshots, "market", logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(cfg.DashboardAddr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("[web] Shutting down")
		return srv.Shutdown()
	}
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func orDash(v *decimal.Decimal) string {
	if v == nil {
		return "—"
	}
	return v.String()
}
