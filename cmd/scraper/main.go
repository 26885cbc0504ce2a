package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nirajkumaryadav/books-scraper-crud-api/analytics"
	"github.com/nirajkumaryadav/books-scraper-crud-api/config"
	"github.com/nirajkumaryadav/books-scraper-crud-api/models"
	"github.com/nirajkumaryadav/books-scraper-crud-api/scraper"
	"github.com/nirajkumaryadav/books-scraper-crud-api/storage"
)

func main() {
	// a .env next to the binary is optional
	_ = godotenv.Load()

	defaultCfg := config.DefaultConfig()
	pagesDefault := defaultCfg.MaxPages
	if value, ok, err := config.EnvInt("SCRAPER_PAGES"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCRAPER_PAGES: %v\n", err)
		os.Exit(1)
	} else if ok {
		pagesDefault = value
	}
	delayDefault := defaultCfg.PageDelay
	if value, ok, err := config.EnvDuration("SCRAPER_PAGE_DELAY"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCRAPER_PAGE_DELAY: %v\n", err)
		os.Exit(1)
	} else if ok {
		delayDefault = value
	}
	databaseDefault := defaultCfg.DatabaseURL
	if value, ok := config.EnvString("DATABASE_URL"); ok {
		databaseDefault = value
	}
	snapshotDefault := defaultCfg.SnapshotFile
	if value, ok := config.EnvString("SCRAPER_SNAPSHOT"); ok {
		snapshotDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("SCRAPER_METRICS_ADDR"); ok {
		metricsDefault = value
	}

	baseURL := flag.String("base-url", defaultCfg.BaseURL, "Base URL to scrape")
	maxPages := flag.Int("pages", pagesDefault, "Safety cap on catalog pages per run")
	pageDelay := flag.Duration("delay", delayDefault, "Politeness delay between page fetches")
	maxRetries := flag.Int("max-retries", defaultCfg.MaxRetries, "Retry attempts per page on transient failure")
	retryDelay := flag.Duration("retry-delay", defaultCfg.RetryDelay, "Delay between retry attempts")
	timeout := flag.Duration("timeout", defaultCfg.Timeout, "Per-request timeout")
	databaseURL := flag.String("database-url", databaseDefault, "Postgres connection URL")
	snapshotFile := flag.String("snapshot", snapshotDefault, "JSON snapshot path for the in-memory fallback")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := defaultCfg
	cfg.BaseURL = *baseURL
	cfg.MaxPages = *maxPages
	cfg.PageDelay = *pageDelay
	cfg.MaxRetries = *maxRetries
	cfg.RetryDelay = *retryDelay
	cfg.Timeout = *timeout
	cfg.DatabaseURL = *databaseURL
	cfg.SnapshotFile = *snapshotFile
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx := context.Background()

	store := storage.New(ctx, cfg)
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			slog.Error("close storage", slog.Any("error", err))
		}
	}()

	extractor, err := scraper.NewExtractor(cfg, scraper.NewMetrics())
	if err != nil {
		slog.Error("initialising extractor", slog.Any("error", err))
		os.Exit(1)
	}
	extractor.Metrics.SetStorageDegraded(store.Degraded())

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(extractor.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	orchestrator := scraper.NewOrchestrator(cfg, extractor, store)
	summary, runErr := orchestrator.Run(ctx)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	if summary != nil {
		printRunSummary(summary, store.Health(ctx))
	}
	if runErr != nil {
		slog.Error("scrape run failed", slog.Any("error", runErr))
		os.Exit(1)
	}

	engine := analytics.NewEngine(store)
	stats, err := engine.Summary(ctx, storage.Filters{})
	if err != nil {
		slog.Error("computing summary", slog.Any("error", err))
		os.Exit(1)
	}
	top, err := engine.TopBooks(ctx, 10, storage.SortPrice)
	if err != nil {
		slog.Error("computing top books", slog.Any("error", err))
		os.Exit(1)
	}
	analytics.WriteReport(os.Stdout, stats, top)
}

func printRunSummary(summary *models.ScrapeRunSummary, health storage.HealthStatus) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")
	fmt.Printf("  Status:          %s\n", summary.Status)
	fmt.Printf("  Pages processed: %d\n", summary.PagesProcessed)
	fmt.Printf("  Pages failed:    %d\n", summary.PagesFailed)
	fmt.Printf("  Records written: %d\n", summary.RecordsWritten)
	fmt.Printf("  Records skipped: %d\n", summary.RecordsSkipped)
	fmt.Printf("  Duration:        %v\n", summary.Duration)
	fmt.Printf("  Storage backend: %s", health.Backend)
	if health.Degraded {
		fmt.Print(" (degraded)")
	}
	fmt.Println()
	for _, pageErr := range summary.Errors {
		fmt.Printf("  Page %d failed:  %s (%s)\n", pageErr.Page, pageErr.URL, pageErr.Reason)
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
