package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nirajkumaryadav/books-scraper-crud-api/config"
	"github.com/nirajkumaryadav/books-scraper-crud-api/models"
	"github.com/nirajkumaryadav/books-scraper-crud-api/storage"
)

// ErrRunInProgress is returned when Run is called while a run is active.
// Overlapping runs are rejected, never queued.
var ErrRunInProgress = errors.New("scraper: run already in progress")

// seenCacheSize bounds the per-run URL dedup cache. The catalog holds about
// a thousand entries, so evictions never happen in practice.
const seenCacheSize = 4096

var pageNumberPattern = regexp.MustCompile(`page-(\d+)\.html$`)

// Orchestrator drives the extractor across all discovered pages and writes
// the results through the storage layer.
type Orchestrator struct {
	cfg       *config.Config
	extractor *Extractor
	store     storage.Store
	metrics   *Metrics

	running atomic.Bool
}

// NewOrchestrator wires an orchestrator over the extractor and store.
func NewOrchestrator(cfg *config.Config, extractor *Extractor, store storage.Store) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		extractor: extractor,
		store:     store,
		metrics:   extractor.Metrics,
	}
}

// Running reports whether a scrape run is currently active.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Run executes one full scrape: starting from the catalog's first page it
// follows next-page links until none remains or the safety cap is hit.
// A page whose retries are exhausted is recorded as a page-level failure
// and the run continues; a failure on the first page fails the whole run.
// The summary is returned in both cases.
func (o *Orchestrator) Run(ctx context.Context) (*models.ScrapeRunSummary, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer o.running.Store(false)

	summary := &models.ScrapeRunSummary{
		Status:    models.RunCompleted,
		StartedAt: time.Now(),
	}
	finish := func() {
		summary.FinishedAt = time.Now()
		summary.Duration = summary.FinishedAt.Sub(summary.StartedAt)
	}

	seen, err := lru.New[string, struct{}](seenCacheSize)
	if err != nil {
		finish()
		summary.Status = models.RunFailed
		return summary, fmt.Errorf("create dedup cache: %w", err)
	}

	slog.Info("starting scrape run",
		slog.String("base_url", o.cfg.BaseURL),
		slog.Int("max_pages", o.cfg.MaxPages),
	)

	pageURL := o.cfg.BaseURL
	page := 1
	guessed := false

	for pageURL != "" && page <= o.cfg.MaxPages {
		if page > 1 {
			select {
			case <-ctx.Done():
				finish()
				summary.Status = models.RunFailed
				return summary, ctx.Err()
			case <-time.After(o.cfg.PageDelay):
			}
		}

		result, err := o.extractor.FetchPage(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				finish()
				summary.Status = models.RunFailed
				return summary, ctx.Err()
			}
			if page == 1 {
				finish()
				summary.Status = models.RunFailed
				summary.PagesFailed++
				summary.Errors = append(summary.Errors, models.PageError{
					Page: page, URL: pageURL, Reason: err.Error(),
				})
				o.metrics.IncPage("failed")
				return summary, fmt.Errorf("first page %s unreachable: %w", pageURL, err)
			}

			// a guessed successor answering 404 means the catalog ended,
			// not that a page failed
			var notFound ErrNotFound
			if guessed && errors.As(err, &notFound) {
				break
			}

			slog.Warn("page failed, continuing",
				slog.Int("page", page),
				slog.String("url", pageURL),
				slog.Any("error", err),
			)
			summary.PagesFailed++
			summary.Errors = append(summary.Errors, models.PageError{
				Page: page, URL: pageURL, Reason: err.Error(),
			})
			o.metrics.IncPage("failed")

			pageURL = guessNextPage(pageURL)
			guessed = true
			page++
			continue
		}

		summary.PagesProcessed++
		summary.RecordsExtracted += len(result.Entries)
		summary.RecordsSkipped += result.Skipped
		o.metrics.IncPage("ok")
		o.metrics.IncItems(len(result.Entries))

		for _, book := range result.Entries {
			if book.ProductURL != "" {
				if _, dup := seen.Get(book.ProductURL); dup {
					summary.RecordsSkipped++
					continue
				}
				seen.Add(book.ProductURL, struct{}{})
			}
			if _, _, err := o.store.PutByURL(ctx, book); err != nil {
				slog.Error("store book",
					slog.String("title", book.Title),
					slog.Any("error", err),
				)
				summary.RecordsSkipped++
				continue
			}
			summary.RecordsWritten++
			o.metrics.IncStored()
		}

		slog.Debug("page processed",
			slog.Int("page", page),
			slog.Int("entries", len(result.Entries)),
			slog.String("next", result.NextURL),
		)

		pageURL = result.NextURL
		guessed = false
		page++
	}

	finish()
	slog.Info("scrape run finished",
		slog.String("status", summary.Status),
		slog.Int("pages_processed", summary.PagesProcessed),
		slog.Int("pages_failed", summary.PagesFailed),
		slog.Int("records_written", summary.RecordsWritten),
		slog.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// guessNextPage derives the successor of a failed page from the catalog's
// predictable page-N.html URL scheme, so a single failed page does not end
// the run. Returns "" when the URL does not follow the scheme.
func guessNextPage(pageURL string) string {
	match := pageNumberPattern.FindStringSubmatch(pageURL)
	if match == nil {
		// the first catalog page links to catalogue/page-2.html
		base := strings.TrimSuffix(pageURL, "/")
		if strings.HasSuffix(base, "/index.html") {
			base = strings.TrimSuffix(base, "/index.html")
		}
		return base + "/catalogue/page-2.html"
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return ""
	}
	return pageURL[:len(pageURL)-len(match[0])] + "page-" + strconv.Itoa(n+1) + ".html"
}
