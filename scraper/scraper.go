// Package scraper fetches catalog pages, extracts normalized book records,
// and orchestrates full scrape runs against the storage layer.
package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/nirajkumaryadav/books-scraper-crud-api/config"
	"github.com/nirajkumaryadav/books-scraper-crud-api/models"
	"github.com/nirajkumaryadav/books-scraper-crud-api/parser"
)

// PageResult is the outcome of fetching one catalog page.
type PageResult struct {
	Entries []*models.Book
	NextURL string // absolute URL of the next page, "" when this is the last
	Skipped int    // entries discarded for having no meaningful data
}

// Extractor fetches one catalog page at a time. Fetches are deliberately
// sequential: the collector runs synchronously with no parallelism, a
// politeness constraint toward the scraped site.
type Extractor struct {
	cfg       *config.Config
	collector *colly.Collector
	Metrics   *Metrics

	mu      sync.Mutex // one page in flight at a time
	capture *pageCapture

	handlersOnce sync.Once
}

type pageCapture struct {
	entries  []*models.Book
	skipped  int
	nextURL  string
	status   int
	fetchErr error
}

// NewExtractor builds an extractor configured from cfg.
func NewExtractor(cfg *config.Config, metrics *Metrics) (*Extractor, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(cfg.UserAgent),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	// retries revisit the same URL
	collector.AllowURLRevisit = true

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	ex := &Extractor{
		cfg:       cfg,
		collector: collector,
		Metrics:   metrics,
	}
	return ex, nil
}

// WithTransport swaps the collector's HTTP transport. Used by tests.
func (ex *Extractor) WithTransport(rt http.RoundTripper) {
	ex.collector.WithTransport(rt)
}

// FetchPage issues one GET for pageURL and parses its book entries and
// next-page link. Transient failures are retried a fixed number of times
// with a fixed delay; permanent failures and exhausted retries return the
// classified error.
func (ex *Extractor) FetchPage(ctx context.Context, pageURL string) (*PageResult, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	ex.configureHandlers()

	var lastErr error
	for attempt := 0; attempt <= ex.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			ex.Metrics.IncRetries()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(ex.cfg.RetryDelay):
			}
		}

		capture := &pageCapture{}
		ex.capture = capture
		err := ex.collector.Visit(pageURL)
		ex.capture = nil

		if err == nil && capture.fetchErr == nil {
			return &PageResult{
				Entries: capture.entries,
				NextURL: capture.nextURL,
				Skipped: capture.skipped,
			}, nil
		}

		if capture.fetchErr != nil {
			lastErr = capture.fetchErr
		} else {
			lastErr = classifyError(err, 0)
		}
		ex.Metrics.IncError(errorTypeLabel(lastErr))
		if !isTransient(lastErr) {
			break
		}
	}
	return nil, lastErr
}

func (ex *Extractor) configureHandlers() {
	ex.handlersOnce.Do(func() {
		ex.collector.OnRequest(func(r *colly.Request) {
			r.Ctx.Put("start", time.Now())
			ex.Metrics.IncRequest("started")
		})

		ex.collector.OnResponse(func(r *colly.Response) {
			if capture := ex.capture; capture != nil {
				capture.status = r.StatusCode
			}
			if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
				ex.Metrics.ObserveDuration(time.Since(start))
			}
		})

		ex.collector.OnError(func(r *colly.Response, err error) {
			statusCode := 0
			if r != nil {
				statusCode = r.StatusCode
			}
			if capture := ex.capture; capture != nil {
				capture.fetchErr = classifyError(err, statusCode)
			}
		})

		ex.collector.OnHTML("article.product_pod", func(e *colly.HTMLElement) {
			capture := ex.capture
			if capture == nil {
				return
			}
			if book := ParseEntry(e.DOM, e.Request.URL); book != nil {
				capture.entries = append(capture.entries, book)
			} else {
				capture.skipped++
			}
		})

		ex.collector.OnHTML("li.next a", func(e *colly.HTMLElement) {
			if capture := ex.capture; capture != nil {
				capture.nextURL = e.Request.AbsoluteURL(e.Attr("href"))
			}
		})
	})
}

// ParseEntry maps one product_pod selection to a normalized record. Every
// field is independently fault tolerant: a missing or malformed field takes
// its documented default instead of discarding the entry. Only an entry
// with neither a usable title nor a price is dropped (nil return).
func ParseEntry(sel *goquery.Selection, base *url.URL) *models.Book {
	link := sel.Find("h3 a").First()
	title := strings.TrimSpace(link.AttrOr("title", ""))
	if title == "" {
		title = strings.TrimSpace(link.Text())
	}

	productURL := absoluteURL(base, link.AttrOr("href", ""))
	price := parser.ParsePrice(sel.Find("p.price_color").Text())

	availabilityText := sel.Find("p.instock.availability").Text()
	if strings.TrimSpace(availabilityText) == "" {
		availabilityText = sel.Find("p.availability").Text()
	}

	rating := parser.RatingToNumeric(sel.Find("p.star-rating").AttrOr("class", ""))
	imageURL := absoluteURL(base, sel.Find("img").First().AttrOr("src", ""))

	if title == "" && price == 0 {
		return nil
	}

	return &models.Book{
		Title:        parser.NormalizeTitle(title),
		Price:        price,
		Availability: parser.NormalizeAvailability(availabilityText),
		StarRating:   parser.ClampRating(rating),
		ProductURL:   productURL,
		ImageURL:     imageURL,
	}
}

func absoluteURL(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	if base == nil {
		return href
	}
	resolved, err := base.Parse(href)
	if err != nil {
		return ""
	}
	return resolved.String()
}
