package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jarcoal/httpmock"

	"github.com/nirajkumaryadav/books-scraper-crud-api/config"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = "http://books.test"
	cfg.MaxRetries = 2
	cfg.RetryDelay = time.Millisecond
	cfg.PageDelay = time.Millisecond
	cfg.Timeout = 2 * time.Second
	return cfg
}

func newTestExtractor(t *testing.T, cfg *config.Config) (*Extractor, *httpmock.MockTransport) {
	t.Helper()
	ex, err := NewExtractor(cfg, NewMetrics())
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	transport := httpmock.NewMockTransport()
	ex.WithTransport(transport)
	return ex, transport
}

func entryHTML(title string, price string, ratingClass string) string {
	slug := strings.ToLower(strings.ReplaceAll(title, " ", "-"))
	return fmt.Sprintf(`<article class="product_pod">
		<div class="image_container"><a href="catalogue/%[1]s/index.html"><img src="media/%[1]s.jpg"></a></div>
		<p class="star-rating %[3]s"></p>
		<h3><a href="catalogue/%[1]s/index.html" title="%[2]s">%[2]s</a></h3>
		<div class="product_price">
			<p class="price_color">%[4]s</p>
			<p class="instock availability">In stock</p>
		</div>
	</article>`, slug, title, ratingClass, price)
}

func catalogPage(nextHref string, entries ...string) string {
	var sb strings.Builder
	sb.WriteString("<html><body><section>")
	for _, entry := range entries {
		sb.WriteString(entry)
	}
	sb.WriteString("</section>")
	if nextHref != "" {
		sb.WriteString(`<ul class="pager"><li class="next"><a href="` + nextHref + `">next</a></li></ul>`)
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(http.StatusOK, body)
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	return httpmock.ResponderFromResponse(resp)
}

func TestFetchPageHappyPath(t *testing.T) {
	cfg := testConfig()
	ex, transport := newTestExtractor(t, cfg)

	page := catalogPage("catalogue/page-2.html",
		entryHTML("A Light in the Attic", "£51.77", "Three"),
		entryHTML("Tipping the Velvet", "£53.74", "One"),
	)
	transport.RegisterResponder("GET", cfg.BaseURL, htmlResponder(page))

	result, err := ex.FetchPage(context.Background(), cfg.BaseURL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(result.Entries))
	}
	if result.Skipped != 0 {
		t.Fatalf("skipped = %d, want 0", result.Skipped)
	}

	first := result.Entries[0]
	if first.Title != "A Light in the Attic" {
		t.Fatalf("title = %q", first.Title)
	}
	if first.Price != 51.77 {
		t.Fatalf("price = %v, want 51.77", first.Price)
	}
	if first.StarRating != 3 {
		t.Fatalf("rating = %d, want 3", first.StarRating)
	}
	if !strings.HasPrefix(first.ProductURL, "http://books.test/catalogue/") {
		t.Fatalf("product url not absolutized: %q", first.ProductURL)
	}
	if result.NextURL != "http://books.test/catalogue/page-2.html" {
		t.Fatalf("next url = %q", result.NextURL)
	}
}

func TestFetchPageLastPageHasNoNext(t *testing.T) {
	cfg := testConfig()
	ex, transport := newTestExtractor(t, cfg)

	page := catalogPage("", entryHTML("Final Book", "£10.00", "Five"))
	transport.RegisterResponder("GET", cfg.BaseURL, htmlResponder(page))

	result, err := ex.FetchPage(context.Background(), cfg.BaseURL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if result.NextURL != "" {
		t.Fatalf("next url = %q, want empty on last page", result.NextURL)
	}
}

func TestFetchPageRetriesTransientFailures(t *testing.T) {
	cfg := testConfig()
	ex, transport := newTestExtractor(t, cfg)

	page := catalogPage("", entryHTML("Eventually", "£5.00", "Two"))
	calls := 0
	transport.RegisterResponder("GET", cfg.BaseURL, func(_ *http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return httpmock.NewStringResponse(http.StatusInternalServerError, "boom"), nil
		}
		resp := httpmock.NewStringResponse(http.StatusOK, page)
		resp.Header.Set("Content-Type", "text/html; charset=utf-8")
		return resp, nil
	})

	result, err := ex.FetchPage(context.Background(), cfg.BaseURL)
	if err != nil {
		t.Fatalf("fetch after retries: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(result.Entries))
	}
}

func TestFetchPageExhaustsRetries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1
	ex, transport := newTestExtractor(t, cfg)

	calls := 0
	transport.RegisterResponder("GET", cfg.BaseURL, func(_ *http.Request) (*http.Response, error) {
		calls++
		return httpmock.NewStringResponse(http.StatusInternalServerError, "boom"), nil
	})

	_, err := ex.FetchPage(context.Background(), cfg.BaseURL)
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	var serverErr ErrServer
	if !errors.As(err, &serverErr) || serverErr.Status != http.StatusInternalServerError {
		t.Fatalf("err = %v, want ErrServer 500", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (initial + one retry)", calls)
	}
}

func TestFetchPagePermanentFailureIsNotRetried(t *testing.T) {
	cfg := testConfig()
	ex, transport := newTestExtractor(t, cfg)

	calls := 0
	transport.RegisterResponder("GET", cfg.BaseURL, func(_ *http.Request) (*http.Response, error) {
		calls++
		return httpmock.NewStringResponse(http.StatusNotFound, "gone"), nil
	})

	_, err := ex.FetchPage(context.Background(), cfg.BaseURL)
	var notFound ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (404 is permanent)", calls)
	}
}

func TestParseEntryFieldDefaults(t *testing.T) {
	base, _ := url.Parse("http://books.test/")

	parse := func(t *testing.T, html string) *goquery.Selection {
		t.Helper()
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			t.Fatalf("parse html: %v", err)
		}
		return doc.Find("article.product_pod").First()
	}

	t.Run("missing price defaults to zero", func(t *testing.T) {
		html := `<article class="product_pod">
			<h3><a href="catalogue/b/index.html" title="No Price"></a></h3>
			<p class="star-rating Four"></p>
			<p class="instock availability">In stock</p>
		</article>`
		book := ParseEntry(parse(t, html), base)
		if book == nil {
			t.Fatalf("entry with a title must not be dropped")
		}
		if book.Price != 0 {
			t.Fatalf("price = %v, want 0", book.Price)
		}
		if book.StarRating != 4 {
			t.Fatalf("rating = %d, want 4", book.StarRating)
		}
	})

	t.Run("missing rating defaults to zero", func(t *testing.T) {
		html := `<article class="product_pod">
			<h3><a href="catalogue/b/index.html" title="No Rating"></a></h3>
			<p class="price_color">£12.00</p>
		</article>`
		book := ParseEntry(parse(t, html), base)
		if book == nil || book.StarRating != 0 {
			t.Fatalf("book = %+v, want rating 0", book)
		}
	})

	t.Run("title falls back to link text", func(t *testing.T) {
		html := `<article class="product_pod">
			<h3><a href="catalogue/b/index.html">Link Text Title</a></h3>
			<p class="price_color">£9.50</p>
		</article>`
		book := ParseEntry(parse(t, html), base)
		if book == nil || book.Title != "Link Text Title" {
			t.Fatalf("book = %+v, want link-text title", book)
		}
	})

	t.Run("empty entry is dropped", func(t *testing.T) {
		html := `<article class="product_pod"><h3></h3></article>`
		if book := ParseEntry(parse(t, html), base); book != nil {
			t.Fatalf("entry without title or price should be nil, got %+v", book)
		}
	})
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		wantLabel string
		transient bool
	}{
		{
			name:      "deadline exceeded",
			err:       context.DeadlineExceeded,
			wantLabel: "timeout",
			transient: true,
		},
		{
			name:      "dns failure is permanent",
			err:       &net.OpError{Op: "dial", Err: &net.DNSError{Err: "no such host", Name: "books.test"}},
			wantLabel: "dns",
			transient: false,
		},
		{
			name:      "connection refused",
			err:       &net.OpError{Op: "dial", Err: errors.New("connection refused")},
			wantLabel: "connection",
			transient: true,
		},
		{
			name:      "forbidden",
			status:    http.StatusForbidden,
			err:       errors.New("forbidden"),
			wantLabel: "forbidden",
			transient: false,
		},
		{
			name:      "not found",
			status:    http.StatusNotFound,
			err:       errors.New("not found"),
			wantLabel: "not_found",
			transient: false,
		},
		{
			name:      "rate limited",
			status:    http.StatusTooManyRequests,
			err:       errors.New("too many requests"),
			wantLabel: "rate_limited",
			transient: true,
		},
		{
			name:      "server error",
			status:    http.StatusBadGateway,
			err:       errors.New("bad gateway"),
			wantLabel: "server_error",
			transient: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyError(tt.err, tt.status)
			if got := errorTypeLabel(classified); got != tt.wantLabel {
				t.Fatalf("label = %q, want %q", got, tt.wantLabel)
			}
			if got := isTransient(classified); got != tt.transient {
				t.Fatalf("transient = %v, want %v", got, tt.transient)
			}
		})
	}
}
