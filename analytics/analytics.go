// Package analytics computes aggregate statistics and rankings over the
// stored record set. Nothing is cached: every call recomputes over the
// records stored at call time.
package analytics

import (
	"context"
	"fmt"
	"sort"

	"github.com/nirajkumaryadav/books-scraper-crud-api/models"
	"github.com/nirajkumaryadav/books-scraper-crud-api/storage"
)

// PriceStats summarizes the price distribution.
type PriceStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
}

// RatingBucket is one slot of the 0-5 rating histogram.
type RatingBucket struct {
	Rating  int     `json:"rating"`
	Count   int64   `json:"count"`
	Percent float64 `json:"percent"`
}

// Breakdown is a count with its share of the total.
type Breakdown struct {
	Count   int64   `json:"count"`
	Percent float64 `json:"percent"`
}

// AggregateStats is the full summary over a (filtered) record set.
type AggregateStats struct {
	TotalBooks      int64                `json:"total_books"`
	Price           PriceStats           `json:"price"`
	RatingHistogram []RatingBucket       `json:"rating_histogram"`
	Availability    map[string]Breakdown `json:"availability"`
}

// Engine computes statistics over a storage.Store.
type Engine struct {
	store storage.Store
}

// NewEngine builds an analytics engine over store.
func NewEngine(store storage.Store) *Engine {
	return &Engine{store: store}
}

// Summary computes aggregate statistics over the records matching the
// filters. An empty filter set covers the whole record set.
func (e *Engine) Summary(ctx context.Context, f storage.Filters) (*AggregateStats, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	books, err := e.store.Query(ctx, f, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	stats := &AggregateStats{
		TotalBooks:      int64(len(books)),
		RatingHistogram: make([]RatingBucket, 6),
		Availability:    make(map[string]Breakdown),
	}
	for rating := range stats.RatingHistogram {
		stats.RatingHistogram[rating].Rating = rating
	}
	if len(books) == 0 {
		return stats, nil
	}

	prices := make([]float64, 0, len(books))
	var sum float64
	for _, book := range books {
		prices = append(prices, book.Price)
		sum += book.Price

		rating := book.StarRating
		if rating >= 0 && rating <= 5 {
			stats.RatingHistogram[rating].Count++
		}

		entry := stats.Availability[book.Availability]
		entry.Count++
		stats.Availability[book.Availability] = entry
	}

	sort.Float64s(prices)
	total := float64(len(books))
	stats.Price = PriceStats{
		Min:    prices[0],
		Max:    prices[len(prices)-1],
		Mean:   sum / total,
		Median: median(prices),
	}
	for i := range stats.RatingHistogram {
		stats.RatingHistogram[i].Percent = float64(stats.RatingHistogram[i].Count) / total * 100
	}
	for key, entry := range stats.Availability {
		entry.Percent = float64(entry.Count) / total * 100
		stats.Availability[key] = entry
	}
	return stats, nil
}

// TopBooks returns the n highest records by the given sort key ("price" or
// "star_rating"), ties broken by insertion order. n <= 0 or any other key
// is a caller error.
func (e *Engine) TopBooks(ctx context.Context, n int, sortKey string) ([]*models.Book, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: n must be positive", storage.ErrInvalidInput)
	}
	switch sortKey {
	case storage.SortPrice, storage.SortStarRating:
	default:
		return nil, fmt.Errorf("%w: unsupported sort key %q", storage.ErrInvalidInput, sortKey)
	}

	books, err := e.store.Query(ctx, storage.Filters{SortBy: sortKey, SortDesc: true}, 0, n)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	return books, nil
}

// median assumes prices is sorted ascending and non-empty.
func median(prices []float64) float64 {
	mid := len(prices) / 2
	if len(prices)%2 == 1 {
		return prices[mid]
	}
	return (prices[mid-1] + prices[mid]) / 2
}
