// Package models defines the data structures shared by the scraper, storage,
// and analytics layers.
package models

import "time"

// Normalized availability values. Free text that maps to none of these is
// preserved as-is; an empty or missing field becomes AvailabilityUnknown.
const (
	AvailabilityInStock      = "in_stock"
	AvailabilityOutOfStock   = "out_of_stock"
	AvailabilityLimitedStock = "limited_stock"
	AvailabilityUnknown      = "unknown"
)

// DefaultTitle is substituted when no title can be extracted for an entry.
const DefaultTitle = "Unknown Title"

// Book is one normalized catalog entry.
type Book struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Price        float64   `json:"price"`
	Availability string    `json:"availability"`
	StarRating   int       `json:"star_rating"`
	ProductURL   string    `json:"product_url"`
	ImageURL     string    `json:"image_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns an independent copy so callers never share storage-owned
// records.
func (b *Book) Clone() *Book {
	if b == nil {
		return nil
	}
	clone := *b
	return &clone
}

// BookPatch is a partial update. Nil fields keep their stored values.
type BookPatch struct {
	Title        *string  `json:"title,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	Availability *string  `json:"availability,omitempty"`
	StarRating   *int     `json:"star_rating,omitempty"`
	ProductURL   *string  `json:"product_url,omitempty"`
	ImageURL     *string  `json:"image_url,omitempty"`
}

// IsZero reports whether the patch carries no fields at all.
func (p BookPatch) IsZero() bool {
	return p.Title == nil && p.Price == nil && p.Availability == nil &&
		p.StarRating == nil && p.ProductURL == nil && p.ImageURL == nil
}

// Apply merges the supplied fields into b. Timestamps are the storage
// layer's responsibility.
func (p BookPatch) Apply(b *Book) {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Price != nil {
		b.Price = *p.Price
	}
	if p.Availability != nil {
		b.Availability = *p.Availability
	}
	if p.StarRating != nil {
		b.StarRating = *p.StarRating
	}
	if p.ProductURL != nil {
		b.ProductURL = *p.ProductURL
	}
	if p.ImageURL != nil {
		b.ImageURL = *p.ImageURL
	}
}

// Run outcomes reported by ScrapeRunSummary.Status.
const (
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// PageError records why one catalog page was skipped during a run.
type PageError struct {
	Page   int    `json:"page"`
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// ScrapeRunSummary describes a single orchestration run. It is immutable
// once the run finishes and is never persisted.
type ScrapeRunSummary struct {
	Status           string        `json:"status"`
	PagesProcessed   int           `json:"pages_processed"`
	PagesFailed      int           `json:"pages_failed"`
	RecordsExtracted int           `json:"records_extracted"`
	RecordsSkipped   int           `json:"records_skipped"`
	RecordsWritten   int           `json:"records_written"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
	Duration         time.Duration `json:"duration"`
	Errors           []PageError   `json:"errors,omitempty"`
}
