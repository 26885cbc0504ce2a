// Package storage provides the canonical record store: a Postgres backend
// with a process-lifetime in-memory fallback when the database cannot be
// reached at startup.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nirajkumaryadav/books-scraper-crud-api/models"
)

var (
	// ErrNotFound reports that no record exists for the given identifier.
	ErrNotFound = errors.New("storage: record not found")
	// ErrInvalidInput reports caller input rejected before any backend
	// access: bad filters, empty patches, out-of-range field values.
	ErrInvalidInput = errors.New("storage: invalid input")
)

// Sort keys accepted by Filters.SortBy. An empty key keeps insertion order.
const (
	SortPrice      = "price"
	SortStarRating = "star_rating"
	SortTitle      = "title"
	SortCreatedAt  = "created_at"
)

// Filters is a conjunctive query: every supplied predicate must hold, an
// absent predicate imposes no constraint.
type Filters struct {
	Availability string
	StarRating   *int
	MinPrice     *float64
	MaxPrice     *float64
	Search       string // case-insensitive title substring
	SortBy       string
	SortDesc     bool
}

// Validate rejects incoherent filters before any backend access.
func (f Filters) Validate() error {
	if f.StarRating != nil && (*f.StarRating < 0 || *f.StarRating > 5) {
		return fmt.Errorf("%w: star rating must be between 0 and 5", ErrInvalidInput)
	}
	if f.MinPrice != nil && *f.MinPrice < 0 {
		return fmt.Errorf("%w: min price cannot be negative", ErrInvalidInput)
	}
	if f.MaxPrice != nil && *f.MaxPrice < 0 {
		return fmt.Errorf("%w: max price cannot be negative", ErrInvalidInput)
	}
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return fmt.Errorf("%w: min price exceeds max price", ErrInvalidInput)
	}
	switch f.SortBy {
	case "", SortPrice, SortStarRating, SortTitle, SortCreatedAt:
	default:
		return fmt.Errorf("%w: unknown sort key %q", ErrInvalidInput, f.SortBy)
	}
	return nil
}

// Match reports whether a record satisfies every supplied predicate. Used by
// the in-memory backend; the Postgres backend expresses the same predicates
// in SQL.
func (f Filters) Match(b *models.Book) bool {
	if f.Availability != "" && b.Availability != f.Availability {
		return false
	}
	if f.StarRating != nil && b.StarRating != *f.StarRating {
		return false
	}
	if f.MinPrice != nil && b.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && b.Price > *f.MaxPrice {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(b.Title), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

// Store is the uniform contract over the durable and fallback backends.
// Query with limit <= 0 returns all matching records.
type Store interface {
	Put(ctx context.Context, book *models.Book) (string, error)
	PutByURL(ctx context.Context, book *models.Book) (id string, created bool, err error)
	Get(ctx context.Context, id string) (*models.Book, error)
	Update(ctx context.Context, id string, patch models.BookPatch) (*models.Book, error)
	Delete(ctx context.Context, id string) (bool, error)
	Query(ctx context.Context, f Filters, skip, limit int) ([]*models.Book, error)
	Count(ctx context.Context, f Filters) (int64, error)
	ClearAll(ctx context.Context) (int64, error)
	Repair(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

func validateBook(b *models.Book) error {
	if b == nil {
		return fmt.Errorf("%w: book is nil", ErrInvalidInput)
	}
	if b.Price < 0 {
		return fmt.Errorf("%w: price cannot be negative", ErrInvalidInput)
	}
	if b.StarRating < 0 || b.StarRating > 5 {
		return fmt.Errorf("%w: star rating must be between 0 and 5", ErrInvalidInput)
	}
	return nil
}

func validatePatch(p models.BookPatch) error {
	if p.IsZero() {
		return fmt.Errorf("%w: no fields to update", ErrInvalidInput)
	}
	if p.Price != nil && *p.Price < 0 {
		return fmt.Errorf("%w: price cannot be negative", ErrInvalidInput)
	}
	if p.StarRating != nil && (*p.StarRating < 0 || *p.StarRating > 5) {
		return fmt.Errorf("%w: star rating must be between 0 and 5", ErrInvalidInput)
	}
	return nil
}

func validatePagination(skip int) error {
	if skip < 0 {
		return fmt.Errorf("%w: skip cannot be negative", ErrInvalidInput)
	}
	return nil
}
