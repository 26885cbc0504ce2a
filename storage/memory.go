package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nirajkumaryadav/books-scraper-crud-api/models"
	"github.com/nirajkumaryadav/books-scraper-crud-api/parser"
)

// MemoryStore is the non-persistent fallback backend. All records live in a
// mutex-guarded map; queries are full scans, acceptable at the catalog's
// scale. When a snapshot path is set, records are loaded from it on
// construction and written back on Close so a degraded process keeps its
// data across restarts.
type MemoryStore struct {
	mu           sync.RWMutex
	books        map[string]*models.Book
	order        []string // insertion order of ids
	snapshotPath string
}

type snapshotFile struct {
	Metadata snapshotMetadata `json:"metadata"`
	Books    []*models.Book   `json:"books"`
}

type snapshotMetadata struct {
	SavedAt     time.Time `json:"saved_at"`
	TotalBooks  int       `json:"total_books"`
	StorageType string    `json:"storage_type"`
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithSnapshot enables JSON snapshot persistence at path.
func WithSnapshot(path string) MemoryOption {
	return func(m *MemoryStore) {
		m.snapshotPath = path
	}
}

// NewMemoryStore builds an empty in-memory store, loading a snapshot when
// one is configured and present. A corrupt or missing snapshot is not an
// error; the store just starts empty.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		books: make(map[string]*models.Book),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.snapshotPath != "" {
		m.loadSnapshot()
	}
	return m
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to read storage snapshot",
				slog.String("path", m.snapshotPath),
				slog.Any("error", err),
			)
		}
		return
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Warn("failed to decode storage snapshot",
			slog.String("path", m.snapshotPath),
			slog.Any("error", err),
		)
		return
	}

	for _, book := range snap.Books {
		if book == nil || book.ID == "" {
			continue
		}
		if _, exists := m.books[book.ID]; exists {
			continue
		}
		m.books[book.ID] = book.Clone()
		m.order = append(m.order, book.ID)
	}
	slog.Info("loaded storage snapshot",
		slog.String("path", m.snapshotPath),
		slog.Int("books", len(m.order)),
	)
}

func (m *MemoryStore) saveSnapshot() error {
	m.mu.RLock()
	books := make([]*models.Book, 0, len(m.order))
	for _, id := range m.order {
		books = append(books, m.books[id].Clone())
	}
	m.mu.RUnlock()

	snap := snapshotFile{
		Metadata: snapshotMetadata{
			SavedAt:     time.Now().UTC(),
			TotalBooks:  len(books),
			StorageType: "in-memory",
		},
		Books: books,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(m.snapshotPath, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Put inserts a new record and returns its generated identifier.
func (m *MemoryStore) Put(_ context.Context, book *models.Book) (string, error) {
	if err := validateBook(book); err != nil {
		return "", err
	}

	stored := book.Clone()
	stored.ID = uuid.NewString()
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	m.mu.Lock()
	m.books[stored.ID] = stored
	m.order = append(m.order, stored.ID)
	m.mu.Unlock()

	book.ID = stored.ID
	book.CreatedAt = stored.CreatedAt
	book.UpdatedAt = stored.UpdatedAt
	return stored.ID, nil
}

// PutByURL upserts by product URL: an existing record with the same URL is
// overwritten in place, otherwise a new record is inserted.
func (m *MemoryStore) PutByURL(ctx context.Context, book *models.Book) (string, bool, error) {
	if err := validateBook(book); err != nil {
		return "", false, err
	}
	if book.ProductURL == "" {
		id, err := m.Put(ctx, book)
		return id, true, err
	}

	m.mu.Lock()
	for _, id := range m.order {
		existing := m.books[id]
		if existing.ProductURL != book.ProductURL {
			continue
		}
		existing.Title = book.Title
		existing.Price = book.Price
		existing.Availability = book.Availability
		existing.StarRating = book.StarRating
		existing.ImageURL = book.ImageURL
		existing.UpdatedAt = time.Now().UTC()
		m.mu.Unlock()
		return id, false, nil
	}
	m.mu.Unlock()

	id, err := m.Put(ctx, book)
	return id, true, err
}

// Get returns a copy of the record for id, or ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, id string) (*models.Book, error) {
	m.mu.RLock()
	book, ok := m.books[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return book.Clone(), nil
}

// Update merges the supplied fields into the stored record and refreshes
// its updated_at timestamp.
func (m *MemoryStore) Update(_ context.Context, id string, patch models.BookPatch) (*models.Book, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	book, ok := m.books[id]
	if !ok {
		return nil, ErrNotFound
	}
	patch.Apply(book)
	book.UpdatedAt = time.Now().UTC()
	return book.Clone(), nil
}

// Delete removes the record for id, reporting whether it existed.
func (m *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.books[id]; !ok {
		return false, nil
	}
	delete(m.books, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Query returns matching records in insertion order unless a sort key is
// supplied, applying skip/limit after filtering. limit <= 0 means no limit.
func (m *MemoryStore) Query(_ context.Context, f Filters, skip, limit int) ([]*models.Book, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := validatePagination(skip); err != nil {
		return nil, err
	}

	m.mu.RLock()
	matched := make([]*models.Book, 0, len(m.order))
	for _, id := range m.order {
		if book := m.books[id]; f.Match(book) {
			matched = append(matched, book.Clone())
		}
	}
	m.mu.RUnlock()

	sortBooks(matched, f.SortBy, f.SortDesc)

	if skip >= len(matched) {
		return []*models.Book{}, nil
	}
	matched = matched[skip:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// Count returns the number of records matching the filters.
func (m *MemoryStore) Count(_ context.Context, f Filters) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, book := range m.books {
		if f.Match(book) {
			count++
		}
	}
	return count, nil
}

// ClearAll removes every record and returns the count deleted.
func (m *MemoryStore) ClearAll(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := int64(len(m.books))
	m.books = make(map[string]*models.Book)
	m.order = nil
	return count, nil
}

// Repair fills missing defaults and clamps out-of-range values on stored
// records, returning the number of records changed.
func (m *MemoryStore) Repair(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var repaired int64
	for _, book := range m.books {
		changed := false
		if book.Title == "" {
			book.Title = models.DefaultTitle
			changed = true
		}
		if book.Availability == "" {
			book.Availability = models.AvailabilityUnknown
			changed = true
		}
		if book.Price < 0 {
			book.Price = 0
			changed = true
		}
		if clamped := parser.ClampRating(book.StarRating); clamped != book.StarRating {
			book.StarRating = clamped
			changed = true
		}
		if changed {
			book.UpdatedAt = time.Now().UTC()
			repaired++
		}
	}
	return repaired, nil
}

// Close writes the snapshot when one is configured.
func (m *MemoryStore) Close(_ context.Context) error {
	if m.snapshotPath == "" {
		return nil
	}
	if err := m.saveSnapshot(); err != nil {
		return err
	}
	slog.Info("saved storage snapshot",
		slog.String("path", m.snapshotPath),
		slog.Int("books", len(m.order)),
	)
	return nil
}

func sortBooks(books []*models.Book, sortBy string, desc bool) {
	if sortBy == "" {
		return
	}

	less := func(a, b *models.Book) bool { return false }
	switch sortBy {
	case SortPrice:
		less = func(a, b *models.Book) bool { return a.Price < b.Price }
	case SortStarRating:
		less = func(a, b *models.Book) bool { return a.StarRating < b.StarRating }
	case SortTitle:
		less = func(a, b *models.Book) bool { return a.Title < b.Title }
	case SortCreatedAt:
		less = func(a, b *models.Book) bool { return a.CreatedAt.Before(b.CreatedAt) }
	}

	sort.SliceStable(books, func(i, j int) bool {
		if desc {
			return less(books[j], books[i])
		}
		return less(books[i], books[j])
	})
}
