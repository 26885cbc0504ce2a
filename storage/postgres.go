package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nirajkumaryadav/books-scraper-crud-api/models"
)

// PostgresStore is the durable backend. One books table keyed by a UUID
// identifier, with a serial sequence column preserving insertion order and
// indexes backing the filterable columns.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS books (
	id           TEXT PRIMARY KEY,
	seq          BIGSERIAL,
	title        TEXT NOT NULL DEFAULT '',
	price        DOUBLE PRECISION NOT NULL DEFAULT 0,
	availability TEXT NOT NULL DEFAULT 'unknown',
	star_rating  INTEGER NOT NULL DEFAULT 0,
	product_url  TEXT NOT NULL DEFAULT '',
	image_url    TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_books_title ON books (title);
CREATE INDEX IF NOT EXISTS idx_books_price ON books (price);
CREATE INDEX IF NOT EXISTS idx_books_star_rating ON books (star_rating);
CREATE INDEX IF NOT EXISTS idx_books_availability ON books (availability);
CREATE INDEX IF NOT EXISTS idx_books_product_url ON books (product_url);
`

const bookColumns = "id, title, price, availability, star_rating, product_url, image_url, created_at, updated_at"

// NewPostgresStore connects, pings, and bootstraps the schema within the
// connect timeout. Any failure is returned so the caller can degrade to the
// in-memory backend.
func NewPostgresStore(ctx context.Context, databaseURL string, connectTimeout time.Duration) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Put inserts a new record and returns its generated identifier.
func (p *PostgresStore) Put(ctx context.Context, book *models.Book) (string, error) {
	if err := validateBook(book); err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO books (id, title, price, availability, star_rating, product_url, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		id, book.Title, book.Price, book.Availability, book.StarRating,
		book.ProductURL, book.ImageURL, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert book: %w", err)
	}

	book.ID = id
	book.CreatedAt = now
	book.UpdatedAt = now
	return id, nil
}

// PutByURL upserts by product URL: an existing record with the same URL is
// overwritten in place, otherwise a new record is inserted.
func (p *PostgresStore) PutByURL(ctx context.Context, book *models.Book) (string, bool, error) {
	if err := validateBook(book); err != nil {
		return "", false, err
	}
	if book.ProductURL == "" {
		id, err := p.Put(ctx, book)
		return id, true, err
	}

	var id string
	err := p.pool.QueryRow(ctx, `
		UPDATE books
		SET title = $2, price = $3, availability = $4, star_rating = $5, image_url = $6, updated_at = now()
		WHERE product_url = $1
		RETURNING id`,
		book.ProductURL, book.Title, book.Price, book.Availability,
		book.StarRating, book.ImageURL,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		id, perr := p.Put(ctx, book)
		return id, true, perr
	}
	if err != nil {
		return "", false, fmt.Errorf("upsert book: %w", err)
	}
	return id, false, nil
}

// Get returns the record for id, or ErrNotFound.
func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Book, error) {
	row := p.pool.QueryRow(ctx, "SELECT "+bookColumns+" FROM books WHERE id = $1", id)
	book, err := scanBook(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch book: %w", err)
	}
	return book, nil
}

// Update merges the supplied fields into the stored record and refreshes
// its updated_at timestamp.
func (p *PostgresStore) Update(ctx context.Context, id string, patch models.BookPatch) (*models.Book, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	set := make([]string, 0, 7)
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Price != nil {
		add("price", *patch.Price)
	}
	if patch.Availability != nil {
		add("availability", *patch.Availability)
	}
	if patch.StarRating != nil {
		add("star_rating", *patch.StarRating)
	}
	if patch.ProductURL != nil {
		add("product_url", *patch.ProductURL)
	}
	if patch.ImageURL != nil {
		add("image_url", *patch.ImageURL)
	}
	set = append(set, "updated_at = now()")

	query := "UPDATE books SET " + strings.Join(set, ", ") + " WHERE id = $1 RETURNING " + bookColumns
	row := p.pool.QueryRow(ctx, query, args...)
	book, err := scanBook(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update book: %w", err)
	}
	return book, nil
}

// Delete removes the record for id, reporting whether it existed.
func (p *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := p.pool.Exec(ctx, "DELETE FROM books WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("delete book: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Query returns matching records ordered by insertion sequence unless a
// sort key is supplied. limit <= 0 means no limit.
func (p *PostgresStore) Query(ctx context.Context, f Filters, skip, limit int) ([]*models.Book, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := validatePagination(skip); err != nil {
		return nil, err
	}

	where, args := buildWhere(f)
	query := "SELECT " + bookColumns + " FROM books" + where + orderClause(f)
	if skip > 0 {
		args = append(args, skip)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query books: %w", err)
	}
	defer rows.Close()

	books := []*models.Book{}
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate books: %w", err)
	}
	return books, nil
}

// Count returns the number of records matching the filters.
func (p *PostgresStore) Count(ctx context.Context, f Filters) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}

	where, args := buildWhere(f)
	var count int64
	if err := p.pool.QueryRow(ctx, "SELECT count(*) FROM books"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return count, nil
}

// ClearAll removes every record and returns the count deleted.
func (p *PostgresStore) ClearAll(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, "DELETE FROM books")
	if err != nil {
		return 0, fmt.Errorf("clear books: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Repair fills missing defaults and clamps out-of-range values on stored
// records, returning the number of records changed.
func (p *PostgresStore) Repair(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE books
		SET title = CASE WHEN title = '' THEN $1 ELSE title END,
		    availability = CASE WHEN availability = '' THEN $2 ELSE availability END,
		    price = GREATEST(price, 0),
		    star_rating = LEAST(GREATEST(star_rating, 0), 5),
		    updated_at = now()
		WHERE title = '' OR availability = '' OR price < 0 OR star_rating < 0 OR star_rating > 5`,
		models.DefaultTitle, models.AvailabilityUnknown,
	)
	if err != nil {
		return 0, fmt.Errorf("repair books: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close releases the connection pool.
func (p *PostgresStore) Close(_ context.Context) error {
	p.pool.Close()
	return nil
}

func buildWhere(f Filters) (string, []any) {
	conditions := []string{}
	args := []any{}
	add := func(condition string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.Availability != "" {
		add("availability = $%d", f.Availability)
	}
	if f.StarRating != nil {
		add("star_rating = $%d", *f.StarRating)
	}
	if f.MinPrice != nil {
		add("price >= $%d", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		add("price <= $%d", *f.MaxPrice)
	}
	if f.Search != "" {
		add("title ILIKE '%%' || $%d || '%%'", f.Search)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func orderClause(f Filters) string {
	direction := "ASC"
	if f.SortDesc {
		direction = "DESC"
	}
	switch f.SortBy {
	case SortPrice, SortStarRating, SortTitle, SortCreatedAt:
		// seq keeps ties in insertion order
		return fmt.Sprintf(" ORDER BY %s %s, seq ASC", f.SortBy, direction)
	default:
		return " ORDER BY seq ASC"
	}
}

func scanBook(row pgx.Row) (*models.Book, error) {
	var book models.Book
	err := row.Scan(
		&book.ID,
		&book.Title,
		&book.Price,
		&book.Availability,
		&book.StarRating,
		&book.ProductURL,
		&book.ImageURL,
		&book.CreatedAt,
		&book.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &book, nil
}
