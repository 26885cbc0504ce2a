package storage

import (
	"context"
	"log/slog"

	"github.com/nirajkumaryadav/books-scraper-crud-api/config"
)

// Backend identifiers reported by Health.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "in-memory"
)

// HealthStatus describes the active backend for the health surface.
type HealthStatus struct {
	Backend  string `json:"backend"`
	Degraded bool   `json:"degraded"`
	Records  int64  `json:"records"`
}

// Adapter wraps the active backend. When the durable store cannot be
// reached at construction, the adapter degrades to the in-memory backend
// for the rest of the process lifetime; there is no reconnection.
type Adapter struct {
	Store
	backend  string
	degraded bool
}

// New connects to the durable store within the configured timeout,
// degrading to the in-memory backend on failure. Unreachability is never
// surfaced as an error; it is observable only through Health.
func New(ctx context.Context, cfg *config.Config) *Adapter {
	pg, err := NewPostgresStore(ctx, cfg.DatabaseURL, cfg.ConnectTimeout)
	if err != nil {
		slog.Warn("durable store unreachable, falling back to in-memory storage",
			slog.String("database_url", cfg.DatabaseURL),
			slog.Any("error", err),
		)
		mem := NewMemoryStore(WithSnapshot(cfg.SnapshotFile))
		return &Adapter{Store: mem, backend: BackendMemory, degraded: true}
	}

	slog.Info("connected to durable store", slog.String("backend", BackendPostgres))
	return &Adapter{Store: pg, backend: BackendPostgres}
}

// Degraded reports whether the adapter fell back to in-memory storage.
func (a *Adapter) Degraded() bool {
	return a.degraded
}

// Health reports the active backend and its record count.
func (a *Adapter) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Backend:  a.backend,
		Degraded: a.degraded,
	}
	if count, err := a.Count(ctx, Filters{}); err == nil {
		status.Records = count
	}
	return status
}
