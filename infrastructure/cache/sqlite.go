// Package cache provides ports.CacheStore implementations: a durable SQLite
// store for the CLI and an in-memory store for tests and dry runs.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ahrav/go-promptlab/internal/domain"
	"github.com/ahrav/go-promptlab/internal/ports"
)

// DefaultFileName is the cache database created under the experiment root.
const DefaultFileName = ".promptlab-cache.db"

const createCacheTable = `
CREATE TABLE IF NOT EXISTS responses (
	fingerprint TEXT PRIMARY KEY,
	model TEXT NOT NULL,
	response BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore is a fingerprint-keyed response cache backed by SQLite.
// Entries never expire; only Clear removes them.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	hits   atomic.Int64
	misses atomic.Int64
	logger *slog.Logger
}

var _ ports.CacheStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the cache database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, ports.NewCacheError(dbPath, "open", err)
		}
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ports.NewCacheError(dbPath, "open", fmt.Errorf("open cache db: %w", err))
	}
	// One writer at a time; the orchestrator stores concurrently.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createCacheTable); err != nil {
		_ = db.Close()
		return nil, ports.NewCacheError(dbPath, "open", fmt.Errorf("migrate cache db: %w", err))
	}

	return &SQLiteStore{
		db:     db,
		path:   dbPath,
		logger: slog.Default().With("component", "cache", "path", dbPath),
	}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Lookup returns the cached response for fp. A stored row that cannot be
// decoded is reported as ports.ErrCacheCorrupted together with a miss.
func (s *SQLiteStore) Lookup(ctx context.Context, fp domain.Fingerprint) (domain.CachedResponse, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT response FROM responses WHERE fingerprint = ?`, fp.String(),
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		s.misses.Add(1)
		s.logger.DebugContext(ctx, "cache miss", "fingerprint", fp.Short())
		return domain.CachedResponse{}, false, nil
	}
	if err != nil {
		return domain.CachedResponse{}, false, ports.NewCacheError(fp.String(), "lookup", err)
	}

	var resp domain.CachedResponse
	if err := json.Unmarshal(blob, &resp); err != nil {
		s.misses.Add(1)
		return domain.CachedResponse{}, false,
			ports.NewCacheError(fp.String(), "lookup", fmt.Errorf("%w: %v", ports.ErrCacheCorrupted, err))
	}

	s.hits.Add(1)
	s.logger.DebugContext(ctx, "cache hit", "fingerprint", fp.Short(), "model", resp.Model)
	return resp, true, nil
}

// Store upserts resp under its fingerprint.
func (s *SQLiteStore) Store(ctx context.Context, resp domain.CachedResponse) error {
	if resp.Fingerprint == "" {
		return ports.NewCacheError("", "store", errors.New("empty fingerprint"))
	}
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now().UTC()
	}

	blob, err := json.Marshal(resp)
	if err != nil {
		return ports.NewCacheError(resp.Fingerprint.String(), "store", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO responses (fingerprint, model, response, created_at) VALUES (?, ?, ?, ?)`,
		resp.Fingerprint.String(), resp.Model, blob, resp.CreatedAt,
	)
	if err != nil {
		return ports.NewCacheError(resp.Fingerprint.String(), "store", fmt.Errorf("cache put: %w", err))
	}
	return nil
}

// Clear removes every cached response.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM responses`); err != nil {
		return ports.NewCacheError("*", "clear", fmt.Errorf("cache clear: %w", err))
	}
	s.logger.InfoContext(ctx, "cache cleared")
	return nil
}

// Stats returns the entry count and this process's hit/miss counters.
func (s *SQLiteStore) Stats(ctx context.Context) (ports.CacheStats, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM responses`).Scan(&count); err != nil {
		return ports.CacheStats{}, ports.NewCacheError("*", "stats", fmt.Errorf("cache stats: %w", err))
	}
	return ports.CacheStats{
		Entries: count,
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
	}, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// EntriesByModel returns the number of cached responses per model id.
func (s *SQLiteStore) EntriesByModel(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT model, COUNT(*) FROM responses GROUP BY model`)
	if err != nil {
		return nil, ports.NewCacheError("*", "stats", fmt.Errorf("cache stats: %w", err))
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			model string
			n     int64
		)
		if err := rows.Scan(&model, &n); err != nil {
			return nil, ports.NewCacheError("*", "stats", err)
		}
		counts[model] = n
	}
	if err := rows.Err(); err != nil {
		return nil, ports.NewCacheError("*", "stats", err)
	}
	return counts, nil
}
