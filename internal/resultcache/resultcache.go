// Package resultcache maps (file_fingerprint, query_fingerprint) pairs to
// previously computed analyses. It shares the job database; entries survive
// restarts and are evicted only by the retention policy. Callers treat every
// failure as a miss — the cache is best-effort and never fails a job.
package resultcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/finsightlab/finsight/internal/domain"
)

// Cache is the Postgres-backed result cache
type Cache struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a new Cache instance
func New(db *sqlx.DB, logger *slog.Logger) *Cache {
	return &Cache{
		db:     db,
		logger: logger,
	}
}

// Lookup returns the entry for the fingerprint pair, bumping access_count and
// last_accessed_at in the same statement. Doing the bump inside the UPDATE
// keeps concurrent hits on one entry from losing increments.
// Returns domain.ErrCacheMiss when no entry exists.
func (c *Cache) Lookup(ctx context.Context, fileFingerprint, queryFingerprint string) (*domain.CacheEntry, error) {
	query := `
		UPDATE analysis_cache
		SET access_count = access_count + 1,
		    last_accessed_at = NOW()
		WHERE file_fingerprint = $1
		  AND query_fingerprint = $2
		RETURNING id, file_fingerprint, query_fingerprint, filename,
		          analysis_result, agents_used, created_at, access_count, last_accessed_at
	`

	var entry domain.CacheEntry
	err := c.db.GetContext(ctx, &entry, query, fileFingerprint, queryFingerprint)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to look up cache entry: %w", err)
	}

	c.logger.Info("Cache hit",
		slog.String("file_fingerprint", shortFingerprint(fileFingerprint)),
		slog.Int("access_count", entry.AccessCount),
	)

	return &entry, nil
}

// Store inserts a new entry with access_count 1. When two workers race on
// the same novel input pair, the conflict clause discards the loser without
// touching the winner's bookkeeping.
func (c *Cache) Store(ctx context.Context, entry *domain.CacheEntry) error {
	query := `
		INSERT INTO analysis_cache (
			file_fingerprint, query_fingerprint, filename,
			analysis_result, agents_used, created_at, access_count, last_accessed_at
		) VALUES (
			$1, $2, $3,
			$4, $5, NOW(), 1, NOW()
		)
		ON CONFLICT (file_fingerprint, query_fingerprint) DO NOTHING
	`

	_, err := c.db.ExecContext(ctx, query,
		entry.FileFingerprint,
		entry.QueryFingerprint,
		entry.Filename,
		entry.AnalysisResult,
		pq.Array(entry.AgentsUsed),
	)
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}

	c.logger.Info("Cache entry stored",
		slog.String("file_fingerprint", shortFingerprint(entry.FileFingerprint)),
		slog.String("filename", entry.Filename),
	)

	return nil
}

// EvictStale removes entries that are BOTH older than minAge AND accessed
// fewer than maxAccessCount times. A frequently-hit old entry survives, as
// does any young entry regardless of its count.
func (c *Cache) EvictStale(ctx context.Context, minAge time.Duration, maxAccessCount int) (int64, error) {
	query := `
		DELETE FROM analysis_cache
		WHERE created_at < NOW() - ($1 * INTERVAL '1 second')
		  AND access_count < $2
	`

	result, err := c.db.ExecContext(ctx, query, minAge.Seconds(), maxAccessCount)
	if err != nil {
		return 0, fmt.Errorf("failed to evict stale cache entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		c.logger.Info("Evicted stale cache entries",
			slog.Int64("count", rowsAffected),
			slog.Duration("min_age", minAge),
			slog.Int("max_access_count", maxAccessCount),
		)
	}

	return rowsAffected, nil
}

// Stats aggregates entry count and total accesses for the stats endpoint.
func (c *Cache) Stats(ctx context.Context) (*domain.CacheStats, error) {
	query := `
		SELECT
			COUNT(*) AS entries,
			COALESCE(SUM(access_count), 0) AS total_accesses
		FROM analysis_cache
	`

	var stats domain.CacheStats
	if err := c.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to aggregate cache stats: %w", err)
	}

	return &stats, nil
}

// shortFingerprint trims a hex digest for log lines.
func shortFingerprint(fp string) string {
	if len(fp) <= 12 {
		return fp
	}
	return fp[:12]
}
