package domain

import (
	"time"

	"github.com/lib/pq"
)

// CacheEntry is one previously computed analysis, keyed by the
// (file_fingerprint, query_fingerprint) pair. AccessCount starts at 1 on
// insert and grows by one per hit.
type CacheEntry struct {
	ID               int64          `db:"id"`
	FileFingerprint  string         `db:"file_fingerprint"`
	QueryFingerprint string         `db:"query_fingerprint"`
	Filename         string         `db:"filename"`
	AnalysisResult   string         `db:"analysis_result"`
	AgentsUsed       pq.StringArray `db:"agents_used"`
	CreatedAt        time.Time      `db:"created_at"`
	AccessCount      int            `db:"access_count"`
	LastAccessedAt   time.Time      `db:"last_accessed_at"`
}

// CacheStats aggregates cache bookkeeping for the stats endpoint.
type CacheStats struct {
	Entries       int64 `db:"entries"`
	TotalAccesses int64 `db:"total_accesses"`
}
