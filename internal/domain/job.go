package domain

import (
	"time"

	"github.com/lib/pq"
)

// Job status values, in lifecycle order
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// JobRecord is one submitted analysis request tracked through its lifecycle.
// FilePath points at the staged upload and is never exposed over the API.
type JobRecord struct {
	JobID          string         `db:"job_id"`
	Filename       string         `db:"filename"`
	FileSize       int64          `db:"file_size"`
	FilePath       string         `db:"file_path"`
	Query          string         `db:"query"`
	Status         string         `db:"status"`
	Summary        *string        `db:"summary"`
	DetailedResult *string        `db:"detailed_result"`
	AgentsUsed     pq.StringArray `db:"agents_used"`
	FromCache      bool           `db:"from_cache"`
	ErrorMessage   *string        `db:"error_message"`
	WorkerID       *string        `db:"worker_id"`
	CreatedAt      time.Time      `db:"created_at"`
	StartedAt      *time.Time     `db:"started_at"`
	CompletedAt    *time.Time     `db:"completed_at"`
	ProcessingTime *float64       `db:"processing_time_seconds"`
}

// Completion carries the fields written when a job reaches the completed
// status. ProcessingTime is wall-clock seconds, or the nominal near-zero
// value on the cached path.
type Completion struct {
	Summary        string
	DetailedResult string
	AgentsUsed     []string
	FromCache      bool
	ProcessingTime float64
}

// JobStats aggregates job counts for the stats endpoint.
type JobStats struct {
	Total              int64   `db:"total"`
	Queued             int64   `db:"queued"`
	Processing         int64   `db:"processing"`
	Completed          int64   `db:"completed"`
	Failed             int64   `db:"failed"`
	CompletedFromCache int64   `db:"completed_from_cache"`
	AvgProcessingSecs  float64 `db:"avg_processing_seconds"`
}

// JobMessage is the queue payload published per submission.
type JobMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
}
