// Package progress publishes advisory per-job progress snapshots to Redis.
// Snapshots expire on their own TTL and nothing in the pipeline depends on
// them, so callers treat every failure here as non-fatal.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "progress:job:"
	ttl       = 30 * time.Minute
)

// Snapshot is the most recent progress report for a job.
type Snapshot struct {
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker stores and retrieves job progress snapshots
type Tracker struct {
	client *redis.Client
	logger *slog.Logger
}

// NewTracker creates a new progress tracker
func NewTracker(client *redis.Client, logger *slog.Logger) *Tracker {
	return &Tracker{
		client: client,
		logger: logger,
	}
}

func key(jobID string) string {
	return keyPrefix + jobID
}

// Set records the current progress for a job. The snapshot replaces any
// previous one and refreshes the TTL.
func (t *Tracker) Set(ctx context.Context, jobID string, percent int, message string) error {
	snapshot := Snapshot{
		Progress:  percent,
		Message:   message,
		UpdatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal progress snapshot: %w", err)
	}

	if err := t.client.Set(ctx, key(jobID), data, ttl).Err(); err != nil {
		t.logger.Warn("Failed to record job progress",
			slog.String("job_id", jobID),
			slog.Int("progress", percent),
			slog.Any("error", err),
		)
		return fmt.Errorf("set job progress: %w", err)
	}

	return nil
}

// Get returns the latest snapshot for a job. The second return value is false
// when no snapshot exists, which is not an error.
func (t *Tracker) Get(ctx context.Context, jobID string) (*Snapshot, bool, error) {
	data, err := t.client.Get(ctx, key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get job progress: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, false, fmt.Errorf("unmarshal job progress: %w", err)
	}

	return &snapshot, true, nil
}

// Clear drops the snapshot for a job, typically once it reaches a terminal
// status.
func (t *Tracker) Clear(ctx context.Context, jobID string) error {
	if err := t.client.Del(ctx, key(jobID)).Err(); err != nil {
		t.logger.Warn("Failed to clear job progress",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return fmt.Errorf("clear job progress: %w", err)
	}

	return nil
}
