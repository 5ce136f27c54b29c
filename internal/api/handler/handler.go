package handler

import (
	"context"
	"log/slog"

	"github.com/finsightlab/finsight/internal/config"
	"github.com/finsightlab/finsight/internal/domain"
	"github.com/finsightlab/finsight/internal/jobstore"
	"github.com/finsightlab/finsight/internal/progress"
)

// JobStore is the job-record surface the API depends on.
type JobStore interface {
	Create(ctx context.Context, job *domain.JobRecord) error
	Get(ctx context.Context, jobID string) (*domain.JobRecord, error)
	AbortSubmission(ctx context.Context, jobID, errorMessage string) error
	List(ctx context.Context, filter jobstore.ListFilter) ([]domain.JobRecord, error)
	Stats(ctx context.Context) (*domain.JobStats, error)
}

// CacheReader exposes the result-cache statistics used by /stats.
type CacheReader interface {
	Stats(ctx context.Context) (*domain.CacheStats, error)
}

// ProgressReader reads worker progress snapshots for in-flight jobs.
type ProgressReader interface {
	Get(ctx context.Context, jobID string) (*progress.Snapshot, bool, error)
}

// QueuePublisher hands job messages to the analysis queue.
type QueuePublisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
	IsConnected() bool
}

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Config      *config.Config
	Store       JobStore
	Cache       CacheReader
	Progress    ProgressReader
	Publisher   QueuePublisher
	DBHealth    HealthChecker
	RedisHealth HealthChecker
}

// AnalysisHandler handles document-analysis HTTP requests
type AnalysisHandler struct {
	logger      *slog.Logger
	config      *config.Config
	store       JobStore
	cache       CacheReader
	progress    ProgressReader
	publisher   QueuePublisher
	dbHealth    HealthChecker
	redisHealth HealthChecker
}

// NewAnalysisHandler creates a new AnalysisHandler instance
func NewAnalysisHandler(deps *Dependencies) *AnalysisHandler {
	return &AnalysisHandler{
		logger:      deps.Logger,
		config:      deps.Config,
		store:       deps.Store,
		cache:       deps.Cache,
		progress:    deps.Progress,
		publisher:   deps.Publisher,
		dbHealth:    deps.DBHealth,
		redisHealth: deps.RedisHealth,
	}
}
