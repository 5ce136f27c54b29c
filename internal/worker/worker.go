// Package worker consumes analysis jobs from RabbitMQ and drives each one
// through claim, cache check, document analysis, and terminal status update.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finsightlab/finsight/internal/analysis"
	"github.com/finsightlab/finsight/internal/domain"
	"github.com/finsightlab/finsight/internal/extract"
	"github.com/finsightlab/finsight/shared/rabbitmq"
)

// JobStore is the durable job record surface the worker mutates.
type JobStore interface {
	Claim(ctx context.Context, jobID, workerID string) (*domain.JobRecord, error)
	Complete(ctx context.Context, jobID string, c domain.Completion) error
	Fail(ctx context.Context, jobID, errorMessage string) error
	FailStale(ctx context.Context, olderThan time.Duration, reason string) (int64, error)
}

// ResultCache is the fingerprint-keyed analysis cache.
type ResultCache interface {
	Lookup(ctx context.Context, fileFingerprint, queryFingerprint string) (*domain.CacheEntry, error)
	Store(ctx context.Context, entry *domain.CacheEntry) error
	EvictStale(ctx context.Context, minAge time.Duration, maxAccessCount int) (int64, error)
}

// ProgressTracker publishes advisory progress snapshots for the status
// endpoint. Failures never affect job outcomes.
type ProgressTracker interface {
	Set(ctx context.Context, jobID string, percent int, message string) error
	Clear(ctx context.Context, jobID string) error
}

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	RabbitClient *rabbitmq.Client
	Store        JobStore
	Cache        ResultCache
	Progress     ProgressTracker
	Analyzer     analysis.Analyzer
	Extractor    extract.TextExtractor

	WorkerID      string
	QueueName     string
	Concurrency   int
	PrefetchCount int
	JobTimeout    time.Duration

	CacheRetention     time.Duration
	CacheMinAccess     int
	CleanupInterval    time.Duration
	StaleAfter         time.Duration
	SupervisorInterval time.Duration
}

// Worker represents the background analysis worker
type Worker struct {
	logger       *slog.Logger
	rabbitClient *rabbitmq.Client
	store        JobStore
	cache        ResultCache
	progress     ProgressTracker
	analyzer     analysis.Analyzer
	extractor    extract.TextExtractor

	workerID      string
	queueName     string
	concurrency   int
	prefetchCount int
	jobTimeout    time.Duration

	cacheRetention     time.Duration
	cacheMinAccess     int
	cleanupInterval    time.Duration
	staleAfter         time.Duration
	supervisorInterval time.Duration

	wg       sync.WaitGroup
	jobsChan chan *domain.JobMessage
	stopChan chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	prefetchCount := cfg.PrefetchCount
	if prefetchCount <= 0 {
		prefetchCount = concurrency
	}

	return &Worker{
		logger:       cfg.Logger,
		rabbitClient: cfg.RabbitClient,
		store:        cfg.Store,
		cache:        cfg.Cache,
		progress:     cfg.Progress,
		analyzer:     cfg.Analyzer,
		extractor:    cfg.Extractor,

		workerID:      workerID,
		queueName:     cfg.QueueName,
		concurrency:   concurrency,
		prefetchCount: prefetchCount,
		jobTimeout:    cfg.JobTimeout,

		cacheRetention:     cfg.CacheRetention,
		cacheMinAccess:     cfg.CacheMinAccess,
		cleanupInterval:    cfg.CleanupInterval,
		staleAfter:         cfg.StaleAfter,
		supervisorInterval: cfg.SupervisorInterval,

		jobsChan: make(chan *domain.JobMessage, concurrency),
		stopChan: make(chan struct{}),
	}
}

// Start begins consuming and processing jobs. It blocks until the context is
// canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.spawnJanitors(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.startMessageDispatcher(ctx, deliveries)
	}()

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")

	return nil
}

// Stop gracefully stops the worker. Unacknowledged deliveries return to the
// queue when the channel closes.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
