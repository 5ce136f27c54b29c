package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/finsightlab/finsight/internal/domain"
	"github.com/finsightlab/finsight/internal/fingerprint"
)

// Progress milestones mirrored to the status endpoint.
const (
	progressStarting   = "Starting financial analysis..."
	progressCacheCheck = "Checking cache..."
	progressCacheHit   = "Found cached result, returning..."
	progressAnalyzing  = "Running AI analysis..."
	progressAgents     = "AI agents processing document..."
	progressFinalizing = "Finalizing results..."
	progressCompleted  = "Analysis completed successfully!"
)

// analysisSummary is the fixed summary recorded on every completed job.
const analysisSummary = "Complete financial analysis including verification, " +
	"metrics analysis, investment insights, and risk assessment"

// cachedProcessingTime is the nominal processing time recorded for cache
// hits, which complete in O(1) regardless of the original analysis cost.
const cachedProcessingTime = 0.1

// processJob drives one job through its full lifecycle: claim, cache check,
// analysis, and terminal status update. The returned error decides the
// ACK/NACK outcome in the pool loop.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	w.logger.Info("Processing job",
		slog.String("job_id", msg.JobID),
		slog.String("worker_id", w.workerID),
	)

	// Step 1: Claim job (queued -> processing). Exactly one delivery wins.
	job, err := w.store.Claim(ctx, msg.JobID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			// Duplicate delivery - drop without requeue
			w.logger.Warn("Job already claimed, skipping",
				slog.String("job_id", msg.JobID),
			)
			return fmt.Errorf("job already claimed: %w", err)
		}
		// Transient database error - the job is still queued, so requeue
		w.logger.Error("Failed to claim job",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	start := time.Now()
	w.reportProgress(ctx, job.JobID, 0, progressStarting)

	// The staged upload is removed exactly once, success or failure.
	defer w.removeStagedFile(job.FilePath, job.JobID)

	// Step 2: Bound the analysis with the configured job timeout.
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	completion, err := w.analyzeJob(jobCtx, job, start)
	if err != nil {
		return w.failJob(ctx, job, err)
	}

	// Step 3: Terminal write (processing -> completed).
	if err := w.store.Complete(ctx, job.JobID, *completion); err != nil {
		// The record is left in processing; the stale supervisor will fail
		// it once it ages out. Dropping the message keeps this exactly-once.
		w.logger.Error("Failed to mark job completed",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	if !completion.FromCache {
		w.reportProgress(ctx, job.JobID, 100, progressCompleted)
	}

	w.logger.Info("Job completed successfully",
		slog.String("job_id", job.JobID),
		slog.Bool("from_cache", completion.FromCache),
		slog.Float64("processing_time_seconds", completion.ProcessingTime),
	)

	return nil
}

// analyzeJob produces the completion payload for a claimed job: either a
// cache hit or a fresh run through the analysis pipeline.
func (w *Worker) analyzeJob(ctx context.Context, job *domain.JobRecord, start time.Time) (*domain.Completion, error) {
	w.reportProgress(ctx, job.JobID, 10, progressCacheCheck)

	// Step 4: Fingerprint and consult the cache. Any trouble here degrades
	// to a forced miss - the cache must never affect correctness.
	fileFP, err := fingerprintFile(job.FilePath)
	var queryFP string
	if err != nil {
		w.logger.Warn("Failed to fingerprint file, skipping cache",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		fileFP = ""
	} else {
		queryFP = fingerprint.Query(job.Query)

		entry, lookupErr := w.cache.Lookup(ctx, fileFP, queryFP)
		if lookupErr == nil {
			w.reportProgress(ctx, job.JobID, 100, progressCacheHit)
			return &domain.Completion{
				Summary:        analysisSummary,
				DetailedResult: entry.AnalysisResult,
				AgentsUsed:     entry.AgentsUsed,
				FromCache:      true,
				ProcessingTime: cachedProcessingTime,
			}, nil
		}
		if !errors.Is(lookupErr, domain.ErrCacheMiss) {
			w.logger.Warn("Cache lookup failed, proceeding with analysis",
				slog.String("job_id", job.JobID),
				slog.String("error", lookupErr.Error()),
			)
		}
	}

	// Step 5: Extract text and run the agent pipeline.
	w.reportProgress(ctx, job.JobID, 20, progressAnalyzing)

	document, err := w.extractor.Extract(job.FilePath)
	if err != nil {
		return nil, err
	}

	w.reportProgress(ctx, job.JobID, 50, progressAgents)

	outcome, err := w.analyzer.Analyze(ctx, document, job.Query)
	if err != nil {
		return nil, err
	}

	// Step 6: Best-effort cache write. Failure is logged and ignored.
	w.reportProgress(ctx, job.JobID, 90, progressFinalizing)

	if fileFP != "" {
		storeErr := w.cache.Store(ctx, &domain.CacheEntry{
			FileFingerprint:  fileFP,
			QueryFingerprint: queryFP,
			Filename:         job.Filename,
			AnalysisResult:   outcome.Result,
			AgentsUsed:       outcome.AgentsUsed,
		})
		if storeErr != nil {
			w.logger.Warn("Failed to store analysis in cache",
				slog.String("job_id", job.JobID),
				slog.String("error", storeErr.Error()),
			)
		}
	}

	return &domain.Completion{
		Summary:        analysisSummary,
		DetailedResult: outcome.Result,
		AgentsUsed:     outcome.AgentsUsed,
		FromCache:      false,
		ProcessingTime: time.Since(start).Seconds(),
	}, nil
}

// failJob applies the processing -> failed transition with the error message
// contract: analyzer errors verbatim behind a fixed prefix, and a dedicated
// message for timeouts. Shutdown cancellation is not a job failure.
func (w *Worker) failJob(ctx context.Context, job *domain.JobRecord, cause error) error {
	if errors.Is(cause, context.Canceled) {
		// Worker is shutting down mid-analysis. Leave the record in
		// processing and requeue the message; the claim guard or the stale
		// supervisor resolves it from there.
		w.logger.Warn("Job interrupted by shutdown, requeueing",
			slog.String("job_id", job.JobID),
		)
		return domain.NewRetryableError(cause)
	}

	message := fmt.Sprintf("Error processing financial document: %v", cause)
	if errors.Is(cause, context.DeadlineExceeded) {
		message = fmt.Sprintf("Analysis timed out after %s", w.jobTimeout)
	}

	w.logger.Error("Job processing failed",
		slog.String("job_id", job.JobID),
		slog.String("error", cause.Error()),
	)

	if failErr := w.store.Fail(ctx, job.JobID, message); failErr != nil {
		// Same recovery story as a failed completion write: drop the
		// message and let the stale supervisor finish the job off.
		w.logger.Error("Failed to mark job failed",
			slog.String("job_id", job.JobID),
			slog.String("error", failErr.Error()),
		)
		return fmt.Errorf("failed to mark job failed: %w", failErr)
	}

	// The last snapshot would claim the job is mid-analysis; drop it.
	_ = w.progress.Clear(ctx, job.JobID)

	return fmt.Errorf("job %s failed: %w", job.JobID, cause)
}

// reportProgress is fire-and-forget; the tracker logs its own failures.
func (w *Worker) reportProgress(ctx context.Context, jobID string, percent int, message string) {
	_ = w.progress.Set(ctx, jobID, percent, message)
}

// removeStagedFile deletes the uploaded document once processing ends.
func (w *Worker) removeStagedFile(path, jobID string) {
	if path == "" {
		return
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return
		}
		w.logger.Warn("Failed to remove staged file",
			slog.String("path", path),
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Info("Cleaned up staged file",
		slog.String("path", path),
		slog.String("job_id", jobID),
	)
}

// fingerprintFile hashes the staged file content.
func fingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening staged file: %w", err)
	}
	defer f.Close()

	return fingerprint.File(f)
}
