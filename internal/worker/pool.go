package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/finsightlab/finsight/internal/domain"
)

// spawnWorkerPool starts the configured number of processing goroutines.
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop pulls dispatched jobs, processes them, and settles the broker
// delivery with the outcome. It exits on stopChan, context cancellation, or
// a closed jobs channel.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-w.jobsChan:
			if !ok {
				w.logger.Info("Worker goroutine stopping - jobsChan closed",
					slog.String("worker_name", workerName),
				)
				return
			}

			w.logger.Info("Worker received job",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.JobID),
				slog.Uint64("delivery_tag", msg.DeliveryTag),
			)

			w.settleDelivery(workerName, msg, w.processJob(ctx, msg))
		}
	}
}

// settleDelivery acks or nacks the delivery according to the processing
// result. A nil channel means the connection dropped mid-job; the broker
// will redeliver once the unacked message times out.
func (w *Worker) settleDelivery(workerName string, msg *domain.JobMessage, procErr error) {
	channel := w.rabbitClient.GetChannel()
	if channel == nil {
		w.logger.Error("No RabbitMQ channel to settle delivery",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.JobID),
		)
		return
	}

	if procErr == nil {
		// Terminal state reached (completed or recorded as failed).
		if ackErr := channel.Ack(msg.DeliveryTag, false); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.JobID),
				slog.String("error", ackErr.Error()),
			)
		}
		return
	}

	w.logger.Error("Job processing failed",
		slog.String("worker_name", workerName),
		slog.String("job_id", msg.JobID),
		slog.String("error", procErr.Error()),
	)

	requeue := w.shouldRequeueJob(procErr)
	if nackErr := channel.Nack(msg.DeliveryTag, false, requeue); nackErr != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.JobID),
			slog.String("error", nackErr.Error()),
		)
		return
	}

	w.logger.Info("Message NACKed",
		slog.String("worker_name", workerName),
		slog.String("job_id", msg.JobID),
		slog.Bool("requeue", requeue),
	)
}

// shouldRequeueJob decides whether a failed job goes back on the queue.
// Only errors marked retryable are requeued; claim conflicts and refused
// transitions mean another worker owns the job, and anything unknown is
// dropped rather than risking a poison loop.
func (w *Worker) shouldRequeueJob(err error) bool {
	if errors.Is(err, domain.ErrJobAlreadyClaimed) {
		return false
	}

	if errors.Is(err, domain.ErrInvalidTransition) {
		return false
	}

	var retryableErr *domain.RetryableError
	if errors.As(err, &retryableErr) {
		return true
	}

	return false
}
