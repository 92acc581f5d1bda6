package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/tutor-be/internal/jobs"
)

// workerLoop processes dispatched jobs until jobsChan closes or ctx ends
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
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

			w.settle(msg, w.processJob(ctx, msg))
		}
	}
}

// settle ACKs or NACKs the delivery based on the processing result
func (w *Worker) settle(msg *jobs.Message, err error) {
	if err == nil {
		if ackErr := w.broker.Ack(msg.DeliveryTag); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("job_id", msg.JobID),
				slog.String("error", ackErr.Error()),
			)
		}
		return
	}

	w.logger.Error("Job processing failed",
		slog.String("job_id", msg.JobID),
		slog.String("error", err.Error()),
	)
	w.nack(msg.DeliveryTag, shouldRequeueJob(err), msg.JobID)
}

// shouldRequeueJob determines if a job should be requeued based on the error type
func shouldRequeueJob(err error) bool {
	// Another worker owns it, or it already finished
	if errors.Is(err, jobs.ErrJobAlreadyClaimed) || errors.Is(err, jobs.ErrLeaseLost) {
		return false
	}

	if errors.Is(err, ErrInvalidPayload) {
		return false
	}

	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
