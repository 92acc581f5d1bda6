package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/tutor-be/internal/jobs"
)

const recoveryBatchSize = 50

// recoverExpiredLeases requeues processing jobs whose holder died. Duplicate
// messages are harmless since only one claim can win.
func (w *Worker) recoverExpiredLeases(ctx context.Context) {
	if w.leaseDuration <= 0 {
		return
	}

	ticker := time.NewTicker(w.leaseDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.requeueExpired(ctx)
		}
	}
}

func (w *Worker) requeueExpired(ctx context.Context) int {
	ids, err := w.store.ListExpiredLeases(ctx, recoveryBatchSize)
	if err != nil {
		w.logger.Warn("Failed to list expired leases", slog.String("error", err.Error()))
		return 0
	}

	requeued := 0
	for _, id := range ids {
		if err := w.broker.PublishJSON(ctx, jobs.Message{JobID: id}); err != nil {
			w.logger.Warn("Failed to requeue job with expired lease",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		requeued++
	}

	if requeued > 0 {
		w.logger.Info("Requeued jobs with expired leases", slog.Int("count", requeued))
	}
	return requeued
}
