package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/tutor-be/internal/api/dto"
)

// DefaultPollInterval is the fixed delay between status reads
const DefaultPollInterval = 3 * time.Second

// JobReader reads one job's state
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (*dto.JobDTO, error)
}

// Poller re-reads a job at a fixed interval until it is terminal
type Poller struct {
	reader   JobReader
	interval time.Duration
	logger   *slog.Logger
}

func NewPoller(reader JobReader, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{reader: reader, interval: interval, logger: logger}
}

// Poll reads the job immediately and then once per interval. Every
// successful read goes to onUpdate; the first terminal one also goes to
// onComplete and ends polling. Read errors are logged and the next tick
// tries again. Only ctx bounds how long this runs.
func (p *Poller) Poll(ctx context.Context, jobID string, onUpdate, onComplete func(*dto.JobDTO)) error {
	var ticker *time.Ticker

	for {
		job, err := p.reader.GetJob(ctx, jobID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("Failed to read job status",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		default:
			if onUpdate != nil {
				onUpdate(job)
			}
			if job.IsTerminal() {
				if onComplete != nil {
					onComplete(job)
				}
				return nil
			}
		}

		if ticker == nil {
			ticker = time.NewTicker(p.interval)
			defer ticker.Stop()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
