package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/tutor-be/internal/generator"
	"github.com/cuongbtq/tutor-be/internal/jobs"
	"github.com/cuongbtq/tutor-be/internal/llm"
	"github.com/cuongbtq/tutor-be/internal/progress"
)

const (
	releaseTimeout = 5 * time.Second

	kindMalformedResponse = "malformed_response"
	malformedMessage      = "The AI returned content we could not read. Please try again."
)

// processJob claims a job, runs its remaining batches, and leaves it terminal.
// A nil return means the message can be ACKed.
func (w *Worker) processJob(ctx context.Context, msg *jobs.Message) error {
	logger := w.logger.With(slog.String("job_id", msg.JobID))
	logger.Info("Processing job")

	job, err := w.store.ClaimJob(ctx, msg.JobID, w.workerID, w.leaseDuration)
	if err != nil {
		if errors.Is(err, jobs.ErrJobAlreadyClaimed) {
			logger.Warn("Job already claimed, skipping")
			return fmt.Errorf("job already claimed: %w", err)
		}
		return NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	params, err := validParams(job)
	if err != nil {
		logger.Error("Job has unusable params", slog.String("error", err.Error()))
		if finErr := w.fail(ctx, job, err.Error()); finErr != nil {
			logger.Error("Failed to mark job failed", slog.String("error", finErr.Error()))
		}
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	heartbeat := w.startHeartbeat(jobCtx, job.JobID, cancel)
	err = w.runBatches(jobCtx, job, params, heartbeat.stop)
	heartbeat.stop()

	switch {
	case err == nil:
		return nil

	case errors.Is(err, jobs.ErrLeaseLost):
		logger.Warn("Lost job lease, abandoning job")
		return err

	case ctx.Err() != nil:
		// Shutdown; hand the job to the next worker at the persisted batch
		releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer releaseCancel()
		if relErr := w.store.ReleaseLease(releaseCtx, job.JobID, w.workerID); relErr != nil {
			logger.Error("Failed to release job lease", slog.String("error", relErr.Error()))
		}
		return NewRetryableError(fmt.Errorf("job interrupted: %w", err))

	default:
		logger.Error("Job orchestration failed", slog.String("error", err.Error()))
		if finErr := w.fail(ctx, job, err.Error()); finErr != nil {
			logger.Error("Failed to mark job failed", slog.String("error", finErr.Error()))
		}
		return nil
	}
}

// fail finalizes a job that broke outside the per-batch loop
func (w *Worker) fail(ctx context.Context, job *jobs.Job, errorMsg string) error {
	state, err := newBatchState(job)
	if err != nil {
		state = &batchState{completed: job.CompletedItems, resultIDs: job.ResultIDs}
	}
	return w.finish(ctx, job, state, jobs.StatusFailed, errorMsg)
}

func validParams(job *jobs.Job) (jobs.Params, error) {
	params, err := job.DecodeParams()
	if err != nil {
		return params, err
	}
	if !jobs.IsBatchContentType(job.ContentType) {
		return params, fmt.Errorf("content type %q cannot be generated in batches", job.ContentType)
	}
	if strings.TrimSpace(params.Subject) == "" {
		return params, generator.ErrSubjectRequired
	}
	return params, nil
}

// batchState is the job's position as last persisted by this worker
type batchState struct {
	completed   int
	resultIDs   []string
	batchErrors []jobs.BatchError

	// stopHeartbeat, when set, runs before the terminal write
	stopHeartbeat func()
}

func newBatchState(job *jobs.Job) (*batchState, error) {
	batchErrors, err := job.DecodeBatchErrors()
	if err != nil {
		return nil, err
	}
	return &batchState{
		completed:   job.CompletedItems,
		resultIDs:   append([]string{}, job.ResultIDs...),
		batchErrors: batchErrors,
	}, nil
}

func (s *batchState) event(job *jobs.Job, status string) progress.Event {
	return progress.Event{
		JobID:          job.JobID,
		Status:         status,
		CompletedItems: s.completed,
		TotalItems:     job.TotalItems,
		Succeeded:      len(s.resultIDs),
		Failed:         len(s.batchErrors),
	}
}

// runBatches generates one item per batch from the persisted position on,
// recording progress after every batch.
func (w *Worker) runBatches(ctx context.Context, job *jobs.Job, params jobs.Params, stopHeartbeat func()) error {
	logger := w.logger.With(slog.String("job_id", job.JobID))

	state, err := newBatchState(job)
	if err != nil {
		return err
	}
	state.stopHeartbeat = stopHeartbeat

	if job.CancelRequested {
		return w.finish(ctx, job, state, jobs.StatusCanceled, "")
	}

	deadline := w.deadline(job)

	for state.completed < job.TotalItems {
		if !deadline.IsZero() && !w.now().Before(deadline) {
			logger.Warn("Job exceeded maximum duration", slog.Int("completed_items", state.completed))
			return w.finish(ctx, job, state, jobs.StatusFailed, jobs.MaxDurationMessage)
		}

		index := state.completed
		res, timedOut, genErr := w.generateBatch(ctx, deadline, job, params)
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if timedOut {
			logger.Warn("Job exceeded maximum duration during batch", slog.Int("batch", index))
			return w.finish(ctx, job, state, jobs.StatusFailed, jobs.MaxDurationMessage)
		}

		resultIDs, batchErrors := state.resultIDs, state.batchErrors
		if genErr != nil {
			batchErr := batchErrorFor(index, genErr)
			batchErrors = append(batchErrors, batchErr)
			logger.Warn("Batch failed",
				slog.Int("batch", index),
				slog.String("kind", batchErr.Kind),
				slog.String("error", genErr.Error()),
			)
		} else {
			resultIDs = append(resultIDs, res.SavedID)
			logger.Info("Batch completed",
				slog.Int("batch", index),
				slog.String("item_id", res.SavedID),
			)
		}
		w.throttle.Observe(genErr)

		cancelRequested, err := w.store.RecordProgress(ctx, jobs.Progress{
			JobID:             job.JobID,
			WorkerID:          w.workerID,
			ExpectedCompleted: index,
			CompletedItems:    index + 1,
			ResultIDs:         resultIDs,
			BatchErrors:       batchErrors,
			Lease:             w.leaseDuration,
		})
		if err != nil {
			return fmt.Errorf("failed to record progress for batch %d: %w", index, err)
		}
		state.completed = index + 1
		state.resultIDs, state.batchErrors = resultIDs, batchErrors

		w.publish(ctx, state.event(job, jobs.StatusProcessing))

		if cancelRequested {
			logger.Info("Job cancel requested", slog.Int("completed_items", state.completed))
			return w.finish(ctx, job, state, jobs.StatusCanceled, "")
		}
	}

	return w.finish(ctx, job, state, jobs.StatusCompleted, "")
}

// generateBatch waits for the throttle then generates and saves one item.
// timedOut reports that the job deadline cut the batch short.
func (w *Worker) generateBatch(ctx context.Context, deadline time.Time, job *jobs.Job, params jobs.Params) (*generator.Result, bool, error) {
	var (
		batchCtx context.Context
		cancel   context.CancelFunc
	)
	if deadline.IsZero() {
		batchCtx, cancel = context.WithCancel(ctx)
	} else {
		batchCtx, cancel = context.WithDeadline(ctx, deadline)
	}
	defer cancel()

	if err := w.throttle.Wait(batchCtx); err != nil {
		// Wait fails early when the next slot falls past the deadline
		return nil, ctx.Err() == nil, err
	}

	res, err := w.generator.Generate(batchCtx, generator.Request{
		OwnerID:     job.UserID,
		ContentType: generator.ContentType(job.ContentType),
		Subject:     params.Subject,
		Topics:      params.Topics,
		ExamType:    params.ExamType,
		Difficulty:  params.Difficulty,
		Count:       params.QuestionsPerBatch,
		Save:        true,
	})
	timedOut := err != nil && errors.Is(batchCtx.Err(), context.DeadlineExceeded)
	return res, timedOut, err
}

func (w *Worker) deadline(job *jobs.Job) time.Time {
	if w.jobTimeout <= 0 {
		return time.Time{}
	}
	started := w.now()
	if job.StartedAt.Valid {
		started = job.StartedAt.Time
	}
	return started.Add(w.jobTimeout)
}

// batchErrorFor records a failed batch with a message fit for the user
func batchErrorFor(index int, err error) jobs.BatchError {
	if errors.Is(err, generator.ErrMalformedResponse) {
		return jobs.BatchError{Index: index, Kind: kindMalformedResponse, Message: malformedMessage}
	}
	kind := llm.Classify(err)
	return jobs.BatchError{Index: index, Kind: string(kind), Message: llm.UserMessage(kind)}
}

// finish writes the terminal status and announces it
func (w *Worker) finish(ctx context.Context, job *jobs.Job, state *batchState, status, errorMsg string) error {
	if state.stopHeartbeat != nil {
		state.stopHeartbeat()
	}
	if err := w.store.FinalizeJob(ctx, jobs.Final{
		JobID:        job.JobID,
		WorkerID:     w.workerID,
		Status:       status,
		ErrorMessage: errorMsg,
	}); err != nil {
		return err
	}

	w.logger.Info("Job finished",
		slog.String("job_id", job.JobID),
		slog.String("status", status),
		slog.Int("completed_items", state.completed),
		slog.Int("succeeded", len(state.resultIDs)),
		slog.Int("failed", len(state.batchErrors)),
	)

	e := state.event(job, status)
	e.ErrorMessage = errorMsg
	w.publish(ctx, e)
	return nil
}

// publish is best-effort; the database row stays the source of truth
func (w *Worker) publish(ctx context.Context, e progress.Event) {
	if w.events == nil {
		return
	}
	if err := w.events.Publish(ctx, e); err != nil {
		w.logger.Warn("Failed to publish progress event",
			slog.String("job_id", e.JobID),
			slog.String("error", err.Error()),
		)
	}
}

// sendJobHeartbeat keeps the lease alive and cancels the job once it is lost
// jobHeartbeat extends a claimed job's lease in the background
type jobHeartbeat struct {
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func (w *Worker) startHeartbeat(ctx context.Context, jobID string, cancel context.CancelCauseFunc) *jobHeartbeat {
	hb := &jobHeartbeat{done: make(chan struct{}), stopped: make(chan struct{})}
	go func() {
		defer close(hb.stopped)
		w.sendJobHeartbeat(ctx, jobID, cancel, hb.done)
	}()
	return hb
}

// stop ends the heartbeat and waits out any lease extension in flight.
// Safe to call more than once.
func (h *jobHeartbeat) stop() {
	h.once.Do(func() { close(h.done) })
	<-h.stopped
}

func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, cancel context.CancelCauseFunc, done <-chan struct{}) {
	interval := w.heartbeatInterval
	if interval <= 0 {
		interval = w.leaseDuration / 3
	}
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.store.ExtendLease(ctx, jobID, w.workerID, w.leaseDuration)
			switch {
			case err == nil:
				w.logger.Debug("Job heartbeat updated", slog.String("job_id", jobID))
			case errors.Is(err, jobs.ErrLeaseLost):
				w.logger.Warn("Job heartbeat found lease lost", slog.String("job_id", jobID))
				cancel(jobs.ErrLeaseLost)
				return
			default:
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
