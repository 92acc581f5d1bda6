package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/tutor-be/internal/generator"
	"github.com/cuongbtq/tutor-be/internal/jobs"
	"github.com/cuongbtq/tutor-be/internal/progress"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

// JobStore is the lease-aware slice of job storage the worker uses
type JobStore interface {
	ClaimJob(ctx context.Context, jobID, workerID string, lease time.Duration) (*jobs.Job, error)
	ExtendLease(ctx context.Context, jobID, workerID string, lease time.Duration) error
	ReleaseLease(ctx context.Context, jobID, workerID string) error
	RecordProgress(ctx context.Context, p jobs.Progress) (bool, error)
	FinalizeJob(ctx context.Context, f jobs.Final) error
	ListExpiredLeases(ctx context.Context, limit int) ([]string, error)
}

// Generator produces one batch
type Generator interface {
	Generate(ctx context.Context, req generator.Request) (*generator.Result, error)
}

// EventPublisher announces persisted progress
type EventPublisher interface {
	Publish(ctx context.Context, e progress.Event) error
}

// Broker is the message queue the worker consumes from and republishes to
type Broker interface {
	Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
	Ack(tag uint64) error
	Nack(tag uint64, requeue bool) error
	PublishJSON(ctx context.Context, v any) error
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Store             JobStore
	Generator         Generator
	Events            EventPublisher
	Broker            Broker
	Throttle          *Throttle
	WorkerID          string
	QueueName         string
	Concurrency       int
	PrefetchCount     int
	JobTimeout        time.Duration
	LeaseDuration     time.Duration
	HeartbeatInterval time.Duration
}

// Worker consumes job messages and drives each job through its batches
type Worker struct {
	logger            *slog.Logger
	store             JobStore
	generator         Generator
	events            EventPublisher
	broker            Broker
	throttle          *Throttle
	workerID          string
	queueName         string
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	leaseDuration     time.Duration
	heartbeatInterval time.Duration
	jobsChan          chan *jobs.Message
	now               func() time.Time
	wg                sync.WaitGroup
	stopChan          chan struct{}
	stopOnce          sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	throttle := cfg.Throttle
	if throttle == nil {
		throttle = NewThrottle(0, 0)
	}

	return &Worker{
		logger:            cfg.Logger.With(slog.String("worker_id", workerID)),
		store:             cfg.Store,
		generator:         cfg.Generator,
		events:            cfg.Events,
		broker:            cfg.Broker,
		throttle:          throttle,
		workerID:          workerID,
		queueName:         cfg.QueueName,
		concurrency:       concurrency,
		prefetchCount:     cfg.PrefetchCount,
		jobTimeout:        cfg.JobTimeout,
		leaseDuration:     cfg.LeaseDuration,
		heartbeatInterval: cfg.HeartbeatInterval,
		jobsChan:          make(chan *jobs.Message),
		now:               time.Now,
		stopChan:          make(chan struct{}),
	}
}

// Start consumes until ctx is canceled, Stop is called, or the delivery
// channel closes.
func (w *Worker) Start(ctx context.Context) error {
	w.wg.Add(1)
	defer w.wg.Done()

	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Duration("lease_duration", w.leaseDuration),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(w.jobsChan)
		return w.startMessageDispatcher(gctx, deliveries)
	})

	for i := 0; i < w.concurrency; i++ {
		workerNum := i
		g.Go(func() error {
			w.workerLoop(gctx, workerNum)
			return nil
		})
	}

	g.Go(func() error {
		w.recoverExpiredLeases(gctx)
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	w.logger.Info("Worker stopped consuming")
	return err
}

// Stop signals Start to return and waits for in-flight jobs to wind down
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
