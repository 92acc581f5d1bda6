package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cuongbtq/tutor-be/internal/generator"
	"github.com/cuongbtq/tutor-be/internal/jobs"
	"github.com/cuongbtq/tutor-be/internal/progress"
	"github.com/cuongbtq/tutor-be/shared/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

const testJobID = "7f1c0c7e-3c1b-4c39-9a57-7e0c1f5d2a10"

// memoryStore keeps one job and enforces the same ownership checks as the
// SQL storage.
type memoryStore struct {
	mu          sync.Mutex
	job         jobs.Job
	claimErr    error
	recordErr   error
	extendErr   error
	cancelAfter int
	progress    []jobs.Progress
	finals      []jobs.Final
	released    []string
	expired     []string

	extends           int
	extendsAfterFinal int
}

func newMemoryStore(total int, params jobs.Params) *memoryStore {
	raw, _ := json.Marshal(params)
	return &memoryStore{job: jobs.Job{
		JobID:       testJobID,
		UserID:      "user-1",
		ContentType: jobs.ContentQuiz,
		Params:      string(raw),
		TotalItems:  total,
		Status:      jobs.StatusPending,
		BatchErrors: "[]",
	}}
}

func (s *memoryStore) ClaimJob(_ context.Context, jobID, workerID string, _ time.Duration) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	if jobID != s.job.JobID || jobs.IsTerminal(s.job.Status) {
		return nil, jobs.ErrJobAlreadyClaimed
	}
	s.job.Status = jobs.StatusProcessing
	s.job.WorkerID = workerID
	if !s.job.StartedAt.Valid {
		s.job.StartedAt = sql.NullTime{Time: time.Now(), Valid: true}
	}
	job := s.job
	return &job, nil
}

func (s *memoryStore) ExtendLease(context.Context, string, string, time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extends++
	if len(s.finals) > 0 {
		s.extendsAfterFinal++
	}
	return s.extendErr
}

func (s *memoryStore) extendCounts() (total, afterFinal int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extends, s.extendsAfterFinal
}

func (s *memoryStore) ReleaseLease(_ context.Context, jobID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, jobID)
	return nil
}

func (s *memoryStore) RecordProgress(_ context.Context, p jobs.Progress) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return false, s.recordErr
	}
	if p.WorkerID != s.job.WorkerID || p.ExpectedCompleted != s.job.CompletedItems || s.job.Status != jobs.StatusProcessing {
		return false, jobs.ErrLeaseLost
	}

	p.ResultIDs = append([]string{}, p.ResultIDs...)
	p.BatchErrors = append([]jobs.BatchError{}, p.BatchErrors...)
	s.progress = append(s.progress, p)

	s.job.CompletedItems = p.CompletedItems
	s.job.ResultIDs = p.ResultIDs
	raw, _ := json.Marshal(p.BatchErrors)
	s.job.BatchErrors = string(raw)

	return s.cancelAfter > 0 && p.CompletedItems >= s.cancelAfter, nil
}

func (s *memoryStore) FinalizeJob(_ context.Context, f jobs.Final) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.WorkerID != s.job.WorkerID || s.job.Status != jobs.StatusProcessing {
		return jobs.ErrLeaseLost
	}
	s.finals = append(s.finals, f)
	s.job.Status = f.Status
	s.job.ErrorMessage = f.ErrorMessage
	return nil
}

func (s *memoryStore) ListExpiredLeases(context.Context, int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired, nil
}

func (s *memoryStore) snapshot() jobs.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

// scriptedGenerator answers each call with fn(call index)
type scriptedGenerator struct {
	mu       sync.Mutex
	requests []generator.Request
	fn       func(ctx context.Context, call int) (*generator.Result, error)
}

func (g *scriptedGenerator) Generate(ctx context.Context, req generator.Request) (*generator.Result, error) {
	g.mu.Lock()
	call := len(g.requests)
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.fn == nil {
		return savedResult(call), nil
	}
	return g.fn(ctx, call)
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func savedResult(call int) *generator.Result {
	return &generator.Result{
		ContentType: generator.ContentQuiz,
		Content:     json.RawMessage(`{"questions":[]}`),
		SavedID:     fmt.Sprintf("item-%d", call),
	}
}

type recordingEvents struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEvents) Publish(_ context.Context, e progress.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type nackCall struct {
	tag     uint64
	requeue bool
}

type fakeBroker struct {
	mu         sync.Mutex
	deliveries chan amqp.Delivery
	acks       []uint64
	nacks      []nackCall
	published  []any
	settled    chan struct{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		deliveries: make(chan amqp.Delivery, 4),
		settled:    make(chan struct{}, 8),
	}
}

func (b *fakeBroker) Consume(string, int) (<-chan amqp.Delivery, error) {
	return b.deliveries, nil
}

func (b *fakeBroker) Ack(tag uint64) error {
	b.mu.Lock()
	b.acks = append(b.acks, tag)
	b.mu.Unlock()
	b.settled <- struct{}{}
	return nil
}

func (b *fakeBroker) Nack(tag uint64, requeue bool) error {
	b.mu.Lock()
	b.nacks = append(b.nacks, nackCall{tag: tag, requeue: requeue})
	b.mu.Unlock()
	b.settled <- struct{}{}
	return nil
}

func (b *fakeBroker) PublishJSON(_ context.Context, v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, v)
	return nil
}

func newTestWorker(store JobStore, gen Generator, events EventPublisher, broker Broker) *Worker {
	return NewWorker(&Config{
		Logger:            logger.NewDiscard().Logger,
		Store:             store,
		Generator:         gen,
		Events:            events,
		Broker:            broker,
		WorkerID:          "worker-test",
		QueueName:         "generation_jobs",
		Concurrency:       1,
		LeaseDuration:     time.Minute,
		HeartbeatInterval: time.Hour,
	})
}

func quizParams() jobs.Params {
	return jobs.Params{Subject: "Biology", Topics: []string{"Cells"}, QuestionsPerBatch: 5}
}
