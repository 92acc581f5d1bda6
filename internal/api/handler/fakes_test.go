package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/tutor-be/internal/generator"
	"github.com/cuongbtq/tutor-be/internal/jobs"
	"github.com/cuongbtq/tutor-be/internal/library"
	"github.com/cuongbtq/tutor-be/internal/progress"
	"github.com/cuongbtq/tutor-be/shared/logger"
	"github.com/gin-gonic/gin"
)

const (
	testUser  = "user-1"
	testJobID = "0b8f3c52-5c1e-4f0e-8f0a-2f5b1a9d7c11"
	testItem  = "5d2e8a71-9b43-4c6f-a1d2-3e4f5a6b7c8d"
)

type fakeJobStore struct {
	mu        sync.Mutex
	created   []jobs.Job
	createErr error
	jobs      map[string]jobs.Job
	listed    []jobs.Job
	lastList  jobs.Filter
	cancelErr error
	failed    map[string]string
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[string]jobs.Job{}, failed: map[string]string{}}
}

func (s *fakeJobStore) CreateJob(_ context.Context, job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if job.IdempotencyKey.Valid {
		for _, existing := range s.jobs {
			if existing.UserID == job.UserID && existing.IdempotencyKey == job.IdempotencyKey {
				return jobs.ErrDuplicateJob
			}
		}
	}
	s.created = append(s.created, *job)
	s.jobs[job.JobID] = *job
	return nil
}

func (s *fakeJobStore) GetJobByIdempotencyKey(_ context.Context, ownerID, key string) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.UserID == ownerID && job.IdempotencyKey.Valid && job.IdempotencyKey.String == key {
			return &job, nil
		}
	}
	return nil, jobs.ErrJobNotFound
}

func (s *fakeJobStore) GetJobForOwner(_ context.Context, ownerID, jobID string) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.UserID != ownerID {
		return nil, jobs.ErrJobNotFound
	}
	return &job, nil
}

// ListJobs returns listed when a test set it, otherwise the stored jobs
// paged the way the database does: newest first, then by id.
func (s *fakeJobStore) ListJobs(_ context.Context, filter jobs.Filter) ([]jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastList = filter
	if s.listed != nil {
		return s.listed, nil
	}

	var out []jobs.Job
	for _, job := range s.jobs {
		if job.UserID != filter.UserID {
			continue
		}
		if c := filter.Cursor; c != nil {
			if job.CreatedAt.After(c.CreatedAt) || (job.CreatedAt.Equal(c.CreatedAt) && job.JobID >= c.ID) {
				continue
			}
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].JobID > out[j].JobID
	})
	if len(out) > filter.PageSize+1 {
		out = out[:filter.PageSize+1]
	}
	return out, nil
}

func (s *fakeJobStore) RequestCancel(ctx context.Context, ownerID, jobID string) (*jobs.Job, error) {
	if s.cancelErr != nil {
		return nil, s.cancelErr
	}
	job, err := s.GetJobForOwner(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	job.CancelRequested = true
	return job, nil
}

func (s *fakeJobStore) MarkFailed(_ context.Context, jobID, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[jobID] = errorMsg
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []any
	err      error
}

func (p *fakePublisher) PublishJSON(_ context.Context, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, v)
	return nil
}

type fakeSubscriber struct {
	events chan progress.Event
	err    error
}

func (s *fakeSubscriber) Subscribe(context.Context, string) (<-chan progress.Event, func(), error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.events, func() {}, nil
}

type fakeGenerator struct {
	result  *generator.Result
	err     error
	lastReq generator.Request
}

func (g *fakeGenerator) Generate(_ context.Context, req generator.Request) (*generator.Result, error) {
	g.lastReq = req
	return g.result, g.err
}

// memoryLibrary is an owner-scoped in-memory library
type memoryLibrary struct {
	mu    sync.Mutex
	items map[string]library.Item
	list  []library.Item
}

func newMemoryLibrary(items ...library.Item) *memoryLibrary {
	lib := &memoryLibrary{items: map[string]library.Item{}}
	for _, item := range items {
		lib.items[item.ItemID] = item
	}
	return lib
}

func (l *memoryLibrary) owned(ownerID, itemID string) (library.Item, bool) {
	item, ok := l.items[itemID]
	return item, ok && item.UserID == ownerID
}

func (l *memoryLibrary) Get(_ context.Context, ownerID, itemID string) (*library.Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item, ok := l.owned(ownerID, itemID)
	if !ok {
		return nil, library.ErrItemNotFound
	}
	return &item, nil
}

func (l *memoryLibrary) List(context.Context, string, library.Filter) ([]library.Item, error) {
	return l.list, nil
}

func (l *memoryLibrary) Delete(_ context.Context, ownerID, itemID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.owned(ownerID, itemID); !ok {
		return library.ErrItemNotFound
	}
	delete(l.items, itemID)
	return nil
}

func (l *memoryLibrary) ToggleFavorite(_ context.Context, ownerID, itemID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item, ok := l.owned(ownerID, itemID)
	if !ok {
		return false, library.ErrItemNotFound
	}
	item.IsFavorite = !item.IsFavorite
	l.items[itemID] = item
	return item.IsFavorite, nil
}

func (l *memoryLibrary) SetFavorite(_ context.Context, ownerID, itemID string, favorite bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	item, ok := l.owned(ownerID, itemID)
	if !ok {
		return library.ErrItemNotFound
	}
	item.IsFavorite = favorite
	l.items[itemID] = item
	return nil
}

func (l *memoryLibrary) UpdateTags(_ context.Context, ownerID, itemID string, tags []string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item, ok := l.owned(ownerID, itemID)
	if !ok {
		return nil, library.ErrItemNotFound
	}
	item.Tags = library.NormalizeTags(tags)
	l.items[itemID] = item
	return item.Tags, nil
}

func testDeps() *Dependencies {
	return &Dependencies{
		Logger:    logger.NewDiscard().Logger,
		Jobs:      newFakeJobStore(),
		Publisher: &fakePublisher{},
		Events:    &fakeSubscriber{events: make(chan progress.Event)},
		Generator: &fakeGenerator{},
		Library:   newMemoryLibrary(),
		Limits:    JobLimits{MaxTotalBatches: 20, MaxQuestionsPerBatch: 25},
	}
}

// newTestEngine registers routes behind a stand-in for the auth middleware
func newTestEngine(userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set(ContextUserID, userID)
		}
		c.Next()
	})
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func storedJob(status string, completed, total int) jobs.Job {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	return jobs.Job{
		JobID:          testJobID,
		UserID:         testUser,
		ContentType:    jobs.ContentQuiz,
		Params:         `{"subject":"Biology","questionsPerBatch":10}`,
		TotalItems:     total,
		CompletedItems: completed,
		Status:         status,
		ResultIDs:      []string{"item-a"},
		BatchErrors:    `[{"index":1,"kind":"rate_limit","message":"busy"}]`,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
