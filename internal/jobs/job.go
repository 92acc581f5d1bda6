// Package jobs holds the generation job record and its storage. The API
// creates, reads and cancels jobs; the worker claims them under a lease and
// advances them batch by batch.
package jobs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/tutor-be/internal/pagination"
	"github.com/lib/pq"
)

// Job status values
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Content types a batch job may request
const (
	ContentQuiz         = "quiz"
	ContentPracticeTest = "practice_test"
)

// MaxDurationMessage is the error_message of a job stopped by its wall-clock limit
const MaxDurationMessage = "job exceeded maximum duration"

var (
	// ErrJobNotFound is returned when a job does not exist or is not visible to the caller
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when another worker holds a live lease or the job is terminal
	ErrJobAlreadyClaimed = errors.New("job already claimed or not claimable")

	// ErrLeaseLost is returned when a progress write finds the job owned by someone else
	ErrLeaseLost = errors.New("job lease lost")

	// ErrJobTerminal is returned when cancelling a job that already finished
	ErrJobTerminal = errors.New("job already finished")

	// ErrDuplicateJob is returned when the owner already submitted a job under the same idempotency key
	ErrDuplicateJob = errors.New("job with this idempotency key already exists")
)

// IsTerminal reports whether status is final
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsBatchContentType reports whether ct can be produced by a batch job
func IsBatchContentType(ct string) bool {
	return ct == ContentQuiz || ct == ContentPracticeTest
}

// Params is passed unchanged to every batch
type Params struct {
	Subject           string   `json:"subject"`
	Topics            []string `json:"topics,omitempty"`
	ExamType          string   `json:"examType,omitempty"`
	Difficulty        string   `json:"difficulty,omitempty"`
	QuestionsPerBatch int      `json:"questionsPerBatch"`
}

// BatchError records why one batch produced no item
type BatchError struct {
	Index   int    `json:"index"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Job mirrors a generation_jobs row
type Job struct {
	JobID           string         `db:"job_id"`
	UserID          string         `db:"user_id"`
	IdempotencyKey  sql.NullString `db:"idempotency_key"`
	ContentType     string         `db:"content_type"`
	Params          string         `db:"params"` // JSON document
	TotalItems      int            `db:"total_items"`
	CompletedItems  int            `db:"completed_items"`
	Status          string         `db:"status"`
	ResultIDs       pq.StringArray `db:"result_ids"`
	BatchErrors     string         `db:"batch_errors"` // JSON array
	ErrorMessage    string         `db:"error_message"`
	WorkerID        string         `db:"worker_id"`
	LeaseExpiresAt  sql.NullTime   `db:"lease_expires_at"`
	CancelRequested bool           `db:"cancel_requested"`
	StartedAt       sql.NullTime   `db:"started_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// DecodeParams parses the params column
func (j *Job) DecodeParams() (Params, error) {
	var p Params
	if err := json.Unmarshal([]byte(j.Params), &p); err != nil {
		return p, fmt.Errorf("invalid job params: %w", err)
	}
	return p, nil
}

// DecodeBatchErrors parses the batch_errors column; empty means none
func (j *Job) DecodeBatchErrors() ([]BatchError, error) {
	out := []BatchError{}
	if j.BatchErrors == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(j.BatchErrors), &out); err != nil {
		return nil, fmt.Errorf("invalid batch errors: %w", err)
	}
	return out, nil
}

// Message is the queue payload announcing a job
type Message struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
}

// Filter narrows a job listing
type Filter struct {
	UserID      string
	ContentType string
	Status      string
	PageSize    int
	Cursor      *pagination.Cursor
}

// Progress is one compare-and-swap step written by the lease holder
type Progress struct {
	JobID             string
	WorkerID          string
	ExpectedCompleted int
	CompletedItems    int
	ResultIDs         []string
	BatchErrors       []BatchError
	Lease             time.Duration
}

// Final is the terminal write for a job
type Final struct {
	JobID        string
	WorkerID     string
	Status       string
	ErrorMessage string
}
