package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/tutor-be/internal/jobs"
)

type CreateJobRequest struct {
	ContentType       string   `json:"content_type" binding:"required"`
	Subject           string   `json:"subject"`
	Topics            []string `json:"topics,omitempty"`
	ExamType          string   `json:"examType,omitempty"`
	Difficulty        string   `json:"difficulty,omitempty"`
	QuestionsPerBatch int      `json:"questionsPerBatch"`
	TotalBatches      int      `json:"totalBatches"`
}

type CreateJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

type ListJobsRequest struct {
	ContentType string `form:"content_type"`
	Status      string `form:"status"`
	PageSize    int    `form:"page_size"`
	Cursor      string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID           string            `json:"job_id"`
	ContentType     string            `json:"content_type"`
	Params          json.RawMessage   `json:"params"`
	Status          string            `json:"status"`
	TotalItems      int               `json:"total_items"`
	CompletedItems  int               `json:"completed_items"`
	ResultIDs       []string          `json:"result_ids"`
	BatchErrors     []jobs.BatchError `json:"batch_errors"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	CancelRequested bool              `json:"cancel_requested"`
	CreatedAt       string            `json:"created_at"`
	UpdatedAt       string            `json:"updated_at"`
	CompletedAt     string            `json:"completed_at,omitempty"`
}

// NewJobDTO renders a stored job; an unreadable batch_errors column shows as empty
func NewJobDTO(job *jobs.Job) JobDTO {
	batchErrors, err := job.DecodeBatchErrors()
	if err != nil {
		batchErrors = []jobs.BatchError{}
	}

	resultIDs := []string(job.ResultIDs)
	if resultIDs == nil {
		resultIDs = []string{}
	}

	params := json.RawMessage(job.Params)
	if !json.Valid(params) {
		params = json.RawMessage("{}")
	}

	out := JobDTO{
		JobID:           job.JobID,
		ContentType:     job.ContentType,
		Params:          params,
		Status:          job.Status,
		TotalItems:      job.TotalItems,
		CompletedItems:  job.CompletedItems,
		ResultIDs:       resultIDs,
		BatchErrors:     batchErrors,
		ErrorMessage:    job.ErrorMessage,
		CancelRequested: job.CancelRequested,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339),
	}
	if job.CompletedAt.Valid {
		out.CompletedAt = job.CompletedAt.Time.Format(time.RFC3339)
	}
	return out
}

// IsTerminal reports whether the job will change no further
func (j JobDTO) IsTerminal() bool {
	return jobs.IsTerminal(j.Status)
}
