package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/tutor-be/internal/api/dto"
	"github.com/cuongbtq/tutor-be/internal/generator"
	"github.com/cuongbtq/tutor-be/internal/jobs"
	"github.com/cuongbtq/tutor-be/internal/pagination"
	"github.com/cuongbtq/tutor-be/internal/progress"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// IdempotencyKeyHeader lets a client retry a submission without creating a second job
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 255

// JobHandler handles batch job HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	store     JobStore
	publisher JobPublisher
	events    ProgressSubscriber
	limits    JobLimits
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		store:     deps.Jobs,
		publisher: deps.Publisher,
		events:    deps.Events,
		limits:    deps.Limits,
	}
}

// validateCreateJob turns a submission into the params every batch receives
func validateCreateJob(req dto.CreateJobRequest, limits JobLimits) (jobs.Params, error) {
	if !jobs.IsBatchContentType(req.ContentType) {
		return jobs.Params{}, fmt.Errorf("content_type must be %q or %q", jobs.ContentQuiz, jobs.ContentPracticeTest)
	}

	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return jobs.Params{}, generator.ErrSubjectRequired
	}

	if req.TotalBatches < 1 || (limits.MaxTotalBatches > 0 && req.TotalBatches > limits.MaxTotalBatches) {
		return jobs.Params{}, fmt.Errorf("totalBatches must be between 1 and %d", limits.MaxTotalBatches)
	}

	perBatch := req.QuestionsPerBatch
	if perBatch == 0 {
		perBatch = generator.DefaultCount
	}
	if perBatch < 1 || (limits.MaxQuestionsPerBatch > 0 && perBatch > limits.MaxQuestionsPerBatch) {
		return jobs.Params{}, fmt.Errorf("questionsPerBatch must be between 1 and %d", limits.MaxQuestionsPerBatch)
	}

	topics := make([]string, 0, len(req.Topics))
	for _, t := range req.Topics {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}

	return jobs.Params{
		Subject:           subject,
		Topics:            topics,
		ExamType:          strings.TrimSpace(req.ExamType),
		Difficulty:        strings.TrimSpace(req.Difficulty),
		QuestionsPerBatch: perBatch,
	}, nil
}

// CreateJob handles POST /api/v1/jobs
// Records a pending job and hands it to the worker queue
func (h *JobHandler) CreateJob(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	params, err := validateCreateJob(req, h.limits)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	rawParams, err := json.Marshal(params)
	if err != nil {
		h.logger.Error("Failed to encode job params", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	if len(key) > maxIdempotencyKeyLen {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("%s must be at most %d characters", IdempotencyKeyHeader, maxIdempotencyKeyLen),
		})
		return
	}

	ctx := c.Request.Context()
	if key != "" && h.replyExisting(c, userID, key) {
		return
	}

	now := time.Now().UTC()
	job := jobs.Job{
		JobID:          uuid.New().String(),
		UserID:         userID,
		IdempotencyKey: sql.NullString{String: key, Valid: key != ""},
		ContentType:    req.ContentType,
		Params:         string(rawParams),
		TotalItems:     req.TotalBatches,
		Status:         jobs.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.store.CreateJob(ctx, &job); err != nil {
		// Lost a race with a concurrent submission using the same key
		if errors.Is(err, jobs.ErrDuplicateJob) && h.replyExisting(c, userID, key) {
			return
		}
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	if err := h.publisher.PublishJSON(ctx, jobs.Message{JobID: job.JobID}); err != nil {
		h.logger.Error("Failed to enqueue job",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		if markErr := h.store.MarkFailed(ctx, job.JobID, "failed to enqueue job: "+err.Error()); markErr != nil {
			h.logger.Error("Failed to mark unqueued job failed",
				slog.String("job_id", job.JobID),
				slog.String("error", markErr.Error()),
			)
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Job queue is unavailable, please try again",
		})
		return
	}

	h.logger.Info("Job created",
		slog.String("job_id", job.JobID),
		slog.String("user_id", userID),
		slog.String("content_type", job.ContentType),
		slog.Int("total_items", job.TotalItems),
	)

	c.JSON(http.StatusAccepted, dto.CreateJobResponse{
		JobID:  job.JobID,
		Status: job.Status,
	})
}

// replyExisting answers with the job already stored under key. It reports
// false, having written nothing, when there is no such job.
func (h *JobHandler) replyExisting(c *gin.Context, userID, key string) bool {
	job, err := h.store.GetJobByIdempotencyKey(c.Request.Context(), userID, key)
	if errors.Is(err, jobs.ErrJobNotFound) {
		return false
	}
	if err != nil {
		h.logger.Error("Failed to look up idempotent job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return true
	}

	h.logger.Info("Returning existing job for idempotency key",
		slog.String("job_id", job.JobID),
		slog.String("user_id", userID),
	)
	c.JSON(http.StatusOK, dto.CreateJobResponse{
		JobID:  job.JobID,
		Status: job.Status,
	})
	return true
}

// jobIDParam validates the :job_id path segment, replying 400 when it is not a UUID
func jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}

func (h *JobHandler) replyJobError(c *gin.Context, jobID, action string, err error) {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
	case errors.Is(err, jobs.ErrJobTerminal):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Job already finished",
		})
	default:
		h.logger.Error("Failed to "+action,
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to " + action,
		})
	}
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.store.GetJobForOwner(c.Request.Context(), userID, jobID)
	if err != nil {
		h.replyJobError(c, jobID, "get job", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists the caller's jobs newest first with cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}
	req.PageSize = pagination.ClampPageSize(req.PageSize)

	cursor, err := pagination.Decode(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	list, err := h.store.ListJobs(c.Request.Context(), jobs.Filter{
		UserID:      userID,
		ContentType: req.ContentType,
		Status:      req.Status,
		PageSize:    req.PageSize,
		Cursor:      cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(list) > req.PageSize
	if hasMore {
		list = list[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(list))}
	for i := range list {
		resp.Jobs[i] = dto.NewJobDTO(&list[i])
	}
	if hasMore {
		last := list[len(list)-1]
		resp.NextCursor = pagination.Encode(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.JobID})
	}

	c.JSON(http.StatusOK, resp)
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// A pending job is canceled at once; a processing one stops after its current batch
func (h *JobHandler) CancelJob(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.store.RequestCancel(c.Request.Context(), userID, jobID)
	if err != nil {
		h.replyJobError(c, jobID, "cancel job", err)
		return
	}

	h.logger.Info("Job cancel requested",
		slog.String("job_id", jobID),
		slog.String("status", job.Status),
	)

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// StreamJobEvents handles GET /api/v1/jobs/:job_id/events
// Server-Sent Events: the current state first, then every progress step
// until the job is terminal.
func (h *JobHandler) StreamJobEvents(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()

	// Subscribe before reading the snapshot so no step falls in between
	events, closeSub, err := h.events.Subscribe(ctx, jobID)
	if err != nil {
		h.logger.Error("Failed to subscribe to job progress",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Progress stream is unavailable",
		})
		return
	}
	defer closeSub()

	job, err := h.store.GetJobForOwner(ctx, userID, jobID)
	if err != nil {
		h.replyJobError(c, jobID, "get job", err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	snapshot := snapshotEvent(job)
	c.SSEvent("progress", snapshot)
	c.Writer.Flush()
	if jobs.IsTerminal(snapshot.Status) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			// Steps already covered by the snapshot
			if e.CompletedItems < snapshot.CompletedItems && !jobs.IsTerminal(e.Status) {
				continue
			}
			c.SSEvent("progress", e)
			c.Writer.Flush()
			if jobs.IsTerminal(e.Status) {
				return
			}
		}
	}
}

func snapshotEvent(job *jobs.Job) progress.Event {
	batchErrors, _ := job.DecodeBatchErrors()
	return progress.Event{
		JobID:          job.JobID,
		Status:         job.Status,
		CompletedItems: job.CompletedItems,
		TotalItems:     job.TotalItems,
		Succeeded:      len(job.ResultIDs),
		Failed:         len(batchErrors),
		ErrorMessage:   job.ErrorMessage,
		At:             job.UpdatedAt,
	}
}
