package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/tutor-be/internal/generator"
	"github.com/cuongbtq/tutor-be/internal/jobs"
	"github.com/cuongbtq/tutor-be/internal/library"
	"github.com/cuongbtq/tutor-be/internal/progress"
	"github.com/gin-gonic/gin"
)

// ContextUserID is the gin context key the auth middleware stores the caller under
const ContextUserID = "user_id"

// JobStore is the job persistence the API needs
type JobStore interface {
	CreateJob(ctx context.Context, job *jobs.Job) error
	GetJobForOwner(ctx context.Context, ownerID, jobID string) (*jobs.Job, error)
	GetJobByIdempotencyKey(ctx context.Context, ownerID, key string) (*jobs.Job, error)
	ListJobs(ctx context.Context, filter jobs.Filter) ([]jobs.Job, error)
	RequestCancel(ctx context.Context, ownerID, jobID string) (*jobs.Job, error)
	MarkFailed(ctx context.Context, jobID, errorMsg string) error
}

// JobPublisher enqueues job messages for the worker
type JobPublisher interface {
	PublishJSON(ctx context.Context, v any) error
}

// ProgressSubscriber streams progress events for one job
type ProgressSubscriber interface {
	Subscribe(ctx context.Context, jobID string) (<-chan progress.Event, func(), error)
}

// ContentGenerator produces a single item on demand
type ContentGenerator interface {
	Generate(ctx context.Context, req generator.Request) (*generator.Result, error)
}

// LibraryStore is the owner-scoped library
type LibraryStore interface {
	Get(ctx context.Context, ownerID, itemID string) (*library.Item, error)
	List(ctx context.Context, ownerID string, filter library.Filter) ([]library.Item, error)
	Delete(ctx context.Context, ownerID, itemID string) error
	ToggleFavorite(ctx context.Context, ownerID, itemID string) (bool, error)
	SetFavorite(ctx context.Context, ownerID, itemID string, favorite bool) error
	UpdateTags(ctx context.Context, ownerID, itemID string, tags []string) ([]string, error)
}

// JobLimits bounds what a single submission may ask for
type JobLimits struct {
	MaxTotalBatches      int
	MaxQuestionsPerBatch int
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Jobs      JobStore
	Publisher JobPublisher
	Events    ProgressSubscriber
	Generator ContentGenerator
	Library   LibraryStore
	Limits    JobLimits
}

// currentUser returns the authenticated caller, or aborts with 401
func currentUser(c *gin.Context) (string, bool) {
	userID := c.GetString(ContextUserID)
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "authentication required",
		})
		return "", false
	}
	return userID, true
}
