package jobs

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/tutor-be/internal/pagination"
	"github.com/cuongbtq/tutor-be/shared/logger"
	"github.com/cuongbtq/tutor-be/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testJobID  = "8b0f7d1e-3f55-4a3a-8a43-52f0a1c0b001"
	testOwner  = "user-1"
	testWorker = "worker-a"
)

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logger.NewDiscard().Logger
	return NewStorage(postgresql.NewFromDB(sqlx.NewDb(db, "postgres"), log), log), mock
}

func jobRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"job_id", "user_id", "idempotency_key", "content_type", "params", "total_items", "completed_items",
		"status", "result_ids", "batch_errors", "error_message", "worker_id", "lease_expires_at",
		"cancel_requested", "started_at", "completed_at", "created_at", "updated_at",
	})
}

func addJobRow(rows *sqlmock.Rows, status string, completed int, workerID string) *sqlmock.Rows {
	now := time.Now().UTC()
	return rows.AddRow(
		testJobID, testOwner, nil, ContentQuiz, `{"subject":"Biology","questionsPerBatch":10}`, 5, completed,
		status, "{}", "[]", "", workerID, nil,
		false, nil, nil, now, now,
	)
}

func TestStorage_CreateJob(t *testing.T) {
	s, mock := newMockStorage(t)
	now := time.Now().UTC()

	key := sql.NullString{String: "submit-1", Valid: true}

	mock.ExpectExec("INSERT INTO generation_jobs").
		WithArgs(testJobID, testOwner, key, ContentQuiz, `{"subject":"Biology"}`, 3, 0, StatusPending,
			pq.StringArray{}, "[]", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("ON CONFLICT \\(user_id, idempotency_key\\)").
		WillReturnResult(sqlmock.NewResult(0, 0))

	job := Job{
		JobID:          testJobID,
		UserID:         testOwner,
		IdempotencyKey: key,
		ContentType:    ContentQuiz,
		Params:         `{"subject":"Biology"}`,
		TotalItems:     3,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, s.CreateJob(context.Background(), &job))

	dup := job
	dup.JobID = "8b0f7d1e-3f55-4a3a-8a43-52f0a1c0b002"
	assert.ErrorIs(t, s.CreateJob(context.Background(), &dup), ErrDuplicateJob)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// recentTime matches a time.Time argument within a minute of now
type recentTime struct{}

func (recentTime) Match(v driver.Value) bool {
	ts, ok := v.(time.Time)
	return ok && !ts.IsZero() && time.Since(ts) < time.Minute
}

func TestStorage_CreateJob_FillsTimestamps(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec("INSERT INTO generation_jobs").
		WithArgs(testJobID, testOwner, sql.NullString{}, ContentQuiz, `{"subject":"Biology"}`, 3, 0, StatusPending,
			pq.StringArray{}, "[]", recentTime{}, recentTime{}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := Job{
		JobID:       testJobID,
		UserID:      testOwner,
		ContentType: ContentQuiz,
		Params:      `{"subject":"Biology"}`,
		TotalItems:  3,
		Status:      StatusPending,
	}
	require.NoError(t, s.CreateJob(context.Background(), &job))

	assert.False(t, job.CreatedAt.IsZero())
	assert.Equal(t, job.CreatedAt, job.UpdatedAt)

	cursor, err := pagination.Decode(pagination.Encode(pagination.Cursor{CreatedAt: job.CreatedAt, ID: job.JobID}))
	require.NoError(t, err)
	assert.True(t, job.CreatedAt.Equal(cursor.CreatedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_GetJobByIdempotencyKey(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectQuery("WHERE user_id = \\$1 AND idempotency_key = \\$2").
		WithArgs(testOwner, "submit-1").
		WillReturnRows(addJobRow(jobRows(), StatusPending, 0, ""))
	mock.ExpectQuery("WHERE user_id = \\$1 AND idempotency_key = \\$2").
		WithArgs(testOwner, "other").
		WillReturnRows(jobRows())

	job, err := s.GetJobByIdempotencyKey(context.Background(), testOwner, "submit-1")
	require.NoError(t, err)
	assert.Equal(t, testJobID, job.JobID)

	_, err = s.GetJobByIdempotencyKey(context.Background(), testOwner, "other")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_GetJobForOwner(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectQuery("FROM generation_jobs WHERE job_id = \\$1 AND user_id = \\$2").
		WithArgs(testJobID, testOwner).
		WillReturnRows(addJobRow(jobRows(), StatusProcessing, 2, testWorker))
	mock.ExpectQuery("FROM generation_jobs WHERE job_id = \\$1 AND user_id = \\$2").
		WithArgs(testJobID, "intruder").
		WillReturnRows(jobRows())

	job, err := s.GetJobForOwner(context.Background(), testOwner, testJobID)
	require.NoError(t, err)
	assert.Equal(t, 2, job.CompletedItems)
	assert.Equal(t, StatusProcessing, job.Status)

	params, err := job.DecodeParams()
	require.NoError(t, err)
	assert.Equal(t, "Biology", params.Subject)
	assert.Equal(t, 10, params.QuestionsPerBatch)

	_, err = s.GetJobForOwner(context.Background(), "intruder", testJobID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ListJobs(t *testing.T) {
	s, mock := newMockStorage(t)
	cursor := &pagination.Cursor{CreatedAt: time.Now().UTC(), ID: testJobID}

	mock.ExpectQuery(`WHERE 1=1 AND user_id = \$1 AND status = \$2 AND \(created_at, job_id\) < \(\$3, \$4\) ORDER BY created_at DESC, job_id DESC LIMIT \$5`).
		WithArgs(testOwner, StatusCompleted, cursor.CreatedAt, cursor.ID, 21).
		WillReturnRows(addJobRow(jobRows(), StatusCompleted, 5, testWorker))

	list, err := s.ListJobs(context.Background(), Filter{
		UserID:   testOwner,
		Status:   StatusCompleted,
		PageSize: 20,
		Cursor:   cursor,
	})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_RequestCancel(t *testing.T) {
	t.Run("running job is flagged", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectQuery("SET cancel_requested = TRUE").
			WithArgs(testJobID, testOwner, StatusPending, StatusCanceled, StatusProcessing).
			WillReturnRows(addJobRow(jobRows(), StatusProcessing, 1, testWorker))

		job, err := s.RequestCancel(context.Background(), testOwner, testJobID)
		require.NoError(t, err)
		assert.Equal(t, StatusProcessing, job.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("finished job", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectQuery("SET cancel_requested = TRUE").WillReturnRows(jobRows())
		mock.ExpectQuery("FROM generation_jobs WHERE job_id = \\$1 AND user_id = \\$2").
			WillReturnRows(addJobRow(jobRows(), StatusCompleted, 5, testWorker))

		_, err := s.RequestCancel(context.Background(), testOwner, testJobID)
		assert.ErrorIs(t, err, ErrJobTerminal)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("someone else's job", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectQuery("SET cancel_requested = TRUE").WillReturnRows(jobRows())
		mock.ExpectQuery("FROM generation_jobs WHERE job_id = \\$1 AND user_id = \\$2").WillReturnRows(jobRows())

		_, err := s.RequestCancel(context.Background(), "intruder", testJobID)
		assert.ErrorIs(t, err, ErrJobNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStorage_ClaimJob(t *testing.T) {
	t.Run("claims pending or expired job", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectQuery(`status = \$5 OR \(status = \$1 AND lease_expires_at < NOW\(\)\)`).
			WithArgs(StatusProcessing, testWorker, float64(120), testJobID, StatusPending).
			WillReturnRows(addJobRow(jobRows(), StatusProcessing, 0, testWorker))

		job, err := s.ClaimJob(context.Background(), testJobID, testWorker, 2*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, testWorker, job.WorkerID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("live lease elsewhere", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectQuery("UPDATE generation_jobs").WillReturnRows(jobRows())

		_, err := s.ClaimJob(context.Background(), testJobID, testWorker, time.Minute)
		assert.ErrorIs(t, err, ErrJobAlreadyClaimed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectQuery("UPDATE generation_jobs").WillReturnError(errors.New("connection reset"))

		_, err := s.ClaimJob(context.Background(), testJobID, testWorker, time.Minute)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrJobAlreadyClaimed))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStorage_RecordProgress(t *testing.T) {
	progress := Progress{
		JobID:             testJobID,
		WorkerID:          testWorker,
		ExpectedCompleted: 1,
		CompletedItems:    2,
		ResultIDs:         []string{"item-1"},
		BatchErrors:       []BatchError{{Index: 1, Kind: "rate_limit", Message: "busy"}},
		Lease:             time.Minute,
	}

	t.Run("compare and swap succeeds", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectQuery(`WHERE job_id = \$5 AND worker_id = \$6 AND status = \$7 AND completed_items = \$8`).
			WithArgs(2, pq.StringArray{"item-1"}, `[{"index":1,"kind":"rate_limit","message":"busy"}]`,
				float64(60), testJobID, testWorker, StatusProcessing, 1).
			WillReturnRows(sqlmock.NewRows([]string{"cancel_requested"}).AddRow(true))

		cancel, err := s.RecordProgress(context.Background(), progress)
		require.NoError(t, err)
		assert.True(t, cancel)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale writer loses", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectQuery("SET completed_items = \\$1").WillReturnError(sql.ErrNoRows)

		_, err := s.RecordProgress(context.Background(), progress)
		assert.ErrorIs(t, err, ErrLeaseLost)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invariants checked before writing", func(t *testing.T) {
		s, mock := newMockStorage(t)

		backwards := progress
		backwards.CompletedItems = 0
		_, err := s.RecordProgress(context.Background(), backwards)
		require.Error(t, err)

		tooMany := progress
		tooMany.ResultIDs = []string{"a", "b", "c"}
		_, err = s.RecordProgress(context.Background(), tooMany)
		require.Error(t, err)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStorage_FinalizeJob(t *testing.T) {
	tests := []struct {
		name     string
		final    Final
		affected int64
		wantErr  error
		noQuery  bool
	}{
		{name: "completed", final: Final{JobID: testJobID, WorkerID: testWorker, Status: StatusCompleted}, affected: 1},
		{name: "lease lost", final: Final{JobID: testJobID, WorkerID: testWorker, Status: StatusFailed, ErrorMessage: "x"}, affected: 0, wantErr: ErrLeaseLost},
		{name: "non terminal status", final: Final{JobID: testJobID, WorkerID: testWorker, Status: StatusProcessing}, noQuery: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStorage(t)

			if !tt.noQuery {
				mock.ExpectExec("SET status = \\$1").
					WithArgs(tt.final.Status, tt.final.ErrorMessage, testJobID, testWorker, StatusProcessing).
					WillReturnResult(sqlmock.NewResult(0, tt.affected))
			}

			err := s.FinalizeJob(context.Background(), tt.final)
			switch {
			case tt.noQuery:
				require.Error(t, err)
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			default:
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStorage_ExtendLease(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec("SET lease_expires_at = NOW\\(\\) \\+ make_interval").
		WithArgs(float64(30), testJobID, testWorker, StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET lease_expires_at = NOW\\(\\) \\+ make_interval").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.ExtendLease(context.Background(), testJobID, testWorker, 30*time.Second))
	assert.ErrorIs(t, s.ExtendLease(context.Background(), testJobID, testWorker, 30*time.Second), ErrLeaseLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJob_Helpers(t *testing.T) {
	assert.True(t, IsTerminal(StatusCompleted))
	assert.True(t, IsTerminal(StatusFailed))
	assert.True(t, IsTerminal(StatusCanceled))
	assert.False(t, IsTerminal(StatusPending))
	assert.False(t, IsTerminal(StatusProcessing))

	assert.True(t, IsBatchContentType(ContentQuiz))
	assert.True(t, IsBatchContentType(ContentPracticeTest))
	assert.False(t, IsBatchContentType("study_guide"))

	job := Job{BatchErrors: ""}
	errs, err := job.DecodeBatchErrors()
	require.NoError(t, err)
	assert.Empty(t, errs)

	job.BatchErrors = `[{"index":2,"kind":"unknown","message":"boom"}]`
	errs, err = job.DecodeBatchErrors()
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, 2, errs[0].Index)
}

func TestStorage_ReleaseLease(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec("SET lease_expires_at = NOW\\(\\) - INTERVAL '1 second'").
		WithArgs(testJobID, testWorker, StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.ReleaseLease(context.Background(), testJobID, testWorker))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ListExpiredLeases(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectQuery("WHERE status = \\$1 AND lease_expires_at < NOW\\(\\)").
		WithArgs(StatusProcessing, 50).
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}).AddRow("a").AddRow("b"))

	ids, err := s.ListExpiredLeases(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
