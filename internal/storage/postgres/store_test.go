package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boltflow/internal/jobs"
)

var jobColumnNames = []string{
	"id", "project_id", "type", "status", "progress", "pages_scraped", "total_pages",
	"result", "error", "created_at", "completed_at",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewStore(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewStoreRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewStore(nil)
	require.Error(t, err)
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	job := jobs.NewJob(uuid.New(), uuid.New(), jobs.TypeScrape, now)

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(job.ID, job.ProjectID, "scrape", "pending", 0, 0, 0, nil, (*string)(nil), now, (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserMapsUniqueViolation(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO users").
		WithArgs(pgxmock.AnyArg(), "a@example.com", "hash", "", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := store.CreateUser(context.Background(), jobs.User{ID: uuid.New(), Email: "a@example.com", PasswordHash: "hash"})
	require.ErrorIs(t, err, jobs.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(jobColumnNames))

	_, err := store.GetJob(context.Background(), id)
	require.ErrorIs(t, err, jobs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobAppliesMutationInTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id, projectID := uuid.New(), uuid.New()
	created := time.Unix(1700000000, 0).UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(jobColumnNames).
			AddRow(id, projectID, "scrape", "running", 20, 0, 0, nil, nil, created, nil))
	mock.ExpectExec("UPDATE jobs SET").
		WithArgs("running", 40, 1, 3, nil, (*string)(nil), (*time.Time)(nil), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	got, err := store.UpdateJob(context.Background(), id, func(j *jobs.Job) error {
		return j.Advance(40, 1, 3)
	})
	require.NoError(t, err)
	require.Equal(t, 40, got.Progress)
	require.Equal(t, jobs.StatusRunning, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobRollsBackOnInvalidTransition(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := uuid.New()
	completedAt := time.Unix(1700000100, 0).UTC()
	result := []byte(`{"pages":1}`)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(jobColumnNames).
			AddRow(id, uuid.New(), "scrape", "completed", 100, 1, 1, result, nil, completedAt, &completedAt))
	mock.ExpectRollback()

	_, err := store.UpdateJob(context.Background(), id, func(j *jobs.Job) error {
		return j.Fail("late", time.Now())
	})
	require.ErrorIs(t, err, jobs.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobRollsBackOnWriteError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(jobColumnNames).
			AddRow(id, uuid.New(), "scrape", "pending", 0, 0, 0, nil, nil, time.Now(), nil))
	mock.ExpectExec("UPDATE jobs SET").
		WithArgs("running", 0, 0, 0, nil, (*string)(nil), (*time.Time)(nil), id).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.UpdateJob(context.Background(), id, func(j *jobs.Job) error { return j.Start() })
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProjectRunsInOneTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	projectID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM scraped_pages").WithArgs(projectID).WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("DELETE FROM jobs").WithArgs(projectID).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM projects").WithArgs(projectID).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.DeleteProject(context.Background(), projectID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProjectMissingRollsBack(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	projectID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM scraped_pages").WithArgs(projectID).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM jobs").WithArgs(projectID).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM projects").WithArgs(projectID).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	require.ErrorIs(t, store.DeleteProject(context.Background(), projectID), jobs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordAndListPages(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	jobID := uuid.New()
	page := jobs.Page{
		ID:        uuid.New(),
		JobID:     jobID,
		URL:       "https://example.com",
		HTML:      "<html></html>",
		Metadata:  map[string]any{"status_code": 200},
		ScrapedAt: time.Unix(1700000000, 0).UTC(),
	}

	mock.ExpectExec("INSERT INTO scraped_pages").
		WithArgs(page.ID, jobID, page.URL, page.HTML, (*string)(nil), []byte(`{"status_code":200}`), page.ScrapedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.RecordPage(context.Background(), page))

	shot := "gs://bucket/shot.png"
	mock.ExpectQuery("FROM scraped_pages WHERE job_id").
		WithArgs(jobID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "job_id", "url", "html", "screenshot", "metadata", "scraped_at"}).
			AddRow(page.ID, jobID, page.URL, page.HTML, &shot, []byte(`{"status_code":200}`), page.ScrapedAt))

	pages, err := store.ListPages(context.Background(), jobID)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Equal(t, shot, pages[0].Screenshot)
	require.InDelta(t, 200, pages[0].Metadata["status_code"], 0)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProjectStatusMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectExec("UPDATE projects SET status").
		WithArgs("completed", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.ErrorIs(t, store.UpdateProjectStatus(context.Background(), id, jobs.ProjectCompleted), jobs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanJobDecodesOutcome(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := uuid.New()
	failedAt := time.Unix(1700000200, 0).UTC()
	msg := "timeout"
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(jobColumnNames).
			AddRow(id, uuid.New(), "scrape", "failed", 35, 0, 0, nil, &msg, failedAt, &failedAt))

	job, err := store.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, job.Status)
	require.Equal(t, "timeout", job.Error)
	require.Nil(t, job.Result)
	require.Equal(t, failedAt, *job.CompletedAt)
}
