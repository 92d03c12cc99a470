package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boltflow/internal/jobs"
)

func seedJob(t *testing.T, store *Store) jobs.Job {
	t.Helper()
	ctx := context.Background()
	project := jobs.Project{ID: uuid.New(), UserID: uuid.New(), Name: "site", URL: "https://example.com"}
	require.NoError(t, store.CreateProject(ctx, project))
	job := jobs.NewJob(uuid.New(), project.ID, jobs.TypeScrape, time.Now().UTC())
	require.NoError(t, store.CreateJob(ctx, job))
	return job
}

func TestStoreJobLifecycle(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	job := seedJob(t, store)

	require.ErrorIs(t, store.CreateJob(ctx, job), jobs.ErrConflict)

	_, err := store.UpdateJob(ctx, job.ID, func(j *jobs.Job) error { return j.Start() })
	require.NoError(t, err)
	_, err = store.UpdateJob(ctx, job.ID, func(j *jobs.Job) error { return j.Advance(40, 1, 3) })
	require.NoError(t, err)

	require.NoError(t, store.RecordPage(ctx, jobs.Page{ID: uuid.New(), JobID: job.ID, URL: "https://example.com"}))
	pages, err := store.ListPages(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	pages[0].URL = "modified"
	again, err := store.ListPages(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, "https://example.com", again[0].URL)

	final, err := store.UpdateJob(ctx, job.ID, func(j *jobs.Job) error {
		return j.Complete(json.RawMessage(`{"pages":1}`), time.Now().UTC())
	})
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, final.Status)
	require.Equal(t, 100, final.Progress)
	require.NotNil(t, final.CompletedAt)

	_, err = store.UpdateJob(ctx, job.ID, func(j *jobs.Job) error { return j.Advance(10, 0, 0) })
	require.ErrorIs(t, err, jobs.ErrInvalidTransition)
}

func TestStoreUpdateJobRejectsIllegalMutation(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	job := seedJob(t, store)

	_, err := store.UpdateJob(ctx, job.ID, func(j *jobs.Job) error {
		j.Status = jobs.StatusCompleted
		return nil
	})
	require.ErrorIs(t, err, jobs.ErrInvalidTransition)

	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusPending, stored.Status)
}

func TestStoreConcurrentProgressNeverRegresses(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	job := seedJob(t, store)
	_, err := store.UpdateJob(ctx, job.ID, func(j *jobs.Job) error { return j.Start() })
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			_, _ = store.UpdateJob(ctx, job.ID, func(j *jobs.Job) error { return j.Advance(p, 0, 0) })
		}(i)
	}
	wg.Wait()

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 50, got.Progress)
}

func TestStoreDeleteProjectCascades(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	job := seedJob(t, store)
	require.NoError(t, store.RecordPage(ctx, jobs.Page{ID: uuid.New(), JobID: job.ID}))

	require.NoError(t, store.DeleteProject(ctx, job.ProjectID))
	_, err := store.GetJob(ctx, job.ID)
	require.ErrorIs(t, err, jobs.ErrNotFound)
	pages, err := store.ListPages(ctx, job.ID)
	require.NoError(t, err)
	require.Empty(t, pages)
	require.ErrorIs(t, store.DeleteProject(ctx, job.ProjectID), jobs.ErrNotFound)
}

func TestStoreUsersUniqueEmail(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	user := jobs.User{ID: uuid.New(), Email: "a@example.com"}
	require.NoError(t, store.CreateUser(ctx, user))
	require.ErrorIs(t, store.CreateUser(ctx, jobs.User{ID: uuid.New(), Email: "A@example.com"}), jobs.ErrConflict)

	got, err := store.GetUserByEmail(ctx, "A@EXAMPLE.COM")
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)

	_, err = store.GetUser(ctx, uuid.New())
	require.ErrorIs(t, err, jobs.ErrNotFound)
}
