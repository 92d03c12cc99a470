package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boltflow/internal/jobs"
)

type validatorFunc func(rawURL, projectName string, maxPages int) error

func (f validatorFunc) Validate(rawURL, projectName string, maxPages int) error {
	return f(rawURL, projectName, maxPages)
}

func TestTerminalWriteRetriedOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, reportThen(nil, mo.Ok(jobs.ScrapeResult{Pages: 1})), Config{})
	f.store.terminalFails = 1
	job := f.pendingJob(t)

	require.NoError(t, f.orch.Launch(context.Background(), job, jobs.ScrapeRequest{URL: "https://example.com"}))
	f.wait(t)

	snap, err := f.orch.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, snap.Status)
	require.Equal(t, 1, f.logs.FilterMessage("terminal write failed; retrying").Len())
	require.Zero(t, f.logs.FilterMessage("terminal state not persisted").Len())
}

func TestTerminalWriteFailureStillBroadcastsAndAlerts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, reportThen(nil, mo.Ok(jobs.ScrapeResult{Pages: 1})), Config{})
	f.store.terminalFails = -1
	job := f.pendingJob(t)

	require.NoError(t, f.orch.Launch(context.Background(), job, jobs.ScrapeRequest{URL: "https://example.com"}))
	f.wait(t)

	require.Equal(t, []string{"scrape:started", "scrape:completed"}, f.notifier.tags())

	snap, err := f.orch.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusRunning, snap.Status, "row is stale")

	alerts := f.logs.FilterMessage("terminal state not persisted").All()
	require.Len(t, alerts, 1)
	require.Equal(t, "stale_job_state", alerts[0].ContextMap()["alert"])
}

func TestStartScrapeCreatesProjectAndJob(t *testing.T) {
	t.Parallel()

	var got jobs.ScrapeRequest
	engine := scraperFunc(func(_ context.Context, req jobs.ScrapeRequest, sink jobs.ProgressSink) mo.Result[jobs.ScrapeResult] {
		got = req
		sink.Report(jobs.ScrapeProgress{PagesScraped: 1, TotalPages: 2, CurrentURL: req.URL})
		return mo.Ok(jobs.ScrapeResult{
			URL:        req.URL,
			Pages:      1,
			StatusCode: 200,
			Links:      []string{"https://example.com/a", "https://example.com/b"},
			HTML:       []byte("<html></html>"),
		})
	})
	f := newFixture(t, engine, Config{MaxPagesDefault: 7})
	ctx := context.Background()

	res, err := f.orch.StartScrape(ctx, f.userID, StartRequest{
		URL:           "https://example.com",
		ProjectName:   "Example",
		IncludeAssets: true,
	})
	require.NoError(t, err)
	require.Equal(t, "started", res.Status)
	require.NotEqual(t, uuid.Nil, res.JobID)
	f.wait(t)

	require.Equal(t, res.JobID, got.JobID)
	require.Equal(t, 7, got.MaxPages)
	require.True(t, got.IncludeAssets)

	project, err := f.store.GetProject(ctx, res.ProjectID)
	require.NoError(t, err)
	require.Equal(t, f.userID, project.UserID)
	require.Equal(t, "Example", project.Name)
	require.Equal(t, 7, project.MaxPages)
	require.Equal(t, jobs.ProjectCompleted, project.Status)

	snap, err := f.orch.StatusForUser(ctx, f.userID, res.JobID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, snap.Status)
	require.Equal(t, 1, snap.PagesScraped)
	require.Equal(t, 2, snap.TotalPages)

	var result map[string]any
	require.NoError(t, json.Unmarshal(snap.Result, &result))
	require.Equal(t, []any{}, result["assets"])
	require.NotContains(t, result, "html")

	pages, err := f.store.ListPages(ctx, res.JobID)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Equal(t, "<html></html>", pages[0].HTML)
	require.Equal(t, 200, pages[0].Metadata["status_code"])

	require.Equal(t, []string{"scrape:started", "scrape:progress(50)", "scrape:completed"}, f.notifier.tags())

	published := f.published(t)
	require.Len(t, published, 1)
	require.Equal(t, res.JobID.String(), published[0]["job_id"])
	require.Equal(t, "completed", published[0]["status"])
}

func TestStartScrapeOmitsAssetsUnlessRequested(t *testing.T) {
	t.Parallel()

	f := newFixture(t, reportThen(nil, mo.Ok(jobs.ScrapeResult{Pages: 1})), Config{})
	res, err := f.orch.StartScrape(context.Background(), f.userID, StartRequest{URL: "https://example.com", ProjectName: "p"})
	require.NoError(t, err)
	f.wait(t)

	snap, err := f.orch.GetStatus(context.Background(), res.JobID)
	require.NoError(t, err)
	require.JSONEq(t, `{"pages":1}`, string(snap.Result))
}

func TestStartScrapeValidationCreatesNothing(t *testing.T) {
	t.Parallel()

	called := false
	engine := scraperFunc(func(context.Context, jobs.ScrapeRequest, jobs.ProgressSink) mo.Result[jobs.ScrapeResult] {
		called = true
		return mo.Ok(jobs.ScrapeResult{})
	})
	f := newFixture(t, engine, Config{})
	invalid := errors.New("url scheme must be http or https")
	f.orch.validator = validatorFunc(func(rawURL, _ string, _ int) error {
		if rawURL == "ftp://example.com" {
			return invalid
		}
		return nil
	})

	_, err := f.orch.StartScrape(context.Background(), f.userID, StartRequest{URL: "ftp://example.com", ProjectName: "p"})
	require.ErrorIs(t, err, invalid)
	f.wait(t)
	require.False(t, called)
	require.Empty(t, f.notifier.messages())
}

func TestStartScrapeLaunchFailureRemovesRecords(t *testing.T) {
	t.Parallel()

	f := newFixture(t, reportThen(nil, mo.Ok(jobs.ScrapeResult{Pages: 1})), Config{})
	f.wait(t)

	_, err := f.orch.StartScrape(context.Background(), f.userID, StartRequest{URL: "https://example.com", ProjectName: "p"})
	require.ErrorIs(t, err, ErrShuttingDown)

	ids := f.store.jobIDs()
	require.Len(t, ids, 1, "job row was created before the launch")
	_, err = f.store.GetJob(context.Background(), ids[0])
	require.ErrorIs(t, err, jobs.ErrNotFound)
	require.Empty(t, f.notifier.messages())
}

func TestStatusForUserHidesOtherUsersJobs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, reportThen(nil, mo.Ok(jobs.ScrapeResult{Pages: 1})), Config{})
	job := f.pendingJob(t)
	ctx := context.Background()

	_, err := f.orch.StatusForUser(ctx, uuid.New(), job.ID)
	require.ErrorIs(t, err, jobs.ErrNotFound)

	_, err = f.orch.StatusForUser(ctx, f.userID, uuid.New())
	require.ErrorIs(t, err, jobs.ErrNotFound)

	snap, err := f.orch.StatusForUser(ctx, f.userID, job.ID)
	require.NoError(t, err)
	require.Equal(t, job.ID, snap.JobID)
}

func TestDeleteProject(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	engine := scraperFunc(func(context.Context, jobs.ScrapeRequest, jobs.ProgressSink) mo.Result[jobs.ScrapeResult] {
		<-block
		return mo.Ok(jobs.ScrapeResult{Pages: 1})
	})
	f := newFixture(t, engine, Config{})
	ctx := context.Background()
	job := f.pendingJob(t)
	require.NoError(t, f.orch.Launch(ctx, job, jobs.ScrapeRequest{URL: "https://example.com"}))

	require.ErrorIs(t, f.orch.DeleteProject(ctx, uuid.New(), job.ProjectID), jobs.ErrNotFound)
	require.ErrorIs(t, f.orch.DeleteProject(ctx, f.userID, job.ProjectID), jobs.ErrConflict)

	close(block)
	require.Eventually(t, func() bool { return f.orch.InFlight() == 0 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.orch.DeleteProject(ctx, f.userID, job.ProjectID))
	_, err := f.store.GetProject(ctx, job.ProjectID)
	require.ErrorIs(t, err, jobs.ErrNotFound)
	_, err = f.store.GetJob(ctx, job.ID)
	require.ErrorIs(t, err, jobs.ErrNotFound)
	f.wait(t)
}
