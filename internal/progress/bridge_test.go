package progress

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boltflow/internal/jobs"
	"github.com/JakeFAU/boltflow/internal/notify"
	"github.com/JakeFAU/boltflow/internal/storage/memory"
)

// timeline records store commits and broadcasts in one ordered log.
type timeline struct {
	mu      sync.Mutex
	entries []string
}

func (tl *timeline) add(entry string) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.entries = append(tl.entries, entry)
}

func (tl *timeline) list() []string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return append([]string(nil), tl.entries...)
}

type observedStore struct {
	*memory.Store
	tl      *timeline
	failFor func(jobs.Job) bool
}

func (s *observedStore) UpdateJob(ctx context.Context, id uuid.UUID, mutate jobs.Mutator) (jobs.Job, error) {
	job, err := s.Store.UpdateJob(ctx, id, func(j *jobs.Job) error {
		if err := mutate(j); err != nil {
			return err
		}
		if s.failFor != nil && s.failFor(*j) {
			return errors.New("database unavailable")
		}
		return nil
	})
	if err == nil {
		s.tl.add("persist:" + string(job.Status))
	}
	return job, err
}

type observedNotifier struct {
	tl   *timeline
	mu   sync.Mutex
	msgs []notify.Message
}

func (n *observedNotifier) Broadcast(_ context.Context, msg notify.Message) {
	n.mu.Lock()
	n.msgs = append(n.msgs, msg)
	n.mu.Unlock()
	n.tl.add("broadcast:" + string(msg.Type))
}

func (n *observedNotifier) messages() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.msgs...)
}

type bridgeFixture struct {
	bridge   *Bridge
	store    *observedStore
	notifier *observedNotifier
	tl       *timeline
	job      jobs.Job
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	tl := &timeline{}
	store := &observedStore{Store: memory.NewStore(), tl: tl}
	ctx := context.Background()
	project := jobs.Project{ID: uuid.New(), UserID: uuid.New()}
	require.NoError(t, store.CreateProject(ctx, project))
	job := jobs.NewJob(uuid.New(), project.ID, jobs.TypeScrape, time.Now())
	require.NoError(t, store.CreateJob(ctx, job))
	notifier := &observedNotifier{tl: tl}
	return &bridgeFixture{
		bridge:   NewBridge(store, notifier, nil, nil, nil),
		store:    store,
		notifier: notifier,
		tl:       tl,
		job:      job,
	}
}

func (f *bridgeFixture) event(kind Kind) Event {
	return Event{Kind: kind, JobID: f.job.ID, ProjectID: f.job.ProjectID, TS: time.Now()}
}

func TestBridgePersistsBeforeBroadcast(t *testing.T) {
	t.Parallel()

	f := newBridgeFixture(t)
	ctx := context.Background()

	require.NoError(t, f.bridge.OnEvent(ctx, f.event(KindStarted)))
	prog := f.event(KindProgress)
	prog.Progress = jobs.ScrapeProgress{Percent: 40}
	require.NoError(t, f.bridge.OnEvent(ctx, prog))
	done := f.event(KindCompleted)
	done.Result = json.RawMessage(`{"pages":1}`)
	require.NoError(t, f.bridge.OnEvent(ctx, done))

	require.Equal(t, []string{
		"persist:running", "broadcast:scrape:started",
		"persist:running", "broadcast:scrape:progress",
		"persist:completed", "broadcast:scrape:completed",
	}, f.tl.list())

	job, err := f.store.GetJob(ctx, f.job.ID)
	require.NoError(t, err)
	require.Equal(t, 100, job.Progress)
	require.JSONEq(t, `{"pages":1}`, string(job.Result))
}

func TestBridgeProgressFailureStillBroadcasts(t *testing.T) {
	t.Parallel()

	f := newBridgeFixture(t)
	ctx := context.Background()
	require.NoError(t, f.bridge.OnEvent(ctx, f.event(KindStarted)))

	f.store.failFor = func(j jobs.Job) bool { return j.Status == jobs.StatusRunning && j.Progress > 0 }
	prog := f.event(KindProgress)
	prog.Progress = jobs.ScrapeProgress{Percent: 30}
	require.NoError(t, f.bridge.OnEvent(ctx, prog))

	msgs := f.notifier.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, notify.TypeProgress, msgs[1].Type)
	require.Equal(t, 30, msgs[1].Progress.Percent)

	job, err := f.store.GetJob(ctx, f.job.ID)
	require.NoError(t, err)
	require.Zero(t, job.Progress)
}

func TestBridgeBroadcastsCommittedProgress(t *testing.T) {
	t.Parallel()

	f := newBridgeFixture(t)
	ctx := context.Background()
	require.NoError(t, f.bridge.OnEvent(ctx, f.event(KindStarted)))

	for _, pct := range []int{60, 20} {
		prog := f.event(KindProgress)
		prog.Progress = jobs.ScrapeProgress{Percent: pct}
		require.NoError(t, f.bridge.OnEvent(ctx, prog))
	}
	msgs := f.notifier.messages()
	require.Equal(t, 60, msgs[1].Progress.Percent)
	require.Equal(t, 60, msgs[2].Progress.Percent, "regressing report is raised to the stored value")
}

func TestBridgeTerminalFailureIsReturnedWithoutBroadcast(t *testing.T) {
	t.Parallel()

	f := newBridgeFixture(t)
	ctx := context.Background()
	require.NoError(t, f.bridge.OnEvent(ctx, f.event(KindStarted)))

	f.store.failFor = func(j jobs.Job) bool { return j.Status.Terminal() }
	failed := f.event(KindError)
	failed.Error = "boom"
	require.Error(t, f.bridge.OnEvent(ctx, failed))
	require.Len(t, f.notifier.messages(), 1)

	f.bridge.Announce(ctx, failed)
	require.Len(t, f.notifier.messages(), 2)
}

func TestBridgeStartRequiresPending(t *testing.T) {
	t.Parallel()

	f := newBridgeFixture(t)
	ctx := context.Background()
	require.NoError(t, f.bridge.OnEvent(ctx, f.event(KindStarted)))
	err := f.bridge.OnEvent(ctx, f.event(KindStarted))
	require.ErrorIs(t, err, jobs.ErrInvalidTransition)
}

func TestBridgeRejectsInvalidEvent(t *testing.T) {
	t.Parallel()

	f := newBridgeFixture(t)
	require.Error(t, f.bridge.OnEvent(context.Background(), Event{Kind: KindStarted}))
	require.Empty(t, f.notifier.messages())
}
