package progress

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/boltflow/internal/jobs"
	"github.com/JakeFAU/boltflow/internal/metrics"
	"github.com/JakeFAU/boltflow/internal/notify"
)

// Bridge turns events into a persisted job update followed by a broadcast.
type Bridge struct {
	store    jobs.Store
	notifier notify.Notifier
	recorder Emitter
	clock    jobs.Clock
	logger   *zap.Logger
}

// NewBridge wires the collaborators. recorder and logger may be nil.
func NewBridge(store jobs.Store, notifier notify.Notifier, recorder Emitter, clock jobs.Clock, logger *zap.Logger) *Bridge {
	if recorder == nil {
		recorder = nopEmitter{}
	}
	if clock == nil {
		clock = jobs.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		store:    store,
		notifier: notifier,
		recorder: recorder,
		clock:    clock,
		logger:   logger.Named("bridge"),
	}
}

// OnEvent persists evt and then broadcasts it. A progress write failure is
// logged and the broadcast still happens. Lifecycle events are only
// broadcast once committed; their persistence error is returned.
func (b *Bridge) OnEvent(ctx context.Context, evt Event) error {
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("invalid progress event: %w", err)
	}
	if evt.Kind == KindProgress {
		b.commitProgress(ctx, &evt)
		b.Announce(ctx, evt)
		return nil
	}
	if err := b.Commit(ctx, evt); err != nil {
		return err
	}
	b.Announce(ctx, evt)
	return nil
}

// Commit applies the status transition carried by a lifecycle event.
func (b *Bridge) Commit(ctx context.Context, evt Event) error {
	var mutate jobs.Mutator
	switch evt.Kind {
	case KindStarted:
		mutate = func(j *jobs.Job) error { return j.Start() }
	case KindCompleted:
		at := b.clock.Now()
		mutate = func(j *jobs.Job) error { return j.Complete(evt.Result, at) }
	case KindError:
		at := b.clock.Now()
		mutate = func(j *jobs.Job) error { return j.Fail(evt.Error, at) }
	default:
		return fmt.Errorf("commit %s event: not a lifecycle event", evt.Kind)
	}
	if _, err := b.store.UpdateJob(ctx, evt.JobID, mutate); err != nil {
		return fmt.Errorf("commit %s for job %s: %w", evt.Kind, evt.JobID, err)
	}
	return nil
}

// Announce broadcasts evt and hands it to the recorder without persisting.
func (b *Bridge) Announce(ctx context.Context, evt Event) {
	b.notifier.Broadcast(ctx, evt.Message())
	b.recorder.Emit(evt)
}

func (b *Bridge) commitProgress(ctx context.Context, evt *Event) {
	p := evt.Progress
	job, err := b.store.UpdateJob(ctx, evt.JobID, func(j *jobs.Job) error {
		return j.Advance(evt.Percent(), p.PagesScraped, p.TotalPages)
	})
	if err != nil {
		metrics.IncProgressWriteFailure()
		b.logger.Warn("progress write failed",
			zap.String("job_id", evt.JobID.String()),
			zap.Int("percent", evt.Percent()),
			zap.Error(err))
		return
	}
	// Broadcast the committed value so observers never see progress regress.
	evt.Progress.Percent = job.Progress
}
