package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/samber/mo"
	"go.uber.org/zap"

	"github.com/JakeFAU/boltflow/internal/jobs"
	"github.com/JakeFAU/boltflow/internal/metrics"
	"github.com/JakeFAU/boltflow/internal/progress"
)

// run executes one launched job to its single terminal outcome.
func (o *Orchestrator) run(ctx context.Context, job jobs.Job, req jobs.ScrapeRequest, started time.Time) {
	finalized := false
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("job goroutine panicked",
				zap.String("job_id", job.ID.String()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			if !finalized {
				o.finalize(ctx, o.failure(job, req, started, fmt.Sprintf("internal error: %v", r)))
			}
		}
		o.release(job.ID)
		metrics.DecJobsInFlight()
		o.wg.Done()
	}()

	queue := progress.NewQueue(o.cfg.ProgressBuffer)
	drained := make(chan error, 1)
	go o.consume(ctx, queue, drained)

	sink := jobs.SinkFunc(func(p jobs.ScrapeProgress) {
		queue.Push(progress.Event{
			Kind:      progress.KindProgress,
			JobID:     job.ID,
			ProjectID: job.ProjectID,
			URL:       req.URL,
			Progress:  p,
			TS:        o.clock.Now(),
		})
	})

	res, err := o.invoke(ctx, req, sink)

	queue.Close()
	if consumeErr := <-drained; consumeErr != nil && err == nil {
		err = consumeErr
	}
	if dropped := queue.Dropped(); dropped > 0 {
		metrics.AddProgressDropped(int(dropped))
		o.logger.Debug("progress events superseded",
			zap.String("job_id", job.ID.String()),
			zap.Int64("dropped", dropped))
	}

	var evt progress.Event
	if err == nil {
		evt, err = o.success(ctx, job, req, started, res)
	}
	if err != nil {
		evt = o.failure(job, req, started, err.Error())
	}
	finalized = true
	o.finalize(ctx, evt)
}

// invoke runs the engine under the job timeout. The engine runs on its own
// goroutine so a timeout or a panic still yields an outcome.
func (o *Orchestrator) invoke(ctx context.Context, req jobs.ScrapeRequest, sink jobs.ProgressSink) (jobs.ScrapeResult, error) {
	scrapeCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	out := make(chan mo.Result[jobs.ScrapeResult], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("scraper panicked",
					zap.String("job_id", req.JobID.String()),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
				out <- mo.Err[jobs.ScrapeResult](fmt.Errorf("scraper panic: %v", r))
			}
		}()
		out <- o.scraper.Scrape(scrapeCtx, req, sink)
	}()

	select {
	case res := <-out:
		if errors.Is(scrapeCtx.Err(), context.DeadlineExceeded) {
			return jobs.ScrapeResult{}, errors.New(ErrTimeout)
		}
		return res.Get()
	case <-scrapeCtx.Done():
		return jobs.ScrapeResult{}, errors.New(ErrTimeout)
	}
}

// consume applies queued progress events to the bridge in order. A panic
// stops consumption and is reported on drained so the job fails.
func (o *Orchestrator) consume(ctx context.Context, queue *progress.Queue, drained chan<- error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("progress consumer panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			drained <- fmt.Errorf("internal error: %v", r)
		}
		close(drained)
	}()
	for evt := range queue.Events() {
		if err := o.bridge.OnEvent(ctx, evt); err != nil {
			o.logger.Warn("progress event rejected",
				zap.String("job_id", evt.JobID.String()),
				zap.Error(err))
		}
	}
}

func (o *Orchestrator) success(
	ctx context.Context,
	job jobs.Job,
	req jobs.ScrapeRequest,
	started time.Time,
	res jobs.ScrapeResult,
) (progress.Event, error) {
	if req.IncludeAssets && res.Assets == nil {
		res.Assets = &[]string{}
	}
	if err := o.recordPage(ctx, job, req, res); err != nil {
		return progress.Event{}, err
	}
	raw, err := encodeResult(res)
	if err != nil {
		return progress.Event{}, err
	}
	now := o.clock.Now()
	return progress.Event{
		Kind:      progress.KindCompleted,
		JobID:     job.ID,
		ProjectID: job.ProjectID,
		URL:       req.URL,
		Result:    raw,
		TS:        now,
		Elapsed:   now.Sub(started),
	}, nil
}

func (o *Orchestrator) failure(job jobs.Job, req jobs.ScrapeRequest, started time.Time, message string) progress.Event {
	now := o.clock.Now()
	return progress.Event{
		Kind:      progress.KindError,
		JobID:     job.ID,
		ProjectID: job.ProjectID,
		URL:       req.URL,
		Error:     message,
		TS:        now,
		Elapsed:   now.Sub(started),
	}
}

func (o *Orchestrator) recordPage(ctx context.Context, job jobs.Job, req jobs.ScrapeRequest, res jobs.ScrapeResult) error {
	id, err := o.ids.NewID()
	if err != nil {
		return err
	}
	url := res.URL
	if url == "" {
		url = req.URL
	}
	metadata := map[string]any{
		"links":       res.Links,
		"status_code": res.StatusCode,
	}
	if res.HTMLURI != "" {
		metadata["html_uri"] = res.HTMLURI
	}
	page := jobs.Page{
		ID:         id,
		JobID:      job.ID,
		URL:        url,
		HTML:       pageText(res.HTML),
		Screenshot: res.Screenshot,
		Metadata:   metadata,
		ScrapedAt:  o.clock.Now(),
	}
	if err := o.store.RecordPage(ctx, page); err != nil {
		return fmt.Errorf("record page: %w", err)
	}
	return nil
}

// pageText makes raw page bytes storable as text: invalid UTF-8 sequences
// become U+FFFD and NUL bytes are removed.
func pageText(raw []byte) string {
	return strings.ReplaceAll(strings.ToValidUTF8(string(raw), "\uFFFD"), "\x00", "")
}

// finalize commits the terminal event, retrying once. The outcome is
// broadcast even when both writes fail; the stale row is alerted on.
func (o *Orchestrator) finalize(ctx context.Context, evt progress.Event) {
	logger := o.logger.With(
		zap.String("job_id", evt.JobID.String()),
		zap.String("kind", string(evt.Kind)))

	err := o.bridge.Commit(ctx, evt)
	if err != nil {
		logger.Warn("terminal write failed; retrying", zap.Error(err))
		err = o.bridge.Commit(ctx, evt)
	}
	if err != nil {
		metrics.IncStaleTerminalWrite()
		logger.Error("terminal state not persisted",
			zap.String("alert", "stale_job_state"),
			zap.Error(err))
	}
	o.bridge.Announce(ctx, evt)

	status := jobs.ProjectCompleted
	if evt.Kind == progress.KindError {
		status = jobs.ProjectFailed
	}
	if err := o.store.UpdateProjectStatus(ctx, evt.ProjectID, status); err != nil {
		logger.Warn("project status update failed", zap.Error(err))
	}
	o.publish(ctx, evt)

	logger.Info("job finished",
		zap.Duration("elapsed", evt.Elapsed),
		zap.String("error", evt.Error))
}

func (o *Orchestrator) publish(ctx context.Context, evt progress.Event) {
	if o.publisher == nil {
		return
	}
	status := jobs.StatusCompleted
	if evt.Kind == progress.KindError {
		status = jobs.StatusFailed
	}
	payload := map[string]any{
		"job_id":       evt.JobID.String(),
		"project_id":   evt.ProjectID.String(),
		"url":          evt.URL,
		"status":       string(status),
		"completed_at": evt.TS.Format(time.RFC3339),
		"elapsed_ms":   evt.Elapsed.Milliseconds(),
	}
	if len(evt.Result) > 0 {
		payload["result"] = evt.Result
	}
	if evt.Error != "" {
		payload["error"] = evt.Error
	}
	msgID, err := o.publisher.Publish(ctx, payload)
	if err != nil {
		o.logger.Warn("completion publish failed",
			zap.String("job_id", evt.JobID.String()),
			zap.Error(err))
		return
	}
	o.logger.Debug("completion published",
		zap.String("job_id", evt.JobID.String()),
		zap.String("message_id", msgID))
}
