// Package orchestrator owns the job lifecycle: it creates jobs, launches
// scrapes on their own goroutine, and commits exactly one terminal outcome
// per launched job.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/boltflow/internal/jobs"
	"github.com/JakeFAU/boltflow/internal/metrics"
	"github.com/JakeFAU/boltflow/internal/progress"
)

var (
	// ErrNotPending is returned when Launch is called for a job that has
	// already left the pending state or is already running.
	ErrNotPending = errors.New("job is not pending")
	// ErrShuttingDown rejects launches once Shutdown has begun.
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)

// ErrTimeout is the failure message recorded when a scrape exceeds its budget.
const ErrTimeout = "timeout"

const (
	defaultTimeout        = 300 * time.Second
	defaultProgressBuffer = 64
	defaultMaxPages       = 50
)

// Config tunes job execution.
type Config struct {
	Timeout         time.Duration
	ProgressBuffer  int
	MaxPagesDefault int
}

// Validator rejects start requests before any record is written.
type Validator interface {
	Validate(rawURL, projectName string, maxPages int) error
}

// Deps groups the collaborators. Publisher and Validator are optional.
type Deps struct {
	Store     jobs.Store
	Scraper   jobs.Scraper
	Bridge    *progress.Bridge
	Publisher jobs.Publisher
	Validator Validator
	IDs       jobs.IDGenerator
	Clock     jobs.Clock
}

// Orchestrator drives jobs from pending to a terminal state.
type Orchestrator struct {
	store     jobs.Store
	scraper   jobs.Scraper
	bridge    *progress.Bridge
	publisher jobs.Publisher
	validator Validator
	ids       jobs.IDGenerator
	clock     jobs.Clock
	cfg       Config
	logger    *zap.Logger

	mu       sync.Mutex
	inFlight map[uuid.UUID]uuid.UUID // job id -> project id
	closing  bool
	wg       sync.WaitGroup
}

// New validates deps and applies config defaults.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if deps.Scraper == nil {
		return nil, errors.New("orchestrator: scraper is required")
	}
	if deps.Bridge == nil {
		return nil, errors.New("orchestrator: bridge is required")
	}
	if deps.IDs == nil {
		deps.IDs = jobs.UUIDv7{}
	}
	if deps.Clock == nil {
		deps.Clock = jobs.SystemClock{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ProgressBuffer <= 0 {
		cfg.ProgressBuffer = defaultProgressBuffer
	}
	if cfg.MaxPagesDefault <= 0 {
		cfg.MaxPagesDefault = defaultMaxPages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     deps.Store,
		scraper:   deps.Scraper,
		bridge:    deps.Bridge,
		publisher: deps.Publisher,
		validator: deps.Validator,
		ids:       deps.IDs,
		clock:     deps.Clock,
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
		inFlight:  make(map[uuid.UUID]uuid.UUID),
	}, nil
}

// CreateJob inserts a pending job with zero progress. Nothing runs yet.
func (o *Orchestrator) CreateJob(ctx context.Context, projectID uuid.UUID, typ jobs.Type) (jobs.Job, error) {
	id, err := o.ids.NewID()
	if err != nil {
		return jobs.Job{}, err
	}
	job := jobs.NewJob(id, projectID, typ, o.clock.Now())
	if err := o.store.CreateJob(ctx, job); err != nil {
		return jobs.Job{}, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Launch moves a pending job to running, announces it, and starts the scrape
// on its own goroutine. A job that is not pending is left untouched and
// ErrNotPending is returned.
func (o *Orchestrator) Launch(ctx context.Context, job jobs.Job, req jobs.ScrapeRequest) error {
	if job.Status != jobs.StatusPending {
		o.logger.Warn("launch rejected",
			zap.String("job_id", job.ID.String()),
			zap.String("status", string(job.Status)))
		return fmt.Errorf("launch %s: %w", job.ID, ErrNotPending)
	}
	if err := o.claim(job); err != nil {
		o.logger.Warn("launch rejected", zap.String("job_id", job.ID.String()), zap.Error(err))
		return err
	}

	// The HTTP request that triggered the launch ends long before the job does.
	runCtx := context.WithoutCancel(ctx)
	started := o.clock.Now()
	evt := progress.Event{
		Kind:      progress.KindStarted,
		JobID:     job.ID,
		ProjectID: job.ProjectID,
		URL:       req.URL,
		TS:        started,
	}
	if err := o.bridge.OnEvent(runCtx, evt); err != nil {
		o.release(job.ID)
		o.wg.Done()
		if errors.Is(err, jobs.ErrInvalidTransition) {
			o.logger.Warn("launch rejected", zap.String("job_id", job.ID.String()), zap.Error(err))
			return fmt.Errorf("launch %s: %w", job.ID, ErrNotPending)
		}
		return fmt.Errorf("launch %s: %w", job.ID, err)
	}

	req.JobID = job.ID
	metrics.IncJobsInFlight()
	go o.run(runCtx, job, req, started)
	o.logger.Info("job launched",
		zap.String("job_id", job.ID.String()),
		zap.String("project_id", job.ProjectID.String()),
		zap.String("url", req.URL))
	return nil
}

// GetStatus reads the persisted job every time.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID uuid.UUID) (jobs.Snapshot, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return jobs.Snapshot{}, err
	}
	return job.Snapshot(), nil
}

// StatusForUser returns the snapshot only when userID owns the job's
// project. Jobs owned by someone else are reported as jobs.ErrNotFound.
func (o *Orchestrator) StatusForUser(ctx context.Context, userID, jobID uuid.UUID) (jobs.Snapshot, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return jobs.Snapshot{}, err
	}
	if _, err := o.ownedProject(ctx, userID, job.ProjectID); err != nil {
		return jobs.Snapshot{}, fmt.Errorf("job %s: %w", jobID, jobs.ErrNotFound)
	}
	return job.Snapshot(), nil
}

// Shutdown refuses new launches and waits for in-flight jobs or ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown: %w", ctx.Err())
	}
}

// InFlight reports how many jobs are currently running.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inFlight)
}

// claim registers the job as in flight. The WaitGroup is incremented under
// the same lock Shutdown takes, so no launch slips past a pending Wait.
func (o *Orchestrator) claim(job jobs.Job) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closing {
		return ErrShuttingDown
	}
	if _, running := o.inFlight[job.ID]; running {
		return fmt.Errorf("launch %s: %w", job.ID, ErrNotPending)
	}
	o.inFlight[job.ID] = job.ProjectID
	o.wg.Add(1)
	return nil
}

func (o *Orchestrator) release(jobID uuid.UUID) {
	o.mu.Lock()
	delete(o.inFlight, jobID)
	o.mu.Unlock()
}

func (o *Orchestrator) projectBusy(projectID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range o.inFlight {
		if p == projectID {
			return true
		}
	}
	return false
}

func (o *Orchestrator) ownedProject(ctx context.Context, userID, projectID uuid.UUID) (jobs.Project, error) {
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return jobs.Project{}, err
	}
	if project.UserID != userID {
		return jobs.Project{}, fmt.Errorf("project %s: %w", projectID, jobs.ErrNotFound)
	}
	return project, nil
}

func encodeResult(res jobs.ScrapeResult) (json.RawMessage, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode scrape result: %w", err)
	}
	return raw, nil
}
