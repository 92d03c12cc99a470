package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/boltflow/internal/jobs"
)

// StartRequest is the caller-supplied scrape order.
type StartRequest struct {
	URL           string
	ProjectName   string
	MaxPages      int
	IncludeAssets bool
	Screenshot    bool
}

// StartResult identifies the records created for a started scrape.
type StartResult struct {
	JobID     uuid.UUID `json:"job_id"`
	ProjectID uuid.UUID `json:"project_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
}

// StartScrape validates req, creates the project and job for userID, and
// launches the scrape. A request that is rejected or cannot be launched
// leaves no records behind.
func (o *Orchestrator) StartScrape(ctx context.Context, userID uuid.UUID, req StartRequest) (StartResult, error) {
	if req.MaxPages <= 0 {
		req.MaxPages = o.cfg.MaxPagesDefault
	}
	if o.validator != nil {
		if err := o.validator.Validate(req.URL, req.ProjectName, req.MaxPages); err != nil {
			return StartResult{}, err
		}
	}

	projectID, err := o.ids.NewID()
	if err != nil {
		return StartResult{}, err
	}
	now := o.clock.Now()
	project := jobs.Project{
		ID:        projectID,
		UserID:    userID,
		Name:      req.ProjectName,
		URL:       req.URL,
		Status:    jobs.ProjectScraping,
		MaxPages:  req.MaxPages,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateProject(ctx, project); err != nil {
		return StartResult{}, fmt.Errorf("create project: %w", err)
	}

	job, err := o.CreateJob(ctx, projectID, jobs.TypeScrape)
	if err != nil {
		o.discardProject(ctx, projectID)
		return StartResult{}, err
	}
	err = o.Launch(ctx, job, jobs.ScrapeRequest{
		URL:           req.URL,
		MaxPages:      req.MaxPages,
		IncludeAssets: req.IncludeAssets,
		Screenshot:    req.Screenshot,
	})
	if err != nil {
		o.discardProject(ctx, projectID)
		return StartResult{}, err
	}
	return StartResult{
		JobID:     job.ID,
		ProjectID: projectID,
		Status:    "started",
		Message:   "Scraping started for " + req.URL,
	}, nil
}

// DeleteProject removes a project owned by userID with its jobs and pages.
// Projects with a running job are refused with jobs.ErrConflict.
func (o *Orchestrator) DeleteProject(ctx context.Context, userID, projectID uuid.UUID) error {
	if _, err := o.ownedProject(ctx, userID, projectID); err != nil {
		return err
	}
	if o.projectBusy(projectID) {
		return fmt.Errorf("project %s has a running job: %w", projectID, jobs.ErrConflict)
	}
	if err := o.store.DeleteProject(ctx, projectID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	o.logger.Info("project deleted", zap.String("project_id", projectID.String()))
	return nil
}

// discardProject removes a project whose job never started. If the delete
// fails the project is marked failed instead.
func (o *Orchestrator) discardProject(ctx context.Context, projectID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	if err := o.store.DeleteProject(ctx, projectID); err != nil {
		o.logger.Warn("discard unlaunched project failed",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
		o.markProjectFailed(ctx, projectID)
	}
}

func (o *Orchestrator) markProjectFailed(ctx context.Context, projectID uuid.UUID) {
	if err := o.store.UpdateProjectStatus(ctx, projectID, jobs.ProjectFailed); err != nil {
		o.logger.Warn("project status update failed",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
	}
}
