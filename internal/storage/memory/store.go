// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/boltflow/internal/jobs"
)

// Store implements jobs.Store and jobs.UserStore behind a single RWMutex.
type Store struct {
	mu       sync.RWMutex
	projects map[uuid.UUID]jobs.Project
	jobs     map[uuid.UUID]jobs.Job
	pages    map[uuid.UUID][]jobs.Page
	users    map[uuid.UUID]jobs.User
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		projects: make(map[uuid.UUID]jobs.Project),
		jobs:     make(map[uuid.UUID]jobs.Job),
		pages:    make(map[uuid.UUID][]jobs.Page),
		users:    make(map[uuid.UUID]jobs.User),
	}
}

// CreateProject stores a new project.
func (s *Store) CreateProject(_ context.Context, project jobs.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[project.ID]; exists {
		return fmt.Errorf("project %s: %w", project.ID, jobs.ErrConflict)
	}
	s.projects[project.ID] = project
	return nil
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(_ context.Context, projectID uuid.UUID) (jobs.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	project, ok := s.projects[projectID]
	if !ok {
		return jobs.Project{}, fmt.Errorf("project %s: %w", projectID, jobs.ErrNotFound)
	}
	return project, nil
}

// UpdateProjectStatus sets the project status.
func (s *Store) UpdateProjectStatus(_ context.Context, projectID uuid.UUID, status jobs.ProjectStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, ok := s.projects[projectID]
	if !ok {
		return fmt.Errorf("project %s: %w", projectID, jobs.ErrNotFound)
	}
	project.Status = status
	s.projects[projectID] = project
	return nil
}

// DeleteProject removes the project together with its jobs and their pages.
func (s *Store) DeleteProject(_ context.Context, projectID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectID]; !ok {
		return fmt.Errorf("project %s: %w", projectID, jobs.ErrNotFound)
	}
	for id, job := range s.jobs {
		if job.ProjectID == projectID {
			delete(s.pages, id)
			delete(s.jobs, id)
		}
	}
	delete(s.projects, projectID)
	return nil
}

// CreateJob stores a new job.
func (s *Store) CreateJob(_ context.Context, job jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID, jobs.ErrConflict)
	}
	if _, ok := s.projects[job.ProjectID]; !ok {
		return fmt.Errorf("project %s: %w", job.ProjectID, jobs.ErrNotFound)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID uuid.UUID) (jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return jobs.Job{}, fmt.Errorf("job %s: %w", jobID, jobs.ErrNotFound)
	}
	return cloneJob(job), nil
}

// UpdateJob applies mutate under the write lock and commits the result.
func (s *Store) UpdateJob(_ context.Context, jobID uuid.UUID, mutate jobs.Mutator) (jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.jobs[jobID]
	if !ok {
		return jobs.Job{}, fmt.Errorf("job %s: %w", jobID, jobs.ErrNotFound)
	}
	next := cloneJob(prev)
	if err := mutate(&next); err != nil {
		return jobs.Job{}, err
	}
	if err := jobs.CheckUpdate(prev, next); err != nil {
		return jobs.Job{}, err
	}
	s.jobs[jobID] = next
	return cloneJob(next), nil
}

// RecordPage appends a page row for a job.
func (s *Store) RecordPage(_ context.Context, page jobs.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[page.JobID]; !ok {
		return fmt.Errorf("job %s: %w", page.JobID, jobs.ErrNotFound)
	}
	s.pages[page.JobID] = append(s.pages[page.JobID], page)
	return nil
}

// ListPages returns a copy of all recorded pages for a job.
func (s *Store) ListPages(_ context.Context, jobID uuid.UUID) ([]jobs.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pages := s.pages[jobID]
	out := make([]jobs.Page, len(pages))
	copy(out, pages)
	return out, nil
}

// CreateUser stores a new user; emails are unique case-insensitively.
func (s *Store) CreateUser(_ context.Context, user jobs.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return fmt.Errorf("email %s: %w", user.Email, jobs.ErrConflict)
		}
	}
	s.users[user.ID] = user
	return nil
}

// GetUser fetches a user by ID.
func (s *Store) GetUser(_ context.Context, userID uuid.UUID) (jobs.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return jobs.User{}, fmt.Errorf("user %s: %w", userID, jobs.ErrNotFound)
	}
	return user, nil
}

// GetUserByEmail fetches a user by email.
func (s *Store) GetUserByEmail(_ context.Context, email string) (jobs.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return jobs.User{}, fmt.Errorf("user %s: %w", email, jobs.ErrNotFound)
}

func cloneJob(job jobs.Job) jobs.Job {
	if job.Result != nil {
		job.Result = append([]byte(nil), job.Result...)
	}
	if job.CompletedAt != nil {
		ts := *job.CompletedAt
		job.CompletedAt = &ts
	}
	return job
}
