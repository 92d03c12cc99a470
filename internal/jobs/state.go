package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition is returned when a mutation would break the job state machine.
	ErrInvalidTransition = errors.New("invalid job transition")
	// ErrConflict signals a uniqueness or concurrency conflict.
	ErrConflict = errors.New("conflict")
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// NewJob returns a pending job with zero progress.
func NewJob(id, projectID uuid.UUID, typ Type, now time.Time) Job {
	return Job{
		ID:        id,
		ProjectID: projectID,
		Type:      typ,
		Status:    StatusPending,
		CreatedAt: now,
	}
}

// Start moves a pending job to running.
func (j *Job) Start() error {
	return j.transition(StatusRunning)
}

// Advance folds a progress report into a running job. Progress never moves
// backwards and stays below 100 until the job completes.
func (j *Job) Advance(percent, pagesScraped, totalPages int) error {
	if j.Status != StatusRunning {
		return fmt.Errorf("%w: progress on %s job", ErrInvalidTransition, j.Status)
	}
	percent = clamp(percent, 0, 99)
	if percent > j.Progress {
		j.Progress = percent
	}
	if pagesScraped > j.PagesScraped {
		j.PagesScraped = pagesScraped
	}
	if totalPages > j.TotalPages {
		j.TotalPages = totalPages
	}
	return nil
}

// Complete records a successful outcome.
func (j *Job) Complete(result json.RawMessage, at time.Time) error {
	if err := j.transition(StatusCompleted); err != nil {
		return err
	}
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	j.Result = result
	j.Error = ""
	j.Progress = 100
	j.CompletedAt = &at
	return nil
}

// Fail records a failed outcome.
func (j *Job) Fail(message string, at time.Time) error {
	if err := j.transition(StatusFailed); err != nil {
		return err
	}
	if message == "" {
		message = "unknown error"
	}
	j.Error = message
	j.Result = nil
	j.CompletedAt = &at
	return nil
}

func (j *Job) transition(next Status) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, next)
	}
	j.Status = next
	return nil
}

// CheckUpdate validates that next is a legal successor of prev. Stores call it
// inside their read-modify-commit cycle so no writer can bypass the state machine.
func CheckUpdate(prev, next Job) error {
	if next.ID != prev.ID || next.ProjectID != prev.ProjectID || next.Type != prev.Type {
		return fmt.Errorf("%w: identity fields are immutable", ErrInvalidTransition)
	}
	if !next.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next.Status)
	}
	if next.Status != prev.Status && !prev.Status.CanTransition(next.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Status, next.Status)
	}
	if prev.Status.Terminal() && !sameTerminal(prev, next) {
		return fmt.Errorf("%w: job is %s", ErrInvalidTransition, prev.Status)
	}
	if next.Progress < prev.Progress || next.Progress < 0 || next.Progress > 100 {
		return fmt.Errorf("%w: progress %d -> %d", ErrInvalidTransition, prev.Progress, next.Progress)
	}
	switch next.Status {
	case StatusCompleted:
		if next.Error != "" || next.CompletedAt == nil {
			return fmt.Errorf("%w: completed job needs result only", ErrInvalidTransition)
		}
	case StatusFailed:
		if len(next.Result) > 0 || next.Error == "" || next.CompletedAt == nil {
			return fmt.Errorf("%w: failed job needs error only", ErrInvalidTransition)
		}
	default:
		if len(next.Result) > 0 || next.Error != "" || next.CompletedAt != nil {
			return fmt.Errorf("%w: outcome set on %s job", ErrInvalidTransition, next.Status)
		}
	}
	return nil
}

func sameTerminal(prev, next Job) bool {
	return prev.Status == next.Status &&
		prev.Progress == next.Progress &&
		prev.Error == next.Error &&
		string(prev.Result) == string(next.Result)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
