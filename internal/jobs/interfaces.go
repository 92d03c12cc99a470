package jobs

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Mutator edits a job inside a store's read-modify-commit cycle.
type Mutator func(*Job) error

// Store persists projects, jobs, and scraped pages.
type Store interface {
	CreateProject(ctx context.Context, project Project) error
	GetProject(ctx context.Context, projectID uuid.UUID) (Project, error)
	UpdateProjectStatus(ctx context.Context, projectID uuid.UUID, status ProjectStatus) error
	// DeleteProject removes the project with its jobs and pages atomically.
	DeleteProject(ctx context.Context, projectID uuid.UUID) error

	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID uuid.UUID) (Job, error)
	// UpdateJob loads the job, applies mutate, checks the result against
	// CheckUpdate, and commits it. The committed row is returned.
	UpdateJob(ctx context.Context, jobID uuid.UUID, mutate Mutator) (Job, error)

	RecordPage(ctx context.Context, page Page) error
	ListPages(ctx context.Context, jobID uuid.UUID) ([]Page, error)
}

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, userID uuid.UUID) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
}

// ProgressSink receives engine progress reports. Implementations must not block.
type ProgressSink interface {
	Report(progress ScrapeProgress)
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(ScrapeProgress)

// Report calls f.
func (f SinkFunc) Report(progress ScrapeProgress) {
	f(progress)
}

// Scraper performs one scrape invocation.
type Scraper interface {
	Scrape(ctx context.Context, req ScrapeRequest, sink ProgressSink) mo.Result[ScrapeResult]
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record identifiers.
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// UUIDv7 generates time-ordered identifiers.
type UUIDv7 struct{}

// NewID returns a fresh UUIDv7.
func (UUIDv7) NewID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}
