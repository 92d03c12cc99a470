// Package jobs defines the domain types, state machine, and collaborator
// interfaces shared by the orchestrator, progress bridge, stores, and API.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a job.
type Status string

// Job status values persisted in jobs.status.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Type tags the kind of work a job performs.
type Type string

// Known job types. Only scrape jobs are launched by this service.
const (
	TypeScrape   Type = "scrape"
	TypeAnalyze  Type = "analyze"
	TypeGenerate Type = "generate"
	TypeDeploy   Type = "deploy"
)

// ProjectStatus mirrors projects.status.
type ProjectStatus string

// Project status values.
const (
	ProjectPending   ProjectStatus = "pending"
	ProjectScraping  ProjectStatus = "scraping"
	ProjectCompleted ProjectStatus = "completed"
	ProjectFailed    ProjectStatus = "failed"
)

// Job is one tracked unit of orchestrated background work.
type Job struct {
	ID           uuid.UUID       `json:"id"`
	ProjectID    uuid.UUID       `json:"project_id"`
	Type         Type            `json:"type"`
	Status       Status          `json:"status"`
	Progress     int             `json:"progress"`
	PagesScraped int             `json:"pages_scraped"`
	TotalPages   int             `json:"total_pages"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Project owns the jobs started for one target site.
type Project struct {
	ID        uuid.UUID     `json:"id"`
	UserID    uuid.UUID     `json:"user_id"`
	Name      string        `json:"name"`
	URL       string        `json:"url"`
	Status    ProjectStatus `json:"status"`
	MaxPages  int           `json:"max_pages"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Page is persisted for each fetched page.
type Page struct {
	ID         uuid.UUID      `json:"id"`
	JobID      uuid.UUID      `json:"job_id"`
	URL        string         `json:"url"`
	HTML       string         `json:"html"`
	Screenshot string         `json:"screenshot,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ScrapedAt  time.Time      `json:"scraped_at"`
}

// User is an account that owns projects.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Snapshot is the read-only projection served to status queries.
type Snapshot struct {
	JobID        uuid.UUID       `json:"job_id"`
	ProjectID    uuid.UUID       `json:"project_id"`
	Status       Status          `json:"status"`
	Progress     int             `json:"progress"`
	PagesScraped int             `json:"pages_scraped"`
	TotalPages   int             `json:"total_pages"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Snapshot projects the persisted job fields.
func (j Job) Snapshot() Snapshot {
	return Snapshot{
		JobID:        j.ID,
		ProjectID:    j.ProjectID,
		Status:       j.Status,
		Progress:     j.Progress,
		PagesScraped: j.PagesScraped,
		TotalPages:   j.TotalPages,
		Result:       j.Result,
		Error:        j.Error,
		CompletedAt:  j.CompletedAt,
	}
}

// ScrapeRequest captures everything an engine needs for one invocation.
type ScrapeRequest struct {
	JobID         uuid.UUID
	URL           string
	MaxPages      int
	IncludeAssets bool
	Screenshot    bool
}

// ScrapeProgress is reported by engines while they run. A positive Percent
// takes precedence; otherwise the percentage derives from the page counts.
type ScrapeProgress struct {
	Percent      int    `json:"percent,omitempty"`
	PagesScraped int    `json:"pages_scraped"`
	TotalPages   int    `json:"total_pages"`
	CurrentURL   string `json:"current_url,omitempty"`
}

// ScrapeResult is the outcome of a successful engine invocation. Raw page
// bytes stay out of the JSON form; they are persisted on the page row.
type ScrapeResult struct {
	URL           string    `json:"url,omitempty"`
	Pages         int       `json:"pages"`
	StatusCode    int       `json:"status_code,omitempty"`
	Links         []string  `json:"links,omitempty"`
	Screenshot    string    `json:"screenshot,omitempty"`
	HTMLURI       string    `json:"html_uri,omitempty"`
	Assets        *[]string `json:"assets,omitempty"`
	HTML          []byte    `json:"-"`
	ScreenshotPNG []byte    `json:"-"`
}
