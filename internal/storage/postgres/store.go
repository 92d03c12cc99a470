package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/boltflow/internal/jobs"
)

const (
	projectColumns = `id, user_id, name, url, status, max_pages, created_at, updated_at`
	jobColumns     = `id, project_id, type, status, progress, pages_scraped, total_pages, result, error, created_at, completed_at`
)

// Store implements jobs.Store and jobs.UserStore.
type Store struct {
	pool pgxPool
}

// NewStore wraps an open pool.
func NewStore(pool pgxPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateProject inserts a project row.
func (s *Store) CreateProject(ctx context.Context, p jobs.Project) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (`+projectColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.UserID, p.Name, p.URL, string(p.Status), p.MaxPages, p.CreatedAt, p.UpdatedAt,
	)
	return mapError(err, "insert project")
}

// GetProject loads a project by id.
func (s *Store) GetProject(ctx context.Context, projectID uuid.UUID) (jobs.Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, projectID)
	var (
		p      jobs.Project
		status string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.URL, &status, &p.MaxPages, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return jobs.Project{}, mapError(err, "select project")
	}
	p.Status = jobs.ProjectStatus(status)
	return p, nil
}

// UpdateProjectStatus sets projects.status and bumps updated_at.
func (s *Store) UpdateProjectStatus(ctx context.Context, projectID uuid.UUID, status jobs.ProjectStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET status = $1, updated_at = now() WHERE id = $2`,
		string(status), projectID,
	)
	if err != nil {
		return mapError(err, "update project status")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", projectID, jobs.ErrNotFound)
	}
	return nil
}

// DeleteProject removes pages, jobs, and the project in one transaction.
func (s *Store) DeleteProject(ctx context.Context, projectID uuid.UUID) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete project: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx,
		`DELETE FROM scraped_pages WHERE job_id IN (SELECT id FROM jobs WHERE project_id = $1)`, projectID,
	); err != nil {
		return mapError(err, "delete pages")
	}
	if _, err = tx.Exec(ctx, `DELETE FROM jobs WHERE project_id = $1`, projectID); err != nil {
		return mapError(err, "delete jobs")
	}
	tag, err := tx.Exec(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
	if err != nil {
		return mapError(err, "delete project")
	}
	if tag.RowsAffected() == 0 {
		err = fmt.Errorf("project %s: %w", projectID, jobs.ErrNotFound)
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete project: %w", err)
	}
	return nil
}

// CreateJob inserts a job row.
func (s *Store) CreateJob(ctx context.Context, j jobs.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		jobArgs(j)...,
	)
	return mapError(err, "insert job")
}

// GetJob loads a job by id.
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (jobs.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if err != nil {
		return jobs.Job{}, mapError(err, "select job")
	}
	return job, nil
}

// UpdateJob locks the row, applies mutate, validates, and commits.
func (s *Store) UpdateJob(ctx context.Context, jobID uuid.UUID, mutate jobs.Mutator) (_ jobs.Job, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("begin update job: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	prev, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, jobID))
	if err != nil {
		return jobs.Job{}, mapError(err, "lock job")
	}
	next := prev
	if err = mutate(&next); err != nil {
		return jobs.Job{}, err
	}
	if err = jobs.CheckUpdate(prev, next); err != nil {
		return jobs.Job{}, err
	}
	if _, err = tx.Exec(ctx,
		`UPDATE jobs SET status = $1, progress = $2, pages_scraped = $3, total_pages = $4,
			result = $5, error = $6, completed_at = $7
		WHERE id = $8`,
		string(next.Status), next.Progress, next.PagesScraped, next.TotalPages,
		nullableJSON(next.Result), nullableText(next.Error), next.CompletedAt, jobID,
	); err != nil {
		return jobs.Job{}, mapError(err, "update job")
	}
	if err = tx.Commit(ctx); err != nil {
		return jobs.Job{}, fmt.Errorf("commit update job: %w", err)
	}
	return next, nil
}

// RecordPage inserts a scraped page row.
func (s *Store) RecordPage(ctx context.Context, page jobs.Page) error {
	metadata, err := json.Marshal(page.Metadata)
	if err != nil {
		return fmt.Errorf("marshal page metadata: %w", err)
	}
	if page.Metadata == nil {
		metadata = []byte(`{}`)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO scraped_pages (id, job_id, url, html, screenshot, metadata, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		page.ID, page.JobID, page.URL, page.HTML, nullableText(page.Screenshot), metadata, page.ScrapedAt,
	)
	return mapError(err, "insert page")
}

// ListPages returns the pages recorded for a job, oldest first.
func (s *Store) ListPages(ctx context.Context, jobID uuid.UUID) ([]jobs.Page, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, url, html, screenshot, metadata, scraped_at
		FROM scraped_pages WHERE job_id = $1 ORDER BY scraped_at`, jobID)
	if err != nil {
		return nil, mapError(err, "select pages")
	}
	defer rows.Close()

	var pages []jobs.Page
	for rows.Next() {
		var (
			page       jobs.Page
			screenshot *string
			metadata   []byte
		)
		if err := rows.Scan(&page.ID, &page.JobID, &page.URL, &page.HTML, &screenshot, &metadata, &page.ScrapedAt); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		if screenshot != nil {
			page.Screenshot = *screenshot
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &page.Metadata); err != nil {
				return nil, fmt.Errorf("decode page metadata: %w", err)
			}
		}
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}

// CreateUser inserts an account; duplicate emails map to jobs.ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u jobs.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, name, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Email, u.PasswordHash, u.Name, u.CreatedAt,
	)
	return mapError(err, "insert user")
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (jobs.User, error) {
	return s.getUser(ctx, `SELECT id, email, password_hash, name, created_at FROM users WHERE id = $1`, userID)
}

// GetUserByEmail loads a user by email, case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (jobs.User, error) {
	return s.getUser(ctx, `SELECT id, email, password_hash, name, created_at FROM users WHERE lower(email) = lower($1)`, email)
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (jobs.User, error) {
	var u jobs.User
	if err := s.pool.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.CreatedAt); err != nil {
		return jobs.User{}, mapError(err, "select user")
	}
	return u, nil
}

func jobArgs(j jobs.Job) []any {
	return []any{
		j.ID, j.ProjectID, string(j.Type), string(j.Status), j.Progress, j.PagesScraped, j.TotalPages,
		nullableJSON(j.Result), nullableText(j.Error), j.CreatedAt, j.CompletedAt,
	}
}

func scanJob(row pgx.Row) (jobs.Job, error) {
	var (
		j       jobs.Job
		typ     string
		status  string
		result  []byte
		errText *string
	)
	if err := row.Scan(
		&j.ID, &j.ProjectID, &typ, &status, &j.Progress, &j.PagesScraped, &j.TotalPages,
		&result, &errText, &j.CreatedAt, &j.CompletedAt,
	); err != nil {
		return jobs.Job{}, err
	}
	j.Type = jobs.Type(typ)
	j.Status = jobs.Status(status)
	if len(result) > 0 {
		j.Result = json.RawMessage(result)
	}
	if errText != nil {
		j.Error = *errText
	}
	return j, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
