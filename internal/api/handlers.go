package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JakeFAU/boltflow/internal/auth"
	"github.com/JakeFAU/boltflow/internal/jobs"
	"github.com/JakeFAU/boltflow/internal/orchestrator"
)

const maxBodyBytes = 1 << 20

// startRequest leaves include_assets and screenshot on unless the client
// turns them off.
type startRequest struct {
	URL           string `json:"url"`
	ProjectName   string `json:"project_name"`
	MaxPages      int    `json:"max_pages"`
	IncludeAssets *bool  `json:"include_assets"`
	Screenshot    *bool  `json:"screenshot"`
}

type statusResponse struct {
	JobID              uuid.UUID       `json:"job_id"`
	ProjectID          uuid.UUID       `json:"project_id"`
	Status             jobs.Status     `json:"status"`
	Progress           int             `json:"progress"`
	PagesScraped       int             `json:"pages_scraped"`
	TotalPages         int             `json:"total_pages"`
	ProgressPercentage int             `json:"progress_percentage"`
	Result             json.RawMessage `json:"result,omitempty"`
	Error              string          `json:"error,omitempty"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid JSON body", map[string]any{"cause": err.Error()})
		return false
	}
	return true
}

func flagOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "resource not found", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) startScrape(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())
	var req startRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.deps.Scrapes.StartScrape(r.Context(), userID, orchestrator.StartRequest{
		URL:           req.URL,
		ProjectName:   req.ProjectName,
		MaxPages:      req.MaxPages,
		IncludeAssets: flagOr(req.IncludeAssets, true),
		Screenshot:    flagOr(req.Screenshot, true),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) scrapeStatus(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())
	jobID, ok := pathID(w, r, "job_id")
	if !ok {
		return
	}
	snap, err := s.deps.Scrapes.StatusForUser(r.Context(), userID, jobID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		JobID:              snap.JobID,
		ProjectID:          snap.ProjectID,
		Status:             snap.Status,
		Progress:           snap.Progress,
		PagesScraped:       snap.PagesScraped,
		TotalPages:         snap.TotalPages,
		ProgressPercentage: snap.Progress,
		Result:             snap.Result,
		Error:              snap.Error,
	})
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())
	projectID, ok := pathID(w, r, "project_id")
	if !ok {
		return
	}
	if err := s.deps.Scrapes.DeleteProject(r.Context(), userID, projectID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project_id": projectID, "deleted": true})
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(w, r, &req) {
		return
	}
	session, err := s.deps.Accounts.Signup(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(w, r, &req) {
		return
	}
	session, err := s.deps.Accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())
	user, err := s.deps.Accounts.Me(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
