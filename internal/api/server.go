package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/boltflow/internal/auth"
	"github.com/JakeFAU/boltflow/internal/jobs"
	"github.com/JakeFAU/boltflow/internal/metrics"
	"github.com/JakeFAU/boltflow/internal/notify"
	"github.com/JakeFAU/boltflow/internal/orchestrator"
	"github.com/JakeFAU/boltflow/internal/ratelimit"
)

// Scrapes is the job surface the handlers drive.
type Scrapes interface {
	StartScrape(ctx context.Context, userID uuid.UUID, req orchestrator.StartRequest) (orchestrator.StartResult, error)
	StatusForUser(ctx context.Context, userID, jobID uuid.UUID) (jobs.Snapshot, error)
	DeleteProject(ctx context.Context, userID, projectID uuid.UUID) error
}

// Accounts registers and authenticates users.
type Accounts interface {
	Signup(ctx context.Context, email, password, name string) (auth.Session, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
	Me(ctx context.Context, userID uuid.UUID) (jobs.User, error)
}

// TokenResolver turns a bearer token into a user ID.
type TokenResolver interface {
	Resolve(raw string) (uuid.UUID, error)
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Deps groups the collaborators the server routes to.
type Deps struct {
	Scrapes  Scrapes
	Accounts Accounts
	Tokens   TokenResolver
	Hub      *notify.Hub
	Limiter  *ratelimit.Limiter
	Ready    map[string]ReadinessCheck
}

// Options tunes transport behavior.
type Options struct {
	CORSOrigins    []string
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	Version        string
	// WSReadLimit caps inbound websocket frames; WSPongWait bounds how long a
	// silent peer stays registered.
	WSReadLimit int64
	WSPongWait  time.Duration
}

// Server wires HTTP handlers to the orchestrator, accounts, and hub.
type Server struct {
	router   chi.Router
	deps     Deps
	opts     Options
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.WSReadLimit <= 0 {
		opts.WSReadLimit = 64 << 10
	}
	if opts.WSPongWait <= 0 {
		opts.WSPongWait = 60 * time.Second
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New(ratelimit.Config{})
	}
	s := &Server{
		deps:   deps,
		opts:   opts,
		logger: logger.Named("api"),
	}
	origins := allowedOrigins(opts.CORSOrigins)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return originAllowed(origins, r.Header.Get("Origin")) },
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(s.recoverPanic)
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware(origins))

	r.Get("/", s.root)
	r.Get("/health", s.health)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/ws/{client_id}", s.serveWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(opts.RequestTimeout))
		r.Route("/auth", func(r chi.Router) {
			r.With(s.rateLimit).Post("/signup", s.signup)
			r.With(s.rateLimit).Post("/login", s.login)
			r.With(s.authenticate).Get("/me", s.me)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Use(s.rateLimit)
			r.Post("/scraper/start", s.startScrape)
			r.Get("/scraper/status/{job_id}", s.scrapeStatus)
			r.Delete("/projects/{project_id}", s.deleteProject)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "Boltflow API",
		"version": s.opts.Version,
		"status":  "running",
		"endpoints": map[string]string{
			"scraper":   "/api/scraper",
			"projects":  "/api/projects",
			"auth":      "/api/auth",
			"websocket": "/ws/{client_id}",
		},
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failing := map[string]string{}
	for name, check := range s.deps.Ready {
		if err := check(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failing", failing))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failing": failing})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
