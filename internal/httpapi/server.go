package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/MimeLyc/findoc-analyzer/internal/config"
	"github.com/MimeLyc/findoc-analyzer/internal/jobs"
	"github.com/go-chi/chi/v5"
)

const Version = "1.0.0"

// Submitter accepts an upload and returns the new job id.
type Submitter interface {
	Submit(ctx context.Context, content []byte, contentType, query string) (string, error)
	MaxBytes() int64
}

// JobReader is the read side of the job store.
type JobReader interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
}

type Server struct {
	intake Submitter
	jobs   JobReader

	cors          config.CORSConfig
	retentionCron string
	now           func() time.Time

	router chi.Router
	server *http.Server
}

type Option func(*Server)

func WithCORS(cfg config.CORSConfig) Option {
	return func(s *Server) {
		s.cors = cfg
	}
}

// WithRetentionSchedule adds the next sweep time to the health payload.
func WithRetentionSchedule(cronExpr string) Option {
	return func(s *Server) {
		s.retentionCron = cronExpr
	}
}

func NewServer(intake Submitter, jobs JobReader, opts ...Option) *Server {
	s := &Server{
		intake: intake,
		jobs:   jobs,
		cors: config.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-Correlation-ID"},
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until Shutdown. A Shutdown that lands first makes it
// return http.ErrServerClosed right away.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.server.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(CorrelationID, Logging, Recovery, CORS(s.cors))

	r.Get("/", s.handleRoot)
	r.Post("/analyze", s.handleAnalyze)
	r.Get("/analysis/{id}", s.handleGetAnalysis)
	r.Get("/analysis/{id}/export.xlsx", s.handleExport)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	s.router = r
}
