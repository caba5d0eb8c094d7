// Package api exposes the question/answer pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dbwhisper/dbwhisper/internal/errs"
	"github.com/dbwhisper/dbwhisper/internal/executor"
	"github.com/dbwhisper/dbwhisper/internal/llm"
	"github.com/dbwhisper/dbwhisper/internal/logger"
	"github.com/dbwhisper/dbwhisper/internal/schema"
	"github.com/dbwhisper/dbwhisper/internal/service"
	"github.com/dbwhisper/dbwhisper/internal/vector"
)

// Pipeline is the subset of the service the handlers need. Narrowed to
// an interface so handler tests run against a fake.
type Pipeline interface {
	Ready(ctx context.Context) error
	ExtractMetadata(ctx context.Context, force bool) (*schema.Schema, error)
	BuildIndex(ctx context.Context, force bool) (int, error)
	GenerateSQL(ctx context.Context, question string) (*llm.SQLGenerationResult, *vector.SearchResult, error)
	ExecuteQuery(ctx context.Context, sql string) *executor.QueryResult
	Ask(ctx context.Context, question string) (*service.Answer, error)
}

// Server routes HTTP requests into the pipeline.
type Server struct {
	pipeline Pipeline
	log      *logger.Logger
	router   chi.Router
}

// NewServer builds the router with all routes mounted.
func NewServer(pipeline Pipeline, log *logger.Logger) *Server {
	s := &Server{pipeline: pipeline, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/ask", s.handleAsk)
		r.Post("/sql", s.handleSQL)
		r.Get("/schema", s.handleSchema)
		r.Post("/index/rebuild", s.handleRebuild)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger emits one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.HTTPEvent().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// --- handlers ---

type askRequest struct {
	Question string `json:"question"`
}

type sqlRequest struct {
	SQL string `json:"sql"`
}

type rebuildRequest struct {
	Force bool `json:"force"`
}

type rebuildResponse struct {
	Units int `json:"units"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Ready(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Question == "" {
		s.writeError(w, errs.New(errs.ErrKindInvalidInput, "question is required"))
		return
	}

	answer, err := s.pipeline.Ask(r.Context(), req.Question)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, answer)
}

// handleSQL generates a statement without executing it.
func (s *Server) handleSQL(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Question == "" {
		s.writeError(w, errs.New(errs.ErrKindInvalidInput, "question is required"))
		return
	}

	gen, _, err := s.pipeline.GenerateSQL(r.Context(), req.Question)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, gen)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "true"

	meta, err := s.pipeline.ExtractMetadata(r.Context(), force)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	// an empty body means default options; only a present, malformed
	// body is rejected
	var req rebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, errs.Wrap(errs.ErrKindInvalidInput, "invalid request body", err))
		return
	}

	n, err := s.pipeline.BuildIndex(r.Context(), req.Force)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rebuildResponse{Units: n})
}

// --- plumbing ---

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, errs.Wrap(errs.ErrKindInvalidInput, "invalid request body", err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("encoding response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "unknown"

	var e *errs.Error
	if errors.As(err, &e) {
		kind = e.Kind.String()
		switch {
		case errs.IsInvalidInput(err):
			status = http.StatusBadRequest
		case errs.IsNotFound(err):
			status = http.StatusNotFound
		case errs.IsTimeout(err):
			status = http.StatusGatewayTimeout
		case errs.IsConnectionFailed(err):
			status = http.StatusBadGateway
		}
	}

	s.writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}
