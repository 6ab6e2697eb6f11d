// Package api exposes the story service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/storyweaver/internal/core"
	domain "github.com/dotcommander/storyweaver/internal/domain/fiction"
	"github.com/dotcommander/storyweaver/internal/phase"
	"github.com/dotcommander/storyweaver/internal/phase/fiction"
	"github.com/dotcommander/storyweaver/internal/storage"
	"github.com/dotcommander/storyweaver/internal/story"
)

const maxBodyBytes = 4 << 20

// StoryService is the part of story.Service the transport calls.
type StoryService interface {
	Generate(ctx context.Context, req story.Request) (*story.Result, error)
	Outline(ctx context.Context, req story.OutlineRequest) (*story.OutlineResult, error)
	Revise(ctx context.Context, req story.RevisionRequest) (*story.RevisionResult, error)
	RecordChoice(ctx context.Context, req story.ChoiceRequest) (*story.ChoiceResult, error)
	Horizon(ctx context.Context, req story.HorizonRequest) (*fiction.HorizonProjection, error)
	ValidateCausality(chains []domain.CausalLink) domain.CausalReport
	Get(ctx context.Context, storyID string) (*storage.StoryRecord, error)
	List(ctx context.Context) ([]storage.StorySummary, error)
}

type Server struct {
	service         StoryService
	mode            string
	addr            string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

type Option func(*Server)

// WithMode labels the generator in health responses ("mock" or "live")
func WithMode(mode string) Option {
	return func(s *Server) {
		s.mode = mode
	}
}

func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

func WithTimeouts(read, write, shutdown time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger.With("component", "api")
		}
	}
}

func New(service StoryService, opts ...Option) *Server {
	s := &Server{
		service:         service,
		mode:            "live",
		addr:            ":8000",
		readTimeout:     30 * time.Second,
		writeTimeout:    65 * time.Minute,
		shutdownTimeout: 15 * time.Second,
		logger:          slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with request logging
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/stories/generate", s.handleGenerate)
	mux.HandleFunc("POST /api/v1/stories/outline", s.handleOutline)
	mux.HandleFunc("POST /api/v1/stories/revise", s.handleRevise)
	mux.HandleFunc("POST /api/v1/stories/{id}/choices", s.handleChoice)
	mux.HandleFunc("POST /api/v1/stories/{id}/horizon", s.handleHorizon)
	mux.HandleFunc("GET /api/v1/stories/{id}", s.handleGet)
	mux.HandleFunc("GET /api/v1/stories", s.handleList)
	mux.HandleFunc("POST /api/v1/causality/validate", s.handleValidate)
	return s.withRequestLog(mux)
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("serving http", "addr", ln.Addr().String(), "mode", s.mode)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		s.logger.Info("http server stopped")
		return nil
	})
	return g.Wait()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		startTime := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Info("request handled",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(startTime).Milliseconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := "ready"
	if s.mode == "mock" {
		state = "mock"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"agents": map[string]string{
			"architect": state,
			"scribe":    state,
			"editor":    state,
			"causality": state,
		},
		"mode":      s.mode,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req story.Request
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.service.Generate(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleOutline(w http.ResponseWriter, r *http.Request) {
	var req story.OutlineRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.service.Outline(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRevise(w http.ResponseWriter, r *http.Request) {
	var req story.RevisionRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.service.Revise(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChoice(w http.ResponseWriter, r *http.Request) {
	var req story.ChoiceRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.StoryID = r.PathValue("id")

	result, err := s.service.RecordChoice(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleHorizon(w http.ResponseWriter, r *http.Request) {
	var req story.HorizonRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.StoryID = r.PathValue("id")

	projection, err := s.service.Horizon(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projection)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	record, err := s.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.service.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stories": summaries})
}

type validateRequest struct {
	CausalChains []domain.CausalLink `json:"causal_chains" validate:"dive"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := phase.ValidateStruct(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.service.ValidateCausality(req.CausalChains))
}

// decode reads a JSON body into v, writing a 400 response on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid JSON body: %v", err)})
		return false
	}
	return true
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// StatusFor maps a service error to an HTTP status code.
func StatusFor(err error) int {
	var (
		malformed *core.MalformedOutlineError
		rangeErr  *core.SceneIndexOutOfRangeError
	)
	switch {
	case core.IsValidationError(err), errors.As(err, &rangeErr):
		return http.StatusBadRequest
	case story.IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &malformed):
		return http.StatusBadGateway
	case core.IsTimeout(err):
		return http.StatusGatewayTimeout
	case core.IsGenerationError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"status", status,
			"error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Retryable: core.IsRetryable(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("encoding response failed", "error", err)
	}
}
