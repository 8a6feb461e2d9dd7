package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/site-capture/internal/crawler"
	"github.com/JakeFAU/site-capture/internal/metrics"
	"github.com/JakeFAU/site-capture/internal/storage/memory"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	requestTimeout  = 30 * time.Second
)

// Runner executes one capture run under a caller-chosen id.
// pipeline.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, runID, startURL, outputDir string, maxDepth int) (crawler.RunSummary, error)
}

// RunnerFactory returns the Runner for a capture mode.
type RunnerFactory func(mode crawler.CaptureMode) (Runner, error)

// Config carries the defaults applied to submitted runs.
type Config struct {
	OutputDir         string
	DefaultMaxDepth   int
	DefaultMode       crawler.CaptureMode
	MaxConcurrentRuns int
}

// Server wires HTTP handlers to the run registry and pipeline.
type Server struct {
	router   chi.Router
	registry *memory.RunRegistry
	runners  RunnerFactory
	idGen    crawler.IDGenerator
	cfg      Config
	logger   *zap.Logger

	slots *semaphore.Weighted
	base  context.Context
	stop  context.CancelFunc
	wg    sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	registry *memory.RunRegistry,
	runners RunnerFactory,
	idGen crawler.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 1
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = crawler.ModePDF
	}
	base, stop := context.WithCancel(context.Background())
	s := &Server{
		registry: registry,
		runners:  runners,
		idGen:    idGen,
		cfg:      cfg,
		logger:   logger,
		slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns)),
		base:     base,
		stop:     stop,
		cancels:  make(map[string]context.CancelFunc),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/runs", func(r chi.Router) {
		r.Use(timeoutMiddleware(requestTimeout))
		r.Post("/", s.submitRun)
		r.Get("/", s.listRuns)
		r.Route("/{run_id}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Post("/cancel", s.cancelRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Shutdown cancels in-flight runs and waits for them to write their output.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stop()
	s.mu.Unlock()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for runs: %w", ctx.Err())
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports 503 once Shutdown has begun.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.base.Err() != nil {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type runRequest struct {
	StartURL string `json:"start_url"`
	MaxDepth *int   `json:"max_depth"`
	Mode     string `json:"mode"`
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req, err := s.toRunRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runner, err := s.runners(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to allocate run id")
		return
	}
	if !s.admit() {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	req.OutputDir = filepath.Join(s.cfg.OutputDir, runID)
	if _, err := s.registry.Create(r.Context(), runID, req); err != nil {
		s.wg.Done()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.start(runID, req, runner)
	w.Header().Set("Location", "/v1/runs/"+runID)
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": string(crawler.RunStatusQueued)})
}

func (s *Server) toRunRequest(body runRequest) (crawler.RunRequest, error) {
	if strings.TrimSpace(body.StartURL) == "" {
		return crawler.RunRequest{}, errors.New("start_url required")
	}
	depth := s.cfg.DefaultMaxDepth
	if body.MaxDepth != nil {
		depth = *body.MaxDepth
	}
	target, err := crawler.NewCrawlTarget(body.StartURL, depth)
	if err != nil {
		return crawler.RunRequest{}, err
	}
	mode := s.cfg.DefaultMode
	if body.Mode != "" {
		if mode, err = crawler.ParseCaptureMode(body.Mode); err != nil {
			return crawler.RunRequest{}, err
		}
	}
	return crawler.RunRequest{StartURL: target.StartURL.String(), MaxDepth: depth, Mode: mode}, nil
}

// admit reserves a place in the shutdown wait group. It fails once
// Shutdown has begun.
func (s *Server) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base.Err() != nil {
		return false
	}
	s.wg.Add(1)
	return true
}

// start runs req in the background once a slot frees up. The caller must
// have been admitted.
func (s *Server) start(runID string, req crawler.RunRequest, runner Runner) {
	ctx, cancel := context.WithCancel(s.base)
	s.mu.Lock()
	s.cancels[runID] = cancel
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.forget(runID)
		logger := s.logger.With(zap.String("run_id", runID))
		// Registry calls outlive ctx so terminal states are always recorded.
		bookkeeping := context.WithoutCancel(ctx)

		if err := s.slots.Acquire(ctx, 1); err != nil {
			s.finish(bookkeeping, logger, runID, nil, err)
			return
		}
		defer s.slots.Release(1)

		if err := s.registry.MarkRunning(bookkeeping, runID); err != nil {
			logger.Warn("mark run running failed", zap.Error(err))
		}
		metrics.RunStarted()
		summary, err := runner.Run(ctx, runID, req.StartURL, req.OutputDir, req.MaxDepth)
		var result *crawler.RunSummary
		if err == nil || summary.RunID != "" {
			result = &summary
		}
		s.finish(bookkeeping, logger, runID, result, err)
		status := "unknown"
		if state, getErr := s.registry.Get(bookkeeping, runID); getErr == nil {
			status = string(state.Status)
		}
		metrics.RunFinished(status)
	}()
}

func (s *Server) finish(ctx context.Context, logger *zap.Logger, runID string, summary *crawler.RunSummary, runErr error) {
	if err := s.registry.Finish(ctx, runID, summary, runErr); err != nil {
		logger.Warn("record run result failed", zap.Error(err))
		return
	}
	if runErr != nil {
		logger.Warn("run failed", zap.Error(runErr))
	}
}

func (s *Server) forget(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[runID]; ok {
		cancel()
		delete(s.cancels, runID)
	}
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	state, err := s.registry.Get(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// listRuns handles GET /v1/runs?status=&limit=&offset=.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status crawler.RunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		if status, err = parseStatus(raw); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	runs := make([]crawler.RunState, 0, limit)
	skipped := 0
	for _, state := range s.registry.List(r.Context()) {
		if status != "" && state.Status != status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(runs) == limit {
			break
		}
		runs = append(runs, state)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	state, err := s.registry.Get(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if state.Status.Terminal() {
		writeError(w, http.StatusConflict, "run already "+string(state.Status))
		return
	}
	s.mu.Lock()
	cancel, ok := s.cancels[runID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "canceling"})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	limit := def
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = min(v, maxLimit)
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
		offset = v
	}
	return limit, offset, nil
}

func parseStatus(raw string) (crawler.RunStatus, error) {
	status := crawler.RunStatus(strings.ToLower(raw))
	switch status {
	case crawler.RunStatusQueued, crawler.RunStatusRunning, crawler.RunStatusSucceeded,
		crawler.RunStatusFailed, crawler.RunStatusCanceled:
		return status, nil
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.String("request_id", reqID),
				zap.Duration("dur", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
