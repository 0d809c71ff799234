// Package http exposes pipelines over a small JSON API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/aretw0/introspection"
	"github.com/aretw0/zenforge"
	"github.com/aretw0/zenforge/internal/logging"
	"github.com/aretw0/zenforge/internal/presentation/graph"
	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Run statuses reported by the API.
const (
	StatusRunning     = "running"
	StatusComplete    = "complete"
	StatusIncomplete  = "incomplete"
	StatusInterrupted = "interrupted"
)

// RunRequest is the body of POST /runs.
type RunRequest struct {
	Brief          string            `json:"brief"`
	Mode           string            `json:"mode,omitempty"`
	Clarifications map[string]string `json:"clarifications,omitempty"`
	// Wait blocks the request until the run finishes.
	Wait bool `json:"wait,omitempty"`
}

// RunView is the representation of a run returned by the API.
type RunView struct {
	SessionID string             `json:"session_id"`
	Status    string             `json:"status"`
	Run       *domain.RunContext `json:"run,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// WatchEvent is one line of the GET /watch stream.
type WatchEvent struct {
	// Kind is "slot" for the resident model, "progress" for the sequencer.
	Kind  string `json:"kind"`
	State any    `json:"state"`
}

// Watcher streams introspection snapshots. observability.Aggregator implements it.
type Watcher interface {
	Watch(ctx context.Context) <-chan introspection.StateSnapshot
}

// ModeView lists the steps of a mode.
type ModeView struct {
	Mode  domain.Mode `json:"mode"`
	Steps []string    `json:"steps"`
}

// Server owns the runs it started in the background.
type Server struct {
	pipeline    ports.Pipeline
	store       ports.RunStore
	metrics     http.Handler
	watcher     Watcher
	logger      *slog.Logger
	defaultMode domain.Mode
	newID       func() string

	base   context.Context
	stop   context.CancelFunc
	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures the Server.
type Option func(*Server)

// WithMetrics mounts a handler at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithWatcher streams live component state at /watch.
func WithWatcher(w Watcher) Option {
	return func(s *Server) { s.watcher = w }
}

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithDefaultMode is used when a request names no mode.
func WithDefaultMode(m domain.Mode) Option {
	return func(s *Server) { s.defaultMode = m }
}

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Server) { s.newID = fn }
}

// NewServer creates a server over a pipeline and the store it checkpoints to.
func NewServer(p ports.Pipeline, store ports.RunStore, opts ...Option) *Server {
	base, stop := context.WithCancel(context.Background())
	s := &Server{
		pipeline:    p,
		store:       store,
		logger:      logging.NewNop(),
		defaultMode: domain.ModeResearch,
		newID:       uuid.NewString,
		base:        base,
		stop:        stop,
		active:      make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/healthz", s.health)
	r.Get("/modes", s.modes)
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.createRun)
		r.Get("/", s.listRuns)
		r.Get("/{id}", s.getRun)
		r.Get("/{id}/graph", s.getGraph)
		r.Delete("/{id}", s.deleteRun)
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	if s.watcher != nil {
		r.Get("/watch", s.watch)
	}
	return r
}

// Wait blocks until every background run has returned.
func (s *Server) Wait() { s.wg.Wait() }

// Close cancels background runs and waits for them.
func (s *Server) Close() {
	s.stop()
	s.wg.Wait()
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"app":     "zen-http",
		"version": strings.TrimSpace(zenforge.Version),
	})
}

func (s *Server) modes(w http.ResponseWriter, _ *http.Request) {
	var out []ModeView
	for _, m := range s.pipeline.Modes() {
		steps, err := s.pipeline.Steps(m)
		if err != nil {
			continue
		}
		out = append(out, ModeView{Mode: m, Steps: steps})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var body RunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, int64(domain.MaxBriefSize)*2)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		s.logger.Warn("create run: invalid body", "err", err)
		return
	}

	brief, err := domain.SanitizeBrief(body.Brief)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode := s.defaultMode
	if body.Mode != "" {
		if mode, err = domain.ParseMode(body.Mode); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if _, err := s.pipeline.Steps(mode); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := ports.RunRequest{SessionID: s.newID(), Brief: brief, Mode: mode, Clarifications: body.Clarifications}
	log := s.logger.With("session_id", req.SessionID, "mode", mode)

	if body.Wait {
		run, err := s.pipeline.Run(r.Context(), req)
		view := s.finish(r.Context(), log, req.SessionID, run, err)
		code := http.StatusOK
		var cfg *domain.ConfigurationError
		if errors.As(err, &cfg) {
			code = http.StatusBadRequest
		}
		writeJSON(w, code, view)
		return
	}

	ctx, cancel := context.WithCancel(s.base)
	s.mu.Lock()
	s.active[req.SessionID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, req.SessionID)
			s.mu.Unlock()
			cancel()
		}()
		run, err := s.pipeline.Run(ctx, req)
		s.finish(ctx, log, req.SessionID, run, err)
	}()

	log.Info("run accepted")
	w.Header().Set("Location", "/runs/"+req.SessionID)
	writeJSON(w, http.StatusAccepted, RunView{SessionID: req.SessionID, Status: StatusRunning})
}

// finish persists the final context so it can be fetched after the run.
func (s *Server) finish(ctx context.Context, log *slog.Logger, id string, run *domain.RunContext, err error) RunView {
	view := RunView{SessionID: id, Run: run, Status: statusOf(run)}
	if err != nil {
		view.Error = err.Error()
		log.Warn("run ended with error", "err", err)
	}
	if run != nil && s.store != nil {
		if saveErr := s.store.Save(context.WithoutCancel(ctx), run); saveErr != nil {
			log.Error("failed to store run", "err", saveErr)
		}
	}
	return view
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list failed")
		s.logger.Error("list runs failed", "err", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"runs": ids})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (RunView, bool) {
	id := chi.URLParam(r, "id")
	running := s.isActive(id)

	run, err := s.store.Load(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrRunNotFound) && running:
		return RunView{SessionID: id, Status: StatusRunning}, true
	case errors.Is(err, domain.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run not found")
		return RunView{}, false
	case err != nil:
		writeError(w, http.StatusInternalServerError, "load failed")
		s.logger.Error("load run failed", "session_id", id, "err", err)
		return RunView{}, false
	}

	view := RunView{SessionID: id, Run: run, Status: statusOf(run)}
	if running {
		view.Status = StatusRunning
	}
	return view, true
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if view, ok := s.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) getGraph(w http.ResponseWriter, r *http.Request) {
	view, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if view.Run == nil {
		writeError(w, http.StatusConflict, "run has not checkpointed yet")
		return
	}
	steps, err := s.pipeline.Steps(view.Run.Mode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(graph.GeneratePipeline(view.Run.Mode, steps, graph.OverlayFor(view.Run))))
}

// watch writes one JSON object per state change until the client leaves or
// the server closes.
func (s *Server) watch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer context.AfterFunc(s.base, cancel)()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	enc := json.NewEncoder(w)
	for snap := range s.watcher.Watch(ctx) {
		if err := enc.Encode(watchEvent(snap.Payload)); err != nil {
			s.logger.Debug("watch client gone", "err", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func watchEvent(payload any) WatchEvent {
	switch payload.(type) {
	case *domain.Slot:
		return WatchEvent{Kind: "slot", State: payload}
	case domain.Progress:
		return WatchEvent{Kind: "progress", State: payload}
	default:
		return WatchEvent{Kind: "component", State: payload}
	}
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	cancel, running := s.active[id]
	s.mu.Unlock()
	if running {
		cancel()
		s.logger.Info("run cancelled", "session_id", id)
		writeJSON(w, http.StatusAccepted, RunView{SessionID: id, Status: StatusInterrupted})
		return
	}

	if err := s.store.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		s.logger.Error("delete run failed", "session_id", id, "err", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) isActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	return ok
}

func statusOf(run *domain.RunContext) string {
	switch {
	case run == nil:
		return StatusIncomplete
	case run.CompletedAt == nil:
		return StatusInterrupted
	case run.Artifact != nil:
		return StatusComplete
	default:
		return StatusIncomplete
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
