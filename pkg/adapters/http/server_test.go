package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/introspection"
	"github.com/aretw0/zenforge/pkg/adapters/memory"
	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePipeline completes every run instantly unless block is set.
type fakePipeline struct {
	mu      sync.Mutex
	block   chan struct{}
	started chan string
	reqs    []ports.RunRequest
}

func (f *fakePipeline) Modes() []domain.Mode { return []domain.Mode{domain.ModeResearch, domain.ModeLearn} }

func (f *fakePipeline) Steps(m domain.Mode) ([]string, error) {
	if m == domain.ModeResearch || m == domain.ModeLearn {
		return []string{"interpreter", "judge"}, nil
	}
	return nil, &domain.ConfigurationError{Subject: "mode", Reason: "no pipeline"}
}

func (f *fakePipeline) Run(ctx context.Context, req ports.RunRequest) (*domain.RunContext, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	run := domain.NewRunContext(req.SessionID, req.Brief, req.Mode, req.Clarifications, time.Now())
	run.Record("interpreter", domain.IntentOutput{})
	if f.started != nil {
		f.started <- req.SessionID
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			run.Complete(time.Now())
			return run, ctx.Err()
		}
	}
	run.Artifact = &domain.Artifact{Title: "done"}
	run.Complete(time.Now())
	return run, nil
}

func newTestServer(p ports.Pipeline, opts ...Option) (*Server, http.Handler, *memory.Store) {
	store := memory.NewStore()
	n := 0
	opts = append([]Option{WithIDGenerator(func() string {
		n++
		return "run-" + string(rune('0'+n))
	})}, opts...)
	s := NewServer(p, store, opts...)
	return s, s.Handler(), store
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	_, h, _ := newTestServer(&fakePipeline{})
	w := do(t, h, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

func TestModes(t *testing.T) {
	_, h, _ := newTestServer(&fakePipeline{})
	w := do(t, h, "GET", "/modes", "")
	require.Equal(t, http.StatusOK, w.Code)
	modes := decode[[]ModeView](t, w)
	require.Len(t, modes, 2)
	assert.Equal(t, domain.ModeResearch, modes[0].Mode)
	assert.Equal(t, []string{"interpreter", "judge"}, modes[0].Steps)
}

func TestCreateRun_Wait(t *testing.T) {
	p := &fakePipeline{}
	_, h, store := newTestServer(p)

	w := do(t, h, "POST", "/runs", `{"brief": "  Explain \u001b Raft ", "mode": "learn", "wait": true}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decode[RunView](t, w)
	assert.Equal(t, "run-1", view.SessionID)
	assert.Equal(t, StatusComplete, view.Status)
	assert.Equal(t, "Explain  Raft", p.reqs[0].Brief)
	assert.Equal(t, domain.ModeLearn, p.reqs[0].Mode)

	stored, err := store.Load(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "done", stored.Artifact.Title)
}

func TestCreateRun_Background(t *testing.T) {
	p := &fakePipeline{block: make(chan struct{}), started: make(chan string, 1)}
	s, h, _ := newTestServer(p)

	w := do(t, h, "POST", "/runs", `{"brief": "b"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "/runs/run-1", w.Header().Get("Location"))
	<-p.started

	w = do(t, h, "GET", "/runs/run-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StatusRunning, decode[RunView](t, w).Status)
	assert.Equal(t, domain.ModeResearch, p.reqs[0].Mode, "default mode")

	close(p.block)
	s.Wait()

	w = do(t, h, "GET", "/runs/run-1", "")
	view := decode[RunView](t, w)
	assert.Equal(t, StatusComplete, view.Status)
	require.NotNil(t, view.Run)

	w = do(t, h, "GET", "/runs", "")
	assert.Equal(t, []string{"run-1"}, decode[map[string][]string](t, w)["runs"])
}

func TestDeleteRun_CancelsActive(t *testing.T) {
	p := &fakePipeline{block: make(chan struct{}), started: make(chan string, 1)}
	s, h, _ := newTestServer(p)

	do(t, h, "POST", "/runs", `{"brief": "b"}`)
	<-p.started

	w := do(t, h, "DELETE", "/runs/run-1", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	s.Wait()

	w = do(t, h, "GET", "/runs/run-1", "")
	assert.Equal(t, StatusIncomplete, decode[RunView](t, w).Status)

	w = do(t, h, "DELETE", "/runs/run-1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, h, "GET", "/runs/run-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateRun_Rejects(t *testing.T) {
	_, h, _ := newTestServer(&fakePipeline{})

	tests := []struct {
		name string
		body string
	}{
		{"Malformed", `{"brief":`},
		{"Empty Brief", `{"brief": "   "}`},
		{"Unknown Mode", `{"brief": "b", "mode": "poetry"}`},
		{"Mode Without Pipeline", `{"brief": "b", "mode": "project"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, "POST", "/runs", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, decode[map[string]string](t, w)["error"])
		})
	}
}

func TestGetGraph(t *testing.T) {
	_, h, _ := newTestServer(&fakePipeline{})
	do(t, h, "POST", "/runs", `{"brief": "b", "wait": true}`)

	w := do(t, h, "GET", "/runs/run-1/graph", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "graph LR")
	assert.Contains(t, w.Body.String(), "class s0_interpreter done;")
}

func TestMetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("zen_steps_total 1"))
	})
	_, h, _ := newTestServer(&fakePipeline{}, WithMetrics(metrics))

	w := do(t, h, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "zen_steps_total")
}

// staticWatcher replays fixed snapshots, then ends the stream.
type staticWatcher []any

func (sw staticWatcher) Watch(context.Context) <-chan introspection.StateSnapshot {
	ch := make(chan introspection.StateSnapshot, len(sw))
	for _, p := range sw {
		ch <- introspection.StateSnapshot{Payload: p}
	}
	close(ch)
	return ch
}

func TestWatch_StreamsComponentState(t *testing.T) {
	w := staticWatcher{
		&domain.Slot{Model: "qwen2.5:14b", FootprintMB: 9000, Requester: "judge"},
		domain.Progress{SessionID: "run-1", Mode: domain.ModeLearn, Step: "judge", Index: 5, Total: 5, Running: true},
	}
	_, h, _ := newTestServer(&fakePipeline{}, WithWatcher(w))

	rec := do(t, h, "GET", "/watch", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)

	var slot struct {
		Kind  string      `json:"kind"`
		State domain.Slot `json:"state"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &slot))
	assert.Equal(t, "slot", slot.Kind)
	assert.Equal(t, "qwen2.5:14b", slot.State.Model)

	var progress struct {
		Kind  string          `json:"kind"`
		State domain.Progress `json:"state"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &progress))
	assert.Equal(t, "progress", progress.Kind)
	assert.Equal(t, 5, progress.State.Index)
}

func TestWatch_NotMountedWithoutWatcher(t *testing.T) {
	_, h, _ := newTestServer(&fakePipeline{})
	assert.Equal(t, http.StatusNotFound, do(t, h, "GET", "/watch", "").Code)
}
