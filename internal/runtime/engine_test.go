package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/zenforge/internal/agent"
	"github.com/aretw0/zenforge/internal/retry"
	"github.com/aretw0/zenforge/internal/slot"
	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStep returns a fixed result, or panics when told to.
type stubStep struct {
	name  string
	out   domain.Output
	panic bool
	seen  []*domain.RunContext
}

func (s *stubStep) Name() string { return s.name }

func (s *stubStep) Think(_ context.Context, run *domain.RunContext) agent.Result {
	s.seen = append(s.seen, run)
	if s.panic {
		panic("step exploded")
	}
	return agent.Result{Output: s.out, Attempts: 1}
}

func judgment(decision string, score float64) domain.JudgeOutput {
	return domain.JudgeOutput{
		Synthesis: domain.Synthesis{ExecutiveSummary: "summary"},
		Consensus: domain.ConsensusScore{Groundedness: score, Coherence: score, Completeness: score, Overall: score},
		FinalArtifact: domain.Artifact{
			Title:    "Report",
			Sections: []domain.Section{{Title: "Summary", Content: "text"}},
		},
		Decision: decision,
	}
}

func newRun(mode domain.Mode) *domain.RunContext {
	return domain.NewRunContext("sess-1", "Explain consistent hashing", mode, nil, time.Unix(1700000000, 0).UTC())
}

func registry(steps ...agent.Step) map[string]agent.Step {
	m := make(map[string]agent.Step, len(steps))
	for _, s := range steps {
		m[s.Name()] = s
	}
	return m
}

func TestEngine_StepFailureIsIsolated(t *testing.T) {
	first := &stubStep{name: "interpreter", out: domain.IntentOutput{Intent: domain.Intent{PrimaryGoal: "g"}}}
	broken := &stubStep{name: "planner", panic: true}
	judge := &stubStep{name: "judge", out: judgment(domain.DecisionAccept, 0.9)}

	var errored []string
	e := NewEngine(registry(first, broken, judge),
		map[domain.Mode][]string{domain.ModeResearch: {"interpreter", "planner", "judge"}},
		WithHooks(domain.LifecycleHooks{
			OnStepError: func(_ context.Context, ev *domain.StepEvent) { errored = append(errored, ev.Step) },
		}),
	)

	run, err := e.Run(context.Background(), newRun(domain.ModeResearch))

	require.NoError(t, err)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, "planner", run.Errors[0].Step)
	assert.Contains(t, run.Errors[0].Message, "step exploded")
	assert.Equal(t, []string{"planner"}, errored)
	assert.Len(t, judge.seen, 1, "later steps still run")
	assert.Equal(t, []string{"interpreter", "judge"}, run.Steps())
	require.NotNil(t, run.Artifact)
	assert.NotNil(t, run.CompletedAt)
}

func TestEngine_NilOutputBecomesErrorRecord(t *testing.T) {
	empty := &stubStep{name: "planner"}
	judge := &stubStep{name: "judge", out: judgment(domain.DecisionAccept, 0.9)}
	e := NewEngine(registry(empty, judge), map[domain.Mode][]string{domain.ModeLearn: {"planner", "judge"}})

	run, err := e.Run(context.Background(), newRun(domain.ModeLearn))

	require.NoError(t, err)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, "planner", run.Errors[0].Step)
}

func TestEngine_DeliberationIsBounded(t *testing.T) {
	var rounds []int
	steps := map[string]agent.Step{}
	var names []string
	for _, n := range []string{"j1", "j2", "j3", "j4", "j5"} {
		steps[n] = &stubStep{name: n, out: judgment(domain.DecisionNeedsRevision, 0.4)}
		names = append(names, n)
	}
	e := NewEngine(steps, map[domain.Mode][]string{domain.ModeProject: names},
		WithDeliberation(0.85, 3),
		WithHooks(domain.LifecycleHooks{
			OnDeliberation: func(_ context.Context, ev *domain.DeliberationEvent) { rounds = append(rounds, ev.Round) },
		}),
	)

	run, err := e.Run(context.Background(), newRun(domain.ModeProject))

	require.NoError(t, err)
	assert.Equal(t, 3, run.Round)
	assert.Equal(t, []int{1, 2, 3}, rounds)
}

func TestEngine_WatchReportsPosition(t *testing.T) {
	first := &stubStep{name: "interpreter", out: domain.IntentOutput{Intent: domain.Intent{PrimaryGoal: "g"}}}
	judge := &stubStep{name: "judge", out: judgment(domain.DecisionNeedsRevision, 0.4)}
	e := NewEngine(registry(first, judge), map[domain.Mode][]string{domain.ModeResearch: {"interpreter", "judge"}})

	ctx, cancel := context.WithCancel(context.Background())
	changes := e.Watch(ctx)
	_, err := e.Run(context.Background(), newRun(domain.ModeResearch))
	require.NoError(t, err)
	cancel()

	var seen []domain.Progress
	for c := range changes {
		seen = append(seen, c.NewState)
	}
	require.Len(t, seen, 5)
	assert.False(t, seen[0].Running, "idle before the run")
	assert.Equal(t, domain.Progress{SessionID: "sess-1", Mode: domain.ModeResearch, Step: "interpreter", Index: 1, Total: 2, Running: true}, seen[2])
	assert.Equal(t, "judge", seen[3].Step)
	assert.Equal(t, 0, seen[3].Round)

	final := e.State()
	assert.False(t, final.Running)
	assert.Empty(t, final.Step)
	assert.Equal(t, 1, final.Round)
}

func TestEngine_RevisionAboveThresholdDoesNotAdvance(t *testing.T) {
	judge := &stubStep{name: "judge", out: judgment(domain.DecisionNeedsRevision, 0.92)}
	e := NewEngine(registry(judge), map[domain.Mode][]string{domain.ModeResearch: {"judge"}})

	run, err := e.Run(context.Background(), newRun(domain.ModeResearch))

	require.NoError(t, err)
	assert.Equal(t, 0, run.Round)
	require.NotNil(t, run.Consensus)
	assert.InDelta(t, 0.92, *run.Consensus, 1e-9)
}

func TestEngine_OutOfRangeScoreIsRecorded(t *testing.T) {
	bad := judgment(domain.DecisionAccept, 0.9)
	bad.Consensus.Overall = 1.7
	judge := &stubStep{name: "judge", out: bad}
	e := NewEngine(registry(judge), map[domain.Mode][]string{domain.ModeResearch: {"judge"}})

	run, err := e.Run(context.Background(), newRun(domain.ModeResearch))

	require.NoError(t, err, "artifact is still present")
	assert.Nil(t, run.Consensus)
	require.Len(t, run.Errors, 1)
	assert.Contains(t, run.Errors[0].Message, "outside [0,1]")
}

func TestEngine_ConfigurationErrors(t *testing.T) {
	judge := &stubStep{name: "judge", out: judgment(domain.DecisionAccept, 0.9)}
	e := NewEngine(registry(judge), map[domain.Mode][]string{
		domain.ModeResearch: {"interpreter", "judge"},
		domain.ModeLearn:    {"judge"},
	})

	var cfgErr *domain.ConfigurationError

	_, err := e.Run(context.Background(), newRun(domain.ModeProject))
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "mode", cfgErr.Subject)

	run, err := e.Run(context.Background(), newRun(domain.ModeResearch))
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Subject, "interpreter")
	assert.Empty(t, judge.seen, "nothing runs when resolution fails")
	assert.Nil(t, run.CompletedAt)

	assert.Equal(t, []domain.Mode{domain.ModeLearn, domain.ModeResearch}, sortedModes(e.Modes()))
}

func sortedModes(ms []domain.Mode) []domain.Mode {
	out := append([]domain.Mode(nil), ms...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func TestEngine_IncompleteWithoutArtifact(t *testing.T) {
	first := &stubStep{name: "interpreter", out: domain.IntentOutput{}}
	e := NewEngine(registry(first), map[domain.Mode][]string{domain.ModeResearch: {"interpreter"}})

	run, err := e.Run(context.Background(), newRun(domain.ModeResearch))

	var inc *domain.PipelineIncompleteError
	require.ErrorAs(t, err, &inc)
	assert.Equal(t, "sess-1", inc.SessionID)
	assert.NotNil(t, run.CompletedAt, "completion is stamped even when incomplete")
}

func TestEngine_MergesFindingsAndEvidence(t *testing.T) {
	ev := domain.Evidence{Title: "Karger et al.", URL: "https://example.org/chord", CitationID: "[1]"}
	grounder := &stubStep{name: "grounder", out: domain.FindingOutput{
		Answer:      "a",
		KeyFindings: []domain.Finding{{Claim: "ring", Sources: []string{"[1]"}}},
		Evidence:    map[string][]domain.Evidence{"RQ1": {ev}},
	}}
	judge := &stubStep{name: "judge", out: judgment(domain.DecisionAccept, 0.9)}
	e := NewEngine(registry(grounder, judge), map[domain.Mode][]string{domain.ModeResearch: {"grounder", "judge"}})

	run, err := e.Run(context.Background(), newRun(domain.ModeResearch))

	require.NoError(t, err)
	assert.Len(t, run.Findings, 1)
	assert.Equal(t, []domain.Evidence{ev}, run.Evidence["RQ1"])
	assert.Equal(t, 1, run.Artifact.Metadata.TotalSources)
	assert.Equal(t, []string{"grounder", "judge"}, run.Artifact.Metadata.AgentsConsulted)
	assert.Equal(t, "research", run.Artifact.Type)
}

// recordingStore keeps every checkpoint.
type recordingStore struct {
	mu    sync.Mutex
	saved []*domain.RunContext
	err   error
}

func (s *recordingStore) Save(_ context.Context, run *domain.RunContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, run)
	return s.err
}

func (s *recordingStore) Load(context.Context, string) (*domain.RunContext, error) {
	return nil, domain.ErrRunNotFound
}
func (s *recordingStore) Delete(context.Context, string) error   { return nil }
func (s *recordingStore) List(context.Context) ([]string, error) { return nil, nil }

func TestEngine_CheckpointsAfterEveryStep(t *testing.T) {
	store := &recordingStore{}
	first := &stubStep{name: "interpreter", out: domain.IntentOutput{}}
	judge := &stubStep{name: "judge", out: judgment(domain.DecisionAccept, 0.9)}
	e := NewEngine(registry(first, judge), map[domain.Mode][]string{domain.ModeResearch: {"interpreter", "judge"}},
		WithStore(store))

	_, err := e.Run(context.Background(), newRun(domain.ModeResearch))

	require.NoError(t, err)
	require.Len(t, store.saved, 3)
	assert.Equal(t, []string{"interpreter"}, store.saved[0].Steps())
	assert.NotNil(t, store.saved[2].CompletedAt)
}

func TestEngine_FailingStoreDoesNotFailRun(t *testing.T) {
	store := &recordingStore{err: errors.New("disk full")}
	judge := &stubStep{name: "judge", out: judgment(domain.DecisionAccept, 0.9)}
	e := NewEngine(registry(judge), map[domain.Mode][]string{domain.ModeResearch: {"judge"}}, WithStore(store))

	run, err := e.Run(context.Background(), newRun(domain.ModeResearch))

	require.NoError(t, err)
	assert.Empty(t, run.Errors)
}

func TestEngine_CancellationStopsBeforeNextStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &stubStep{name: "interpreter", out: domain.IntentOutput{}}
	judge := &stubStep{name: "judge", out: judgment(domain.DecisionAccept, 0.9)}
	e := NewEngine(registry(first, judge), map[domain.Mode][]string{domain.ModeResearch: {"interpreter", "judge"}},
		WithHooks(domain.LifecycleHooks{
			OnStepFinish: func(_ context.Context, ev *domain.StepEvent) {
				if ev.Step == "interpreter" {
					cancel()
				}
			},
		}))

	run, err := e.Run(ctx, newRun(domain.ModeResearch))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, judge.seen)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, "judge", run.Errors[0].Step)
	assert.NotNil(t, run.CompletedAt)
}

// endpoint simulates an inference server: warming the judge model fails a
// fixed number of times before it becomes available.
type endpoint struct {
	mu             sync.Mutex
	judgeWarmFails int
	warms          []string
	generates      []string
}

func (f *endpoint) Warm(_ context.Context, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warms = append(f.warms, model)
	if model == "judge-model" && f.judgeWarmFails > 0 {
		f.judgeWarmFails--
		return &domain.TransientNetworkError{Op: "warm", Endpoint: f.Endpoint(), Err: errors.New("connection refused")}
	}
	return nil
}

func (f *endpoint) Unload(context.Context, string) error { return nil }

func (f *endpoint) Generate(_ context.Context, req ports.GenerateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generates = append(f.generates, req.Model)
	if strings.Contains(req.Model, "judge") {
		return "```json\n" + `{
  "synthesis": {"executive_summary": "Consistent hashing maps keys onto a ring."},
  "consensus_score": {"groundedness": 0.9, "coherence": 0.9, "completeness": 0.9, "overall": 0.9},
  "final_artifact": {"title": "Consistent hashing", "sections": [{"title": "Summary", "content": "Keys and nodes share a ring."}]},
  "decision": "accept"
}` + "\n```", nil
	}
	return `{"intent": {"primary_goal": "understand consistent hashing"}, "extracted_requirements": ["overview"]}`, nil
}

func (f *endpoint) Endpoint() string { return "http://fake:11434" }

func TestEngine_JudgeRecoversFromUnavailableEndpoint(t *testing.T) {
	ep := &endpoint{judgeWarmFails: 2}
	mgr := slot.NewManager(ep,
		slot.WithLoadRetries(2, 0),
		slot.WithSettle(0),
		slot.WithSleep(retry.NoSleep),
	)
	deps := agent.Deps{Generator: mgr, Sleep: retry.NoSleep}

	interp, err := agent.Build(agent.Profile{Name: "interpreter", Model: "interp-model", FootprintMB: 5000, MaxRetries: 3, Backoff: time.Second}, nil, deps)
	require.NoError(t, err)
	judge, err := agent.Build(agent.Profile{Name: "judge", Model: "judge-model", FootprintMB: 9000, MaxRetries: 3, Backoff: time.Second}, nil, deps)
	require.NoError(t, err)

	attempts := map[string]int{}
	e := NewEngine(registry(interp, judge),
		map[domain.Mode][]string{domain.ModeResearch: {"interpreter", "judge"}},
		WithHooks(domain.LifecycleHooks{
			OnStepFinish: func(_ context.Context, ev *domain.StepEvent) { attempts[ev.Step] = ev.Attempts },
		}),
	)

	run, err := e.Run(context.Background(), newRun(domain.ModeResearch))

	require.NoError(t, err)
	assert.Equal(t, 1, attempts["interpreter"])
	assert.Equal(t, 2, attempts["judge"])
	assert.Empty(t, run.Errors)
	require.NotNil(t, run.Artifact)
	assert.Equal(t, "Consistent hashing", run.Artifact.Title)
	assert.Equal(t, 0, run.Round)
	require.NotNil(t, run.Consensus)
	assert.InDelta(t, 0.9, *run.Consensus, 1e-9)
	assert.Equal(t, []string{"interp-model", "judge-model"}, ep.generates)

	resident, ok := mgr.Resident()
	require.True(t, ok)
	assert.Equal(t, "judge-model", resident.Model)
}
