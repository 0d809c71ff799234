package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/aretw0/zenforge/internal/retry"
	"github.com/aretw0/zenforge/internal/slot"
	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reply struct {
	text string
	err  error
}

// scripted returns canned replies in order, then fails.
type scripted struct {
	mu      sync.Mutex
	replies []reply
	calls   []slot.Request
}

func (s *scripted) Generate(_ context.Context, req slot.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if len(s.replies) == 0 {
		return "", errors.New("unreachable endpoint")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r.text, r.err
}

func texts(ts ...string) []reply {
	out := make([]reply, len(ts))
	for i, t := range ts {
		out[i] = reply{text: t}
	}
	return out
}

func testRun() *domain.RunContext {
	return domain.NewRunContext("s1", "Explain consistent hashing", domain.ModeResearch, nil, time.Unix(1700000000, 0).UTC())
}

func build(t *testing.T, name string, gen Generator, retries int) *Contract {
	t.Helper()
	c, err := Build(Profile{Name: name, Model: "m-" + name, FootprintMB: 4000, MaxRetries: retries, Backoff: time.Second},
		nil, Deps{Generator: gen, Sleep: retry.NoSleep})
	require.NoError(t, err)
	return c
}

func TestContract_RetryBoundIsExact(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		gen := &scripted{replies: texts("no", "json", "here", "at", "all", "ever")}
		c := build(t, "interpreter", gen, n)

		res := c.Think(context.Background(), testRun())

		assert.Equal(t, n, res.Attempts)
		assert.Len(t, gen.calls, n)
		assert.True(t, res.Output.IsDegraded())
		var pe *domain.ParseError
		assert.ErrorAs(t, res.Err, &pe)
	}
}

func TestContract_NeverFailsForAnyStep(t *testing.T) {
	run := testRun()
	run.Findings = []domain.Finding{{Claim: "ring of virtual nodes", Sources: []string{"[1]"}}}

	for _, name := range Known() {
		t.Run(name, func(t *testing.T) {
			gen := &scripted{replies: []reply{{err: errors.New("connection refused")}, {text: "<html>503</html>"}, {text: "[1,2]"}}}
			c := build(t, name, gen, 3)

			var res Result
			require.NotPanics(t, func() { res = c.Think(context.Background(), run) })
			require.NotNil(t, res.Output)
			assert.True(t, res.Output.IsDegraded())
			assert.NoError(t, res.Output.Validate(), "degraded payload must be valid")
			assert.Equal(t, 3, res.Attempts)
		})
	}
}

func TestContract_CorrectiveSuffixOnlyAfterParseFailure(t *testing.T) {
	gen := &scripted{replies: []reply{
		{err: errors.New("timeout")},
		{text: "Sorry, I cannot"},
		{text: `{"intent": {"primary_goal": "g"}, "extracted_requirements": ["r"]}`},
	}}
	c := build(t, "interpreter", gen, 3)

	res := c.Think(context.Background(), testRun())

	require.False(t, res.Output.IsDegraded())
	require.Len(t, gen.calls, 3)
	assert.False(t, strings.Contains(gen.calls[1].Prompt, CorrectiveSuffix), "generation error keeps the prompt")
	assert.True(t, strings.HasSuffix(gen.calls[2].Prompt, CorrectiveSuffix))
	assert.True(t, strings.HasPrefix(gen.calls[2].Prompt, gen.calls[0].Prompt))
}

func TestContract_BackoffDoublesAfterGenerationErrors(t *testing.T) {
	var waits []time.Duration
	gen := &scripted{replies: []reply{{err: errors.New("a")}, {err: errors.New("b")}, {err: errors.New("c")}}}
	c := NewContract(
		Profile{Name: "auditor", Model: "m", MaxRetries: 3, Backoff: time.Second},
		Auditor{}, gen,
		WithSleep(func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		}),
	)

	res := c.Think(context.Background(), testRun())

	assert.True(t, res.Output.IsDegraded())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

func TestContract_MissingFieldsRetry(t *testing.T) {
	gen := &scripted{replies: texts(
		`{"research_questions": [{"question": "q"}]}`,
		`{"research_questions": ["What is a hash ring?", {"id": "X9", "question": "Why vnodes?"}], "phases": ["Read"]}`,
	)}
	c := build(t, "planner", gen, 3)

	res := c.Think(context.Background(), testRun())

	require.False(t, res.Output.IsDegraded())
	assert.Equal(t, 2, res.Attempts)
	plan := res.Output.(domain.PlanOutput)
	require.Len(t, plan.ResearchQuestions, 2)
	assert.Equal(t, "RQ1", plan.ResearchQuestions[0].ID)
	assert.Equal(t, "What is a hash ring?", plan.ResearchQuestions[0].Question)
	assert.Equal(t, "X9", plan.ResearchQuestions[1].ID)
	assert.Equal(t, "Read", plan.Phases[0].Name)
}

func TestContract_RecoversFromPanickingBehavior(t *testing.T) {
	gen := &scripted{replies: texts(`{"a": 1}`)}
	c := NewContract(Profile{Name: "interpreter", MaxRetries: 2}, panicky{}, gen)

	var res Result
	require.NotPanics(t, func() { res = c.Think(context.Background(), testRun()) })
	assert.True(t, res.Output.IsDegraded())
	assert.Equal(t, domain.KindIntent, res.Output.Kind())
	assert.Error(t, res.Err)
}

type panicky struct{ Interpreter }

func (panicky) Missing(map[string]any) []string { panic("boom") }
func (panicky) Degrade(Turn) domain.Output      { panic("boom again") }

func TestContract_CancelledContextDegrades(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := &scripted{}
	c := build(t, "judge", gen, 3)

	res := c.Think(ctx, testRun())

	assert.True(t, res.Output.IsDegraded())
	assert.Empty(t, gen.calls)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestContract_PassesProfileToGenerator(t *testing.T) {
	gen := &scripted{replies: texts(`{"visualizations": []}`)}
	temperature := 0.4
	c, err := Build(Profile{Name: "visualizer", Model: "llava", FootprintMB: 2500, Temperature: &temperature, MaxTokens: 2048, MaxRetries: 1}, nil, Deps{Generator: gen})
	require.NoError(t, err)

	res := c.Think(context.Background(), testRun())

	require.False(t, res.Output.IsDegraded())
	require.Len(t, gen.calls, 1)
	req := gen.calls[0]
	assert.Equal(t, "llava", req.Model)
	assert.Equal(t, 2500, req.FootprintMB)
	assert.Equal(t, "visualizer", req.Requester)
	require.NotNil(t, req.Sampling.Temperature)
	assert.Equal(t, 0.4, *req.Sampling.Temperature)
	assert.Equal(t, 2048, req.Sampling.NumPredict)
	assert.Contains(t, req.Prompt, "Provide your response as valid JSON only:")
}

func TestBuild_UnknownStep(t *testing.T) {
	_, err := Build(Profile{Name: "oracle"}, nil, Deps{})
	var cfgErr *domain.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestBuild_TemplateOverride(t *testing.T) {
	gen := &scripted{replies: texts(`{"visualizations": []}`)}
	c, err := Build(Profile{Name: "visualizer", MaxRetries: 1}, nil, Deps{
		Generator: gen,
		Template:  func(string) string { return "CUSTOM TEMPLATE" },
	})
	require.NoError(t, err)

	c.Think(context.Background(), testRun())
	assert.True(t, strings.HasPrefix(gen.calls[0].Prompt, "CUSTOM TEMPLATE"))
}

func TestGrounder_ExcerptsStopOnRuneBoundary(t *testing.T) {
	content := strings.Repeat("a", excerptLimit-1) + "日本語"
	run := testRun()
	in := Grounder{}.Input(Turn{Run: run, Evidence: map[string][]domain.Evidence{
		run.Brief: {{Title: "t", Content: content}},
	}}).(map[string]any)

	got := in["retrieved_content"]
	raw, err := json.Marshal(got)
	require.NoError(t, err)
	var excerpts []struct {
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(raw, &excerpts))
	require.Len(t, excerpts, 1)
	assert.True(t, utf8.ValidString(excerpts[0].Content))
	assert.Equal(t, excerptLimit, utf8.RuneCountInString(excerpts[0].Content))
	assert.True(t, strings.HasSuffix(excerpts[0].Content, "日"))
}

func TestClip(t *testing.T) {
	assert.Equal(t, "héllo", clip("héllo", 10))
	assert.Equal(t, "hé", clip("héllo", 2))
	assert.Equal(t, "", clip("日本", 0))
}
