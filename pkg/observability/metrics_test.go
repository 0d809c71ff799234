package observability_test

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_StepOutcomes(t *testing.T) {
	m := observability.NewMetrics()
	h := m.LifecycleHooks()
	ctx := context.Background()

	h.OnStepFinish(ctx, &domain.StepEvent{Step: "planner", Duration: time.Second})
	h.OnStepFinish(ctx, &domain.StepEvent{Step: "planner", Degraded: true})
	h.OnStepError(ctx, &domain.StepEvent{Step: "judge", Err: errors.New("x")})
	h.OnDeliberation(ctx, &domain.DeliberationEvent{Round: 1})

	body := scrape(t, m)
	assert.Contains(t, body, `zen_steps_total{outcome="degraded",step="planner"} 1`)
	assert.Contains(t, body, `zen_steps_total{outcome="error",step="judge"} 1`)
	assert.Contains(t, body, `zen_steps_total{outcome="ok",step="planner"} 1`)
	assert.Contains(t, body, `zen_step_duration_seconds_count{step="planner"} 2`)
	assert.Contains(t, body, "zen_deliberation_rounds_total 1")
}

func TestMetrics_SlotHooksAndHandler(t *testing.T) {
	m := observability.NewMetrics()
	h := m.SlotHooks()
	ctx := context.Background()

	h.OnLoad(ctx, &domain.SlotEvent{Model: "qwen"})
	h.OnLoad(ctx, &domain.SlotEvent{Model: "qwen", Err: errors.New("refused")})
	h.OnUnload(ctx, &domain.SlotEvent{Model: "qwen", Swap: true})
	h.OnUnload(ctx, &domain.SlotEvent{Model: "qwen"})
	h.OnInference(ctx, &domain.SlotEvent{Model: "qwen", Duration: 2 * time.Second})

	body := scrape(t, m)
	assert.Contains(t, body, `zen_model_loads_total{model="qwen",outcome="error"} 1`)
	assert.Contains(t, body, `zen_model_loads_total{model="qwen",outcome="ok"} 1`)
	assert.Contains(t, body, "zen_model_swaps_total 1")
	assert.Contains(t, body, `zen_inference_duration_seconds_count{model="qwen"} 1`)
}

func scrape(t *testing.T, m *observability.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestComposeLifecycle_CallsAllInOrder(t *testing.T) {
	var calls []string
	a := domain.LifecycleHooks{OnStepStart: func(context.Context, *domain.StepEvent) { calls = append(calls, "a") }}
	b := domain.LifecycleHooks{
		OnStepStart:  func(context.Context, *domain.StepEvent) { calls = append(calls, "b") },
		OnStepFinish: func(context.Context, *domain.StepEvent) { calls = append(calls, "b-finish") },
	}

	h := observability.ComposeLifecycle(a, domain.LifecycleHooks{}, b)
	h.OnStepStart(context.Background(), &domain.StepEvent{})
	h.OnStepFinish(context.Background(), &domain.StepEvent{})

	assert.Equal(t, []string{"a", "b", "b-finish"}, calls)
	assert.Nil(t, h.OnStepError)
}
