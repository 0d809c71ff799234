package observability

import (
	"context"
	"net/http"

	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Step outcomes used as the "outcome" label.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeError    = "error"
)

// Metrics holds the collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	loads        *prometheus.CounterVec
	swaps        prometheus.Counter
	inference    *prometheus.HistogramVec
	rounds       prometheus.Counter
}

// NewMetrics creates and registers the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zen_steps_total",
			Help: "Step executions by outcome.",
		}, []string{"step", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zen_step_duration_seconds",
			Help:    "Wall time of a step including retries.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"step"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zen_model_loads_total",
			Help: "Model load attempts by outcome.",
		}, []string{"model", "outcome"}),
		swaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zen_model_swaps_total",
			Help: "Unloads of a resident model to make room for another.",
		}),
		inference: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zen_inference_duration_seconds",
			Help:    "Duration of generate calls.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"model"}),
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zen_deliberation_rounds_total",
			Help: "Deliberation rounds requested by the judge.",
		}),
	}
	m.registry.MustRegister(
		m.steps, m.stepDuration, m.loads, m.swaps, m.inference, m.rounds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// LifecycleHooks records step and deliberation metrics.
func (m *Metrics) LifecycleHooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStepFinish: func(_ context.Context, e *domain.StepEvent) {
			outcome := OutcomeOK
			if e.Degraded {
				outcome = OutcomeDegraded
			}
			m.steps.WithLabelValues(e.Step, outcome).Inc()
			m.stepDuration.WithLabelValues(e.Step).Observe(e.Duration.Seconds())
		},
		OnStepError: func(_ context.Context, e *domain.StepEvent) {
			m.steps.WithLabelValues(e.Step, OutcomeError).Inc()
		},
		OnDeliberation: func(context.Context, *domain.DeliberationEvent) {
			m.rounds.Inc()
		},
	}
}

// SlotHooks records load, swap and inference metrics.
func (m *Metrics) SlotHooks() domain.SlotHooks {
	return domain.SlotHooks{
		OnLoad: func(_ context.Context, e *domain.SlotEvent) {
			outcome := OutcomeOK
			if e.Err != nil {
				outcome = OutcomeError
			}
			m.loads.WithLabelValues(e.Model, outcome).Inc()
		},
		OnUnload: func(_ context.Context, e *domain.SlotEvent) {
			if e.Swap {
				m.swaps.Inc()
			}
		},
		OnInference: func(_ context.Context, e *domain.SlotEvent) {
			m.inference.WithLabelValues(e.Model).Observe(e.Duration.Seconds())
		},
	}
}
