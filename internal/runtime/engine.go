// Package runtime implements the sequencer: it resolves the ordered steps of a
// mode, runs them one at a time against the shared context, merges their
// outputs and drives the judge's deliberation counter.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/introspection"
	"github.com/aretw0/zenforge/internal/agent"
	"github.com/aretw0/zenforge/internal/logging"
	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/observability"
	"github.com/aretw0/zenforge/pkg/ports"
)

const (
	DefaultConsensusThreshold = 0.85
	DefaultMaxRounds          = 7
)

// Engine runs pipelines. Steps and pipelines are fixed at construction.
type Engine struct {
	steps     map[string]agent.Step
	pipelines map[domain.Mode][]string

	threshold float64
	maxRounds int

	store    ports.RunStore
	hooks    domain.LifecycleHooks
	progress *observability.Feed[domain.Progress]
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures the Engine.
type Option func(*Engine)

// WithDeliberation sets the judge consensus threshold and the round limit.
func WithDeliberation(threshold float64, maxRounds int) Option {
	return func(e *Engine) {
		e.threshold = threshold
		e.maxRounds = maxRounds
	}
}

// WithStore checkpoints the context after every step.
func WithStore(store ports.RunStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithHooks registers observability callbacks.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithProgress publishes the sequencer position to feed. Engines sharing a
// feed report whichever run moved last.
func WithProgress(feed *observability.Feed[domain.Progress]) Option {
	return func(e *Engine) {
		if feed != nil {
			e.progress = feed
		}
	}
}

// WithLogger configures a logger for the Engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine over an explicit step registry.
func NewEngine(steps map[string]agent.Step, pipelines map[domain.Mode][]string, opts ...Option) *Engine {
	e := &Engine{
		steps:     steps,
		pipelines: pipelines,
		threshold: DefaultConsensusThreshold,
		maxRounds: DefaultMaxRounds,
		progress:  observability.NewFeed(domain.Progress{}),
		logger:    logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve returns the ordered steps of a mode, failing if the mode or any step is unknown.
func (e *Engine) Resolve(mode domain.Mode) ([]string, error) {
	names, ok := e.pipelines[mode]
	if !ok || len(names) == 0 {
		return nil, &domain.ConfigurationError{Subject: "mode", Reason: fmt.Sprintf("no pipeline for mode %q", mode)}
	}
	for _, name := range names {
		if _, ok := e.steps[name]; !ok {
			return nil, &domain.ConfigurationError{Subject: "step " + name, Reason: fmt.Sprintf("not registered (mode %s)", mode)}
		}
	}
	return names, nil
}

// State returns the latest sequencer position.
func (e *Engine) State() domain.Progress {
	return e.progress.State()
}

// Watch streams sequencer positions until ctx is done.
func (e *Engine) Watch(ctx context.Context) <-chan introspection.StateChange[domain.Progress] {
	return e.progress.Watch(ctx)
}

// Modes lists the modes that have a pipeline.
func (e *Engine) Modes() []domain.Mode {
	var out []domain.Mode
	for _, m := range domain.Modes() {
		if _, ok := e.pipelines[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Run executes the pipeline for run.Mode. Step failures are recorded in the
// context and never abort the run. The returned error is a ConfigurationError
// (nothing ran), a PipelineIncompleteError (no artifact), or the context error
// when the run was cancelled.
func (e *Engine) Run(ctx context.Context, run *domain.RunContext) (*domain.RunContext, error) {
	names, err := e.Resolve(run.Mode)
	if err != nil {
		return run, err
	}

	log := e.logger.With("session_id", run.SessionID, "mode", run.Mode)
	log.Info("run started", "steps", len(names))

	pos := domain.Progress{SessionID: run.SessionID, Mode: run.Mode, Total: len(names), Round: run.Round, Running: true}
	e.progress.Publish(pos)

	var cancelErr error
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			cancelErr = err
			e.recordError(ctx, run, name, fmt.Errorf("run cancelled before step: %w", err))
			break
		}
		pos.Step, pos.Index = name, i+1
		e.progress.Publish(pos)
		e.execute(ctx, log, run, name)
		e.checkpoint(ctx, log, run)
		pos.Round = run.Round
	}

	run.Complete(e.now())
	e.checkpoint(ctx, log, run)
	pos.Step, pos.Running = "", false
	e.progress.Publish(pos)

	if cancelErr != nil {
		return run, cancelErr
	}
	if run.Artifact == nil {
		return run, &domain.PipelineIncompleteError{SessionID: run.SessionID, Mode: run.Mode, Errors: len(run.Errors)}
	}
	log.Info("run finished", "errors", len(run.Errors), "round", run.Round)
	return run, nil
}

// execute runs one step. Panics and reducer errors become error records.
func (e *Engine) execute(ctx context.Context, log *slog.Logger, run *domain.RunContext, name string) {
	start := e.now()
	event := &domain.StepEvent{SessionID: run.SessionID, Step: name}
	defer func() {
		if r := recover(); r != nil {
			e.recordError(ctx, run, name, &domain.StepFailureError{Step: name, Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	if e.hooks.OnStepStart != nil {
		e.hooks.OnStepStart(ctx, event)
	}

	res := e.steps[name].Think(ctx, run.Snapshot())

	event.Attempts = res.Attempts
	event.Duration = e.now().Sub(start)
	event.Err = res.Err
	if res.Output != nil {
		event.Degraded = res.Output.IsDegraded()
	}

	if err := e.reduce(ctx, run, name, res.Output); err != nil {
		e.recordError(ctx, run, name, &domain.StepFailureError{Step: name, Err: err})
		return
	}

	log.Info("step finished", "step", name, "attempts", res.Attempts, "degraded", event.Degraded, "duration", event.Duration)
	if e.hooks.OnStepFinish != nil {
		e.hooks.OnStepFinish(ctx, event)
	}
}

// reduce merges a step output into the context according to its variant.
func (e *Engine) reduce(ctx context.Context, run *domain.RunContext, name string, out domain.Output) error {
	if out == nil {
		return errors.New("step returned no output")
	}
	run.Record(name, out)

	switch o := out.(type) {
	case domain.IntentOutput:
		run.Intent = &o
	case domain.PlanOutput:
		run.Plan = &o
	case domain.FindingOutput:
		run.Findings = append(run.Findings, o.KeyFindings...)
		if run.Evidence == nil {
			run.Evidence = make(map[string][]domain.Evidence)
		}
		for q, list := range o.Evidence {
			run.Evidence[q] = append(run.Evidence[q], list...)
		}
	case domain.AuditOutput:
		run.Audit = &o
	case domain.VisualizationOutput:
		run.Visualization = &o
	case domain.JudgeOutput:
		return e.reduceJudgment(ctx, run, o)
	default:
		return fmt.Errorf("unsupported output %T", out)
	}
	return nil
}

func (e *Engine) reduceJudgment(ctx context.Context, run *domain.RunContext, o domain.JudgeOutput) error {
	artifact := o.FinalArtifact
	artifact.FillDefaults(run)
	run.Artifact = &artifact

	score := o.Consensus.Overall
	if err := run.SetConsensus(score); err != nil {
		return err
	}

	if o.NeedsRevision() && run.Round < e.maxRounds && score < e.threshold {
		run.AdvanceRound(e.maxRounds)
		e.logger.Info("judge requested revision", "session_id", run.SessionID, "round", run.Round, "score", score)
		if e.hooks.OnDeliberation != nil {
			e.hooks.OnDeliberation(ctx, &domain.DeliberationEvent{
				SessionID: run.SessionID,
				Round:     run.Round,
				Score:     score,
				Decision:  o.Decision,
			})
		}
	}
	return nil
}

func (e *Engine) recordError(ctx context.Context, run *domain.RunContext, name string, err error) {
	run.AppendError(name, err, e.now())
	e.logger.Error("step failed", "session_id", run.SessionID, "step", name, "err", err)
	if e.hooks.OnStepError != nil {
		e.hooks.OnStepError(ctx, &domain.StepEvent{SessionID: run.SessionID, Step: name, Err: err})
	}
}

// checkpoint is best-effort: a failing store never fails the run.
func (e *Engine) checkpoint(ctx context.Context, log *slog.Logger, run *domain.RunContext) {
	if e.store == nil {
		return
	}
	if err := e.store.Save(context.WithoutCancel(ctx), run.Snapshot()); err != nil {
		log.Warn("checkpoint failed", "err", err)
	}
}
