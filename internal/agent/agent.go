// Package agent implements the step contract: one structured output per
// invocation, obtained from an unreliable text model through bounded retries,
// with a degraded fallback that is always returned instead of an error.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/zenforge/internal/extract"
	"github.com/aretw0/zenforge/internal/logging"
	"github.com/aretw0/zenforge/internal/retry"
	"github.com/aretw0/zenforge/internal/slot"
	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/ports"
)

// CorrectiveSuffix is appended to the prompt after an unparseable response.
const CorrectiveSuffix = "\n\nIMPORTANT: Your previous response could not be parsed. " +
	"Please respond with ONLY valid JSON, no markdown, no explanations."

// Step is a unit of work run by the sequencer.
type Step interface {
	Name() string
	// Think never returns an error; failures end in a degraded output.
	Think(ctx context.Context, run *domain.RunContext) Result
}

// Result is the output of one Think call plus what it took to get it.
type Result struct {
	Output   domain.Output
	Attempts int
	// Err is the last failure seen before degrading, nil on success.
	Err error
}

// Generator is the part of the slot manager a step depends on.
type Generator interface {
	Generate(ctx context.Context, req slot.Request) (string, error)
}

// Profile is the configured identity of a step.
type Profile struct {
	Name        string
	Model       string
	FootprintMB int
	// Temperature is nil when the endpoint default applies.
	Temperature *float64
	MaxTokens   int
	MaxRetries  int
	Backoff     time.Duration
}

// Turn is what a behavior sees while building a prompt or decoding a reply.
type Turn struct {
	Run      *domain.RunContext
	Evidence map[string][]domain.Evidence
}

// Behavior is the step specific part of the contract.
type Behavior interface {
	Kind() domain.Kind
	// Input returns the JSON document embedded in the prompt. It must not have side effects.
	Input(t Turn) any
	// Missing lists required fields absent from payload.
	Missing(payload map[string]any) []string
	Decode(payload map[string]any, t Turn) (domain.Output, error)
	Degrade(t Turn) domain.Output
}

// Gatherer is implemented by behaviors that fetch material once before prompting.
type Gatherer interface {
	Gather(ctx context.Context, run *domain.RunContext) map[string][]domain.Evidence
}

// Contract runs a Behavior against a Generator.
type Contract struct {
	profile  Profile
	behavior Behavior
	gen      Generator
	template string
	policy   retry.Policy
	logger   *slog.Logger
}

// Option configures a Contract.
type Option func(*Contract)

// WithLogger configures a logger for the Contract.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Contract) { c.logger = logger }
}

// WithTemplate replaces the embedded prompt template.
func WithTemplate(tmpl string) Option {
	return func(c *Contract) { c.template = tmpl }
}

// WithSleep replaces the backoff wait.
func WithSleep(fn retry.SleepFunc) Option {
	return func(c *Contract) { c.policy.Sleep = fn }
}

// NewContract binds a behavior to its profile and generator.
func NewContract(p Profile, b Behavior, gen Generator, opts ...Option) *Contract {
	c := &Contract{
		profile:  p,
		behavior: b,
		gen:      gen,
		template: DefaultTemplate(p.Name),
		policy:   retry.Policy{MaxAttempts: p.MaxRetries, Base: p.Backoff},
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Contract) Name() string { return c.profile.Name }

// Profile returns the configured profile.
func (c *Contract) Profile() Profile { return c.profile }

// Think runs PREPARING, GENERATING and PARSING until a payload is accepted or
// attempts run out. It recovers from panics in the behavior.
func (c *Contract) Think(ctx context.Context, run *domain.RunContext) (res Result) {
	turn := Turn{Run: run}
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in step %s: %v", c.profile.Name, r)
			c.logger.Error("step panicked, degrading", "step", c.profile.Name, "err", err)
			res = Result{Output: c.degrade(turn), Attempts: res.Attempts, Err: err}
		}
	}()

	if g, ok := c.behavior.(Gatherer); ok {
		turn.Evidence = g.Gather(ctx, run)
	}

	base, err := BuildPrompt(c.template, c.behavior.Input(turn))
	if err != nil {
		return Result{Output: c.degrade(turn), Err: err}
	}

	prompt := base
	attempts := c.policy.Attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if lastErr == nil {
				lastErr = ctxErr
			}
			break
		}
		res.Attempts = attempt
		c.logger.Debug("generating", "step", c.profile.Name, "model", c.profile.Model, "attempt", attempt)

		text, err := c.gen.Generate(ctx, slot.Request{
			Model:       c.profile.Model,
			FootprintMB: c.profile.FootprintMB,
			Requester:   c.profile.Name,
			Prompt:      prompt,
			Sampling: ports.Sampling{
				Temperature: c.profile.Temperature,
				NumPredict:  c.profile.MaxTokens,
			},
		})
		if err != nil {
			lastErr = err
			c.logger.Warn("generation failed", "step", c.profile.Name, "attempt", attempt, "err", err)
			if attempt < attempts {
				_ = c.policy.Wait(ctx, c.policy.Delay(attempt-1))
			}
			continue
		}

		out, err := c.parse(text, turn)
		if err == nil {
			c.logger.Info("step produced output", "step", c.profile.Name, "attempt", attempt)
			return Result{Output: out, Attempts: attempt}
		}
		lastErr = err
		c.logger.Warn("response rejected", "step", c.profile.Name, "attempt", attempt, "err", err)
		if attempt < attempts {
			prompt += CorrectiveSuffix
		}
	}

	c.logger.Error("step degraded", "step", c.profile.Name, "attempts", res.Attempts, "err", lastErr)
	return Result{Output: c.degrade(turn), Attempts: res.Attempts, Err: lastErr}
}

// parse applies extraction, required-field validation, decoding and type-level validation.
func (c *Contract) parse(text string, t Turn) (domain.Output, error) {
	payload, _, err := extract.Object(text)
	if err != nil {
		return nil, &domain.ParseError{Step: c.profile.Name, Snippet: snippet(text)}
	}
	if missing := c.behavior.Missing(payload); len(missing) > 0 {
		return nil, &domain.ValidationError{Step: c.profile.Name, Missing: missing}
	}
	out, err := c.behavior.Decode(payload, t)
	if err != nil {
		return nil, &domain.ValidationError{Step: c.profile.Name, Err: err}
	}
	if err := out.Validate(); err != nil {
		return nil, &domain.ValidationError{Step: c.profile.Name, Err: err}
	}
	return out, nil
}

// degrade never panics: a failing fallback falls back to a blank output of the right kind.
func (c *Contract) degrade(t Turn) (out domain.Output) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("degraded payload failed, using blank output", "step", c.profile.Name, "panic", r)
			out = Blank(c.behavior.Kind())
		}
	}()
	out = c.behavior.Degrade(t)
	if out == nil {
		out = Blank(c.behavior.Kind())
	}
	return out
}

// Blank returns a zero payload of the given kind marked as degraded.
func Blank(kind domain.Kind) domain.Output {
	switch kind {
	case domain.KindIntent:
		return domain.IntentOutput{Degraded: true}
	case domain.KindPlan:
		return domain.PlanOutput{Degraded: true}
	case domain.KindFindings:
		return domain.FindingOutput{Degraded: true}
	case domain.KindAudit:
		return domain.AuditOutput{Degraded: true}
	case domain.KindVisualization:
		return domain.VisualizationOutput{Visualizations: []domain.Visualization{}, ImagePrompts: []string{}, Degraded: true}
	default:
		return domain.JudgeOutput{Decision: domain.DecisionAccept, Degraded: true}
	}
}

func snippet(s string) string {
	const n = 120
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
