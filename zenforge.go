package zenforge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/introspection"
	"github.com/aretw0/zenforge/internal/agent"
	"github.com/aretw0/zenforge/internal/config"
	"github.com/aretw0/zenforge/internal/logging"
	"github.com/aretw0/zenforge/internal/runtime"
	"github.com/aretw0/zenforge/internal/slot"
	"github.com/aretw0/zenforge/pkg/adapters/memory"
	"github.com/aretw0/zenforge/pkg/adapters/ollama"
	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/observability"
	"github.com/aretw0/zenforge/pkg/ports"
	"github.com/aretw0/zenforge/pkg/session"
	"github.com/google/uuid"
)

// DefaultEndpoint is the local inference server address.
const DefaultEndpoint = "http://localhost:11434"

// SlotLockKey is the distributed lock shared by every process using the accelerator.
const SlotLockKey = "zen:slot"

// InterpreterStep is the step whose clarifying questions drive interactive runs.
const InterpreterStep = "interpreter"

// Forge is the high-level entry point: it owns the configuration, the slot
// manager and the step registry, and runs one pipeline per call.
type Forge struct {
	cfg      *config.Config
	warnings []string

	client    ports.InferenceClient
	slots     *slot.Manager
	sessions  *session.Manager
	retriever ports.Retriever
	progress  *observability.Feed[domain.Progress]

	hooks     domain.LifecycleHooks
	slotHooks domain.SlotHooks
	logger    *slog.Logger
	now       func() time.Time

	endpoint    string
	store       ports.RunStore
	locker      ports.DistributedLocker
	single      string
	singleMB    int
	callTimeout time.Duration
	slotOpts    []slot.Option
	sleep       func(context.Context, time.Duration) error

	threshold float64
	maxRounds int
}

// Option defines a functional option for configuring the Forge.
type Option func(*Forge)

// WithEndpoint sets the inference server address. Ignored when WithClient is used.
func WithEndpoint(url string) Option {
	return func(f *Forge) { f.endpoint = url }
}

// WithClient injects the inference client, bypassing the default Ollama adapter.
func WithClient(c ports.InferenceClient) Option {
	return func(f *Forge) { f.client = c }
}

// WithStore checkpoints every run after each step.
func WithStore(store ports.RunStore) Option {
	return func(f *Forge) { f.store = store }
}

// WithLocker shares the accelerator with other processes through a distributed lock.
func WithLocker(l ports.DistributedLocker) Option {
	return func(f *Forge) { f.locker = l }
}

// WithRetriever sets the evidence source of the grounder. Defaults to an empty corpus.
func WithRetriever(r ports.Retriever) Option {
	return func(f *Forge) { f.retriever = r }
}

// WithSingleModel runs every step on one model.
func WithSingleModel(model string, footprintMB int) Option {
	return func(f *Forge) {
		f.single = model
		f.singleMB = footprintMB
	}
}

// WithInferenceTimeout bounds each inference call.
func WithInferenceTimeout(d time.Duration) Option {
	return func(f *Forge) { f.callTimeout = d }
}

// WithLifecycleHooks registers sequencer observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(f *Forge) { f.hooks = hooks }
}

// WithSlotHooks registers slot manager observability hooks.
func WithSlotHooks(hooks domain.SlotHooks) Option {
	return func(f *Forge) { f.slotHooks = hooks }
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Forge) { f.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(f *Forge) { f.now = now }
}

// WithSleep replaces every backoff and settle wait. Tests pass retry.NoSleep.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(f *Forge) { f.sleep = fn }
}

// WithSlotOptions appends raw slot manager options, applied last.
func WithSlotOptions(opts ...slot.Option) Option {
	return func(f *Forge) { f.slotOpts = append(f.slotOpts, opts...) }
}

// New loads the configuration from configDir (empty for the embedded
// defaults), validates it and assembles the slot manager. It returns a
// ConfigurationError when the pipelines or the hardware are unusable.
func New(configDir string, opts ...Option) (*Forge, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg, opts...)
}

// NewWithConfig is New for an already loaded configuration.
func NewWithConfig(cfg *config.Config, opts ...Option) (*Forge, error) {
	f := &Forge{
		cfg:      cfg,
		endpoint: DefaultEndpoint,
		progress: observability.NewFeed(domain.Progress{}),
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}

	warnings, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	f.warnings = warnings
	for _, w := range warnings {
		f.logger.Warn("hardware check", "warning", w)
	}

	judge, err := agent.DecodeJudge(cfg.Registry.Agents["judge"].Tunables)
	if err != nil {
		return nil, &domain.ConfigurationError{Subject: "agent judge", Reason: err.Error()}
	}
	f.threshold, f.maxRounds = judge.ConsensusThreshold, judge.MaxDeliberationRounds

	if f.client == nil {
		f.client = ollama.New(f.endpoint, ollama.WithLogger(f.logger))
	}
	if f.retriever == nil {
		f.retriever = memory.NewCorpus()
	}
	hw := cfg.Hardware
	lockTTL := f.callTimeout
	if lockTTL <= 0 {
		lockTTL = slot.DefaultCallTimeout
	}
	lockTTL += hw.SwapTimeout()

	if f.store != nil {
		sessionOpts := []session.Option{session.WithLogger(f.logger)}
		if f.locker != nil {
			sessionOpts = append(sessionOpts, session.WithLocker(f.locker, lockTTL))
		}
		f.sessions = session.NewManager(f.store, sessionOpts...)
	}

	slotOpts := []slot.Option{
		slot.WithLogger(f.logger),
		slot.WithHooks(f.slotHooks),
		slot.WithLoadRetries(hw.LoadRetries(), slot.DefaultLoadBackoff),
		slot.WithSettle(hw.Settle()),
		slot.WithTimeouts(hw.SwapTimeout(), f.callTimeout),
		slot.WithMaxFootprint(hw.GPU().MaxModelVRAMMB),
		slot.WithSingleModel(f.single, f.singleMB),
		slot.WithClock(f.now),
	}
	if f.sleep != nil {
		slotOpts = append(slotOpts, slot.WithSleep(f.sleep))
	}
	if f.locker != nil {
		slotOpts = append(slotOpts, slot.WithLocker(f.locker, SlotLockKey, lockTTL))
	}
	f.slots = slot.NewManager(f.client, append(slotOpts, f.slotOpts...)...)

	// Building once surfaces tunable errors before the first run.
	if _, err := f.buildSteps(memory.NewCiter()); err != nil {
		return nil, err
	}
	return f, nil
}

// buildSteps creates one contract per referenced agent. The citer is per run
// so citation numbers restart at [1] for every artifact.
func (f *Forge) buildSteps(citer ports.Citer) (map[string]agent.Step, error) {
	deps := agent.Deps{
		Generator: f.slots,
		Retriever: f.retriever,
		Citer:     citer,
		Logger:    f.logger,
		Template:  f.cfg.Template,
		Sleep:     f.sleep,
	}
	steps := make(map[string]agent.Step)
	for _, name := range f.cfg.Registry.Referenced() {
		p, err := f.cfg.Registry.Profile(name)
		if err != nil {
			return nil, err
		}
		c, err := agent.Build(p, f.cfg.Registry.Agents[name].Tunables, deps)
		if err != nil {
			return nil, err
		}
		steps[name] = c
	}
	return steps, nil
}

func (f *Forge) engine(steps map[string]agent.Step) *runtime.Engine {
	opts := []runtime.Option{
		runtime.WithDeliberation(f.threshold, f.maxRounds),
		runtime.WithHooks(f.hooks),
		runtime.WithProgress(f.progress),
		runtime.WithLogger(f.logger),
		runtime.WithClock(f.now),
	}
	if f.sessions != nil {
		opts = append(opts, runtime.WithStore(f.sessions))
	}
	return runtime.NewEngine(steps, f.cfg.Registry.PipelineMap(), opts...)
}

// Modes lists the modes that have a pipeline.
func (f *Forge) Modes() []domain.Mode {
	return f.engine(nil).Modes()
}

// Steps returns the ordered steps of a mode.
func (f *Forge) Steps(mode domain.Mode) ([]string, error) {
	steps, err := f.buildSteps(memory.NewCiter())
	if err != nil {
		return nil, err
	}
	return f.engine(steps).Resolve(mode)
}

// Run executes one pipeline to completion. See runtime.Engine.Run for the
// meaning of the returned error; a nil context is only returned when the
// request itself is invalid.
func (f *Forge) Run(ctx context.Context, req ports.RunRequest) (*domain.RunContext, error) {
	brief, err := domain.SanitizeBrief(req.Brief)
	if err != nil {
		return nil, &domain.ConfigurationError{Subject: "brief", Reason: err.Error()}
	}
	if !req.Mode.Valid() {
		return nil, &domain.ConfigurationError{Subject: "mode", Reason: fmt.Sprintf("unknown mode %q", req.Mode)}
	}
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	steps, err := f.buildSteps(memory.NewCiter())
	if err != nil {
		return nil, err
	}
	eng := f.engine(steps)
	if _, err := eng.Resolve(req.Mode); err != nil {
		return nil, err
	}

	run := domain.NewRunContext(id, brief, req.Mode, req.Clarifications, f.now())
	if f.sessions != nil {
		if err := f.sessions.Start(ctx, run); err != nil {
			return nil, fmt.Errorf("start session %s: %w", id, err)
		}
	}
	return eng.Run(ctx, run)
}

// Questions runs only the interpreter of the mode's pipeline and returns its
// clarifying questions. The interpreter model stays resident for the run that
// usually follows. Modes without an interpreter have no questions.
func (f *Forge) Questions(ctx context.Context, req ports.RunRequest) ([]string, error) {
	brief, err := domain.SanitizeBrief(req.Brief)
	if err != nil {
		return nil, &domain.ConfigurationError{Subject: "brief", Reason: err.Error()}
	}
	steps, err := f.buildSteps(memory.NewCiter())
	if err != nil {
		return nil, err
	}
	names, err := f.engine(steps).Resolve(req.Mode)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 || names[0] != InterpreterStep {
		return nil, nil
	}

	run := domain.NewRunContext(req.SessionID, brief, req.Mode, req.Clarifications, f.now())
	res := steps[InterpreterStep].Think(ctx, run)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	intent, ok := res.Output.(domain.IntentOutput)
	if !ok || intent.Degraded {
		return nil, nil
	}
	return intent.ClarifyingQuestions, nil
}

// State returns the sequencer position of the latest run.
func (f *Forge) State() domain.Progress { return f.progress.State() }

// Watch streams the sequencer position of every run until ctx is done.
func (f *Forge) Watch(ctx context.Context) <-chan introspection.StateChange[domain.Progress] {
	return f.progress.Watch(ctx)
}

// Release unloads the resident model.
func (f *Forge) Release(ctx context.Context) error {
	return f.slots.Release(ctx)
}

// Config returns the loaded configuration.
func (f *Forge) Config() *config.Config { return f.cfg }

// Warnings returns the hardware compatibility warnings found at construction.
func (f *Forge) Warnings() []string { return f.warnings }

// Client returns the inference client.
func (f *Forge) Client() ports.InferenceClient { return f.client }

// Slots returns the slot manager.
func (f *Forge) Slots() *slot.Manager { return f.slots }

// Store returns the checkpoint store, or nil.
func (f *Forge) Store() ports.RunStore {
	if f.sessions == nil {
		return nil
	}
	return f.sessions
}

var _ ports.Pipeline = (*Forge)(nil)
