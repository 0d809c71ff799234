// Package slot owns the single model residency slot of the host accelerator.
//
// Every lifecycle transition and every inference call goes through a Manager,
// and the whole span of a Generate call (slot verification, swap, request and
// response) runs under one exclusive hold so two callers can never evict each
// other's model mid-response.
package slot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/introspection"
	"github.com/aretw0/zenforge/internal/logging"
	"github.com/aretw0/zenforge/internal/retry"
	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/observability"
	"github.com/aretw0/zenforge/pkg/ports"
)

const (
	DefaultSettle       = 2 * time.Second
	DefaultLoadAttempts = 3
	DefaultLoadBackoff  = time.Second
	DefaultWarmTimeout  = 2 * time.Minute
	DefaultCallTimeout  = 30 * time.Minute
	DefaultLockKey      = "slot"
)

// Request is one inference call routed through the slot.
type Request struct {
	Model       string
	FootprintMB int
	Requester   string
	Prompt      string
	Sampling    ports.Sampling
}

// Manager serializes model loads, unloads and inference calls.
type Manager struct {
	client ports.InferenceClient

	sem chan struct{} // capacity 1, held for a whole lifecycle transition or call

	mu       sync.Mutex // guards resident
	resident *domain.Slot
	feed     *observability.Feed[*domain.Slot]

	locker  ports.DistributedLocker
	lockKey string
	lockTTL time.Duration

	load        retry.Policy
	settle      time.Duration
	warmTimeout time.Duration
	callTimeout time.Duration

	override     *override
	maxFootprint int

	hooks  domain.SlotHooks
	logger *slog.Logger
	now    func() time.Time
}

type override struct {
	model       string
	footprintMB int
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithHooks registers observability callbacks.
func WithHooks(h domain.SlotHooks) Option {
	return func(m *Manager) { m.hooks = h }
}

// WithLocker adds cross-process exclusivity on top of the in-process semaphore.
// The ttl must outlive the longest inference call.
func WithLocker(locker ports.DistributedLocker, key string, ttl time.Duration) Option {
	return func(m *Manager) {
		m.locker = locker
		if key != "" {
			m.lockKey = key
		}
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLoadRetries sets how many warm round-trips a load may take and the base backoff.
func WithLoadRetries(attempts int, base time.Duration) Option {
	return func(m *Manager) {
		m.load.MaxAttempts = attempts
		m.load.Base = base
	}
}

// WithSettle sets the pause between unloading one model and loading the next.
func WithSettle(d time.Duration) Option {
	return func(m *Manager) { m.settle = d }
}

// WithSleep replaces the wait used for backoff and settling.
func WithSleep(fn retry.SleepFunc) Option {
	return func(m *Manager) { m.load.Sleep = fn }
}

// WithTimeouts bounds each warm round-trip and each inference call.
func WithTimeouts(warm, call time.Duration) Option {
	return func(m *Manager) {
		if warm > 0 {
			m.warmTimeout = warm
		}
		if call > 0 {
			m.callTimeout = call
		}
	}
}

// WithSingleModel routes every request to one model so no swap ever happens.
func WithSingleModel(model string, footprintMB int) Option {
	return func(m *Manager) {
		if model != "" {
			m.override = &override{model: model, footprintMB: footprintMB}
		}
	}
}

// WithMaxFootprint sets the accelerator budget used to warn about oversized models.
func WithMaxFootprint(mb int) Option {
	return func(m *Manager) { m.maxFootprint = mb }
}

// WithClock overrides the time source for slot records.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a slot manager in front of client.
func NewManager(client ports.InferenceClient, opts ...Option) *Manager {
	m := &Manager{
		client:  client,
		sem:     make(chan struct{}, 1),
		lockKey: DefaultLockKey,
		lockTTL: DefaultCallTimeout + 5*time.Minute,
		load: retry.Policy{
			MaxAttempts: DefaultLoadAttempts,
			Base:        DefaultLoadBackoff,
		},
		feed:        observability.NewFeed[*domain.Slot](nil),
		settle:      DefaultSettle,
		warmTimeout: DefaultWarmTimeout,
		callTimeout: DefaultCallTimeout,
		logger:      logging.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Resident returns the current slot record, if any.
func (m *Manager) Resident() (domain.Slot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resident == nil {
		return domain.Slot{}, false
	}
	return *m.resident, true
}

// State returns a copy of the resident slot record, nil when the accelerator is empty.
func (m *Manager) State() *domain.Slot {
	return m.feed.State()
}

// Watch streams residency changes until ctx is done. A nil state means no model is loaded.
func (m *Manager) Watch(ctx context.Context) <-chan introspection.StateChange[*domain.Slot] {
	return m.feed.Watch(ctx)
}

// EnsureLoaded makes model the resident model. It is a no-op when the model is already resident.
func (m *Manager) EnsureLoaded(ctx context.Context, model string, footprintMB int, requester string) error {
	release, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return m.ensureLoaded(ctx, model, footprintMB, requester)
}

// Generate loads the requested model if needed and returns the raw response text.
// The slot stays held from verification until the response is received.
func (m *Manager) Generate(ctx context.Context, req Request) (string, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	model, footprint := m.resolve(req.Model, req.FootprintMB)
	if err := m.ensureLoaded(ctx, model, footprint, req.Requester); err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	start := m.now()
	text, err := m.client.Generate(callCtx, ports.GenerateRequest{
		Model:    model,
		Prompt:   req.Prompt,
		Sampling: req.Sampling,
	})
	m.emit(ctx, m.hooks.OnInference, &domain.SlotEvent{
		Model:     model,
		Requester: req.Requester,
		Attempts:  1,
		Duration:  m.now().Sub(start),
		Err:       err,
	})
	if err != nil {
		// Residency is unknown after a failed call; the next request re-verifies it.
		m.setResident(nil)
		return "", fmt.Errorf("generate with %s: %w", model, err)
	}
	return text, nil
}

// Release unloads any resident model. It is used at process teardown.
func (m *Manager) Release(ctx context.Context) error {
	release, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	current, ok := m.Resident()
	if !ok {
		return nil
	}
	if err := m.unload(ctx, current, false); err != nil {
		return fmt.Errorf("release %s: %w", current.Model, err)
	}
	return nil
}

func (m *Manager) resolve(model string, footprintMB int) (string, int) {
	if m.override != nil {
		fp := m.override.footprintMB
		if fp == 0 {
			fp = footprintMB
		}
		return m.override.model, fp
	}
	return model, footprintMB
}

// ensureLoaded must be called with the slot held.
func (m *Manager) ensureLoaded(ctx context.Context, model string, footprintMB int, requester string) error {
	model, footprintMB = m.resolve(model, footprintMB)
	if model == "" {
		return &domain.ConfigurationError{Subject: "model", Reason: "empty model identifier for " + requester}
	}

	if current, ok := m.Resident(); ok {
		if current.Model == model {
			return nil
		}
		if err := m.unload(ctx, current, true); err != nil {
			m.logger.Warn("unload failed, continuing with swap", "model", current.Model, "err", err)
		}
		if err := m.load.Wait(ctx, m.settle); err != nil {
			return err
		}
	}

	if m.maxFootprint > 0 && footprintMB > m.maxFootprint {
		m.logger.Warn("model footprint exceeds accelerator budget",
			"model", model, "footprint_mb", footprintMB, "max_mb", m.maxFootprint)
	}

	m.logger.Info("loading model", "model", model, "step", requester)
	start := m.now()
	attempts, err := m.load.Do(ctx, func(ctx context.Context, attempt int) error {
		warmCtx, cancel := context.WithTimeout(ctx, m.warmTimeout)
		defer cancel()
		err := m.client.Warm(warmCtx, model)
		if err != nil {
			m.logger.Warn("model load attempt failed", "model", model, "attempt", attempt, "err", err)
		}
		return err
	})

	event := &domain.SlotEvent{Model: model, Requester: requester, Attempts: attempts, Duration: m.now().Sub(start)}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			event.Err = err
			m.emit(ctx, m.hooks.OnLoad, event)
			return err
		}
		ru := &domain.ResourceUnavailableError{
			Model:    model,
			Attempts: attempts,
			Endpoint: m.client.Endpoint(),
			NotFound: isNotFound(err),
			Err:      err,
		}
		event.Err = ru
		m.emit(ctx, m.hooks.OnLoad, event)
		return ru
	}

	m.setResident(&domain.Slot{
		Model:       model,
		FootprintMB: footprintMB,
		LoadedAt:    m.now(),
		Requester:   requester,
	})
	m.emit(ctx, m.hooks.OnLoad, event)
	m.logger.Debug("model resident", "model", model, "attempts", attempts)
	return nil
}

// unload clears the record even when the endpoint call fails. swap is false
// at teardown.
func (m *Manager) unload(ctx context.Context, current domain.Slot, swap bool) error {
	warmCtx, cancel := context.WithTimeout(ctx, m.warmTimeout)
	defer cancel()

	start := m.now()
	err := m.client.Unload(warmCtx, current.Model)
	m.setResident(nil)
	m.emit(ctx, m.hooks.OnUnload, &domain.SlotEvent{
		Model:     current.Model,
		Requester: current.Requester,
		Attempts:  1,
		Duration:  m.now().Sub(start),
		Swap:      swap,
		Err:       err,
	})
	return err
}

func (m *Manager) setResident(s *domain.Slot) {
	m.mu.Lock()
	m.resident = s
	m.mu.Unlock()

	var published *domain.Slot
	if s != nil {
		c := *s
		published = &c
	}
	m.feed.Publish(published)
}

func (m *Manager) acquire(ctx context.Context) (func(), error) {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if m.locker == nil {
		return func() { <-m.sem }, nil
	}

	unlock, err := m.locker.Lock(ctx, m.lockKey, m.lockTTL)
	if err != nil {
		<-m.sem
		return nil, fmt.Errorf("failed to acquire slot lock: %w", err)
	}
	return func() {
		// The caller's context may already be done; the lock still has to go.
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("failed to release slot lock (will expire via TTL)", "err", err)
		}
		<-m.sem
	}, nil
}

func (m *Manager) emit(ctx context.Context, fn func(context.Context, *domain.SlotEvent), ev *domain.SlotEvent) {
	if fn != nil {
		fn(ctx, ev)
	}
}

func isNotFound(err error) bool {
	var se *domain.EndpointStatusError
	return errors.As(err, &se) && se.NotFound()
}
