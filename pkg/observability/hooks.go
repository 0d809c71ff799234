package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/zenforge/pkg/domain"
)

// ComposeLifecycle calls every non-nil callback of each set in order.
func ComposeLifecycle(sets ...domain.LifecycleHooks) domain.LifecycleHooks {
	var start, finish, fail []func(context.Context, *domain.StepEvent)
	var delib []func(context.Context, *domain.DeliberationEvent)
	for _, h := range sets {
		if h.OnStepStart != nil {
			start = append(start, h.OnStepStart)
		}
		if h.OnStepFinish != nil {
			finish = append(finish, h.OnStepFinish)
		}
		if h.OnStepError != nil {
			fail = append(fail, h.OnStepError)
		}
		if h.OnDeliberation != nil {
			delib = append(delib, h.OnDeliberation)
		}
	}
	return domain.LifecycleHooks{
		OnStepStart:    fanOut(start),
		OnStepFinish:   fanOut(finish),
		OnStepError:    fanOut(fail),
		OnDeliberation: fanOut(delib),
	}
}

// ComposeSlot calls every non-nil callback of each set in order.
func ComposeSlot(sets ...domain.SlotHooks) domain.SlotHooks {
	var load, unload, infer []func(context.Context, *domain.SlotEvent)
	for _, h := range sets {
		if h.OnLoad != nil {
			load = append(load, h.OnLoad)
		}
		if h.OnUnload != nil {
			unload = append(unload, h.OnUnload)
		}
		if h.OnInference != nil {
			infer = append(infer, h.OnInference)
		}
	}
	return domain.SlotHooks{
		OnLoad:      fanOut(load),
		OnUnload:    fanOut(unload),
		OnInference: fanOut(infer),
	}
}

func fanOut[E any](fns []func(context.Context, E)) func(context.Context, E) {
	switch len(fns) {
	case 0:
		return nil
	case 1:
		return fns[0]
	}
	return func(ctx context.Context, e E) {
		for _, fn := range fns {
			fn(ctx, e)
		}
	}
}

// LogHooks writes one structured line per lifecycle event.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStepStart: func(_ context.Context, e *domain.StepEvent) {
			logger.Debug("step_start", "session_id", e.SessionID, "step", e.Step)
		},
		OnStepError: func(_ context.Context, e *domain.StepEvent) {
			logger.Warn("step_error", "session_id", e.SessionID, "step", e.Step, "err", e.Err)
		},
		OnDeliberation: func(_ context.Context, e *domain.DeliberationEvent) {
			logger.Info("deliberation", "session_id", e.SessionID, "round", e.Round, "score", e.Score, "decision", e.Decision)
		},
	}
}
