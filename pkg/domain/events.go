package domain

import (
	"context"
	"time"
)

// StepEvent describes one step invocation as seen by the sequencer.
type StepEvent struct {
	SessionID string        `json:"session_id"`
	Step      string        `json:"step"`
	Attempts  int           `json:"attempts,omitempty"`
	Degraded  bool          `json:"degraded,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Err       error         `json:"-"`
}

// SlotEvent describes a model lifecycle transition or an inference call.
type SlotEvent struct {
	Model     string        `json:"model"`
	Requester string        `json:"requester"`
	Attempts  int           `json:"attempts,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	// Swap marks an unload made to free the accelerator for another model.
	Swap      bool          `json:"swap,omitempty"`
	Err       error         `json:"-"`
}

// DeliberationEvent is emitted when the judge asks for another round.
type DeliberationEvent struct {
	SessionID string  `json:"session_id"`
	Round     int     `json:"round"`
	Score     float64 `json:"score"`
	Decision  string  `json:"decision"`
}

// LifecycleHooks defines callbacks for sequencer observability.
type LifecycleHooks struct {
	OnStepStart    func(context.Context, *StepEvent)
	OnStepFinish   func(context.Context, *StepEvent)
	OnStepError    func(context.Context, *StepEvent)
	OnDeliberation func(context.Context, *DeliberationEvent)
}

// SlotHooks defines callbacks for slot manager observability.
type SlotHooks struct {
	OnLoad      func(context.Context, *SlotEvent)
	OnUnload    func(context.Context, *SlotEvent)
	OnInference func(context.Context, *SlotEvent)
}

// Progress is the observable position of the sequencer in the latest run.
// Index is the 1-based position of Step, 0 before the first step.
type Progress struct {
	SessionID string `json:"session_id,omitempty"`
	Mode      Mode   `json:"mode,omitempty"`
	Step      string `json:"step,omitempty"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	Round     int    `json:"round"`
	Running   bool   `json:"running"`
}
