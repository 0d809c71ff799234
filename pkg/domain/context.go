package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// ErrorRecord is an append-only entry describing a step failure.
type ErrorRecord struct {
	Step      string    `json:"step"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// StepResult pairs a step name with its output, in execution order.
type StepResult struct {
	Step   string
	Output Output
}

type stepResultJSON struct {
	Step   string          `json:"step"`
	Kind   Kind            `json:"kind"`
	Output json.RawMessage `json:"output"`
}

func (r StepResult) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(r.Output)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stepResultJSON{Step: r.Step, Kind: r.Output.Kind(), Output: payload})
}

func (r *StepResult) UnmarshalJSON(b []byte) error {
	var raw stepResultJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out, err := decodeOutput(raw.Kind, raw.Output)
	if err != nil {
		return fmt.Errorf("step %s: %w", raw.Step, err)
	}
	r.Step, r.Output = raw.Step, out
	return nil
}

func decodeOutput(kind Kind, payload []byte) (Output, error) {
	switch kind {
	case KindIntent:
		return decodeAs[IntentOutput](payload)
	case KindPlan:
		return decodeAs[PlanOutput](payload)
	case KindFindings:
		return decodeAs[FindingOutput](payload)
	case KindAudit:
		return decodeAs[AuditOutput](payload)
	case KindVisualization:
		return decodeAs[VisualizationOutput](payload)
	case KindJudgment:
		return decodeAs[JudgeOutput](payload)
	}
	return nil, fmt.Errorf("unknown output kind %q", kind)
}

func decodeAs[T Output](payload []byte) (Output, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// RunContext is the shared record threaded through every step of a run.
// The sequencer is its only writer; steps receive a Snapshot.
type RunContext struct {
	SessionID      string            `json:"session_id"`
	CreatedAt      time.Time         `json:"created_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	Brief          string            `json:"brief"`
	Mode           Mode              `json:"mode"`
	Clarifications map[string]string `json:"clarifications,omitempty"`

	Outputs       []StepResult          `json:"outputs"`
	Intent        *IntentOutput         `json:"intent,omitempty"`
	Plan          *PlanOutput           `json:"plan,omitempty"`
	Evidence      map[string][]Evidence `json:"evidence,omitempty"`
	Findings      []Finding             `json:"findings,omitempty"`
	Audit         *AuditOutput          `json:"audit,omitempty"`
	Visualization *VisualizationOutput  `json:"visualization,omitempty"`
	Artifact      *Artifact             `json:"final_artifact,omitempty"`
	Consensus     *float64              `json:"consensus_score,omitempty"`
	Round         int                   `json:"deliberation_round"`
	Errors        []ErrorRecord         `json:"errors,omitempty"`
}

// NewRunContext creates the context for a fresh run.
func NewRunContext(sessionID, brief string, mode Mode, clarifications map[string]string, now time.Time) *RunContext {
	return &RunContext{
		SessionID:      sessionID,
		CreatedAt:      now,
		Brief:          brief,
		Mode:           mode,
		Clarifications: maps.Clone(clarifications),
		Evidence:       make(map[string][]Evidence),
	}
}

// Record stores a step output. A step that runs twice keeps its first position.
func (rc *RunContext) Record(step string, out Output) {
	for i := range rc.Outputs {
		if rc.Outputs[i].Step == step {
			rc.Outputs[i].Output = out
			return
		}
	}
	rc.Outputs = append(rc.Outputs, StepResult{Step: step, Output: out})
}

// Output returns the recorded output of a step.
func (rc *RunContext) Output(step string) (Output, bool) {
	for _, r := range rc.Outputs {
		if r.Step == step {
			return r.Output, true
		}
	}
	return nil, false
}

// Steps lists the steps that produced output, in execution order.
func (rc *RunContext) Steps() []string {
	names := make([]string, 0, len(rc.Outputs))
	for _, r := range rc.Outputs {
		names = append(names, r.Step)
	}
	return names
}

// SetConsensus stores the judge score. Values outside [0,1] are rejected.
func (rc *RunContext) SetConsensus(score float64) error {
	if err := checkUnit("consensus score", score); err != nil {
		return err
	}
	rc.Consensus = &score
	return nil
}

// AdvanceRound increments the deliberation counter unless it already reached limit.
func (rc *RunContext) AdvanceRound(limit int) bool {
	if rc.Round >= limit {
		return false
	}
	rc.Round++
	return true
}

// AppendError adds an error record. Records are never removed.
func (rc *RunContext) AppendError(step string, err error, at time.Time) {
	rc.Errors = append(rc.Errors, ErrorRecord{Step: step, Message: err.Error(), Timestamp: at})
}

// Complete stamps the completion time. Only the first call has an effect.
func (rc *RunContext) Complete(at time.Time) bool {
	if rc.CompletedAt != nil {
		return false
	}
	rc.CompletedAt = &at
	return true
}

// TotalSources counts distinct evidence records gathered so far.
func (rc *RunContext) TotalSources() int {
	seen := make(map[string]struct{})
	for _, list := range rc.Evidence {
		for _, e := range list {
			key := e.CitationID
			if key == "" {
				key = e.URL
			}
			seen[key] = struct{}{}
		}
	}
	return len(seen)
}

// Snapshot returns a copy whose collections can be read without racing the writer.
func (rc *RunContext) Snapshot() *RunContext {
	cp := *rc
	cp.Clarifications = maps.Clone(rc.Clarifications)
	cp.Outputs = slices.Clone(rc.Outputs)
	cp.Findings = slices.Clone(rc.Findings)
	cp.Errors = slices.Clone(rc.Errors)
	cp.Evidence = make(map[string][]Evidence, len(rc.Evidence))
	for q, list := range rc.Evidence {
		cp.Evidence[q] = slices.Clone(list)
	}
	if rc.CompletedAt != nil {
		t := *rc.CompletedAt
		cp.CompletedAt = &t
	}
	if rc.Consensus != nil {
		s := *rc.Consensus
		cp.Consensus = &s
	}
	return &cp
}
