package agent

import "github.com/aretw0/zenforge/pkg/domain"

const defaultIntentConfidence = 0.7

// Interpreter turns the brief into an intent and a requirement list.
type Interpreter struct {
	MaxQuestions int `mapstructure:"max_questions"`
}

func (Interpreter) Kind() domain.Kind { return domain.KindIntent }

func (Interpreter) Input(t Turn) any {
	return map[string]any{
		"user_brief":     t.Run.Brief,
		"execution_mode": t.Run.Mode,
		"clarifications": t.Run.Clarifications,
	}
}

func (Interpreter) Missing(payload map[string]any) []string {
	return requireAll(payload, "intent", "extracted_requirements")
}

func (b Interpreter) Decode(payload map[string]any, t Turn) (domain.Output, error) {
	var out domain.IntentOutput
	if err := decodePayload(payload, &out); err != nil {
		return nil, err
	}
	out.Degraded = false
	if !has(payload, "confidence") {
		out.Confidence = defaultIntentConfidence
	}
	if out.Intent.OutputType == "" {
		out.Intent.OutputType = string(t.Run.Mode)
	}
	out.ClarifyingQuestions = truncate(out.ClarifyingQuestions, b.MaxQuestions)
	return out, nil
}

func (Interpreter) Degrade(t Turn) domain.Output {
	return domain.IntentOutput{
		Intent: domain.Intent{
			PrimaryGoal: t.Run.Brief,
			Domain:      "unknown",
			OutputType:  string(t.Run.Mode),
			Scope:       "moderate",
		},
		ExtractedRequirements: []string{t.Run.Brief},
		ClarifyingQuestions:   []string{},
		Confidence:            0.5,
		Degraded:              true,
	}
}
