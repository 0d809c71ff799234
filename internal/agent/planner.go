package agent

import (
	"fmt"

	"github.com/aretw0/zenforge/pkg/domain"
)

// Planner decomposes the intent into research questions and phases.
type Planner struct {
	MaxResearchQuestions int `mapstructure:"max_research_questions"`
}

func (Planner) Kind() domain.Kind { return domain.KindPlan }

func (Planner) Input(t Turn) any {
	in := map[string]any{
		"user_brief":     t.Run.Brief,
		"execution_mode": t.Run.Mode,
	}
	if t.Run.Intent != nil {
		in["intent"] = t.Run.Intent.Intent
		in["requirements"] = t.Run.Intent.ExtractedRequirements
	}
	return in
}

func (Planner) Missing(payload map[string]any) []string {
	return requireAll(payload, "research_questions", "phases")
}

func (b Planner) Decode(payload map[string]any, _ Turn) (domain.Output, error) {
	var out domain.PlanOutput
	if err := decodePayload(payload, &out); err != nil {
		return nil, err
	}
	out.Degraded = false
	out.ResearchQuestions = truncate(out.ResearchQuestions, b.MaxResearchQuestions)
	for i := range out.ResearchQuestions {
		if out.ResearchQuestions[i].ID == "" {
			out.ResearchQuestions[i].ID = fmt.Sprintf("RQ%d", i+1)
		}
	}
	return out, nil
}

func (Planner) Degrade(t Turn) domain.Output {
	return domain.PlanOutput{
		ResearchQuestions: []domain.ResearchQuestion{
			{ID: "RQ1", Question: t.Run.Brief, Priority: "high"},
		},
		Phases: []domain.Phase{
			{Name: "Investigation", Description: "Research the brief", Tasks: []string{"Gather sources", "Summarize findings"}},
		},
		Degraded: true,
	}
}
