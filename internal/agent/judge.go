package agent

import (
	"fmt"
	"strings"

	"github.com/aretw0/zenforge/pkg/domain"
)

// Judge synthesizes every earlier output into the final artifact and scores it.
type Judge struct {
	ConsensusThreshold    float64 `mapstructure:"consensus_threshold"`
	MaxDeliberationRounds int     `mapstructure:"max_deliberation_rounds"`
}

func (Judge) Kind() domain.Kind { return domain.KindJudgment }

func (Judge) Input(t Turn) any {
	in := map[string]any{
		"user_brief":         t.Run.Brief,
		"execution_mode":     t.Run.Mode,
		"research_findings":  t.Run.Findings,
		"deliberation_round": t.Run.Round,
	}
	if t.Run.Intent != nil {
		in["intent"] = t.Run.Intent.Intent
	}
	if t.Run.Plan != nil {
		in["plan"] = t.Run.Plan
	}
	if t.Run.Audit != nil {
		in["audit_report"] = t.Run.Audit
	}
	if t.Run.Visualization != nil {
		in["visualizations"] = t.Run.Visualization
	}
	return in
}

func (Judge) Missing(payload map[string]any) []string {
	missing := requireAll(payload, "synthesis", "consensus_score", "final_artifact", "decision")
	return append(missing, requireNested(payload, "consensus_score", "groundedness", "coherence", "completeness", "overall")...)
}

func (Judge) Decode(payload map[string]any, t Turn) (domain.Output, error) {
	var out domain.JudgeOutput
	if err := decodePayload(payload, &out); err != nil {
		return nil, err
	}
	out.Degraded = false
	out.Decision = strings.ToLower(strings.TrimSpace(out.Decision))
	out.FinalArtifact.FillDefaults(t.Run)
	return out, nil
}

func (Judge) Degrade(t Turn) domain.Output {
	sections := []domain.Section{{Title: "Summary", Content: t.Run.Brief, Confidence: 0.5}}
	if len(t.Run.Findings) > 0 {
		var b strings.Builder
		for _, f := range t.Run.Findings {
			fmt.Fprintf(&b, "- %s", f.Claim)
			if len(f.Sources) > 0 {
				fmt.Fprintf(&b, " %s", strings.Join(f.Sources, " "))
			}
			b.WriteByte('\n')
		}
		sections = append(sections, domain.Section{Title: "Findings", Content: strings.TrimRight(b.String(), "\n"), Confidence: 0.5})
	}

	artifact := domain.Artifact{Type: string(t.Run.Mode), Sections: sections}
	artifact.FillDefaults(t.Run)

	return domain.JudgeOutput{
		Synthesis: domain.Synthesis{
			ExecutiveSummary:  t.Run.Brief,
			KeyInsights:       []string{},
			ConflictsResolved: []string{},
		},
		Consensus: domain.ConsensusScore{
			Groundedness:  0.5,
			Coherence:     0.5,
			Completeness:  0.5,
			Overall:       0.5,
			Justification: "Degraded mode - unable to perform full synthesis",
		},
		FinalArtifact:   artifact,
		Recommendations: []string{"Review and refine manually"},
		Decision:        domain.DecisionAccept,
		Degraded:        true,
	}
}
