package agent

import "github.com/aretw0/zenforge/pkg/domain"

// Auditor reviews the plan and findings for risk and feasibility.
type Auditor struct{}

func (Auditor) Kind() domain.Kind { return domain.KindAudit }

func (Auditor) Input(t Turn) any {
	domainName := "unknown"
	if t.Run.Intent != nil && t.Run.Intent.Intent.Domain != "" {
		domainName = t.Run.Intent.Intent.Domain
	}
	var plan any = map[string]any{}
	if t.Run.Plan != nil {
		plan = t.Run.Plan
	}
	findings := t.Run.Findings
	if findings == nil {
		findings = []domain.Finding{}
	}
	return map[string]any{
		"plan":     plan,
		"findings": findings,
		"domain":   domainName,
	}
}

func (Auditor) Missing(payload map[string]any) []string {
	return requireAll(payload, "risk_assessment", "dependencies", "feasibility_assessment")
}

func (Auditor) Decode(payload map[string]any, _ Turn) (domain.Output, error) {
	var out domain.AuditOutput
	if err := decodePayload(payload, &out); err != nil {
		return nil, err
	}
	out.Degraded = false
	return out, nil
}

func (Auditor) Degrade(Turn) domain.Output {
	return domain.AuditOutput{
		RiskAssessment: domain.RiskAssessment{OverallRiskLevel: "medium", Risks: []domain.Risk{}},
		Dependencies:   domain.Dependencies{Technical: []string{}, Knowledge: []string{}},
		Feasibility: domain.Feasibility{
			Technical: 0.7,
			Resource:  0.7,
			Time:      0.7,
			Overall:   0.7,
			Blockers:  []string{},
		},
		SecurityConcerns: []string{},
		Recommendations:  []string{"Proceed with caution"},
		Degraded:         true,
	}
}
