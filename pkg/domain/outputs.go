package domain

import (
	"errors"
	"fmt"
	"time"
)

// Kind tags a step output variant.
type Kind string

const (
	KindIntent        Kind = "intent"
	KindPlan          Kind = "plan"
	KindFindings      Kind = "findings"
	KindAudit         Kind = "audit"
	KindVisualization Kind = "visualization"
	KindJudgment      Kind = "judgment"
)

// Judge decisions.
const (
	DecisionAccept        = "accept"
	DecisionNeedsRevision = "needs_revision"
	DecisionReject        = "reject"
)

// Output is the closed set of step results.
// A value is either a validated payload or a degraded fallback.
type Output interface {
	Kind() Kind
	IsDegraded() bool
	Validate() error
}

// Intent is the interpreted goal of the brief.
type Intent struct {
	PrimaryGoal string `json:"primary_goal" mapstructure:"primary_goal"`
	Domain      string `json:"domain" mapstructure:"domain"`
	OutputType  string `json:"output_type" mapstructure:"output_type"`
	Scope       string `json:"scope" mapstructure:"scope"`
}

// SetFromText accepts a bare goal sentence.
func (i *Intent) SetFromText(s string) {
	i.PrimaryGoal = s
}

type IntentOutput struct {
	Intent                Intent         `json:"intent" mapstructure:"intent"`
	ExtractedRequirements []string       `json:"extracted_requirements" mapstructure:"extracted_requirements"`
	ClarifyingQuestions   []string       `json:"clarifying_questions,omitempty" mapstructure:"clarifying_questions"`
	Confidence            float64        `json:"confidence" mapstructure:"confidence"`
	Degraded              bool           `json:"degraded,omitempty" mapstructure:"degraded"`
	Extra                 map[string]any `json:"extra,omitempty" mapstructure:",remain"`
}

func (o IntentOutput) Kind() Kind       { return KindIntent }
func (o IntentOutput) IsDegraded() bool { return o.Degraded }

func (o IntentOutput) Validate() error {
	return checkUnit("confidence", o.Confidence)
}

// ResearchQuestion is one unit of investigation in a plan.
type ResearchQuestion struct {
	ID       string `json:"id" mapstructure:"id"`
	Question string `json:"question" mapstructure:"question"`
	Priority string `json:"priority,omitempty" mapstructure:"priority"`
}

func (q *ResearchQuestion) SetFromText(s string) {
	q.Question = s
}

type Phase struct {
	Name        string   `json:"name" mapstructure:"name"`
	Description string   `json:"description,omitempty" mapstructure:"description"`
	Tasks       []string `json:"tasks,omitempty" mapstructure:"tasks"`
}

func (p *Phase) SetFromText(s string) {
	p.Name = s
}

type PlanOutput struct {
	ResearchQuestions []ResearchQuestion `json:"research_questions" mapstructure:"research_questions"`
	Phases            []Phase            `json:"phases" mapstructure:"phases"`
	Degraded          bool               `json:"degraded,omitempty" mapstructure:"degraded"`
	Extra             map[string]any     `json:"extra,omitempty" mapstructure:",remain"`
}

func (o PlanOutput) Kind() Kind       { return KindPlan }
func (o PlanOutput) IsDegraded() bool { return o.Degraded }

func (o PlanOutput) Validate() error {
	if len(o.ResearchQuestions) == 0 {
		return errors.New("plan has no research questions")
	}
	return nil
}

// Finding is a grounded claim with the citation ids backing it.
type Finding struct {
	Claim      string   `json:"claim" mapstructure:"claim"`
	Sources    []string `json:"sources,omitempty" mapstructure:"sources"`
	Confidence float64  `json:"confidence,omitempty" mapstructure:"confidence"`
}

func (f *Finding) SetFromText(s string) {
	f.Claim = s
}

type FindingOutput struct {
	Answer            string                `json:"answer" mapstructure:"answer"`
	KeyFindings       []Finding             `json:"key_findings" mapstructure:"key_findings"`
	Contradictions    []string              `json:"contradictions,omitempty" mapstructure:"contradictions"`
	KnowledgeGaps     []string              `json:"knowledge_gaps,omitempty" mapstructure:"knowledge_gaps"`
	OverallConfidence float64               `json:"overall_confidence" mapstructure:"overall_confidence"`
	Evidence          map[string][]Evidence `json:"evidence,omitempty" mapstructure:"-"`
	Degraded          bool                  `json:"degraded,omitempty" mapstructure:"degraded"`
	Extra             map[string]any        `json:"extra,omitempty" mapstructure:",remain"`
}

func (o FindingOutput) Kind() Kind       { return KindFindings }
func (o FindingOutput) IsDegraded() bool { return o.Degraded }

func (o FindingOutput) Validate() error {
	return checkUnit("overall_confidence", o.OverallConfidence)
}

type Risk struct {
	Description string `json:"description" mapstructure:"description"`
	Severity    string `json:"severity,omitempty" mapstructure:"severity"`
	Mitigation  string `json:"mitigation,omitempty" mapstructure:"mitigation"`
}

func (r *Risk) SetFromText(s string) {
	r.Description = s
}

type RiskAssessment struct {
	OverallRiskLevel string `json:"overall_risk_level" mapstructure:"overall_risk_level"`
	Risks            []Risk `json:"risks" mapstructure:"risks"`
}

func (r *RiskAssessment) SetFromText(s string) {
	r.OverallRiskLevel = s
}

type Dependencies struct {
	Technical []string `json:"technical" mapstructure:"technical"`
	Knowledge []string `json:"knowledge" mapstructure:"knowledge"`
}

type Feasibility struct {
	Technical float64  `json:"technical_feasibility" mapstructure:"technical_feasibility"`
	Resource  float64  `json:"resource_feasibility" mapstructure:"resource_feasibility"`
	Time      float64  `json:"time_feasibility" mapstructure:"time_feasibility"`
	Overall   float64  `json:"overall_feasibility" mapstructure:"overall_feasibility"`
	Blockers  []string `json:"blockers,omitempty" mapstructure:"blockers"`
}

type AuditOutput struct {
	RiskAssessment   RiskAssessment `json:"risk_assessment" mapstructure:"risk_assessment"`
	Dependencies     Dependencies   `json:"dependencies" mapstructure:"dependencies"`
	SecurityConcerns []string       `json:"security_concerns,omitempty" mapstructure:"security_concerns"`
	Feasibility      Feasibility    `json:"feasibility_assessment" mapstructure:"feasibility_assessment"`
	Recommendations  []string       `json:"recommendations,omitempty" mapstructure:"recommendations"`
	Degraded         bool           `json:"degraded,omitempty" mapstructure:"degraded"`
	Extra            map[string]any `json:"extra,omitempty" mapstructure:",remain"`
}

func (o AuditOutput) Kind() Kind       { return KindAudit }
func (o AuditOutput) IsDegraded() bool { return o.Degraded }

func (o AuditOutput) Validate() error {
	return checkUnit("overall_feasibility", o.Feasibility.Overall)
}

type Visualization struct {
	Type        string `json:"type" mapstructure:"type"`
	Title       string `json:"title,omitempty" mapstructure:"title"`
	Code        string `json:"code,omitempty" mapstructure:"code"`
	Description string `json:"description,omitempty" mapstructure:"description"`
}

func (v *Visualization) SetFromText(s string) {
	v.Code = s
}

type VisualizationOutput struct {
	Visualizations []Visualization `json:"visualizations" mapstructure:"visualizations"`
	ImagePrompts   []string        `json:"image_prompts" mapstructure:"image_prompts"`
	Degraded       bool            `json:"degraded,omitempty" mapstructure:"degraded"`
	Extra          map[string]any  `json:"extra,omitempty" mapstructure:",remain"`
}

func (o VisualizationOutput) Kind() Kind       { return KindVisualization }
func (o VisualizationOutput) IsDegraded() bool { return o.Degraded }
func (o VisualizationOutput) Validate() error  { return nil }

type Synthesis struct {
	ExecutiveSummary  string   `json:"executive_summary" mapstructure:"executive_summary"`
	KeyInsights       []string `json:"key_insights" mapstructure:"key_insights"`
	ConflictsResolved []string `json:"conflicts_resolved,omitempty" mapstructure:"conflicts_resolved"`
}

func (y *Synthesis) SetFromText(s string) {
	y.ExecutiveSummary = s
}

type ConsensusScore struct {
	Groundedness  float64 `json:"groundedness" mapstructure:"groundedness"`
	Coherence     float64 `json:"coherence" mapstructure:"coherence"`
	Completeness  float64 `json:"completeness" mapstructure:"completeness"`
	Overall       float64 `json:"overall" mapstructure:"overall"`
	Justification string  `json:"justification,omitempty" mapstructure:"justification"`
}

func (c ConsensusScore) validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"groundedness", c.Groundedness},
		{"coherence", c.Coherence},
		{"completeness", c.Completeness},
		{"overall", c.Overall},
	} {
		if err := checkUnit(f.name, f.v); err != nil {
			return err
		}
	}
	return nil
}

type Section struct {
	Title      string  `json:"title" mapstructure:"title"`
	Content    string  `json:"content" mapstructure:"content"`
	Confidence float64 `json:"confidence,omitempty" mapstructure:"confidence"`
}

func (c *Section) SetFromText(s string) {
	c.Content = s
}

type ArtifactMetadata struct {
	CreatedAt          string   `json:"created_at" mapstructure:"created_at"`
	AgentsConsulted    []string `json:"agents_consulted" mapstructure:"agents_consulted"`
	TotalSources       int      `json:"total_sources" mapstructure:"total_sources"`
	DeliberationRounds int      `json:"deliberation_rounds" mapstructure:"deliberation_rounds"`
}

// Artifact is the final synthesized product of a run.
type Artifact struct {
	Type     string           `json:"type" mapstructure:"type"`
	Title    string           `json:"title,omitempty" mapstructure:"title"`
	Sections []Section        `json:"sections" mapstructure:"sections"`
	Metadata ArtifactMetadata `json:"metadata" mapstructure:"metadata"`
}

type JudgeOutput struct {
	Synthesis       Synthesis      `json:"synthesis" mapstructure:"synthesis"`
	Consensus       ConsensusScore `json:"consensus_score" mapstructure:"consensus_score"`
	FinalArtifact   Artifact       `json:"final_artifact" mapstructure:"final_artifact"`
	Recommendations []string       `json:"recommendations,omitempty" mapstructure:"recommendations"`
	Decision        string         `json:"decision" mapstructure:"decision"`
	RevisionNotes   string         `json:"revision_notes,omitempty" mapstructure:"revision_notes"`
	Degraded        bool           `json:"degraded,omitempty" mapstructure:"degraded"`
	Extra           map[string]any `json:"extra,omitempty" mapstructure:",remain"`
}

func (o JudgeOutput) Kind() Kind       { return KindJudgment }
func (o JudgeOutput) IsDegraded() bool { return o.Degraded }

func (o JudgeOutput) Validate() error {
	if o.Decision == "" {
		return errors.New("decision is empty")
	}
	return o.Consensus.validate()
}

// NeedsRevision reports whether the judge asked for another round.
func (o JudgeOutput) NeedsRevision() bool { return o.Decision == DecisionNeedsRevision }

func checkUnit(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s %.3f outside [0,1]", name, v)
	}
	return nil
}

// FillDefaults sets every documented artifact field the judge left empty.
func (a *Artifact) FillDefaults(run *RunContext) {
	if a.Type == "" {
		a.Type = string(run.Mode)
	}
	if a.Sections == nil {
		a.Sections = []Section{}
	}
	if a.Metadata.CreatedAt == "" {
		a.Metadata.CreatedAt = run.CreatedAt.Format(time.RFC3339)
	}
	if a.Metadata.AgentsConsulted == nil {
		a.Metadata.AgentsConsulted = run.Steps()
	}
	if a.Metadata.TotalSources == 0 {
		a.Metadata.TotalSources = run.TotalSources()
	}
	if a.Metadata.DeliberationRounds == 0 {
		a.Metadata.DeliberationRounds = run.Round
	}
}
