package agent

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/ports"
)

// excerptLimit is counted in runes.
const excerptLimit = 1500

// Grounder answers research questions from retrieved evidence.
type Grounder struct {
	MaxQuestions int `mapstructure:"max_questions"`
	MaxSources   int `mapstructure:"max_sources"`

	Retriever ports.Retriever `mapstructure:"-"`
	Citer     ports.Citer     `mapstructure:"-"`
	Logger    *slog.Logger    `mapstructure:"-"`
}

func (Grounder) Kind() domain.Kind { return domain.KindFindings }

func (b Grounder) questions(run *domain.RunContext) []domain.ResearchQuestion {
	if run.Plan == nil || len(run.Plan.ResearchQuestions) == 0 {
		return []domain.ResearchQuestion{{ID: "RQ1", Question: run.Brief}}
	}
	return truncate(run.Plan.ResearchQuestions, b.MaxQuestions)
}

// Gather retrieves evidence for each research question. Retrieval failures leave the question without evidence.
func (b Grounder) Gather(ctx context.Context, run *domain.RunContext) map[string][]domain.Evidence {
	evidence := make(map[string][]domain.Evidence)
	if b.Retriever == nil {
		return evidence
	}
	for _, q := range b.questions(run) {
		found, err := b.Retriever.Retrieve(ctx, q.Question, b.MaxSources)
		if err != nil {
			if b.Logger != nil {
				b.Logger.Warn("retrieval failed", "step", "grounder", "question", q.ID, "err", err)
			}
			continue
		}
		found = truncate(found, b.MaxSources)
		for i := range found {
			if b.Citer != nil && found[i].CitationID == "" {
				found[i].CitationID = b.Citer.Cite(found[i])
			}
		}
		evidence[q.Question] = found
	}
	return evidence
}

func (b Grounder) Input(t Turn) any {
	type excerpt struct {
		CitationID string `json:"citation_id,omitempty"`
		Question   string `json:"question"`
		Title      string `json:"title"`
		URL        string `json:"url"`
		Content    string `json:"content"`
	}
	questions := b.questions(t.Run)
	content := []excerpt{}
	for _, q := range questions {
		for _, e := range t.Evidence[q.Question] {
			text := clip(e.Content, excerptLimit)
			content = append(content, excerpt{CitationID: e.CitationID, Question: q.ID, Title: e.Title, URL: e.URL, Content: text})
		}
	}
	return map[string]any{
		"research_questions": questions,
		"retrieved_content":  content,
	}
}

func (Grounder) Missing(payload map[string]any) []string {
	return requireAll(payload, "answer", "key_findings", "overall_confidence")
}

func (Grounder) Decode(payload map[string]any, t Turn) (domain.Output, error) {
	var out domain.FindingOutput
	if err := decodePayload(payload, &out); err != nil {
		return nil, err
	}
	out.Degraded = false
	out.Evidence = t.Evidence
	return out, nil
}

func (Grounder) Degrade(t Turn) domain.Output {
	return domain.FindingOutput{
		Answer:            "Unable to retrieve sufficient evidence",
		KeyFindings:       []domain.Finding{},
		Contradictions:    []string{},
		KnowledgeGaps:     []string{"Insufficient data available"},
		OverallConfidence: 0.3,
		Evidence:          t.Evidence,
		Degraded:          true,
	}
}

// clip returns at most n runes of s without splitting a multibyte sequence.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
