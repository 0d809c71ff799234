package agent

import "github.com/aretw0/zenforge/pkg/domain"

// Visualizer proposes diagrams and image prompts.
type Visualizer struct{}

func (Visualizer) Kind() domain.Kind { return domain.KindVisualization }

func (Visualizer) Input(t Turn) any {
	content := map[string]any{"brief": t.Run.Brief}
	if len(t.Run.Findings) > 0 {
		content["findings"] = truncate(t.Run.Findings, 2)
	}
	if t.Run.Plan != nil {
		content["phases"] = t.Run.Plan.Phases
	}
	area := "general"
	if t.Run.Intent != nil && t.Run.Intent.Intent.Domain != "" {
		area = t.Run.Intent.Intent.Domain
	}
	return map[string]any{"content": content, "context": area}
}

func (Visualizer) Missing(payload map[string]any) []string {
	if has(payload, "visualizations") || has(payload, "image_prompts") {
		return nil
	}
	return []string{"visualizations or image_prompts"}
}

func (Visualizer) Decode(payload map[string]any, _ Turn) (domain.Output, error) {
	var out domain.VisualizationOutput
	if err := decodePayload(payload, &out); err != nil {
		return nil, err
	}
	out.Degraded = false
	if out.Visualizations == nil {
		out.Visualizations = []domain.Visualization{}
	}
	if out.ImagePrompts == nil {
		out.ImagePrompts = []string{}
	}
	return out, nil
}

func (Visualizer) Degrade(Turn) domain.Output {
	return Blank(domain.KindVisualization)
}
