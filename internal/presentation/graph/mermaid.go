// Package graph draws pipelines as Mermaid flowcharts.
package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/zenforge/pkg/domain"
)

// Overlay marks how far a run got through the pipeline.
type Overlay struct {
	Completed []string
	Degraded  []string
	Failed    []string
	Rounds    int
}

// OverlayFor derives the overlay from a stored run.
func OverlayFor(run *domain.RunContext) *Overlay {
	o := &Overlay{Rounds: run.Round}
	for _, r := range run.Outputs {
		if r.Output != nil && r.Output.IsDegraded() {
			o.Degraded = append(o.Degraded, r.Step)
			continue
		}
		o.Completed = append(o.Completed, r.Step)
	}
	for _, e := range run.Errors {
		o.Failed = append(o.Failed, e.Step)
	}
	return o
}

// GeneratePipeline produces a left-to-right flowchart of the steps of a mode:
// the brief is a circle, steps are rectangles, the judge is a hexagon and the
// artifact is a stadium. A dotted edge marks the deliberation loop.
func GeneratePipeline(mode domain.Mode, steps []string, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph LR\n")
	fmt.Fprintf(&sb, "    brief((\"%s brief\"))\n", mode)

	prev := "brief"
	judge := ""
	for i, step := range steps {
		id := fmt.Sprintf("s%d_%s", i, sanitizeMermaidID(step))
		opener, closer := "[", "]"
		if step == "judge" {
			opener, closer = "{{", "}}"
			judge = id
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", id, opener, step, closer)
		fmt.Fprintf(&sb, "    %s --> %s\n", prev, id)
		prev = id
	}
	sb.WriteString("    artifact([\"artifact\"])\n")
	fmt.Fprintf(&sb, "    %s --> artifact\n", prev)

	if judge != "" {
		label := "needs_revision"
		if overlay != nil && overlay.Rounds > 0 {
			label = fmt.Sprintf("needs_revision x%d", overlay.Rounds)
		}
		fmt.Fprintf(&sb, "    %s -. \"%s\" .-> %s\n", judge, label, judge)
	}

	if overlay == nil {
		return sb.String()
	}

	sb.WriteString("\n    %% Overlay Styles\n")
	// Black text keeps contrast on both light and dark themes.
	sb.WriteString("    classDef done fill:#e8f5e9,stroke:#2e7d32,stroke-width:2px,color:#000;\n")
	sb.WriteString("    classDef degraded fill:#fff8e1,stroke:#f9a825,stroke-width:2px,color:#000;\n")
	sb.WriteString("    classDef failed fill:#ffebee,stroke:#c62828,stroke-width:3px,color:#000;\n")

	classes := map[string]string{}
	for _, s := range overlay.Completed {
		classes[s] = "done"
	}
	for _, s := range overlay.Degraded {
		classes[s] = "degraded"
	}
	for _, s := range overlay.Failed {
		classes[s] = "failed"
	}
	for i, step := range steps {
		if c, ok := classes[step]; ok {
			fmt.Fprintf(&sb, "    class s%d_%s %s;\n", i, sanitizeMermaidID(step), c)
		}
	}
	return sb.String()
}

func sanitizeMermaidID(id string) string {
	return strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_", " ", "_").Replace(id)
}
