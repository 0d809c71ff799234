package graph_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/zenforge/internal/presentation/graph"
	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestGeneratePipeline(t *testing.T) {
	out := graph.GeneratePipeline(domain.ModeResearch, []string{"interpreter", "planner", "judge"}, nil)

	for _, want := range []string{
		"graph LR",
		`brief(("research brief"))`,
		`s0_interpreter["interpreter"]`,
		"brief --> s0_interpreter",
		"s0_interpreter --> s1_planner",
		`s2_judge{{"judge"}}`,
		"s2_judge --> artifact",
		`s2_judge -. "needs_revision" .-> s2_judge`,
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "classDef")
}

func TestGeneratePipeline_Overlay(t *testing.T) {
	run := domain.NewRunContext("s", "b", domain.ModeProject, nil, time.Now())
	run.Record("interpreter", domain.IntentOutput{})
	run.Record("planner", domain.PlanOutput{Degraded: true})
	run.AppendError("auditor", errors.New("boom"), time.Now())
	run.Round = 2

	out := graph.GeneratePipeline(domain.ModeProject, []string{"interpreter", "planner", "auditor", "judge"}, graph.OverlayFor(run))

	assert.Contains(t, out, "class s0_interpreter done;")
	assert.Contains(t, out, "class s1_planner degraded;")
	assert.Contains(t, out, "class s2_auditor failed;")
	assert.False(t, strings.Contains(out, "class s3_judge"))
	assert.Contains(t, out, `"needs_revision x2"`)
}
