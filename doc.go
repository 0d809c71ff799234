/*
Package zenforge runs multi-step reasoning pipelines on a single local
accelerator that can hold exactly one model at a time.

A brief goes through an ordered list of steps (interpreter, planner, grounder,
auditor, visualizer, judge). Each step asks its own model for one structured
output; the slot manager unloads the previous model before warming the next,
so at most one model is ever resident. A step that cannot obtain a valid
answer degrades instead of failing, and a failing step never aborts the run.

# Usage

	forge, err := zenforge.New("", zenforge.WithEndpoint("http://localhost:11434"))
	if err != nil {
		log.Fatal(err)
	}
	defer forge.Release(context.Background())

	run, err := forge.Run(ctx, ports.RunRequest{
		Brief: "Explain how Raft elects a leader",
		Mode:  domain.ModeLearn,
	})

The returned RunContext holds every step output, the error records, the
judge's consensus score and the final artifact. Rendering it to disk is the
job of internal/render; the zen CLI, the HTTP server and the MCP server are
thin surfaces over Forge.

# Configuration

New reads agents.yaml, hardware.yaml and prompts/<step>.md from the given
directory, falling back to the embedded defaults for anything missing.
*/
package zenforge
