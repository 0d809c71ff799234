package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/zenforge/internal/presentation/graph"
	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/ports"
)

// ListSessions prints the stored session IDs.
func ListSessions(ctx context.Context, store ports.RunStore, w io.Writer) error {
	ids, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(ids) == 0 {
		fmt.Fprintln(w, "No stored sessions found.")
		return nil
	}
	fmt.Fprintln(w, "Stored Sessions:")
	for _, id := range ids {
		fmt.Fprintln(w, "- "+id)
	}
	return nil
}

// InspectSession prints a stored run as indented JSON, or as a Mermaid
// flowchart of its pipeline when asGraph is set.
func InspectSession(ctx context.Context, app *App, store ports.RunStore, id string, asGraph bool, w io.Writer) error {
	run, err := store.Load(ctx, id)
	if errors.Is(err, domain.ErrRunNotFound) {
		return fmt.Errorf("session %q not found", id)
	}
	if err != nil {
		return fmt.Errorf("load session %q: %w", id, err)
	}

	if asGraph {
		steps := app.Config.Registry.PipelineMap()[run.Mode]
		if len(steps) == 0 {
			steps = run.Steps()
		}
		fmt.Fprint(w, graph.GeneratePipeline(run.Mode, steps, graph.OverlayFor(run)))
		return nil
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// RemoveSessions deletes every listed session and reports failures together.
func RemoveSessions(ctx context.Context, store ports.RunStore, ids []string, w io.Writer) error {
	var errs []error
	for _, id := range ids {
		if err := store.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("remove %q: %w", id, err))
			continue
		}
		fmt.Fprintf(w, "Removed session '%s'\n", id)
	}
	return errors.Join(errs...)
}
