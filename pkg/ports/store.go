package ports

import (
	"context"

	"github.com/aretw0/zenforge/pkg/domain"
)

// RunStore persists run contexts so a run can be inspected after the process exits.
type RunStore interface {
	// Save persists the context under its session ID, replacing any earlier checkpoint.
	Save(ctx context.Context, run *domain.RunContext) error

	// Load retrieves a run by session ID.
	// Returns domain.ErrRunNotFound if the run does not exist.
	Load(ctx context.Context, sessionID string) (*domain.RunContext, error)

	// Delete removes a run. Deleting a missing run is not an error.
	Delete(ctx context.Context, sessionID string) error

	// List returns the session IDs of every stored run.
	List(ctx context.Context) ([]string, error)
}
