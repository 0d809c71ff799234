package ports

import (
	"context"

	"github.com/aretw0/zenforge/pkg/domain"
)

// RunRequest is the input of a pipeline run. An empty SessionID is assigned by the pipeline.
type RunRequest struct {
	SessionID      string            `json:"session_id,omitempty"`
	Brief          string            `json:"brief"`
	Mode           domain.Mode       `json:"mode"`
	Clarifications map[string]string `json:"clarifications,omitempty"`
}

// Pipeline is the driving port used by the service surfaces (HTTP, MCP, CLI).
type Pipeline interface {
	Modes() []domain.Mode
	Steps(mode domain.Mode) ([]string, error)
	// Run blocks until the pipeline finishes. The returned context is non-nil
	// whenever at least one step ran, even if err is non-nil.
	Run(ctx context.Context, req RunRequest) (*domain.RunContext, error)
}
