package cli

import (
	"context"
	"errors"

	"github.com/aretw0/zenforge/pkg/domain"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitIncomplete  = 1
	ExitConfig      = 2
	ExitInterrupted = 130
)

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	var cfg *domain.ConfigurationError
	var incomplete *domain.PipelineIncompleteError
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.As(err, &cfg):
		return ExitConfig
	case errors.As(err, &incomplete):
		return ExitIncomplete
	default:
		return ExitIncomplete
	}
}
