package cli

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, ExitOK},
		{"configuration", &domain.ConfigurationError{Subject: "mode", Reason: "unknown"}, ExitConfig},
		{"wrapped configuration", fmt.Errorf("boot: %w", &domain.ConfigurationError{Subject: "x"}), ExitConfig},
		{"incomplete", &domain.PipelineIncompleteError{SessionID: "s1"}, ExitIncomplete},
		{"interrupted", context.Canceled, ExitInterrupted},
		{"interrupted wins", errors.Join(&domain.PipelineIncompleteError{}, context.Canceled), ExitInterrupted},
		{"other", errors.New("disk full"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
