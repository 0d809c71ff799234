package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreContract runs a suite of tests to verify that a RunStore implementation
// adheres to the defined interface contract.
func RunStoreContract(t *testing.T, store RunStore) {
	ctx := context.Background()
	sessionID := "contract-run-" + time.Now().Format("20060102150405")

	newRun := func(id string) *domain.RunContext {
		rc := domain.NewRunContext(id, "contract brief", domain.ModeResearch, map[string]string{"audience": "ops"}, time.Now().UTC())
		rc.Record("interpreter", domain.IntentOutput{
			Intent:                domain.Intent{PrimaryGoal: "contract"},
			ExtractedRequirements: []string{"r1"},
			Confidence:            0.7,
		})
		return rc
	}

	t.Run("Save and Load", func(t *testing.T) {
		run := newRun(sessionID)
		require.NoError(t, run.SetConsensus(0.9))
		run.AppendError("planner", assert.AnError, time.Now().UTC())

		require.NoError(t, store.Save(ctx, run), "Save should not return error")

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, run.Brief, loaded.Brief)
		assert.Equal(t, domain.ModeResearch, loaded.Mode)
		assert.Equal(t, "ops", loaded.Clarifications["audience"])
		require.Len(t, loaded.Outputs, 1)
		assert.Equal(t, domain.KindIntent, loaded.Outputs[0].Output.Kind())
		require.NotNil(t, loaded.Consensus)
		assert.InDelta(t, 0.9, *loaded.Consensus, 1e-9)
		require.Len(t, loaded.Errors, 1)
		assert.Equal(t, "planner", loaded.Errors[0].Step)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, newRun(sessionID)))

		require.NoError(t, store.Delete(ctx, sessionID), "Delete should not return error")

		_, err := store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound, "Load after Delete should return ErrRunNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		require.NoError(t, store.Save(ctx, newRun(id1)))
		require.NoError(t, store.Save(ctx, newRun(id2)))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		runs, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, runs, id1)
		assert.Contains(t, runs, id2)
	})
}
