package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/zenforge/pkg/adapters/memory"
	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunStoreContract(t, store)
}

func TestMemoryStore_IsolatesCallers(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	run := domain.NewRunContext("iso", "brief", domain.ModeLearn, nil, time.Now().UTC())
	require.NoError(t, store.Save(ctx, run))

	run.Brief = "mutated after save"
	loaded, err := store.Load(ctx, "iso")
	require.NoError(t, err)
	assert.Equal(t, "brief", loaded.Brief)

	loaded.Brief = "mutated after load"
	again, err := store.Load(ctx, "iso")
	require.NoError(t, err)
	assert.Equal(t, "brief", again.Brief)
}
