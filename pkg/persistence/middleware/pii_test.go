package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/zenforge/pkg/adapters/memory"
	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIIMiddleware_MasksMatchingClarifications(t *testing.T) {
	underlying := memory.NewStore()
	mw, err := middleware.NewPIIMiddleware([]string{"(?i)email", "^phone$"})
	require.NoError(t, err)
	store := mw(underlying)
	ctx := context.Background()

	run := newRun("s1")
	run.Clarifications["phone"] = "555-0100"
	require.NoError(t, store.Save(ctx, run))

	stored, err := underlying.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, middleware.Mask, stored.Clarifications["contact_email"])
	assert.Equal(t, middleware.Mask, stored.Clarifications["phone"])
	assert.Equal(t, "small", stored.Clarifications["budget"])

	assert.Equal(t, "ana@example.com", run.Clarifications["contact_email"], "in-memory run is untouched")
}

func TestPIIMiddleware_InvalidPattern(t *testing.T) {
	_, err := middleware.NewPIIMiddleware([]string{"("})
	var cfgErr *domain.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestChain_RedactsBeforeEncrypting(t *testing.T) {
	underlying := memory.NewStore()
	pii, err := middleware.NewPIIMiddleware([]string{"email"})
	require.NoError(t, err)
	enc, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	require.NoError(t, err)

	store := middleware.Chain(underlying, pii, enc)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, newRun("s1")))

	loaded, err := enc(underlying).Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, middleware.Mask, loaded.Clarifications["contact_email"])
}
