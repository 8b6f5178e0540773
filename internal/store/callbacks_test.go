package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimCallback_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	insertTestSession(t, s, createTestSession("sess-1"))
	key := CallbackKey{CheckoutReference: "ws_CO_1", ResultCode: 0, Receipt: "RCP1"}

	claim := func() bool {
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback()
		inserted, err := tx.ClaimCallback(ctx, key, "fp", "sess-1", t0)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		return inserted
	}

	assert.True(t, claim())
	assert.False(t, claim())

	has, err := s.HasCallback(ctx, key)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestClaimCallback_DistinctOutcomes(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	insertTestSession(t, s, createTestSession("sess-1"))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	first, err := tx.ClaimCallback(ctx, CallbackKey{CheckoutReference: "ws_CO_1", ResultCode: 1032}, "fp1", "sess-1", t0)
	require.NoError(t, err)
	second, err := tx.ClaimCallback(ctx, CallbackKey{CheckoutReference: "ws_CO_1", ResultCode: 0, Receipt: "RCP1"}, "fp2", "sess-1", t0)
	require.NoError(t, err)

	assert.True(t, first)
	assert.True(t, second)
}

func TestClaimCallback_RolledBackClaimIsReleased(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	insertTestSession(t, s, createTestSession("sess-1"))
	key := CallbackKey{CheckoutReference: "ws_CO_1", Receipt: "RCP1"}

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	inserted, err := tx.ClaimCallback(ctx, key, "fp", "sess-1", t0)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, tx.Rollback())

	has, err := s.HasCallback(ctx, key)
	require.NoError(t, err)
	assert.False(t, has)
}
