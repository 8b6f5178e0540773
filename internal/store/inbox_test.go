package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookInbox_Lifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	id, err := s.RecordWebhook(ctx, WebhookRecord{
		ReceivedAt:        t0,
		CheckoutReference: "ws_CO_1",
		Fingerprint:       "abc",
		SignatureValid:    true,
		Payload:           `{"Body":{}}`,
	})
	require.NoError(t, err)

	pending, err := s.ListWebhooks(ctx, WebhookReceived, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Nil(t, pending[0].ProcessedAt)

	require.NoError(t, s.MarkWebhook(ctx, id, WebhookFailed, "boom", t0.Add(time.Second)))

	failed, err := s.ListWebhooks(ctx, WebhookFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].Error)
	require.NotNil(t, failed[0].ProcessedAt)
	assert.Equal(t, t0.Add(time.Second), *failed[0].ProcessedAt)

	all, err := s.ListWebhooks(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMarkWebhook_NotFound(t *testing.T) {
	s := createTestStore(t)
	err := s.MarkWebhook(t.Context(), 42, WebhookProcessed, "", t0)
	assert.ErrorIs(t, err, ErrNotFound)
}
