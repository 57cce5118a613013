package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnonymizePayload(t *testing.T) {
	marker := PurgeMarker{
		RunID:        "r-1",
		AnonymizedAt: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	}

	payload := map[string]any{
		"name": "Ada", "email": "ada@example.com", "phone": "555", "address": "1 Main St",
		"total":    42,
		"customer": map[string]any{"name": "Ada", "email": "ada@example.com", "segment": "vip"},
	}
	got := anonymizePayload(payload, marker)

	for _, k := range []string{"name", "email", "phone", "address"} {
		assert.NotContains(t, got, k)
	}
	assert.Equal(t, 42, got["total"])

	customer, ok := got["customer"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, customer, "name")
	assert.NotContains(t, customer, "email")
	assert.Equal(t, "vip", customer["segment"], "non-PII nested fields survive")

	m, ok := got["purge_marker"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "r-1", m["run_id"])
	assert.Equal(t, "2025-07-01T00:00:00Z", m["anonymized_at"])
}

func TestAnonymizePayloadNil(t *testing.T) {
	got := anonymizePayload(nil, PurgeMarker{RunID: "r-2"})
	require.NotNil(t, got)
	assert.Contains(t, got, "purge_marker")
}
