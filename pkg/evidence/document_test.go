package evidence

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyDocumentRoundTrip(t *testing.T) {
	b := testBuilder(t)
	pack, err := b.Build("t1", map[string]any{"kind": "audit"}, sampleSections())
	require.NoError(t, err)

	raw, err := json.Marshal(pack)
	require.NoError(t, err)

	res := b.VerifyDocument(raw)
	assert.True(t, res.OK, "serialized pack re-verifies after JSON round trip: %s", res.Reason)
}

func TestVerifyDocumentTamperedBytes(t *testing.T) {
	b := testBuilder(t)
	pack, err := b.Build("t1", nil, map[string]any{
		"orders": []map[string]any{{"id": "o-1", "total": 10}},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(pack)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"total":10`, `"total":11`, 1)
	require.NotEqual(t, string(raw), tampered)

	res := b.VerifyDocument([]byte(tampered))
	require.False(t, res.OK)
	assert.Equal(t, ReasonManifestMismatch, res.Reason)
}

func TestVerifyDocumentStructuralFailures(t *testing.T) {
	b := testBuilder(t)

	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{"not json", `{{{`, ReasonInvalidPack},
		{"no data", `{"version":"custodian-pack/v1.0.0","tenant_id":"t1","manifest":{"sections":[],"payload_hash":"x"},"signature":"s","signature_algorithm":"HMAC-SHA256","generated_at":"2025-06-02T09:00:00Z"}`, ReasonMissingData},
		{"empty tenant", `{"version":"custodian-pack/v1.0.0","tenant_id":"","data":{},"manifest":{"sections":[],"payload_hash":"x"},"signature":"s","signature_algorithm":"HMAC-SHA256","generated_at":"2025-06-02T09:00:00Z"}`, ReasonInvalidPack},
		{"missing signature", `{"version":"custodian-pack/v1.0.0","tenant_id":"t1","data":{},"manifest":{"sections":[],"payload_hash":"x"},"signature_algorithm":"HMAC-SHA256","generated_at":"2025-06-02T09:00:00Z"}`, ReasonInvalidPack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := b.VerifyDocument([]byte(tt.raw))
			require.False(t, res.OK)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}
