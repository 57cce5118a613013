package evidence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExporterCollectsAllSections(t *testing.T) {
	b := testBuilder(t)
	ex := NewExporter(b)
	ex.AddSection("orders", func(_ context.Context, tenantID string) (any, error) {
		return []string{tenantID + "/o-1"}, nil
	})
	ex.AddSection("legal_holds", func(_ context.Context, _ string) (any, error) {
		return []string{}, nil
	})

	pack, err := ex.Export(context.Background(), "t1", map[string]any{"kind": "ediscovery"})
	require.NoError(t, err)

	require.Len(t, pack.Manifest.Sections, 2)
	assert.Equal(t, "legal_holds", pack.Manifest.Sections[0].Name)
	assert.Equal(t, "orders", pack.Manifest.Sections[1].Name)
	assert.True(t, b.Verify(pack).OK)
}

func TestExporterFailingSectionAborts(t *testing.T) {
	b := testBuilder(t)
	ex := NewExporter(b)
	ex.AddSection("orders", func(_ context.Context, _ string) (any, error) {
		return []string{"o-1"}, nil
	})
	ex.AddSection("events", func(_ context.Context, _ string) (any, error) {
		return nil, errors.New("backend unavailable")
	})

	_, err := ex.Export(context.Background(), "t1", nil)
	require.Error(t, err, "no partial packs")
	assert.Contains(t, err.Error(), "events")
}
