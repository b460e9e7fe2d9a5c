package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cncplanner/tools/storage"
)

func TestCuttingSpeedsGet_Run(t *testing.T) {
	tests := []struct {
		name         string
		input        map[string]any
		wantResolved bool
		wantMaterial string
	}{
		{
			name:         "resolves alloy designation",
			input:        map[string]any{"material": "6061 aluminum"},
			wantResolved: true,
			wantMaterial: "aluminum",
		},
		{
			name:         "longest match wins",
			input:        map[string]any{"material": "stainless steel"},
			wantResolved: true,
			wantMaterial: "stainless",
		},
		{
			name:         "unknown material",
			input:        map[string]any{"material": "unobtainium"},
			wantResolved: false,
		},
		{
			name:         "missing material argument",
			input:        map[string]any{},
			wantResolved: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := NewCuttingSpeedsGet(storage.NewTestCatalogState(catalogBytes(t)))

			out, err := tool.Run(context.Background(), tt.input)
			require.NoError(t, err)

			assert.Equal(t, tt.wantResolved, out["resolved"])
			if tt.wantResolved {
				assert.Equal(t, tt.wantMaterial, out["material"])

				speeds, ok := out["cutting_speeds"].(map[string]any)
				require.True(t, ok)
				for _, category := range []string{"milling", "drilling", "reaming", "tapping"} {
					assert.Contains(t, speeds, category)
				}
			} else {
				known, ok := out["known_materials"].([]any)
				require.True(t, ok)
				assert.NotEmpty(t, known)
			}
		})
	}

	t.Run("propagates storage error", func(t *testing.T) {
		tool := NewCuttingSpeedsGet(storage.NewTestCatalogStateWithError())
		_, err := tool.Run(context.Background(), map[string]any{"material": "steel"})
		assert.Error(t, err)
	})
}
