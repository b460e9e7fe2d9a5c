package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecommendRPM(t *testing.T) {
	catalog := DefaultCatalog()

	t.Run("aluminum drilling at 5mm", func(t *testing.T) {
		rec, ok := RecommendRPM(CategoryDrilling, catalog.CuttingSpeeds["aluminum"], 5.0)
		require.True(t, ok)
		assert.InDelta(t, 5092.96, rec.Min, 0.01)
		assert.InDelta(t, 12732.40, rec.Max, 0.01)
		assert.InDelta(t, 8912.68, rec.Mid, 0.01)
	})

	t.Run("bounds are ordered for every material and category", func(t *testing.T) {
		for material, speeds := range catalog.CuttingSpeeds {
			for _, category := range []Category{CategoryMilling, CategoryDrilling, CategoryReaming, CategoryTapping} {
				rec, ok := RecommendRPM(category, speeds, 8.0)
				require.True(t, ok, "material %s category %s", material, category)
				assert.LessOrEqual(t, rec.Min, rec.Mid, "material %s category %s", material, category)
				assert.LessOrEqual(t, rec.Mid, rec.Max, "material %s category %s", material, category)
				assert.Equal(t, (rec.Min+rec.Max)/2, rec.Mid, "material %s category %s", material, category)
			}
		}
	})

	t.Run("round trip through actual cutting speed", func(t *testing.T) {
		speeds := catalog.CuttingSpeeds["steel"]
		for _, d := range []float64{2, 6.35, 12, 50} {
			rec, ok := RecommendRPM(CategoryMilling, speeds, d)
			require.True(t, ok)
			vc := speeds[CategoryMilling]
			assert.InDelta(t, (vc.Min+vc.Max)/2, ActualCuttingSpeed(rec.Mid, d), 1e-9)
		}
	})

	t.Run("no data for category", func(t *testing.T) {
		_, ok := RecommendRPM(CategoryTapping, map[Category]Range{}, 5.0)
		assert.False(t, ok)
	})

	t.Run("non-positive diameter", func(t *testing.T) {
		_, ok := RecommendRPM(CategoryDrilling, catalog.CuttingSpeeds["aluminum"], 0)
		assert.False(t, ok)
		_, ok = RecommendRPM(CategoryDrilling, catalog.CuttingSpeeds["aluminum"], -3)
		assert.False(t, ok)
	})
}

func TestOperationCategory(t *testing.T) {
	tests := []struct {
		op     Operation
		want   Category
		wantOK bool
	}{
		{OpFaceMilling, CategoryMilling, true},
		{OpRoughing, CategoryMilling, true},
		{OpFinishing, CategoryMilling, true},
		{OpChamfering, CategoryMilling, true},
		{OpCenterDrilling, CategoryDrilling, true},
		{OpDrilling, CategoryDrilling, true},
		{OpReaming, CategoryReaming, true},
		{OpTapping, CategoryTapping, true},
		{OpSetup, "", false},
		{OpDeburring, "", false},
		{OpCleanup, "", false},
		{OpFinalInspection, "", false},
		{Operation(""), "", false},
		{Operation("Pocketing Pass"), CategoryMilling, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			got, ok := tt.op.Category()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
