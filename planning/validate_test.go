package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_FillsMissingRPMAndCapsToMachine(t *testing.T) {
	v := NewValidator(DefaultCatalog())

	plan := []Step{
		{Number: 1, Operation: OpDrilling, ToolDescription: "Drill Bit", ToolDiameterMm: 5.0},
	}

	got := v.Validate(plan, "6061 aluminum", nil)
	require.Len(t, got, 1)

	// Vc 80-200 m/min at 5mm puts the midpoint near 8913, above the 8100 rpm machine limit.
	assert.Equal(t, float64(8100), got[0].SpindleSpeedRPM)
	assert.Contains(t, got[0].ValidationFlags, FlagRPMFilledRecommendedThenMachineCap)
	assert.Contains(t, got[0].ValidationWarnings, "capped to machine limit 8100")
}

func TestValidate_FillsMissingRPMFromMidpoint(t *testing.T) {
	v := NewValidator(DefaultCatalog())

	// Steel drilling at 10mm: Vc 25-40 gives roughly 796-1273 rpm, well under the machine.
	plan := []Step{
		{Number: 1, Operation: OpDrilling, ToolDescription: "Drill Bit", ToolDiameterMm: 10.0},
	}

	got := v.Validate(plan, "1045 steel", nil)
	require.Len(t, got, 1)

	filled, ok := got[0].SpindleSpeedRPM.(float64)
	require.True(t, ok)
	assert.InDelta(t, 1034.51, filled, 0.01)
	assert.Equal(t, []string{FlagRPMFilledFromRecommendation}, got[0].ValidationFlags)
}

func TestValidate_ClampsRPMToRecommendedRange(t *testing.T) {
	v := NewValidator(DefaultCatalog())

	tests := []struct {
		name     string
		speed    float64
		wantFlag string
		wantRPM  float64
	}{
		{
			// Steel milling at 20mm: Vc 80-150 gives roughly 1273-2387 rpm.
			name:     "below recommended minimum",
			speed:    500,
			wantFlag: FlagRPMBelowRecommendedClamped,
			wantRPM:  1273.24,
		},
		{
			name:     "above recommended maximum",
			speed:    5000,
			wantFlag: FlagRPMAboveRecommendedClamped,
			wantRPM:  2387.32,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := []Step{
				{Number: 1, Operation: OpRoughing, ToolDescription: "End Mill", SpindleSpeedRPM: tt.speed, ToolDiameterMm: 20.0},
			}

			got := v.Validate(plan, "steel", nil)
			require.Len(t, got, 1)

			rpm, ok := got[0].SpindleSpeedRPM.(float64)
			require.True(t, ok)
			assert.InDelta(t, tt.wantRPM, rpm, 0.01)
			assert.Contains(t, got[0].ValidationFlags, tt.wantFlag)
			assert.Contains(t, got[0].ValidationWarnings, "Vc ~")
		})
	}
}

func TestValidate_InRangeRPMUntouched(t *testing.T) {
	v := NewValidator(DefaultCatalog())

	plan := []Step{
		{Number: 1, Operation: OpRoughing, ToolDescription: "End Mill", SpindleSpeedRPM: 2000.0, ToolDiameterMm: 20.0},
	}

	got := v.Validate(plan, "steel", nil)
	require.Len(t, got, 1)

	assert.Equal(t, 2000.0, got[0].SpindleSpeedRPM)
	assert.Empty(t, got[0].ValidationFlags)
	assert.Equal(t, "OK", got[0].ValidationWarnings)
}

func TestValidate_MachineBelowRecommendedRange(t *testing.T) {
	catalog := DefaultCatalog()
	catalog.MachineLimits.MaxSpindleSpeedRPM = 3000
	v := NewValidator(catalog)

	// Aluminum drilling at 5mm recommends at least ~5093 rpm, beyond a 3000 rpm spindle.
	plan := []Step{
		{Number: 1, Operation: OpDrilling, ToolDescription: "Drill Bit", SpindleSpeedRPM: 6000.0, ToolDiameterMm: 5.0},
	}

	got := v.Validate(plan, "aluminum", nil)
	require.Len(t, got, 1)

	assert.Equal(t, float64(3000), got[0].SpindleSpeedRPM)
	assert.Equal(t, []string{FlagRPMMachineBelowRecommended}, got[0].ValidationFlags)
	assert.Contains(t, got[0].ValidationWarnings, "underspeed")
}

func TestValidate_ToolOperationMismatch(t *testing.T) {
	v := NewValidator(DefaultCatalog())

	plan := []Step{
		{Number: 1, Operation: OpTapping, ToolDescription: "End Mill", Notes: "M6 thread"},
	}

	got := v.Validate(plan, "aluminum", nil)
	require.Len(t, got, 1)

	assert.Contains(t, got[0].ValidationFlags, FlagToolOpMismatch)
	assert.Contains(t, got[0].ValidationWarnings, "Recommended: Tap")
}

func TestValidate_CompatibleToolPasses(t *testing.T) {
	v := NewValidator(DefaultCatalog())

	plan := []Step{
		{Number: 1, Operation: OpDrilling, ToolDescription: "5mm carbide drill bit", SpindleSpeedRPM: 6000.0, ToolDiameterMm: 5.0},
	}

	got := v.Validate(plan, "aluminum", nil)
	require.Len(t, got, 1)
	assert.NotContains(t, got[0].ValidationFlags, FlagToolOpMismatch)
}

func TestValidate_FeedCappedToMachine(t *testing.T) {
	v := NewValidator(DefaultCatalog())

	plan := []Step{
		{Number: 1, Operation: OpFaceMilling, ToolDescription: "Face Mill", SpindleSpeedRPM: 2000.0, FeedRateMmMin: 20000.0, ToolDiameterMm: 50.0},
	}

	got := v.Validate(plan, "aluminum", nil)
	require.Len(t, got, 1)

	assert.Equal(t, float64(15000), got[0].FeedRateMmMin)
	assert.Contains(t, got[0].ValidationFlags, FlagFeedCappedToMachine)
}

func TestValidate_NegativeValuesFlooredAtZero(t *testing.T) {
	v := NewValidator(DefaultCatalog())

	plan := []Step{
		{Number: 1, Operation: OpSetup, ToolDescription: "Vise", SpindleSpeedRPM: -100.0, FeedRateMmMin: -500.0},
	}

	got := v.Validate(plan, "aluminum", nil)
	require.Len(t, got, 1)

	assert.Equal(t, float64(0), got[0].SpindleSpeedRPM)
	assert.Equal(t, float64(0), got[0].FeedRateMmMin)
	assert.Contains(t, got[0].ValidationFlags, FlagRPMNegativeToZero)
	assert.Contains(t, got[0].ValidationFlags, FlagFeedNegativeToZero)
}

func TestValidate_UnknownMaterialSkipsRPMValidation(t *testing.T) {
	v := NewValidator(DefaultCatalog())

	plan := []Step{
		{Number: 1, Operation: OpDrilling, ToolDescription: "Drill Bit", SpindleSpeedRPM: 4000.0, ToolDiameterMm: 5.0},
	}

	got := v.Validate(plan, "unobtainium", nil)
	require.Len(t, got, 1)

	assert.Equal(t, 4000.0, got[0].SpindleSpeedRPM)
	assert.Equal(t, []string{FlagMaterialUnknownSkipRPM}, got[0].ValidationFlags)
}

func TestValidate_MissingRPMWithoutBasis(t *testing.T) {
	v := NewValidator(DefaultCatalog())

	// Category exists but there is no tool diameter to derive a recommendation from.
	plan := []Step{
		{Number: 1, Operation: OpDrilling, ToolDescription: "Drill Bit"},
	}

	got := v.Validate(plan, "aluminum", nil)
	require.Len(t, got, 1)

	assert.Nil(t, got[0].SpindleSpeedRPM)
	assert.Equal(t, []string{FlagRPMNullNoBasis}, got[0].ValidationFlags)
}

func TestValidate_UnparseableNumbersTreatedAsAbsent(t *testing.T) {
	v := NewValidator(DefaultCatalog())

	plan := []Step{
		{Number: 1, Operation: OpDrilling, ToolDescription: "Drill Bit", SpindleSpeedRPM: "fast", ToolDiameterMm: "5.0"},
	}

	got := v.Validate(plan, "aluminum", nil)
	require.Len(t, got, 1)

	// The diameter string coerces; the junk speed counts as null and is filled.
	assert.Contains(t, got[0].ValidationFlags, FlagRPMFilledRecommendedThenMachineCap)
	assert.Equal(t, float64(8100), got[0].SpindleSpeedRPM)
}

func TestValidate_Idempotent(t *testing.T) {
	v := NewValidator(DefaultCatalog())

	plan := []Step{
		{Number: 1, Operation: OpSetup, ToolDescription: "Vise"},
		{Number: 2, Operation: OpRoughing, ToolDescription: "End Mill", SpindleSpeedRPM: 9000.0, FeedRateMmMin: 20000.0, ToolDiameterMm: 10.0},
		{Number: 3, Operation: OpDrilling, ToolDescription: "Drill Bit", ToolDiameterMm: 5.0},
		{Number: 4, Operation: OpFinalInspection},
	}

	first := v.Validate(plan, "6061 aluminum", nil)
	second := v.Validate(first, "6061 aluminum", nil)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].SpindleSpeedRPM, second[i].SpindleSpeedRPM, "step %d", i+1)
		assert.Equal(t, first[i].FeedRateMmMin, second[i].FeedRateMmMin, "step %d", i+1)
		assert.Empty(t, second[i].ValidationFlags, "step %d should need no further correction", i+1)
	}
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	v := NewValidator(DefaultCatalog())

	plan := []Step{
		{Number: 1, Operation: OpFaceMilling, ToolDescription: "Face Mill", SpindleSpeedRPM: 99000.0, FeedRateMmMin: 90000.0, ToolDiameterMm: 50.0},
	}

	_ = v.Validate(plan, "aluminum", nil)

	assert.Equal(t, 99000.0, plan[0].SpindleSpeedRPM)
	assert.Equal(t, 90000.0, plan[0].FeedRateMmMin)
	assert.Nil(t, plan[0].ValidationFlags)
}
