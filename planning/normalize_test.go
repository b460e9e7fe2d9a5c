package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_StructuralInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  []Step
	}{
		{
			name: "empty plan",
			raw:  []Step{},
		},
		{
			name: "nil plan",
			raw:  nil,
		},
		{
			name: "does not start with Setup",
			raw: []Step{
				{Operation: OpDrilling},
				{Operation: OpFinalInspection},
			},
		},
		{
			name: "does not end with Final Inspection",
			raw: []Step{
				{Operation: OpSetup},
				{Operation: OpDrilling},
			},
		},
		{
			name: "single step is not both Setup and Final Inspection",
			raw: []Step{
				{Operation: OpSetup},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.raw)
			assert.ErrorIs(t, err, ErrInvalidPlan)
		})
	}
}

func TestNormalize_FiltersAndCollapses(t *testing.T) {
	raw := []Step{
		{Operation: OpSetup, Notes: "clamp in vise"},
		{Operation: Operation("Teleportation"), Notes: "not a thing"},
		{Operation: OpDrilling, Notes: "4x M6 tap drill"},
		{Operation: OpDrilling},                            // duplicate, no notes: collapsed
		{Operation: OpDrilling, Notes: "counterbore 10mm"}, // duplicate with notes: kept
		{Operation: OpFinalInspection},
	}

	got, err := Normalize(raw)
	require.NoError(t, err)

	require.Len(t, got, 4)
	assert.Equal(t, OpSetup, got[0].Operation)
	assert.Equal(t, OpDrilling, got[1].Operation)
	assert.Equal(t, OpDrilling, got[2].Operation)
	assert.Equal(t, "counterbore 10mm", got[2].Notes)
	assert.Equal(t, OpFinalInspection, got[3].Operation)

	for i, s := range got {
		assert.Equal(t, i+1, s.Number)
	}
}

func TestNormalize_TruncatesToTen(t *testing.T) {
	raw := []Step{{Operation: OpSetup}}
	for i := 0; i < 13; i++ {
		raw = append(raw, Step{Operation: OpDrilling, Notes: "hole group"})
	}
	raw = append(raw, Step{Operation: OpFinalInspection})
	require.Len(t, raw, 15)

	got, err := Normalize(raw)
	require.NoError(t, err)

	require.Len(t, got, 10)
	for i, s := range got {
		assert.Equal(t, i+1, s.Number)
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	raw := []Step{
		{Number: 7, Operation: OpSetup},
		{Number: 9, Operation: OpFinalInspection},
	}

	got, err := Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, 1, got[0].Number)
	assert.Equal(t, 2, got[1].Number)
	assert.Equal(t, 7, raw[0].Number)
	assert.Equal(t, 9, raw[1].Number)
}
