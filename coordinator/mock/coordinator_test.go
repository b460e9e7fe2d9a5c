package mock

import (
	"context"
	"encoding/json"
	"testing"

	"cncplanner"
	"cncplanner/planning"
	"cncplanner/tools"
	"cncplanner/tools/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	data, err := json.Marshal(planning.DefaultCatalog())
	require.NoError(t, err)
	registry, err := tools.NewRegistry(storage.NewTestCatalogState(data))
	require.NoError(t, err)
	return registry
}

func TestMockCoordinator(t *testing.T) {
	tests := []struct {
		name                string
		req                 cncplanner.PlanRequest
		maxIterations       int
		expectError         bool
		expectedResultCheck func(t *testing.T, result string)
	}{
		{
			name: "successful planning run",
			req: cncplanner.PlanRequest{
				Description: "Aluminum plate 100x50x10 with two 8 mm through holes",
				Material:    "aluminum",
			},
			maxIterations: 5,
			expectError:   false,
			expectedResultCheck: func(t *testing.T, result string) {
				var env planning.Envelope
				err := json.Unmarshal([]byte(result), &env)
				require.NoError(t, err, "Result should be a valid plan envelope")

				require.Len(t, env.Plan, 5)
				assert.Equal(t, planning.OpSetup, env.Plan[0].Operation)
				assert.Equal(t, planning.OpFinalInspection, env.Plan[len(env.Plan)-1].Operation)
				for i, step := range env.Plan {
					assert.Equal(t, i+1, step.Number, "Steps should be renumbered sequentially")
				}
			},
		},
		{
			name: "different request wording still yields a plan",
			req: cncplanner.PlanRequest{
				Description: "Steel bracket with four M6 tapped holes",
				Material:    "steel",
			},
			maxIterations: 3,
			expectError:   false,
			expectedResultCheck: func(t *testing.T, result string) {
				var env planning.Envelope
				err := json.Unmarshal([]byte(result), &env)
				require.NoError(t, err)
				assert.NotEmpty(t, env.Plan)
				assert.Equal(t, planning.OpSetup, env.Plan[0].Operation)
			},
		},
		{
			name: "max iterations limit",
			req: cncplanner.PlanRequest{
				Description: "Aluminum block",
				Material:    "aluminum",
			},
			maxIterations: 1,
			expectError:   false,
			expectedResultCheck: func(t *testing.T, result string) {
				// With max iterations of 1 only the tool phase runs.
				assert.Empty(t, result)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := testRegistry(t)
			llm := NewLLMClient(Prompt{})
			logger := cncplanner.NewNoOpRunLogger()
			coordinator := NewCoordinator(llm, registry, planning.DefaultCatalog(), tt.maxIterations, logger)

			ctx := context.Background()
			result, err := coordinator.Run(ctx, tt.req)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			if tt.expectedResultCheck != nil {
				tt.expectedResultCheck(t, result)
			}
		})
	}
}

func TestMockCoordinatorValidatesCannedPlan(t *testing.T) {
	// The canned drilling step asks for 3000 rpm on an 8 mm drill in
	// aluminum; the recommended band is about 3183 to 7958 rpm, so the
	// validator should clamp it up to the band minimum.
	registry := testRegistry(t)
	llm := NewLLMClient(Prompt{})
	coordinator := NewCoordinator(llm, registry, planning.DefaultCatalog(), 5, cncplanner.NewNoOpRunLogger())

	result, err := coordinator.Run(context.Background(), cncplanner.PlanRequest{
		Description: "Aluminum plate 100x50x10 with two 8 mm through holes",
		Material:    "aluminum",
	})
	require.NoError(t, err)

	var env planning.Envelope
	require.NoError(t, json.Unmarshal([]byte(result), &env))

	var drilling *planning.Step
	for i := range env.Plan {
		if env.Plan[i].Operation == planning.OpDrilling {
			drilling = &env.Plan[i]
		}
	}
	require.NotNil(t, drilling, "Plan should contain the drilling step")

	rpm, ok := drilling.SpindleSpeedRPM.(float64)
	require.True(t, ok, "Validated rpm should be numeric")
	assert.InDelta(t, 3183.098861837907, rpm, 0.001)
	assert.Contains(t, drilling.ValidationFlags, planning.FlagRPMBelowRecommendedClamped)
}

func TestMockCoordinatorWithErrorConditions(t *testing.T) {
	tests := []struct {
		name          string
		setupRegistry func() *tools.Registry
		expectError   bool
		errorContains string
	}{
		{
			name: "catalog load error",
			setupRegistry: func() *tools.Registry {
				registry, _ := tools.NewRegistry(storage.NewTestCatalogStateWithError())
				return registry
			},
			expectError:   true,
			errorContains: "failed to run tool",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := tt.setupRegistry()
			llm := NewLLMClient(Prompt{})
			coordinator := NewCoordinator(llm, registry, planning.DefaultCatalog(), 5, cncplanner.NewNoOpRunLogger())

			ctx := context.Background()
			_, err := coordinator.Run(ctx, cncplanner.PlanRequest{Description: "Aluminum block", Material: "aluminum"})

			if tt.expectError {
				assert.Error(t, err)
				if tt.errorContains != "" {
					assert.Contains(t, err.Error(), tt.errorContains)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
