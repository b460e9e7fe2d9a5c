package mock

import (
	"context"
	"encoding/json"
	"testing"

	"cncplanner"
	"cncplanner/planning"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockLLMClient_Invoke(t *testing.T) {
	llm := NewLLMClient(Prompt{})
	req := cncplanner.PlanRequest{
		Description: "Aluminum plate 100x50x10 with two 8 mm through holes",
		Material:    "aluminum",
	}

	t.Run("phase 1: no tool results - returns tool calls", func(t *testing.T) {
		registry := testRegistry(t)

		prompt, err := NewPrompt(req, registry)
		require.NoError(t, err)

		ctx := context.Background()
		response, err := llm.Invoke(ctx, prompt)

		require.NoError(t, err)
		assert.NotEmpty(t, response.Content, "Should have content with tool calls")

		// Parse the content to extract tool calls
		err = response.ParseModelOutput()
		require.NoError(t, err)

		assert.Len(t, response.ToolCalls, 2, "Should have 2 tool calls")

		// Verify tool names
		toolNames := make(map[string]bool)
		for _, call := range response.ToolCalls {
			toolNames[call.Name] = true
		}
		assert.True(t, toolNames["machine_limits_get"], "Should include machine_limits_get tool call")
		assert.True(t, toolNames["cutting_speeds_get"], "Should include cutting_speeds_get tool call")

		// Verify tool inputs
		for _, call := range response.ToolCalls {
			if call.Name == "cutting_speeds_get" {
				assert.Contains(t, call.Input, "material", "cutting_speeds_get should carry the material")
				assert.Equal(t, "aluminum", call.Input["material"], "Material should come from the task message")
			}
		}
	})

	t.Run("phase 2: with tool results - returns final plan", func(t *testing.T) {
		registry := testRegistry(t)

		prompt, err := NewPrompt(req, registry)
		require.NoError(t, err)

		// Add mock tool results to simulate having called tools already
		prompt.Messages = append(prompt.Messages, Message{
			Role: "user",
			Content: []MessagePart{{
				Type: "text",
				Text: `{"tool_result":"machine_limits_get","data":{"machine_limits":{"max_spindle_speed_rpm":8100}}}`,
			}},
		})
		prompt.Messages = append(prompt.Messages, Message{
			Role: "user",
			Content: []MessagePart{{
				Type: "text",
				Text: `{"tool_result":"cutting_speeds_get","data":{"material":"aluminum"}}`,
			}},
		})

		ctx := context.Background()
		response, err := llm.Invoke(ctx, prompt)

		require.NoError(t, err)
		assert.NotEmpty(t, response.Content, "Should have final plan content")

		// Parse as a plan envelope
		var env planning.Envelope
		err = json.Unmarshal([]byte(response.Content), &env)
		require.NoError(t, err, "Response should be valid plan JSON")

		require.Len(t, env.Plan, 5, "Canned plan should have 5 steps")
		assert.Equal(t, planning.OpSetup, env.Plan[0].Operation)
		assert.Equal(t, planning.OpFinalInspection, env.Plan[4].Operation)
		assert.Equal(t, planning.OpDrilling, env.Plan[2].Operation)
		assert.Equal(t, "Drill Bit", env.Plan[2].ToolDescription)
	})

	t.Run("phase 3: fallback - returns tool calls", func(t *testing.T) {
		registry := testRegistry(t)

		prompt, err := NewPrompt(req, registry)
		require.NoError(t, err)

		// Add a message that contains only one of the expected tool results
		prompt.Messages = append(prompt.Messages, Message{
			Role: "user",
			Content: []MessagePart{{
				Type: "text",
				Text: `{"tool_result":"machine_limits_get","data":{"machine_limits":{}}}`,
			}},
		})

		ctx := context.Background()
		response, err := llm.Invoke(ctx, prompt)

		require.NoError(t, err)
		assert.NotEmpty(t, response.Content, "Should have fallback content")

		// Should return tool calls (fallback behavior)
		err = response.ParseModelOutput()
		require.NoError(t, err)

		assert.Len(t, response.ToolCalls, 2, "Should have 2 tool calls in fallback")
	})
}

func TestNewLLMClient(t *testing.T) {
	llm := NewLLMClient(Prompt{})
	assert.NotNil(t, llm, "NewLLMClient should return a non-nil client")
	assert.IsType(t, &LLMClient{}, llm, "Should return correct type")
}
