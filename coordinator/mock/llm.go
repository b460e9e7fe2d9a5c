package mock

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

type LLMClient struct{}

func NewLLMClient(_ Prompt) *LLMClient {
	return &LLMClient{}
}

// Invoke is a mock implementation that simulates an LLM response based on the
// presence of tool results in the prompt. It is, of course, deterministic and
// only serves as a learning aid to see how the coordinator handles the tool
// gathering and finalization phases. Real LLMs may not be so kind :)
func (m *LLMClient) Invoke(ctx context.Context, prompt Prompt) (Response, error) {
	slog.Info("LLM_CLIENT: Invoked", "messages_len", len(prompt.Messages))

	// Phase 1: no results yet -> plan to fetch machine limits + cutting speeds
	if !prompt.HasToolResultInContent("machine_limits_get") && !prompt.HasToolResultInContent("cutting_speeds_get") {
		plan := map[string]any{
			"tool_calls": []map[string]any{
				{"name": "machine_limits_get", "input": map[string]any{}},
				{"name": "cutting_speeds_get", "input": map[string]any{"material": materialFromPrompt(prompt)}},
			},
		}
		b, err := json.Marshal(plan)
		if err != nil {
			slog.Error("Failed to marshal tool plan", "error", err)
			return Response{Content: ""}, nil
		}

		slog.Info("LLM_CLIENT: Returning plan for machine_limits_get and cutting_speeds_get")

		return Response{Content: string(b)}, nil
	}

	// Phase 2: all tool results present -> return final structured plan
	if prompt.HasToolResultInContent("machine_limits_get") && prompt.HasToolResultInContent("cutting_speeds_get") {
		final := map[string]any{
			"plan": []map[string]any{
				{
					"step":              1,
					"operation":         "Setup",
					"tool_description":  "Vise",
					"spindle_speed_rpm": nil,
					"feed_rate_mm_min":  nil,
					"tool_diameter_mm":  nil,
					"notes":             "Clamp stock in vise, indicate top face",
				},
				{
					"step":              2,
					"operation":         "Face Milling",
					"tool_description":  "Face Mill",
					"spindle_speed_rpm": 3000,
					"feed_rate_mm_min":  600,
					"tool_diameter_mm":  50,
					"notes":             "Face top of stock to height",
				},
				{
					"step":              3,
					"operation":         "Drilling",
					"tool_description":  "Drill Bit",
					"spindle_speed_rpm": 3000,
					"feed_rate_mm_min":  300,
					"tool_diameter_mm":  8,
					"notes":             "Through holes per the description",
				},
				{
					"step":              4,
					"operation":         "Deburring",
					"tool_description":  "Deburring Tool",
					"spindle_speed_rpm": nil,
					"feed_rate_mm_min":  nil,
					"tool_diameter_mm":  nil,
					"notes":             "Break sharp edges",
				},
				{
					"step":              5,
					"operation":         "Final Inspection",
					"tool_description":  "None",
					"spindle_speed_rpm": nil,
					"feed_rate_mm_min":  nil,
					"tool_diameter_mm":  nil,
					"notes":             "Verify critical dimensions",
				},
			},
		}
		b, err := json.Marshal(final)
		if err != nil {
			slog.Error("Failed to marshal final response", "error", err)
			return Response{Content: ""}, nil
		}

		slog.Info("LLM_CLIENT: Returning final machining plan")

		return Response{Content: string(b)}, nil
	}

	// Phase 3: fallback plan
	plan := map[string]any{
		"tool_calls": []map[string]any{
			{"name": "machine_limits_get", "input": map[string]any{}},
			{"name": "cutting_speeds_get", "input": map[string]any{"material": materialFromPrompt(prompt)}},
		},
	}
	b, err := json.Marshal(plan)
	if err != nil {
		slog.Error("Failed to marshal fallback plan", "error", err)
		return Response{Content: ""}, nil
	}

	slog.Info("LLM_CLIENT: Returning fallback plan for machine_limits_get and cutting_speeds_get")

	return Response{Content: string(b)}, nil
}

// materialFromPrompt scrapes the MATERIAL line out of the task message so the
// canned cutting_speeds_get call carries whatever the request asked for.
func materialFromPrompt(prompt Prompt) string {
	for _, msg := range prompt.Messages {
		if msg.Role != "user" {
			continue
		}
		text := msg.Content.Join()
		if _, after, ok := strings.Cut(text, "MATERIAL:\n"); ok {
			material, _, _ := strings.Cut(after, "\n")
			if material = strings.TrimSpace(material); material != "" {
				return material
			}
		}
	}
	return "aluminum"
}
