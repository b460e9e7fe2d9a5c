package bedrock

import (
	"encoding/json"

	"cncplanner"
)

type Prompt struct {
	Messages []Message `json:"messages"`
	Tools    []Tool    `json:"tools,omitempty"`
}

func NewPrompt(req cncplanner.PlanRequest, tp cncplanner.ToolProvider) (Prompt, error) {
	tools := tp.GetTools()

	bedrockTools := make([]Tool, 0, len(tools))
	for _, tool := range tools {
		bedrockTools = append(bedrockTools, Tool{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.InputSchema(),
		})
	}

	return Prompt{
		Messages: []Message{
			{
				Role: "system",
				Content: []MessagePart{
					{
						Type: "text",
						Text: string(systemPrompt),
					},
				},
			},
			{
				Role: "user",
				Content: []MessagePart{
					{
						Type: "text",
						Text: TaskMessage(req),
					},
				},
			},
		},
		Tools: bedrockTools,
	}, nil
}

// TaskMessage renders a planning request as the user turn of the conversation.
func TaskMessage(req cncplanner.PlanRequest) string {
	return "PART DESCRIPTION:\n" + req.Description + "\n\nMATERIAL:\n" + req.Material
}

const systemPrompt = `You are an expert CNC process planner.

GOAL:
Create a minimal, correct machining plan for the described part, using the tools to gather the machine's limits and the material's cutting-speed data, then return the final plan JSON.

FINAL OUTPUT FORMAT:
When you are ready to complete the task, return ONLY the JSON object - no explanations, no text before or after, no markdown formatting. Start immediately with { and end with }.

Example of correct final response format:
{
  "plan": [...]
}

JSON Schema:
{
  "plan": [                                  // 3..10 steps, fewest that satisfy requirements
    {
      "step": integer,                       // 1-based, contiguous
      "operation": string,                   // one of: Setup, Face Milling, Roughing, Finishing, Center Drilling, Drilling, Reaming, Tapping, Chamfering, Deburring, Cleanup, Final Inspection
      "tool_description": string,            // one of: Vise, Fixture, Soft Jaws, Face Mill, End Mill, Center Drill, Drill Bit, Reamer, Tap, Chamfer Mill, Spot Drill, Deburring Tool, None
      "spindle_speed_rpm": number or null,
      "feed_rate_mm_min": number or null,
      "tool_diameter_mm": number or null,
      "notes": string                        // MUST justify the step by citing a feature from the description
    }
  ]
}

The JSON must be valid UTF-8, with no commentary, no markdown, and no trailing commas.

TOOL USE:
When you need more information, use the provided tools directly through the tool interface.
Do not wrap tool requests in JSON text such as {"tool_calls":[...]}.
Do not echo tool results yourself - the coordinator will supply them.

CRITICAL RULES:
- Step 1 must be "Setup" and the last step must be "Final Inspection".
- Do NOT include an operation unless its need is explicitly supported by the part description.
- Respect sequencing for holes: Center Drilling (optional) -> Drilling -> (Reaming or Tapping, only if required).
- Reaming only for tight tolerance / surface finish; Tapping only if threads are specified.
- Roughing only if significant stock removal is required; otherwise go straight to Finishing.
- Chamfering/Deburring only if edges/holes require edge break; Cleanup only if explicitly needed.
- Do NOT confuse feature size (hole size, chamfer width, plate thickness) with the physical cutter diameter.
- Always call machine_limits_get before choosing spindle speeds or feed rates.
- Always call cutting_speeds_get (with the material) before filling cutting parameters.
- Keep spindle speeds at or below max_spindle_speed_rpm and feed rates at or below max_feed_rate_mm_min.
- Derive spindle speeds from the cutting-speed ranges: rpm = Vc * 1000 / (PI * tool_diameter_mm).
- Tool parameters may be null if not inferable; do not guess wildly.
- Call machine_limits_get and cutting_speeds_get at most once each per session.
- Reuse the latest tool_result content already provided; do not re-call a tool unless the coordinator says the data changed.
- The coordinator normalizes and validates your plan; a plan that breaks the step rules is rejected and returned to you to fix.
`

// HasToolResult returns true if a tool result for the specified tool name exists in the prompt's message history.
// It checks for a message with role "tool" whose first content part contains a JSON object
// with a "tool_result" field equal to the given tool name.
func (p *Prompt) HasToolResult(tool string) bool {
	for _, msg := range p.Messages {
		if msg.Role != "tool" || len(msg.Content) == 0 {
			continue
		}
		text := msg.Content[0].Text

		var payload struct {
			ToolResult string `json:"tool_result"`
		}
		if json.Unmarshal([]byte(text), &payload) == nil && payload.ToolResult == tool {
			return true
		}
	}
	return false
}

// HasToolResultInContent returns true if a tool result for the specified tool name exists in any message content.
// It checks all messages (regardless of role) for JSON objects with a "tool_result" field equal to the given tool name.
// This is useful for coordinators that embed tool results in user messages rather than using formal tool roles.
func (p *Prompt) HasToolResultInContent(tool string) bool {
	for _, msg := range p.Messages {
		for _, part := range msg.Content {
			if part.Type != "text" {
				continue
			}

			var payload struct {
				ToolResult string `json:"tool_result"`
			}
			if json.Unmarshal([]byte(part.Text), &payload) == nil && payload.ToolResult == tool {
				return true
			}
		}
	}
	return false
}
