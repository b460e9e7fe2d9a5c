package mock

import (
	"fmt"
	"strings"

	"cncplanner"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
)

// Tool is the tool advertisement shape carried in the prompt. The mock
// model never reads it, but keeping it mirrors what a real backend sends.
type Tool struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"input_schema"`
}

type Prompt struct {
	Messages []Message `json:"messages"`
	Tools    []Tool    `json:"tools"`
}

// NewPrompt builds the initial conversation: the system prompt, the task
// message derived from the plan request, and the advertised catalog tools.
func NewPrompt(req cncplanner.PlanRequest, tp cncplanner.ToolProvider) (Prompt, error) {
	var toolList []Tool
	for _, t := range tp.GetTools() {
		toolList = append(toolList, Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}

	return Prompt{
		Messages: []Message{
			{
				Role:    "system",
				Content: MessageParts{{Type: "text", Text: systemPrompt}},
			},
			{
				Role:    "user",
				Content: MessageParts{{Type: "text", Text: TaskMessage(req)}},
			},
		},
		Tools: toolList,
	}, nil
}

// TaskMessage renders the planning request as the opening user message.
func TaskMessage(req cncplanner.PlanRequest) string {
	return fmt.Sprintf("PART DESCRIPTION:\n%s\n\nMATERIAL:\n%s", req.Description, req.Material)
}

// HasToolResultInContent reports whether any message in the conversation
// carries an embedded tool result for the named tool. The mock protocol
// embeds results as text parts of the form {"tool_result":"<name>","data":...}.
func (p Prompt) HasToolResultInContent(toolName string) bool {
	marker := fmt.Sprintf(`"tool_result":%q`, toolName)
	for _, msg := range p.Messages {
		for _, part := range msg.Content {
			if part.Type == "text" && strings.Contains(part.Text, marker) {
				return true
			}
		}
	}
	return false
}

const systemPrompt = `You are a CNC process planner for a 3-axis vertical milling machine.

Given a part description and its material, produce an ordered machining plan as a single JSON object:

{
  "plan": [
    {
      "step": 1,
      "operation": "Setup",
      "tool_description": "Vise",
      "spindle_speed_rpm": null,
      "feed_rate_mm_min": null,
      "tool_diameter_mm": null,
      "notes": "Clamp stock in vise"
    }
  ]
}

Rules:
- The first step must be "Setup" and the last step must be "Final Inspection".
- Use only these operations: Setup, Face Milling, Roughing, Finishing, Center Drilling, Drilling, Reaming, Tapping, Chamfering, Deburring, Cleanup, Final Inspection.
- Keep the plan between 3 and 10 steps.
- Before finalizing, retrieve the machine limits with machine_limits_get and the material cutting speeds with cutting_speeds_get.
- Spindle speed comes from rpm = Vc * 1000 / (PI * tool_diameter_mm), capped at the machine maximum.

To call tools, reply with a JSON object of the form:
{"tool_calls":[{"name":"machine_limits_get","input":{}},{"name":"cutting_speeds_get","input":{"material":"<material>"}}]}

When you have the data, reply with ONLY the final plan JSON object.`
