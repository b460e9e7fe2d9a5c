package ollama

import (
	"fmt"

	"cncplanner"
)

// NewPrompt creates a prompt structure compatible with Ollama's native tool calling format.
// It includes the system prompt, the planning request as the user task, and the catalog
// tools converted to Ollama's expected schema.
func NewPrompt(req cncplanner.PlanRequest, tp cncplanner.ToolProvider) (Prompt, error) {
	tools := tp.GetTools()

	// Convert tools to Ollama format
	ollamaTools := make([]Tool, len(tools))
	for i, tool := range tools {
		schema := tool.InputSchema()
		parameters := map[string]interface{}{
			"type":       "object",
			"properties": schema.Properties,
		}

		if len(schema.Required) > 0 {
			parameters["required"] = schema.Required
		}

		ollamaTools[i] = Tool{
			Type: "function",
			Function: ToolSchema{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  parameters,
			},
		}
	}

	return Prompt{
		Messages: []Message{
			{
				Role:    "system",
				Content: systemPrompt,
			},
			{
				Role:    "user",
				Content: TaskMessage(req),
			},
		},
		Tools: ollamaTools,
	}, nil
}

// TaskMessage renders a planning request as the user turn of the conversation.
func TaskMessage(req cncplanner.PlanRequest) string {
	return fmt.Sprintf("PART DESCRIPTION:\n%s\n\nMATERIAL:\n%s", req.Description, req.Material)
}

const systemPrompt string = `You are an expert CNC process planner.

GOAL
Create a minimal, correct machining plan for the described part, using the tools to gather the machine's limits and the material's cutting-speed data, then return the final plan.

OUTPUT CONTRACT
- Your final response must be ONE valid JSON object only (no extra text, no markdown, no code fences). Start with '{' and end with '}'.
- UTF-8, no trailing commas.
- Shape:
{
  "plan": [
    {
      "step": integer,                  // 1-based, contiguous
      "operation": string,              // one of: Setup, Face Milling, Roughing, Finishing, Center Drilling, Drilling, Reaming, Tapping, Chamfering, Deburring, Cleanup, Final Inspection
      "tool_description": string,       // one of: Vise, Fixture, Soft Jaws, Face Mill, End Mill, Center Drill, Drill Bit, Reamer, Tap, Chamfer Mill, Spot Drill, Deburring Tool, None
      "spindle_speed_rpm": number or null,
      "feed_rate_mm_min": number or null,
      "tool_diameter_mm": number or null,
      "notes": string                   // MUST justify the step by citing a feature from the description
    }
  ]
}

HARD RULES
1) Always include step 1 = "Setup" and the last step = "Final Inspection".
2) Do NOT include an operation unless its need is explicitly supported by the part description.
3) No duplicate operations unless each occurrence is for a clearly different feature and the notes explain it.
4) Max total steps: 3-10 (inclusive). Prefer the fewest steps that satisfy requirements.
5) Respect sequencing:
   - If any holes: Center Drilling (optional) -> Drilling -> (Reaming or Tapping, only if required).
   - Reaming only for tight tolerance / surface finish on holes.
   - Tapping only if threads are specified.
   - Face Milling only if a planar face must be created/improved/square stock.
   - Roughing only if significant stock removal is required; otherwise skip it and go straight to Finishing.
   - Chamfering/Deburring only if edges/holes require edge break; otherwise omit.
   - Cleanup is optional; include only if chip/coolant removal is explicitly needed before inspection.
6) Tool parameters may be null if not inferable; do not guess wildly.
7) Do NOT confuse feature size (hole size, chamfer width, or plate thickness) with the physical cutter diameter ("tool_diameter_mm").

TOOL DIAMETER RANGES
- Drill Bits: 1-25 mm, Center Drills: 1-6 mm, Face Mills: 20-100 mm, End Mills: 2-20 mm, Chamfer Mills: 3-12 mm, Reamers: 3-20 mm.
- If the required tool falls outside these ranges, set tool_diameter_mm = null.

TOOLS
- You have access to tools defined in the "tools" array (function name, description, JSON schema).
- When you need data, CALL THE TOOL natively (do NOT print a JSON blob that describes a call).
- After the coordinator sends back a tool result (role:"tool"), USE it to continue planning.
- Tool discipline: call machine_limits_get once and cutting_speeds_get once (with the material). If their results are already present (role:"tool"), do not call them again.

PLANNING RULES
- Always retrieve the machine limits with machine_limits_get before choosing spindle speeds or feed rates.
- Always retrieve the material's cutting-speed ranges with cutting_speeds_get (pass the material text).
- Keep every spindle_speed_rpm at or below the machine's max_spindle_speed_rpm, and every feed_rate_mm_min at or below max_feed_rate_mm_min.
- Derive spindle speeds from the cutting-speed ranges: rpm = Vc * 1000 / (PI * tool_diameter_mm).
- The coordinator validates and auto-corrects the plan; a plan that breaks the hard rules is rejected outright.

WORKFLOW (typical)
1) Call machine_limits_get with {}.
2) Call cutting_speeds_get with {"material": "<material text>"}.
3) Select only the operations the description justifies, in machining order.
4) Fill tool and cutting parameters from the tool results.
5) Return the final JSON object (no commentary).

REMINDERS
- Use native tool calls only.
- Do not echo tool results.
- Final answer MUST be just the JSON object.`
