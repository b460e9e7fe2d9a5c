package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cncplanner"
	"cncplanner/planning"
)

// Coordinator is responsible for managing the interaction between the LLM,
// the catalog tools, and the plan validator.
type Coordinator struct {
	llm           llmClient
	toolProvider  cncplanner.ToolProvider
	catalog       *planning.Catalog
	maxIterations int
	logger        cncplanner.RunLogger
}

// llmClient interface for mock-specific client. It's fake and just returns canned responses.
type llmClient interface {
	Invoke(ctx context.Context, prompt Prompt) (Response, error)
}

// NewCoordinator initializes a new coordinator.
func NewCoordinator(llm llmClient, tp cncplanner.ToolProvider, catalog *planning.Catalog, maxIter int, log cncplanner.RunLogger) *Coordinator {
	return &Coordinator{
		llm:           llm,
		toolProvider:  tp,
		catalog:       catalog,
		maxIterations: maxIter,
		logger:        log,
	}
}

// Run executes the planning loop for a given request.
func (c *Coordinator) Run(ctx context.Context, req cncplanner.PlanRequest) (string, error) {
	slog.Info("COORDINATOR: Starting run", "description", req.Description, "material", req.Material)

	prompt, err := NewPrompt(req, c.toolProvider)
	if err != nil {
		return "", fmt.Errorf("failed to apply system prompt: %w", err)
	}

	var finalOut string

	for iter := 0; iter < c.maxIterations; iter++ {
		iterLog := cncplanner.IterationLog{Iteration: iter + 1, Timestamp: time.Now()}

		// Serialize the prompt for debugging
		promptJSON, err := json.Marshal(prompt)
		if err != nil {
			err := fmt.Errorf("failed to marshal prompt: %w", err)
			iterLog.Error = err.Error()
			c.logIteration(iterLog)
			return finalOut, err
		}
		iterLog.LLMInput = string(promptJSON)
		promptSize := len(promptJSON)

		lastMessagePreview := func() string {
			if len(prompt.Messages) > 0 {
				lastMsg := prompt.Messages[len(prompt.Messages)-1]
				if len(lastMsg.Content) > 0 && len(lastMsg.Content[0].Text) > 0 {
					text := lastMsg.Content[0].Text
					if len(text) > 100 {
						return text[:97] + "..."
					}
					return text
				}
			}
			return "no_content"
		}

		slog.Info("COORDINATOR: Sending prompt to LLM",
			"iteration", iter+1,
			"messages_count", len(prompt.Messages),
			"tools_count", len(prompt.Tools),
			"prompt_size_bytes", promptSize,
			"last_message_preview", lastMessagePreview(),
		)

		// Invoke model
		res, err := c.llm.Invoke(ctx, prompt)
		if err != nil {
			iterLog.Error = err.Error()
			c.logIteration(iterLog)
			return finalOut, fmt.Errorf("failed to invoke LLM: %w", err)
		}
		iterLog.LLMOutput = res

		// Parse model output
		contentLengthBeforeParsing := len(res.Content)
		if err := res.ParseModelOutput(); err != nil {
			iterLog.Error = fmt.Sprintf("failed to parse model output: %v", err)
			c.logIteration(iterLog)
			return finalOut, fmt.Errorf("failed to parse model output: %w", err)
		}

		slog.Info("COORDINATOR: LLM response received",
			"iteration", iter+1,
			"content_length", contentLengthBeforeParsing,
			"tool_calls", len(res.ToolCalls),
		)

		// Final? (only accept if machine limits + cutting speeds have been fetched)
		if res.Content != "" {
			usedMachineLimits := prompt.HasToolResultInContent("machine_limits_get")
			usedCuttingSpeeds := prompt.HasToolResultInContent("cutting_speeds_get")

			if !(usedMachineLimits && usedCuttingSpeeds) {
				// Nudge the model back to tool planning
				correction := fmt.Sprintf(`{
					"tool_calls": [
						{ "name": "machine_limits_get", "input": {} },
						{ "name": "cutting_speeds_get", "input": { "material": %q } }
					]
				}`, req.Material)

				prompt.Messages = append(prompt.Messages,
					Message{
						Role: "user",
						Content: []MessagePart{{
							Type: "text",
							Text: `Your last output was a final plan but you did not retrieve the machine limits nor the cutting speeds. Use "machine_limits_get" for spindle and feed limits and "cutting_speeds_get" for material data before finalizing.`,
						}},
					},
					Message{
						Role:    "assistant",
						Content: []MessagePart{{Type: "text", Text: correction}},
					},
				)

				c.logIteration(iterLog)
				continue
			}

			// Validate and auto-correct the candidate before accepting it.
			plan, ferr := planning.FinalizePlan(c.catalog, []byte(res.Content), req.Material, req.Description)
			if ferr != nil {
				iterLog.Error = fmt.Sprintf("candidate plan rejected: %v", ferr)
				c.logIteration(iterLog)
				return finalOut, fmt.Errorf("candidate plan rejected: %w", ferr)
			}

			out, err := json.Marshal(planning.Envelope{Plan: plan})
			if err != nil {
				iterLog.Error = fmt.Sprintf("failed to marshal validated plan: %v", err)
				c.logIteration(iterLog)
				return finalOut, fmt.Errorf("failed to marshal validated plan: %w", err)
			}

			slog.Info("COORDINATOR: Validated plan accepted, ending run", "iteration", iter+1, "plan_steps", len(plan))

			finalOut = string(out)
			c.logIteration(iterLog)
			break
		}

		// Execute tool calls
		if len(res.ToolCalls) == 0 {
			err := fmt.Errorf("COORDINATOR: no tool_calls and no final in response")
			iterLog.Error = err.Error()
			c.logIteration(iterLog)
			return finalOut, err
		}

		var toolCallLogs []cncplanner.ToolCallLog
		for _, call := range res.ToolCalls {
			slog.Info("COORDINATOR: Handling tool call", "name", call.Name, "iteration", iter+1)

			toolLog := cncplanner.ToolCallLog{Name: call.Name, Input: call.Input}

			tool, err := c.toolProvider.GetTool(call.Name)
			if err != nil {
				toolLog.Error = err.Error()
				toolCallLogs = append(toolCallLogs, toolLog)
				iterLog.ToolCalls = toolCallLogs
				c.logIteration(iterLog)
				return finalOut, fmt.Errorf("failed to get tool %q: %w", call.Name, err)
			}

			result, err := tool.Run(ctx, call.Input)
			if err != nil {
				toolLog.Error = err.Error()
				toolCallLogs = append(toolCallLogs, toolLog)
				iterLog.ToolCalls = toolCallLogs
				c.logIteration(iterLog)
				return finalOut, fmt.Errorf("failed to run tool %q: %w", call.Name, err)
			}

			toolLog.Output = result
			toolCallLogs = append(toolCallLogs, toolLog)

			payload, err := json.Marshal(result)
			if err != nil {
				iterLog.Error = fmt.Sprintf("failed to marshal tool result: %v", err)
				c.logIteration(iterLog)
				return finalOut, fmt.Errorf("failed to marshal tool result: %w", err)
			}

			prompt.Messages = append(
				prompt.Messages,
				Message{
					Role: "user",
					Content: []MessagePart{
						{Type: "text", Text: fmt.Sprintf(`{"tool_result":"%s","data":%s}`, tool.Name(), string(payload))},
					},
				},
			)

			slog.Info("COORDINATOR: Tool executed, appended message", "name", call.Name, "iteration", iter+1)
		}

		iterLog.ToolCalls = toolCallLogs
		c.logIteration(iterLog)
	}

	return finalOut, nil
}

// logIteration logs a step using the configured logger, handling errors gracefully
func (c *Coordinator) logIteration(iteration cncplanner.IterationLog) {
	if c.logger != nil {
		if err := c.logger.LogIteration(iteration); err != nil {
			slog.Error("Failed to log planning iteration", "error", err, "iteration", iteration.Iteration)
		}
	}
}
