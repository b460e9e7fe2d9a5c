package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cncplanner"
	"cncplanner/planning"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
)

// Coordinator manages the interaction between the LLM, the catalog tools, and the plan validator.
type Coordinator struct {
	llm            llmClient
	toolProvider   cncplanner.ToolProvider
	catalog        *planning.Catalog
	maxIterations  int
	logger         cncplanner.RunLogger
	tracerProvider *trace.TracerProvider
}

type llmClient interface {
	Invoke(ctx context.Context, prompt Prompt) (Response, error)
}

// NewCoordinator initializes a new coordinator.
func NewCoordinator(llm llmClient, toolRegistry cncplanner.ToolProvider, catalog *planning.Catalog, maxIterations int, logger cncplanner.RunLogger, tracerProvider *trace.TracerProvider) *Coordinator {
	return &Coordinator{
		llm:            llm,
		toolProvider:   toolRegistry,
		catalog:        catalog,
		maxIterations:  maxIterations,
		logger:         logger,
		tracerProvider: tracerProvider,
	}
}

// Run executes the planning loop for a given request. The returned string is the
// JSON encoding of the normalized, validated plan.
func (c *Coordinator) Run(ctx context.Context, req cncplanner.PlanRequest) (string, error) {
	ctx, span := otel.Tracer(cncplanner.TracerNameBedrock).Start(ctx, "Coordinator.Run")
	defer span.End()

	slog.Info("COORDINATOR: Starting run", "description", req.Description, "material", req.Material)

	prompt, err := NewPrompt(req, c.toolProvider)
	if err != nil {
		return "", fmt.Errorf("failed to apply system prompt: %w", err)
	}

	var finalOut string
	toolsAlreadyCalled := make(map[string]int) // Track how many times each tool has been called

	for iter := 0; iter < c.maxIterations; iter++ {
		iterLog := cncplanner.IterationLog{Iteration: iter + 1, Timestamp: time.Now()}

		// Log prompt
		if b, merr := json.Marshal(prompt); merr == nil {
			iterLog.LLMInput = string(b)
			slog.Info("COORDINATOR: Sending prompt to LLM",
				"iteration", iter+1,
				"messages_count", len(prompt.Messages),
				"tools_count", len(prompt.Tools),
				"prompt_size_bytes", len(b),
				"last_message_preview", func() string {
					text := "no content"
					if len(prompt.Messages) == 0 {
						return text
					}
					last := prompt.Messages[len(prompt.Messages)-1]
					if len(last.Content) > 0 && len(last.Content[0].Text) > 0 {
						text = last.Content[0].Text
						if len(text) > 100 {
							text = text[:97] + "..."
						}
					}
					return text
				}(),
			)
		}

		// 1) Invoke model
		res, err := c.llm.Invoke(ctx, prompt)
		if err != nil {
			iterLog.Error = err.Error()
			c.logIteration(iterLog)
			return "", fmt.Errorf("invoke failed: %w", err)
		}
		iterLog.LLMOutput = res

		slog.Info("COORDINATOR: LLM response received",
			"iteration", iter+1,
			"content_length", len(res.Content),
			"tool_calls", len(res.ToolCalls),
		)

		// If the assistant returned no tool calls, treat content as a candidate plan.
		if len(res.ToolCalls) == 0 {
			slog.Info("COORDINATOR: No tool calls; attempting to treat output as final plan", "iteration", iter+1, "content_length", len(res.Content))
			finalJSON := strings.TrimSpace(res.Content)

			// Validate final JSON structure.
			if finalJSON == "" || !strings.HasPrefix(finalJSON, "{") || !strings.HasSuffix(finalJSON, "}") {
				slog.Info("COORDINATOR: Output is not valid JSON format", "iteration", iter+1, "starts_with_brace", strings.HasPrefix(finalJSON, "{"), "ends_with_brace", strings.HasSuffix(finalJSON, "}"))
				// Not a candidate plan; ask it to gather the catalog data first.
				slog.Info("COORDINATOR: Requesting tools to build planning context", "iteration", iter+1)
				prompt.Messages = append(prompt.Messages, Message{
					Role: "user",
					Content: []MessagePart{{
						Type: "text",
						Text: "Call machine_limits_get and cutting_speeds_get (with the material) through the tool interface, then return ONLY the final JSON plan object.",
					}},
				})
				c.logIteration(iterLog)
				continue
			}

			// Normalize and validate the candidate against the catalog.
			plan, ferr := planning.FinalizePlan(c.catalog, []byte(finalJSON), req.Material, req.Description)
			if ferr != nil {
				slog.Warn("COORDINATOR: Candidate plan rejected", "iteration", iter+1, "error", ferr)
				msg := map[string]any{
					"error":  "invalid_plan",
					"reason": ferr.Error(),
					"hint":   "Re-send the FULL corrected JSON object: step 1 must be \"Setup\", the last step must be \"Final Inspection\", and every operation must come from the allowed list.",
				}
				b, _ := json.Marshal(msg)
				prompt.Messages = append(prompt.Messages, Message{
					Role:    "user",
					Content: []MessagePart{{Type: "text", Text: string(b)}},
				})
				iterLog.Error = ferr.Error()
				c.logIteration(iterLog)
				continue
			}

			out, merr := json.Marshal(planning.Envelope{Plan: plan})
			if merr != nil {
				iterLog.Error = merr.Error()
				c.logIteration(iterLog)
				return "", fmt.Errorf("failed to marshal validated plan: %w", merr)
			}

			// Validated - accept and finish.
			slog.Info("COORDINATOR: Plan validated; ending run", "iteration", iter+1, "steps", len(plan))
			finalOut = string(out)
			c.logIteration(iterLog)
			break
		}

		// Model requested tool calls: check for excessive repetition first
		var hasExcessiveRepetition bool
		for _, call := range res.ToolCalls {
			toolsAlreadyCalled[call.Name]++

			// Detect excessive repetition of data-gathering tools
			if (call.Name == "machine_limits_get" || call.Name == "cutting_speeds_get") && toolsAlreadyCalled[call.Name] > 2 {
				slog.Warn("COORDINATOR: Excessive tool repetition detected", "tool", call.Name, "count", toolsAlreadyCalled[call.Name], "iteration", iter+1)
				hasExcessiveRepetition = true
				break
			}
		}

		if hasExcessiveRepetition {
			// Provide more direct guidance without executing tools
			msg := map[string]any{
				"error": "excessive_tool_repetition",
				"hint":  "You've already gathered the machine limits and cutting-speed data. Use the existing tool results to fill the cutting parameters and provide the final JSON plan directly.",
			}
			b, _ := json.Marshal(msg)
			prompt.Messages = append(prompt.Messages, Message{
				Role:    "user",
				Content: []MessagePart{{Type: "text", Text: string(b)}},
			})
			iterLog.Error = "excessive tool repetition"
			c.logIteration(iterLog)
			continue
		}

		// Normal tool execution path
		assistantMsg := Message{Role: "assistant", Content: MessageParts{}}
		if res.Content != "" {
			assistantMsg.Content = append(assistantMsg.Content, MessagePart{Type: "text", Text: res.Content})
		}

		for _, call := range res.ToolCalls {
			slog.Info("COORDINATOR: Handling tool call", "name", call.Name, "iteration", iter+1)
			assistantMsg.Content = append(assistantMsg.Content, MessagePart{
				Type:      "tool_use",
				ToolUseID: call.ToolUseID,
				ToolName:  call.Name,
				Data:      call.Input,
			})
		}

		prompt.Messages = append(prompt.Messages, assistantMsg)

		var toolCallLogs []cncplanner.ToolCallLog
		var toolResults []ToolResult

		for _, call := range res.ToolCalls {
			tlog := cncplanner.ToolCallLog{Name: call.Name, Input: call.Input}
			tool, gerr := c.toolProvider.GetTool(call.Name)
			if gerr != nil {
				tlog.Error = gerr.Error()
				toolCallLogs = append(toolCallLogs, tlog)
				toolResults = append(toolResults, ToolResult{
					ToolUseID: call.ToolUseID,
					ToolName:  call.Name,
					Data:      map[string]any{"error": fmt.Sprintf("tool %q not found: %v", call.Name, gerr)},
				})
				continue
			}

			result, rerr := tool.Run(ctx, call.Input)
			if rerr != nil {
				tlog.Error = rerr.Error()
				toolCallLogs = append(toolCallLogs, tlog)
				toolResults = append(toolResults, ToolResult{
					ToolUseID: call.ToolUseID,
					ToolName:  tool.Name(),
					Data:      map[string]any{"error": fmt.Sprintf("tool %q failed: %v", call.Name, rerr)},
				})
				continue
			}

			tlog.Output = result
			toolCallLogs = append(toolCallLogs, tlog)
			toolResults = append(toolResults, ToolResult{
				ToolUseID: call.ToolUseID,
				ToolName:  tool.Name(),
				Data:      result,
			})
		}

		if len(toolResults) > 0 {
			prompt.Messages = append(prompt.Messages, NewToolResultMessage(toolResults))
		}

		iterLog.ToolCalls = toolCallLogs
		c.logIteration(iterLog)
	}

	if finalOut == "" {
		return "", fmt.Errorf("no validated plan produced after %d iterations", c.maxIterations)
	}

	return finalOut, nil
}

func (c *Coordinator) logIteration(iter cncplanner.IterationLog) {
	if c.logger != nil {
		if err := c.logger.LogIteration(iter); err != nil {
			slog.Error("Failed to log planning iteration", "error", err, "iteration", iter.Iteration)
		}
	}
}
