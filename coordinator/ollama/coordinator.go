package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
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

// llmClient interface for ollama-specific client
type llmClient interface {
	Invoke(ctx context.Context, prompt Prompt) (Response, error)
}

// NewCoordinator initializes a new coordinator.
func NewCoordinator(llm llmClient, tp cncplanner.ToolProvider, catalog *planning.Catalog, maxIter int, log cncplanner.RunLogger, tracerProvider *trace.TracerProvider) *Coordinator {
	return &Coordinator{
		llm:            llm,
		toolProvider:   tp,
		catalog:        catalog,
		maxIterations:  maxIter,
		logger:         log,
		tracerProvider: tracerProvider,
	}
}

// Run executes the planning loop for a given request. The returned string is the
// JSON encoding of the normalized, validated plan.
func (c *Coordinator) Run(ctx context.Context, req cncplanner.PlanRequest) (string, error) {
	ctx, span := otel.Tracer(cncplanner.TracerNameOllama).Start(ctx, "Coordinator.Run")
	defer span.End()

	slog.Info("COORDINATOR: Starting run", "description", req.Description, "material", req.Material)

	prompt, err := NewPrompt(req, c.toolProvider)
	if err != nil {
		return "", fmt.Errorf("failed to apply system prompt: %w", err)
	}

	var finalOut string

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
					if len(prompt.Messages) == 0 {
						return "no_content"
					}
					last := prompt.Messages[len(prompt.Messages)-1].Content
					if len(last) > 100 {
						return last[:97] + "..."
					}
					return last
				}(),
			)
		}

		// 1) Invoke model
		res, err := c.llm.Invoke(ctx, prompt)
		if err != nil {
			iterLog.Error = err.Error()
			c.logIteration(iterLog)
			return finalOut, fmt.Errorf("failed to invoke LLM: %w", err)
		}
		iterLog.LLMOutput = res

		slog.Info("COORDINATOR: LLM response received",
			"iteration", iter+1,
			"content_length", len(res.Content),
			"tool_calls", len(res.ToolCalls),
		)

		// 2a) Candidate plan path (no tool calls)
		if len(res.ToolCalls) == 0 && res.Content != "" {
			// Accept a candidate only if machine_limits_get and cutting_speeds_get results are in history
			if !(prompt.HasToolResult("machine_limits_get") && prompt.HasToolResult("cutting_speeds_get")) {
				slog.Info("COORDINATOR: Missing required tool results; nudging model to call tools", "iteration", iter+1)

				// Nudge the model to call tools natively
				prompt.Messages = append(prompt.Messages,
					Message{
						Role:    "user",
						Content: "Before finalizing, call machine_limits_get (with {}) and cutting_speeds_get (with the material). Then use those results and return ONLY the final JSON plan object.",
					},
				)
				c.logIteration(iterLog)
				continue
			}

			// Required tool results present; normalize and validate the candidate.
			plan, ferr := planning.FinalizePlan(c.catalog, []byte(res.Content), req.Material, req.Description)
			if ferr != nil {
				slog.Warn("COORDINATOR: Candidate plan rejected", "iteration", iter+1, "error", ferr)

				prompt.Messages = append(prompt.Messages,
					Message{
						Role:    "user",
						Content: rejectionMessage(ferr),
					},
				)
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

			slog.Info("COORDINATOR: Plan validated; ending run", "iteration", iter+1, "steps", len(plan))
			finalOut = string(out)
			c.logIteration(iterLog)
			break
		}

		// 2b) Tool-call path
		if len(res.ToolCalls) == 0 && res.Content == "" {
			err := fmt.Errorf("no tool_calls and no final content")
			iterLog.Error = err.Error()
			c.logIteration(iterLog)
			return "", err
		}

		var toolCallLogs []cncplanner.ToolCallLog

		toolCalls := dedupeToolCalls(res.ToolCalls)
		if len(toolCalls) < len(res.ToolCalls) {
			slog.Info("COORDINATOR: Deduped tool calls", "requested", len(res.ToolCalls), "kept", len(toolCalls))
		}

		for _, call := range toolCalls {
			slog.Info("COORDINATOR: Handling tool call", "name", call.Name, "iteration", iter+1)

			toolLog := cncplanner.ToolCallLog{Name: call.Name, Input: call.Args}

			tool, err := c.toolProvider.GetTool(call.Name)
			if err != nil {
				toolLog.Error = err.Error()
				toolCallLogs = append(toolCallLogs, toolLog)
				iterLog.ToolCalls = toolCallLogs
				c.logIteration(iterLog)
				return finalOut, fmt.Errorf("failed to get tool %q: %w", call.Name, err)
			}

			result, err := tool.Run(ctx, call.Args)
			if err != nil {
				toolLog.Error = err.Error()
				toolCallLogs = append(toolCallLogs, toolLog)
				iterLog.ToolCalls = toolCallLogs
				c.logIteration(iterLog)
				return "", fmt.Errorf("failed to run tool %q: %w", call.Name, err)
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
					Role:    "tool",
					Name:    tool.Name(),
					Content: string(payload),
				},
			)

			slog.Info("COORDINATOR: Tool executed, appended message", "name", call.Name, "iteration", iter+1)
		}

		iterLog.ToolCalls = toolCallLogs
		c.logIteration(iterLog)
	}

	if finalOut == "" {
		return "", fmt.Errorf("no validated plan produced after %d iterations", c.maxIterations)
	}

	return finalOut, nil
}

// rejectionMessage turns a finalize error into a corrective user message for the model.
func rejectionMessage(err error) string {
	return fmt.Sprintf("The plan was rejected: %v. Re-send the FULL corrected JSON object: step 1 must be \"Setup\", the last step must be \"Final Inspection\", and every operation must come from the allowed list.", err)
}

// dedupeToolCalls keeps only the first call per tool name (or name+args hash).
// This exists because the model may be "eager" and call the same tool multiple times with the same arguments.
func dedupeToolCalls(calls []ToolCall) []ToolCall {
	seen := map[string]bool{}
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		b, _ := json.Marshal(c.Args)
		key := c.Name + ":" + string(b) // per (name,args) uniqueness
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// logIteration logs a step using the configured logger, handling errors gracefully
func (c *Coordinator) logIteration(iteration cncplanner.IterationLog) {
	if c.logger != nil {
		if err := c.logger.LogIteration(iteration); err != nil {
			slog.Error("Failed to log planning iteration", "error", err, "iteration", iteration.Iteration)
		}
	}
}
