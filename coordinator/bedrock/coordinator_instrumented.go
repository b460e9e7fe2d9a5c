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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedCoordinator is an instrumented version of the Coordinator with comprehensive observability metrics.
type InstrumentedCoordinator struct {
	llm           llmClient
	toolProvider  cncplanner.ToolProvider
	catalog       *planning.Catalog
	maxIterations int
	logger        cncplanner.RunLogger
	tracer        trace.Tracer
	meter         metric.Meter
}

// NewInstrumentedCoordinator initializes a new instrumented coordinator.
func NewInstrumentedCoordinator(llm llmClient, toolRegistry cncplanner.ToolProvider, catalog *planning.Catalog, maxIterations int, logger cncplanner.RunLogger, tracer trace.Tracer, meter metric.Meter) *InstrumentedCoordinator {
	return &InstrumentedCoordinator{
		llm:           llm,
		toolProvider:  toolRegistry,
		catalog:       catalog,
		maxIterations: maxIterations,
		logger:        logger,
		tracer:        tracer,
		meter:         meter,
	}
}

// Run executes the planning loop for a given request with full instrumentation.
func (c *InstrumentedCoordinator) Run(ctx context.Context, req cncplanner.PlanRequest) (string, error) {
	ctx, span := c.tracer.Start(ctx, "InstrumentedCoordinator.Run")
	defer span.End()

	slog.Info("COORDINATOR: Starting instrumented run", "description", req.Description, "material", req.Material)

	// Initialize all metrics
	runsCounter, _ := c.meter.Int64Counter("planner_runs_total",
		metric.WithDescription("Total number of planning runs started"))
	runsCompletedCounter, _ := c.meter.Int64Counter("planner_runs_completed_total",
		metric.WithDescription("Total number of planning runs completed successfully"))
	runsFailedCounter, _ := c.meter.Int64Counter("planner_runs_failed_total",
		metric.WithDescription("Total number of planning runs that failed"))
	toolCallsCounter, _ := c.meter.Int64Counter("tool_calls_total",
		metric.WithDescription("Total number of tool calls executed"))
	toolCallsFailedCounter, _ := c.meter.Int64Counter("tool_calls_failed_total",
		metric.WithDescription("Total number of tool calls that failed"))
	iterationCounter, _ := c.meter.Int64Counter("planner_iterations_total",
		metric.WithDescription("Total number of planning iterations"))
	messageCounter, _ := c.meter.Int64Counter("planner_messages_total",
		metric.WithDescription("Total number of messages in the planning conversation"))

	// Gauges
	promptSizeGauge, _ := c.meter.Int64Gauge("prompt_size_bytes",
		metric.WithDescription("Size of the prompt sent to LLM in bytes"))
	responseContentLengthGauge, _ := c.meter.Int64Gauge("response_content_length",
		metric.WithDescription("Length of the response content from LLM"))
	messagesInConversationGauge, _ := c.meter.Int64Gauge("messages_in_conversation",
		metric.WithDescription("Number of messages in the current conversation"))
	toolsAvailableGauge, _ := c.meter.Int64Gauge("tools_available_count",
		metric.WithDescription("Number of tools available to the coordinator"))
	materialsAvailableGauge, _ := c.meter.Int64Gauge("materials_available_count",
		metric.WithDescription("Number of materials with cutting-speed data in the catalog"))
	planStepsGauge, _ := c.meter.Int64Gauge("plan_steps_count",
		metric.WithDescription("Number of steps in the validated plan"))

	// Histograms
	planningDurationHist, _ := c.meter.Float64Histogram("planning_duration_seconds",
		metric.WithDescription("Total duration of the planning process in seconds"))
	iterationDurationHist, _ := c.meter.Float64Histogram("iteration_duration_seconds",
		metric.WithDescription("Duration of individual planning iterations in seconds"))
	llmResponseTimeHist, _ := c.meter.Float64Histogram("llm_response_time_seconds",
		metric.WithDescription("Time taken to receive response from LLM in seconds"))
	toolExecutionTimeHist, _ := c.meter.Float64Histogram("tool_execution_time_seconds",
		metric.WithDescription("Time taken to execute individual tools in seconds"))
	validationTimeHist, _ := c.meter.Float64Histogram("validation_time_seconds",
		metric.WithDescription("Time taken to normalize and validate candidate plans in seconds"))

	// Bedrock-specific counters
	validationsCounter, _ := c.meter.Int64Counter("plan_validations_total",
		metric.WithDescription("Total number of candidate plan validations performed"))
	toolRepetitionPreventedCounter, _ := c.meter.Int64Counter("tool_repetition_prevented_total",
		metric.WithDescription("Total number of times tool repetition was prevented"))
	validFinalPlansCounter, _ := c.meter.Int64Counter("valid_final_plans_total",
		metric.WithDescription("Total number of valid final plans generated"))
	invalidFinalPlansCounter, _ := c.meter.Int64Counter("invalid_final_plans_total",
		metric.WithDescription("Total number of invalid final plans attempted"))

	// Bedrock-specific gauges
	toolRepetitionCountGauge, _ := c.meter.Int64Gauge("tool_repetition_count",
		metric.WithDescription("Current count of tool repetitions"))

	// Record initial run
	runsCounter.Add(ctx, 1)

	// Set static gauges
	toolsAvailableGauge.Record(ctx, int64(len(c.toolProvider.GetTools())))
	if c.catalog != nil {
		materialsAvailableGauge.Record(ctx, int64(len(c.catalog.CuttingSpeeds)))
	}

	prompt, err := NewPrompt(req, c.toolProvider)
	if err != nil {
		runsFailedCounter.Add(ctx, 1)
		span.SetStatus(codes.Error, "Failed to create prompt")
		span.RecordError(err)
		return "", fmt.Errorf("failed to apply system prompt: %w", err)
	}

	var finalOut string
	toolsAlreadyCalled := make(map[string]int) // Track how many times each tool has been called

	planningStartTime := time.Now()

	for iter := 0; iter < c.maxIterations; iter++ {
		iterationStartTime := time.Now()
		ctx, span := c.tracer.Start(ctx, fmt.Sprintf("InstrumentedCoordinator.Run.Iteration.%d", iter+1))
		defer span.End()

		iterationCounter.Add(ctx, 1)
		iterLog := cncplanner.IterationLog{Iteration: iter + 1, Timestamp: time.Now()}

		// Log prompt and record metrics
		promptJSON, merr := json.Marshal(prompt)
		var promptSize int
		if merr == nil {
			iterLog.LLMInput = string(promptJSON)
			promptSize = len(promptJSON)
			promptSizeGauge.Record(ctx, int64(promptSize))

			lastMessagePreview := func() string {
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
			}

			slog.Info("COORDINATOR: Sending prompt to LLM",
				"iteration", iter+1,
				"messages_count", len(prompt.Messages),
				"tools_count", len(prompt.Tools),
				"prompt_size_bytes", promptSize,
				"last_message_preview", lastMessagePreview(),
			)

			messagesInConversationGauge.Record(ctx, int64(len(prompt.Messages)))

			span.AddEvent("Sending prompt to LLM", trace.WithAttributes(
				attribute.Int("iteration", iter+1),
				attribute.Int("messages_count", len(prompt.Messages)),
				attribute.Int("tools_count", len(prompt.Tools)),
				attribute.Int("prompt_size_bytes", promptSize),
				attribute.String("last_message_preview", lastMessagePreview()),
			))
		}

		// 1) Invoke model
		llmStartTime := time.Now()
		res, err := c.llm.Invoke(ctx, prompt)
		llmDuration := time.Since(llmStartTime)
		llmResponseTimeHist.Record(ctx, llmDuration.Seconds())

		if err != nil {
			iterLog.Error = err.Error()
			c.logIteration(iterLog)
			runsFailedCounter.Add(ctx, 1)
			span.SetStatus(codes.Error, "LLM invoke failed")
			span.RecordError(err)
			return "", fmt.Errorf("invoke failed: %w", err)
		}
		iterLog.LLMOutput = res

		span.AddEvent("LLM response received", trace.WithAttributes(
			attribute.Int("response_content_length", len(res.Content)),
			attribute.Int("response_tool_calls_length", len(res.ToolCalls)),
			attribute.Float64("llm_response_time_seconds", llmDuration.Seconds()),
		))

		responseContentLengthGauge.Record(ctx, int64(len(res.Content)))
		messageCounter.Add(ctx, int64(len(prompt.Messages)+1)) // +1 for the response message

		slog.Info("COORDINATOR: LLM response received",
			"iteration", iter+1,
			"content_length", len(res.Content),
			"tool_calls", len(res.ToolCalls),
			"llm_response_time_ms", llmDuration.Milliseconds(),
		)

		// If the assistant returned no tool calls, treat content as a candidate plan.
		if len(res.ToolCalls) == 0 {
			slog.Info("COORDINATOR: No tool calls; attempting to treat output as final plan", "iteration", iter+1, "content_length", len(res.Content))
			finalJSON := strings.TrimSpace(res.Content)

			// Validate final JSON structure.
			if finalJSON == "" || !strings.HasPrefix(finalJSON, "{") || !strings.HasSuffix(finalJSON, "}") {
				slog.Info("COORDINATOR: Output is not valid JSON format", "iteration", iter+1, "starts_with_brace", strings.HasPrefix(finalJSON, "{"), "ends_with_brace", strings.HasSuffix(finalJSON, "}"))
				invalidFinalPlansCounter.Add(ctx, 1, metric.WithAttributes(
					attribute.String("validation_error", "not_json_format"),
				))
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
			validationsCounter.Add(ctx, 1)
			validationStartTime := time.Now()
			plan, ferr := planning.FinalizePlan(c.catalog, []byte(finalJSON), req.Material, req.Description)
			validationDuration := time.Since(validationStartTime)
			validationTimeHist.Record(ctx, validationDuration.Seconds())

			if ferr != nil {
				slog.Warn("COORDINATOR: Candidate plan rejected", "iteration", iter+1, "error", ferr)
				invalidFinalPlansCounter.Add(ctx, 1, metric.WithAttributes(
					attribute.String("validation_error", "plan_validation_failed"),
				))
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
				runsFailedCounter.Add(ctx, 1)
				span.SetStatus(codes.Error, "Failed to marshal validated plan")
				span.RecordError(merr)
				return "", fmt.Errorf("failed to marshal validated plan: %w", merr)
			}

			// Validated - accept and finish.
			validFinalPlansCounter.Add(ctx, 1)
			runsCompletedCounter.Add(ctx, 1)
			planStepsGauge.Record(ctx, int64(len(plan)))
			slog.Info("COORDINATOR: Plan validated; ending run", "iteration", iter+1, "steps", len(plan))
			finalOut = string(out)
			iterationDuration := time.Since(iterationStartTime)
			iterationDurationHist.Record(ctx, iterationDuration.Seconds())
			c.logIteration(iterLog)
			planningDuration := time.Since(planningStartTime)
			planningDurationHist.Record(ctx, planningDuration.Seconds())

			span.AddEvent("Validated plan accepted", trace.WithAttributes(
				attribute.Int("plan_steps", len(plan)),
				attribute.Float64("validation_time_seconds", validationDuration.Seconds()),
			))
			break
		}

		// Model requested tool calls: check for excessive repetition first
		var hasExcessiveRepetition bool
		var maxRepetitionCount int
		for _, call := range res.ToolCalls {
			toolsAlreadyCalled[call.Name]++

			if toolsAlreadyCalled[call.Name] > maxRepetitionCount {
				maxRepetitionCount = toolsAlreadyCalled[call.Name]
			}

			// Detect excessive repetition of data-gathering tools
			if (call.Name == "machine_limits_get" || call.Name == "cutting_speeds_get") && toolsAlreadyCalled[call.Name] > 2 {
				slog.Warn("COORDINATOR: Excessive tool repetition detected", "tool", call.Name, "count", toolsAlreadyCalled[call.Name], "iteration", iter+1)
				hasExcessiveRepetition = true
				break
			}
		}

		toolRepetitionCountGauge.Record(ctx, int64(maxRepetitionCount))

		if hasExcessiveRepetition {
			toolRepetitionPreventedCounter.Add(ctx, 1)
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
			toolCallsCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool_name", call.Name),
			))

			tlog := cncplanner.ToolCallLog{Name: call.Name, Input: call.Input}
			tool, gerr := c.toolProvider.GetTool(call.Name)
			if gerr != nil {
				toolCallsFailedCounter.Add(ctx, 1, metric.WithAttributes(
					attribute.String("tool_name", call.Name),
					attribute.String("error_type", "tool_not_found"),
				))
				tlog.Error = gerr.Error()
				toolCallLogs = append(toolCallLogs, tlog)
				toolResults = append(toolResults, ToolResult{
					ToolUseID: call.ToolUseID,
					ToolName:  call.Name,
					Data:      map[string]any{"error": fmt.Sprintf("tool %q not found: %v", call.Name, gerr)},
				})
				continue
			}

			toolStartTime := time.Now()
			result, rerr := tool.Run(ctx, call.Input)
			toolDuration := time.Since(toolStartTime)
			toolExecutionTimeHist.Record(ctx, toolDuration.Seconds(), metric.WithAttributes(
				attribute.String("tool_name", call.Name),
			))

			if rerr != nil {
				toolCallsFailedCounter.Add(ctx, 1, metric.WithAttributes(
					attribute.String("tool_name", call.Name),
					attribute.String("error_type", "tool_execution_failed"),
				))
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

			span.AddEvent("Tool executed successfully", trace.WithAttributes(
				attribute.String("tool_name", call.Name),
				attribute.Float64("tool_execution_time_seconds", toolDuration.Seconds()),
			))
		}

		if len(toolResults) > 0 {
			prompt.Messages = append(prompt.Messages, NewToolResultMessage(toolResults))
		}

		iterLog.ToolCalls = toolCallLogs
		iterationDuration := time.Since(iterationStartTime)
		iterationDurationHist.Record(ctx, iterationDuration.Seconds())
		c.logIteration(iterLog)
	}

	planningDuration := time.Since(planningStartTime)
	planningDurationHist.Record(ctx, planningDuration.Seconds())

	if finalOut == "" {
		runsFailedCounter.Add(ctx, 1)
		span.SetStatus(codes.Error, "Max iterations reached without validated plan")
		return "", fmt.Errorf("no validated plan produced after %d iterations", c.maxIterations)
	}

	return finalOut, nil
}

func (c *InstrumentedCoordinator) logIteration(iter cncplanner.IterationLog) {
	if c.logger != nil {
		if err := c.logger.LogIteration(iter); err != nil {
			slog.Error("Failed to log planning iteration", "error", err, "iteration", iter.Iteration)
		}
	}
}
