package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
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
func NewInstrumentedCoordinator(llm llmClient, tp cncplanner.ToolProvider, catalog *planning.Catalog, maxIter int, log cncplanner.RunLogger, tracer trace.Tracer, meter metric.Meter) *InstrumentedCoordinator {
	return &InstrumentedCoordinator{
		llm:           llm,
		toolProvider:  tp,
		catalog:       catalog,
		maxIterations: maxIter,
		logger:        log,
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

	// Ollama-specific counters
	toolDeduplicationsCounter, _ := c.meter.Int64Counter("tool_deduplications_total",
		metric.WithDescription("Total number of tool call deduplications performed"))
	missingToolResultsCounter, _ := c.meter.Int64Counter("missing_tool_results_total",
		metric.WithDescription("Total number of times required tool results were missing"))
	rejectedPlansCounter, _ := c.meter.Int64Counter("rejected_plans_total",
		metric.WithDescription("Total number of candidate plans rejected by validation"))
	validatedPlansCounter, _ := c.meter.Int64Counter("validated_plans_total",
		metric.WithDescription("Total number of candidate plans that passed validation"))
	emptyResponsesCounter, _ := c.meter.Int64Counter("empty_responses_total",
		metric.WithDescription("Total number of empty responses received from LLM"))

	// Ollama-specific gauges
	toolCallsDeduplicatedGauge, _ := c.meter.Int64Gauge("tool_calls_deduplicated_count",
		metric.WithDescription("Number of tool calls removed by deduplication in latest iteration"))
	toolCallsOriginalGauge, _ := c.meter.Int64Gauge("tool_calls_original_count",
		metric.WithDescription("Original number of tool calls before deduplication"))

	// Record initial run
	runsCounter.Add(ctx, 1)

	// Set static gauges
	toolsAvailableGauge.Record(ctx, int64(len(c.toolProvider.GetTools())))

	prompt, err := NewPrompt(req, c.toolProvider)
	if err != nil {
		runsFailedCounter.Add(ctx, 1)
		span.SetStatus(codes.Error, "Failed to create prompt")
		span.RecordError(err)
		return "", fmt.Errorf("failed to apply system prompt: %w", err)
	}

	var finalOut string

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
				if len(prompt.Messages) == 0 {
					return "no_content"
				}
				last := prompt.Messages[len(prompt.Messages)-1].Content
				if len(last) > 100 {
					return last[:97] + "..."
				}
				return last
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
			return finalOut, fmt.Errorf("failed to invoke LLM: %w", err)
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

		// 2a) Candidate plan path (no tool calls)
		if len(res.ToolCalls) == 0 && res.Content != "" {
			// Accept a candidate only if machine_limits_get and cutting_speeds_get results are in history
			if !(prompt.HasToolResult("machine_limits_get") && prompt.HasToolResult("cutting_speeds_get")) {
				missingToolResultsCounter.Add(ctx, 1)
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
				rejectedPlansCounter.Add(ctx, 1)
				slog.Warn("COORDINATOR: Candidate plan rejected", "iteration", iter+1, "error", ferr)

				span.AddEvent("Candidate plan rejected", trace.WithAttributes(
					attribute.String("error", ferr.Error()),
				))

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
				runsFailedCounter.Add(ctx, 1)
				span.SetStatus(codes.Error, "Failed to marshal validated plan")
				span.RecordError(merr)
				return "", fmt.Errorf("failed to marshal validated plan: %w", merr)
			}

			validatedPlansCounter.Add(ctx, 1)
			runsCompletedCounter.Add(ctx, 1)
			planStepsGauge.Record(ctx, int64(len(plan)))
			slog.Info("COORDINATOR: Plan validated; ending run", "iteration", iter+1, "steps", len(plan))
			finalOut = string(out)
			iterationDuration := time.Since(iterationStartTime)
			iterationDurationHist.Record(ctx, iterationDuration.Seconds())
			c.logIteration(iterLog)
			planningDuration := time.Since(planningStartTime)
			planningDurationHist.Record(ctx, planningDuration.Seconds())

			span.AddEvent("Validated plan accepted")
			break
		}

		// 2b) Tool-call path
		if len(res.ToolCalls) == 0 && res.Content == "" {
			emptyResponsesCounter.Add(ctx, 1)
			err := fmt.Errorf("no tool_calls and no final content")
			iterLog.Error = err.Error()
			c.logIteration(iterLog)
			runsFailedCounter.Add(ctx, 1)
			span.SetStatus(codes.Error, "Empty response received")
			span.RecordError(err)
			return "", err
		}

		var toolCallLogs []cncplanner.ToolCallLog

		// Record original tool call count before deduplication
		originalToolCallCount := len(res.ToolCalls)
		toolCallsOriginalGauge.Record(ctx, int64(originalToolCallCount))

		toolCalls := dedupeToolCalls(res.ToolCalls)
		deduplicatedCount := originalToolCallCount - len(toolCalls)
		toolCallsDeduplicatedGauge.Record(ctx, int64(deduplicatedCount))

		if deduplicatedCount > 0 {
			toolDeduplicationsCounter.Add(ctx, int64(deduplicatedCount))
			slog.Info("COORDINATOR: Deduped tool calls", "requested", originalToolCallCount, "kept", len(toolCalls), "deduplicated", deduplicatedCount)

			span.AddEvent("Tool calls deduplicated", trace.WithAttributes(
				attribute.Int("original_count", originalToolCallCount),
				attribute.Int("deduplicated_count", deduplicatedCount),
				attribute.Int("final_count", len(toolCalls)),
			))
		}

		for _, call := range toolCalls {
			slog.Info("COORDINATOR: Handling tool call", "name", call.Name, "iteration", iter+1)

			toolCallsCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool_name", call.Name),
			))

			toolLog := cncplanner.ToolCallLog{Name: call.Name, Input: call.Args}

			tool, err := c.toolProvider.GetTool(call.Name)
			if err != nil {
				toolCallsFailedCounter.Add(ctx, 1, metric.WithAttributes(
					attribute.String("tool_name", call.Name),
					attribute.String("error_type", "tool_not_found"),
				))
				toolLog.Error = err.Error()
				toolCallLogs = append(toolCallLogs, toolLog)
				iterLog.ToolCalls = toolCallLogs
				c.logIteration(iterLog)
				runsFailedCounter.Add(ctx, 1)
				span.SetStatus(codes.Error, "Tool not found")
				span.RecordError(err)
				return finalOut, fmt.Errorf("failed to get tool %q: %w", call.Name, err)
			}

			toolStartTime := time.Now()
			result, err := tool.Run(ctx, call.Args)
			toolDuration := time.Since(toolStartTime)
			toolExecutionTimeHist.Record(ctx, toolDuration.Seconds(), metric.WithAttributes(
				attribute.String("tool_name", call.Name),
			))

			if err != nil {
				toolCallsFailedCounter.Add(ctx, 1, metric.WithAttributes(
					attribute.String("tool_name", call.Name),
					attribute.String("error_type", "tool_execution_failed"),
				))
				toolLog.Error = err.Error()
				toolCallLogs = append(toolCallLogs, toolLog)
				iterLog.ToolCalls = toolCallLogs
				c.logIteration(iterLog)
				runsFailedCounter.Add(ctx, 1)
				span.SetStatus(codes.Error, "Tool execution failed")
				span.RecordError(err)
				return "", fmt.Errorf("failed to run tool %q: %w", call.Name, err)
			}

			toolLog.Output = result
			toolCallLogs = append(toolCallLogs, toolLog)

			payload, err := json.Marshal(result)
			if err != nil {
				iterLog.Error = fmt.Sprintf("failed to marshal tool result: %v", err)
				c.logIteration(iterLog)
				runsFailedCounter.Add(ctx, 1)
				span.SetStatus(codes.Error, "Failed to marshal tool result")
				span.RecordError(err)
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

			span.AddEvent("Tool executed successfully", trace.WithAttributes(
				attribute.String("tool_name", call.Name),
				attribute.Float64("tool_execution_time_seconds", toolDuration.Seconds()),
			))

			slog.Info("COORDINATOR: Tool executed, appended message", "name", call.Name, "iteration", iter+1)
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

// logIteration logs a step using the configured logger, handling errors gracefully
func (c *InstrumentedCoordinator) logIteration(iteration cncplanner.IterationLog) {
	if c.logger != nil {
		if err := c.logger.LogIteration(iteration); err != nil {
			slog.Error("Failed to log planning iteration", "error", err, "iteration", iteration.Iteration)
		}
	}
}
