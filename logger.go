package cncplanner

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunLogger is the interface for per-iteration planning run logging.
type RunLogger interface {
	LogIteration(iteration IterationLog) error
}

// NewRunLogFilePath returns a file path built from a cleaned up model name or id
// so logs produced with different models are easy to tell apart.
func NewRunLogFilePath(model string) string {
	return fmt.Sprintf(
		"./logs/%d.%s.json",
		time.Now().Unix(),
		strings.ReplaceAll(strings.ToLower(model), ":", "_"),
	)
}

// IterationLog records a single iteration of the plan generation loop.
type IterationLog struct {
	Iteration int           `json:"iteration"`
	Timestamp time.Time     `json:"timestamp"`
	LLMInput  string        `json:"llm_input,omitempty"`
	LLMOutput any           `json:"llm_output"`
	ToolCalls []ToolCallLog `json:"tool_calls,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// ToolCallLog records one catalog tool execution within an iteration.
type ToolCallLog struct {
	Name   string         `json:"name"`
	Input  map[string]any `json:"input"`
	Output map[string]any `json:"output"`
	Error  string         `json:"error,omitempty"`
}

// FileRunLogger accumulates iterations and flushes them as one document at the end.
type FileRunLogger struct {
	runID      string
	iterations []IterationLog
	writer     io.Writer
}

// NewFileRunLogger creates a new file-backed run logger with a fresh run id.
func NewFileRunLogger(writer io.Writer) *FileRunLogger {
	return &FileRunLogger{
		runID:      uuid.NewString(),
		iterations: make([]IterationLog, 0),
		writer:     writer,
	}
}

// LogIteration buffers an iteration (does not flush immediately).
func (l *FileRunLogger) LogIteration(iteration IterationLog) error {
	l.iterations = append(l.iterations, iteration)
	return nil
}

// Flush writes all buffered iterations to the writer.
func (l *FileRunLogger) Flush() error {
	if l.writer == nil {
		return nil
	}

	data, err := json.MarshalIndent(map[string]any{
		"planning_run": map[string]any{
			"run_id":     l.runID,
			"timestamp":  time.Now(),
			"iterations": l.iterations,
		},
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run log: %w", err)
	}

	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write run log: %w", err)
	}

	l.iterations = l.iterations[:0]
	return nil
}

// NoOpRunLogger discards all log entries.
type NoOpRunLogger struct{}

func NewNoOpRunLogger() *NoOpRunLogger {
	return &NoOpRunLogger{}
}

func (l *NoOpRunLogger) LogIteration(iteration IterationLog) error {
	return nil
}

// StdoutRunLogger writes each iteration as a JSON line to stdout (for Lambda/CloudWatch).
type StdoutRunLogger struct {
	runID string
}

func NewStdoutRunLogger() *StdoutRunLogger {
	return &StdoutRunLogger{runID: uuid.NewString()}
}

func (l *StdoutRunLogger) LogIteration(iteration IterationLog) error {
	data, err := json.Marshal(map[string]any{
		"run_id":    l.runID,
		"iteration": iteration,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
