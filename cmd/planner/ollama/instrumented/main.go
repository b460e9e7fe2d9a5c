package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cncplanner"
	"cncplanner/coordinator/ollama"
	"cncplanner/planning"
	"cncplanner/slack"
	"cncplanner/tools"
	"cncplanner/tools/storage"
)

func main() {
	ctx := context.Background()

	// Local runs keep MODEL_ID and friends in a .env file; absence is fine.
	_ = godotenv.Load()

	var modelConfig cncplanner.ModelConfig
	if err := envdecode.Decode(&modelConfig); err != nil {
		log.Fatalf("SETUP: Failed to decode: %s", err)
	}

	var plannerConfig cncplanner.PlannerConfig
	if err := envdecode.Decode(&plannerConfig); err != nil {
		log.Fatalf("SETUP: Failed to decode: %s", err)
	}

	cs := storage.NewFileCatalogState(plannerConfig.ArtifactsCatalogPath)
	registry, err := tools.NewRegistry(cs)
	if err != nil {
		slog.Error("SETUP: Failed to create tool registry", "error", err)
		return
	}

	catalog, err := loadCatalog(ctx, cs)
	if err != nil {
		slog.Error("SETUP: Failed to load machine catalog", "error", err)
		return
	}
	slog.Info("SETUP: Machine catalog loaded at initialization", "materials_count", len(catalog.CuttingSpeeds))

	logger, cleanup, err := newRunLogger(modelConfig.ModelID)
	if err != nil {
		slog.Error("SETUP: Failed to create run logger", "error", err)
		return
	}
	defer func() {
		if err := cleanup(); err != nil {
			slog.Error("SETUP: Failed to flush run log", "error", err)
		}
	}()

	req := cncplanner.PlanRequest{
		Description: argOr(1, "Aluminum plate 100x50x10 mm with two 8 mm through holes and a 0.5 mm chamfer on all edges"),
		Material:    argOr(2, "6061 aluminum"),
	}

	prompt, err := ollama.NewPrompt(req, registry)
	if err != nil {
		slog.Error("SETUP: Failed to apply system prompt", "error", err)
		return
	}

	llm, err := ollama.NewClient(ollama.ClientOpts{
		BaseEndpoint: plannerConfig.BaseOllamaEndpoint,
		ModelID:      modelConfig.ModelID,
		Prompt:       prompt,
		HTTPClient:   http.DefaultClient,
	})
	if err != nil {
		slog.Error("SETUP: Failed to create LLM client", "error", err)
		return
	}

	tracerProvider, meterProvider, otelShutdown, err := cncplanner.InitOtel(ctx)
	if err != nil {
		slog.Error("SETUP: Failed to initialize OpenTelemetry", "error", err)
		return
	}
	defer func() {
		if err := otelShutdown(ctx); err != nil {
			slog.Error("SETUP: Failed to shutdown OpenTelemetry", "error", err)
		}
	}()

	tracer := tracerProvider.Tracer(cncplanner.TracerNameOllama)
	meter := meterProvider.Meter(cncplanner.TracerNameOllama)

	ctx, span := tracer.Start(ctx, cncplanner.TracerNameOllama, trace.WithAttributes(
		attribute.String("model.id", modelConfig.ModelID),
		attribute.Int("model.max_tokens", int(modelConfig.MaxTokens)),
		attribute.Float64("model.temperature", float64(modelConfig.Temperature)),
		attribute.Float64("model.top_p", float64(modelConfig.TopP)),
	))
	defer span.End()

	output, err := ollama.NewInstrumentedCoordinator(llm, registry, catalog, plannerConfig.MaxIterations, logger, tracer, meter).Run(ctx, req)
	if err != nil {
		slog.Error("FAILURE: Error handling plan request", "error", err)
		return
	}

	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := new(bytes.Buffer)
		body.ReadFrom(r.Body) // nolint: errcheck
		slog.Info("Received request",
			"method", r.Method,
			"path", r.URL.Path,
			"header", r.Header,
			"body", body.String(),
		)
		w.WriteHeader(http.StatusOK)
	}))
	defer testServer.Close()

	slackClient := slack.NewClient(testServer.URL, http.DefaultClient)
	if err := slackClient.PostMessage(ctx, plannerConfig.SlackChannel, slack.FormatPlan(req.Material, output)); err != nil {
		slog.Error("Failed to post result to Slack", "error", err)
	}
}

func argOr(i int, def string) string {
	if len(os.Args) > i {
		return os.Args[i]
	}
	return def
}

func loadCatalog(ctx context.Context, cs storage.CatalogState) (*planning.Catalog, error) {
	data, err := cs.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return planning.ParseCatalog(data)
}

func newRunLogger(modelID string) (cncplanner.RunLogger, func() error, error) {
	logFilePath := cncplanner.NewRunLogFilePath(modelID)
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, func() error { return err }, fmt.Errorf("failed to open log file: %w", err)
	}

	logger := cncplanner.NewFileRunLogger(logFile)
	cleanup := func() error {
		return errors.Join(logger.Flush(), logFile.Close())
	}
	return logger, cleanup, nil
}
