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

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cncplanner"
	"cncplanner/coordinator/bedrock"
	"cncplanner/planning"
	"cncplanner/slack"
	"cncplanner/tools"
	"cncplanner/tools/storage"
)

func main() {
	ctx := context.Background()

	_ = godotenv.Load()

	var modelConfig cncplanner.ModelConfig
	if err := envdecode.Decode(&modelConfig); err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	var plannerConfig cncplanner.PlannerConfig
	if err := envdecode.Decode(&plannerConfig); err != nil {
		log.Fatalf("Failed to decode: %s", err)
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
	slog.Info("SETUP: Machine catalog loaded at initialization",
		"materials_count", len(catalog.CuttingSpeeds),
		"max_spindle_speed_rpm", catalog.MachineLimits.MaxSpindleSpeedRPM,
	)

	req := cncplanner.PlanRequest{
		Description: argOr(1, "Aluminum plate 100x50x10 mm with two 8 mm through holes and a 0.5 mm chamfer on all edges"),
		Material:    argOr(2, "6061 aluminum"),
	}

	logger, cleanup, err := newRunLogger(modelConfig.ModelID)
	if err != nil {
		slog.Error("Failed to create run logger", "error", err)
		return
	}
	defer func() {
		if err := cleanup(); err != nil {
			slog.Error("Failed to flush run log", "error", err)
		}
	}()

	brc, err := newBedrockRuntimeClient(ctx)
	if err != nil {
		slog.Error("SETUP: Failed to create Bedrock client", "error", err)
		return
	}

	opts := bedrock.LLMOptions{
		ModelID:   modelConfig.ModelID,
		MaxTokens: modelConfig.MaxTokens,
		TopP:      modelConfig.TopP,
	}

	llm := bedrock.NewLLMClient(brc, opts)

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

	tracer := tracerProvider.Tracer(cncplanner.TracerNameBedrock)
	meter := meterProvider.Meter(cncplanner.TracerNameBedrock)

	ctx, span := tracer.Start(ctx, cncplanner.TracerNameBedrock, trace.WithAttributes(
		attribute.String("model.id", modelConfig.ModelID),
		attribute.Int("model.max_tokens", int(modelConfig.MaxTokens)),
		attribute.Float64("model.temperature", float64(modelConfig.Temperature)),
		attribute.Float64("model.top_p", float64(modelConfig.TopP)),
	))
	defer span.End()

	output, err := bedrock.NewInstrumentedCoordinator(
		llm,
		registry,
		catalog,
		plannerConfig.MaxIterations,
		logger,
		tracer,
		meter).Run(ctx, req)
	if err != nil {
		slog.Error("RESULT: Error handling plan request", "error", err)
		return
	}

	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := new(bytes.Buffer)
		body.ReadFrom(r.Body) // nolint: errcheck
		slog.Info("FINAL: Received request",
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

func newBedrockRuntimeClient(ctx context.Context) (*bedrockruntime.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(5))
	if err != nil {
		return nil, err
	}
	return bedrockruntime.NewFromConfig(awsCfg), nil
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
