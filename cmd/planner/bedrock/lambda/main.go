package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joeshaw/envdecode"

	"cncplanner"
	"cncplanner/coordinator/bedrock"
	"cncplanner/planning"
	"cncplanner/tools"
	"cncplanner/tools/storage"
)

type Params struct {
	Description string `json:"description"`
	Material    string `json:"material"`
}

type Results struct {
	Output any `json:"output"`
}

func main() {
	fn := func(ctx context.Context, params Params) (Results, error) {
		var modelConfig cncplanner.ModelConfig
		if err := envdecode.Decode(&modelConfig); err != nil {
			log.Fatalf("Failed to decode: %s", err)
		}

		var plannerConfig cncplanner.PlannerConfig
		if err := envdecode.Decode(&plannerConfig); err != nil {
			log.Fatalf("Failed to decode: %s", err)
		}

		// S3 config from env
		s3Bucket := os.Getenv("ARTIFACTS_S3_BUCKET")
		catalogKey := os.Getenv("ARTIFACTS_CATALOG_S3_KEY")
		if s3Bucket == "" || catalogKey == "" {
			return Results{}, fmt.Errorf("missing S3 config: ARTIFACTS_S3_BUCKET and ARTIFACTS_CATALOG_S3_KEY must be set")
		}

		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return Results{}, fmt.Errorf("failed to load AWS config: %w", err)
		}
		s3Client := s3.NewFromConfig(awsCfg)

		cs := storage.NewS3CatalogState(s3Client, s3Bucket, catalogKey)
		registry, err := tools.NewRegistry(cs)
		if err != nil {
			slog.Error("SETUP: Failed to create tool registry", "error", err)
			return Results{}, err
		}
		slog.Info("SETUP: S3 catalog state initialized")

		catalogData, err := cs.Load(ctx)
		if err != nil {
			slog.Error("SETUP: Failed to load catalog from S3", "error", err)
			return Results{}, err
		}
		catalog, err := planning.ParseCatalog(catalogData)
		if err != nil {
			slog.Error("SETUP: Failed to parse catalog", "error", err)
			return Results{}, err
		}
		slog.Info("SETUP: Machine catalog loaded from S3", "materials_count", len(catalog.CuttingSpeeds))

		runLogger := cncplanner.NewStdoutRunLogger()

		brc, err := newBedrockRuntimeClient(ctx)
		if err != nil {
			slog.Error("SETUP: Failed to create Bedrock client", "error", err)
			return Results{}, err
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
			return Results{}, err
		}
		_ = meterProvider
		defer func() {
			if err := otelShutdown(ctx); err != nil {
				slog.Error("SETUP: Failed to shutdown OpenTelemetry", "error", err)
			}
		}()

		req := cncplanner.PlanRequest{
			Description: params.Description,
			Material:    params.Material,
		}

		output, err := bedrock.NewCoordinator(
			llm,
			registry,
			catalog,
			plannerConfig.MaxIterations,
			runLogger,
			tracerProvider).Run(ctx, req)
		if err != nil {
			slog.Error("RESULT: Error handling plan request", "error", err)
			return Results{}, err
		}

		return Results{Output: output}, nil
	}

	lambda.Start(fn)
}

func newBedrockRuntimeClient(ctx context.Context) (*bedrockruntime.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(5))
	if err != nil {
		return nil, err
	}
	return bedrockruntime.NewFromConfig(awsCfg), nil
}
