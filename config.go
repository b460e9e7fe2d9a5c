package cncplanner

type ModelConfig struct {
	ModelID     string  `env:"MODEL_ID,required"`
	MaxTokens   int32   `env:"MAX_TOKENS,default=2048"`
	Temperature float32 `env:"TEMPERATURE,default=0.2"`
	TopP        float32 `env:"TOP_P,default=0.9"`
}

type PlannerConfig struct {
	ArtifactsCatalogPath string `env:"ARTIFACTS_CATALOG_PATH,default=artifacts/catalog.json"`
	BaseOllamaEndpoint   string `env:"BASE_OLLAMA_ENDPOINT,default=http://localhost:11434"`
	MaxIterations        int    `env:"MAX_ITERATIONS,default=10"`
	SlackChannel         string `env:"SLACK_CHANNEL,default=#machine-shop"`
}
