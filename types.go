package cncplanner

import (
	"context"
	"net/http"

	"cncplanner/tools"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type SlackClient interface {
	PostMessage(ctx context.Context, channel string, message string) error
}

type ToolProvider interface {
	GetTools() []tools.Tool
	GetTool(name string) (tools.Tool, error)
}

// PlanRequest captures the user-supplied inputs for one planning run.
// Material is kept separate from the part description because the
// validator resolves it against the catalog's cutting-speed keys.
type PlanRequest struct {
	Description string `json:"description"`
	Material    string `json:"material"`
}

type Coordinator interface {
	Run(ctx context.Context, req PlanRequest) (string, error)
}
