package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"cncplanner/planning"
	"cncplanner/tools/storage"
)

type MachineLimitsGet struct{ state storage.CatalogState }

func NewMachineLimitsGet(state storage.CatalogState) *MachineLimitsGet {
	return &MachineLimitsGet{state: state}
}

func (t *MachineLimitsGet) Name() string  { return "machine_limits_get" }
func (t *MachineLimitsGet) Title() string { return "Get Machine Limits" }
func (t *MachineLimitsGet) Description() string {
	return "Returns the machine's hard limits: maximum spindle speed (rpm) and maximum feed rate (mm/min)."
}

func (t *MachineLimitsGet) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: map[string]*jsonschema.Schema{},
	}
}

func (t *MachineLimitsGet) OutputSchema() *jsonschema.Schema {
	minZero := 0.0
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"machine_limits": {
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"max_spindle_speed_rpm": {Type: "number", Minimum: &minZero},
					"max_feed_rate_mm_min":  {Type: "number", Minimum: &minZero},
				},
				Required: []string{"max_spindle_speed_rpm", "max_feed_rate_mm_min"},
			},
		},
		Required: []string{"machine_limits"},
	}
}

func (t *MachineLimitsGet) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	catalog, err := t.load(ctx)
	if err != nil {
		return nil, err
	}

	out := struct {
		MachineLimits planning.MachineLimits `json:"machine_limits"`
	}{MachineLimits: catalog.MachineLimits}

	// marshal -> map[string]any to keep outputs uniform
	b, _ := json.Marshal(out)
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	return m, nil
}

func (t *MachineLimitsGet) load(ctx context.Context) (*planning.Catalog, error) {
	b, err := t.state.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return planning.ParseCatalog(b)
}
