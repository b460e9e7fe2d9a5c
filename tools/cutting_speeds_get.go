package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"cncplanner/planning"
	"cncplanner/tools/storage"
)

type CuttingSpeedsGet struct{ state storage.CatalogState }

func NewCuttingSpeedsGet(state storage.CatalogState) *CuttingSpeedsGet {
	return &CuttingSpeedsGet{state: state}
}

func (t *CuttingSpeedsGet) Name() string  { return "cutting_speeds_get" }
func (t *CuttingSpeedsGet) Title() string { return "Get Cutting Speeds (by material)" }
func (t *CuttingSpeedsGet) Description() string {
	return "Resolves a free-text material name against the catalog and returns its cutting-speed (Vc) ranges per operation category (milling, drilling, reaming, tapping), in m/min."
}

func (t *CuttingSpeedsGet) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"material": {
				Type: "string",
			},
		},
		Required: []string{"material"},
	}
}

func (t *CuttingSpeedsGet) OutputSchema() *jsonschema.Schema {
	minZero := 0.0
	vcRange := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"min": {Type: "number", Minimum: &minZero},
			"max": {Type: "number", Minimum: &minZero},
		},
		Required: []string{"min", "max"},
	}
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"requested": {Type: "string"},
			"resolved":  {Type: "boolean"},
			"material":  {Type: "string"},
			"cutting_speeds": {
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"milling":  vcRange,
					"drilling": vcRange,
					"reaming":  vcRange,
					"tapping":  vcRange,
				},
			},
			"known_materials": {
				Type:  "array",
				Items: &jsonschema.Schema{Type: "string"},
			},
		},
		Required: []string{"requested", "resolved"},
	}
}

func (t *CuttingSpeedsGet) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	requested := ""
	if v, ok := input["material"].(string); ok {
		requested = v
	}

	catalog, err := t.load(ctx)
	if err != nil {
		return nil, err
	}

	out := struct {
		Requested      string                               `json:"requested"`
		Resolved       bool                                 `json:"resolved"`
		Material       string                               `json:"material,omitempty"`
		CuttingSpeeds  map[planning.Category]planning.Range `json:"cutting_speeds,omitempty"`
		KnownMaterials []string                             `json:"known_materials,omitempty"`
	}{Requested: requested}

	if key, ok := catalog.ResolveMaterial(requested); ok {
		out.Resolved = true
		out.Material = key
		out.CuttingSpeeds = catalog.CuttingSpeeds[key]
	} else {
		out.KnownMaterials = catalog.Materials()
	}

	// marshal -> map[string]any to keep outputs uniform
	b, _ := json.Marshal(out)
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	return m, nil
}

func (t *CuttingSpeedsGet) load(ctx context.Context) (*planning.Catalog, error) {
	b, err := t.state.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return planning.ParseCatalog(b)
}
