package tools

import (
	"fmt"

	"cncplanner/tools/storage"
)

// Registry maps tool names to implementations
type Registry map[string]Tool

// NewRegistry creates a new tool registry backed by the given catalog state.
func NewRegistry(catalog storage.CatalogState) (*Registry, error) {
	tools := map[string]Tool{
		"machine_limits_get": NewMachineLimitsGet(catalog),
		"cutting_speeds_get": NewCuttingSpeedsGet(catalog),
	}

	registry := Registry(tools)
	return &registry, nil
}

// GetTools returns all tools in the registry as a slice
func (r *Registry) GetTools() []Tool {
	tools := make([]Tool, 0, len(*r))
	for _, tool := range *r {
		tools = append(tools, tool)
	}
	return tools
}

// GetTool retrieves a tool by name from the registry
func (r Registry) GetTool(name string) (Tool, error) {
	tool, exists := r[name]
	if !exists {
		return nil, fmt.Errorf("tool %q not found in registry", name)
	}
	return tool, nil
}
