package planning

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Range is an inclusive [Min, Max] interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// MachineLimits are the machine's hard physical limits.
type MachineLimits struct {
	MaxSpindleSpeedRPM float64 `json:"max_spindle_speed_rpm"`
	MaxFeedRateMmMin   float64 `json:"max_feed_rate_mm_min"`
}

// Catalog holds the machine, tool, and material constraints validation runs
// against. It is built once at startup and never mutated afterwards, so any
// number of goroutines may read it concurrently.
//
// ToolDiameterLimits is advisory: it is surfaced to the plan generator so the
// model picks realistic cutters, but the validator does not enforce it.
type Catalog struct {
	MachineLimits      MachineLimits                 `json:"machine_limits"`
	ToolCompatibility  map[Operation][]string        `json:"tool_compatibility"`
	ToolDiameterLimits map[string]Range              `json:"tool_diameter_limits"`
	CuttingSpeeds      map[string]map[Category]Range `json:"cutting_speeds"`
}

// DefaultCatalog returns the built-in constraint set: a 3-axis mill with an
// 8100 rpm spindle and conservative carbide cutting-speed ranges.
func DefaultCatalog() *Catalog {
	return &Catalog{
		MachineLimits: MachineLimits{
			MaxSpindleSpeedRPM: 8100,
			MaxFeedRateMmMin:   15000,
		},
		ToolCompatibility: map[Operation][]string{
			OpSetup:           {"Vise", "Fixture", "Soft Jaws"},
			OpFaceMilling:     {"Face Mill", "End Mill"},
			OpRoughing:        {"End Mill"},
			OpFinishing:       {"End Mill"},
			OpCenterDrilling:  {"Center Drill"},
			OpDrilling:        {"Drill Bit"},
			OpReaming:         {"Reamer"},
			OpTapping:         {"Tap"},
			OpChamfering:      {"Chamfer Mill", "Spot Drill"},
			OpDeburring:       {"Deburring Tool", "End Mill"},
			OpCleanup:         {},
			OpFinalInspection: {},
		},
		ToolDiameterLimits: map[string]Range{
			"Drill Bit":    {Min: 1, Max: 25},
			"Center Drill": {Min: 1, Max: 6},
			"Face Mill":    {Min: 20, Max: 100},
			"End Mill":     {Min: 2, Max: 20},
			"Chamfer Mill": {Min: 3, Max: 12},
			"Reamer":       {Min: 3, Max: 20},
		},
		CuttingSpeeds: map[string]map[Category]Range{
			"aluminum": {
				CategoryMilling:  {Min: 150, Max: 500},
				CategoryDrilling: {Min: 80, Max: 200},
				CategoryReaming:  {Min: 60, Max: 150},
				CategoryTapping:  {Min: 20, Max: 60},
			},
			"steel": {
				CategoryMilling:  {Min: 80, Max: 150},
				CategoryDrilling: {Min: 25, Max: 40},
				CategoryReaming:  {Min: 20, Max: 40},
				CategoryTapping:  {Min: 10, Max: 20},
			},
			"stainless": {
				CategoryMilling:  {Min: 60, Max: 120},
				CategoryDrilling: {Min: 15, Max: 25},
				CategoryReaming:  {Min: 10, Max: 25},
				CategoryTapping:  {Min: 5, Max: 15},
			},
			"cast_iron": {
				CategoryMilling:  {Min: 60, Max: 120},
				CategoryDrilling: {Min: 20, Max: 35},
				CategoryReaming:  {Min: 15, Max: 30},
				CategoryTapping:  {Min: 8, Max: 20},
			},
			"titanium": {
				CategoryMilling:  {Min: 30, Max: 60},
				CategoryDrilling: {Min: 10, Max: 20},
				CategoryReaming:  {Min: 8, Max: 15},
				CategoryTapping:  {Min: 4, Max: 10},
			},
			"brass": {
				CategoryMilling:  {Min: 200, Max: 400},
				CategoryDrilling: {Min: 60, Max: 150},
				CategoryReaming:  {Min: 50, Max: 120},
				CategoryTapping:  {Min: 15, Max: 40},
			},
			"plastics": {
				CategoryMilling:  {Min: 300, Max: 800},
				CategoryDrilling: {Min: 100, Max: 250},
				CategoryReaming:  {Min: 80, Max: 200},
				CategoryTapping:  {Min: 20, Max: 50},
			},
		},
	}
}

// ParseCatalog builds a catalog from a JSON document, typically loaded
// through the storage layer at process start.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if c.MachineLimits.MaxSpindleSpeedRPM <= 0 {
		return nil, fmt.Errorf("catalog: max_spindle_speed_rpm must be positive, got %v", c.MachineLimits.MaxSpindleSpeedRPM)
	}
	if c.MachineLimits.MaxFeedRateMmMin <= 0 {
		return nil, fmt.Errorf("catalog: max_feed_rate_mm_min must be positive, got %v", c.MachineLimits.MaxFeedRateMmMin)
	}
	if len(c.CuttingSpeeds) == 0 {
		return nil, fmt.Errorf("catalog: cutting_speeds table is empty")
	}
	return &c, nil
}

// Materials returns the known material keys in sorted order.
func (c *Catalog) Materials() []string {
	keys := make([]string, 0, len(c.CuttingSpeeds))
	for k := range c.CuttingSpeeds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
