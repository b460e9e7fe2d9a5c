package planning

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Operation is one of the fixed machining operations a plan step may carry.
type Operation string

const (
	OpSetup           Operation = "Setup"
	OpFaceMilling     Operation = "Face Milling"
	OpRoughing        Operation = "Roughing"
	OpFinishing       Operation = "Finishing"
	OpCenterDrilling  Operation = "Center Drilling"
	OpDrilling        Operation = "Drilling"
	OpReaming         Operation = "Reaming"
	OpTapping         Operation = "Tapping"
	OpChamfering      Operation = "Chamfering"
	OpDeburring       Operation = "Deburring"
	OpCleanup         Operation = "Cleanup"
	OpFinalInspection Operation = "Final Inspection"
)

// Operations lists every operation a normalized plan may contain, in the
// order they typically appear on a job sheet.
var Operations = []Operation{
	OpSetup, OpFaceMilling, OpRoughing, OpFinishing, OpCenterDrilling,
	OpDrilling, OpReaming, OpTapping, OpChamfering, OpDeburring,
	OpCleanup, OpFinalInspection,
}

// Known reports whether o is one of the fixed operations.
func (o Operation) Known() bool {
	for _, op := range Operations {
		if o == op {
			return true
		}
	}
	return false
}

// Category is the coarse grouping used to index cutting-speed data. It is
// derived from the operation name and never persisted.
type Category string

const (
	CategoryMilling  Category = "milling"
	CategoryDrilling Category = "drilling"
	CategoryReaming  Category = "reaming"
	CategoryTapping  Category = "tapping"
)

var millingKeywords = []string{
	"milling", "face", "facing", "roughing", "finishing",
	"contouring", "pocketing", "chamfering",
}

// Category maps an operation name to its cutting-speed category. Matching is
// keyword-based over the lowercased name so near-miss operation strings from
// the model still classify. Setup, Deburring, Cleanup and Final Inspection
// have no category.
func (o Operation) Category() (Category, bool) {
	name := strings.ToLower(string(o))
	if name == "" {
		return "", false
	}
	for _, kw := range millingKeywords {
		if strings.Contains(name, kw) {
			return CategoryMilling, true
		}
	}
	switch {
	case strings.Contains(name, "drilling"):
		return CategoryDrilling, true
	case strings.Contains(name, "reaming"):
		return CategoryReaming, true
	case strings.Contains(name, "tapping"):
		return CategoryTapping, true
	}
	return "", false
}

// Step is one machining operation in sequence. The numeric fields are typed
// `any` because model output is untrusted: they may arrive as numbers,
// numeric strings, junk, or null, and validation coerces them as it goes.
type Step struct {
	Number             int       `json:"step"`
	Operation          Operation `json:"operation"`
	ToolDescription    string    `json:"tool_description,omitempty"`
	SpindleSpeedRPM    any       `json:"spindle_speed_rpm"`
	FeedRateMmMin      any       `json:"feed_rate_mm_min"`
	ToolDiameterMm     any       `json:"tool_diameter_mm"`
	Notes              string    `json:"notes,omitempty"`
	ValidationFlags    []string  `json:"validation_flags"`
	ValidationWarnings string    `json:"validation_warnings"`
}

// Plan is an ordered sequence of steps representing one full job.
type Plan []Step

// Envelope is the wire shape the model is asked to produce and the shape a
// validated plan is serialized back into.
type Envelope struct {
	Plan []Step `json:"plan"`
}

// Machine-readable correction tags recorded in Step.ValidationFlags.
const (
	FlagToolOpMismatch                     = "tool_op_mismatch"
	FlagRPMMachineBelowRecommended         = "rpm_machine_below_recommended"
	FlagRPMFilledFromRecommendation        = "rpm_filled_from_recommendation"
	FlagRPMFilledRecommendedThenMachineCap = "rpm_filled_recommended_then_machine_cap"
	FlagRPMBelowRecommendedClamped         = "rpm_below_recommended_clamped"
	FlagRPMAboveRecommendedClamped         = "rpm_above_recommended_clamped"
	FlagRPMCappedToMachine                 = "rpm_capped_to_machine"
	FlagMaterialUnknownSkipRPM             = "material_unknown_skip_rpm"
	FlagRPMNullNoBasis                     = "rpm_null_no_basis"
	FlagFeedCappedToMachine                = "feed_capped_to_machine"
	FlagRPMNegativeToZero                  = "rpm_negative_to_zero"
	FlagFeedNegativeToZero                 = "feed_negative_to_zero"
)

// asFloat coerces an untrusted step field to a float64. Unparseable values
// count as absent, never as errors.
func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
