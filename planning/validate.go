package planning

import (
	"fmt"
	"strings"
)

// Validator applies machine, tool, and material rules to a normalized plan.
// It only reads the catalog, so one validator is safe to share across
// concurrent plan validations.
type Validator struct {
	catalog *Catalog
}

func NewValidator(catalog *Catalog) *Validator {
	return &Validator{catalog: catalog}
}

// Validate checks and auto-corrects every step of a plan:
//   - tool/operation compatibility (informational warning only)
//   - spindle RPM filled or clamped from Vc ranges, then capped to the machine
//   - feed rate capped to the machine
//   - negative speed/feed floored at zero
//
// dims is informational and recorded nowhere; it is accepted so callers can
// thread part dimensions through without the validator depending on them.
// Validate never fails: anomalies degrade to flags and warnings on the step,
// and corrected values are written to a copy so the input plan is preserved
// for audit.
func (v *Validator) Validate(plan []Step, materialText string, dims *Dimensions) []Step {
	_ = dims

	limits := v.catalog.MachineLimits
	materialKey, resolved := v.catalog.ResolveMaterial(materialText)
	var props map[Category]Range
	if resolved {
		props = v.catalog.CuttingSpeeds[materialKey]
	}

	validated := make([]Step, 0, len(plan))
	for _, step := range plan {
		s := step
		flags := []string{}
		var warnings []string

		speed, speedOK := asFloat(step.SpindleSpeedRPM)
		feed, feedOK := asFloat(step.FeedRateMmMin)
		diam, diamOK := asFloat(step.ToolDiameterMm)

		// 1) Tool vs operation compatibility.
		if valid := v.catalog.ToolCompatibility[s.Operation]; len(valid) > 0 && s.ToolDescription != "" {
			if !toolMatchesAny(s.ToolDescription, valid) {
				warnings = append(warnings, fmt.Sprintf(
					"Tool '%s' may be inappropriate for '%s'. Recommended: %s.",
					s.ToolDescription, s.Operation, strings.Join(valid, ", ")))
				flags = append(flags, FlagToolOpMismatch)
			}
		}

		// 2) Spindle RPM from Vc: fill or clamp, then cap to the machine.
		category, catOK := s.Operation.Category()
		switch {
		case catOK && len(props) > 0 && diamOK && diam > 0:
			rec, ok := RecommendRPM(category, props, diam)
			if !ok {
				break
			}
			rangeStr := fmt.Sprintf("%d-%d", int(rec.Min), int(rec.Max))
			machineMax := limits.MaxSpindleSpeedRPM

			switch {
			case machineMax < rec.Min:
				// No intersection: the machine cannot reach the recommended minimum.
				s.SpindleSpeedRPM = machineMax
				warnings = append(warnings, fmt.Sprintf(
					"Machine limit %d is below the recommended range %s. Set RPM to machine limit %d (underspeed).",
					int(machineMax), rangeStr, int(machineMax)))
				flags = append(flags, FlagRPMMachineBelowRecommended)

			case !speedOK:
				filled := rec.Mid
				if filled > machineMax {
					warnings = append(warnings, fmt.Sprintf(
						"RPM was null; recommended ~%d but capped to machine limit %d.",
						int(rec.Mid), int(machineMax)))
					flags = append(flags, FlagRPMFilledRecommendedThenMachineCap)
					filled = machineMax
				} else {
					warnings = append(warnings, fmt.Sprintf(
						"RPM was null; set to recommended ~%d.", int(rec.Mid)))
					flags = append(flags, FlagRPMFilledFromRecommendation)
				}
				s.SpindleSpeedRPM = filled

			default:
				corrected := speed
				if speed < rec.Min {
					corrected = rec.Min
					warnings = append(warnings, fmt.Sprintf(
						"RPM %d (Vc ~%.0f m/min) below the recommended range %s. Clamped to recommended minimum %d.",
						int(speed), ActualCuttingSpeed(speed, diam), rangeStr, int(rec.Min)))
					flags = append(flags, FlagRPMBelowRecommendedClamped)
				} else if speed > rec.Max {
					corrected = rec.Max
					warnings = append(warnings, fmt.Sprintf(
						"RPM %d (Vc ~%.0f m/min) above the recommended range %s. Clamped to recommended maximum %d.",
						int(speed), ActualCuttingSpeed(speed, diam), rangeStr, int(rec.Max)))
					flags = append(flags, FlagRPMAboveRecommendedClamped)
				}

				if corrected > machineMax {
					warnings = append(warnings, fmt.Sprintf(
						"RPM %d exceeds the machine limit %d. Capped to %d.",
						int(corrected), int(machineMax), int(machineMax)))
					flags = append(flags, FlagRPMCappedToMachine)
					corrected = machineMax
				}

				if corrected != speed {
					s.SpindleSpeedRPM = corrected
				}
			}

		case speedOK && !resolved:
			warnings = append(warnings, fmt.Sprintf(
				"Material '%s' unknown; skipped Vc-based RPM validation.", materialText))
			flags = append(flags, FlagMaterialUnknownSkipRPM)

		case !speedOK && catOK:
			warnings = append(warnings,
				"RPM is null and Vc-based recommendation unavailable (missing material or tool diameter).")
			flags = append(flags, FlagRPMNullNoBasis)
		}

		// 3) Feed: cap to the machine maximum.
		if feedOK && feed > limits.MaxFeedRateMmMin {
			warnings = append(warnings, fmt.Sprintf(
				"Feed rate %d mm/min exceeds machine max (%d). Auto-corrected to max.",
				int(feed), int(limits.MaxFeedRateMmMin)))
			flags = append(flags, FlagFeedCappedToMachine)
			s.FeedRateMmMin = limits.MaxFeedRateMmMin
		}

		// 4) Non-negative floors. These check the values as supplied, so a
		// negative speed that was clamped above still ends up at zero.
		if speedOK && speed < 0 {
			warnings = append(warnings, "Negative RPM replaced with 0.")
			flags = append(flags, FlagRPMNegativeToZero)
			s.SpindleSpeedRPM = float64(0)
		}
		if feedOK && feed < 0 {
			warnings = append(warnings, "Negative feed rate replaced with 0.")
			flags = append(flags, FlagFeedNegativeToZero)
			s.FeedRateMmMin = float64(0)
		}

		s.ValidationFlags = flags
		if len(warnings) > 0 {
			s.ValidationWarnings = strings.Join(warnings, "; ")
		} else {
			s.ValidationWarnings = "OK"
		}
		validated = append(validated, s)
	}

	return validated
}

// toolMatchesAny reports whether the tool description contains any of the
// acceptable tool names, case-insensitively.
func toolMatchesAny(tool string, acceptable []string) bool {
	lower := strings.ToLower(tool)
	for _, name := range acceptable {
		if strings.Contains(lower, strings.ToLower(name)) {
			return true
		}
	}
	return false
}
