package planning

import "errors"

// ErrInvalidPlan signals that a candidate plan has no usable structural
// shape. The caller decides whether to retry generation or surface failure.
var ErrInvalidPlan = errors.New("candidate plan must be non-empty, start with Setup, and end with Final Inspection")

// maxPlanSteps caps how many steps survive normalization.
const maxPlanSteps = 10

// Normalize enforces structural invariants on a raw candidate plan before
// semantic validation runs: the plan must open with Setup and close with
// Final Inspection; steps with unknown operations are dropped; a step whose
// operation repeats the previous kept step's is collapsed into it unless its
// notes justify the repetition; survivors are renumbered from 1 and capped at
// maxPlanSteps. The input slice is never mutated.
func Normalize(raw []Step) ([]Step, error) {
	if len(raw) == 0 || raw[0].Operation != OpSetup || raw[len(raw)-1].Operation != OpFinalInspection {
		return nil, ErrInvalidPlan
	}

	kept := make([]Step, 0, len(raw))
	for _, s := range raw {
		if !s.Operation.Known() {
			continue
		}
		if len(kept) > 0 && kept[len(kept)-1].Operation == s.Operation && s.Notes == "" {
			continue
		}
		s.Number = len(kept) + 1
		kept = append(kept, s)
	}

	if len(kept) > maxPlanSteps {
		kept = kept[:maxPlanSteps]
	}
	return kept, nil
}
