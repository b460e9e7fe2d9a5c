package planning

import (
	"encoding/json"
	"fmt"
)

// FinalizePlan turns a raw candidate plan document from the model into a
// validated plan: parse the envelope, enforce structural shape, then validate
// and auto-correct each step against the catalog. Part dimensions are
// extracted from the description and passed along for reference. The only
// error paths are an unparseable document and ErrInvalidPlan; per-step
// anomalies always degrade to flags on the returned steps.
func FinalizePlan(catalog *Catalog, candidate []byte, material, description string) (Plan, error) {
	var env Envelope
	if err := json.Unmarshal(candidate, &env); err != nil {
		return nil, fmt.Errorf("parse candidate plan: %w", err)
	}

	steps, err := Normalize(env.Plan)
	if err != nil {
		return nil, err
	}

	var dims *Dimensions
	if d, ok := ExtractDimensions(description); ok {
		dims = &d
	}

	return NewValidator(catalog).Validate(steps, material, dims), nil
}
