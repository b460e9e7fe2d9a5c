package planning

import (
	"regexp"
	"strconv"
)

// Dimensions are explicit part dimensions parsed from free text. They are
// informational only; fields the text does not mention stay nil.
type Dimensions struct {
	L *float64 `json:"l,omitempty"`
	W *float64 `json:"w,omitempty"`
	H *float64 `json:"h,omitempty"`
}

var (
	dimL = regexp.MustCompile(`(?i)L\s*=\s*(\d+\.?\d*)`)
	dimW = regexp.MustCompile(`(?i)W\s*=\s*(\d+\.?\d*)`)
	dimH = regexp.MustCompile(`(?i)H\s*=\s*(\d+\.?\d*)`)
)

// ExtractDimensions scans text for patterns like "L=100", "W = 50mm" or
// "h=15.5" and reports false when no dimension is found.
func ExtractDimensions(text string) (Dimensions, bool) {
	var dims Dimensions
	found := false

	if m := dimL.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			dims.L = &v
			found = true
		}
	}
	if m := dimW.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			dims.W = &v
			found = true
		}
	}
	if m := dimH.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			dims.H = &v
			found = true
		}
	}

	return dims, found
}
