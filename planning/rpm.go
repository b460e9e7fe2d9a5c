package planning

import "math"

// RPMRange is a recommended spindle-speed window with its midpoint.
type RPMRange struct {
	Min float64
	Mid float64
	Max float64
}

// RecommendRPM derives spindle-speed bounds from the cutting-speed range of a
// material for the given operation category and tool diameter:
//
//	rpm = (Vc [m/min] * 1000) / (pi * D [mm])
//
// It reports false when the material has no cutting-speed data for the
// category or the diameter is not positive.
func RecommendRPM(category Category, speeds map[Category]Range, diameterMm float64) (RPMRange, bool) {
	vc, ok := speeds[category]
	if !ok || diameterMm <= 0 {
		return RPMRange{}, false
	}

	min := (vc.Min * 1000) / (math.Pi * diameterMm)
	max := (vc.Max * 1000) / (math.Pi * diameterMm)
	return RPMRange{Min: min, Mid: (min + max) / 2, Max: max}, true
}

// ActualCuttingSpeed is the inverse of RecommendRPM's formula: the linear
// cutting speed (m/min) a spindle speed produces with a given tool diameter.
// It exists to phrase warnings consistently with the recommendation.
func ActualCuttingSpeed(rpm, diameterMm float64) float64 {
	return (math.Pi * diameterMm * rpm) / 1000
}
