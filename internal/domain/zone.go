package domain

import "math"

// ZoneID is the zone number assigned by the reporting network.
type ZoneID int

// Zone is a geographic partition and the zones directly adjacent to it.
type Zone struct {
	ID       ZoneID   `json:"zone" yaml:"zone"`
	Name     string   `json:"name" yaml:"name"`
	Adjacent []ZoneID `json:"adjacent,omitempty" yaml:"adjacent,omitempty"`
}

// EffortWeight is the mean sighting count for a zone at one hour of the day.
type EffortWeight struct {
	Zone   ZoneID  `json:"zone" yaml:"zone"`
	Hour   int     `json:"hour" yaml:"hour"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// SeasonalityWeight is the mean sighting count for a zone in one month.
type SeasonalityWeight struct {
	Zone   ZoneID  `json:"zone" yaml:"zone"`
	Month  int     `json:"month" yaml:"month"`
	Weight float64 `json:"weight" yaml:"weight"`
}

const (
	// DefaultWeight applies when no effort or seasonality entry exists.
	DefaultWeight = 1.0

	// WeightFloor keeps every combined weight strictly positive.
	WeightFloor = 1e-6
)

// CombineWeights multiplies effort by seasonality and clamps the result to
// WeightFloor.
func CombineWeights(effort, seasonality float64) float64 {
	w := effort * seasonality
	if w < WeightFloor || math.IsNaN(w) {
		return WeightFloor
	}
	return w
}
