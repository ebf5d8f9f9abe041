package route

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// ErrInvalidRoute reports a route that cannot be navigated.
var ErrInvalidRoute = errors.New("invalid route")

// Maneuver types follow the OSRM vocabulary so routes fetched from a routing
// service keep their original type.
const (
	ManeuverDepart   = "depart"
	ManeuverTurn     = "turn"
	ManeuverContinue = "continue"
	ManeuverMerge    = "merge"
	ManeuverFork     = "fork"
	ManeuverRamp     = "on ramp"
	ManeuverRound    = "roundabout"
	ManeuverArrive   = "arrive"
)

// Step is one maneuver of a route. Steps partition the route length in travel
// order: the sum of DistanceM is the route length.
type Step struct {
	Instruction string  `yaml:"instruction" json:"instruction"`
	DistanceM   float64 `yaml:"distance_m" json:"distance_m"`
	DurationS   float64 `yaml:"duration_s" json:"duration_s"`
	Maneuver    string  `yaml:"maneuver" json:"maneuver"`
	RoadName    string  `yaml:"road_name,omitempty" json:"road_name,omitempty"`
}

// Route is a precomputed route: maneuver steps plus the overview polyline.
//
// Geometry vertices are (lon, lat) in the direction of travel. A Route is not
// modified after it has been handed to a tracker.
type Route struct {
	Steps    []Step
	Geometry orb.LineString
}

// Validate checks the minimum a tracker needs to navigate the route.
func (r *Route) Validate() error {
	if r == nil {
		return fmt.Errorf("route is nil: %w", ErrInvalidRoute)
	}
	if len(r.Steps) == 0 {
		return fmt.Errorf("route has no steps: %w", ErrInvalidRoute)
	}
	if len(r.Geometry) < 2 {
		return fmt.Errorf("route geometry has %d points, need at least 2: %w", len(r.Geometry), ErrInvalidRoute)
	}
	for i, p := range r.Geometry {
		if !finite(p.Lon()) || !finite(p.Lat()) || math.Abs(p.Lat()) > 90 || math.Abs(p.Lon()) > 180 {
			return fmt.Errorf("route geometry[%d] out of range (%v, %v): %w", i, p.Lon(), p.Lat(), ErrInvalidRoute)
		}
	}
	degenerate := true
	for i := 1; i < len(r.Geometry); i++ {
		if !r.Geometry[i].Equal(r.Geometry[i-1]) {
			degenerate = false
			break
		}
	}
	if degenerate {
		return fmt.Errorf("route geometry has no non-zero segment: %w", ErrInvalidRoute)
	}
	for i, s := range r.Steps {
		if !finite(s.DistanceM) || s.DistanceM < 0 {
			return fmt.Errorf("route steps[%d].distance_m must be >= 0: %w", i, ErrInvalidRoute)
		}
		if !finite(s.DurationS) || s.DurationS < 0 {
			return fmt.Errorf("route steps[%d].duration_s must be >= 0: %w", i, ErrInvalidRoute)
		}
	}
	return nil
}

// StepsLengthM returns the summed step distances.
func (r *Route) StepsLengthM() float64 {
	total := 0.0
	for _, s := range r.Steps {
		total += s.DistanceM
	}
	return total
}

// DurationS returns the summed step durations.
func (r *Route) DurationS() float64 {
	total := 0.0
	for _, s := range r.Steps {
		total += s.DurationS
	}
	return total
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
