package nav

import "time"

// State is one navigation snapshot. A new value replaces the previous one on
// every fix; values handed to subscribers are copies.
type State struct {
	SessionID string `json:"session_id"`

	StepIndex               int     `json:"step_index"`
	DistanceToNextManeuverM float64 `json:"distance_to_next_maneuver_m"`
	DistanceTraveledM       float64 `json:"distance_traveled_m"`
	DistanceRemainingM      float64 `json:"distance_remaining_m"`
	DistanceFromRouteM      float64 `json:"distance_from_route_m"`
	ETASec                  float64 `json:"eta_s"`
	SpeedMPS                float64 `json:"speed_mps"`
	BearingDeg              float64 `json:"bearing_deg"`
	OffRoute                bool    `json:"off_route"`

	LastFix Fix `json:"last_fix"`

	CurrentInstruction  string `json:"current_instruction"`
	NextInstruction     string `json:"next_instruction"`
	UpcomingInstruction string `json:"upcoming_instruction"`

	StartedAt time.Time `json:"started_at"`
}

// Clone returns a copy sharing no pointers with s.
func (s State) Clone() State {
	out := s
	out.LastFix = s.LastFix.Clone()
	return out
}

// EventType names a navigation signal.
type EventType string

const (
	EventManeuverAdvanced EventType = "maneuver_advanced"
	EventRerouteRequested EventType = "reroute_requested"
	EventBackOnRoute      EventType = "back_on_route"
)

// Event is a discrete signal raised while processing a fix, for cues such as
// haptics, audio prompts or a reroute request to the routing service.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`

	// FromStep and ToStep are set for EventManeuverAdvanced.
	FromStep    int    `json:"from_step,omitempty"`
	ToStep      int    `json:"to_step,omitempty"`
	Instruction string `json:"instruction,omitempty"`

	// DistanceFromRouteM is set for the off-route transitions.
	DistanceFromRouteM float64 `json:"distance_from_route_m,omitempty"`

	Fix Fix `json:"fix"`
}
