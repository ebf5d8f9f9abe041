package nav

import (
	"math"

	"navtrack/internal/route"
)

// ProgressTracker turns a projected fix and its motion into the next State.
type ProgressTracker struct {
	steps []route.Step
	// cum[i] is the route distance at the end of step i.
	cum   []float64
	total float64
	cfg   Config
}

// NewProgressTracker precomputes step boundaries. totalM is the geometry
// length, which is what remaining distance is measured against.
func NewProgressTracker(steps []route.Step, totalM float64, cfg Config) *ProgressTracker {
	cum := make([]float64, len(steps))
	acc := 0.0
	for i, s := range steps {
		acc += s.DistanceM
		cum[i] = acc
	}
	return &ProgressTracker{steps: steps, cum: cum, total: totalM, cfg: cfg}
}

// boundaryEpsM absorbs rounding in projected progress at a step boundary.
const boundaryEpsM = 1e-3

// StepFor returns the smallest step index whose end lies beyond progressM.
// Past the last boundary it returns the final step.
func (p *ProgressTracker) StepFor(progressM float64) int {
	for i, end := range p.cum {
		if progressM+p.cfg.StepToleranceM+boundaryEpsM < end {
			return i
		}
	}
	if len(p.cum) == 0 {
		return 0
	}
	return len(p.cum) - 1
}

// StepEnd returns the route distance at the end of step i.
func (p *ProgressTracker) StepEnd(i int) float64 {
	if len(p.cum) == 0 {
		return 0
	}
	if i < 0 {
		i = 0
	}
	if i >= len(p.cum) {
		i = len(p.cum) - 1
	}
	return p.cum[i]
}

// Update builds the state that follows prev for fix. The step index never
// decreases, so a fix jittering backwards cannot bring back an old
// instruction.
func (p *ProgressTracker) Update(prev State, fix Fix, pr Progress, m Motion, h *History) (State, []Event) {
	next := State{
		SessionID: prev.SessionID,
		StartedAt: prev.StartedAt,
		LastFix:   fix.Clone(),
	}

	idx := p.StepFor(pr.ProgressM)
	if idx < prev.StepIndex {
		idx = prev.StepIndex
	}
	next.StepIndex = idx

	next.DistanceTraveledM = pr.ProgressM
	next.DistanceFromRouteM = pr.DistanceFromRouteM
	next.DistanceToNextManeuverM = math.Max(0, p.StepEnd(idx)-pr.ProgressM)
	next.DistanceRemainingM = math.Max(0, p.total-pr.ProgressM)

	next.SpeedMPS = m.SpeedMPS
	next.BearingDeg = m.BearingDeg

	speed, _ := EffectiveSpeed(m, h, p.cfg.MinSpeedMPS, p.cfg.DefaultSpeedMPS)
	next.ETASec = next.DistanceRemainingM / speed

	next.OffRoute = pr.DistanceFromRouteM > p.cfg.OffRouteThresholdM

	next.CurrentInstruction, next.NextInstruction, next.UpcomingInstruction = Instructions(idx, p.steps)

	var events []Event
	if idx > prev.StepIndex {
		events = append(events, Event{
			Type:        EventManeuverAdvanced,
			SessionID:   next.SessionID,
			FromStep:    prev.StepIndex,
			ToStep:      idx,
			Instruction: next.CurrentInstruction,
			Fix:         fix.Clone(),
		})
	}
	if next.OffRoute && !prev.OffRoute {
		events = append(events, Event{
			Type:               EventRerouteRequested,
			SessionID:          next.SessionID,
			DistanceFromRouteM: pr.DistanceFromRouteM,
			Fix:                fix.Clone(),
		})
	} else if !next.OffRoute && prev.OffRoute {
		events = append(events, Event{
			Type:               EventBackOnRoute,
			SessionID:          next.SessionID,
			DistanceFromRouteM: pr.DistanceFromRouteM,
			Fix:                fix.Clone(),
		})
	}
	return next, events
}
