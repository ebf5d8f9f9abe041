package nav

import (
	"io"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"navtrack/internal/geo"
	"navtrack/internal/route"
)

var origin = orb.Point{0, 0}

var t0 = time.Date(2025, 12, 22, 12, 0, 0, 0, time.UTC)

// along returns the point distM metres east of origin on the equator.
func along(distM float64) orb.Point {
	return geo.Destination(origin, 90, distM)
}

// fixAlong places a fix distM along the straight test route, offsetM north of it.
func fixAlong(distM, offsetM float64, at time.Time) Fix {
	p := along(distM)
	if offsetM != 0 {
		p = geo.Destination(p, 0, offsetM)
	}
	return Fix{LatDeg: p.Lat(), LonDeg: p.Lon(), AccuracyM: 5, Time: at}
}

// scenarioARoute is a straight 1000 m route: 400 m "turn left", 600 m "arrive".
func scenarioARoute() *route.Route {
	return &route.Route{
		Steps: []route.Step{
			{Instruction: "Turn left", DistanceM: 400, DurationS: 40, Maneuver: route.ManeuverTurn},
			{Instruction: "Arrive", DistanceM: 600, DurationS: 60, Maneuver: route.ManeuverArrive},
		},
		Geometry: orb.LineString{origin, along(1000)},
	}
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// pipeline runs the per-fix stages synchronously, without the tracker goroutine.
type pipeline struct {
	projector *Projector
	progress  *ProgressTracker
	history   *History
	estimator Estimator
	motion    Motion
	state     State
	events    []Event
}

func newPipeline(t *testing.T, r *route.Route, cfg Config) *pipeline {
	t.Helper()
	if err := cfg.DefaultAndValidate(); err != nil {
		t.Fatalf("DefaultAndValidate: %v", err)
	}
	line := NewLine(r.Geometry)
	return &pipeline{
		projector: NewProjector(line, cfg),
		progress:  NewProgressTracker(r.Steps, line.Length(), cfg),
		history:   NewHistory(cfg.HistoryCapacity),
		estimator: NewEstimator(),
	}
}

func (p *pipeline) feed(f Fix) State {
	pr := p.projector.Project(f)
	p.history.Push(f)
	p.motion = p.estimator.Estimate(p.history, p.motion)
	var evs []Event
	p.state, evs = p.progress.Update(p.state, f, pr, p.motion, p.history)
	p.events = append(p.events, evs...)
	return p.state
}
