package sim

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/paulmach/orb"

	"navtrack/internal/geo"
	"navtrack/internal/nav"
)

// RouteDriver follows a polyline at constant speed.
//
// Between OffsetFromM and OffsetToM (distance along the line) the position is
// pushed OffsetM metres to the right of travel, which is how a wrong turn or
// a parallel road is simulated. JitterM adds deterministic position noise.
type RouteDriver struct {
	Geometry orb.LineString
	SpeedMPS float64

	OffsetM     float64
	OffsetFromM float64
	OffsetToM   float64

	JitterM float64
	Seed    uint64

	// ReportMotion adds device speed and heading to each fix.
	ReportMotion bool

	cum []float64
}

const defaultDriverSpeedMPS = 13.9 // ~50 km/h

func (d *RouteDriver) init() {
	if d.cum != nil {
		return
	}
	d.cum = make([]float64, len(d.Geometry))
	for i := 1; i < len(d.Geometry); i++ {
		d.cum[i] = d.cum[i-1] + geo.Haversine(d.Geometry[i-1], d.Geometry[i])
	}
}

func (d *RouteDriver) speed() float64 {
	if d.SpeedMPS <= 0 {
		return defaultDriverSpeedMPS
	}
	return d.SpeedMPS
}

// Length is the driven distance in metres.
func (d *RouteDriver) Length() float64 {
	d.init()
	if len(d.cum) == 0 {
		return 0
	}
	return d.cum[len(d.cum)-1]
}

// Duration is the time needed to reach the end of the line.
func (d *RouteDriver) Duration() time.Duration {
	return time.Duration(d.Length() / d.speed() * float64(time.Second))
}

// FixAt returns the position after driving for elapsed. Past the end the
// driver stays parked at the last vertex.
func (d *RouteDriver) FixAt(elapsed time.Duration) (nav.Fix, bool) {
	d.init()
	if len(d.Geometry) == 0 {
		return nav.Fix{}, false
	}
	if elapsed < 0 {
		elapsed = 0
	}
	dist := d.speed() * elapsed.Seconds()
	p, brg := d.pointAt(dist)
	moving := dist < d.Length()

	if d.OffsetM != 0 && dist >= d.OffsetFromM && (d.OffsetToM <= 0 || dist <= d.OffsetToM) {
		p = geo.Destination(p, brg+90, d.OffsetM)
	}
	if d.JitterM > 0 {
		r := rand.New(rand.NewPCG(d.Seed, uint64(elapsed)))
		p = geo.Destination(p, r.Float64()*360, r.Float64()*d.JitterM)
	}

	f := nav.Fix{LatDeg: p.Lat(), LonDeg: p.Lon(), AccuracyM: math.Max(5, d.JitterM)}
	if d.ReportMotion {
		if moving {
			f.SpeedMPS = nav.Float(d.speed())
			f.HeadingDeg = nav.Float(brg)
		} else {
			f.SpeedMPS = nav.Float(0)
		}
	}
	return f, true
}

// pointAt interpolates the point dist metres along the line and the bearing
// of the segment it lies on.
func (d *RouteDriver) pointAt(dist float64) (orb.Point, float64) {
	n := len(d.Geometry)
	if n == 1 {
		return d.Geometry[0], 0
	}
	if dist <= 0 {
		return d.Geometry[0], geo.Bearing(d.Geometry[0], d.Geometry[1])
	}
	for i := 1; i < n; i++ {
		if dist > d.cum[i] && i < n-1 {
			continue
		}
		a, b := d.Geometry[i-1], d.Geometry[i]
		seg := d.cum[i] - d.cum[i-1]
		if seg == 0 {
			if i == n-1 {
				return b, 0
			}
			continue
		}
		t := (dist - d.cum[i-1]) / seg
		t = math.Max(0, math.Min(1, t))
		return orb.Point{lerp(a.Lon(), b.Lon(), t), lerp(a.Lat(), b.Lat(), t)}, geo.Bearing(a, b)
	}
	return d.Geometry[n-1], 0
}
