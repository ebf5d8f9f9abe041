package nav

import (
	"math"
	"time"

	"github.com/paulmach/orb"

	"navtrack/internal/geo"
)

// Progress is where a fix lands on the route. It is recomputed for every fix.
type Progress struct {
	NearestPoint       orb.Point `json:"nearest_point"`
	DistanceFromRouteM float64   `json:"distance_from_route_m"`
	ProgressM          float64   `json:"progress_m"`
	SegmentIndex       int       `json:"segment_index"`
}

// Line is a route polyline with its cumulative vertex distances precomputed.
type Line struct {
	points orb.LineString
	// cum[i] is the haversine distance along the line from vertex 0 to vertex i.
	cum []float64
}

func NewLine(ls orb.LineString) *Line {
	l := &Line{points: ls, cum: make([]float64, len(ls))}
	for i := 1; i < len(ls); i++ {
		l.cum[i] = l.cum[i-1] + geo.Haversine(ls[i-1], ls[i])
	}
	return l
}

// Length is the total haversine length of the line in metres.
func (l *Line) Length() float64 {
	if len(l.cum) == 0 {
		return 0
	}
	return l.cum[len(l.cum)-1]
}

// Segments is the number of vertex pairs.
func (l *Line) Segments() int {
	if len(l.points) < 2 {
		return 0
	}
	return len(l.points) - 1
}

// Project snaps p onto the whole line.
func (l *Line) Project(p orb.Point) Progress {
	best, ok := l.scan(p, 0, l.Segments()-1)
	if !ok {
		return l.fallback(p)
	}
	return best
}

// scan searches segments lo..hi inclusive. ok is false when every segment in
// range is zero length.
func (l *Line) scan(p orb.Point, lo, hi int) (Progress, bool) {
	var (
		best Progress
		ok   bool
	)
	for i := lo; i <= hi; i++ {
		a, b := l.points[i], l.points[i+1]
		cand, nonZero := nearestOnSegment(a, b, p)
		if !nonZero {
			continue
		}
		d := geo.Haversine(p, cand)
		if ok && d >= best.DistanceFromRouteM {
			continue
		}
		best = Progress{
			NearestPoint:       cand,
			DistanceFromRouteM: d,
			ProgressM:          l.cum[i] + geo.Haversine(a, cand),
			SegmentIndex:       i,
		}
		ok = true
	}
	return best, ok
}

func (l *Line) fallback(p orb.Point) Progress {
	if len(l.points) == 0 {
		return Progress{}
	}
	return Progress{
		NearestPoint:       l.points[0],
		DistanceFromRouteM: geo.Haversine(p, l.points[0]),
	}
}

// nearestOnSegment returns the point of segment a-b closest to p using a local
// equirectangular approximation, which is accurate at road-segment scale.
// nonZero is false for a zero-length segment.
func nearestOnSegment(a, b, p orb.Point) (orb.Point, bool) {
	k := math.Cos(a.Lat() * math.Pi / 180)
	bx := (b.Lon() - a.Lon()) * k
	by := b.Lat() - a.Lat()
	den := bx*bx + by*by
	if den == 0 {
		return orb.Point{}, false
	}
	px := (p.Lon() - a.Lon()) * k
	py := p.Lat() - a.Lat()
	t := (px*bx + py*by) / den
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return orb.Point{
		a.Lon() + t*(b.Lon()-a.Lon()),
		a.Lat() + t*(b.Lat()-a.Lat()),
	}, true
}

// Project snaps fix onto geometry with a full scan of every segment.
func Project(fix Fix, geometry orb.LineString) Progress {
	return NewLine(geometry).Project(fix.Point())
}

// Projector snaps successive fixes while preserving forward progress.
//
// After the first match only a window of segments around the previous match is
// searched. The window slides forward while its best candidate sits on its last
// segment and keeps getting closer, so long jumps along densely sampled
// geometry still land on the line. A full scan runs again after a gap of LostSignalGap between fixes,
// or when the window's best candidate is farther than rescanM; the full-scan
// result then wins only if it is within rescanM itself.
type Projector struct {
	line    *Line
	back    int
	forward int
	gap     time.Duration
	rescanM float64

	last     int
	have     bool
	lastTime time.Time
}

func NewProjector(line *Line, cfg Config) *Projector {
	return &Projector{
		line:    line,
		back:    cfg.BackWindow,
		forward: cfg.ForwardWindow,
		gap:     cfg.LostSignalGap,
		rescanM: cfg.OffRouteThresholdM,
	}
}

func (p *Projector) Project(f Fix) Progress {
	pt := f.Point()
	nseg := p.line.Segments()
	if nseg == 0 {
		return p.line.fallback(pt)
	}

	full := !p.have
	if p.have && p.gap > 0 && !f.Time.IsZero() && !p.lastTime.IsZero() && f.Time.Sub(p.lastTime) > p.gap {
		full = true
	}

	var (
		best Progress
		ok   bool
	)
	if full {
		best, ok = p.line.scan(pt, 0, nseg-1)
	} else {
		lo := p.last - p.back
		if lo < 0 {
			lo = 0
		}
		hi := p.last + p.forward
		if hi > nseg-1 {
			hi = nseg - 1
		}
		best, ok = p.line.scan(pt, lo, hi)
		// A winner on the window's last segment may only be the closest
		// point the window can offer; keep sliding forward while that holds
		// and the deviation shrinks.
		step := max(p.forward, 1)
		for ok && best.SegmentIndex == hi && hi < nseg-1 {
			next := min(hi+step, nseg-1)
			cand, cok := p.line.scan(pt, hi, next)
			if !cok || cand.DistanceFromRouteM >= best.DistanceFromRouteM {
				break
			}
			best, hi = cand, next
		}
		if !ok || best.DistanceFromRouteM > p.rescanM {
			cand, cok := p.line.scan(pt, 0, nseg-1)
			if cok && (!ok || (cand.DistanceFromRouteM <= p.rescanM && cand.DistanceFromRouteM < best.DistanceFromRouteM)) {
				best, ok = cand, true
			}
		}
	}
	if !ok {
		return p.line.fallback(pt)
	}

	p.last = best.SegmentIndex
	p.have = true
	if !f.Time.IsZero() {
		p.lastTime = f.Time
	}
	return best
}

// Reset forgets the previous match so the next fix triggers a full scan.
func (p *Projector) Reset() {
	p.last = 0
	p.have = false
	p.lastTime = time.Time{}
}
