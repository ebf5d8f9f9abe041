package nav

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"navtrack/internal/geo"
)

// History is a fixed-capacity ring buffer of recent fixes, oldest first.
type History struct {
	buf   []Fix
	start int
	n     int
}

func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = DefaultHistoryCapacity
	}
	return &History{buf: make([]Fix, capacity)}
}

// Push appends f, evicting the oldest entry when full.
func (h *History) Push(f Fix) {
	if len(h.buf) == 0 {
		return
	}
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = f
		h.n++
		return
	}
	h.buf[h.start] = f
	h.start = (h.start + 1) % len(h.buf)
}

func (h *History) Len() int { return h.n }

func (h *History) Cap() int { return len(h.buf) }

// At returns the i-th entry, 0 being the oldest.
func (h *History) At(i int) Fix {
	return h.buf[(h.start+i)%len(h.buf)]
}

// Last returns the newest entry.
func (h *History) Last() (Fix, bool) {
	if h.n == 0 {
		return Fix{}, false
	}
	return h.At(h.n - 1), true
}

func (h *History) Clear() {
	for i := range h.buf {
		h.buf[i] = Fix{}
	}
	h.start = 0
	h.n = 0
}

// RecentAverage returns the mean two-point speed over consecutive entries.
// Pairs without positive elapsed time are skipped.
func (h *History) RecentAverage() (float64, bool) {
	if h.n < 2 {
		return 0, false
	}
	speeds := make([]float64, 0, h.n-1)
	for i := 1; i < h.n; i++ {
		if v, ok := pairSpeed(h.At(i-1), h.At(i)); ok {
			speeds = append(speeds, v)
		}
	}
	if len(speeds) == 0 {
		return 0, false
	}
	return stat.Mean(speeds, nil), true
}

// Source names where a speed or bearing value came from.
type Source string

const (
	SourceNone      Source = "none"
	SourceDevice    Source = "device"
	SourceEstimated Source = "estimated"
	SourcePrevious  Source = "previous"
	SourceAverage   Source = "average"
	SourceDefault   Source = "default"
)

// Motion is the derived speed and bearing for the newest fix.
type Motion struct {
	SpeedMPS      float64 `json:"speed_mps"`
	BearingDeg    float64 `json:"bearing_deg"`
	SpeedSource   Source  `json:"speed_source"`
	BearingSource Source  `json:"bearing_source"`
}

// Strategy yields a value or reports that it cannot.
type Strategy struct {
	Source Source
	Value  func(h *History, prev Motion) (float64, bool)
}

// minBearingMoveM is the displacement below which a two-point bearing is
// dominated by position noise.
const minBearingMoveM = 1.0

// Estimator walks ordered strategies; the first that yields a value wins.
type Estimator struct {
	Speed   []Strategy
	Bearing []Strategy
}

// NewEstimator returns the standard precedence: device value, then two-point
// estimate, then the previous estimate.
func NewEstimator() Estimator {
	return Estimator{
		Speed: []Strategy{
			{Source: SourceDevice, Value: deviceSpeed},
			{Source: SourceEstimated, Value: estimatedSpeed},
			{Source: SourcePrevious, Value: previousSpeed},
		},
		Bearing: []Strategy{
			{Source: SourceDevice, Value: deviceHeading},
			{Source: SourceEstimated, Value: estimatedBearing},
			{Source: SourcePrevious, Value: previousBearing},
		},
	}
}

// Estimate derives speed and bearing for the newest entry in h.
func (e Estimator) Estimate(h *History, prev Motion) Motion {
	out := Motion{SpeedSource: SourceNone, BearingSource: SourceNone}
	if v, src, ok := firstOf(e.Speed, h, prev); ok {
		out.SpeedMPS = v
		out.SpeedSource = src
	}
	if v, src, ok := firstOf(e.Bearing, h, prev); ok {
		out.BearingDeg = geo.NormalizeDeg(v)
		out.BearingSource = src
	}
	return out
}

func firstOf(strategies []Strategy, h *History, prev Motion) (float64, Source, bool) {
	for _, s := range strategies {
		if s.Value == nil {
			continue
		}
		v, ok := s.Value(h, prev)
		if ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v, s.Source, true
		}
	}
	return 0, SourceNone, false
}

func deviceSpeed(h *History, _ Motion) (float64, bool) {
	f, ok := h.Last()
	if !ok || f.SpeedMPS == nil || *f.SpeedMPS < 0 {
		return 0, false
	}
	return *f.SpeedMPS, true
}

func deviceHeading(h *History, _ Motion) (float64, bool) {
	f, ok := h.Last()
	if !ok || f.HeadingDeg == nil {
		return 0, false
	}
	return *f.HeadingDeg, true
}

func lastPair(h *History) (Fix, Fix, bool) {
	if h.Len() < 2 {
		return Fix{}, Fix{}, false
	}
	return h.At(h.Len() - 2), h.At(h.Len() - 1), true
}

func pairSpeed(prev, cur Fix) (float64, bool) {
	dt := cur.Time.Sub(prev.Time).Seconds()
	if dt <= 0 {
		return 0, false
	}
	return geo.Haversine(prev.Point(), cur.Point()) / dt, true
}

func estimatedSpeed(h *History, _ Motion) (float64, bool) {
	prev, cur, ok := lastPair(h)
	if !ok {
		return 0, false
	}
	return pairSpeed(prev, cur)
}

func estimatedBearing(h *History, _ Motion) (float64, bool) {
	prev, cur, ok := lastPair(h)
	if !ok || cur.Time.Sub(prev.Time) <= 0 {
		return 0, false
	}
	if geo.Haversine(prev.Point(), cur.Point()) < minBearingMoveM {
		return 0, false
	}
	return geo.Bearing(prev.Point(), cur.Point()), true
}

func previousSpeed(_ *History, prev Motion) (float64, bool) {
	if prev.SpeedSource == SourceNone || prev.SpeedSource == "" {
		return 0, false
	}
	return prev.SpeedMPS, true
}

func previousBearing(_ *History, prev Motion) (float64, bool) {
	if prev.BearingSource == SourceNone || prev.BearingSource == "" {
		return 0, false
	}
	return prev.BearingDeg, true
}

// EffectiveSpeed picks the speed used for ETA: the current motion speed, then
// the recent average, then the configured default. Both measured values must
// reach minMPS to count.
func EffectiveSpeed(m Motion, h *History, minMPS, defaultMPS float64) (float64, Source) {
	if m.SpeedMPS >= minMPS && m.SpeedMPS > 0 {
		return m.SpeedMPS, m.SpeedSource
	}
	if h != nil {
		if avg, ok := h.RecentAverage(); ok && avg >= minMPS && avg > 0 {
			return avg, SourceAverage
		}
	}
	if defaultMPS <= 0 {
		defaultMPS = DefaultDefaultSpeedMPS
	}
	return defaultMPS, SourceDefault
}
