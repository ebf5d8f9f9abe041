package sim

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"navtrack/internal/geo"
	"navtrack/internal/nav"
)

// ScenarioScript is a deterministic, script-driven position track.
//
// Time is expressed as Go duration strings (e.g. "0s", "250ms", "10s").
// If Duration is zero, it is derived from the latest keyframe time.
//
// YAML schema (v1):
//
//	version: 1
//	duration: 60s
//	accuracy_m: 5
//	keyframes:
//	  - t: 0s
//	    lat_deg: 52.5200
//	    lon_deg: 13.4050
//	    speed_mps: 12
//	    heading_deg: 90
//	  - t: 20s
//	    lat_deg: 52.5200
//	    lon_deg: 13.4090
//	    dropout: true   # no fixes until the next keyframe
//
// Keyframes must use non-decreasing t values. Speed and heading are only
// reported when at least one keyframe sets them; otherwise consumers derive
// them from successive positions.
type ScenarioScript struct {
	Version   int           `yaml:"version"`
	Duration  time.Duration `yaml:"duration"`
	AccuracyM float64       `yaml:"accuracy_m"`
	Keyframes []Keyframe    `yaml:"keyframes"`
}

// Keyframe is a time-stamped position.
type Keyframe struct {
	T          time.Duration `yaml:"t"`
	LatDeg     float64       `yaml:"lat_deg"`
	LonDeg     float64       `yaml:"lon_deg"`
	AltitudeM  *float64      `yaml:"altitude_m"`
	SpeedMPS   *float64      `yaml:"speed_mps"`
	HeadingDeg *float64      `yaml:"heading_deg"`

	// Dropout suppresses fixes from this keyframe until the next one.
	Dropout bool `yaml:"dropout"`
}

// Scenario is the validated, runtime representation.
//
// Use FixAt to compute the deterministic fix at a given elapsed time.
type Scenario struct {
	script ScenarioScript
	// Derived duration (script.Duration or max keyframe time).
	duration time.Duration
}

// LoadScenarioScript reads and unmarshals a YAML scenario script from path.
func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, err
	}
	return ParseScenarioScriptYAML(b)
}

// ParseScenarioScriptYAML parses a YAML scenario script.
func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return ScenarioScript{}, err
	}
	return s, nil
}

// NewScenario validates script and returns a runtime Scenario.
func NewScenario(script ScenarioScript) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported scenario version %d", script.Version)
	}
	if len(script.Keyframes) == 0 {
		return nil, fmt.Errorf("keyframes is required")
	}
	if script.AccuracyM < 0 {
		return nil, fmt.Errorf("accuracy_m must be >= 0")
	}
	for i, kf := range script.Keyframes {
		if kf.T < 0 {
			return nil, fmt.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kf.T < script.Keyframes[i-1].T {
			return nil, fmt.Errorf("keyframes must be sorted by t (index %d)", i)
		}
		if kf.LatDeg < -90 || kf.LatDeg > 90 || kf.LonDeg < -180 || kf.LonDeg > 180 {
			return nil, fmt.Errorf("keyframes[%d]: position (%v, %v) out of range", i, kf.LatDeg, kf.LonDeg)
		}
	}

	dur := script.Duration
	if dur <= 0 {
		dur = script.Keyframes[len(script.Keyframes)-1].T
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration is required (or deriveable from keyframes)")
	}
	if script.AccuracyM == 0 {
		script.AccuracyM = 5
	}

	return &Scenario{script: script, duration: dur}, nil
}

// Duration returns the effective scenario duration.
func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

// FixAt computes the fix at elapsed, clamped to [0, Duration()]. ok is false
// inside a dropout window. The returned fix has no timestamp.
func (s *Scenario) FixAt(elapsed time.Duration) (nav.Fix, bool) {
	if s == nil {
		return nav.Fix{}, false
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > s.duration {
		elapsed = s.duration
	}

	kfs := s.script.Keyframes
	k0, k1, alpha := selectSegment(kfs, elapsed)
	if k0.Dropout && alpha < 1 && k0.T != k1.T {
		return nav.Fix{}, false
	}

	f := nav.Fix{
		LatDeg:    lerp(k0.LatDeg, k1.LatDeg, alpha),
		LonDeg:    lerp(k0.LonDeg, k1.LonDeg, alpha),
		AccuracyM: s.script.AccuracyM,
	}
	if v, ok := lerpOpt(k0.AltitudeM, k1.AltitudeM, alpha, lerp); ok {
		f.AltitudeM = nav.Float(v)
	}
	if v, ok := lerpOpt(k0.SpeedMPS, k1.SpeedMPS, alpha, lerp); ok {
		f.SpeedMPS = nav.Float(v)
	}
	if v, ok := lerpOpt(k0.HeadingDeg, k1.HeadingDeg, alpha, lerpAngleDeg); ok {
		f.HeadingDeg = nav.Float(v)
	}
	return f, true
}

func selectSegment(kfs []Keyframe, t time.Duration) (Keyframe, Keyframe, float64) {
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0 := kfs[idx-1]
	k1 := kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1, k1, 0
	}
	alpha := float64(t-k0.T) / float64(dt)
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return k0, k1, alpha
}

// lerpOpt interpolates optional values; a value set on only one side holds.
func lerpOpt(a, b *float64, t float64, fn func(a, b, t float64) float64) (float64, bool) {
	switch {
	case a != nil && b != nil:
		return fn(*a, *b, t), true
	case a != nil:
		return *a, true
	case b != nil:
		return *b, true
	default:
		return 0, false
	}
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func lerpAngleDeg(a0, a1, t float64) float64 {
	// Shortest-path interpolation across wraparound.
	a0 = geo.NormalizeDeg(a0)
	a1 = geo.NormalizeDeg(a1)
	delta := a1 - a0
	if delta > 180 {
		delta -= 360
	} else if delta < -180 {
		delta += 360
	}
	return geo.NormalizeDeg(a0 + delta*t)
}
