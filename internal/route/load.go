package route

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gopkg.in/yaml.v3"
)

// Document is the YAML route format.
//
//	steps:
//	  - instruction: "Turn left onto Main St"
//	    distance_m: 400
//	    duration_s: 40
//	    maneuver: turn
//	    road_name: Main St
//	geometry:
//	  - [-122.0, 45.0]
//	  - [-122.0, 45.01]
//
// Geometry pairs are [lon, lat].
type Document struct {
	Steps    []Step      `yaml:"steps"`
	Geometry [][]float64 `yaml:"geometry"`
}

// LoadFile reads a route from path. The format follows the extension:
// .yaml/.yml for Document, .geojson/.json for a GeoJSON FeatureCollection.
func LoadFile(path string) (*Route, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(b)
	case ".geojson", ".json":
		return ParseGeoJSON(b)
	default:
		return nil, fmt.Errorf("unsupported route file extension %q", filepath.Ext(path))
	}
}

// ParseYAML parses and validates a YAML route document.
func ParseYAML(b []byte) (*Route, error) {
	var doc Document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("route yaml: %w", err)
	}
	r := &Route{Steps: doc.Steps}
	for i, pair := range doc.Geometry {
		if len(pair) != 2 {
			return nil, fmt.Errorf("route geometry[%d] must be [lon, lat]: %w", i, ErrInvalidRoute)
		}
		r.Geometry = append(r.Geometry, orb.Point{pair[0], pair[1]})
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// ParseGeoJSON parses a FeatureCollection holding exactly one LineString
// feature (the overview geometry) and one feature per step.
//
// Step features carry their data in properties: instruction, distance_m,
// duration_s, maneuver, road_name, and an optional integer "index" used for
// ordering (file order otherwise).
func ParseGeoJSON(b []byte) (*Route, error) {
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("route geojson: %w", err)
	}

	type indexedStep struct {
		idx  int
		step Step
	}
	var (
		line  orb.LineString
		found bool
		steps []indexedStep
	)
	for i, f := range fc.Features {
		if f == nil {
			continue
		}
		if ls, ok := f.Geometry.(orb.LineString); ok && !isStepFeature(f) {
			if found {
				return nil, fmt.Errorf("route geojson has more than one overview LineString: %w", ErrInvalidRoute)
			}
			line = ls
			found = true
			continue
		}
		steps = append(steps, indexedStep{
			idx: f.Properties.MustInt("index", i),
			step: Step{
				Instruction: f.Properties.MustString("instruction", ""),
				DistanceM:   f.Properties.MustFloat64("distance_m", 0),
				DurationS:   f.Properties.MustFloat64("duration_s", 0),
				Maneuver:    f.Properties.MustString("maneuver", ""),
				RoadName:    f.Properties.MustString("road_name", ""),
			},
		})
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].idx < steps[j].idx })

	r := &Route{Geometry: line}
	for _, s := range steps {
		r.Steps = append(r.Steps, s.step)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func isStepFeature(f *geojson.Feature) bool {
	_, ok := f.Properties["instruction"]
	return ok
}

// MarshalGeoJSON renders r in the format ParseGeoJSON reads.
func (r *Route) MarshalGeoJSON() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(r.Geometry))
	for i, s := range r.Steps {
		// Step features are anchored at the route start; only properties matter.
		f := geojson.NewFeature(r.Geometry[0])
		f.Properties["index"] = i
		f.Properties["instruction"] = s.Instruction
		f.Properties["distance_m"] = s.DistanceM
		f.Properties["duration_s"] = s.DurationS
		f.Properties["maneuver"] = s.Maneuver
		if s.RoadName != "" {
			f.Properties["road_name"] = s.RoadName
		}
		fc.Append(f)
	}
	return fc.MarshalJSON()
}
