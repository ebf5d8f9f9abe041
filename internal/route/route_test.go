package route

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoStepRoute() *Route {
	return &Route{
		Steps: []Step{
			{Instruction: "Turn left", DistanceM: 400, DurationS: 40, Maneuver: ManeuverTurn},
			{Instruction: "Arrive", DistanceM: 600, DurationS: 60, Maneuver: ManeuverArrive},
		},
		Geometry: orb.LineString{{0, 0}, {0.01, 0}},
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(r *Route)
	}{
		{"NoSteps", func(r *Route) { r.Steps = nil }},
		{"OnePoint", func(r *Route) { r.Geometry = r.Geometry[:1] }},
		{"AllDegenerate", func(r *Route) { r.Geometry = orb.LineString{{1, 1}, {1, 1}, {1, 1}} }},
		{"LatOutOfRange", func(r *Route) { r.Geometry[1] = orb.Point{0, 91} }},
		{"NaNVertex", func(r *Route) { r.Geometry[0] = orb.Point{math.NaN(), 0} }},
		{"NegativeDistance", func(r *Route) { r.Steps[0].DistanceM = -1 }},
		{"NegativeDuration", func(r *Route) { r.Steps[1].DurationS = -5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := twoStepRoute()
			tc.mutate(r)
			err := r.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRoute), "err=%v", err)
		})
	}

	require.NoError(t, twoStepRoute().Validate())

	var nilRoute *Route
	assert.ErrorIs(t, nilRoute.Validate(), ErrInvalidRoute)
}

func TestValidate_AllowsSomeDegenerateSegments(t *testing.T) {
	r := twoStepRoute()
	r.Geometry = orb.LineString{{0, 0}, {0, 0}, {0.01, 0}}
	assert.NoError(t, r.Validate())
}

func TestTotals(t *testing.T) {
	r := twoStepRoute()
	assert.Equal(t, 1000.0, r.StepsLengthM())
	assert.Equal(t, 100.0, r.DurationS())
}

func TestParseYAML(t *testing.T) {
	doc := []byte(`
steps:
  - instruction: "Turn left onto Main St"
    distance_m: 400
    duration_s: 40
    maneuver: turn
    road_name: Main St
  - instruction: "Arrive"
    distance_m: 600
    duration_s: 60
    maneuver: arrive
geometry:
  - [-122.0, 45.0]
  - [-122.0, 45.009]
`)
	r, err := ParseYAML(doc)
	require.NoError(t, err)
	require.Len(t, r.Steps, 2)
	assert.Equal(t, "Main St", r.Steps[0].RoadName)
	assert.Equal(t, orb.Point{-122.0, 45.009}, r.Geometry[1])
}

func TestParseYAML_BadPair(t *testing.T) {
	_, err := ParseYAML([]byte("steps: [{instruction: x, distance_m: 1}]\ngeometry: [[1, 2, 3], [4, 5]]\n"))
	assert.ErrorIs(t, err, ErrInvalidRoute)
}

func TestGeoJSON_RoundTrip(t *testing.T) {
	in := twoStepRoute()
	in.Steps[0].RoadName = "Main St"
	b, err := in.MarshalGeoJSON()
	require.NoError(t, err)

	out, err := ParseGeoJSON(b)
	require.NoError(t, err)
	assert.Equal(t, in.Steps, out.Steps)
	assert.Equal(t, in.Geometry, out.Geometry)
}

func TestParseGeoJSON_MissingLine(t *testing.T) {
	doc := []byte(`{"type":"FeatureCollection","features":[
{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},"properties":{"instruction":"Arrive","distance_m":10}}]}`)
	_, err := ParseGeoJSON(doc)
	assert.ErrorIs(t, err, ErrInvalidRoute)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	b, err := twoStepRoute().MarshalGeoJSON()
	require.NoError(t, err)
	path := filepath.Join(dir, "route.geojson")
	require.NoError(t, os.WriteFile(path, b, 0o644))

	r, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, r.Steps, 2)

	bad := filepath.Join(dir, "route.txt")
	require.NoError(t, os.WriteFile(bad, []byte("x"), 0o644))
	_, err = LoadFile(bad)
	assert.Error(t, err)
}

func TestLoadFile_SampleRoute(t *testing.T) {
	r, err := LoadFile(filepath.Join("..", "..", "configs", "routes", "unter-den-linden.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if len(r.Steps) != 3 || r.StepsLengthM() != 1000 {
		t.Fatalf("steps=%d length=%v", len(r.Steps), r.StepsLengthM())
	}
}
