package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestHaversine_OneDegreeLatitude(t *testing.T) {
	a := orb.Point{0, 0}
	b := orb.Point{0, 1}
	want := EarthRadiusM * math.Pi / 180
	if got := Haversine(a, b); math.Abs(got-want) > 1e-6 {
		t.Fatalf("haversine=%v want %v", got, want)
	}
}

func TestHaversine_SamePointIsZero(t *testing.T) {
	p := orb.Point{-122.9, 45.5}
	if got := Haversine(p, p); got != 0 {
		t.Fatalf("haversine=%v want 0", got)
	}
}

func TestBearing_CardinalDirections(t *testing.T) {
	origin := orb.Point{10, 45}
	cases := []struct {
		name string
		to   orb.Point
		want float64
	}{
		{"north", orb.Point{10, 46}, 0},
		{"south", orb.Point{10, 44}, 180},
		{"east", Destination(origin, 90, 1000), 90},
		{"west", Destination(origin, 270, 1000), 270},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Bearing(origin, tc.to)
			diff := math.Abs(got - tc.want)
			if diff > 180 {
				diff = 360 - diff
			}
			if diff > 0.01 {
				t.Fatalf("bearing=%v want %v", got, tc.want)
			}
			if got < 0 || got >= 360 {
				t.Fatalf("bearing out of range: %v", got)
			}
		})
	}
}

func TestDestination_RoundTrip(t *testing.T) {
	start := orb.Point{-122.0, 45.0}
	end := Destination(start, 37, 2500)
	if d := Haversine(start, end); math.Abs(d-2500) > 0.01 {
		t.Fatalf("distance=%v want 2500", d)
	}
	if b := Bearing(start, end); math.Abs(b-37) > 0.01 {
		t.Fatalf("bearing=%v want 37", b)
	}
}

func TestNormalizeDeg(t *testing.T) {
	cases := map[float64]float64{
		0:    0,
		360:  0,
		-90:  270,
		725:  5,
		-360: 0,
	}
	for in, want := range cases {
		if got := NormalizeDeg(in); math.Abs(got-want) > 1e-9 {
			t.Fatalf("NormalizeDeg(%v)=%v want %v", in, got, want)
		}
	}
	if got := NormalizeDeg(math.NaN()); got != 0 {
		t.Fatalf("NormalizeDeg(NaN)=%v want 0", got)
	}
}

func TestLineLength(t *testing.T) {
	a := orb.Point{0, 0}
	b := Destination(a, 90, 300)
	c := Destination(b, 0, 400)
	got := LineLength(orb.LineString{a, b, c})
	if math.Abs(got-700) > 0.01 {
		t.Fatalf("length=%v want 700", got)
	}
	if LineLength(orb.LineString{a}) != 0 {
		t.Fatalf("single point should have zero length")
	}
}
