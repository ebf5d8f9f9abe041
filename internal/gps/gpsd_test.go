package gps

import (
	"math"
	"testing"
	"time"
)

func TestGPSDState_TPVEmitsFix(t *testing.T) {
	now := time.Date(2025, 12, 22, 12, 0, 0, 0, time.UTC)
	st := &gpsdState{}

	line := `{"class":"TPV","mode":3,"time":"2025-12-22T12:00:01.500Z","lat":45.5,"lon":-122.9,"altMSL":100.0,"speed":13.5,"track":270.0,"eph":4.2,"epv":7.0}`
	fix, u, err := st.applyLine(now, line)
	if err != nil {
		t.Fatalf("applyLine err: %v", err)
	}
	if u != updateFix {
		t.Fatalf("expected fix update")
	}
	if math.Abs(fix.LatDeg-45.5) > 1e-9 || math.Abs(fix.LonDeg-(-122.9)) > 1e-9 {
		t.Fatalf("lat/lon=%v,%v", fix.LatDeg, fix.LonDeg)
	}
	if fix.SpeedMPS == nil || *fix.SpeedMPS != 13.5 {
		t.Fatalf("speed=%v", fix.SpeedMPS)
	}
	if fix.HeadingDeg == nil || *fix.HeadingDeg != 270 {
		t.Fatalf("heading=%v", fix.HeadingDeg)
	}
	if fix.AltitudeM == nil || *fix.AltitudeM != 100 {
		t.Fatalf("alt=%v", fix.AltitudeM)
	}
	if fix.AccuracyM != 4.2 {
		t.Fatalf("accuracy=%v", fix.AccuracyM)
	}
	if !fix.Time.Equal(now.Add(1500 * time.Millisecond)) {
		t.Fatalf("time=%v", fix.Time)
	}
}

func TestGPSDState_SKYHDOPBacksAccuracy(t *testing.T) {
	st := &gpsdState{}
	if _, u, err := st.applyLine(time.Now().UTC(), `{"class":"SKY","hdop":0.9}`); err != nil || u != updateNone {
		t.Fatalf("sky: u=%v err=%v", u, err)
	}
	fix, u, err := st.applyLine(time.Now().UTC(), `{"class":"TPV","mode":2,"lat":1,"lon":2}`)
	if err != nil || u != updateFix {
		t.Fatalf("tpv: u=%v err=%v", u, err)
	}
	if math.Abs(fix.AccuracyM-0.9*uereM) > 1e-9 {
		t.Fatalf("accuracy=%v", fix.AccuracyM)
	}
	if fix.AltitudeM != nil {
		t.Fatalf("2D fix must not carry altitude")
	}
}

func TestGPSDState_ModeDropIsLost(t *testing.T) {
	st := &gpsdState{}
	now := time.Now().UTC()
	if _, u, _ := st.applyLine(now, `{"class":"TPV","mode":1}`); u != updateNone {
		t.Fatalf("no fix before first fix: got %v", u)
	}
	st.applyLine(now, `{"class":"TPV","mode":3,"lat":1,"lon":2}`)
	if _, u, _ := st.applyLine(now, `{"class":"TPV","mode":1}`); u != updateLost {
		t.Fatalf("expected lost, got %v", u)
	}
}

func TestGPSDState_BadJSON(t *testing.T) {
	st := &gpsdState{}
	if _, _, err := st.applyLine(time.Now(), `{"class":`); err == nil {
		t.Fatalf("expected error")
	}
	if _, u, err := st.applyLine(time.Now(), `{"class":"VERSION","release":"3.25"}`); err != nil || u != updateNone {
		t.Fatalf("version: u=%v err=%v", u, err)
	}
}
