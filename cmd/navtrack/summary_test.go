package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"navtrack/internal/nav"
	"navtrack/internal/replay"
	"navtrack/internal/route"
)

func fixRecord(at time.Duration, lonDeg float64) replay.Record {
	return replay.Record{At: at, Fix: &nav.Fix{LatDeg: 0, LonDeg: lonDeg}}
}

func TestSummarizeFixLog(t *testing.T) {
	recs := []replay.Record{
		{At: 0},
		fixRecord(0, 0),
		fixRecord(time.Second, 0.0089831528),
		{At: 2 * time.Second, Err: nav.ErrTimeout},
		{At: 10 * time.Second},
		fixRecord(11*time.Second, 1),
		{At: 12 * time.Second, Err: nav.ErrTimeout},
		{At: 13 * time.Second, Err: nav.ErrPositionUnavailable},
	}
	s := summarizeFixLog(recs)
	if s.Segments != 2 {
		t.Fatalf("segments=%d want 2", s.Segments)
	}
	if s.Fixes != 3 {
		t.Fatalf("fixes=%d want 3", s.Fixes)
	}
	if s.MaxDuration != 3*time.Second {
		t.Fatalf("max_duration=%s want 3s", s.MaxDuration)
	}
	// Path length does not bridge segments.
	if s.PathM < 999 || s.PathM > 1001 {
		t.Fatalf("path_m=%v want ~1000", s.PathM)
	}
	if s.ErrorCounts["timeout"] != 2 || s.ErrorCounts["position_unavailable"] != 1 {
		t.Fatalf("errors=%v", s.ErrorCounts)
	}
}

func TestSummarizeFixLog_NoStartMarker(t *testing.T) {
	s := summarizeFixLog([]replay.Record{fixRecord(0, 0)})
	if s.Segments != 1 || s.Fixes != 1 {
		t.Fatalf("summary=%+v", s)
	}
	if s := summarizeFixLog(nil); s.Segments != 0 {
		t.Fatalf("empty segments=%d", s.Segments)
	}
}

func TestPrintLogSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixes.log")
	w, err := replay.CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	now := time.Now()
	if err := w.WriteFix(now, nav.Fix{LatDeg: 1, LonDeg: 2, Time: now}); err != nil {
		t.Fatalf("WriteFix() error: %v", err)
	}
	if err := w.WriteError(now.Add(time.Second), nav.ErrPermissionDenied); err != nil {
		t.Fatalf("WriteError() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	var out bytes.Buffer
	if err := printLogSummary(&out, path); err != nil {
		t.Fatalf("printLogSummary() error: %v", err)
	}
	for _, want := range []string{"segments: 1", "fixes: 1", "permission_denied: 1"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}

	if err := printLogSummary(&out, " "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestSummarize_Session(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := &route.Route{Steps: make([]route.Step, 3)}
	last := nav.State{
		SessionID:          "s1",
		StepIndex:          2,
		DistanceTraveledM:  990,
		DistanceRemainingM: 10,
		StartedAt:          start,
		LastFix:            nav.Fix{Time: start.Add(90 * time.Second)},
	}
	s := summarize(last, r, 91, 0)
	if !s.Arrived || s.Duration != 90*time.Second || s.Steps != 3 {
		t.Fatalf("summary=%+v", s)
	}

	last.OffRoute = true
	if summarize(last, r, 91, 0).Arrived {
		t.Fatalf("off-route session must not count as arrived")
	}
	if summarize(nav.State{}, r, 0, 0).Arrived {
		t.Fatalf("session without fixes must not count as arrived")
	}
}
