package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"navtrack/internal/geo"
	"navtrack/internal/nav"
	"navtrack/internal/replay"
	"navtrack/internal/route"
)

type sessionSummary struct {
	SessionID          string
	Duration           time.Duration
	Processed          uint64
	Dropped            uint64
	Step               int
	Steps              int
	DistanceTraveledM  float64
	DistanceRemainingM float64
	OffRoute           bool
	Arrived            bool
}

// arrivalM is how close to the route end counts as arrived.
const arrivalM = 20.0

func summarize(last nav.State, r *route.Route, processed, dropped uint64) sessionSummary {
	s := sessionSummary{
		SessionID:          last.SessionID,
		Processed:          processed,
		Dropped:            dropped,
		Step:               last.StepIndex,
		DistanceTraveledM:  last.DistanceTraveledM,
		DistanceRemainingM: last.DistanceRemainingM,
		OffRoute:           last.OffRoute,
	}
	if r != nil {
		s.Steps = len(r.Steps)
	}
	if !last.StartedAt.IsZero() && !last.LastFix.Time.IsZero() {
		s.Duration = max(0, last.LastFix.Time.Sub(last.StartedAt))
	}
	s.Arrived = processed > 0 && !last.OffRoute && last.DistanceRemainingM <= arrivalM
	return s
}

func (s sessionSummary) log(l log.FieldLogger) {
	if s.SessionID == "" {
		return
	}
	l.WithFields(log.Fields{
		"session":     s.SessionID,
		"duration":    s.Duration.Round(time.Second),
		"processed":   s.Processed,
		"dropped":     s.Dropped,
		"step":        fmt.Sprintf("%d/%d", s.Step+1, s.Steps),
		"traveled_m":  int(s.DistanceTraveledM),
		"remaining_m": int(s.DistanceRemainingM),
		"arrived":     s.Arrived,
	}).Info("session summary")
}

type logSummary struct {
	Segments    int
	Fixes       int
	MaxDuration time.Duration
	PathM       float64
	ErrorCounts map[string]int
}

func summarizeFixLog(records []replay.Record) logSummary {
	s := logSummary{ErrorCounts: map[string]int{}}
	origin := time.Duration(0)
	var prev *nav.Fix
	hasData := false

	for _, r := range records {
		if r.IsStart() {
			s.Segments++
			origin = r.At
			prev = nil
			continue
		}
		hasData = true
		if at := r.At - origin; at > s.MaxDuration {
			s.MaxDuration = at
		}
		if r.Err != nil {
			s.ErrorCounts[nav.Kind(r.Err)]++
			continue
		}
		s.Fixes++
		if prev != nil {
			s.PathM += geo.Haversine(prev.Point(), r.Fix.Point())
		}
		prev = r.Fix
	}
	if s.Segments == 0 && hasData {
		s.Segments = 1
	}
	return s
}

func printLogSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	recs, err := replay.NewReader(f).ReadAll()
	if err != nil {
		return err
	}
	s := summarizeFixLog(recs)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "fixes: %d\n", s.Fixes)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)
	fmt.Fprintf(w, "path_m: %.1f\n", s.PathM)

	kinds := make([]string, 0, len(s.ErrorCounts))
	for k := range s.ErrorCounts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	fmt.Fprintf(w, "errors:\n")
	for _, k := range kinds {
		fmt.Fprintf(w, "  %s: %d\n", k, s.ErrorCounts[k])
	}
	return nil
}
