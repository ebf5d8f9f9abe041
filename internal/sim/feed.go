package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"navtrack/internal/nav"
)

// Track yields a deterministic fix for an elapsed time. ok is false when the
// track has no position at that moment.
type Track interface {
	FixAt(elapsed time.Duration) (fix nav.Fix, ok bool)
	Duration() time.Duration
}

var (
	_ Track = (*Scenario)(nil)
	_ Track = (*RouteDriver)(nil)
)

// Feed is a nav.Provider that publishes a simulated track on a ticker.
type Feed struct {
	*nav.Hub

	track    Track
	interval time.Duration
	loop     bool
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewFeed returns a feed publishing one fix per interval. With loop set the
// track restarts after Duration; otherwise Run returns once it is exhausted.
func NewFeed(track Track, interval time.Duration, loop bool, log logrus.FieldLogger) (*Feed, error) {
	if track == nil {
		return nil, fmt.Errorf("sim track is nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sim interval must be > 0")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Feed{
		Hub:      nav.NewHub(),
		track:    track,
		interval: interval,
		loop:     loop,
		log:      log.WithField("source", "sim"),
		now:      time.Now,
	}, nil
}

// Run publishes fixes until ctx is cancelled or the track ends.
func (f *Feed) Run(ctx context.Context) error {
	start := f.now()
	dur := f.track.Duration()
	f.log.WithFields(logrus.Fields{"duration": dur, "interval": f.interval, "loop": f.loop}).Info("sim feed started")

	t := time.NewTicker(f.interval)
	defer t.Stop()

	f.publishAt(0, start)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		now := f.now()
		elapsed := now.Sub(start)
		if dur > 0 && elapsed > dur {
			if !f.loop {
				f.publishAt(dur, now)
				f.log.Info("sim feed finished")
				return nil
			}
			elapsed %= dur
		}
		f.publishAt(elapsed, now)
	}
}

func (f *Feed) publishAt(elapsed time.Duration, at time.Time) {
	fix, ok := f.track.FixAt(elapsed)
	if !ok {
		return
	}
	fix.Time = at.UTC()
	f.PublishFix(fix)
}
