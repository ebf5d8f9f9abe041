package replay

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"navtrack/internal/nav"
)

// Feed is a nav.Provider that plays back a recorded fix log. Fix times are
// rebased onto the wall clock at Run, keeping their recorded spacing.
type Feed struct {
	*nav.Hub

	records []Record
	speed   float64
	loop    bool
	sleeper Sleeper
	log     logrus.FieldLogger
	now     func() time.Time
}

// OpenFeed reads the log at path.
func OpenFeed(path string, speed float64, loop bool, log logrus.FieldLogger) (*Feed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read replay log %s: %w", path, err)
	}
	return NewFeed(recs, speed, loop, log)
}

func NewFeed(records []Record, speed float64, loop bool, log logrus.FieldLogger) (*Feed, error) {
	if speed == 0 {
		speed = 1
	}
	if speed < 0 {
		return nil, fmt.Errorf("replay speed must be > 0")
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("replay log is empty")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Feed{
		Hub:     nav.NewHub(),
		records: records,
		speed:   speed,
		loop:    loop,
		sleeper: realSleeper{},
		log:     log.WithField("source", "replay"),
		now:     time.Now,
	}, nil
}

// Run plays the log once (or forever with loop) and returns nil at the end.
func (f *Feed) Run(ctx context.Context) error {
	start := f.now().UTC()
	fixes, errs := 0, 0
	f.log.WithFields(logrus.Fields{"records": len(f.records), "speed": f.speed, "loop": f.loop}).Info("replay started")

	err := Play(ctx, f.records, f.speed, f.loop, f.sleeper, func(clock time.Duration, r Record) error {
		if r.Err != nil {
			errs++
			f.PublishError(r.Err)
			return nil
		}
		fix := r.Fix.Clone()
		fix.Time = start.Add(clock)
		fixes++
		f.PublishFix(fix)
		return nil
	})
	f.log.WithFields(logrus.Fields{"fixes": fixes, "errors": errs}).Info("replay finished")
	return err
}
