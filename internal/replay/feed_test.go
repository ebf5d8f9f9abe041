package replay

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navtrack/internal/nav"
)

func TestFeed_RebasesTimesAndForwardsErrors(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)

	recs := []Record{
		{},
		fixRec(0, 1),
		{At: time.Second, Err: nav.ErrTimeout},
		fixRec(2*time.Second, 2),
	}
	feed, err := NewFeed(recs, 0, false, l)
	require.NoError(t, err)
	feed.sleeper = &fakeSleeper{}
	base := time.Date(2025, 12, 22, 12, 0, 0, 0, time.UTC)
	feed.now = func() time.Time { return base }

	var fixes []nav.Fix
	var errs []error
	_, err = feed.Subscribe(func(f nav.Fix) { fixes = append(fixes, f) }, func(e error) { errs = append(errs, e) })
	require.NoError(t, err)

	require.NoError(t, feed.Run(context.Background()))
	require.Len(t, fixes, 2)
	assert.Equal(t, base, fixes[0].Time)
	assert.Equal(t, base.Add(2*time.Second), fixes[1].Time)
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], nav.ErrTimeout))

	// Records are not mutated by playback.
	assert.True(t, recs[1].Fix.Time.IsZero())
}

func TestNewFeed_Validates(t *testing.T) {
	_, err := NewFeed(nil, 1, false, nil)
	assert.Error(t, err)
	_, err = NewFeed([]Record{fixRec(0, 1)}, -1, false, nil)
	assert.Error(t, err)
	_, err = OpenFeed("/nonexistent/fixes.log", 1, false, nil)
	assert.Error(t, err)
}
