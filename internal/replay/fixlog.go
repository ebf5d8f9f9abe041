package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"navtrack/internal/nav"
)

// Log format: line-oriented text.
//
//   - Blank lines ignored.
//   - Lines starting with '#' ignored.
//   - Line "START" resets the origin (next record time is relative to 0 again).
//   - Fix lines are: <t_ns>,<json fix>
//   - Error lines are: <t_ns>,!<kind>
//     where kind is nav.Kind of the feed error (timeout, position_unavailable, ...).
//
// t_ns is nanoseconds since START. The JSON fix uses the nav.Fix field names.

// Record is one log line. Fix and Err are both nil for a START marker.
type Record struct {
	At  time.Duration
	Fix *nav.Fix
	Err error
}

// IsStart reports whether r is a START marker.
func (r Record) IsStart() bool { return r.Fix == nil && r.Err == nil }

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	n := 0
	for s.Scan() {
		n++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{})
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("replay line %d: %w", n, err)
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func parseLine(line string) (Record, error) {
	comma := strings.IndexByte(line, ',')
	if comma < 0 {
		return Record{}, fmt.Errorf("missing comma: %q", line)
	}
	tsStr := strings.TrimSpace(line[:comma])
	body := strings.TrimSpace(line[comma+1:])
	if tsStr == "" || body == "" {
		return Record{}, fmt.Errorf("empty field: %q", line)
	}
	tsNs, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid timestamp %q: %w", tsStr, err)
	}
	if tsNs < 0 {
		return Record{}, fmt.Errorf("negative timestamp %d", tsNs)
	}
	rec := Record{At: time.Duration(tsNs)}

	if strings.HasPrefix(body, "!") {
		rec.Err = errorForKind(strings.TrimSpace(body[1:]))
		return rec, nil
	}
	var f nav.Fix
	if err := json.Unmarshal([]byte(body), &f); err != nil {
		return Record{}, fmt.Errorf("invalid fix json: %w", err)
	}
	rec.Fix = &f
	return rec, nil
}

var kindErrors = map[string]error{
	"permission_denied":    nav.ErrPermissionDenied,
	"position_unavailable": nav.ErrPositionUnavailable,
	"timeout":              nav.ErrTimeout,
}

func errorForKind(kind string) error {
	if err, ok := kindErrors[kind]; ok {
		return fmt.Errorf("replayed feed error: %w", err)
	}
	return fmt.Errorf("replayed feed error %q: %w", kind, nav.ErrPositionUnavailable)
}

// Writer records fixes and feed errors. It is not safe for concurrent use.
type Writer struct {
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now()}, nil
}

func (ww *Writer) offset(now time.Time) time.Duration {
	// Use monotonic component of time when available.
	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	return d
}

func (ww *Writer) WriteFix(now time.Time, fix nav.Fix) error {
	if ww.closed {
		return errors.New("replay writer is closed")
	}
	b, err := json.Marshal(fix)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(ww.w, "%d,%s\n", ww.offset(now).Nanoseconds(), b)
	return err
}

func (ww *Writer) WriteError(now time.Time, feedErr error) error {
	if ww.closed {
		return errors.New("replay writer is closed")
	}
	if feedErr == nil {
		return errors.New("error is nil")
	}
	_, err := fmt.Fprintf(ww.w, "%d,!%s\n", ww.offset(now).Nanoseconds(), nav.Kind(feedErr))
	return err
}

func (ww *Writer) Flush() error {
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Play replays records with their relative timing until they run out, ctx is
// cancelled or cb fails.
//
// cb receives each fix or error record together with its playback clock: log
// time that keeps increasing across START markers and loops. START markers
// reset the origin without waiting.
//
// speedMultiplier: 1.0 = real time, 2.0 = 2x speed (half waits), 0.5 = half speed.
func Play(ctx context.Context, records []Record, speedMultiplier float64, loop bool, sleeper Sleeper, cb func(clock time.Duration, r Record) error) error {
	if speedMultiplier <= 0 {
		return fmt.Errorf("speedMultiplier must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	playable := false
	for _, r := range records {
		if !r.IsStart() {
			playable = true
			break
		}
	}
	if !playable {
		return errors.New("no records")
	}

	var clock time.Duration
	for {
		var (
			origin   time.Duration
			base     = clock
			lastAt   time.Duration
			haveLast bool
		)

		for _, r := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			if r.IsStart() {
				origin = r.At
				base = clock
				lastAt = 0
				haveLast = false
				continue
			}

			at := r.At - origin
			if at < 0 {
				at = 0
			}
			if haveLast {
				wait := at - lastAt
				if wait < 0 {
					wait = 0
				}
				wait = time.Duration(float64(wait) / speedMultiplier)
				if wait > 0 {
					if err := sleeper.Sleep(ctx, wait); err != nil {
						return err
					}
				}
			}

			if base+at > clock {
				clock = base + at
			}
			if err := cb(clock, r); err != nil {
				return err
			}

			lastAt = at
			haveLast = true
		}

		if !loop {
			return nil
		}
		// Keep successive laps strictly apart on the playback clock.
		clock += time.Second
	}
}
