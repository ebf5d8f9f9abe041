package web

import (
	"sync/atomic"
	"time"

	"navtrack/internal/nav"
)

// Tracker is the part of *nav.Tracker the web layer reads.
type Tracker interface {
	Phase() nav.Phase
	Snapshot() (nav.State, bool)
	Processed() uint64
	Dropped() uint64
	SubscribeState(buffer int) (int, <-chan nav.State)
	Unsubscribe(id int)
}

var _ Tracker = (*nav.Tracker)(nil)

// Status carries process facts that do not live in the tracker.
type Status struct {
	startUnixNano int64
	source        atomic.Value // string
	route         atomic.Value // string
	outputs       atomic.Value // map[string]any
	provider      atomic.Value // func() any
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.source.Store("")
	s.route.Store("")
	s.outputs.Store(map[string]any{})
	s.provider.Store(func() any { return nil })
	return s
}

// SetStatic records the position source, the route name and the enabled
// outputs. Empty values leave the previous ones in place.
func (s *Status) SetStatic(source, route string, outputs map[string]any) {
	if source != "" {
		s.source.Store(source)
	}
	if route != "" {
		s.route.Store(route)
	}
	if outputs != nil {
		s.outputs.Store(outputs)
	}
}

// SetProviderStatus registers a func reporting the live provider state, such
// as gps.Provider.Status.
func (s *Status) SetProviderStatus(fn func() any) {
	if fn == nil {
		fn = func() any { return nil }
	}
	s.provider.Store(fn)
}

type StatusSnapshot struct {
	Service   string         `json:"service"`
	NowUTC    string         `json:"now_utc"`
	UptimeSec int64          `json:"uptime_sec"`
	Source    string         `json:"source"`
	Route     string         `json:"route,omitempty"`
	Outputs   map[string]any `json:"outputs"`
	Provider  any            `json:"provider,omitempty"`

	Phase     string `json:"phase"`
	SessionID string `json:"session_id,omitempty"`
	Processed uint64 `json:"processed"`
	Dropped   uint64 `json:"dropped"`
}

func (s *Status) Snapshot(nowUTC time.Time, tr Tracker) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:   "navtrack",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Source:    s.source.Load().(string),
		Route:     s.route.Load().(string),
		Outputs:   s.outputs.Load().(map[string]any),
		Provider:  s.provider.Load().(func() any)(),
		Phase:     nav.PhaseIdle.String(),
	}
	if tr != nil {
		snap.Phase = tr.Phase().String()
		snap.Processed = tr.Processed()
		snap.Dropped = tr.Dropped()
		if st, ok := tr.Snapshot(); ok {
			snap.SessionID = st.SessionID
		}
	}
	return snap
}
