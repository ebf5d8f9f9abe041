package nav

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// Fix is one reported device position. Optional fields are nil when the
// provider did not report them.
type Fix struct {
	LatDeg     float64   `json:"lat_deg"`
	LonDeg     float64   `json:"lon_deg"`
	AccuracyM  float64   `json:"accuracy_m"`
	AltitudeM  *float64  `json:"altitude_m,omitempty"`
	HeadingDeg *float64  `json:"heading_deg,omitempty"`
	SpeedMPS   *float64  `json:"speed_mps,omitempty"`
	Time       time.Time `json:"time"`
}

// Point returns the fix as an orb point (lon, lat).
func (f Fix) Point() orb.Point {
	return orb.Point{f.LonDeg, f.LatDeg}
}

// Clone returns a copy that shares no pointers with f.
func (f Fix) Clone() Fix {
	out := f
	out.AltitudeM = clonePtr(f.AltitudeM)
	out.HeadingDeg = clonePtr(f.HeadingDeg)
	out.SpeedMPS = clonePtr(f.SpeedMPS)
	return out
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Float returns a pointer to v, for filling optional Fix fields.
func Float(v float64) *float64 {
	return &v
}

// Token identifies one provider subscription.
type Token string

// Provider is an external position feed.
//
// onFix and onError may be called from any goroutine. After Unsubscribe
// returns, neither callback is invoked again for that token.
type Provider interface {
	Subscribe(onFix func(Fix), onError func(error)) (Token, error)
	Unsubscribe(Token)
}

type hubSub struct {
	onFix   func(Fix)
	onError func(error)
}

// Hub is the subscriber registry shared by the position providers.
//
// Callbacks run synchronously on the publishing goroutine while a read lock is
// held, so Unsubscribe waits for in-flight callbacks on that token to finish.
type Hub struct {
	mu   sync.RWMutex
	subs map[Token]hubSub
}

func NewHub() *Hub {
	return &Hub{subs: make(map[Token]hubSub)}
}

// Subscribe registers callbacks; either may be nil.
func (h *Hub) Subscribe(onFix func(Fix), onError func(error)) (Token, error) {
	tok := Token(uuid.NewString())
	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[Token]hubSub)
	}
	h.subs[tok] = hubSub{onFix: onFix, onError: onError}
	h.mu.Unlock()
	return tok, nil
}

func (h *Hub) Unsubscribe(tok Token) {
	h.mu.Lock()
	delete(h.subs, tok)
	h.mu.Unlock()
}

// Len reports the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// PublishFix delivers a private copy of f to every subscriber.
func (h *Hub) PublishFix(f Fix) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.onFix != nil {
			s.onFix(f.Clone())
		}
	}
}

func (h *Hub) PublishError(err error) {
	if err == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.onError != nil {
			s.onError(err)
		}
	}
}
