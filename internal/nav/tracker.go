package nav

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"navtrack/internal/route"
)

// Phase is the tracker lifecycle state. Stopped is terminal.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseActive
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseActive:
		return "active"
	case PhaseStopped:
		return "stopped"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

type snapshotBox struct {
	state State
	ok    bool
}

// Tracker follows one navigation session on one route.
//
// Fixes from the provider are queued and processed by a single goroutine, so
// the session state is never updated concurrently. Subscribers get copies.
type Tracker struct {
	log      logrus.FieldLogger
	provider Provider
	now      func() time.Time

	dropped   atomic.Uint64
	processed atomic.Uint64
	states    *fanout[State]
	positions *fanout[Fix]
	errs      *fanout[error]
	events    *fanout[Event]

	mu         sync.Mutex
	phase      Phase
	nextID     int
	token      Token
	subscribed bool
	queue      chan Fix
	quit       chan struct{}
	wg         sync.WaitGroup
	sessionLog logrus.FieldLogger

	// Owned by the consumer goroutine while active.
	cfg       Config
	projector *Projector
	progress  *ProgressTracker
	estimator Estimator
	history   *History
	motion    Motion
	state     State

	last atomic.Value // snapshotBox
}

// NewTracker returns an idle tracker reading positions from provider.
// A nil log uses the logrus standard logger.
func NewTracker(provider Provider, log logrus.FieldLogger) *Tracker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	t := &Tracker{
		log:       log,
		provider:  provider,
		now:       time.Now,
		estimator: NewEstimator(),
	}
	t.states = newFanout[State](&t.dropped)
	t.positions = newFanout[Fix](&t.dropped)
	t.errs = newFanout[error](&t.dropped)
	t.events = newFanout[Event](&t.dropped)
	t.sessionLog = log
	t.last.Store(snapshotBox{})
	return t
}

// Start validates r, subscribes to the position provider and begins
// processing fixes. A route that fails validation leaves the tracker idle and
// returns an error wrapping ErrInvalidRoute; the error is also published to
// error subscribers. Cancelling ctx stops the tracker.
func (t *Tracker) Start(ctx context.Context, r *route.Route, cfg Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	t.mu.Lock()
	if t.phase != PhaseIdle {
		phase := t.phase
		t.mu.Unlock()
		return fmt.Errorf("start in phase %s: %w", phase, ErrNotIdle)
	}
	if err := cfg.DefaultAndValidate(); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("tracker config: %w", err)
	}
	if err := r.Validate(); err != nil {
		t.mu.Unlock()
		t.errs.publish(err, nil)
		t.log.WithError(err).Warn("route rejected")
		return err
	}
	if t.provider == nil {
		t.mu.Unlock()
		return fmt.Errorf("position provider is nil")
	}

	session := uuid.NewString()
	line := NewLine(r.Geometry)
	t.cfg = cfg
	t.projector = NewProjector(line, cfg)
	t.progress = NewProgressTracker(r.Steps, line.Length(), cfg)
	t.history = NewHistory(cfg.HistoryCapacity)
	t.motion = Motion{SpeedSource: SourceNone, BearingSource: SourceNone}
	t.state = State{
		SessionID:               session,
		StartedAt:               t.now().UTC(),
		DistanceRemainingM:      line.Length(),
		DistanceToNextManeuverM: t.progress.StepEnd(0),
	}
	speed, _ := EffectiveSpeed(t.motion, nil, cfg.MinSpeedMPS, cfg.DefaultSpeedMPS)
	t.state.ETASec = t.state.DistanceRemainingM / speed
	t.state.CurrentInstruction, t.state.NextInstruction, t.state.UpcomingInstruction = Instructions(0, r.Steps)
	t.last.Store(snapshotBox{state: t.state.Clone(), ok: true})

	t.sessionLog = t.log.WithField("session", session)
	t.queue = make(chan Fix, cfg.QueueSize)
	t.quit = make(chan struct{})
	t.phase = PhaseActive
	quit, queue := t.quit, t.queue
	t.wg.Add(1)
	go t.run(quit, queue)
	t.mu.Unlock()

	tok, err := t.provider.Subscribe(t.onFix, t.onError)
	if err != nil {
		t.mu.Lock()
		if t.phase == PhaseActive {
			t.phase = PhaseIdle
			close(t.quit)
		}
		t.mu.Unlock()
		t.wg.Wait()
		t.last.Store(snapshotBox{})
		return fmt.Errorf("subscribe position feed: %w", err)
	}

	t.mu.Lock()
	if t.phase != PhaseActive {
		// Stop ran while we were subscribing.
		t.mu.Unlock()
		t.provider.Unsubscribe(tok)
		return nil
	}
	t.token = tok
	t.subscribed = true
	t.mu.Unlock()

	t.sessionLog.WithFields(logrus.Fields{
		"steps":    len(r.Steps),
		"points":   len(r.Geometry),
		"length_m": math.Round(line.Length()),
	}).Info("navigation started")

	go func() {
		select {
		case <-ctx.Done():
			t.Stop()
		case <-quit:
		}
	}()
	return nil
}

// Stop ends the session. It is safe to call any number of times. When it
// returns the provider subscription is released, the consumer goroutine has
// exited and every subscriber channel is closed.
func (t *Tracker) Stop() {
	t.mu.Lock()
	switch t.phase {
	case PhaseStopped:
		t.mu.Unlock()
		return
	case PhaseIdle:
		t.phase = PhaseStopped
		t.mu.Unlock()
		t.closeSubscribers()
		return
	}
	t.phase = PhaseStopped
	tok, subscribed := t.token, t.subscribed
	t.token, t.subscribed = "", false
	close(t.quit)
	log := t.sessionLog
	t.mu.Unlock()

	if subscribed {
		t.provider.Unsubscribe(tok)
	}
	t.wg.Wait()

	if t.history != nil {
		t.history.Clear()
	}
	t.state = State{}
	t.motion = Motion{}
	t.last.Store(snapshotBox{})
	t.closeSubscribers()

	log.WithFields(logrus.Fields{
		"processed": t.processed.Load(),
		"dropped":   t.dropped.Load(),
	}).Info("navigation stopped")
}

func (t *Tracker) closeSubscribers() {
	t.states.closeAll()
	t.positions.closeAll()
	t.errs.closeAll()
	t.events.closeAll()
}

// onFix runs on provider goroutines; it only queues.
func (t *Tracker) onFix(f Fix) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase != PhaseActive {
		return
	}
	select {
	case t.queue <- f:
		return
	default:
	}
	// Queue full: the newest position matters most, drop the oldest.
	select {
	case <-t.queue:
		t.dropped.Add(1)
	default:
	}
	select {
	case t.queue <- f:
	default:
		t.dropped.Add(1)
	}
}

func (t *Tracker) onError(err error) {
	if err == nil || t.Phase() != PhaseActive {
		return
	}
	t.mu.Lock()
	log := t.sessionLog
	t.mu.Unlock()
	log.WithError(err).WithField("kind", Kind(err)).Warn("position feed error")
	t.errs.publish(err, nil)
}

func (t *Tracker) run(quit <-chan struct{}, queue <-chan Fix) {
	defer t.wg.Done()
	for {
		select {
		case <-quit:
			return
		case f := <-queue:
			t.process(f)
		}
	}
}

func (t *Tracker) process(f Fix) {
	if !validFix(f) {
		t.errs.publish(fmt.Errorf("fix (%v, %v) out of range: %w", f.LatDeg, f.LonDeg, ErrPositionUnavailable), nil)
		return
	}
	if f.Time.IsZero() {
		f.Time = t.now().UTC()
	}

	pr := t.projector.Project(f)
	t.history.Push(f)
	t.motion = t.estimator.Estimate(t.history, t.motion)
	next, events := t.progress.Update(t.state, f, pr, t.motion, t.history)
	t.state = next
	t.last.Store(snapshotBox{state: next.Clone(), ok: true})
	t.processed.Add(1)

	t.positions.publish(f, Fix.Clone)
	t.states.publish(next, State.Clone)
	for _, ev := range events {
		t.logEvent(ev)
		t.events.publish(ev, cloneEvent)
	}
}

func (t *Tracker) logEvent(ev Event) {
	t.mu.Lock()
	log := t.sessionLog
	t.mu.Unlock()
	switch ev.Type {
	case EventManeuverAdvanced:
		log.WithFields(logrus.Fields{"from": ev.FromStep, "step": ev.ToStep}).Infof("maneuver: %s", ev.Instruction)
	case EventRerouteRequested:
		log.WithField("deviation_m", math.Round(ev.DistanceFromRouteM)).Warn("off route, reroute requested")
	case EventBackOnRoute:
		log.WithField("deviation_m", math.Round(ev.DistanceFromRouteM)).Info("back on route")
	}
}

func cloneEvent(ev Event) Event {
	ev.Fix = ev.Fix.Clone()
	return ev
}

func validFix(f Fix) bool {
	if math.IsNaN(f.LatDeg) || math.IsNaN(f.LonDeg) || math.IsInf(f.LatDeg, 0) || math.IsInf(f.LonDeg, 0) {
		return false
	}
	return math.Abs(f.LatDeg) <= 90 && math.Abs(f.LonDeg) <= 180
}

// Phase reports the lifecycle phase.
func (t *Tracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Snapshot returns a copy of the current state; ok is false when no session
// is active.
func (t *Tracker) Snapshot() (State, bool) {
	box, _ := t.last.Load().(snapshotBox)
	if !box.ok {
		return State{}, false
	}
	return box.state.Clone(), true
}

func (t *Tracker) allocID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	return t.nextID
}

// SubscribeState delivers a snapshot after every processed fix.
func (t *Tracker) SubscribeState(buffer int) (int, <-chan State) {
	id := t.allocID()
	return id, t.states.add(id, buffer)
}

// SubscribePosition delivers each raw fix after it has been processed.
func (t *Tracker) SubscribePosition(buffer int) (int, <-chan Fix) {
	id := t.allocID()
	return id, t.positions.add(id, buffer)
}

// SubscribeErrors delivers provider errors and route rejections.
func (t *Tracker) SubscribeErrors(buffer int) (int, <-chan error) {
	id := t.allocID()
	return id, t.errs.add(id, buffer)
}

// SubscribeEvents delivers maneuver and off-route signals.
func (t *Tracker) SubscribeEvents(buffer int) (int, <-chan Event) {
	id := t.allocID()
	return id, t.events.add(id, buffer)
}

// Unsubscribe closes and removes the subscription with id.
func (t *Tracker) Unsubscribe(id int) {
	if t.states.remove(id) || t.positions.remove(id) || t.errs.remove(id) {
		return
	}
	t.events.remove(id)
}

// Subscriptions counts live subscriber channels plus the provider
// subscription.
func (t *Tracker) Subscriptions() int {
	n := t.states.len() + t.positions.len() + t.errs.len() + t.events.len()
	t.mu.Lock()
	if t.subscribed {
		n++
	}
	t.mu.Unlock()
	return n
}

// Dropped counts fixes evicted from the queue plus values subscribers missed.
func (t *Tracker) Dropped() uint64 { return t.dropped.Load() }

// Processed counts fixes that went through the full pipeline.
func (t *Tracker) Processed() uint64 { return t.processed.Load() }
