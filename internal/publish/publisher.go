// Package publish forwards navigation output to message brokers.
//
// A Publisher owns a set of sinks and writes every state, event and feed
// error to all of them as JSON under <prefix>.state, <prefix>.events and
// <prefix>.errors.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"navtrack/internal/nav"
)

// Sink is one broker connection.
type Sink interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// ErrorMessage is the payload published for a feed error.
type ErrorMessage struct {
	SessionID string    `json:"session_id,omitempty"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Time      time.Time `json:"time"`
}

type namedSink struct {
	name string
	sink Sink
}

type Publisher struct {
	prefix string
	log    logrus.FieldLogger
	now    func() time.Time

	mu    sync.RWMutex
	sinks []namedSink
}

const DefaultPrefix = "navtrack"

func New(prefix string, log logrus.FieldLogger) *Publisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Publisher{prefix: prefix, log: log, now: time.Now}
}

// Add registers a sink under name, which is only used in logs and errors.
func (p *Publisher) Add(name string, s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, namedSink{name: name, sink: s})
}

func (p *Publisher) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sinks)
}

func (p *Publisher) Topic(kind string) string {
	return p.prefix + "." + kind
}

// publish writes payload to every sink. A failing sink does not stop the
// others; all failures are returned joined.
func (p *Publisher) publish(ctx context.Context, kind string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	topic := p.Topic(kind)

	p.mu.RLock()
	sinks := append([]namedSink(nil), p.sinks...)
	p.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		if err := s.sink.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: publish %s: %w", s.name, topic, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) PublishState(ctx context.Context, st nav.State) error {
	return p.publish(ctx, "state", st)
}

func (p *Publisher) PublishEvent(ctx context.Context, ev nav.Event) error {
	return p.publish(ctx, "events", ev)
}

func (p *Publisher) PublishError(ctx context.Context, sessionID string, feedErr error) error {
	if feedErr == nil {
		return nil
	}
	return p.publish(ctx, "errors", ErrorMessage{
		SessionID: sessionID,
		Kind:      nav.Kind(feedErr),
		Message:   feedErr.Error(),
		Time:      p.now().UTC(),
	})
}

// Run forwards tracker output until ctx ends or every channel is closed.
// sessionID tags published errors. Publish failures are logged, not returned.
func (p *Publisher) Run(ctx context.Context, sessionID string, states <-chan nav.State, events <-chan nav.Event, errs <-chan error) error {
	failures := 0
	report := func(err error) {
		if err == nil {
			return
		}
		failures++
		if failures&(failures-1) == 0 {
			p.log.WithError(err).WithField("failures", failures).Warn("publish failed")
		}
	}
	for states != nil || events != nil || errs != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			report(p.PublishState(ctx, st))
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			report(p.PublishEvent(ctx, ev))
		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			report(p.PublishError(ctx, sessionID, e))
		}
	}
	return nil
}

// Close closes every sink.
func (p *Publisher) Close() error {
	p.mu.Lock()
	sinks := p.sinks
	p.sinks = nil
	p.mu.Unlock()

	var errs []error
	for _, s := range sinks {
		if err := s.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: close: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
