package udp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"navtrack/internal/nav"
)

type fakeConn struct {
	mu        sync.Mutex
	writes    [][]byte
	writeErr  error
	closed    bool
	closeErr  error
	writeHits int
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeHits++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	cp := append([]byte(nil), p...)
	c.writes = append(c.writes, cp)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return c.closeErr
}

func TestNewBroadcaster_DialsResolvedAddr(t *testing.T) {
	var gotNetwork string
	var gotRaddr *net.UDPAddr
	fc := &fakeConn{}

	resolve := func(network, address string) (*net.UDPAddr, error) {
		return net.ResolveUDPAddr(network, address)
	}

	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		gotNetwork = network
		gotRaddr = raddr
		return fc, nil
	}

	b, err := newBroadcaster("127.0.0.1:4000", resolve, dial)
	if err != nil {
		t.Fatalf("newBroadcaster() error: %v", err)
	}
	defer b.Close()

	if gotNetwork != "udp" {
		t.Fatalf("network=%q want %q", gotNetwork, "udp")
	}
	if gotRaddr == nil || gotRaddr.Port != 4000 || !gotRaddr.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("raddr=%v want 127.0.0.1:4000", gotRaddr)
	}
}

func TestNewBroadcaster_ResolveFailure(t *testing.T) {
	resolveErr := errors.New("nope")
	resolve := func(network, address string) (*net.UDPAddr, error) {
		return nil, resolveErr
	}
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return &fakeConn{}, nil
	}

	_, err := newBroadcaster("bad:addr", resolve, dial)
	if !errors.Is(err, resolveErr) {
		t.Fatalf("err=%v want %v", err, resolveErr)
	}
}

func TestBroadcaster_Send_EmptyNoWrite(t *testing.T) {
	fc := &fakeConn{}
	b := &Broadcaster{dest: "x", conn: fc}

	if err := b.Send(nil); err != nil {
		t.Fatalf("Send(nil) error: %v", err)
	}
	if err := b.Send([]byte{}); err != nil {
		t.Fatalf("Send(empty) error: %v", err)
	}
	if fc.writeHits != 0 {
		t.Fatalf("expected no writes, got %d", fc.writeHits)
	}
}

func TestBroadcaster_Send_WritesPayload(t *testing.T) {
	fc := &fakeConn{}
	b := &Broadcaster{dest: "x", conn: fc}

	p := []byte{0x01, 0x02, 0x03}
	if err := b.Send(p); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if fc.writeHits != 1 {
		t.Fatalf("expected 1 write, got %d", fc.writeHits)
	}
	if len(fc.writes) != 1 {
		t.Fatalf("expected 1 captured write, got %d", len(fc.writes))
	}
	if string(fc.writes[0]) != string(p) {
		t.Fatalf("write=%v want %v", fc.writes[0], p)
	}
}

func TestBroadcaster_Send_PropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	fc := &fakeConn{writeErr: wantErr}
	b := &Broadcaster{dest: "x", conn: fc}

	err := b.Send([]byte{0x01})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err=%v want %v", err, wantErr)
	}
}

func TestBroadcaster_Close_NilConnNoPanic(t *testing.T) {
	b := &Broadcaster{}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func decode(t *testing.T, p []byte) (Message, json.RawMessage) {
	t.Helper()
	var env struct {
		Message
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(p, &env); err != nil {
		t.Fatalf("decode datagram: %v", err)
	}
	return env.Message, env.Data
}

func TestBroadcaster_SendState_EncodesEnvelope(t *testing.T) {
	fc := &fakeConn{}
	b := &Broadcaster{dest: "x", conn: fc}

	st := nav.State{SessionID: "s1", StepIndex: 2, DistanceRemainingM: 123.5, CurrentInstruction: "Turn left"}
	if err := b.SendState(st); err != nil {
		t.Fatalf("SendState() error: %v", err)
	}
	if err := b.SendEvent(nav.Event{Type: nav.EventRerouteRequested, SessionID: "s1"}); err != nil {
		t.Fatalf("SendEvent() error: %v", err)
	}
	if len(fc.writes) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(fc.writes))
	}

	msg, data := decode(t, fc.writes[0])
	if msg.Type != "state" || msg.Seq != 1 {
		t.Fatalf("envelope=%+v", msg)
	}
	var got nav.State
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if got.StepIndex != 2 || got.DistanceRemainingM != 123.5 || got.CurrentInstruction != "Turn left" {
		t.Fatalf("state=%+v", got)
	}

	msg, _ = decode(t, fc.writes[1])
	if msg.Type != "event" || msg.Seq != 2 {
		t.Fatalf("envelope=%+v", msg)
	}
}

func TestBroadcaster_Run_ForwardsUntilClosed(t *testing.T) {
	fc := &fakeConn{writeErr: nil}
	l := logrus.New()
	l.SetOutput(io.Discard)
	b := &Broadcaster{dest: "x", conn: fc, log: l}

	states := make(chan nav.State, 4)
	events := make(chan nav.Event, 4)
	states <- nav.State{StepIndex: 0}
	states <- nav.State{StepIndex: 1}
	events <- nav.Event{Type: nav.EventManeuverAdvanced}
	close(states)
	close(events)

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background(), states, events) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after channels closed")
	}
	if fc.writeHits != 3 {
		t.Fatalf("expected 3 writes, got %d", fc.writeHits)
	}
}

func TestBroadcaster_Run_SurvivesSendErrors(t *testing.T) {
	fc := &fakeConn{writeErr: errors.New("connection refused")}
	l := logrus.New()
	l.SetOutput(io.Discard)
	b := &Broadcaster{dest: "x", conn: fc, log: l}

	states := make(chan nav.State)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, states, nil) }()

	for i := 0; i < 3; i++ {
		states <- nav.State{StepIndex: i}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() err=%v want context.Canceled", err)
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.writeHits != 3 {
		t.Fatalf("expected 3 write attempts, got %d", fc.writeHits)
	}
}
