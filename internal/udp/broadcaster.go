package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"navtrack/internal/nav"
)

// maxDatagram keeps payloads inside a single unfragmented IPv4 UDP datagram
// on common links.
const maxDatagram = 1472

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)

type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Message is the datagram envelope. Type is "state" or "event".
type Message struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
	Data any    `json:"data"`
}

// Broadcaster sends navigation snapshots and events as JSON datagrams.
type Broadcaster struct {
	dest string
	conn udpConn
	log  logrus.FieldLogger

	mu  sync.Mutex
	seq uint64
}

func NewBroadcaster(dest string, log logrus.FieldLogger) (*Broadcaster, error) {
	b, err := newBroadcaster(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		// DialUDP selects a suitable local address automatically.
		return net.DialUDP(network, laddr, raddr)
	})
	if err != nil {
		return nil, err
	}
	if log != nil {
		b.log = log
	}
	return b, nil
}

func newBroadcaster(dest string, resolve resolveFunc, dial dialFunc) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &Broadcaster{dest: dest, conn: conn, log: logrus.StandardLogger()}, nil
}

func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := b.conn.Write(payload)
	return err
}

func (b *Broadcaster) send(typ string, data any) error {
	b.mu.Lock()
	b.seq++
	msg := Message{Type: typ, Seq: b.seq, Data: data}
	b.mu.Unlock()

	p, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	if len(p) > maxDatagram {
		return fmt.Errorf("%s datagram too large: %d bytes", typ, len(p))
	}
	return b.Send(p)
}

func (b *Broadcaster) SendState(st nav.State) error {
	return b.send("state", st)
}

func (b *Broadcaster) SendEvent(ev nav.Event) error {
	return b.send("event", ev)
}

// Run forwards states and events until ctx ends or both channels close.
// Send errors are logged; a listener coming and going must not stop the loop.
func (b *Broadcaster) Run(ctx context.Context, states <-chan nav.State, events <-chan nav.Event) error {
	log := b.log
	if log == nil {
		log = logrus.StandardLogger()
	}
	failures := 0
	report := func(err error) {
		failures++
		// 1, 2, 4, 8, ... to keep a dead listener from flooding the log.
		if failures&(failures-1) == 0 {
			log.WithError(err).WithFields(logrus.Fields{"dest": b.dest, "failures": failures}).Warn("udp send failed")
		}
	}
	for states != nil || events != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			if err := b.SendState(st); err != nil {
				report(err)
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := b.SendEvent(ev); err != nil {
				report(err)
			}
		}
	}
	return nil
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
