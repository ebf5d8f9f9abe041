package nav

import (
	"sync"
	"sync/atomic"
)

// fanout delivers values to buffered subscriber channels without ever
// blocking the publisher. A full subscriber misses the value.
type fanout[T any] struct {
	mu      sync.RWMutex
	subs    map[int]chan T
	closed  bool
	dropped *atomic.Uint64
}

func newFanout[T any](dropped *atomic.Uint64) *fanout[T] {
	return &fanout[T]{subs: make(map[int]chan T), dropped: dropped}
}

func (f *fanout[T]) add(id, buffer int) <-chan T {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan T, buffer)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch
	}
	f.subs[id] = ch
	return ch
}

func (f *fanout[T]) remove(id int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.subs[id]
	if ok {
		delete(f.subs, id)
		close(ch)
	}
	return ok
}

// publish sends v to every subscriber. copyFn, when set, gives each
// subscriber its own value.
func (f *fanout[T]) publish(v T, copyFn func(T) T) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		out := v
		if copyFn != nil {
			out = copyFn(v)
		}
		select {
		case ch <- out:
		default:
			if f.dropped != nil {
				f.dropped.Add(1)
			}
		}
	}
}

// closeAll closes and forgets every subscriber; later adds get a closed channel.
func (f *fanout[T]) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
	f.closed = true
}

func (f *fanout[T]) len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
