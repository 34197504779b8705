package discovery

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// missedWarnEvery controls how often a lagging subscriber is logged.
const missedWarnEvery = 100

// Bus fans PeerEvents out to every current subscriber.
//
// Each subscriber has a bounded buffer. When a subscriber falls behind,
// Publish discards that subscriber's oldest buffered event to make room for
// the new one and counts the loss in Subscription.Missed. Publish never blocks.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	size   int
	closed bool
	logger *zap.Logger
}

// NewBus creates a bus with a per-subscriber buffer of size events.
func NewBus(size int, logger *zap.Logger) *Bus {
	if size <= 0 {
		size = DefaultEventBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		size:   size,
		logger: logger,
	}
}

// Subscribe registers a new subscriber. It only observes events published
// after this call returns. Subscribing to a closed bus returns a
// subscription whose channel is already closed.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{bus: b, ch: make(chan PeerEvent, b.size)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers ev to every current subscriber.
func (b *Bus) Publish(ev PeerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		b.deliver(sub, ev)
	}
}

// deliver is called with b.mu held, which makes the publisher the only sender
// on sub.ch. The oldest event is dropped only while the buffer is still full,
// so a reader draining concurrently usually saves it. Missed may still count
// one event that a reader would have made room for an instant later.
func (b *Bus) deliver(sub *Subscription, ev PeerEvent) {
	for {
		select {
		case sub.ch <- ev:
			return
		default:
		}

		if len(sub.ch) < cap(sub.ch) {
			continue
		}

		select {
		case <-sub.ch:
			if n := sub.missed.Add(1); n%missedWarnEvery == 1 {
				b.logger.Warn("Subscriber lagging, dropping oldest events",
					zap.Uint64("missed", n),
					zap.Int("buffer", b.size),
				)
			}
		default:
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription. Later Publish calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.closed = true
		close(sub.ch)
		delete(b.subs, sub)
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	delete(b.subs, sub)
	close(sub.ch)
}

// Subscription is an independent receive cursor on a Bus.
type Subscription struct {
	bus    *Bus
	ch     chan PeerEvent
	missed atomic.Uint64

	// closed is guarded by bus.mu
	closed bool
}

// C returns the event channel. It is closed when the subscription or the
// bus is closed.
func (s *Subscription) C() <-chan PeerEvent {
	return s.ch
}

// Missed returns how many events were dropped because the buffer was full.
func (s *Subscription) Missed() uint64 {
	return s.missed.Load()
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.remove(s)
}
