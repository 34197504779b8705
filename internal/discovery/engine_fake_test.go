package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

// flushName is removed after each injected event. Removing an unknown name
// has no effect, and because the stream is unbuffered its delivery proves
// the previous event was fully handled.
const flushName = "flush._test._tcp.local."

type fakeEngine struct {
	mu            sync.Mutex
	registrations []Registration
	unregistered  []string
	browseCalls   int
	closed        bool

	registerErr   error
	unregisterErr error
	browseErr     error
	closeErr      error

	stream chan RawEvent
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{}
}

func (f *fakeEngine) opener() EngineOpener {
	return func(Config) (Engine, error) { return f, nil }
}

func (f *fakeEngine) Register(reg Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return f.registerErr
	}
	f.registrations = append(f.registrations, reg)
	return nil
}

func (f *fakeEngine) Unregister(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregistered = append(f.unregistered, name)
	return f.unregisterErr
}

func (f *fakeEngine) Browse(ctx context.Context, serviceType string) (<-chan RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browseErr != nil {
		return nil, f.browseErr
	}
	f.browseCalls++
	f.stream = make(chan RawEvent)
	return f.stream, nil
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakeEngine) currentStream() chan RawEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stream
}

func (f *fakeEngine) send(t *testing.T, ev RawEvent) {
	t.Helper()
	stream := f.currentStream()
	if stream == nil {
		t.Fatal("Browse was never called")
	}
	select {
	case stream <- ev:
	case <-time.After(2 * time.Second):
		t.Fatal("browse loop did not accept event")
	}
}

// inject delivers ev and returns once the browse loop has handled it.
func (f *fakeEngine) inject(t *testing.T, ev RawEvent) {
	t.Helper()
	f.send(t, ev)
	f.send(t, RawEvent{Kind: RawRemoved, Name: flushName})
}

func (f *fakeEngine) registrationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registrations)
}

func (f *fakeEngine) unregisterNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unregistered...)
}

func resolved(name string, port int, addrs ...string) RawEvent {
	rec := ServiceRecord{
		FullName:    name + "._qopyapp._tcp.local.",
		ServiceType: DefaultServiceType,
		HostName:    name + ".local.",
		Port:        port,
	}
	for _, a := range addrs {
		rec.Addresses = append(rec.Addresses, net.ParseIP(a))
	}
	return RawEvent{Kind: RawResolved, Record: rec}
}

func removed(name string) RawEvent {
	return RawEvent{Kind: RawRemoved, Name: name + "._qopyapp._tcp.local."}
}

func staticIP(ip string) Option {
	return WithLocalIP(func() (net.IP, error) { return net.ParseIP(ip), nil })
}

func newTestService(t *testing.T, engine *fakeEngine, opts ...Option) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ServiceName = "alice"
	cfg.Properties = map[string]string{"device_type": "desktop"}
	svc, err := New(cfg, engine.opener(), append([]Option{staticIP("10.0.0.5")}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func nextEvent(t *testing.T, sub *Subscription) PeerEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return PeerEvent{}
}

func expectNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		if ok {
			t.Fatalf("unexpected event %v", ev)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

var errBoom = errors.New("boom")
