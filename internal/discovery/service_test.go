package discovery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_OpenerError(t *testing.T) {
	_, err := New(DefaultConfig(), func(Config) (Engine, error) { return nil, errBoom })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAdvertise)
	assert.ErrorIs(t, err, errBoom)

	_, err = New(DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrAdvertise)
}

func TestNew_DoesNotValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 0
	_, err := New(cfg, newFakeEngine().opener())
	assert.NoError(t, err)
}

func TestService_StartIsIdempotent(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(t, engine)
	sub := svc.Subscribe()
	defer sub.Close()

	require.NoError(t, svc.Start())
	require.NoError(t, svc.Start())

	assert.Equal(t, 1, engine.registrationCount())
	assert.Equal(t, ServiceStarted, nextEvent(t, sub).Kind)
	expectNoEvent(t, sub)
	assert.True(t, svc.Running())
}

func TestService_Registration(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(t, engine)
	require.NoError(t, svc.Start())

	engine.mu.Lock()
	reg := engine.registrations[0]
	engine.mu.Unlock()

	assert.Equal(t, DefaultServiceType, reg.ServiceType)
	assert.Equal(t, "alice", reg.ServiceName)
	assert.Equal(t, "alice.local.", reg.HostName)
	assert.Equal(t, "10.0.0.5", reg.IP.String())
	assert.Equal(t, DefaultPort, reg.Port)
	assert.Equal(t, map[string]string{"device_type": "desktop"}, reg.Properties)
}

func TestService_StopIsIdempotent(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(t, engine)
	sub := svc.Subscribe()
	defer sub.Close()

	// Stop before Start is a no-op
	require.NoError(t, svc.Stop())
	expectNoEvent(t, sub)
	assert.Empty(t, engine.unregisterNames())

	require.NoError(t, svc.Start())
	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())

	assert.Equal(t, ServiceStarted, nextEvent(t, sub).Kind)
	assert.Equal(t, ServiceStopped, nextEvent(t, sub).Kind)
	expectNoEvent(t, sub)
	assert.Equal(t, []string{"alice"}, engine.unregisterNames())
	assert.False(t, svc.Running())
}

func TestService_StopClearsRegistry(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(t, engine)
	require.NoError(t, svc.Start())

	engine.inject(t, resolved("bob", 9000, "10.0.0.6"))
	engine.inject(t, resolved("carol", 9001, "10.0.0.7"))
	require.Len(t, svc.Peers(), 2)

	require.NoError(t, svc.Stop())
	assert.Empty(t, svc.Peers())
}

func TestService_StopUnregisterFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.unregisterErr = errBoom
	svc := newTestService(t, engine)
	sub := svc.Subscribe()
	defer sub.Close()

	require.NoError(t, svc.Start())
	require.NoError(t, svc.Stop())

	assert.False(t, svc.Running())
	assert.Equal(t, ServiceStarted, nextEvent(t, sub).Kind)
	assert.Equal(t, ServiceStopped, nextEvent(t, sub).Kind)
}

func TestService_Restart(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(t, engine)
	sub := svc.Subscribe()
	defer sub.Close()

	require.NoError(t, svc.Start())
	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Start())

	engine.inject(t, resolved("bob", 9000, "10.0.0.6"))
	assert.Len(t, svc.Peers(), 1)

	kinds := []EventKind{
		nextEvent(t, sub).Kind,
		nextEvent(t, sub).Kind,
		nextEvent(t, sub).Kind,
		nextEvent(t, sub).Kind,
	}
	assert.Equal(t, []EventKind{ServiceStarted, ServiceStopped, ServiceStarted, PeerDiscovered}, kinds)
	assert.Equal(t, 2, engine.registrationCount())
}

func TestService_StartErrors(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(e *fakeEngine)
		localIP    func() (net.IP, error)
		wantErr    error
		wantUnreg  bool
		wantRegCnt int
	}{
		{
			name:    "interface enumeration fails",
			localIP: func() (net.IP, error) { return nil, errBoom },
			wantErr: ErrIO,
		},
		{
			name:    "register fails",
			setup:   func(e *fakeEngine) { e.registerErr = errBoom },
			wantErr: ErrAdvertise,
		},
		{
			name:       "browse fails",
			setup:      func(e *fakeEngine) { e.browseErr = errBoom },
			wantErr:    ErrDiscoveryFailure,
			wantUnreg:  true,
			wantRegCnt: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newFakeEngine()
			if tt.setup != nil {
				tt.setup(engine)
			}
			var opts []Option
			if tt.localIP != nil {
				opts = append(opts, WithLocalIP(tt.localIP))
			}
			svc := newTestService(t, engine, opts...)
			sub := svc.Subscribe()
			defer sub.Close()

			err := svc.Start()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, errBoom)
			assert.False(t, svc.Running())
			assert.Equal(t, tt.wantRegCnt, engine.registrationCount())
			assert.Equal(t, tt.wantUnreg, len(engine.unregisterNames()) == 1)
			expectNoEvent(t, sub)
		})
	}
}

func TestService_Scenario(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(t, engine)
	sub := svc.Subscribe()
	defer sub.Close()

	require.NoError(t, svc.Start())
	require.Equal(t, ServiceStarted, nextEvent(t, sub).Kind)

	alice := resolved("alice", 8080, "10.0.0.5")
	alice.Record.Properties = []Property{
		{Key: "device_type", Value: []byte("phone")},
		{Key: "flag"},
	}
	engine.inject(t, alice)

	peers := svc.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "alice._qopyapp._tcp.local.", peers[0].ID)
	assert.Equal(t, "10.0.0.5:8080", peers[0].Addr())
	assert.Equal(t, map[string]string{"device_type": "phone"}, peers[0].Properties)

	ev := nextEvent(t, sub)
	require.Equal(t, PeerDiscovered, ev.Kind)
	assert.Equal(t, "alice._qopyapp._tcp.local.", ev.Peer.ID)

	engine.inject(t, removed("alice"))
	assert.Empty(t, svc.Peers())

	ev = nextEvent(t, sub)
	require.Equal(t, PeerLost, ev.Kind)
	assert.Equal(t, "alice._qopyapp._tcp.local.", ev.Peer.ID)
	assert.Equal(t, "10.0.0.5", ev.Peer.IP.String())
	assert.Equal(t, 8080, ev.Peer.Port)
}

func TestService_RemoveUnknownPeer(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(t, engine)
	require.NoError(t, svc.Start())
	sub := svc.Subscribe()
	defer sub.Close()

	engine.inject(t, removed("ghost"))
	expectNoEvent(t, sub)
}

func TestService_AddressResolutionFailure(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(t, engine)
	require.NoError(t, svc.Start())
	sub := svc.Subscribe()
	defer sub.Close()

	engine.inject(t, resolved("v6only", 9000, "fe80::1", "2001:db8::7"))

	assert.Empty(t, svc.Peers())
	ev := nextEvent(t, sub)
	require.Equal(t, EventError, ev.Kind)
	assert.Equal(t, KindAddressResolution, ev.ErrorKind())
	assert.ErrorIs(t, ev.Err, ErrAddressResolution)
	expectNoEvent(t, sub)

	// The loop keeps running after a translation error
	engine.inject(t, resolved("bob", 9000, "10.0.0.6"))
	assert.Equal(t, PeerDiscovered, nextEvent(t, sub).Kind)
}

func TestService_InvalidPortRejected(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(t, engine)
	require.NoError(t, svc.Start())
	sub := svc.Subscribe()
	defer sub.Close()

	for _, port := range []int{0, -1, 70000} {
		engine.inject(t, resolved("bob", port, "10.0.0.6"))

		ev := nextEvent(t, sub)
		require.Equal(t, EventError, ev.Kind, "port %d", port)
		assert.ErrorIs(t, ev.Err, ErrAddressResolution)
		assert.Zero(t, svc.PeerCount(), "port %d", port)
	}
	expectNoEvent(t, sub)
}

func TestService_BrowseStreamClosed(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(t, engine)
	sub := svc.Subscribe()
	defer sub.Close()

	require.NoError(t, svc.Start())
	engine.inject(t, resolved("bob", 9000, "10.0.0.6"))
	assert.Equal(t, ServiceStarted, nextEvent(t, sub).Kind)
	assert.Equal(t, PeerDiscovered, nextEvent(t, sub).Kind)

	close(engine.currentStream())

	// The loop exits quietly and leaves the registry and state alone.
	expectNoEvent(t, sub)
	assert.Equal(t, 1, svc.PeerCount())
	assert.True(t, svc.Running())

	stopped := make(chan error, 1)
	go func() { stopped <- svc.Stop() }()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked after the browse stream closed")
	}

	assert.Equal(t, ServiceStopped, nextEvent(t, sub).Kind)
	expectNoEvent(t, sub)
	assert.Zero(t, svc.PeerCount())
}

func TestService_StopDetachesOldStream(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(t, engine)

	require.NoError(t, svc.Start())
	old := engine.currentStream()
	require.NoError(t, svc.Stop())

	// Nothing reads the first stream once Stop has returned.
	select {
	case old <- resolved("stale", 9000, "10.0.0.9"):
		t.Fatal("stopped browse loop accepted an event")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, svc.Peers())

	require.NoError(t, svc.Start())
	require.NotEqual(t, old, engine.currentStream())

	engine.inject(t, resolved("bob", 9000, "10.0.0.6"))
	select {
	case old <- resolved("stale", 9000, "10.0.0.9"):
		t.Fatal("old stream is still consumed after restart")
	case <-time.After(50 * time.Millisecond):
	}

	peers := svc.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "bob._qopyapp._tcp.local.", peers[0].ID)
}

func TestService_ResolveOverwrites(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(t, engine)
	require.NoError(t, svc.Start())

	engine.inject(t, resolved("bob", 9000, "10.0.0.6"))
	engine.inject(t, resolved("bob", 9100, "2001:db8::1", "10.0.0.9"))

	peer, ok := svc.Peer("bob._qopyapp._tcp.local.")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.9:9100", peer.Addr())
	assert.Len(t, svc.Peers(), 1)

	_, ok = svc.Peer("nobody")
	assert.False(t, ok)
}

func TestService_RegistryFold(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(t, engine)
	require.NoError(t, svc.Start())

	rng := rand.New(rand.NewSource(42))
	names := []string{"a", "b", "c", "d", "e"}
	want := make(map[string]int)

	for i := 0; i < 200; i++ {
		name := names[rng.Intn(len(names))]
		if rng.Intn(3) == 0 {
			engine.inject(t, removed(name))
			delete(want, name+"._qopyapp._tcp.local.")
			continue
		}
		port := 1000 + i
		engine.inject(t, resolved(name, port, fmt.Sprintf("10.0.1.%d", rng.Intn(250)+1)))
		want[name+"._qopyapp._tcp.local."] = port
	}

	got := make(map[string]int)
	for _, p := range svc.Peers() {
		got[p.ID] = p.Port
	}
	assert.Equal(t, want, got)
}

func TestService_SubscriptionVisibility(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(t, engine)
	require.NoError(t, svc.Start())

	early := svc.Subscribe()
	defer early.Close()

	engine.inject(t, resolved("bob", 9000, "10.0.0.6"))

	late := svc.Subscribe()
	defer late.Close()

	engine.inject(t, resolved("carol", 9001, "10.0.0.7"))

	assert.Equal(t, "bob._qopyapp._tcp.local.", nextEvent(t, early).Peer.ID)
	assert.Equal(t, "carol._qopyapp._tcp.local.", nextEvent(t, early).Peer.ID)

	assert.Equal(t, "carol._qopyapp._tcp.local.", nextEvent(t, late).Peer.ID)
	expectNoEvent(t, late)
	assert.Equal(t, 2, svc.SubscriberCount())
}

func TestService_DiscoverPeersWaitsFullTimeout(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(t, engine)

	const window = 60 * time.Millisecond
	begin := time.Now()
	peers, err := svc.DiscoverPeers(window)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(begin), window)
	assert.Empty(t, peers)
	assert.True(t, svc.Running(), "DiscoverPeers should start the service")
}

func TestService_DiscoverPeersSnapshotAtEnd(t *testing.T) {
	mock := clock.NewMock()
	engine := newFakeEngine()
	svc := newTestService(t, engine, WithClock(mock))

	type result struct {
		peers []*Peer
		err   error
	}
	done := make(chan result, 1)
	start := mock.Now()
	go func() {
		peers, err := svc.DiscoverPeers(10 * time.Second)
		done <- result{peers, err}
	}()

	require.Eventually(t, svc.Running, time.Second, time.Millisecond)
	engine.inject(t, resolved("bob", 9000, "10.0.0.6"))

	select {
	case <-done:
		t.Fatal("DiscoverPeers returned before the window elapsed")
	default:
	}

	var res result
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		select {
		case res = <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, res.err)
	assert.GreaterOrEqual(t, mock.Now().Sub(start), 10*time.Second)
	require.Len(t, res.peers, 1)
	assert.Equal(t, "bob._qopyapp._tcp.local.", res.peers[0].ID)
	assert.Equal(t, start, res.peers[0].DiscoveredAt)
}

func TestService_DiscoverPeersDefaultTimeout(t *testing.T) {
	engine := newFakeEngine()
	cfg := DefaultConfig()
	cfg.DiscoveryTimeout = 30 * time.Millisecond
	svc, err := New(cfg, engine.opener(), staticIP("10.0.0.5"))
	require.NoError(t, err)
	defer svc.Close()

	begin := time.Now()
	_, err = svc.DiscoverPeers(0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(begin), cfg.DiscoveryTimeout)
}

func TestService_DiscoverPeersWithContext(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(t, engine)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := svc.DiscoverPeersWithContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestService_DiscoverPeersStartError(t *testing.T) {
	engine := newFakeEngine()
	engine.registerErr = errBoom
	svc := newTestService(t, engine)

	_, err := svc.DiscoverPeers(time.Millisecond)
	assert.ErrorIs(t, err, ErrAdvertise)
}

func TestService_Close(t *testing.T) {
	engine := newFakeEngine()
	engine.closeErr = errBoom
	cfg := DefaultConfig()
	svc, err := New(cfg, engine.opener(), staticIP("10.0.0.5"))
	require.NoError(t, err)

	sub := svc.Subscribe()
	require.NoError(t, svc.Start())

	err = svc.Close()
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, engine.closed)

	// Drain until the bus closes the channel
	var kinds []EventKind
	for ev := range sub.C() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []EventKind{ServiceStarted, ServiceStopped}, kinds)

	assert.ErrorIs(t, svc.Start(), ErrServiceClosed)
	assert.NoError(t, svc.Close())

	_, ok := <-svc.Subscribe().C()
	assert.False(t, ok)
}

func TestService_ConcurrentLifecycle(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(t, engine)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = svc.Start()
		}()
		go func() {
			defer wg.Done()
			_ = svc.Stop()
		}()
		go func() {
			defer wg.Done()
			_ = svc.Peers()
			_, _ = svc.Peer("x")
		}()
	}
	wg.Wait()

	// Every registration must be matched by at most one unregistration
	engine.mu.Lock()
	regs, unregs := len(engine.registrations), len(engine.unregistered)
	engine.mu.Unlock()
	assert.True(t, regs-unregs == 0 || regs-unregs == 1, "regs=%d unregs=%d", regs, unregs)
	assert.Equal(t, regs-unregs == 1, svc.Running())
}

func TestService_ConfigIsCopied(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Properties["k"] = "v"
	svc, err := New(cfg, newFakeEngine().opener())
	require.NoError(t, err)

	cfg.Properties["k"] = "changed"
	assert.Equal(t, "v", svc.Config().Properties["k"])
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		sentinel error
	}{
		{KindAdvertise, ErrAdvertise},
		{KindAddressResolution, ErrAddressResolution},
		{KindDiscoveryFailure, ErrDiscoveryFailure},
		{KindIO, ErrIO},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", newError(tt.kind, "op", errBoom))
			assert.ErrorIs(t, err, tt.sentinel)
			assert.ErrorIs(t, err, errBoom)
			assert.Equal(t, tt.kind, KindOf(err))
			for _, other := range tests {
				if other.kind != tt.kind {
					assert.False(t, errors.Is(err, other.sentinel), "%s should not match %s", tt.kind, other.kind)
				}
			}
		})
	}

	assert.Equal(t, "start: io: boom", newError(KindIO, "start", errBoom).Error())
	assert.Equal(t, ErrorKind(""), KindOf(errBoom))
}
