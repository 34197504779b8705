package discovery

import (
	"context"
	"errors"
	"maps"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/qopyapp/p2pcore/internal/logging"
	"github.com/qopyapp/p2pcore/internal/netif"
)

// ErrServiceClosed is returned by Start after Close.
var ErrServiceClosed = errors.New("discovery service closed")

type state int

const (
	stateCreated state = iota
	stateRunning
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateRunning:
		return "running"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger. Defaults to the "discovery" child of
// the global logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the time source used for DiscoverPeers and peer timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLocalIP overrides how the advertised IPv4 address is chosen.
func WithLocalIP(fn func() (net.IP, error)) Option {
	return func(s *Service) {
		if fn != nil {
			s.localIP = fn
		}
	}
}

// Service advertises the local device and tracks peers of the same service
// type.
//
// Start and Stop are serialized by a lifecycle lock and are idempotent.
// Peer queries only take the registry's read lock and never wait on the
// lifecycle.
type Service struct {
	config   Config
	engine   Engine
	registry *Registry
	bus      *Bus
	clock    clock.Clock
	logger   *zap.Logger
	localIP  func() (net.IP, error)

	mu     sync.Mutex
	state  state
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a service in the Created state. It does not validate config;
// it fails only when the engine cannot be opened.
func New(config Config, open EngineOpener, opts ...Option) (*Service, error) {
	s := &Service{
		config:   config.clone(),
		registry: NewRegistry(),
		clock:    clock.New(),
		logger:   logging.Named("discovery"),
		localIP:  netif.PrimaryIPv4,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.bus = NewBus(s.config.EventBuffer, s.logger.Named("bus"))

	if open == nil {
		return nil, newError(KindAdvertise, "new", errors.New("no mDNS engine configured"))
	}
	engine, err := open(s.config)
	if err != nil {
		return nil, newError(KindAdvertise, "new", err)
	}
	s.engine = engine

	return s, nil
}

// Config returns a copy of the service configuration.
func (s *Service) Config() Config {
	return s.config.clone()
}

// Start registers the local service and starts browsing. Calling Start on a
// running service is a no-op.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServiceClosed
	}
	if s.state == stateRunning {
		return nil
	}

	ip, err := s.localIP()
	if err != nil {
		return newError(KindIO, "start", err)
	}

	reg := Registration{
		ServiceType: s.config.ServiceType,
		ServiceName: s.config.ServiceName,
		HostName:    HostName(s.config.ServiceName),
		IP:          ip,
		Port:        s.config.Port,
		Properties:  maps.Clone(s.config.Properties),
	}
	if err := s.engine.Register(reg); err != nil {
		return newError(KindAdvertise, "start", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := s.engine.Browse(ctx, s.config.ServiceType)
	if err != nil {
		cancel()
		if uerr := s.engine.Unregister(s.config.ServiceName); uerr != nil {
			s.logger.Warn("Failed to withdraw registration after browse error", zap.Error(uerr))
		}
		return newError(KindDiscoveryFailure, "start", err)
	}

	loop := &browseLoop{
		registry:    s.registry,
		bus:         s.bus,
		serviceType: s.config.ServiceType,
		clock:       s.clock,
		logger:      s.logger,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.run(ctx, events)
	}()

	s.cancel = cancel
	s.done = done
	s.state = stateRunning

	s.logger.Info("Discovery service started",
		zap.String("service_type", s.config.ServiceType),
		zap.String("service_name", s.config.ServiceName),
		zap.String("host", reg.HostName),
		zap.Stringer("ip", ip),
		zap.Int("port", s.config.Port),
	)
	s.bus.Publish(PeerEvent{Kind: ServiceStarted})
	return nil
}

// Stop withdraws the registration, ends the browse loop and clears the
// registry. Calling Stop on a service that is not running is a no-op.
// An unregister failure is logged and does not prevent the transition.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Service) stopLocked() error {
	if s.state != stateRunning {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil

	if err := s.engine.Unregister(s.config.ServiceName); err != nil {
		s.logger.Warn("Failed to unregister service",
			zap.String("service_name", s.config.ServiceName),
			zap.Error(newError(KindAdvertise, "stop", err)),
		)
	}

	s.registry.Clear()
	s.state = stateStopped

	s.logger.Info("Discovery service stopped", zap.String("service_name", s.config.ServiceName))
	s.bus.Publish(PeerEvent{Kind: ServiceStopped})
	return nil
}

// Close stops the service, releases the engine and closes every
// subscription. The service cannot be restarted afterwards.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	err := s.stopLocked()
	err = multierr.Append(err, s.engine.Close())
	s.bus.Close()
	s.closed = true
	return err
}

// Running reports whether the service is in the Running state.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

// Subscribe returns a cursor that receives every event published after
// this call. Close it when done.
func (s *Service) Subscribe() *Subscription {
	return s.bus.Subscribe()
}

// SubscriberCount returns the number of open subscriptions.
func (s *Service) SubscriberCount() int {
	return s.bus.Subscribers()
}

// Peers returns a snapshot of the known peers in no particular order.
func (s *Service) Peers() []*Peer {
	return s.registry.Snapshot()
}

// PeerCount returns the number of known peers without copying them.
func (s *Service) PeerCount() int {
	return s.registry.Len()
}

// Peer looks up a single peer by ID.
func (s *Service) Peer(id string) (*Peer, bool) {
	return s.registry.Get(id)
}

// DiscoverPeers starts the service if needed, waits for the full timeout and
// returns the peers known at the end of the wait. A timeout <= 0 uses
// Config.DiscoveryTimeout. It does not return early when peers appear.
func (s *Service) DiscoverPeers(timeout time.Duration) ([]*Peer, error) {
	return s.DiscoverPeersWithContext(context.Background(), timeout)
}

// DiscoverPeersWithContext is DiscoverPeers with a caller context. It only
// returns before the timeout when ctx is done, with ctx's error.
func (s *Service) DiscoverPeersWithContext(ctx context.Context, timeout time.Duration) ([]*Peer, error) {
	if err := s.Start(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = s.config.DiscoveryTimeout
	}

	timer := s.clock.Timer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return s.registry.Snapshot(), nil
}
