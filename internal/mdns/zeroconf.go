package mdns

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/qopyapp/p2pcore/internal/discovery"
)

// ZeroconfEngine implements discovery.Engine with github.com/grandcat/zeroconf.
type ZeroconfEngine struct {
	opts   Options
	ifaces []net.Interface

	mu      sync.Mutex
	servers map[string]*zeroconf.Server
	closed  bool
}

var _ discovery.Engine = (*ZeroconfEngine)(nil)

func newZeroconfEngine(opts Options, iface *net.Interface) *ZeroconfEngine {
	e := &ZeroconfEngine{
		opts:    opts,
		servers: make(map[string]*zeroconf.Server),
	}
	if iface != nil {
		e.ifaces = []net.Interface{*iface}
	}
	return e
}

// Register advertises reg. Registering a name again replaces the previous
// server.
func (e *ZeroconfEngine) Register(reg discovery.Registration) error {
	service, domain, err := discovery.SplitServiceType(reg.ServiceType)
	if err != nil {
		return err
	}
	if reg.IP == nil {
		return fmt.Errorf("register %s: no IP address", reg.ServiceName)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	if old, ok := e.servers[reg.ServiceName]; ok {
		old.Shutdown()
		delete(e.servers, reg.ServiceName)
	}

	server, err := zeroconf.RegisterProxy(
		reg.ServiceName,
		service,
		domain,
		reg.Port,
		reg.HostName,
		[]string{reg.IP.String()},
		encodeTXT(reg.Properties),
		e.ifaces,
	)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", reg.ServiceName, err)
	}
	e.servers[reg.ServiceName] = server

	e.opts.Logger.Debug("Registered mDNS service",
		zap.String("backend", string(BackendZeroconf)),
		zap.String("name", reg.ServiceName),
		zap.String("service", service),
		zap.String("domain", domain),
		zap.String("host", reg.HostName),
		zap.Int("port", reg.Port),
	)
	return nil
}

// Unregister shuts down the server registered under name.
func (e *ZeroconfEngine) Unregister(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	server, ok := e.servers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	server.Shutdown()
	delete(e.servers, name)
	return nil
}

// Browse sweeps for serviceType until ctx is done. The first resolver is
// created before Browse returns so socket failures surface to the caller.
func (e *ZeroconfEngine) Browse(ctx context.Context, serviceType string) (<-chan discovery.RawEvent, error) {
	service, domain, err := discovery.SplitServiceType(serviceType)
	if err != nil {
		return nil, err
	}

	first, err := e.newResolver()
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	sweep := func(ctx context.Context, out chan<- discovery.ServiceRecord) error {
		resolver := first
		first = nil
		if resolver == nil {
			if resolver, err = e.newResolver(); err != nil {
				return fmt.Errorf("failed to create mDNS resolver: %w", err)
			}
		}
		return e.sweep(ctx, resolver, service, domain, out)
	}

	return runSweeps(ctx, e.opts, sweep), nil
}

func (e *ZeroconfEngine) newResolver() (*zeroconf.Resolver, error) {
	var opts []zeroconf.ClientOption
	if len(e.ifaces) > 0 {
		opts = append(opts, zeroconf.SelectIfaces(e.ifaces))
	}
	return zeroconf.NewResolver(opts...)
}

// sweep browses for one window. A zeroconf resolver is single use: its
// entries channel is closed once the window's context ends.
func (e *ZeroconfEngine) sweep(ctx context.Context, resolver *zeroconf.Resolver, service, domain string, out chan<- discovery.ServiceRecord) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.SweepInterval)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for entry := range entries {
			out <- recordFromZeroconf(entry)
		}
	}()

	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		cancel()
		<-drained
		return fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-drained
	return nil
}

// Close shuts down every registered server.
func (e *ZeroconfEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	for name, server := range e.servers {
		server.Shutdown()
		delete(e.servers, name)
	}
	return nil
}

func recordFromZeroconf(entry *zeroconf.ServiceEntry) discovery.ServiceRecord {
	return discovery.ServiceRecord{
		FullName:    entry.ServiceInstanceName(),
		ServiceType: entry.ServiceName(),
		HostName:    entry.HostName,
		Port:        entry.Port,
		Addresses:   recordAddresses(entry.AddrIPv4, entry.AddrIPv6),
		Properties:  decodeTXT(entry.Text),
	}
}
