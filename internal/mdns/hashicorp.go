package mdns

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	hmdns "github.com/hashicorp/mdns"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/qopyapp/p2pcore/internal/discovery"
)

// HashicorpEngine implements discovery.Engine with github.com/hashicorp/mdns.
type HashicorpEngine struct {
	opts  Options
	iface *net.Interface

	mu      sync.Mutex
	servers map[string]*hmdns.Server
	closed  bool
}

var _ discovery.Engine = (*HashicorpEngine)(nil)

func newHashicorpEngine(opts Options, iface *net.Interface) *HashicorpEngine {
	return &HashicorpEngine{
		opts:    opts,
		iface:   iface,
		servers: make(map[string]*hmdns.Server),
	}
}

// Register advertises reg. Registering a name again replaces the previous
// server.
func (e *HashicorpEngine) Register(reg discovery.Registration) error {
	service, domain, err := discovery.SplitServiceType(reg.ServiceType)
	if err != nil {
		return err
	}
	if reg.IP == nil {
		return fmt.Errorf("register %s: no IP address", reg.ServiceName)
	}

	zone, err := hmdns.NewMDNSService(
		reg.ServiceName,
		service,
		domain,
		reg.HostName,
		reg.Port,
		[]net.IP{reg.IP},
		encodeTXT(reg.Properties),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	if old, ok := e.servers[reg.ServiceName]; ok {
		if err := old.Shutdown(); err != nil {
			e.opts.Logger.Warn("Failed to shut down replaced mDNS server", zap.Error(err))
		}
		delete(e.servers, reg.ServiceName)
	}

	server, err := hmdns.NewServer(&hmdns.Config{Zone: zone, Iface: e.iface})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}
	e.servers[reg.ServiceName] = server

	e.opts.Logger.Debug("Registered mDNS service",
		zap.String("backend", string(BackendHashicorp)),
		zap.String("name", reg.ServiceName),
		zap.String("service", service),
		zap.String("domain", domain),
		zap.String("host", reg.HostName),
		zap.Int("port", reg.Port),
	)
	return nil
}

// Unregister shuts down the server registered under name.
func (e *HashicorpEngine) Unregister(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	server, ok := e.servers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	delete(e.servers, name)
	return server.Shutdown()
}

// Browse sweeps for serviceType until ctx is done. Each sweep is one
// blocking Query of SweepInterval; cancellation takes effect when the
// current query returns.
func (e *HashicorpEngine) Browse(ctx context.Context, serviceType string) (<-chan discovery.RawEvent, error) {
	service, domain, err := discovery.SplitServiceType(serviceType)
	if err != nil {
		return nil, err
	}
	suffix := "." + service + "." + domain

	sweep := func(ctx context.Context, out chan<- discovery.ServiceRecord) error {
		entries := make(chan *hmdns.ServiceEntry, 16)
		drained := make(chan struct{})
		go func() {
			defer close(drained)
			for entry := range entries {
				// Responders may answer with records for other services
				if !strings.HasSuffix(entry.Name, suffix) {
					continue
				}
				out <- recordFromHashicorp(entry, service+"."+domain)
			}
		}()

		params := &hmdns.QueryParam{
			Service:   service,
			Domain:    strings.TrimSuffix(domain, "."),
			Timeout:   e.opts.SweepInterval,
			Entries:   entries,
			Interface: e.iface,
		}
		err := hmdns.Query(params)
		close(entries)
		<-drained
		if err != nil {
			return fmt.Errorf("mdns query failed: %w", err)
		}
		return nil
	}

	return runSweeps(ctx, e.opts, sweep), nil
}

// Close shuts down every registered server and reports all failures.
func (e *HashicorpEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var err error
	for name, server := range e.servers {
		err = multierr.Append(err, server.Shutdown())
		delete(e.servers, name)
	}
	return err
}

func recordFromHashicorp(entry *hmdns.ServiceEntry, serviceType string) discovery.ServiceRecord {
	var v4, v6 []net.IP
	if entry.AddrV4 != nil {
		v4 = append(v4, entry.AddrV4)
	}
	if entry.AddrV6 != nil {
		v6 = append(v6, entry.AddrV6)
	}
	return discovery.ServiceRecord{
		FullName:    entry.Name,
		ServiceType: serviceType,
		HostName:    entry.Host,
		Port:        entry.Port,
		Addresses:   recordAddresses(v4, v6),
		Properties:  decodeTXT(entry.InfoFields),
	}
}
