package mdns

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/qopyapp/p2pcore/internal/discovery"
	"github.com/qopyapp/p2pcore/internal/logging"
)

// Backend names an mDNS library.
type Backend string

const (
	// BackendZeroconf uses github.com/grandcat/zeroconf
	BackendZeroconf Backend = "zeroconf"

	// BackendHashicorp uses github.com/hashicorp/mdns
	BackendHashicorp Backend = "hashicorp"
)

const (
	// DefaultSweepInterval is the length of one browse window
	DefaultSweepInterval = 3 * time.Second

	// DefaultMissThreshold is how many consecutive sweeps may miss an
	// instance before it is reported as removed
	DefaultMissThreshold = 3
)

var (
	// ErrNotRegistered is returned by Unregister for unknown names
	ErrNotRegistered = errors.New("service not registered")

	// ErrEngineClosed is returned after Close
	ErrEngineClosed = errors.New("mdns engine closed")
)

// ParseBackend validates a backend name. An empty name selects zeroconf.
func ParseBackend(name string) (Backend, error) {
	switch Backend(name) {
	case "", BackendZeroconf:
		return BackendZeroconf, nil
	case BackendHashicorp:
		return BackendHashicorp, nil
	default:
		return "", fmt.Errorf("unknown mdns backend %q (want %s or %s)", name, BackendZeroconf, BackendHashicorp)
	}
}

// Options tune an engine.
type Options struct {
	// SweepInterval is the length of one browse window
	SweepInterval time.Duration

	// MissThreshold is the number of consecutive missed sweeps after which
	// an instance is reported as removed
	MissThreshold int

	// Interface restricts advertising and browsing to one interface.
	// Empty means all multicast interfaces.
	Interface string

	// Logger defaults to the "mdns" child of the global logger
	Logger *zap.Logger

	clock clock.Clock
}

func (o Options) withDefaults() Options {
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.MissThreshold <= 0 {
		o.MissThreshold = DefaultMissThreshold
	}
	if o.Logger == nil {
		o.Logger = logging.Named("mdns")
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	return o
}

// Open creates an engine for the given backend.
func Open(backend Backend, opts Options) (discovery.Engine, error) {
	opts = opts.withDefaults()

	var iface *net.Interface
	if opts.Interface != "" {
		found, err := net.InterfaceByName(opts.Interface)
		if err != nil {
			return nil, fmt.Errorf("failed to find interface %s: %w", opts.Interface, err)
		}
		iface = found
	}

	switch backend {
	case "", BackendZeroconf:
		return newZeroconfEngine(opts, iface), nil
	case BackendHashicorp:
		return newHashicorpEngine(opts, iface), nil
	default:
		_, err := ParseBackend(string(backend))
		return nil, err
	}
}

// Opener adapts Open to discovery.EngineOpener.
func Opener(backend Backend, opts Options) discovery.EngineOpener {
	return func(discovery.Config) (discovery.Engine, error) {
		return Open(backend, opts)
	}
}
