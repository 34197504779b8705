package discovery

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/multierr"
)

const (
	// DefaultServiceType is the DNS-SD service type qopy devices advertise
	DefaultServiceType = "_qopyapp._tcp.local."

	// DefaultServiceName is the instance name used when none is configured
	DefaultServiceName = "qopyapp-device"

	// DefaultPort is the advertised service port
	DefaultPort = 8080

	// DefaultDiscoveryTimeout is the sampling window used by DiscoverPeers
	DefaultDiscoveryTimeout = 10 * time.Second

	// DefaultAnnounceInterval is carried in the config but not acted upon
	DefaultAnnounceInterval = 30 * time.Second

	// DefaultEventBuffer is the per-subscriber event buffer size
	DefaultEventBuffer = 100
)

// Config is an immutable snapshot of the discovery parameters.
type Config struct {
	// ServiceType is the dot-segmented service type, e.g. "_qopyapp._tcp.local."
	ServiceType string

	// ServiceName is the instance name the local device registers under
	ServiceName string

	// Port is the advertised service port (1-65535)
	Port int

	// Properties are advertised as TXT key=value pairs
	Properties map[string]string

	// DiscoveryTimeout is the default DiscoverPeers sampling window
	DiscoveryTimeout time.Duration

	// AnnounceInterval is accepted for compatibility; the service does not
	// re-register periodically.
	AnnounceInterval time.Duration

	// EventBuffer is the number of events buffered per subscriber
	EventBuffer int
}

// DefaultConfig returns the default discovery configuration
func DefaultConfig() Config {
	return Config{
		ServiceType:      DefaultServiceType,
		ServiceName:      DefaultServiceName,
		Port:             DefaultPort,
		Properties:       map[string]string{},
		DiscoveryTimeout: DefaultDiscoveryTimeout,
		AnnounceInterval: DefaultAnnounceInterval,
		EventBuffer:      DefaultEventBuffer,
	}
}

// clone returns a copy that does not share the property map with c.
func (c Config) clone() Config {
	c.Properties = maps.Clone(c.Properties)
	if c.Properties == nil {
		c.Properties = map[string]string{}
	}
	return c
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var err error
	if _, _, serr := SplitServiceType(c.ServiceType); serr != nil {
		err = multierr.Append(err, serr)
	}
	if strings.TrimSpace(c.ServiceName) == "" {
		err = multierr.Append(err, errors.New("service name must not be empty"))
	} else if strings.Contains(c.ServiceName, ".") {
		err = multierr.Append(err, fmt.Errorf("service name %q must not contain dots", c.ServiceName))
	}
	if c.Port < 1 || c.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("port %d out of range 1-65535", c.Port))
	}
	if c.DiscoveryTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("discovery timeout must be positive, got %s", c.DiscoveryTimeout))
	}
	if c.AnnounceInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("announce interval must be positive, got %s", c.AnnounceInterval))
	}
	if c.EventBuffer <= 0 {
		err = multierr.Append(err, fmt.Errorf("event buffer must be positive, got %d", c.EventBuffer))
	}
	for key := range c.Properties {
		if key == "" || strings.Contains(key, "=") {
			err = multierr.Append(err, fmt.Errorf("invalid property key %q", key))
		}
	}
	return err
}

// SplitServiceType splits a service type such as "_qopyapp._tcp.local." into
// its service part ("_qopyapp._tcp") and its domain ("local."). A missing
// domain defaults to "local.".
func SplitServiceType(serviceType string) (service, domain string, err error) {
	if serviceType == "" {
		return "", "", fmt.Errorf("%w: empty", ErrInvalidServiceType)
	}
	fqdn := dns.Fqdn(serviceType)
	if _, ok := dns.IsDomainName(fqdn); !ok {
		return "", "", fmt.Errorf("%w: %q is not a domain name", ErrInvalidServiceType, serviceType)
	}

	labels := dns.SplitDomainName(fqdn)
	if len(labels) < 2 {
		return "", "", fmt.Errorf("%w: %q needs a _name._proto prefix", ErrInvalidServiceType, serviceType)
	}
	if !validServiceLabel(labels[0]) {
		return "", "", fmt.Errorf("%w: service label %q must be an underscore followed by 1-15 letters, digits or hyphens", ErrInvalidServiceType, labels[0])
	}
	if proto := strings.ToLower(labels[1]); proto != "_tcp" && proto != "_udp" {
		return "", "", fmt.Errorf("%w: protocol label %q must be _tcp or _udp", ErrInvalidServiceType, labels[1])
	}

	service = labels[0] + "." + labels[1]
	domain = "local."
	if len(labels) > 2 {
		domain = dns.Fqdn(strings.Join(labels[2:], "."))
	}
	return service, domain, nil
}

func validServiceLabel(label string) bool {
	name, ok := strings.CutPrefix(label, "_")
	if !ok || len(name) < 1 || len(name) > 15 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return true
}

// HostName returns the mDNS host name a service instance advertises.
func HostName(serviceName string) string {
	return dns.Fqdn(serviceName + ".local")
}
