package discovery

import (
	"fmt"
	"maps"
	"net"
	"strconv"
	"time"
)

// DeviceTypeProperty is the TXT property peers use to announce their device type.
const DeviceTypeProperty = "device_type"

// Peer represents a remote device discovered on the local network
type Peer struct {
	// ID is the protocol-assigned full instance name
	// (e.g., "alice._qopyapp._tcp.local.")
	ID string `json:"id"`

	// IP is the first IPv4 address the peer advertised
	IP net.IP `json:"ip"`

	// Port is the advertised service port
	Port int `json:"port"`

	// ServiceType is the service type the peer was found under
	ServiceType string `json:"service_type"`

	// Properties holds the decoded TXT record key/value pairs.
	// Keys advertised without a value are not included.
	Properties map[string]string `json:"properties"`

	// DiscoveredAt is when the most recent resolve for this peer was handled
	DiscoveredAt time.Time `json:"discovered_at"`
}

// String returns a human-readable string representation of the peer
func (p *Peer) String() string {
	return fmt.Sprintf("Peer %s at %s", p.ID, p.Addr())
}

// Addr returns the peer's host:port address
func (p *Peer) Addr() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(p.Port))
}

// Property retrieves a property value by key, or returns empty string if not found
func (p *Peer) Property(key string) string {
	if p.Properties == nil {
		return ""
	}
	return p.Properties[key]
}

// DeviceType returns the advertised device type, or "unknown" if the peer did not send one
func (p *Peer) DeviceType() string {
	if v := p.Property(DeviceTypeProperty); v != "" {
		return v
	}
	return "unknown"
}

// Clone returns a deep copy of the peer.
func (p *Peer) Clone() *Peer {
	if p == nil {
		return nil
	}
	c := *p
	if p.IP != nil {
		c.IP = append(net.IP(nil), p.IP...)
	}
	c.Properties = maps.Clone(p.Properties)
	return &c
}
