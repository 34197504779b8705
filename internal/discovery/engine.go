package discovery

import (
	"context"
	"net"
)

// Registration describes the local service instance handed to an Engine.
type Registration struct {
	ServiceType string
	ServiceName string
	HostName    string
	IP          net.IP
	Port        int
	Properties  map[string]string
}

// Property is a single raw TXT attribute. A nil Value means the key was
// advertised without "=".
type Property struct {
	Key   string
	Value []byte
}

// ServiceRecord is a resolved service instance as reported by an Engine.
type ServiceRecord struct {
	FullName    string
	ServiceType string
	HostName    string
	Port        int
	Addresses   []net.IP
	Properties  []Property
}

// RawEventKind distinguishes resolved from removed raw events.
type RawEventKind int

const (
	RawResolved RawEventKind = iota + 1
	RawRemoved
)

// RawEvent is a protocol-level browse result. Record is set for RawResolved,
// Name (the full instance name) for RawRemoved.
type RawEvent struct {
	Kind   RawEventKind
	Record ServiceRecord
	Name   string
}

// Engine is the multicast registrar and browser the Service drives.
// Implementations must tolerate concurrent Register, Unregister and Browse.
type Engine interface {
	// Register advertises a service instance.
	Register(reg Registration) error

	// Unregister withdraws the instance registered under name.
	Unregister(name string) error

	// Browse streams raw events for serviceType until ctx is done, then
	// closes the returned channel.
	Browse(ctx context.Context, serviceType string) (<-chan RawEvent, error)

	// Close releases every resource held by the engine.
	Close() error
}

// EngineOpener constructs an Engine for a configuration.
type EngineOpener func(cfg Config) (Engine, error)
