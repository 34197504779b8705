package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// browseLoop folds raw engine events into the registry and publishes the
// matching domain events.
type browseLoop struct {
	registry    *Registry
	bus         *Bus
	serviceType string
	clock       clock.Clock
	logger      *zap.Logger
}

// run consumes events until the stream closes or ctx is done. Nothing is
// published after run returns.
func (l *browseLoop) run(ctx context.Context, events <-chan RawEvent) {
	l.logger.Debug("Browse loop started", zap.String("service_type", l.serviceType))
	defer l.logger.Debug("Browse loop exited", zap.String("service_type", l.serviceType))

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			l.handle(ev)
		}
	}
}

func (l *browseLoop) handle(ev RawEvent) {
	switch ev.Kind {
	case RawResolved:
		peer, err := l.peerFromRecord(ev.Record)
		if err != nil {
			l.logger.Warn("Skipping resolved service",
				zap.String("name", ev.Record.FullName),
				zap.Error(err),
			)
			l.bus.Publish(PeerEvent{Kind: EventError, Err: err})
			return
		}
		l.registry.Upsert(peer)
		l.logger.Debug("Peer discovered",
			zap.String("peer", peer.ID),
			zap.String("addr", peer.Addr()),
		)
		l.bus.Publish(PeerEvent{Kind: PeerDiscovered, Peer: peer})

	case RawRemoved:
		peer, ok := l.registry.Remove(ev.Name)
		if !ok {
			l.logger.Debug("Removal for unknown peer ignored", zap.String("name", ev.Name))
			return
		}
		l.logger.Debug("Peer lost", zap.String("peer", peer.ID))
		l.bus.Publish(PeerEvent{Kind: PeerLost, Peer: peer})

	default:
		l.logger.Warn("Unknown raw event kind", zap.Int("kind", int(ev.Kind)))
	}
}

// peerFromRecord builds a Peer from a resolved record. Records without an
// IPv4 address or a usable port are rejected with an address resolution error.
func (l *browseLoop) peerFromRecord(rec ServiceRecord) (*Peer, error) {
	ip := firstIPv4(rec.Addresses)
	if ip == nil {
		return nil, newError(KindAddressResolution, "resolve",
			fmt.Errorf("%s advertises no IPv4 address", rec.FullName))
	}
	if rec.Port < 1 || rec.Port > 65535 {
		return nil, newError(KindAddressResolution, "resolve",
			fmt.Errorf("%s advertises invalid port %d", rec.FullName, rec.Port))
	}

	serviceType := rec.ServiceType
	if serviceType == "" {
		serviceType = l.serviceType
	}

	return &Peer{
		ID:           rec.FullName,
		IP:           ip,
		Port:         rec.Port,
		ServiceType:  serviceType,
		Properties:   decodeProperties(rec.Properties),
		DiscoveredAt: l.clock.Now(),
	}, nil
}

func firstIPv4(addrs []net.IP) net.IP {
	for _, addr := range addrs {
		if v4 := addr.To4(); v4 != nil {
			return v4
		}
	}
	return nil
}

// decodeProperties skips value-less keys and replaces invalid UTF-8 in values.
// A repeated key keeps its first value.
func decodeProperties(props []Property) map[string]string {
	out := make(map[string]string, len(props))
	for _, p := range props {
		if p.Value == nil {
			continue
		}
		if _, dup := out[p.Key]; dup {
			continue
		}
		out[p.Key] = strings.ToValidUTF8(string(p.Value), "�")
	}
	return out
}
