package discovery

import "fmt"

// EventKind identifies the variant of a PeerEvent.
type EventKind int

const (
	// PeerDiscovered is published after a resolved peer was upserted.
	PeerDiscovered EventKind = iota + 1
	// PeerLost is published after a known peer was removed.
	PeerLost
	// ServiceStarted is published once per Created/Stopped -> Running transition.
	ServiceStarted
	// ServiceStopped is published once per Running -> Stopped transition.
	ServiceStopped
	// EventError carries a failure from the background browse loop.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case PeerDiscovered:
		return "peer_discovered"
	case PeerLost:
		return "peer_lost"
	case ServiceStarted:
		return "service_started"
	case ServiceStopped:
		return "service_stopped"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// PeerEvent is a domain event published on the event bus.
// Peer is set for PeerDiscovered and PeerLost, Err for EventError.
type PeerEvent struct {
	Kind EventKind
	Peer *Peer
	Err  error
}

// ErrorKind returns the kind of the carried error, or "" for non-error events.
func (e PeerEvent) ErrorKind() ErrorKind {
	if e.Err == nil {
		return ""
	}
	return KindOf(e.Err)
}

func (e PeerEvent) String() string {
	switch e.Kind {
	case PeerDiscovered, PeerLost:
		if e.Peer != nil {
			return fmt.Sprintf("%s %s", e.Kind, e.Peer.ID)
		}
	case EventError:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
	}
	return e.Kind.String()
}
