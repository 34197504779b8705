package feed

import (
	"sort"
	"strings"
	"time"

	"github.com/qopyapp/p2pcore/internal/discovery"
)

// Message types sent on the WebSocket feed. Event messages reuse the
// discovery event kind names.
const (
	TypeWelcome = "welcome"
)

// Message is a single WebSocket frame.
type Message struct {
	Type   string     `json:"type"`
	Peer   *PeerInfo  `json:"peer,omitempty"`
	Peers  []PeerInfo `json:"peers,omitempty"`
	Error  string     `json:"error,omitempty"`
	Missed uint64     `json:"missed,omitempty"`
}

// PeerInfo is the JSON view of a discovered peer
type PeerInfo struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	DeviceType   string            `json:"device_type"`
	IP           string            `json:"ip"`
	Port         int               `json:"port"`
	ServiceType  string            `json:"service_type"`
	Properties   map[string]string `json:"properties,omitempty"`
	DiscoveredAt time.Time         `json:"discovered_at"`
}

// Stats is the /stats response body
type Stats struct {
	Peers       int `json:"peers"`
	Subscribers int `json:"subscribers"`
	Connections int `json:"connections"`
}

type errorBody struct {
	Error string `json:"error"`
}

// NewPeerInfo converts a peer into its JSON view.
func NewPeerInfo(p *discovery.Peer) PeerInfo {
	info := PeerInfo{
		ID:           p.ID,
		Name:         instanceName(p.ID),
		DeviceType:   p.DeviceType(),
		Port:         p.Port,
		ServiceType:  p.ServiceType,
		Properties:   p.Properties,
		DiscoveredAt: p.DiscoveredAt,
	}
	if p.IP != nil {
		info.IP = p.IP.String()
	}
	return info
}

// peerInfos converts and sorts peers by ID
func peerInfos(peers []*discovery.Peer) []PeerInfo {
	infos := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		infos = append(infos, NewPeerInfo(p))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// instanceName returns the first label of a full service instance name.
func instanceName(id string) string {
	name, _, _ := strings.Cut(id, ".")
	return name
}

// WelcomeMessage is the first message sent to a new client.
func WelcomeMessage(peers []*discovery.Peer) Message {
	return Message{Type: TypeWelcome, Peers: peerInfos(peers)}
}

// EventMessage converts a discovery event into a feed message. missed is the
// number of events dropped for the receiving subscriber so far.
func EventMessage(ev discovery.PeerEvent, missed uint64) Message {
	msg := Message{Type: ev.Kind.String(), Missed: missed}
	if ev.Peer != nil {
		info := NewPeerInfo(ev.Peer)
		msg.Peer = &info
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	return msg
}
