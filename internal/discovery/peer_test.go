package discovery

import (
	"net"
	"testing"
)

func TestPeer_String(t *testing.T) {
	peer := &Peer{
		ID:   "alice._qopyapp._tcp.local.",
		IP:   net.ParseIP("10.0.0.5"),
		Port: 8080,
	}

	expected := "Peer alice._qopyapp._tcp.local. at 10.0.0.5:8080"
	if peer.String() != expected {
		t.Errorf("Peer.String() = %v, want %v", peer.String(), expected)
	}
}

func TestPeer_DeviceType(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]string
		want  string
	}{
		{"nil properties", nil, "unknown"},
		{"missing key", map[string]string{"os": "linux"}, "unknown"},
		{"empty value", map[string]string{"device_type": ""}, "unknown"},
		{"advertised", map[string]string{"device_type": "phone"}, "phone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			peer := &Peer{Properties: tt.props}
			if got := peer.DeviceType(); got != tt.want {
				t.Errorf("Peer.DeviceType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPeer_Clone(t *testing.T) {
	orig := &Peer{
		ID:         "bob",
		IP:         net.ParseIP("10.0.0.6").To4(),
		Port:       9000,
		Properties: map[string]string{"k": "v"},
	}

	c := orig.Clone()
	c.IP[3] = 99
	c.Properties["k"] = "changed"

	if orig.IP.String() != "10.0.0.6" {
		t.Errorf("original IP changed to %v", orig.IP)
	}
	if orig.Property("k") != "v" {
		t.Errorf("original property changed to %v", orig.Property("k"))
	}

	var nilPeer *Peer
	if nilPeer.Clone() != nil {
		t.Error("Clone of nil peer should be nil")
	}
}

func TestDecodeProperties(t *testing.T) {
	props := decodeProperties([]Property{
		{Key: "name", Value: []byte("alice")},
		{Key: "flag"},
		{Key: "empty", Value: []byte{}},
		{Key: "bad", Value: []byte{'o', 'k', 0xff}},
		{Key: "name", Value: []byte("second")},
	})

	want := map[string]string{"name": "alice", "empty": "", "bad": "ok�"}
	if len(props) != len(want) {
		t.Fatalf("decodeProperties() = %v, want %v", props, want)
	}
	for k, v := range want {
		if props[k] != v {
			t.Errorf("props[%q] = %q, want %q", k, props[k], v)
		}
	}
}

func TestFirstIPv4(t *testing.T) {
	tests := []struct {
		name  string
		addrs []string
		want  string
	}{
		{"ipv4 first", []string{"10.0.0.1", "fe80::1"}, "10.0.0.1"},
		{"ipv6 then ipv4", []string{"2001:db8::1", "192.168.1.2"}, "192.168.1.2"},
		{"ipv6 only", []string{"2001:db8::1"}, ""},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var addrs []net.IP
			for _, a := range tt.addrs {
				addrs = append(addrs, net.ParseIP(a))
			}
			got := firstIPv4(addrs)
			if tt.want == "" {
				if got != nil {
					t.Errorf("firstIPv4() = %v, want nil", got)
				}
				return
			}
			if got.String() != tt.want {
				t.Errorf("firstIPv4() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPeerEvent_String(t *testing.T) {
	ev := PeerEvent{Kind: PeerLost, Peer: &Peer{ID: "bob"}}
	if got := ev.String(); got != "peer_lost bob" {
		t.Errorf("PeerEvent.String() = %v, want peer_lost bob", got)
	}
	if got := (PeerEvent{Kind: ServiceStarted}).String(); got != "service_started" {
		t.Errorf("PeerEvent.String() = %v, want service_started", got)
	}
}
