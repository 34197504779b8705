package mdns

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
	hmdns "github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qopyapp/p2pcore/internal/discovery"
)

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"", BackendZeroconf, false},
		{"zeroconf", BackendZeroconf, false},
		{"hashicorp", BackendHashicorp, false},
		{"avahi", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackend(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBackend(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseBackend(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	_, err := Open("avahi", Options{})
	assert.Error(t, err)

	_, err = Open(BackendZeroconf, Options{Interface: "does-not-exist0"})
	assert.Error(t, err)

	for _, backend := range []Backend{BackendZeroconf, BackendHashicorp} {
		engine, err := Open(backend, Options{Logger: zap.NewNop()})
		require.NoError(t, err)
		assert.NoError(t, engine.Close())
	}
}

func TestOpener_WrapsOpenFailureAsAdvertiseError(t *testing.T) {
	_, err := discovery.New(discovery.DefaultConfig(), Opener("avahi", Options{}))
	assert.ErrorIs(t, err, discovery.ErrAdvertise)
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, DefaultSweepInterval, opts.SweepInterval)
	assert.Equal(t, DefaultMissThreshold, opts.MissThreshold)
	assert.NotNil(t, opts.Logger)
	assert.NotNil(t, opts.clock)
}

func TestEngines_RejectInvalidInput(t *testing.T) {
	for _, backend := range []Backend{BackendZeroconf, BackendHashicorp} {
		t.Run(string(backend), func(t *testing.T) {
			engine, err := Open(backend, Options{Logger: zap.NewNop()})
			require.NoError(t, err)

			err = engine.Register(discovery.Registration{
				ServiceType: "qopyapp",
				ServiceName: "alice",
				HostName:    "alice.local.",
				IP:          net.ParseIP("10.0.0.5"),
				Port:        8080,
			})
			assert.ErrorIs(t, err, discovery.ErrInvalidServiceType)

			err = engine.Register(discovery.Registration{
				ServiceType: discovery.DefaultServiceType,
				ServiceName: "alice",
				HostName:    "alice.local.",
				Port:        8080,
			})
			assert.Error(t, err, "registration without IP")

			_, err = engine.Browse(context.Background(), "_bad")
			assert.ErrorIs(t, err, discovery.ErrInvalidServiceType)

			err = engine.Unregister("nobody")
			assert.True(t, errors.Is(err, ErrNotRegistered), "Unregister() = %v", err)

			require.NoError(t, engine.Close())
			require.NoError(t, engine.Close())

			err = engine.Register(discovery.Registration{
				ServiceType: discovery.DefaultServiceType,
				ServiceName: "alice",
				HostName:    "alice.local.",
				IP:          net.ParseIP("10.0.0.5"),
				Port:        8080,
			})
			assert.ErrorIs(t, err, ErrEngineClosed)
		})
	}
}

func TestRecordFromZeroconf(t *testing.T) {
	entry := zeroconf.NewServiceEntry("alice", "_qopyapp._tcp", "local.")
	entry.HostName = "alice.local."
	entry.Port = 8080
	entry.AddrIPv4 = []net.IP{net.ParseIP("10.0.0.5")}
	entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::5")}
	entry.Text = []string{"device_type=phone", "flag"}

	rec := recordFromZeroconf(entry)

	assert.Equal(t, "alice._qopyapp._tcp.local.", rec.FullName)
	assert.Equal(t, "_qopyapp._tcp.local.", rec.ServiceType)
	assert.Equal(t, "alice.local.", rec.HostName)
	assert.Equal(t, 8080, rec.Port)
	require.Len(t, rec.Addresses, 2)
	assert.Equal(t, "10.0.0.5", rec.Addresses[0].String())
	assert.Equal(t, []discovery.Property{
		{Key: "device_type", Value: []byte("phone")},
		{Key: "flag"},
	}, rec.Properties)
}

func TestRecordFromHashicorp(t *testing.T) {
	entry := &hmdns.ServiceEntry{
		Name:       "bob._qopyapp._tcp.local.",
		Host:       "bob.local.",
		AddrV4:     net.ParseIP("10.0.0.6"),
		AddrV6:     net.ParseIP("fe80::6"),
		Port:       9000,
		InfoFields: []string{"device_type=desktop"},
	}

	rec := recordFromHashicorp(entry, "_qopyapp._tcp.local.")

	assert.Equal(t, "bob._qopyapp._tcp.local.", rec.FullName)
	assert.Equal(t, "_qopyapp._tcp.local.", rec.ServiceType)
	assert.Equal(t, "bob.local.", rec.HostName)
	assert.Equal(t, 9000, rec.Port)
	require.Len(t, rec.Addresses, 2)
	assert.Equal(t, "10.0.0.6", rec.Addresses[0].String())
	assert.Equal(t, "fe80::6", rec.Addresses[1].String())
	assert.Equal(t, []discovery.Property{{Key: "device_type", Value: []byte("desktop")}}, rec.Properties)

	rec = recordFromHashicorp(&hmdns.ServiceEntry{Name: "x._qopyapp._tcp.local."}, "_qopyapp._tcp.local.")
	assert.Empty(t, rec.Addresses)
}
