// Package mdns implements discovery.Engine on top of real multicast DNS
// libraries.
//
// Two backends are available:
//   - BackendZeroconf (default): github.com/grandcat/zeroconf
//   - BackendHashicorp: github.com/hashicorp/mdns
//
// # Browsing
//
// Neither library reports departures; cached records are simply dropped
// when their TTL expires. Browse therefore runs repeated sweeps of
// Options.SweepInterval. Every instance seen in a sweep is reported as
// RawResolved when it is new or its host, port, addresses or TXT record
// changed. An instance missing from Options.MissThreshold consecutive
// sweeps is reported as RawRemoved.
//
// With the defaults (3s sweeps, 3 misses) a peer that disappears is
// reported lost after roughly nine seconds.
//
// # Usage Example
//
//	engine, err := mdns.Open(mdns.BackendZeroconf, mdns.Options{Interface: "en0"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	events, err := engine.Browse(ctx, "_qopyapp._tcp.local.")
//	for ev := range events {
//	    fmt.Println(ev.Kind, ev.Record.FullName, ev.Name)
//	}
//
// Most callers hand Opener to discovery.New instead of using an engine
// directly.
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Peers must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package mdns
