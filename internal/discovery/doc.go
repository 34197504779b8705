// Package discovery advertises the local device over multicast DNS and keeps
// a live registry of peers advertising the same service type.
//
// The package owns the orchestration layer only. The multicast protocol
// itself is reached through the Engine interface, implemented by
// internal/mdns for the grandcat/zeroconf and hashicorp/mdns libraries.
//
// # Lifecycle
//
// A Service moves through three states:
//
//	Created --Start--> Running --Stop--> Stopped --Start--> Running ...
//
// Start registers the local service, spawns the browse loop and publishes
// ServiceStarted. Stop ends the browse loop, unregisters, clears the registry
// and publishes ServiceStopped. Calling Start while running, or Stop while
// not running, succeeds without side effects.
//
// # Usage Example
//
//	svc, err := discovery.New(discovery.DefaultConfig(), mdns.Opener(mdns.BackendZeroconf, mdns.Options{}))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//
//	sub := svc.Subscribe()
//	defer sub.Close()
//	go func() {
//	    for ev := range sub.C() {
//	        fmt.Println(ev)
//	    }
//	}()
//
//	peers, err := svc.DiscoverPeers(5 * time.Second)
//
// # Events
//
// Every subscriber receives the events published after it subscribed:
//   - PeerDiscovered: a peer was resolved (again) and upserted
//   - PeerLost: a known peer was removed; carries the last known record
//   - ServiceStarted / ServiceStopped: lifecycle transitions
//   - EventError: a background failure, such as a peer without IPv4
//
// Subscribers have a bounded buffer (Config.EventBuffer). A subscriber that
// falls behind loses its oldest buffered events; Subscription.Missed reports
// how many. Publishing never blocks on a slow subscriber.
//
// # Errors
//
// Errors returned by Start, Stop and New are *Error values. Match them with
// errors.Is against ErrAdvertise, ErrAddressResolution, ErrDiscoveryFailure
// and ErrIO. Failures in the browse loop cannot be returned to a caller and
// are published as EventError instead.
//
// # Thread Safety
//
// All Service methods are safe for concurrent use. The registry allows any
// number of concurrent readers with a single writer, the browse loop.
package discovery
