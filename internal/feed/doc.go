// Package feed exposes the discovery state of a running node over HTTP.
//
// The server is a thin read-only view over a discovery service. It never
// mutates the peer registry and never blocks the browse loop: every
// WebSocket client owns its own event subscription, and a client that falls
// behind loses its oldest buffered events rather than stalling others.
//
// # Routes
//
//	GET /health       plain-text "OK"
//	GET /stats        {"peers":N,"subscribers":M,"connections":K}
//	GET /peers        JSON array of known peers, sorted by id
//	GET /peers/{id}   a single peer, 404 when unknown
//	GET /metrics      Prometheus exposition (when a handler is configured)
//	GET /ws           live event stream
//
// # WebSocket Protocol
//
// Every frame is a JSON text message. The first message is always a
// "welcome" carrying the current peer snapshot; each later message mirrors
// one discovery event:
//
//	{"type":"welcome","peers":[...]}
//	{"type":"peer_discovered","peer":{...}}
//	{"type":"peer_lost","peer":{...}}
//	{"type":"service_started"}
//	{"type":"service_stopped"}
//	{"type":"error","error":"resolve: address_resolution: ..."}
//
// "missed" is set when events were dropped for this client. Incoming
// messages are read and discarded; they only keep the connection alive.
// The server pings every 54 seconds and drops clients that do not answer
// within 60 seconds.
//
// # Usage Example
//
//	srv := feed.New(&feed.Config{Addr: ":8787", MetricsHandler: collector.Handler()}, svc)
//	if err := srv.ListenAndServe(ctx); err != nil {
//	    log.Fatal(err)
//	}
package feed
