// Package logging provides structured logging for the qopy discovery tools.
//
// This package wraps a global zap logger with convenience functions for the
// logging patterns used by the discovery service, the event feed and the CLI.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: Detailed debugging info (raw browse events, WebSocket frames)
//   - Info: Normal operations (service start/stop, peers found and lost)
//   - Warn: Non-fatal issues (unregister failures, lagging subscribers)
//   - Error: Fatal issues (startup failures, listener errors)
//
// Logging is silent unless a level is given, either explicitly or through
// the QOPY_LOG_LEVEL environment variable:
//
//	if err := logging.InitializeFromEnv(); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// # Component Loggers
//
// Long-lived components take a named child logger:
//
//	svc, err := discovery.New(cfg, opener,
//	    discovery.WithLogger(logging.Named("discovery")))
//
// # Specialized Logging
//
//	logging.LogPeerEvent("peer_discovered", peer.ID, peer.Addr(), nil)
//	logging.LogConnection(remoteAddr, "websocket_upgraded")
//	logging.LogHTTPRequest(remoteAddr, r.Method, r.URL.Path, status)
//
// # Output Format
//
// Logs are written to stderr in console format so that command output on
// stdout stays machine readable.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use.
package logging
