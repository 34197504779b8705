// Package ui provides terminal UI components for the qopy-discover CLI.
//
// One-shot commands use a Printer to render a Header, a peer table and a
// Result box. The live views are Bubble Tea models:
//
//   - ScanModel: a progress bar over the fixed sampling window of a scan,
//     with a running count of peers seen so far
//   - WatchModel: a continuously updated peer table with a scrolling event
//     log and a periodic status line
//
// Both models read from a discovery.Subscription and never touch the
// registry directly; the peer table is rebuilt from the service snapshot
// on every event.
//
// # Logging Integration
//
// This package expects logging to be controlled via the QOPY_LOG_LEVEL
// environment variable. When unset or empty, zap logging is silent, allowing
// the curated UI output to be displayed cleanly.
package ui
