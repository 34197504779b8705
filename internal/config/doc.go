// Package config provides user configuration management for the qopy
// discovery tools.
//
// This package manages a YAML configuration file holding the discovery
// settings (service identity, port, advertised properties, timeouts), the
// mDNS engine tuning, the event feed address, the log level, and a
// persistent device id. The configuration follows OS-specific conventions
// for storage location.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/qopy/config.yaml or $HOME/.config/qopy/config.yaml
//   - macOS: $HOME/.config/qopy/config.yaml
//   - Windows: %LOCALAPPDATA%\qopy\config.yaml
//
// # File Format
//
//	version: 1
//	device_id: 6f1c0b9e-4f7e-4d53-9b8a-1f0d2c3b4a59
//	discovery:
//	  service_type: _qopyapp._tcp.local.
//	  service_name: qopy-6f1c0b9e
//	  port: 8080
//	  properties:
//	    device_type: desktop
//	  discovery_timeout: 10s
//	  announce_interval: 30s
//	  event_buffer: 100
//	  backend: zeroconf
//	  sweep_interval: 3s
//	  miss_threshold: 3
//	feed:
//	  listen: :8787
//	log:
//	  level: info
//
// Missing sections and zero values fall back to the defaults.
//
// # Usage Example
//
//	file, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := file.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//
//	svc, err := discovery.New(file.DiscoveryConfig(),
//	    mdns.Opener(mdns.Backend(file.Discovery.Backend), file.EngineOptions()))
//
// # Thread Safety
//
// File writes are protected by a mutex and are atomic.
package config
