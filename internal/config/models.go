package config

import (
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/qopyapp/p2pcore/internal/discovery"
	"github.com/qopyapp/p2pcore/internal/mdns"
)

// CurrentVersion is the config file format version
const CurrentVersion = 1

// DeviceIDProperty is the TXT property carrying the persistent device id
const DeviceIDProperty = "id"

// DefaultFeedListen is the default address of the event feed server
const DefaultFeedListen = ":8787"

// File represents the entire user configuration file.
type File struct {
	Version   int               `yaml:"version" json:"version"`
	DeviceID  string            `yaml:"device_id" json:"device_id"` // Persistent identity, advertised as TXT "id"
	Discovery *DiscoverySection `yaml:"discovery" json:"discovery"`
	Feed      *FeedSection      `yaml:"feed,omitempty" json:"feed,omitempty"`
	Log       *LogSection       `yaml:"log,omitempty" json:"log,omitempty"`
}

// DiscoverySection holds the discovery.Config fields plus engine tuning.
type DiscoverySection struct {
	ServiceType      string            `yaml:"service_type" json:"service_type"`
	ServiceName      string            `yaml:"service_name" json:"service_name"`
	Port             int               `yaml:"port" json:"port"`
	Properties       map[string]string `yaml:"properties,omitempty" json:"properties,omitempty"`
	DiscoveryTimeout time.Duration     `yaml:"discovery_timeout" json:"discovery_timeout"`
	AnnounceInterval time.Duration     `yaml:"announce_interval" json:"announce_interval"` // Accepted, not acted upon
	EventBuffer      int               `yaml:"event_buffer" json:"event_buffer"`

	Backend       string        `yaml:"backend" json:"backend"`                         // "zeroconf" or "hashicorp"
	Interface     string        `yaml:"interface,omitempty" json:"interface,omitempty"` // Restrict mDNS to one interface
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	MissThreshold int           `yaml:"miss_threshold" json:"miss_threshold"`
}

// FeedSection configures the HTTP/WebSocket event feed.
type FeedSection struct {
	Listen string `yaml:"listen" json:"listen"`
}

// LogSection configures logging. An empty level defers to QOPY_LOG_LEVEL.
type LogSection struct {
	Level string `yaml:"level,omitempty" json:"level,omitempty"`
}

// NewFile creates a File with default values and a fresh device id.
func NewFile() *File {
	id := uuid.NewString()
	f := &File{
		Version:  CurrentVersion,
		DeviceID: id,
	}
	f.fillDefaults()
	f.Discovery.ServiceName = "qopy-" + id[:8]
	return f
}

func defaultDiscoverySection() *DiscoverySection {
	d := discovery.DefaultConfig()
	return &DiscoverySection{
		ServiceType:      d.ServiceType,
		ServiceName:      d.ServiceName,
		Port:             d.Port,
		Properties:       map[string]string{},
		DiscoveryTimeout: d.DiscoveryTimeout,
		AnnounceInterval: d.AnnounceInterval,
		EventBuffer:      d.EventBuffer,
		Backend:          string(mdns.BackendZeroconf),
		SweepInterval:    mdns.DefaultSweepInterval,
		MissThreshold:    mdns.DefaultMissThreshold,
	}
}

// fillDefaults replaces missing sections and zero values with defaults.
func (f *File) fillDefaults() {
	def := defaultDiscoverySection()
	if f.Discovery == nil {
		f.Discovery = def
	} else {
		d := f.Discovery
		if d.ServiceType == "" {
			d.ServiceType = def.ServiceType
		}
		if d.ServiceName == "" {
			d.ServiceName = def.ServiceName
		}
		if d.Port == 0 {
			d.Port = def.Port
		}
		if d.Properties == nil {
			d.Properties = map[string]string{}
		}
		if d.DiscoveryTimeout == 0 {
			d.DiscoveryTimeout = def.DiscoveryTimeout
		}
		if d.AnnounceInterval == 0 {
			d.AnnounceInterval = def.AnnounceInterval
		}
		if d.EventBuffer == 0 {
			d.EventBuffer = def.EventBuffer
		}
		if d.Backend == "" {
			d.Backend = def.Backend
		}
		if d.SweepInterval == 0 {
			d.SweepInterval = def.SweepInterval
		}
		if d.MissThreshold == 0 {
			d.MissThreshold = def.MissThreshold
		}
	}
	if f.Feed == nil {
		f.Feed = &FeedSection{}
	}
	if f.Feed.Listen == "" {
		f.Feed.Listen = DefaultFeedListen
	}
	if f.Log == nil {
		f.Log = &LogSection{}
	}
}

// DiscoveryConfig maps the file onto a discovery.Config. The device id is
// added as the "id" property unless the properties already set one.
func (f *File) DiscoveryConfig() discovery.Config {
	d := f.Discovery
	props := maps.Clone(d.Properties)
	if props == nil {
		props = map[string]string{}
	}
	if _, ok := props[DeviceIDProperty]; !ok && f.DeviceID != "" {
		props[DeviceIDProperty] = f.DeviceID
	}
	return discovery.Config{
		ServiceType:      d.ServiceType,
		ServiceName:      d.ServiceName,
		Port:             d.Port,
		Properties:       props,
		DiscoveryTimeout: d.DiscoveryTimeout,
		AnnounceInterval: d.AnnounceInterval,
		EventBuffer:      d.EventBuffer,
	}
}

// EngineOptions returns the mDNS engine tuning from the file.
func (f *File) EngineOptions() mdns.Options {
	return mdns.Options{
		SweepInterval: f.Discovery.SweepInterval,
		MissThreshold: f.Discovery.MissThreshold,
		Interface:     f.Discovery.Interface,
	}
}
