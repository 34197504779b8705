package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/qopyapp/p2pcore/internal/mdns"
)

const (
	appName    = "qopy"
	configFile = "config.yaml"
)

// Mutex for thread-safe file operations
var fileMutex sync.Mutex

// GetConfigDir returns the OS-appropriate configuration directory for the application.
// This follows platform conventions:
//   - Linux: $XDG_CONFIG_HOME/qopy or $HOME/.config/qopy
//   - macOS: $HOME/.config/qopy (following XDG convention on macOS)
//   - Windows: %LOCALAPPDATA%\qopy
func GetConfigDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			// Fallback to USERPROFILE\AppData\Local if LOCALAPPDATA not set
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
			}
			baseDir = filepath.Join(userProfile, "AppData", "Local", appName)
		} else {
			baseDir = filepath.Join(localAppData, appName)
		}

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".config", appName)

	default:
		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome != "" {
			baseDir = filepath.Join(xdgConfigHome, appName)
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("cannot determine home directory: %w", err)
			}
			baseDir = filepath.Join(homeDir, ".config", appName)
		}
	}

	return baseDir, nil
}

// GetConfigPath returns the full path to the configuration file.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, configFile), nil
}

// Load reads the configuration file at path. An empty path means the
// default location. A missing file yields NewFile().
func Load(path string) (*File, error) {
	if path == "" {
		var err error
		if path, err = GetConfigPath(); err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewFile(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes a configuration file and fills in defaults.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if f.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version: %d (expected %d)", f.Version, CurrentVersion)
	}

	f.fillDefaults()
	return &f, nil
}

// Validate reports every invalid setting at once.
func (f *File) Validate() error {
	var err error
	if f.DeviceID != "" {
		if _, perr := uuid.Parse(f.DeviceID); perr != nil {
			err = multierr.Append(err, fmt.Errorf("device_id %q is not a UUID: %w", f.DeviceID, perr))
		}
	}
	err = multierr.Append(err, f.DiscoveryConfig().Validate())
	if _, berr := mdns.ParseBackend(f.Discovery.Backend); berr != nil {
		err = multierr.Append(err, berr)
	}
	if f.Discovery.SweepInterval < 0 {
		err = multierr.Append(err, fmt.Errorf("sweep_interval must not be negative, got %s", f.Discovery.SweepInterval))
	}
	if f.Discovery.MissThreshold < 0 {
		err = multierr.Append(err, fmt.Errorf("miss_threshold must not be negative, got %d", f.Discovery.MissThreshold))
	}
	return err
}

// Marshal renders the file as YAML with a header comment.
func (f *File) Marshal(location string) ([]byte, error) {
	data, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# qopy discovery configuration
# device_id is generated once and advertised as the "id" TXT property.
# Durations use Go syntax, e.g. 10s, 1m30s.
#
# Location: ` + location + `

`)
	return append(header, data...), nil
}

// Save writes the file to path, or the default location when path is
// empty. Performs an atomic write to prevent corruption on crash.
func (f *File) Save(path string) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if path == "" {
		var err error
		if path, err = GetConfigPath(); err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
	}

	// Create directory with user-only permissions (0700)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := f.Marshal(path)
	if err != nil {
		return err
	}

	// Write to temporary file first (atomic write)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		// Clean up temp file on error
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}

	return nil
}
