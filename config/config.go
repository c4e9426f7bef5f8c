// Package config holds the node's runtime configuration: bind address,
// on-disk state location, and the DHT parameters (k, alpha, id width) that
// routing.Table and lookup.State take as constructor arguments.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Defaults mirror standard Kademlia parameters and the 160-bit id space.
const (
	DefaultBindAddr       = "0.0.0.0"
	DefaultBindPort       = 6881
	DefaultMaxPeers       = 50
	DefaultLogLevel       = "info"
	DefaultLogType        = "json"
	DefaultK              = 8
	DefaultAlpha          = 3
	DefaultIDWidthBits    = 160
	DefaultRepingInterval = "15m"
)

// Config is the node's full runtime configuration.
type Config struct {
	BindAddr string
	BindPort int
	ConfDir  string
	MaxPeers int

	LogLevel string // "debug", "info", "warn", "error"
	LogType  string // "json", "text"

	K              int
	Alpha          int
	IDWidthBits    int
	RepingInterval string
}

var (
	ErrInvalidPort     = errors.New("config: port out of range")
	ErrInvalidMaxPeers = errors.New("config: max_peers must be positive")
	ErrInvalidK        = errors.New("config: k must be positive")
	ErrInvalidAlpha    = errors.New("config: alpha must be positive")
	ErrInvalidIDWidth  = errors.New("config: id_width_bits must be a positive multiple of 8")
	ErrInvalidLogLevel = errors.New("config: unrecognized log level")
	ErrInvalidLogType  = errors.New("config: unrecognized log type")
)

// Default returns a Config populated with standard Kademlia defaults.
func Default() Config {
	return Config{
		BindAddr:       DefaultBindAddr,
		BindPort:       DefaultBindPort,
		ConfDir:        "~/.kadnet",
		MaxPeers:       DefaultMaxPeers,
		LogLevel:       DefaultLogLevel,
		LogType:        DefaultLogType,
		K:              DefaultK,
		Alpha:          DefaultAlpha,
		IDWidthBits:    DefaultIDWidthBits,
		RepingInterval: DefaultRepingInterval,
	}
}

// Validate checks c for internal consistency, returning the first problem
// found.
func (c Config) Validate() error {
	if c.BindPort <= 0 || c.BindPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.BindPort)
	}
	if c.MaxPeers <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxPeers, c.MaxPeers)
	}
	if c.K <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidK, c.K)
	}
	if c.Alpha <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAlpha, c.Alpha)
	}
	if c.IDWidthBits <= 0 || c.IDWidthBits%8 != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidIDWidth, c.IDWidthBits)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	switch c.LogType {
	case "json", "text":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogType, c.LogType)
	}
	return nil
}

// IDWidthBytes returns the GUID width in bytes implied by IDWidthBits.
func (c Config) IDWidthBytes() int { return c.IDWidthBits / 8 }

// ResolveConfDir expands a leading "~" in ConfDir to the user's home
// directory, matching the CLI's documented ~/.kadnet default.
func (c Config) ResolveConfDir() (string, error) {
	dir := c.ConfDir
	if dir == "" {
		dir = "~/.kadnet"
	}
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("config: cannot resolve home directory: %w", err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	return dir, nil
}

// RoutingStatePath returns the path to the persisted routing-state file
// within the resolved configuration directory.
func (c Config) RoutingStatePath() (string, error) {
	dir, err := c.ResolveConfDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "routing.state"), nil
}

// BootstrapNodesPath returns the path to the bootstrap-nodes file within
// the resolved configuration directory.
func (c Config) BootstrapNodesPath() (string, error) {
	dir, err := c.ResolveConfDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "bootstrap.nodes"), nil
}
