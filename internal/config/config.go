package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Backend modes.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// Config holds the resolved settings for one running session. It is built once
// by the command layer and handed to the components that talk to devices or
// servers.
type Config struct {
	BackendMode    string        // local drives devices in-process, remote talks to a `polyfield serve` instance
	BackendAddress string        // host:port of the remote device server
	RequestTimeout time.Duration // upper bound for a single remote call

	EventServerAddress string        // host:port of the competition event server
	CacheFile          string        // json file holding results that could not be posted
	CacheRetry         time.Duration // interval between resend attempts

	ListenAddress string // http listen address for `polyfield serve`
	DBPath        string // sqlite database; empty keeps everything in memory

	LogLevel  string
	LogFormat string

	HeatmapWidth  int
	HeatmapHeight int

	Demo bool
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		BackendMode:    BackendLocal,
		BackendAddress: "127.0.0.1:8080",
		RequestTimeout: 30 * time.Second,
		CacheFile:      "polyfield_cache.json",
		CacheRetry:     30 * time.Second,
		ListenAddress:  ":8080",
		LogLevel:       "info",
		LogFormat:      "console",
		HeatmapWidth:   800,
		HeatmapHeight:  600,
	}
}

// Validate checks the values that would otherwise fail late.
func (c Config) Validate() error {
	switch c.BackendMode {
	case BackendLocal:
	case BackendRemote:
		if _, _, err := net.SplitHostPort(c.BackendAddress); err != nil {
			return fmt.Errorf("invalid backend address %q: %w", c.BackendAddress, err)
		}
	default:
		return fmt.Errorf("unknown backend mode %q: expected %s or %s", c.BackendMode, BackendLocal, BackendRemote)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.CacheRetry <= 0 {
		return fmt.Errorf("cache retry interval must be positive, got %s", c.CacheRetry)
	}
	if c.HeatmapWidth <= 0 || c.HeatmapHeight <= 0 {
		return fmt.Errorf("invalid heatmap size %dx%d", c.HeatmapWidth, c.HeatmapHeight)
	}
	return nil
}

// WithEventServer returns a copy pointing at a different event server.
func (c Config) WithEventServer(ip string, port int) Config {
	c.EventServerAddress = net.JoinHostPort(ip, strconv.Itoa(port))
	return c
}
