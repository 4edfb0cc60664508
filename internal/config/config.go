// Package config holds the daemon's startup configuration, populated by
// cmd/shmstore-server's flags and passed to shmstore.NewServer (or
// shmstore.Serve) — mirroring
// the teacher's DeviceParams/Options split between domain parameters
// and cross-cutting ones, but collapsed to a single struct since this
// daemon has no per-backend parameter surface to separate out.
package config

import (
	"github.com/ehrlich-b/shmstore/internal/interfaces"
)

// Config carries every knob cmd/shmstore-server exposes. There is no
// file-based layer: the teacher configures itself entirely via flags
// plus one environment-variable escape hatch, and this daemon follows
// the same minimalism.
type Config struct {
	// SocketPath is the AF_UNIX path clients connect to. Required.
	SocketPath string

	// MetricsAddr, if non-empty, starts a Prometheus /metrics HTTP
	// server on this address. Empty disables it.
	MetricsAddr string

	// ArenaSegmentSize is the size in bytes of each arena growth
	// segment. Zero means use internal/constants.DefaultArenaSegmentSize.
	ArenaSegmentSize int64

	// Logger receives debug/info/error lines from every component. May
	// be nil, in which case components log nothing.
	Logger interfaces.Logger
}

// Validate reports the first missing required field.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return errConfig("socket path is required")
	}
	return nil
}

type errConfig string

func (e errConfig) Error() string { return "config: " + string(e) }
