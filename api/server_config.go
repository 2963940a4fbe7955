package api

import (
	"log/slog"
	"time"
)

// ServerConfig configures the ledger API server process.
type ServerConfig struct {
	// ListenAddr serves the ledger API.
	ListenAddr string

	// MetricsAddr serves Prometheus metrics. Empty disables them.
	MetricsAddr string

	// EnablePprof mounts /debug/pprof next to the API.
	EnablePprof bool

	Log *slog.Logger

	Timeouts ServerTimeouts

	// MaxPayloadSize caps a single upload to the payload hosting endpoints.
	// Zero keeps the handler's default.
	MaxPayloadSize int64
}

// ServerTimeouts bound request handling and the shutdown sequence.
type ServerTimeouts struct {
	Read  time.Duration
	Write time.Duration

	// Drain is how long /readyz reports not ready before the listener
	// stops, so load balancers move traffic away first.
	Drain time.Duration

	// Shutdown bounds how long in-flight requests may finish.
	Shutdown time.Duration
}

// DefaultServerTimeouts leaves room for deliveries that wait on a mined
// payment before responding.
func DefaultServerTimeouts() ServerTimeouts {
	return ServerTimeouts{
		Read:     60 * time.Second,
		Write:    3 * time.Minute,
		Drain:    45 * time.Second,
		Shutdown: 30 * time.Second,
	}
}
