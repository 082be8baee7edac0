// Package grpcstream is the gRPC bidirectional streaming transport
// (spec.md §4.6.1): one internal/wire Connect stream per agent,
// framed by the real google.golang.org/grpc runtime via the
// hand-written internal/wire.ServiceDesc and JSON codec.
package grpcstream

import "time"

// Config controls the streaming transport's timing and framing.
type Config struct {
	// ListenAddr is the host:port the gRPC server binds to.
	ListenAddr string
	// HeartbeatInterval is how often a connected agent is expected to
	// send a KindHeartbeat envelope.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is the maximum silence before a connection is
	// considered dead and evicted; spec.md §4.6.1 defaults this to 3x
	// HeartbeatInterval.
	HeartbeatTimeout time.Duration
	// MaxMessageSize caps both send and receive frame sizes.
	MaxMessageSize int
}

// DefaultConfig returns the spec.md §4.6.1 defaults.
func DefaultConfig(listenAddr string) Config {
	return Config{
		ListenAddr:        listenAddr,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
		MaxMessageSize:    100 << 20,
	}
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 3 * c.HeartbeatInterval
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 100 << 20
	}
	return c
}
