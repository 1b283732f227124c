// Package output delivers packetized stream data to its destination.
package output

import "fmt"

// Sender defines the interface for packet delivery mechanisms.
// This allows us to swap between different transports:
// - UDP datagrams (one RTP packet per datagram)
// - TCP stream
// - File capture for offline inspection
type Sender interface {
	// Start opens the underlying transport
	Start() error

	// Stop cleanly shuts the transport down
	Stop() error

	// Send writes one packet to the destination
	Send(packet []byte) error

	// Name returns a human-readable name for this sender type
	Name() string

	// IsRunning returns true if the sender is currently active
	IsRunning() bool
}

// Config holds common configuration for network senders.
type Config struct {
	Host string
	Port int
}

// Addr renders the host:port pair for net.Dial.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewSender constructs the sender for a protocol name.
func NewSender(protocol string, config Config) (Sender, error) {
	switch protocol {
	case "udp":
		return NewUDPSender(config), nil
	case "tcp":
		return NewTCPSender(config), nil
	default:
		return nil, fmt.Errorf("unknown output protocol %q", protocol)
	}
}
