package output

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/camkit/camkit/internal/logger"
)

// TCPSender delivers packets over a TCP connection. Each packet is
// preceded by a 2-byte big-endian length so the receiver can recover
// packet boundaries from the byte stream, matching the RTP-over-TCP
// framing of RFC 4571.
type TCPSender struct {
	config Config

	mu      sync.RWMutex
	conn    net.Conn
	running bool

	packetCount uint64
	byteCount   uint64
}

// NewTCPSender creates a TCP sender for the given destination.
func NewTCPSender(config Config) *TCPSender {
	return &TCPSender{config: config}
}

// Start connects to the destination.
func (t *TCPSender) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("TCP sender already running")
	}

	conn, err := net.Dial("tcp", t.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", t.config.Addr(), err)
	}

	t.conn = conn
	t.running = true
	t.packetCount = 0
	t.byteCount = 0

	logger.WithComponent("output").Info().Str("dest", t.config.Addr()).Msg("TCP sender started")
	return nil
}

// Stop closes the connection.
func (t *TCPSender) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}
	t.running = false

	err := t.conn.Close()
	t.conn = nil

	logger.WithComponent("output").Info().
		Uint64("packets", t.packetCount).
		Uint64("bytes", t.byteCount).
		Msg("TCP sender stopped")
	return err
}

// Send writes one length-prefixed packet.
func (t *TCPSender) Send(packet []byte) error {
	if len(packet) > 0xffff {
		return fmt.Errorf("packet of %d bytes exceeds framing limit", len(packet))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return fmt.Errorf("TCP sender not running")
	}

	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(packet)))
	if _, err := t.conn.Write(prefix[:]); err != nil {
		return fmt.Errorf("TCP write failed: %w", err)
	}
	if _, err := t.conn.Write(packet); err != nil {
		return fmt.Errorf("TCP write failed: %w", err)
	}
	t.packetCount++
	t.byteCount += uint64(len(packet) + 2)
	return nil
}

// Name returns a human-readable name for this sender type.
func (t *TCPSender) Name() string {
	return "tcp"
}

// IsRunning returns true if the sender is currently active.
func (t *TCPSender) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}
