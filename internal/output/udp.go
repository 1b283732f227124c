package output

import (
	"fmt"
	"net"
	"sync"

	"github.com/camkit/camkit/internal/logger"
)

// UDPSender delivers each packet as one UDP datagram. The socket is
// connected so the kernel fills in the destination and errors surface on
// Send instead of silently vanishing.
type UDPSender struct {
	config Config

	mu      sync.RWMutex
	conn    *net.UDPConn
	running bool

	packetCount uint64
	byteCount   uint64
}

// NewUDPSender creates a UDP sender for the given destination.
func NewUDPSender(config Config) *UDPSender {
	return &UDPSender{config: config}
}

// Start resolves the destination and connects the socket.
func (u *UDPSender) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.running {
		return fmt.Errorf("UDP sender already running")
	}

	addr, err := net.ResolveUDPAddr("udp", u.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", u.config.Addr(), err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", u.config.Addr(), err)
	}

	u.conn = conn
	u.running = true
	u.packetCount = 0
	u.byteCount = 0

	logger.WithComponent("output").Info().Str("dest", u.config.Addr()).Msg("UDP sender started")
	return nil
}

// Stop closes the socket.
func (u *UDPSender) Stop() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.running {
		return nil
	}
	u.running = false

	err := u.conn.Close()
	u.conn = nil

	logger.WithComponent("output").Info().
		Uint64("packets", u.packetCount).
		Uint64("bytes", u.byteCount).
		Msg("UDP sender stopped")
	return err
}

// Send writes one packet as a single datagram.
func (u *UDPSender) Send(packet []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.running {
		return fmt.Errorf("UDP sender not running")
	}
	n, err := u.conn.Write(packet)
	if err != nil {
		return fmt.Errorf("UDP write failed: %w", err)
	}
	u.packetCount++
	u.byteCount += uint64(n)
	return nil
}

// Name returns a human-readable name for this sender type.
func (u *UDPSender) Name() string {
	return "udp"
}

// IsRunning returns true if the sender is currently active.
func (u *UDPSender) IsRunning() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.running
}
