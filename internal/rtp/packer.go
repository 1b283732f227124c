// Package rtp packetizes an H.264 Annex-B elementary stream into RTP
// packets: single-NALU packets for units that fit the configured payload
// length, FU-A fragments for units that do not.
package rtp

import (
	"errors"
	"fmt"
)

// ErrOverflow is returned by Get when a computed packet size exceeds the
// scratch buffer capacity. The packer never truncates; this indicates a
// misconfiguration and is fatal for the session.
var ErrOverflow = errors.New("rtp: output buffer overflow")

// Defaults used by NewPacker for zero Config fields. They match the
// transport constraints of a 1500-byte MTU and the conventional dynamic
// payload type for H.264.
const (
	DefaultMaxPayloadLength = 1400
	DefaultPayloadType      = 96
	DefaultSSRC             = 1234
)

// Config carries the packetizer session parameters.
type Config struct {
	// MaxPayloadLength is the maximum number of payload bytes carried per
	// packet. It must leave room for the 12-byte RTP header plus 2 bytes
	// of FU-A framing below the transport MTU.
	MaxPayloadLength int

	// SSRC identifies the stream source across all packets of the session.
	SSRC uint32

	// PayloadType is the RTP payload type field value.
	PayloadType uint8
}

// Packer converts buffers of Annex-B NAL units into RTP packets. Usage is
// strictly Put followed by Get in a loop until Get reports exhaustion.
//
// A Packer is single-owner: it performs no locking and must not be shared
// between goroutines without external synchronization. Sequence numbers
// and the timestamp epoch persist for the lifetime of the Packer;
// scan/fragmentation state resets on every Put.
type Packer struct {
	cfg   Config
	scan  scanner
	seq   sequencer
	clock sessionClock

	// out is the scratch packet buffer reused by every Get. It is sized
	// for the largest possible packet (max payload + FU-A framing) so a
	// sane configuration can never trip ErrOverflow.
	out []byte

	cur       Nalu   // currently selected unit
	timestamp uint32 // sample clock of cur, shared by all its fragments

	fragmenting bool
	fragTotal   int // fragment count for cur
	fragIndex   int // next fragment to emit
	lastFragLen int // payload bytes in the final fragment
}

// NewPacker creates a packetizer session. Zero Config fields take the
// package defaults. The sequence counter starts at zero and the timestamp
// epoch is the moment of construction.
func NewPacker(cfg Config) *Packer {
	if cfg.MaxPayloadLength <= 0 {
		cfg.MaxPayloadLength = DefaultMaxPayloadLength
	}
	if cfg.PayloadType == 0 {
		cfg.PayloadType = DefaultPayloadType
	}
	if cfg.SSRC == 0 {
		cfg.SSRC = DefaultSSRC
	}
	return &Packer{
		cfg:   cfg,
		clock: newSessionClock(),
		out:   make([]byte, headerSize+fuHeaderSize+cfg.MaxPayloadLength),
	}
}

// Config returns the session parameters the packer was built with.
func (p *Packer) Config() Config {
	return p.cfg
}

// Put hands the packer a buffer containing one or more NAL units, each
// preceded by a 3- or 4-byte start code, in decode order. The buffer must
// remain valid and unmodified until every packet for it has been drained
// with Get. Any unconsumed packets from the previous Put are discarded.
func (p *Packer) Put(buf []byte) {
	p.scan.reset(buf)
	p.fragmenting = false
	p.fragTotal = 0
	p.fragIndex = 0
	p.lastFragLen = 0
}

// Get returns the next RTP packet for the buffer given to the last Put,
// or (nil, nil) once no packets remain. The returned slice aliases an
// internal scratch buffer and is valid only until the next Get or Put.
//
// A malformed input stream surfaces as ErrNoStartCode; a packet that
// cannot fit the scratch buffer surfaces as ErrOverflow. Both are fatal
// for the current Put.
func (p *Packer) Get() ([]byte, error) {
	if p.fragmenting {
		return p.nextFragment()
	}

	nalu, ok, err := p.scan.next()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	p.cur = nalu
	// One sample clock value per coded unit, reused for every fragment.
	p.timestamp = p.clock.sample()

	// The unit's own header byte travels in the packet framing, not the
	// payload.
	payloadLen := len(nalu.Data) - 1
	if payloadLen <= p.cfg.MaxPayloadLength {
		return p.single()
	}

	p.fragmenting = true
	p.fragIndex = 0
	p.fragTotal = (payloadLen-1)/p.cfg.MaxPayloadLength + 1
	p.lastFragLen = payloadLen - (p.fragTotal-1)*p.cfg.MaxPayloadLength
	return p.nextFragment()
}

// single emits the one packet of an unfragmented unit: 12-byte RTP header,
// rebuilt NALU header, payload. Marker is always set.
func (p *Packer) single() ([]byte, error) {
	payload := p.cur.Data[1:]
	total := headerSize + naluHeaderSize + len(payload)
	if total > len(p.out) {
		return nil, fmt.Errorf("%w: single-NALU packet of %d bytes, capacity %d", ErrOverflow, total, len(p.out))
	}

	putHeader(p.out, true, p.cfg.PayloadType, p.seq.next(), p.timestamp, p.cfg.SSRC)
	p.out[headerSize] = naluHeader(p.cur.Forbidden, p.cur.Nri, p.cur.Type)
	copy(p.out[headerSize+naluHeaderSize:], payload)
	return p.out[:total], nil
}

// nextFragment emits the fragment at fragIndex. Every fragment except the
// last carries exactly MaxPayloadLength payload bytes; the last carries
// the remainder. Marker and the FU end flag are set on the final fragment
// only, the FU start flag on the first only.
func (p *Packer) nextFragment() ([]byte, error) {
	first := p.fragIndex == 0
	last := p.fragIndex == p.fragTotal-1

	n := p.cfg.MaxPayloadLength
	if last {
		n = p.lastFragLen
	}
	total := headerSize + fuHeaderSize + n
	if total > len(p.out) {
		return nil, fmt.Errorf("%w: fragment packet of %d bytes, capacity %d", ErrOverflow, total, len(p.out))
	}

	putHeader(p.out, last, p.cfg.PayloadType, p.seq.next(), p.timestamp, p.cfg.SSRC)
	p.out[headerSize] = fuIndicator(p.cur.Forbidden, p.cur.Nri)
	p.out[headerSize+1] = fuHeader(first, last, p.cur.Type)

	off := 1 + p.fragIndex*p.cfg.MaxPayloadLength
	copy(p.out[headerSize+fuHeaderSize:], p.cur.Data[off:off+n])

	if last {
		p.fragmenting = false
	} else {
		p.fragIndex++
	}
	return p.out[:total], nil
}
