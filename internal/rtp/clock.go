package rtp

import (
	"math"
	"time"
)

// ClockRate is the sample clock frequency for the H.264 payload type.
const ClockRate = 90000

// sequencer issues consecutive 16-bit sequence numbers, wrapping silently
// at 2^16.
type sequencer struct {
	n uint16
}

// next returns the sequence number for the next packet and advances the
// counter.
func (s *sequencer) next() uint16 {
	v := s.n
	s.n++
	return v
}

// sessionClock derives RTP timestamps from wall-clock time elapsed since
// the session began, at 90 kHz.
type sessionClock struct {
	epoch time.Time
	now   func() time.Time
}

func newSessionClock() sessionClock {
	return sessionClock{epoch: time.Now(), now: time.Now}
}

// sample returns the current sample clock value:
// round(elapsed milliseconds * 90).
func (c sessionClock) sample() uint32 {
	ms := float64(c.now().Sub(c.epoch)) / float64(time.Millisecond)
	return uint32(math.Round(ms * 90.0))
}
