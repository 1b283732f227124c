package rtp

import (
	"errors"
	"fmt"
)

// ErrNoStartCode is returned by Get when the buffer handed to Put does not
// carry a valid Annex-B start code at the current scan position. The whole
// Put is considered malformed; the caller must supply a valid elementary
// stream and Put again.
var ErrNoStartCode = errors.New("rtp: no start code found at scan position")

// Nalu is a view into the caller-supplied input buffer covering one NAL
// unit, start code excluded. Data begins with the 1-byte NALU header.
// A Nalu is only valid until the next Put on the packer that produced it.
type Nalu struct {
	Data      []byte
	Forbidden uint8 // forbidden_zero_bit
	Nri       uint8 // nal_ref_idc
	Type      uint8 // nal_unit_type
}

// scanner walks an Annex-B elementary stream one NAL unit at a time.
// Units are delimited by 3-byte (00 00 01) or 4-byte (00 00 00 01) start
// codes; the stretch from the last start code to the end of the buffer is
// the final unit.
type scanner struct {
	buf  []byte
	pos  int
	done bool
}

func (s *scanner) reset(buf []byte) {
	s.buf = buf
	s.pos = 0
	s.done = false
}

// next returns the unit at the current position and advances the cursor to
// the following start code. ok is false once the buffer is exhausted. The
// cursor not sitting on a start code is a framing error, not an end
// condition.
func (s *scanner) next() (nalu Nalu, ok bool, err error) {
	if s.done {
		return Nalu{}, false, nil
	}

	sc := startCodeLen(s.buf[s.pos:])
	if sc == 0 {
		return Nalu{}, false, ErrNoStartCode
	}

	begin := s.pos + sc
	end := len(s.buf)
	for i := begin + 1; i < len(s.buf); i++ {
		if startCodeLen(s.buf[i:]) > 0 {
			end = i
			break
		}
	}

	// Report before advancing so the error repeats on every Get for
	// this Put, the same way ErrNoStartCode does.
	if begin >= end {
		return Nalu{}, false, fmt.Errorf("rtp: empty NAL unit at offset %d", s.pos)
	}

	if end == len(s.buf) {
		s.done = true
	} else {
		s.pos = end
	}

	data := s.buf[begin:end]
	return Nalu{
		Data:      data,
		Forbidden: data[0] >> 7,
		Nri:       data[0] >> 5 & 0x3,
		Type:      data[0] & 0x1f,
	}, true, nil
}

// startCodeLen reports the length of the Annex-B start code at the head of
// b: 3, 4, or 0 when b does not begin with one.
func startCodeLen(b []byte) int {
	if len(b) >= 3 && b[0] == 0 && b[1] == 0 {
		if b[2] == 1 {
			return 3
		}
		if len(b) >= 4 && b[2] == 0 && b[3] == 1 {
			return 4
		}
	}
	return 0
}
