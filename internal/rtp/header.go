package rtp

import "encoding/binary"

const (
	// rtpVersion is the fixed RTP protocol version written into every packet.
	rtpVersion = 2

	// headerSize is the fixed RTP header length: no CSRC list, no extension.
	headerSize = 12

	// naluHeaderSize is the payload framing overhead in single-NALU mode.
	naluHeaderSize = 1

	// fuHeaderSize is the payload framing overhead in FU-A mode:
	// FU indicator + FU header.
	fuHeaderSize = 2

	// NaluTypeFuA is the NAL unit type code reserved for FU-A fragments.
	NaluTypeFuA = 28
)

// putHeader writes the fixed 12-byte RTP header. Padding, extension and
// CSRC count are always zero; multi-byte fields are network byte order.
func putHeader(b []byte, marker bool, payloadType uint8, seq uint16, timestamp, ssrc uint32) {
	b[0] = rtpVersion << 6
	b[1] = payloadType & 0x7f
	if marker {
		b[1] |= 0x80
	}
	binary.BigEndian.PutUint16(b[2:], seq)
	binary.BigEndian.PutUint32(b[4:], timestamp)
	binary.BigEndian.PutUint32(b[8:], ssrc)
}

// naluHeader rebuilds the single-NALU payload header from its decoded
// fields: forbidden(1) | nri(2) | type(5).
func naluHeader(forbidden, nri, typ uint8) byte {
	return forbidden<<7 | nri<<5 | typ&0x1f
}

// fuIndicator mirrors the original unit's forbidden/nri bits with the
// reserved FU-A type code.
func fuIndicator(forbidden, nri uint8) byte {
	return forbidden<<7 | nri<<5 | NaluTypeFuA
}

// fuHeader encodes start(1) | end(1) | reserved(1)=0 | original type(5).
func fuHeader(start, end bool, typ uint8) byte {
	b := typ & 0x1f
	if start {
		b |= 0x80
	}
	if end {
		b |= 0x40
	}
	return b
}
