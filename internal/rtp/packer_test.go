package rtp

import (
	"bytes"
	"testing"
	"time"

	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// annexb concatenates units behind 4-byte start codes.
func annexb(units ...[]byte) []byte {
	var buf bytes.Buffer
	for _, u := range units {
		buf.Write([]byte{0x00, 0x00, 0x00, 0x01})
		buf.Write(u)
	}
	return buf.Bytes()
}

// drain pulls every packet for the current Put, copying each out of the
// scratch buffer.
func drain(t *testing.T, p *Packer) [][]byte {
	t.Helper()
	var out [][]byte
	for {
		pkt, err := p.Get()
		require.NoError(t, err)
		if pkt == nil {
			return out
		}
		out = append(out, append([]byte(nil), pkt...))
	}
}

// freezeClock pins the packer's sample clock to a fixed elapsed time.
func freezeClock(p *Packer, elapsed time.Duration) {
	epoch := p.clock.epoch
	p.clock.now = func() time.Time { return epoch.Add(elapsed) }
}

func parse(t *testing.T, pkt []byte) *pionrtp.Packet {
	t.Helper()
	var parsed pionrtp.Packet
	require.NoError(t, parsed.Unmarshal(pkt))
	return &parsed
}

func TestSingleUnit(t *testing.T) {
	p := NewPacker(Config{})
	freezeClock(p, 33*time.Millisecond)

	p.Put([]byte{0x00, 0x00, 0x00, 0x01, 0x67, 0xAA, 0xBB})
	pkts := drain(t, p)
	require.Len(t, pkts, 1)

	pkt := pkts[0]
	// 12-byte header + 1-byte NALU header + 2 payload bytes.
	assert.Len(t, pkt, 15)

	parsed := parse(t, pkt)
	assert.Equal(t, uint8(2), parsed.Version)
	assert.False(t, parsed.Padding)
	assert.False(t, parsed.Extension)
	assert.Empty(t, parsed.CSRC)
	assert.True(t, parsed.Marker)
	assert.Equal(t, uint8(96), parsed.PayloadType)
	assert.Equal(t, uint16(0), parsed.SequenceNumber)
	assert.Equal(t, uint32(2970), parsed.Timestamp)
	assert.Equal(t, uint32(1234), parsed.SSRC)
	assert.Equal(t, []byte{0x67, 0xAA, 0xBB}, parsed.Payload)
}

func TestGetAfterExhaustionStaysEmpty(t *testing.T) {
	p := NewPacker(Config{})
	p.Put(annexb([]byte{0x67, 0x01}))
	drain(t, p)

	for i := 0; i < 3; i++ {
		pkt, err := p.Get()
		assert.NoError(t, err)
		assert.Nil(t, pkt)
	}
}

func TestConfigDefaults(t *testing.T) {
	p := NewPacker(Config{})
	assert.Equal(t, 1400, p.Config().MaxPayloadLength)
	assert.Equal(t, uint8(96), p.Config().PayloadType)
	assert.Equal(t, uint32(1234), p.Config().SSRC)

	p = NewPacker(Config{MaxPayloadLength: 500, PayloadType: 100, SSRC: 99})
	assert.Equal(t, 500, p.Config().MaxPayloadLength)
	assert.Equal(t, uint8(100), p.Config().PayloadType)
	assert.Equal(t, uint32(99), p.Config().SSRC)
}

func TestFragmentation(t *testing.T) {
	const L = 1400
	payload := make([]byte, 3000)
	for i := range payload {
		payload[i] = byte(i)
	}
	unit := append([]byte{0x65}, payload...) // IDR slice, nri=3

	p := NewPacker(Config{MaxPayloadLength: L})
	freezeClock(p, 100*time.Millisecond)
	p.Put(annexb(unit))

	pkts := drain(t, p)
	require.Len(t, pkts, 3)

	wantSizes := []int{L, L, 200}
	var reassembled []byte
	for i, pkt := range pkts {
		parsed := parse(t, pkt)
		last := i == len(pkts)-1

		assert.Equal(t, uint16(i), parsed.SequenceNumber)
		assert.Equal(t, uint32(9000), parsed.Timestamp, "fragments share one timestamp")
		assert.Equal(t, last, parsed.Marker, "marker only on the final fragment")

		fu := parsed.Payload
		require.Len(t, fu, fuHeaderSize+wantSizes[i])
		assert.Equal(t, byte(0x7C), fu[0], "FU indicator: nri=3, type=28")
		assert.Equal(t, i == 0, fu[1]&0x80 != 0, "start flag")
		assert.Equal(t, last, fu[1]&0x40 != 0, "end flag")
		assert.Zero(t, fu[1]&0x20, "reserved bit")
		assert.Equal(t, byte(5), fu[1]&0x1f, "original unit type")

		reassembled = append(reassembled, fu[2:]...)
	}
	assert.Equal(t, payload, reassembled, "stripped fragments reproduce the unit payload")
}

func TestFragmentationExactMultiple(t *testing.T) {
	const L = 100
	unit := append([]byte{0x41}, make([]byte, 2*L)...) // payload is exactly 2L

	p := NewPacker(Config{MaxPayloadLength: L})
	p.Put(annexb(unit))

	pkts := drain(t, p)
	require.Len(t, pkts, 2, "an exact multiple must not grow a zero-length tail fragment")
	assert.Len(t, pkts[0], headerSize+fuHeaderSize+L)
	assert.Len(t, pkts[1], headerSize+fuHeaderSize+L)
	assert.Equal(t, byte(0x40), pkts[1][headerSize+1]&0xC0, "final fragment carries end, not start")
}

func TestFragmentationBoundary(t *testing.T) {
	const L = 100

	// Payload of exactly L stays a single packet.
	p := NewPacker(Config{MaxPayloadLength: L})
	p.Put(annexb(append([]byte{0x41}, make([]byte, L)...)))
	pkts := drain(t, p)
	require.Len(t, pkts, 1)
	assert.True(t, pkts[0][1]&0x80 != 0, "marker set on single packet")

	// One byte more fragments into L + 1.
	p.Put(annexb(append([]byte{0x41}, make([]byte, L+1)...)))
	pkts = drain(t, p)
	require.Len(t, pkts, 2)
	assert.Len(t, pkts[0], headerSize+fuHeaderSize+L)
	assert.Len(t, pkts[1], headerSize+fuHeaderSize+1)
}

func TestMultipleUnitsPerPut(t *testing.T) {
	p := NewPacker(Config{})
	freezeClock(p, 50*time.Millisecond)

	p.Put(annexb(
		[]byte{0x67, 0x42, 0x00},
		[]byte{0x68, 0xCE},
		[]byte{0x65, 0x88, 0x80, 0x10},
	))
	pkts := drain(t, p)
	require.Len(t, pkts, 3)

	for i, pkt := range pkts {
		parsed := parse(t, pkt)
		assert.Equal(t, uint16(i), parsed.SequenceNumber)
		assert.True(t, parsed.Marker, "unfragmented units always carry the marker")
	}
	assert.Equal(t, byte(0x67), parse(t, pkts[0]).Payload[0])
	assert.Equal(t, byte(0x68), parse(t, pkts[1]).Payload[0])
	assert.Equal(t, byte(0x65), parse(t, pkts[2]).Payload[0])
}

func TestSequenceContinuityAcrossPuts(t *testing.T) {
	p := NewPacker(Config{MaxPayloadLength: 50})

	var want uint16
	for i := 0; i < 40; i++ {
		// Alternate small and fragmenting units.
		n := 10
		if i%2 == 1 {
			n = 160
		}
		p.Put(annexb(append([]byte{0x41}, make([]byte, n)...)))
		for _, pkt := range drain(t, p) {
			assert.Equal(t, want, parse(t, pkt).SequenceNumber)
			want++
		}
	}
}

func TestSequenceWraparound(t *testing.T) {
	p := NewPacker(Config{})
	p.seq.n = 65534

	p.Put(annexb([]byte{0x41, 0x01}, []byte{0x41, 0x02}, []byte{0x41, 0x03}, []byte{0x41, 0x04}))
	pkts := drain(t, p)
	require.Len(t, pkts, 4)

	var got []uint16
	for _, pkt := range pkts {
		got = append(got, parse(t, pkt).SequenceNumber)
	}
	assert.Equal(t, []uint16{65534, 65535, 0, 1}, got)
}

func TestTimestampsNonDecreasingAcrossPuts(t *testing.T) {
	p := NewPacker(Config{})

	freezeClock(p, 0)
	p.Put(annexb([]byte{0x41, 0x01}))
	first := parse(t, drain(t, p)[0]).Timestamp

	freezeClock(p, 40*time.Millisecond)
	p.Put(annexb([]byte{0x41, 0x02}))
	second := parse(t, drain(t, p)[0]).Timestamp

	assert.Equal(t, uint32(0), first)
	assert.Equal(t, uint32(3600), second)
}

func TestTimestampPerUnitNotPerFragment(t *testing.T) {
	p := NewPacker(Config{MaxPayloadLength: 10})

	// Clock advances on every read; only the per-unit sample must differ.
	var ticks int
	epoch := p.clock.epoch
	p.clock.now = func() time.Time {
		ticks++
		return epoch.Add(time.Duration(ticks) * 10 * time.Millisecond)
	}

	p.Put(annexb(
		append([]byte{0x41}, make([]byte, 35)...),
		append([]byte{0x41}, make([]byte, 25)...),
	))
	pkts := drain(t, p)
	require.Len(t, pkts, 7) // 4 + 3 fragments

	tsA := parse(t, pkts[0]).Timestamp
	for _, pkt := range pkts[:4] {
		assert.Equal(t, tsA, parse(t, pkt).Timestamp)
	}
	tsB := parse(t, pkts[4]).Timestamp
	for _, pkt := range pkts[4:] {
		assert.Equal(t, tsB, parse(t, pkt).Timestamp)
	}
	assert.NotEqual(t, tsA, tsB)
}

func TestMalformedInput(t *testing.T) {
	p := NewPacker(Config{})
	p.Put([]byte{0x67, 0xAA, 0xBB}) // no start code anywhere

	pkt, err := p.Get()
	assert.Nil(t, pkt)
	assert.ErrorIs(t, err, ErrNoStartCode)

	// Not retried: the same Put keeps failing.
	_, err = p.Get()
	assert.ErrorIs(t, err, ErrNoStartCode)

	// A valid Put afterwards recovers the session.
	p.Put(annexb([]byte{0x41, 0x01}))
	pkts := drain(t, p)
	assert.Len(t, pkts, 1)
}

func TestEmptyPutIsMalformed(t *testing.T) {
	p := NewPacker(Config{})
	p.Put(nil)

	_, err := p.Get()
	assert.ErrorIs(t, err, ErrNoStartCode)
}

func TestOverflowReported(t *testing.T) {
	p := NewPacker(Config{MaxPayloadLength: 100})
	// Force the misconfiguration the capacity check guards against.
	p.out = p.out[:20]

	p.Put(annexb(append([]byte{0x41}, make([]byte, 50)...)))
	pkt, err := p.Get()
	assert.Nil(t, pkt)
	assert.ErrorIs(t, err, ErrOverflow)

	p.Put(annexb(append([]byte{0x41}, make([]byte, 300)...)))
	pkt, err = p.Get()
	assert.Nil(t, pkt)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestScratchBufferSizedForWorstCase(t *testing.T) {
	// The redesign: fragment framing overhead can never outgrow the
	// scratch buffer, whatever MaxPayloadLength is configured.
	for _, l := range []int{1, 100, 1400, 9000, 65000} {
		p := NewPacker(Config{MaxPayloadLength: l})
		assert.GreaterOrEqual(t, len(p.out), headerSize+fuHeaderSize+l)
	}
}

func TestScratchReuseAcrossGets(t *testing.T) {
	p := NewPacker(Config{})
	p.Put(annexb([]byte{0x41, 0x01}, []byte{0x41, 0x02}))

	first, err := p.Get()
	require.NoError(t, err)
	firstCopy := append([]byte(nil), first...)

	second, err := p.Get()
	require.NoError(t, err)
	require.NotNil(t, second)

	// The first slice aliases the scratch buffer and has been overwritten.
	assert.NotEqual(t, firstCopy, first)
}
