package encoder

// chunker accumulates raw encoder output and releases it only at coded
// unit boundaries, so a NAL unit split across two reads is never handed
// downstream in halves. The final unit of the stream stays pending until
// the next start code proves it complete.
type chunker struct {
	pending []byte
}

// write appends raw bytes from the encoder.
func (c *chunker) write(data []byte) {
	c.pending = append(c.pending, data...)
}

// take returns every complete unit accumulated so far (with start
// codes), holding back the trailing unit whose end is not yet known.
func (c *chunker) take() []byte {
	last := lastStartCode(c.pending)
	if last <= 0 {
		return nil
	}
	out := make([]byte, last)
	copy(out, c.pending[:last])
	c.pending = append(c.pending[:0], c.pending[last:]...)
	return out
}

// flush returns everything pending, including the trailing unit. Only
// valid once the encoder has closed its output.
func (c *chunker) flush() []byte {
	out := c.pending
	c.pending = nil
	return out
}

// lastStartCode returns the offset of the last start code in buf, or -1.
func lastStartCode(buf []byte) int {
	for i := len(buf) - 3; i >= 0; i-- {
		if startCodeLen(buf[i:]) > 0 {
			// Prefer the 4-byte form when the 3-byte match is its tail.
			if i > 0 && buf[i-1] == 0 && startCodeLen(buf[i-1:]) == 4 {
				return i - 1
			}
			return i
		}
	}
	return -1
}
