package overlay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blankLuma(width, height int) []byte {
	frame := make([]byte, width*height*3/2)
	for i := 0; i < width*height; i++ {
		frame[i] = 128
	}
	return frame
}

func countChanged(frame []byte, width, height int) int {
	n := 0
	for i := 0; i < width*height; i++ {
		if frame[i] != 128 {
			n++
		}
	}
	return n
}

func TestDrawTextMarksPixels(t *testing.T) {
	const w, h = 160, 48
	frame := blankLuma(w, h)

	ts := New(Params{X: 10, Y: 10})
	require.NoError(t, ts.DrawText(frame, w, h, "AB"))

	var bright, dark int
	for i := 0; i < w*h; i++ {
		switch frame[i] {
		case textLuma:
			bright++
		case boxLuma:
			dark++
		}
	}
	assert.Greater(t, bright, 10, "glyph pixels rendered")
	assert.Greater(t, dark, 20, "backing box rendered")
}

func TestDrawTextStaysInsideBounds(t *testing.T) {
	const w, h = 160, 48
	frame := blankLuma(w, h)

	ts := New(Params{X: 40, Y: 12})
	require.NoError(t, ts.DrawText(frame, w, h, "X"))

	// Nothing outside the padded glyph cell may change.
	x0, y0 := 40-padding, 12-padding
	x1, y1 := 40+glyphWidth+padding, 12+glyphHeight+padding
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			inside := x >= x0 && x < x1 && y >= y0 && y < y1
			if !inside {
				assert.Equal(t, byte(128), frame[y*w+x], "pixel (%d,%d)", x, y)
			}
		}
	}

	// Chroma planes stay untouched.
	for i := w * h; i < len(frame); i++ {
		assert.Equal(t, byte(0), frame[i])
	}
}

func TestDrawTextClipsAtRightEdge(t *testing.T) {
	const w, h = 32, 32
	frame := blankLuma(w, h)

	ts := New(Params{X: 24, Y: 4})
	require.NoError(t, ts.DrawText(frame, w, h, "WWWWWW"), "overlong text must clip, not fail")
	assert.Greater(t, countChanged(frame, w, h), 0)
}

func TestDrawTextRightAligned(t *testing.T) {
	const w, h = 160, 48
	left := blankLuma(w, h)
	right := blankLuma(w, h)

	require.NoError(t, New(Params{X: 4, Y: 10}).DrawText(left, w, h, "Z"))
	require.NoError(t, New(Params{X: -4, Y: 10}).DrawText(right, w, h, "Z"))

	// Right-aligned output sits in the right half, left-aligned in the left.
	for y := 0; y < h; y++ {
		for x := w / 2; x < w; x++ {
			assert.Equal(t, byte(128), left[y*w+x])
		}
		for x := 0; x < w/2; x++ {
			assert.Equal(t, byte(128), right[y*w+x])
		}
	}
	assert.Greater(t, countChanged(right, w, h), 0)
}

func TestFactorDoublesFootprint(t *testing.T) {
	const w, h = 160, 64
	small := blankLuma(w, h)
	big := blankLuma(w, h)

	require.NoError(t, New(Params{X: 10, Y: 10, Factor: 0}).DrawText(small, w, h, "8"))
	require.NoError(t, New(Params{X: 10, Y: 10, Factor: 1}).DrawText(big, w, h, "8"))

	smallBright := 0
	bigBright := 0
	for i := 0; i < w*h; i++ {
		if small[i] == textLuma {
			smallBright++
		}
		if big[i] == textLuma {
			bigBright++
		}
	}
	assert.Equal(t, smallBright*4, bigBright, "2x scale quadruples glyph pixels")
}

func TestDrawUsesClock(t *testing.T) {
	const w, h = 320, 48
	frame := blankLuma(w, h)

	ts := New(Params{X: 10, Y: 10})
	ts.now = func() time.Time {
		return time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	}
	require.NoError(t, ts.Draw(frame, w, h))
	assert.Greater(t, countChanged(frame, w, h), 100, "a full timestamp covers many pixels")
}

func TestDrawRejectsShortFrame(t *testing.T) {
	ts := New(Params{})
	assert.Error(t, ts.DrawText(make([]byte, 10), 64, 48, "hi"))
}

func TestEmptyTextIsNoop(t *testing.T) {
	const w, h = 64, 48
	frame := blankLuma(w, h)
	require.NoError(t, New(Params{X: 5, Y: 5}).DrawText(frame, w, h, ""))
	assert.Zero(t, countChanged(frame, w, h))
}
