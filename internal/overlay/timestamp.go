// Package overlay draws a wall-clock timestamp (or arbitrary text) into
// the luma plane of an I420 frame.
package overlay

import (
	"fmt"
	"image"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Glyph cell geometry of basicfont.Face7x13.
const (
	glyphWidth  = 7
	glyphHeight = 13
)

// Luma levels for rendered text and its backing box.
const (
	textLuma = 235
	boxLuma  = 32
	padding  = 2
)

// DefaultTimeFormat matches the original timestamp layout:
// "YYYY-MM-DD HH:MM:SS (TZ)".
const DefaultTimeFormat = "2006-01-02 15:04:05 (MST)"

// Params positions the overlay. A negative X anchors the text to the
// right edge, offset inward by |X|.
type Params struct {
	X      int
	Y      int
	Factor int // glyph scale: 0 = 1x, 1 = 2x
	// TimeFormat overrides DefaultTimeFormat when non-empty.
	TimeFormat string
}

// Timestamp renders text into I420 luma planes. The glyph data comes
// from the immutable basicfont face; a Timestamp holds no mutable shared
// state beyond its scratch image.
type Timestamp struct {
	params  Params
	face    *basicfont.Face
	scratch *image.Gray
	now     func() time.Time
}

// New creates a timestamp renderer.
func New(params Params) *Timestamp {
	if params.TimeFormat == "" {
		params.TimeFormat = DefaultTimeFormat
	}
	return &Timestamp{
		params: params,
		face:   basicfont.Face7x13,
		now:    time.Now,
	}
}

// Params returns the renderer's configuration.
func (t *Timestamp) Params() Params {
	return t.params
}

// Draw renders the current time into the Y plane of an I420 frame.
func (t *Timestamp) Draw(frame []byte, width, height int) error {
	return t.DrawText(frame, width, height, t.now().Format(t.params.TimeFormat))
}

// DrawText renders text into the Y plane of an I420 frame. Text
// extending past the frame edges is clipped, not wrapped.
func (t *Timestamp) DrawText(frame []byte, width, height int, text string) error {
	if len(frame) < width*height {
		return fmt.Errorf("overlay: frame holds %d bytes, want at least %d for %dx%d luma",
			len(frame), width*height, width, height)
	}
	if text == "" {
		return nil
	}

	t.rasterize(text)

	scale := t.params.Factor + 1
	textW := t.scratch.Rect.Dx() * scale
	textH := t.scratch.Rect.Dy() * scale

	startX := t.params.X
	if startX < 0 {
		startX = width + startX - textW
	}
	startY := t.params.Y

	yPlane := frame[:width*height]

	// Backing box first, so the glyphs stay legible on bright scenes.
	for y := startY - padding; y < startY+textH+padding; y++ {
		for x := startX - padding; x < startX+textW+padding; x++ {
			if x < 0 || x >= width || y < 0 || y >= height {
				continue
			}
			yPlane[y*width+x] = boxLuma
		}
	}

	for y := 0; y < textH; y++ {
		for x := 0; x < textW; x++ {
			if t.scratch.GrayAt(x/scale, y/scale).Y < 0x80 {
				continue
			}
			px, py := startX+x, startY+y
			if px < 0 || px >= width || py < 0 || py >= height {
				continue
			}
			yPlane[py*width+px] = textLuma
		}
	}
	return nil
}

// rasterize renders text into the scratch grayscale image at 1x.
func (t *Timestamp) rasterize(text string) {
	w := len(text) * glyphWidth
	if t.scratch == nil || t.scratch.Rect.Dx() < w {
		t.scratch = image.NewGray(image.Rect(0, 0, w, glyphHeight))
	}
	bounds := image.Rect(0, 0, w, glyphHeight)
	for i := range t.scratch.Pix {
		t.scratch.Pix[i] = 0
	}

	d := &font.Drawer{
		Dst:  t.scratch,
		Src:  image.White,
		Face: t.face,
		Dot:  fixed.P(0, t.face.Ascent),
	}
	d.DrawString(text)

	// Shrink the view to this string's width without reallocating.
	t.scratch.Rect = bounds
}
