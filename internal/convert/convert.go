// Package convert turns raw captured frames into the planar I420 layout
// the encoder consumes, rescaling when input and output geometry differ.
package convert

import (
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/camkit/camkit/internal/config"
)

// Params configures a Converter. Output is always I420.
type Params struct {
	InWidth   int
	InHeight  int
	InFormat  config.PixelFormat
	OutWidth  int
	OutHeight int
}

// Converter converts one pixel format/geometry into I420. The output
// buffer is owned by the Converter and reused across calls.
type Converter struct {
	params Params
	out    []byte

	// scratch images, allocated once when rescaling is needed
	scaleSrc *image.RGBA
	scaleDst *image.RGBA
}

// New creates a Converter for the given geometry.
func New(params Params) (*Converter, error) {
	if !params.InFormat.Valid() {
		return nil, fmt.Errorf("convert: unknown input format %q", params.InFormat)
	}
	if params.InWidth <= 0 || params.InHeight <= 0 || params.InWidth%2 != 0 || params.InHeight%2 != 0 {
		return nil, fmt.Errorf("convert: invalid input dimensions %dx%d", params.InWidth, params.InHeight)
	}
	if params.OutWidth <= 0 || params.OutHeight <= 0 || params.OutWidth%2 != 0 || params.OutHeight%2 != 0 {
		return nil, fmt.Errorf("convert: invalid output dimensions %dx%d", params.OutWidth, params.OutHeight)
	}

	c := &Converter{
		params: params,
		out:    make([]byte, config.FormatI420.FrameSize(params.OutWidth, params.OutHeight)),
	}
	if c.rescales() {
		c.scaleSrc = image.NewRGBA(image.Rect(0, 0, params.InWidth, params.InHeight))
		c.scaleDst = image.NewRGBA(image.Rect(0, 0, params.OutWidth, params.OutHeight))
	}
	return c, nil
}

// Params returns the converter's configuration.
func (c *Converter) Params() Params {
	return c.params
}

// OutputSize returns the byte size of one converted frame.
func (c *Converter) OutputSize() int {
	return len(c.out)
}

func (c *Converter) rescales() bool {
	return c.params.InWidth != c.params.OutWidth || c.params.InHeight != c.params.OutHeight
}

// Convert converts one input frame. The returned slice aliases the
// converter's internal buffer and is valid until the next Convert call.
func (c *Converter) Convert(in []byte) ([]byte, error) {
	want := c.params.InFormat.FrameSize(c.params.InWidth, c.params.InHeight)
	if len(in) != want {
		return nil, fmt.Errorf("convert: input is %d bytes, want %d", len(in), want)
	}

	if !c.rescales() {
		switch c.params.InFormat {
		case config.FormatI420:
			copy(c.out, in)
		case config.FormatYUYV:
			c.yuyvToI420(in, c.out, c.params.InWidth, c.params.InHeight)
		case config.FormatRGB24:
			c.rgb24ToI420(in, c.out, c.params.InWidth, c.params.InHeight)
		}
		return c.out, nil
	}

	// Rescaling path: decode to RGBA, scale bilinearly, re-encode to I420.
	c.decodeRGBA(in)
	xdraw.BiLinear.Scale(c.scaleDst, c.scaleDst.Bounds(), c.scaleSrc, c.scaleSrc.Bounds(), xdraw.Src, nil)
	c.rgbaToI420(c.scaleDst, c.out, c.params.OutWidth, c.params.OutHeight)
	return c.out, nil
}

// decodeRGBA fills scaleSrc from the input frame.
func (c *Converter) decodeRGBA(in []byte) {
	w, h := c.params.InWidth, c.params.InHeight
	switch c.params.InFormat {
	case config.FormatRGB24:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				src := (y*w + x) * 3
				dst := c.scaleSrc.PixOffset(x, y)
				c.scaleSrc.Pix[dst] = in[src]
				c.scaleSrc.Pix[dst+1] = in[src+1]
				c.scaleSrc.Pix[dst+2] = in[src+2]
				c.scaleSrc.Pix[dst+3] = 0xFF
			}
		}
	case config.FormatYUYV:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x += 2 {
				off := (y*w + x) * 2
				y0, u, y1, v := in[off], in[off+1], in[off+2], in[off+3]
				c.setYUV(x, y, y0, u, v)
				c.setYUV(x+1, y, y1, u, v)
			}
		}
	case config.FormatI420:
		yPlane := in[:w*h]
		uPlane := in[w*h : w*h+w*h/4]
		vPlane := in[w*h+w*h/4:]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				cOff := y/2*(w/2) + x/2
				c.setYUV(x, y, yPlane[y*w+x], uPlane[cOff], vPlane[cOff])
			}
		}
	}
}

func (c *Converter) setYUV(x, y int, yy, u, v uint8) {
	r, g, b := yuvToRGB(yy, u, v)
	dst := c.scaleSrc.PixOffset(x, y)
	c.scaleSrc.Pix[dst] = r
	c.scaleSrc.Pix[dst+1] = g
	c.scaleSrc.Pix[dst+2] = b
	c.scaleSrc.Pix[dst+3] = 0xFF
}

// yuyvToI420 unpacks 4:2:2 into planes, taking chroma from even rows.
func (c *Converter) yuyvToI420(in, out []byte, w, h int) {
	yPlane := out[:w*h]
	uPlane := out[w*h : w*h+w*h/4]
	vPlane := out[w*h+w*h/4:]

	for y := 0; y < h; y++ {
		for x := 0; x < w; x += 2 {
			off := (y*w + x) * 2
			yPlane[y*w+x] = in[off]
			yPlane[y*w+x+1] = in[off+2]
			if y%2 == 0 {
				cOff := y/2*(w/2) + x/2
				uPlane[cOff] = in[off+1]
				vPlane[cOff] = in[off+3]
			}
		}
	}
}

// rgb24ToI420 converts packed RGB with BT.601 integer math, chroma
// sampled at even pixels.
func (c *Converter) rgb24ToI420(in, out []byte, w, h int) {
	yPlane := out[:w*h]
	uPlane := out[w*h : w*h+w*h/4]
	vPlane := out[w*h+w*h/4:]

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := (y*w + x) * 3
			r, g, b := int(in[off]), int(in[off+1]), int(in[off+2])
			yPlane[y*w+x] = clamp8(((66*r + 129*g + 25*b + 128) >> 8) + 16)
			if x%2 == 0 && y%2 == 0 {
				cOff := y/2*(w/2) + x/2
				uPlane[cOff] = clamp8(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
				vPlane[cOff] = clamp8(((112*r - 94*g - 18*b + 128) >> 8) + 128)
			}
		}
	}
}

// rgbaToI420 re-encodes the scaled RGBA image into planes.
func (c *Converter) rgbaToI420(img *image.RGBA, out []byte, w, h int) {
	yPlane := out[:w*h]
	uPlane := out[w*h : w*h+w*h/4]
	vPlane := out[w*h+w*h/4:]

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := img.PixOffset(x, y)
			r, g, b := int(img.Pix[off]), int(img.Pix[off+1]), int(img.Pix[off+2])
			yPlane[y*w+x] = clamp8(((66*r + 129*g + 25*b + 128) >> 8) + 16)
			if x%2 == 0 && y%2 == 0 {
				cOff := y/2*(w/2) + x/2
				uPlane[cOff] = clamp8(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
				vPlane[cOff] = clamp8(((112*r - 94*g - 18*b + 128) >> 8) + 128)
			}
		}
	}
}

// yuvToRGB converts one BT.601 sample to RGB with integer math.
func yuvToRGB(y, u, v uint8) (uint8, uint8, uint8) {
	cc := int(y) - 16
	d := int(u) - 128
	e := int(v) - 128
	r := (298*cc + 409*e + 128) >> 8
	g := (298*cc - 100*d - 208*e + 128) >> 8
	b := (298*cc + 516*d + 128) >> 8
	return clamp8(r), clamp8(g), clamp8(b)
}

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
