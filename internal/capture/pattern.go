package capture

import (
	"fmt"
	"sync"

	"github.com/camkit/camkit/internal/config"
)

// Color bar values (BT.601, studio swing), left to right: white, yellow,
// cyan, green, magenta, red, blue, black.
var barY = [8]uint8{235, 210, 170, 145, 106, 81, 41, 16}
var barU = [8]uint8{128, 16, 166, 54, 202, 90, 240, 128}
var barV = [8]uint8{128, 146, 16, 34, 222, 240, 110, 128}

// PatternSource synthesizes a moving color-bar test pattern so the
// pipeline can run with no capture hardware. Brightness, contrast and
// saturation controls are applied at generation time.
type PatternSource struct {
	cfg       config.CaptureConfig
	frameSize int

	mu       sync.Mutex
	frame    []byte
	n        uint64 // frame counter, drives the moving band
	pace     pacer
	running  bool
	controls map[Control]int
}

// NewPatternSource creates a test pattern source with the geometry,
// format and rate of cfg.
func NewPatternSource(cfg config.CaptureConfig) (*PatternSource, error) {
	frameSize := cfg.Format.FrameSize(cfg.Width, cfg.Height)
	if frameSize <= 0 {
		return nil, fmt.Errorf("capture: cannot size %q frames at %dx%d", cfg.Format, cfg.Width, cfg.Height)
	}
	return &PatternSource{
		cfg:       cfg,
		frameSize: frameSize,
		controls: map[Control]int{
			ControlBrightness: 0,
			ControlContrast:   100,
			ControlSaturation: 100,
		},
	}, nil
}

// Start allocates the frame buffer.
func (p *PatternSource) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("capture: pattern source already running")
	}
	p.frame = make([]byte, p.frameSize)
	p.pace = newPacer(p.cfg.FPS)
	p.n = 0
	p.running = true
	return nil
}

// Stop releases the frame buffer.
func (p *PatternSource) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.frame = nil
	return nil
}

// ReadFrame synthesizes the next frame. The slice aliases an internal
// buffer overwritten by the following call.
func (p *PatternSource) ReadFrame() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil, fmt.Errorf("capture: pattern source not running")
	}

	p.pace.wait()

	switch p.cfg.Format {
	case config.FormatI420:
		p.renderI420()
	case config.FormatYUYV:
		p.renderYUYV()
	case config.FormatRGB24:
		p.renderRGB24()
	}
	p.n++
	return p.frame, nil
}

// Name returns a human-readable name for this source.
func (p *PatternSource) Name() string {
	return "testpattern"
}

// QueryControl reports the supported control ranges.
func (p *PatternSource) QueryControl(c Control) (ControlRange, bool) {
	switch c {
	case ControlBrightness:
		return ControlRange{Min: -128, Max: 127, Step: 1}, true
	case ControlContrast, ControlSaturation:
		return ControlRange{Min: 0, Max: 200, Step: 1}, true
	}
	return ControlRange{}, false
}

// GetControl returns the current value of a control.
func (p *PatternSource) GetControl(c Control) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.controls[c]
	return v, ok
}

// SetControl adjusts a control within its range.
func (p *PatternSource) SetControl(c Control, v int) error {
	r, ok := p.QueryControl(c)
	if !ok {
		return fmt.Errorf("capture: unsupported control %q", c)
	}
	if v < r.Min || v > r.Max {
		return fmt.Errorf("capture: %s value %d out of range [%d, %d]", c, v, r.Min, r.Max)
	}
	p.mu.Lock()
	p.controls[c] = v
	p.mu.Unlock()
	return nil
}

// sampleAt computes the pattern's YUV sample for a pixel, controls
// applied. The moving band scrolls one row per frame.
func (p *PatternSource) sampleAt(x, y int) (uint8, uint8, uint8) {
	bar := x * 8 / p.cfg.Width
	Y, U, V := int(barY[bar]), int(barU[bar]), int(barV[bar])

	band := int(p.n) % p.cfg.Height
	if d := y - band; d >= 0 && d < 8 {
		Y = 235
	}

	contrast := p.controls[ControlContrast]
	brightness := p.controls[ControlBrightness]
	saturation := p.controls[ControlSaturation]

	Y = (Y-128)*contrast/100 + 128 + brightness
	U = (U-128)*saturation/100 + 128
	V = (V-128)*saturation/100 + 128
	return clamp8(Y), clamp8(U), clamp8(V)
}

func (p *PatternSource) renderI420() {
	w, h := p.cfg.Width, p.cfg.Height
	yPlane := p.frame[:w*h]
	uPlane := p.frame[w*h : w*h+w*h/4]
	vPlane := p.frame[w*h+w*h/4:]

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			Y, U, V := p.sampleAt(x, y)
			yPlane[y*w+x] = Y
			if x%2 == 0 && y%2 == 0 {
				uPlane[y/2*(w/2)+x/2] = U
				vPlane[y/2*(w/2)+x/2] = V
			}
		}
	}
}

func (p *PatternSource) renderYUYV() {
	w, h := p.cfg.Width, p.cfg.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x += 2 {
			y0, U, V := p.sampleAt(x, y)
			y1, _, _ := p.sampleAt(x+1, y)
			off := (y*w + x) * 2
			p.frame[off] = y0
			p.frame[off+1] = U
			p.frame[off+2] = y1
			p.frame[off+3] = V
		}
	}
}

func (p *PatternSource) renderRGB24() {
	w, h := p.cfg.Width, p.cfg.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			Y, U, V := p.sampleAt(x, y)
			r, g, b := yuvToRGB(Y, U, V)
			off := (y*w + x) * 3
			p.frame[off] = r
			p.frame[off+1] = g
			p.frame[off+2] = b
		}
	}
}

// yuvToRGB converts one BT.601 sample to RGB with integer math.
func yuvToRGB(y, u, v uint8) (uint8, uint8, uint8) {
	c := int(y) - 16
	d := int(u) - 128
	e := int(v) - 128
	r := (298*c + 409*e + 128) >> 8
	g := (298*c - 100*d - 208*e + 128) >> 8
	b := (298*c + 516*d + 128) >> 8
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
