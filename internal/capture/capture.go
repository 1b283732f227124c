// Package capture provides raw video frame sources: a file replay source
// standing in for a camera device, and a synthetic test pattern for
// running the pipeline without hardware.
package capture

import "time"

// Source defines the interface for frame source backends.
type Source interface {
	// Start initializes the source and any required resources.
	Start() error

	// Stop releases resources.
	Stop() error

	// ReadFrame returns the next raw frame, pacing itself to the
	// configured frame rate. The returned slice may alias an internal
	// buffer reused by the next ReadFrame call.
	ReadFrame() ([]byte, error)

	// Name returns a human-readable name for this source.
	Name() string
}

// Control identifies an adjustable image parameter.
type Control string

const (
	ControlBrightness Control = "brightness"
	ControlContrast   Control = "contrast"
	ControlSaturation Control = "saturation"
)

// ControlRange describes the span of an image control.
type ControlRange struct {
	Min  int
	Max  int
	Step int
}

// Controls is implemented by sources with adjustable image parameters.
type Controls interface {
	// QueryControl reports the valid range of a control, or false when
	// the source does not support it.
	QueryControl(Control) (ControlRange, bool)

	// GetControl returns the current value of a control.
	GetControl(Control) (int, bool)

	// SetControl adjusts a control.
	SetControl(Control, int) error
}

// pacer throttles frame production to a fixed rate. A zero or negative
// fps disables pacing.
type pacer struct {
	interval time.Duration
	next     time.Time
}

func newPacer(fps int) pacer {
	if fps <= 0 {
		return pacer{}
	}
	return pacer{interval: time.Second / time.Duration(fps)}
}

func (p *pacer) wait() {
	if p.interval == 0 {
		return
	}
	now := time.Now()
	if p.next.IsZero() {
		p.next = now.Add(p.interval)
		return
	}
	if d := p.next.Sub(now); d > 0 {
		time.Sleep(d)
	}
	p.next = p.next.Add(p.interval)
	// Never let a stall accumulate a burst of back-to-back frames.
	if p.next.Before(time.Now()) {
		p.next = time.Now().Add(p.interval)
	}
}
