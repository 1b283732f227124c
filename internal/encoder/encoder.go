// Package encoder produces an H.264 Annex-B elementary stream from raw
// I420 frames. The only real implementation drives an external encoder
// binary as a subprocess; the package also classifies encoded output for
// stats and debug logging.
package encoder

import "errors"

// ErrNotSupported is returned for runtime adjustments an implementation
// cannot perform.
var ErrNotSupported = errors.New("encoder: operation not supported")

// PictureType labels the dominant content of one encoded chunk.
type PictureType int

const (
	PictureNone PictureType = iota
	PictureParamSet             // SPS/PPS only
	PictureIDR
	PictureP
)

// String returns the single-letter debug tag for the picture type.
func (t PictureType) String() string {
	switch t {
	case PictureParamSet:
		return "S"
	case PictureIDR:
		return "I"
	case PictureP:
		return "P"
	}
	return "N"
}

// EncodedFrame is one chunk of Annex-B output. Empty Data means the
// encoder has buffered the input and produced nothing yet.
type EncodedFrame struct {
	Data []byte
	Type PictureType
}

// Empty reports whether the frame carries no data.
func (f EncodedFrame) Empty() bool {
	return len(f.Data) == 0
}

// Encoder turns raw I420 frames into Annex-B H.264.
type Encoder interface {
	// Start launches the encoder.
	Start() error

	// Stop shuts the encoder down and releases its resources.
	Stop() error

	// Headers returns the cached SPS/PPS parameter sets in Annex-B
	// framing, or nil before the first keyframe has been produced.
	Headers() []byte

	// Encode submits one raw frame and returns whatever complete coded
	// units the encoder has ready. Output lags input by the encoder's
	// internal latency, so early calls may return an empty frame.
	Encode(frame []byte) (EncodedFrame, error)

	// SetBitrate changes the target bitrate in kbps.
	SetBitrate(kbps int) error

	// ForceKeyframe requests an IDR at the next opportunity.
	ForceKeyframe() error

	// Name returns a human-readable name for this encoder.
	Name() string
}

// forEachNalu walks the Annex-B units of buf, invoking fn with each
// unit's bytes (start code stripped). Data before the first start code
// and zero-length units between adjacent start codes are skipped.
func forEachNalu(buf []byte, fn func(nalu []byte)) {
	start := -1
	i := 0
	for i < len(buf) {
		sc := startCodeLen(buf[i:])
		if sc == 0 {
			i++
			continue
		}
		if start >= 0 && i > start {
			fn(buf[start:i])
		}
		start = i + sc
		i = start
	}
	if start >= 0 && start < len(buf) {
		fn(buf[start:])
	}
}

// startCodeLen reports the length of the Annex-B start code at the head
// of b: 3, 4, or 0.
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

// Classify labels an Annex-B chunk by its most significant unit.
func Classify(buf []byte) PictureType {
	t := PictureNone
	forEachNalu(buf, func(nalu []byte) {
		switch nalu[0] & 0x1f {
		case 5:
			t = PictureIDR
		case 1:
			if t != PictureIDR {
				t = PictureP
			}
		case 7, 8:
			if t == PictureNone {
				t = PictureParamSet
			}
		}
	})
	return t
}
