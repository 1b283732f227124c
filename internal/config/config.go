// Package config defines the camkit configuration model and its
// YAML-backed manager.
package config

import (
	"fmt"
	"strings"
)

// PixelFormat names a raw frame layout.
type PixelFormat string

const (
	FormatYUYV  PixelFormat = "yuyv"  // packed 4:2:2
	FormatI420  PixelFormat = "i420"  // planar 4:2:0
	FormatRGB24 PixelFormat = "rgb24" // packed 8-bit RGB
)

// FrameSize returns the byte size of one width x height frame in this
// format.
func (f PixelFormat) FrameSize(width, height int) int {
	switch f {
	case FormatYUYV:
		return width * height * 2
	case FormatI420:
		return width * height * 3 / 2
	case FormatRGB24:
		return width * height * 3
	default:
		return 0
	}
}

// Valid reports whether f names a supported format.
func (f PixelFormat) Valid() bool {
	switch f {
	case FormatYUYV, FormatI420, FormatRGB24:
		return true
	}
	return false
}

// ParsePixelFormat maps a config/flag string onto a PixelFormat.
func ParsePixelFormat(s string) (PixelFormat, error) {
	f := PixelFormat(strings.ToLower(s))
	if !f.Valid() {
		return "", fmt.Errorf("unknown pixel format %q", s)
	}
	return f, nil
}

// CaptureConfig selects the frame source.
type CaptureConfig struct {
	// Device is the path frames are read from. An empty or missing path
	// falls back to the synthetic test pattern source.
	Device string      `json:"device" yaml:"device"`
	Width  int         `json:"width" yaml:"width"`
	Height int         `json:"height" yaml:"height"`
	Format PixelFormat `json:"format" yaml:"format"`
	FPS    int         `json:"fps" yaml:"fps"`
}

// ConvertConfig sets the output geometry of the conversion stage. Output
// format is always I420, which is what the encoder consumes.
type ConvertConfig struct {
	OutWidth  int `json:"out_width" yaml:"out_width"`
	OutHeight int `json:"out_height" yaml:"out_height"`
}

// EncoderConfig parameterizes the H.264 encoder.
type EncoderConfig struct {
	Bitrate int `json:"bitrate" yaml:"bitrate"` // kbps
	GOP     int `json:"gop" yaml:"gop"`
	FPS     int `json:"fps" yaml:"fps"`
	// Binary overrides encoder binary discovery (x264, then ffmpeg).
	Binary string `json:"binary,omitempty" yaml:"binary,omitempty"`
}

// OverlayConfig positions the timestamp overlay.
type OverlayConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	X       int  `json:"x" yaml:"x"`
	Y       int  `json:"y" yaml:"y"`
	Factor  int  `json:"factor" yaml:"factor"` // glyph scale: 0 = small, 1 = large
}

// RTPConfig parameterizes the packetizer session.
type RTPConfig struct {
	MaxPayloadLength int    `json:"max_payload_length" yaml:"max_payload_length"`
	SSRC             uint32 `json:"ssrc" yaml:"ssrc"`
	PayloadType      uint8  `json:"payload_type" yaml:"payload_type"`
}

// NetworkConfig addresses the stream receiver.
type NetworkConfig struct {
	Protocol string `json:"protocol" yaml:"protocol"` // "udp" or "tcp"
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
}

// Config is the complete camkit configuration.
type Config struct {
	Capture    CaptureConfig `json:"capture" yaml:"capture"`
	Convert    ConvertConfig `json:"convert" yaml:"convert"`
	Encoder    EncoderConfig `json:"encoder" yaml:"encoder"`
	Overlay    OverlayConfig `json:"overlay" yaml:"overlay"`
	RTP        RTPConfig     `json:"rtp" yaml:"rtp"`
	Network    NetworkConfig `json:"network" yaml:"network"`
	ServerPort int           `json:"server_port" yaml:"server_port"`
	LogLevel   string        `json:"log_level" yaml:"log_level"`
}

// Defaults returns the baseline configuration: a 640x480 YUYV camera at
// 15 fps, 1000 kbps, GOP 12, 1400-byte RTP payloads.
func Defaults() *Config {
	return &Config{
		Capture: CaptureConfig{
			Device: "/dev/video0",
			Width:  640,
			Height: 480,
			Format: FormatYUYV,
			FPS:    15,
		},
		Convert: ConvertConfig{
			OutWidth:  640,
			OutHeight: 480,
		},
		Encoder: EncoderConfig{
			Bitrate: 1000,
			GOP:     12,
			FPS:     15,
		},
		Overlay: OverlayConfig{
			Enabled: true,
			X:       10,
			Y:       10,
			Factor:  0,
		},
		RTP: RTPConfig{
			MaxPayloadLength: 1400,
			SSRC:             1234,
			PayloadType:      96,
		},
		Network: NetworkConfig{
			Protocol: "udp",
		},
		ServerPort: 8080,
		LogLevel:   "info",
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return fmt.Errorf("capture: invalid dimensions %dx%d", c.Capture.Width, c.Capture.Height)
	}
	if c.Capture.Width%2 != 0 || c.Capture.Height%2 != 0 {
		return fmt.Errorf("capture: dimensions %dx%d must be even for 4:2:0 chroma", c.Capture.Width, c.Capture.Height)
	}
	if !c.Capture.Format.Valid() {
		return fmt.Errorf("capture: unknown pixel format %q", c.Capture.Format)
	}
	if c.Capture.FPS <= 0 {
		return fmt.Errorf("capture: fps must be positive, got %d", c.Capture.FPS)
	}
	if c.Convert.OutWidth <= 0 || c.Convert.OutHeight <= 0 ||
		c.Convert.OutWidth%2 != 0 || c.Convert.OutHeight%2 != 0 {
		return fmt.Errorf("convert: invalid output dimensions %dx%d", c.Convert.OutWidth, c.Convert.OutHeight)
	}
	if c.Encoder.Bitrate < 0 {
		return fmt.Errorf("encoder: bitrate must not be negative, got %d", c.Encoder.Bitrate)
	}
	if c.Encoder.GOP <= 0 {
		return fmt.Errorf("encoder: gop must be positive, got %d", c.Encoder.GOP)
	}
	if c.RTP.MaxPayloadLength < 64 || c.RTP.MaxPayloadLength > 65000 {
		return fmt.Errorf("rtp: max_payload_length %d out of range [64, 65000]", c.RTP.MaxPayloadLength)
	}
	if c.RTP.PayloadType > 127 {
		return fmt.Errorf("rtp: payload_type %d out of range [0, 127]", c.RTP.PayloadType)
	}
	switch c.Network.Protocol {
	case "udp", "tcp", "":
	default:
		return fmt.Errorf("network: unknown protocol %q", c.Network.Protocol)
	}
	return nil
}
