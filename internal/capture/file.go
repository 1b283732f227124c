package capture

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/camkit/camkit/internal/config"
)

// FileSource replays raw frames from a file, one frame per
// width x height x format chunk, looping back to the start at EOF. It
// stands in for a camera device node.
type FileSource struct {
	cfg       config.CaptureConfig
	frameSize int

	mu      sync.Mutex
	file    *os.File
	frame   []byte
	pace    pacer
	running bool
}

// NewFileSource creates a source reading cfg.Device as a raw frame dump.
func NewFileSource(cfg config.CaptureConfig) (*FileSource, error) {
	frameSize := cfg.Format.FrameSize(cfg.Width, cfg.Height)
	if frameSize <= 0 {
		return nil, fmt.Errorf("capture: cannot size %q frames at %dx%d", cfg.Format, cfg.Width, cfg.Height)
	}
	return &FileSource{
		cfg:       cfg,
		frameSize: frameSize,
	}, nil
}

// Start opens the backing file and verifies it holds at least one frame.
func (f *FileSource) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return fmt.Errorf("capture: file source already running")
	}

	file, err := os.Open(f.cfg.Device)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("capture: %w", err)
	}
	if info.Size() < int64(f.frameSize) {
		file.Close()
		return fmt.Errorf("capture: %s holds %d bytes, smaller than one %d-byte frame",
			f.cfg.Device, info.Size(), f.frameSize)
	}

	f.file = file
	f.frame = make([]byte, f.frameSize)
	f.pace = newPacer(f.cfg.FPS)
	f.running = true
	return nil
}

// Stop closes the backing file.
func (f *FileSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return nil
	}
	f.running = false
	return f.file.Close()
}

// ReadFrame returns the next frame, wrapping to the file start when fewer
// than frameSize bytes remain. The slice aliases an internal buffer.
func (f *FileSource) ReadFrame() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return nil, fmt.Errorf("capture: file source not running")
	}

	f.pace.wait()

	_, err := io.ReadFull(f.file, f.frame)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		if _, err := f.file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("capture: rewind failed: %w", err)
		}
		_, err = io.ReadFull(f.file, f.frame)
	}
	if err != nil {
		return nil, fmt.Errorf("capture: read failed: %w", err)
	}
	return f.frame, nil
}

// Name returns a human-readable name for this source.
func (f *FileSource) Name() string {
	return fmt.Sprintf("file(%s)", f.cfg.Device)
}
