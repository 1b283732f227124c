package output

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/camkit/camkit/internal/logger"
)

// FileSink appends packets back to back into a file. Used to capture
// intermediate pipeline output for offline inspection, e.g. dumping the
// raw Annex-B stream before packetization.
type FileSink struct {
	path string

	mu      sync.RWMutex
	file    *os.File
	w       *bufio.Writer
	running bool

	byteCount uint64
}

// NewFileSink creates a sink writing to path, truncating any existing
// file on Start.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Start opens the file for writing.
func (f *FileSink) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return fmt.Errorf("file sink already running")
	}

	file, err := os.Create(f.path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", f.path, err)
	}

	f.file = file
	f.w = bufio.NewWriter(file)
	f.running = true
	f.byteCount = 0

	logger.WithComponent("output").Info().Str("path", f.path).Msg("File sink started")
	return nil
}

// Stop flushes and closes the file.
func (f *FileSink) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return nil
	}
	f.running = false

	flushErr := f.w.Flush()
	closeErr := f.file.Close()
	f.file = nil
	f.w = nil

	logger.WithComponent("output").Info().
		Str("path", f.path).
		Uint64("bytes", f.byteCount).
		Msg("File sink stopped")

	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Send appends one packet to the file.
func (f *FileSink) Send(packet []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return fmt.Errorf("file sink not running")
	}
	n, err := f.w.Write(packet)
	if err != nil {
		return fmt.Errorf("file write failed: %w", err)
	}
	f.byteCount += uint64(n)
	return nil
}

// Name returns a human-readable name for this sender type.
func (f *FileSink) Name() string {
	return "file"
}

// IsRunning returns true if the sink is currently active.
func (f *FileSink) IsRunning() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.running
}
