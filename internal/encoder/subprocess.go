package encoder

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/camkit/camkit/internal/config"
	"github.com/camkit/camkit/internal/logger"
)

// Subprocess encodes by piping raw I420 frames into an external encoder
// binary (x264, falling back to ffmpeg) and reading the Annex-B stream
// back from its stdout. Running the encoder out-of-process avoids CGO
// bindings entirely.
type Subprocess struct {
	cfg    config.EncoderConfig
	width  int
	height int

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	chunk   chunker
	sps     []byte
	pps     []byte
	headers []byte
	running bool
	readErr error
	done    chan struct{}
}

// NewSubprocess creates a subprocess encoder for width x height I420
// input.
func NewSubprocess(cfg config.EncoderConfig, width, height int) *Subprocess {
	return &Subprocess{cfg: cfg, width: width, height: height}
}

// resolveBinary picks the encoder binary: the configured override, then
// x264, then ffmpeg.
func (s *Subprocess) resolveBinary() (string, error) {
	if s.cfg.Binary != "" {
		return s.cfg.Binary, nil
	}
	for _, name := range []string{"x264", "ffmpeg"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("encoder: neither x264 nor ffmpeg found in PATH")
}

// buildArgs renders the command line for the chosen binary.
func buildArgs(binary string, cfg config.EncoderConfig, width, height int) []string {
	res := fmt.Sprintf("%dx%d", width, height)
	fps := strconv.Itoa(cfg.FPS)
	gop := strconv.Itoa(cfg.GOP)

	if isFfmpeg(binary) {
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "rawvideo", "-pix_fmt", "yuv420p", "-s", res, "-r", fps, "-i", "-",
			"-c:v", "libx264", "-preset", "ultrafast", "-tune", "zerolatency",
			"-b:v", strconv.Itoa(cfg.Bitrate) + "k", "-g", gop, "-bf", "0",
			"-f", "h264", "-",
		}
	}
	return []string{
		"--input-res", res, "--fps", fps, "--input-csp", "i420",
		"--bitrate", strconv.Itoa(cfg.Bitrate), "--keyint", gop, "--bframes", "0",
		"--preset", "ultrafast", "--tune", "zerolatency",
		"--repeat-headers", "--output", "-", "-",
	}
}

// isFfmpeg matches the binary name regardless of path or extension.
func isFfmpeg(binary string) bool {
	base := binary
	for i := len(binary) - 1; i >= 0; i-- {
		if binary[i] == '/' || binary[i] == '\\' {
			base = binary[i+1:]
			break
		}
	}
	return len(base) >= 6 && base[:6] == "ffmpeg"
}

// Start launches the encoder process and begins draining its output.
func (s *Subprocess) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("encoder: already running")
	}

	binary, err := s.resolveBinary()
	if err != nil {
		return err
	}

	log := logger.WithComponent("encoder")
	args := buildArgs(binary, s.cfg, s.width, s.height)
	log.Info().Str("binary", binary).Strs("args", args).Msg("Starting encoder subprocess")

	cmd := exec.Command(binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("encoder: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("encoder: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("encoder: failed to start %s: %w", binary, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.chunk = chunker{}
	s.readErr = nil
	s.done = make(chan struct{})
	s.running = true

	go s.drain(stdout)
	return nil
}

// drain pumps encoder stdout into the chunker until EOF.
func (s *Subprocess) drain(stdout io.Reader) {
	defer close(s.done)
	r := bufio.NewReaderSize(stdout, 64*1024)
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.chunk.write(buf[:n])
			s.cacheParamSets()
			s.mu.Unlock()
		}
		if err != nil {
			if err != io.EOF {
				s.mu.Lock()
				s.readErr = err
				s.mu.Unlock()
			}
			return
		}
	}
}

// cacheParamSets scans the output accumulated so far for SPS/PPS units.
// Called with the mutex held after every write. Only units whose end is
// proven by a following start code are considered, so a unit split
// across reads is never cached half-done.
func (s *Subprocess) cacheParamSets() {
	if s.headers != nil {
		return
	}
	complete := lastStartCode(s.chunk.pending)
	if complete <= 0 {
		return
	}
	forEachNalu(s.chunk.pending[:complete], func(nalu []byte) {
		switch nalu[0] & 0x1f {
		case 7:
			s.sps = append([]byte(nil), nalu...)
		case 8:
			s.pps = append([]byte(nil), nalu...)
		}
	})
	if s.sps != nil && s.pps != nil {
		s.headers = make([]byte, 0, len(s.sps)+len(s.pps)+8)
		s.headers = append(s.headers, 0x00, 0x00, 0x00, 0x01)
		s.headers = append(s.headers, s.sps...)
		s.headers = append(s.headers, 0x00, 0x00, 0x00, 0x01)
		s.headers = append(s.headers, s.pps...)
	}
}

// Headers returns the cached SPS/PPS in Annex-B framing, nil until the
// encoder has produced them.
func (s *Subprocess) Headers() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers
}

// Encode writes one raw frame to the encoder and returns whatever
// complete units its output holds so far.
func (s *Subprocess) Encode(frame []byte) (EncodedFrame, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return EncodedFrame{}, fmt.Errorf("encoder: not running")
	}
	if s.readErr != nil {
		err := s.readErr
		s.mu.Unlock()
		return EncodedFrame{}, fmt.Errorf("encoder: output read failed: %w", err)
	}
	want := s.width * s.height * 3 / 2
	stdin := s.stdin
	s.mu.Unlock()

	if len(frame) != want {
		return EncodedFrame{}, fmt.Errorf("encoder: frame is %d bytes, want %d", len(frame), want)
	}
	if _, err := stdin.Write(frame); err != nil {
		return EncodedFrame{}, fmt.Errorf("encoder: write failed: %w", err)
	}

	s.mu.Lock()
	data := s.chunk.take()
	s.mu.Unlock()

	if data == nil {
		return EncodedFrame{}, nil
	}
	return EncodedFrame{Data: data, Type: Classify(data)}, nil
}

// SetBitrate restarts the subprocess with the new target bitrate. The
// encoder re-emits parameter sets after the restart.
func (s *Subprocess) SetBitrate(kbps int) error {
	if kbps <= 0 {
		return fmt.Errorf("encoder: bitrate must be positive, got %d", kbps)
	}
	if err := s.Stop(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg.Bitrate = kbps
	s.headers = nil
	s.sps = nil
	s.pps = nil
	s.mu.Unlock()
	return s.Start()
}

// ForceKeyframe is not supported by the subprocess encoder; GOP size
// bounds the keyframe interval instead.
func (s *Subprocess) ForceKeyframe() error {
	return ErrNotSupported
}

// Stop closes the encoder's stdin and waits for it to exit, killing it
// if it lingers.
func (s *Subprocess) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stdin := s.stdin
	cmd := s.cmd
	done := s.done
	s.mu.Unlock()

	stdin.Close()

	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()
	select {
	case <-waited:
	case <-time.After(3 * time.Second):
		cmd.Process.Kill()
		<-waited
	}
	<-done

	s.mu.Lock()
	tail := s.chunk.flush()
	s.mu.Unlock()
	if len(tail) > 0 {
		logger.WithComponent("encoder").Debug().Int("bytes", len(tail)).Msg("Discarding unterminated tail unit")
	}
	return nil
}

// Name returns a human-readable name for this encoder.
func (s *Subprocess) Name() string {
	return "subprocess-h264"
}
