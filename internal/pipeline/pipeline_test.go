package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camkit/camkit/internal/config"
	"github.com/camkit/camkit/internal/encoder"
	"github.com/camkit/camkit/internal/logger"
)

func annexb(units ...[]byte) []byte {
	var out []byte
	for _, u := range units {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, u...)
	}
	return out
}

type fakeSource struct {
	mu      sync.Mutex
	frame   []byte
	started bool
	reads   int
}

func (f *fakeSource) Start() error { f.mu.Lock(); f.started = true; f.mu.Unlock(); return nil }
func (f *fakeSource) Stop() error  { f.mu.Lock(); f.started = false; f.mu.Unlock(); return nil }
func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) ReadFrame() ([]byte, error) {
	f.mu.Lock()
	f.reads++
	f.mu.Unlock()
	time.Sleep(time.Millisecond)
	return f.frame, nil
}

type fakeEncoder struct {
	mu      sync.Mutex
	headers []byte
	out     []byte
	encodes int
	bitrate int
}

func (f *fakeEncoder) Start() error { return nil }
func (f *fakeEncoder) Stop() error  { return nil }
func (f *fakeEncoder) Name() string { return "fake" }

func (f *fakeEncoder) Headers() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers
}

func (f *fakeEncoder) Encode(frame []byte) (encoder.EncodedFrame, error) {
	f.mu.Lock()
	f.encodes++
	f.mu.Unlock()
	return encoder.EncodedFrame{Data: f.out, Type: encoder.Classify(f.out)}, nil
}

func (f *fakeEncoder) SetBitrate(kbps int) error {
	f.mu.Lock()
	f.bitrate = kbps
	f.mu.Unlock()
	return nil
}

func (f *fakeEncoder) ForceKeyframe() error { return encoder.ErrNotSupported }

type fakeSender struct {
	mu      sync.Mutex
	packets [][]byte
	running bool
}

func (f *fakeSender) Start() error { f.mu.Lock(); f.running = true; f.mu.Unlock(); return nil }
func (f *fakeSender) Stop() error  { f.mu.Lock(); f.running = false; f.mu.Unlock(); return nil }
func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeSender) Send(packet []byte) error {
	f.mu.Lock()
	f.packets = append(f.packets, append([]byte(nil), packet...))
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.packets)
}

func testConfig() config.Config {
	cfg := *config.Defaults()
	cfg.Capture.Width = 64
	cfg.Capture.Height = 48
	cfg.Capture.Format = config.FormatI420
	cfg.Convert.OutWidth = 64
	cfg.Convert.OutHeight = 48
	cfg.Overlay.Enabled = false
	return cfg
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestMain(m *testing.M) {
	logger.Init("error", false)
	m.Run()
}

func TestParseStages(t *testing.T) {
	for _, mask := range []int{0, 1, 3, 7, 15} {
		s, err := ParseStages(mask)
		require.NoError(t, err)
		assert.Equal(t, Stage(mask), s)
	}
	for _, mask := range []int{2, 4, 5, 8, 9, 16, -1} {
		_, err := ParseStages(mask)
		assert.Error(t, err, "mask %d", mask)
	}
}

func TestFullPipeline(t *testing.T) {
	cfg := testConfig()
	src := &fakeSource{frame: make([]byte, cfg.Capture.Format.FrameSize(64, 48))}
	enc := &fakeEncoder{
		headers: annexb([]byte{0x67, 0x42}, []byte{0x68, 0xce}),
		out:     annexb([]byte{0x65, 0x88, 0x84, 0x01, 0x02}),
	}
	snd := &fakeSender{}

	p, err := New(cfg, Options{Stages: StageAll, Source: src, Encoder: enc, Sender: snd})
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	assert.Error(t, p.Start(context.Background()), "double start must fail")

	// Headers (2 units) are forwarded once, then one packet per frame.
	waitFor(t, func() bool { return snd.count() >= 5 }, "no packets produced")
	require.NoError(t, p.Stop())

	snd.mu.Lock()
	defer snd.mu.Unlock()
	// SPS and PPS each become one single-NALU packet ahead of any frame.
	require.GreaterOrEqual(t, len(snd.packets), 3)
	assert.Len(t, snd.packets[0], 12+2, "SPS packet")
	assert.Len(t, snd.packets[1], 12+2, "PPS packet")
	assert.Len(t, snd.packets[2], 12+5, "frame packet")
	for _, pkt := range snd.packets {
		assert.Equal(t, byte(0x80), pkt[0], "RTP version 2")
	}

	stats := p.Stats()
	assert.False(t, stats.Running)
	assert.NotZero(t, stats.FramesCaptured)
	assert.NotZero(t, stats.FramesEncoded)
	assert.NotZero(t, stats.KeyFrames, "IDR units are counted as keyframes")
	assert.NotZero(t, stats.Packets)
	assert.NotZero(t, stats.BytesSent)
}

func TestPackStageDumpsWithoutSender(t *testing.T) {
	cfg := testConfig()
	src := &fakeSource{frame: make([]byte, cfg.Capture.Format.FrameSize(64, 48))}
	enc := &fakeEncoder{out: annexb([]byte{0x41, 0x9a})}
	dump := &fakeSender{}

	stages, err := ParseStages(7)
	require.NoError(t, err)

	p, err := New(cfg, Options{Stages: stages, Source: src, Encoder: enc, Dump: dump})
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	waitFor(t, func() bool { return dump.count() >= 2 }, "no packets dumped")
	require.NoError(t, p.Stop())

	dump.mu.Lock()
	defer dump.mu.Unlock()
	for _, pkt := range dump.packets {
		assert.Equal(t, byte(0x80), pkt[0])
	}
}

func TestConvertOnlyStage(t *testing.T) {
	cfg := testConfig()
	src := &fakeSource{frame: make([]byte, cfg.Capture.Format.FrameSize(64, 48))}
	dump := &fakeSender{}

	p, err := New(cfg, Options{Stages: StageConvert, Source: src, Dump: dump})
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	waitFor(t, func() bool { return dump.count() >= 2 }, "no frames dumped")
	require.NoError(t, p.Stop())

	dump.mu.Lock()
	defer dump.mu.Unlock()
	assert.Len(t, dump.packets[0], 64*48*3/2, "dumped frames are I420 output frames")
}

func TestCaptureOnlyStage(t *testing.T) {
	cfg := testConfig()
	raw := make([]byte, cfg.Capture.Format.FrameSize(64, 48))
	src := &fakeSource{frame: raw}
	dump := &fakeSender{}

	p, err := New(cfg, Options{Stages: StageNone, Source: src, Dump: dump})
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	waitFor(t, func() bool { return dump.count() >= 1 }, "no raw frames dumped")
	require.NoError(t, p.Stop())

	dump.mu.Lock()
	defer dump.mu.Unlock()
	assert.Len(t, dump.packets[0], len(raw))
}

func TestSetBitrateReforwardsHeaders(t *testing.T) {
	cfg := testConfig()
	src := &fakeSource{frame: make([]byte, cfg.Capture.Format.FrameSize(64, 48))}
	enc := &fakeEncoder{
		headers: annexb([]byte{0x67, 0x42}, []byte{0x68, 0xce}),
		out:     annexb([]byte{0x41, 0x9a}),
	}
	snd := &fakeSender{}

	p, err := New(cfg, Options{Stages: StageAll, Source: src, Encoder: enc, Sender: snd})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	waitFor(t, func() bool { return snd.count() >= 3 }, "no packets before retune")
	before := snd.count()

	require.NoError(t, p.SetBitrate(2000))
	enc.mu.Lock()
	assert.Equal(t, 2000, enc.bitrate)
	enc.mu.Unlock()
	assert.Equal(t, 2000, p.Config().Encoder.Bitrate)

	// Two extra header packets appear among the frame packets.
	waitFor(t, func() bool { return snd.count() >= before+4 }, "no packets after retune")
	require.NoError(t, p.Stop())

	snd.mu.Lock()
	defer snd.mu.Unlock()
	headerPackets := 0
	for _, pkt := range snd.packets {
		if len(pkt) == 12+2 && pkt[12]&0x1f == 7 {
			headerPackets++
		}
	}
	assert.Equal(t, 2, headerPackets, "SPS forwarded exactly twice")
}

func TestNoEncoderStageRejectsTuning(t *testing.T) {
	cfg := testConfig()
	src := &fakeSource{frame: make([]byte, cfg.Capture.Format.FrameSize(64, 48))}

	p, err := New(cfg, Options{Stages: StageConvert, Source: src})
	require.NoError(t, err)

	assert.Error(t, p.SetBitrate(500))
	assert.Error(t, p.ForceKeyframe())
}

func TestSendStageRequiresDestination(t *testing.T) {
	cfg := testConfig()
	cfg.Network.Host = ""
	src := &fakeSource{frame: make([]byte, cfg.Capture.Format.FrameSize(64, 48))}

	_, err := New(cfg, Options{Stages: StageAll, Source: src, Encoder: &fakeEncoder{}})
	assert.Error(t, err)
}

func TestStopIdempotent(t *testing.T) {
	cfg := testConfig()
	src := &fakeSource{frame: make([]byte, cfg.Capture.Format.FrameSize(64, 48))}

	p, err := New(cfg, Options{Stages: StageConvert, Source: src})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop())
	assert.NoError(t, p.Stop())
}
