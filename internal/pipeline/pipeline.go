// Package pipeline wires the streaming stages together: capture,
// convert, overlay, encode, packetize, send. Stages can be switched off
// from the tail end for debugging, with the last active stage's output
// optionally dumped to a file.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/camkit/camkit/internal/capture"
	"github.com/camkit/camkit/internal/config"
	"github.com/camkit/camkit/internal/convert"
	"github.com/camkit/camkit/internal/encoder"
	"github.com/camkit/camkit/internal/logger"
	"github.com/camkit/camkit/internal/output"
	"github.com/camkit/camkit/internal/overlay"
	"github.com/camkit/camkit/internal/rtp"
)

// Stage is a bitmask selecting which stages after capture run. Each bit
// requires the bits below it; ParseStages enforces that.
type Stage int

const (
	StageConvert Stage = 1 << iota
	StageEncode
	StagePack
	StageSend

	StageNone Stage = 0
	StageAll        = StageConvert | StageEncode | StagePack | StageSend
)

// ParseStages validates a stage mask. Only the prefixes 0, 1, 3, 7 and
// 15 make sense: a stage cannot run without the ones feeding it.
func ParseStages(mask int) (Stage, error) {
	switch Stage(mask) {
	case StageNone, StageConvert, StageConvert | StageEncode,
		StageConvert | StageEncode | StagePack, StageAll:
		return Stage(mask), nil
	}
	return 0, fmt.Errorf("invalid stage mask %d, want 0, 1, 3, 7 or 15", mask)
}

// Options overrides pieces of the pipeline for construction. Zero-value
// fields are built from the configuration.
type Options struct {
	Stages Stage

	// DumpPath captures the last active stage's output to a file.
	DumpPath string

	// Injection points for tests.
	Source  capture.Source
	Encoder encoder.Encoder
	Sender  output.Sender
	Dump    output.Sender
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Running        bool      `json:"running"`
	StartTime      time.Time `json:"start_time,omitempty"`
	FramesCaptured uint64    `json:"frames_captured"`
	FramesEncoded  uint64    `json:"frames_encoded"`
	KeyFrames      uint64    `json:"key_frames"`
	Packets        uint64    `json:"packets"`
	BytesSent      uint64    `json:"bytes_sent"`
	Errors         uint64    `json:"errors"`
	FPS            float64   `json:"fps"`
}

// Pipeline runs the capture loop and owns every stage component.
type Pipeline struct {
	cfg    config.Config
	stages Stage

	source  capture.Source
	conv    *convert.Converter
	ts      *overlay.Timestamp
	enc     encoder.Encoder
	packer  *rtp.Packer
	sender  output.Sender
	dump    output.Sender

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	headersSent bool

	statsMu sync.Mutex
	stats   Stats
}

// New builds a pipeline from configuration, honoring any injected
// components in opts.
func New(cfg config.Config, opts Options) (*Pipeline, error) {
	p := &Pipeline{
		cfg:    cfg,
		stages: opts.Stages,
		source: opts.Source,
		enc:    opts.Encoder,
		sender: opts.Sender,
		dump:   opts.Dump,
	}

	if p.source == nil {
		src, err := capture.Open(cfg.Capture)
		if err != nil {
			return nil, fmt.Errorf("capture: %w", err)
		}
		p.source = src
	}

	if p.stages&StageConvert != 0 {
		conv, err := convert.New(convert.Params{
			InWidth:   cfg.Capture.Width,
			InHeight:  cfg.Capture.Height,
			InFormat:  cfg.Capture.Format,
			OutWidth:  cfg.Convert.OutWidth,
			OutHeight: cfg.Convert.OutHeight,
		})
		if err != nil {
			return nil, fmt.Errorf("convert: %w", err)
		}
		p.conv = conv

		if cfg.Overlay.Enabled {
			p.ts = overlay.New(overlay.Params{
				X:      cfg.Overlay.X,
				Y:      cfg.Overlay.Y,
				Factor: cfg.Overlay.Factor,
			})
		}
	}

	if p.stages&StageEncode != 0 && p.enc == nil {
		p.enc = encoder.NewSubprocess(cfg.Encoder, cfg.Convert.OutWidth, cfg.Convert.OutHeight)
	}

	if p.stages&StagePack != 0 {
		p.packer = rtp.NewPacker(rtp.Config{
			MaxPayloadLength: cfg.RTP.MaxPayloadLength,
			SSRC:             cfg.RTP.SSRC,
			PayloadType:      cfg.RTP.PayloadType,
		})
	}

	if p.stages&StageSend != 0 && p.sender == nil {
		if cfg.Network.Host == "" || cfg.Network.Port <= 0 {
			return nil, fmt.Errorf("network: host and port must be set for the send stage")
		}
		sender, err := output.NewSender(cfg.Network.Protocol, output.Config{
			Host: cfg.Network.Host,
			Port: cfg.Network.Port,
		})
		if err != nil {
			return nil, fmt.Errorf("network: %w", err)
		}
		p.sender = sender
	}

	if opts.DumpPath != "" && p.dump == nil {
		p.dump = output.NewFileSink(opts.DumpPath)
	}

	return p, nil
}

// Start brings up every component and launches the capture loop.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("pipeline already running")
	}

	if err := p.source.Start(); err != nil {
		return fmt.Errorf("capture start: %w", err)
	}
	if p.enc != nil {
		if err := p.enc.Start(); err != nil {
			p.source.Stop()
			return fmt.Errorf("encoder start: %w", err)
		}
	}
	if p.sender != nil {
		if err := p.sender.Start(); err != nil {
			p.stopComponentsLocked()
			return fmt.Errorf("sender start: %w", err)
		}
	}
	if p.dump != nil {
		if err := p.dump.Start(); err != nil {
			p.stopComponentsLocked()
			return fmt.Errorf("dump start: %w", err)
		}
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.running = true
	p.headersSent = false

	p.statsMu.Lock()
	p.stats = Stats{Running: true, StartTime: time.Now()}
	p.statsMu.Unlock()

	logger.WithComponent("pipeline").Info().
		Str("source", p.source.Name()).
		Int("stages", int(p.stages)).
		Msg("Pipeline started")

	go p.run(ctx)
	return nil
}

// Stop cancels the loop and shuts every component down.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done

	p.mu.Lock()
	p.stopComponentsLocked()
	p.mu.Unlock()

	p.statsMu.Lock()
	p.stats.Running = false
	p.statsMu.Unlock()

	logger.WithComponent("pipeline").Info().Msg("Pipeline stopped")
	return nil
}

func (p *Pipeline) stopComponentsLocked() {
	if p.dump != nil && p.dump.IsRunning() {
		p.dump.Stop()
	}
	if p.sender != nil && p.sender.IsRunning() {
		p.sender.Stop()
	}
	if p.enc != nil {
		p.enc.Stop()
	}
	p.source.Stop()
}

// run is the capture loop. Each stage hands off to the next; when a
// stage is disabled, its input goes to the dump sink instead.
func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	log := logger.WithComponent("pipeline")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := p.source.ReadFrame()
		if err != nil {
			log.Error().Err(err).Msg("Capture read failed")
			p.countError()
			time.Sleep(10 * time.Millisecond)
			continue
		}
		p.countFrame()

		if p.stages&StageConvert == 0 {
			p.writeDump(frame)
			continue
		}

		cvt, err := p.conv.Convert(frame)
		if err != nil {
			log.Error().Err(err).Msg("Convert failed")
			p.countError()
			continue
		}

		if p.ts != nil {
			if err := p.ts.Draw(cvt, p.cfg.Convert.OutWidth, p.cfg.Convert.OutHeight); err != nil {
				log.Warn().Err(err).Msg("Overlay draw failed")
			}
		}

		if p.stages&StageEncode == 0 {
			p.writeDump(cvt)
			continue
		}

		p.forwardHeaders(log)

		encoded, err := p.enc.Encode(cvt)
		if err != nil {
			log.Error().Err(err).Msg("Encode failed")
			p.countError()
			continue
		}
		if encoded.Empty() {
			continue
		}
		p.countEncoded(encoded.Type)

		if p.stages&StagePack == 0 {
			p.writeDump(encoded.Data)
			continue
		}
		p.packAndSend(log, encoded.Data)
	}
}

// forwardHeaders pushes the encoder's SPS/PPS downstream once they
// become available, and again after an encoder restart invalidates them.
func (p *Pipeline) forwardHeaders(log *zerolog.Logger) {
	headers := p.enc.Headers()
	if headers == nil {
		p.mu.Lock()
		p.headersSent = false
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	sent := p.headersSent
	p.headersSent = true
	p.mu.Unlock()
	if sent {
		return
	}

	log.Debug().Int("bytes", len(headers)).Msg("Forwarding parameter sets")
	if p.stages&StagePack == 0 {
		p.writeDump(headers)
		return
	}
	p.packAndSend(log, headers)
}

// packAndSend runs one Annex-B buffer through the packetizer and ships
// every packet it yields.
func (p *Pipeline) packAndSend(log *zerolog.Logger, buf []byte) {
	p.packer.Put(buf)
	for {
		pkt, err := p.packer.Get()
		if err != nil {
			log.Error().Err(err).Msg("Packetize failed")
			p.countError()
			return
		}
		if pkt == nil {
			return
		}
		p.countPacket(len(pkt))

		if p.stages&StageSend == 0 {
			p.writeDump(pkt)
			continue
		}
		if err := p.sender.Send(pkt); err != nil {
			log.Error().Err(err).Msg("Send failed")
			p.countError()
		}
	}
}

func (p *Pipeline) writeDump(buf []byte) {
	if p.dump == nil {
		return
	}
	if err := p.dump.Send(buf); err != nil {
		logger.WithComponent("pipeline").Error().Err(err).Msg("Dump write failed")
		p.countError()
	}
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	s := p.stats
	if s.Running {
		elapsed := time.Since(s.StartTime).Seconds()
		if elapsed > 0 {
			s.FPS = float64(s.FramesCaptured) / elapsed
		}
	}
	return s
}

// SetBitrate retargets the encoder. The restarted encoder re-emits
// parameter sets, which the loop forwards again.
func (p *Pipeline) SetBitrate(kbps int) error {
	p.mu.Lock()
	enc := p.enc
	p.mu.Unlock()

	if enc == nil {
		return fmt.Errorf("pipeline has no encoder stage")
	}
	if err := enc.SetBitrate(kbps); err != nil {
		return err
	}

	p.mu.Lock()
	p.headersSent = false
	p.cfg.Encoder.Bitrate = kbps
	p.mu.Unlock()
	return nil
}

// ForceKeyframe asks the encoder for an IDR at the next opportunity.
func (p *Pipeline) ForceKeyframe() error {
	p.mu.Lock()
	enc := p.enc
	p.mu.Unlock()

	if enc == nil {
		return fmt.Errorf("pipeline has no encoder stage")
	}
	return enc.ForceKeyframe()
}

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() config.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *Pipeline) countFrame() {
	p.statsMu.Lock()
	p.stats.FramesCaptured++
	p.statsMu.Unlock()
}

func (p *Pipeline) countEncoded(t encoder.PictureType) {
	p.statsMu.Lock()
	p.stats.FramesEncoded++
	if t == encoder.PictureIDR {
		p.stats.KeyFrames++
	}
	p.statsMu.Unlock()
}

func (p *Pipeline) countPacket(n int) {
	p.statsMu.Lock()
	p.stats.Packets++
	p.stats.BytesSent += uint64(n)
	p.statsMu.Unlock()
}

func (p *Pipeline) countError() {
	p.statsMu.Lock()
	p.stats.Errors++
	p.statsMu.Unlock()
}
