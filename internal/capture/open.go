package capture

import (
	"os"

	"github.com/camkit/camkit/internal/config"
	"github.com/camkit/camkit/internal/logger"
)

// Open picks the frame source for cfg: the configured device path when it
// exists and is readable, otherwise the synthetic test pattern.
func Open(cfg config.CaptureConfig) (Source, error) {
	log := logger.WithComponent("capture")

	if cfg.Device != "" {
		if _, err := os.Stat(cfg.Device); err != nil {
			log.Warn().Str("device", cfg.Device).Msg("Device not accessible, falling back to test pattern")
		} else if src, err := NewFileSource(cfg); err != nil {
			log.Warn().Str("device", cfg.Device).Err(err).Msg("Device not usable, falling back to test pattern")
		} else {
			log.Info().
				Str("device", cfg.Device).
				Int("width", cfg.Width).
				Int("height", cfg.Height).
				Str("format", string(cfg.Format)).
				Msg("Using device frame source")
			return src, nil
		}
	}

	src, err := NewPatternSource(cfg)
	if err != nil {
		return nil, err
	}
	log.Info().
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Str("format", string(cfg.Format)).
		Msg("Using test pattern source")
	return src, nil
}
