package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/camkit/camkit/internal/api"
	"github.com/camkit/camkit/internal/config"
	"github.com/camkit/camkit/internal/logger"
	"github.com/camkit/camkit/internal/pipeline"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Start the capture and streaming pipeline",
	Long: `Start the streaming pipeline and the HTTP API server.

The stage mask cuts the pipeline short for debugging:
  0   capture only
  1   capture + convert
  3   capture + convert + encode
  7   capture + convert + encode + pack
  15  capture + convert + encode + pack + send (default)

When a stage is disabled, use --dump to write the last active stage's
output to a file.`,
	Example: `  # Stream the default device to a receiver
  camkit stream --host 192.168.1.20 --rtp-port 5004

  # Dump the raw H.264 stream to a file instead of sending it
  camkit stream --stages 3 --dump out.h264

  # Use the synthetic test pattern at 1280x720
  camkit stream --device "" --width 1280 --height 720`,
	RunE: runStream,
}

var streamFlags struct {
	stages   int
	dump     string
	device   string
	width    int
	height   int
	format   string
	fps      int
	bitrate  int
	gop      int
	host     string
	rtpPort  int
	protocol string
}

func init() {
	rootCmd.AddCommand(streamCmd)

	f := streamCmd.Flags()
	f.IntVarP(&streamFlags.stages, "stages", "s", 15, "stage mask (0, 1, 3, 7 or 15)")
	f.StringVarP(&streamFlags.dump, "dump", "o", "", "dump last active stage's output to file")
	f.StringVarP(&streamFlags.device, "device", "i", "", "video device path (empty: test pattern)")
	f.IntVarP(&streamFlags.width, "width", "w", 0, "capture width")
	f.IntVar(&streamFlags.height, "height", 0, "capture height")
	f.StringVarP(&streamFlags.format, "format", "c", "", "capture pixel format (yuyv, i420, rgb24)")
	f.IntVarP(&streamFlags.fps, "fps", "f", 0, "capture frame rate")
	f.IntVarP(&streamFlags.bitrate, "bitrate", "r", 0, "encoder bitrate in kbps")
	f.IntVarP(&streamFlags.gop, "gop", "g", 0, "group of pictures size")
	f.StringVarP(&streamFlags.host, "host", "a", "", "stream receiver address")
	f.IntVarP(&streamFlags.rtpPort, "rtp-port", "p", 0, "stream receiver port")
	f.StringVar(&streamFlags.protocol, "protocol", "", "stream transport (udp or tcp)")
}

func runStream(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	cfg := configMgr.Get()
	if err := applyStreamFlags(cmd, &cfg); err != nil {
		return err
	}

	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			cfg.ServerPort = port
		}
	}
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			cfg.LogLevel = level
		}
	}
	logger.Init(cfg.LogLevel, viper.GetBool("pretty"))

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	stages, err := pipeline.ParseStages(streamFlags.stages)
	if err != nil {
		return err
	}

	log := logger.WithComponent("main")
	log.Info().Str("config", configMgr.Path()).Msg("Configuration loaded")

	p, err := pipeline.New(cfg, pipeline.Options{
		Stages:   stages,
		DumpPath: streamFlags.dump,
	})
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	server := api.NewServer(p, configMgr)
	go func() {
		if err := server.Start(cfg.ServerPort); err != nil {
			log.Error().Err(err).Msg("API server failed")
		}
	}()

	log.Info().
		Int("api_port", cfg.ServerPort).
		Int("stages", int(stages)).
		Msg("camkit is running, press Ctrl+C to stop")

	<-ctx.Done()

	log.Info().Msg("Shutting down")
	return p.Stop()
}

// applyStreamFlags overlays the command line onto the loaded
// configuration. Only flags the user actually set take effect.
func applyStreamFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("device") {
		cfg.Capture.Device = streamFlags.device
	}
	if streamFlags.width > 0 {
		cfg.Capture.Width = streamFlags.width
		cfg.Convert.OutWidth = streamFlags.width
	}
	if streamFlags.height > 0 {
		cfg.Capture.Height = streamFlags.height
		cfg.Convert.OutHeight = streamFlags.height
	}
	if streamFlags.format != "" {
		f, err := config.ParsePixelFormat(streamFlags.format)
		if err != nil {
			return err
		}
		cfg.Capture.Format = f
	}
	if streamFlags.fps > 0 {
		cfg.Capture.FPS = streamFlags.fps
		cfg.Encoder.FPS = streamFlags.fps
	}
	if streamFlags.bitrate > 0 {
		cfg.Encoder.Bitrate = streamFlags.bitrate
	}
	if streamFlags.gop > 0 {
		cfg.Encoder.GOP = streamFlags.gop
	}
	if streamFlags.host != "" {
		cfg.Network.Host = streamFlags.host
	}
	if streamFlags.rtpPort > 0 {
		cfg.Network.Port = streamFlags.rtpPort
	}
	if streamFlags.protocol != "" {
		cfg.Network.Protocol = streamFlags.protocol
	}
	return nil
}
