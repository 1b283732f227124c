package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/camkit/camkit/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage camkit configuration",
	Long:  `View and manage camkit configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Example: `  # Show configuration as YAML (default)
  camkit config show

  # Show configuration as JSON
  camkit config show --format json`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Example: `  # Set the encoder bitrate
  camkit config set encoder.bitrate 2000

  # Set the stream receiver
  camkit config set network.host 192.168.1.20
  camkit config set network.port 5004`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a configuration value",
	Example: `  # Get the encoder bitrate
  camkit config get encoder.bitrate`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	RunE:  runConfigPath,
}

var formatFlag string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg := configMgr.Get()

	switch formatFlag {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", formatFlag)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg := configMgr.Get()
	if err := setConfigKey(&cfg, key, value); err != nil {
		return err
	}
	if err := configMgr.Update(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Configuration updated: %s = %s\n", key, value)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg := configMgr.Get()
	value, err := getConfigKey(&cfg, args[0])
	if err != nil {
		return err
	}

	fmt.Println(value)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println(configMgr.Path())
	return nil
}

// setConfigKey mutates one dotted key of the configuration. Validation
// happens when the result is saved.
func setConfigKey(cfg *config.Config, key, value string) error {
	atoi := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid number for %s: %q", key, value)
		}
		return n, nil
	}

	var err error
	switch key {
	case "capture.device":
		cfg.Capture.Device = value
	case "capture.width":
		cfg.Capture.Width, err = atoi()
	case "capture.height":
		cfg.Capture.Height, err = atoi()
	case "capture.fps":
		cfg.Capture.FPS, err = atoi()
	case "capture.format":
		cfg.Capture.Format, err = config.ParsePixelFormat(value)
	case "convert.out_width":
		cfg.Convert.OutWidth, err = atoi()
	case "convert.out_height":
		cfg.Convert.OutHeight, err = atoi()
	case "encoder.bitrate":
		cfg.Encoder.Bitrate, err = atoi()
	case "encoder.gop":
		cfg.Encoder.GOP, err = atoi()
	case "encoder.fps":
		cfg.Encoder.FPS, err = atoi()
	case "encoder.binary":
		cfg.Encoder.Binary = value
	case "overlay.enabled":
		cfg.Overlay.Enabled, err = strconv.ParseBool(value)
	case "overlay.x":
		cfg.Overlay.X, err = atoi()
	case "overlay.y":
		cfg.Overlay.Y, err = atoi()
	case "overlay.factor":
		cfg.Overlay.Factor, err = atoi()
	case "rtp.max_payload_length":
		cfg.RTP.MaxPayloadLength, err = atoi()
	case "rtp.ssrc":
		var n int
		if n, err = atoi(); err == nil {
			cfg.RTP.SSRC = uint32(n)
		}
	case "rtp.payload_type":
		var n int
		if n, err = atoi(); err == nil {
			cfg.RTP.PayloadType = uint8(n)
		}
	case "network.protocol":
		cfg.Network.Protocol = value
	case "network.host":
		cfg.Network.Host = value
	case "network.port":
		cfg.Network.Port, err = atoi()
	case "server_port":
		cfg.ServerPort, err = atoi()
	case "log_level":
		cfg.LogLevel = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return err
}

func getConfigKey(cfg *config.Config, key string) (string, error) {
	switch key {
	case "capture.device":
		return cfg.Capture.Device, nil
	case "capture.width":
		return strconv.Itoa(cfg.Capture.Width), nil
	case "capture.height":
		return strconv.Itoa(cfg.Capture.Height), nil
	case "capture.fps":
		return strconv.Itoa(cfg.Capture.FPS), nil
	case "capture.format":
		return string(cfg.Capture.Format), nil
	case "convert.out_width":
		return strconv.Itoa(cfg.Convert.OutWidth), nil
	case "convert.out_height":
		return strconv.Itoa(cfg.Convert.OutHeight), nil
	case "encoder.bitrate":
		return strconv.Itoa(cfg.Encoder.Bitrate), nil
	case "encoder.gop":
		return strconv.Itoa(cfg.Encoder.GOP), nil
	case "encoder.fps":
		return strconv.Itoa(cfg.Encoder.FPS), nil
	case "encoder.binary":
		return cfg.Encoder.Binary, nil
	case "overlay.enabled":
		return strconv.FormatBool(cfg.Overlay.Enabled), nil
	case "overlay.x":
		return strconv.Itoa(cfg.Overlay.X), nil
	case "overlay.y":
		return strconv.Itoa(cfg.Overlay.Y), nil
	case "overlay.factor":
		return strconv.Itoa(cfg.Overlay.Factor), nil
	case "rtp.max_payload_length":
		return strconv.Itoa(cfg.RTP.MaxPayloadLength), nil
	case "rtp.ssrc":
		return strconv.FormatUint(uint64(cfg.RTP.SSRC), 10), nil
	case "rtp.payload_type":
		return strconv.Itoa(int(cfg.RTP.PayloadType)), nil
	case "network.protocol":
		return cfg.Network.Protocol, nil
	case "network.host":
		return cfg.Network.Host, nil
	case "network.port":
		return strconv.Itoa(cfg.Network.Port), nil
	case "server_port":
		return strconv.Itoa(cfg.ServerPort), nil
	case "log_level":
		return cfg.LogLevel, nil
	}
	return "", fmt.Errorf("unknown configuration key: %s", key)
}
