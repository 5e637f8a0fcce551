package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/haivivi/wakeword/pkg/audio/capture"
	"github.com/haivivi/wakeword/pkg/audio/miniaudio"
	"github.com/haivivi/wakeword/pkg/audio/portaudio"
	"github.com/haivivi/wakeword/pkg/cli"
	"github.com/haivivi/wakeword/pkg/wakeword"
)

var devicesBackend string

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	Long: `List the input devices of a capture backend. The index column is the
value for device_index in the config file or --device on run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend := devicesBackend
		if backend == "" {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			backend = cfg.CaptureBackend
		}
		list, err := lister(backend)
		if err != nil {
			return err
		}
		infos, err := list()
		if err != nil {
			return err
		}
		return output(cmd, infos, deviceTable(infos))
	},
}

func lister(backend string) (capture.Lister, error) {
	switch backend {
	case wakeword.CapturePortAudio:
		return portaudio.Devices, nil
	case wakeword.CaptureMiniaudio:
		return miniaudio.Devices, nil
	default:
		return nil, fmt.Errorf("backend %q has no devices to list", backend)
	}
}

func deviceTable(infos []capture.DeviceInfo) *cli.Table {
	t := &cli.Table{
		Styles:  styles(),
		Headers: []string{"INDEX", "NAME", "CHANNELS", "RATE", "DEFAULT"},
	}
	for _, d := range infos {
		def := ""
		if d.Default {
			def = "*"
		}
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(d.Index),
			d.Name,
			strconv.Itoa(d.InputChannels),
			cli.FormatRate(int(d.DefaultSampleRate)),
			def,
		})
	}
	return t
}

func init() {
	devicesCmd.Flags().StringVar(&devicesBackend, "backend", "", "capture backend: portaudio or miniaudio (default from config)")
	rootCmd.AddCommand(devicesCmd)
}
