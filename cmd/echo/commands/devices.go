package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LCH-chanho/ECHO/pkg/audio/portaudio"
	"github.com/LCH-chanho/ECHO/pkg/cli"
)

type deviceList []portaudio.DeviceInfo

func (d deviceList) Table() cli.Table {
	t := cli.Table{Headers: []string{"INDEX", "NAME", "HOST API", "CHANNELS", "RATE", "DEFAULT"}}
	for _, dev := range d {
		def := ""
		if dev.IsDefaultInput {
			def = "*"
		}
		t.Rows = append(t.Rows, []string{
			fmt.Sprint(dev.Index),
			dev.Name,
			dev.HostAPI,
			fmt.Sprint(dev.MaxInputChannels),
			fmt.Sprintf("%.0f", dev.DefaultSampleRate),
			def,
		})
	}
	return t
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := portaudio.Initialize(); err != nil {
			return err
		}
		defer portaudio.Terminate()

		devices, err := portaudio.InputDevices()
		if err != nil {
			return err
		}
		return output(cmd, deviceList(devices))
	},
}
