// echo listens for emergency-vehicle sounds and signals a serial peer.
//
// Usage:
//
//	echo run                        # live capture until Ctrl+C
//	echo replay recording.wav       # feed a WAV file through the pipeline
//	echo handshake                  # probe the serial board
//	echo devices                    # list audio input devices
//	echo events --since 24h         # show confirmed detections
//	echo config                     # print the effective configuration
//
// Settings are read from --config (YAML); missing keys use built-in defaults.
package main

import (
	"os"

	"github.com/LCH-chanho/ECHO/cmd/echo/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
