package seriallink

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is the byte channel to the peer. A Read that times out returns
// 0, nil. go.bug.st/serial ports satisfy Port.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Opener opens the named port at the given baud rate.
type Opener func(name string, baud int) (Port, error)

// OpenSerial opens a real serial device, 8N1.
func OpenSerial(name string, baud int) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("seriallink: open %s: %w", name, err)
	}
	return p, nil
}

// Ports lists the serial devices present on the system.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
