package seriallink

import "github.com/LCH-chanho/ECHO/pkg/classify"

// Handshake tokens.
const (
	Ping = "ping"
	Pong = "pong"
)

// Command is an outbound token.
type Command string

const (
	CmdInit  Command = "INIT"
	CmdNone  Command = "NONE"
	CmdSiren Command = "SIREN"
	CmdHorn  Command = "HORN"
)

func (c Command) String() string { return string(c) }

// CommandFor maps a confirmed class to its command.
func CommandFor(c classify.Class) (Command, bool) {
	switch c {
	case classify.None:
		return CmdNone, true
	case classify.Siren:
		return CmdSiren, true
	case classify.Horn:
		return CmdHorn, true
	}
	return "", false
}

// State is the connection state of a Link.
type State int32

const (
	Disconnected State = iota
	Connecting
	Handshaking
	Ready
	Faulted
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Ready:
		return "ready"
	case Faulted:
		return "faulted"
	}
	return "unknown"
}
