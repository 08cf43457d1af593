package protocol

import (
	"strconv"
	"strings"
)

// Command is a single parsed host command token.
type Command string

const (
	CommandNone Command = ""

	// Test control
	CommandStart  Command = "START"
	CommandStop   Command = "STOP"
	CommandPause  Command = "PAUSE"
	CommandResume Command = "RESUME"
	CommandEStop  Command = "ESTOP"

	// Movement
	CommandUp   Command = "UP"
	CommandDown Command = "DOWN"
	CommandGoto Command = "GOTO"
	CommandHalt Command = "HALT"
	CommandHome Command = "HOME"

	// Configuration
	CommandSpeed      Command = "SPEED"
	CommandMaxForce   Command = "MAXFORCE"
	CommandMaxExt     Command = "MAXEXT"
	CommandSampleRate Command = "SRATE"

	// Calibration
	CommandTare      Command = "TARE"
	CommandCalibrate Command = "CAL"
	CommandCalFactor Command = "CALFACTOR"

	// Queries
	CommandStatus   Command = "STATUS"
	CommandForce    Command = "FORCE"
	CommandPosition Command = "POS"
	CommandConfig   Command = "CONFIG"
	CommandData     Command = "DATA"

	// System
	CommandReset    Command = "RESET"
	CommandIdentify Command = "ID"

	CommandUnknown Command = "UNKNOWN"
)

var commands = map[string]Command{
	"START":     CommandStart,
	"STOP":      CommandStop,
	"PAUSE":     CommandPause,
	"RESUME":    CommandResume,
	"ESTOP":     CommandEStop,
	"UP":        CommandUp,
	"DOWN":      CommandDown,
	"GOTO":      CommandGoto,
	"HALT":      CommandHalt,
	"HOME":      CommandHome,
	"SPEED":     CommandSpeed,
	"MAXFORCE":  CommandMaxForce,
	"MAXEXT":    CommandMaxExt,
	"SRATE":     CommandSampleRate,
	"TARE":      CommandTare,
	"CAL":       CommandCalibrate,
	"CALFACTOR": CommandCalFactor,
	"STATUS":    CommandStatus,
	"FORCE":     CommandForce,
	"POS":       CommandPosition,
	"CONFIG":    CommandConfig,
	"DATA":      CommandData,
	"RESET":     CommandReset,
	"ID":        CommandIdentify,
	"?":         CommandIdentify,
}

// Request is one parsed command line: a case-insensitive token plus an
// optional numeric parameter.
type Request struct {
	Cmd      Command
	Param    float64
	HasParam bool
}

// Parse tokenizes one command line. Empty lines yield CommandNone and
// unrecognized tokens CommandUnknown; a present but non-numeric parameter
// is treated as absent so the caller reports it as invalid.
func Parse(line string) Request {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Request{Cmd: CommandNone}
	}

	cmd, ok := commands[strings.ToUpper(fields[0])]
	if !ok {
		return Request{Cmd: CommandUnknown}
	}

	req := Request{Cmd: cmd}
	if len(fields) > 1 {
		if v, err := strconv.ParseFloat(fields[1], 64); err == nil {
			req.Param = v
			req.HasParam = true
		}
	}
	return req
}
