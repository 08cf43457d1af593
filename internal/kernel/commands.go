package kernel

import (
	"go.uber.org/zap"

	"github.com/alexanderbarati/tensiletester/internal/motion"
	"github.com/alexanderbarati/tensiletester/internal/protocol"
)

// HandleCommand dispatches one parsed host command. Command errors answer
// with an ERROR line and never change machine state. Movement commands are
// gated while a test or homing owns the axis; the kernel's own motion target
// cannot be overridden mid-test.
func (c *Controller) HandleCommand(req protocol.Request) {
	switch req.Cmd {
	case protocol.CommandNone:
		return

	case protocol.CommandStart:
		if c.state != StateReady {
			if !c.stepper.Homed() {
				c.resp.SendError(protocol.StatusNotHomed, "")
			} else {
				c.resp.SendError(protocol.StatusNotReady, "")
			}
			return
		}
		c.StartTest()
		c.resp.SendOK("Test started")

	case protocol.CommandStop:
		c.StopTest()
		c.resp.SendOK("Test stopped")

	case protocol.CommandPause:
		c.PauseTest()
		c.resp.SendOK("Test paused")

	case protocol.CommandResume:
		c.ResumeTest()
		c.resp.SendOK("Test resumed")

	case protocol.CommandEStop:
		c.EmergencyStop()
		c.resp.SendOK("Emergency stop")

	case protocol.CommandUp, protocol.CommandDown:
		if !c.allowMovement() {
			return
		}
		dir := motion.DirectionUp
		if req.Cmd == protocol.CommandDown {
			dir = motion.DirectionDown
		}
		distance := 0.0
		if req.HasParam {
			distance = req.Param
		}
		c.Jog(dir, distance)
		c.resp.SendOK("")

	case protocol.CommandGoto:
		if !c.allowMovement() {
			return
		}
		if !req.HasParam {
			c.resp.SendError(protocol.StatusInvalidParam, "")
			return
		}
		if !c.stepper.Enabled() {
			c.stepper.Enable()
		}
		c.stepper.MoveToMM(req.Param)
		c.resp.SendOK("")

	case protocol.CommandHalt:
		if !c.allowMovement() {
			return
		}
		c.StopJog()
		c.resp.SendOK("")

	case protocol.CommandHome:
		if c.StartHoming() {
			c.resp.SendOK("Homing started")
		} else {
			c.resp.SendError(protocol.StatusBusy, "")
		}

	case protocol.CommandSpeed:
		c.applySetter(req, c.SetTestSpeed)

	case protocol.CommandMaxForce:
		c.applySetter(req, c.SetMaxForce)

	case protocol.CommandMaxExt:
		c.applySetter(req, c.SetMaxExtension)

	case protocol.CommandSampleRate:
		if !req.HasParam {
			c.resp.SendError(protocol.StatusInvalidParam, "")
			return
		}
		if !c.SetSampleRate(int(req.Param)) {
			c.logger.Warn("sample rate rejected", zap.Float64("value", req.Param))
		}
		c.resp.SendOK("")

	case protocol.CommandTare:
		if c.TestActive() || c.state == StateHoming {
			c.resp.SendError(protocol.StatusBusy, "")
			return
		}
		if err := c.cell.Tare(c.tareSamples); err != nil {
			c.logger.Error("tare failed", zap.Error(err))
			c.resp.SendError(protocol.StatusNotReady, "Tare failed")
			return
		}
		c.resp.SendOK("Tared")

	case protocol.CommandCalibrate:
		c.resp.SendError(protocol.StatusNotReady, "Not implemented")

	case protocol.CommandCalFactor:
		if !req.HasParam {
			c.resp.SendError(protocol.StatusInvalidParam, "")
			return
		}
		if !c.cell.SetCalibrationFactor(req.Param) {
			c.resp.SendError(protocol.StatusInvalidParam, "")
			return
		}
		c.resp.SendOK("")

	case protocol.CommandStatus:
		c.resp.SendStatus(string(c.state), c.CurrentForce(), c.CurrentPosition(), c.TestActive())

	case protocol.CommandForce:
		c.resp.SendForce(c.CurrentForce())

	case protocol.CommandPosition:
		c.resp.SendPosition(c.CurrentPosition())

	case protocol.CommandConfig:
		c.resp.SendConfig(c.params.Speed, c.params.MaxForce, c.params.MaxExtension, c.params.SampleRateMS)

	case protocol.CommandData:
		if !c.TestActive() {
			c.resp.SendError(protocol.StatusNotReady, "No test running")
			return
		}
		c.resp.SendData(protocol.DataPoint{
			TimestampMS: c.now().Sub(c.testStart).Milliseconds(),
			Force:       c.CurrentForce(),
			Extension:   c.CurrentPosition() - c.startPosition,
		})

	case protocol.CommandReset:
		if c.state == StateEmergency {
			if !c.ClearEmergency() {
				c.resp.SendError(protocol.StatusEmergency, "Release emergency stop first")
				return
			}
		} else {
			c.setState(StateIdle)
		}
		c.resp.SendOK("Reset")

	case protocol.CommandIdentify:
		c.resp.SendIdentity()

	default:
		c.resp.SendError(protocol.StatusUnknownCommand, "")
	}
}

// applySetter handles the numeric parameter commands: a missing parameter is
// a command error, an out-of-range value is dropped silently on the wire and
// only logged.
func (c *Controller) applySetter(req protocol.Request, set func(float64) bool) {
	if !req.HasParam {
		c.resp.SendError(protocol.StatusInvalidParam, "")
		return
	}
	if !set(req.Param) {
		c.logger.Warn("parameter rejected",
			zap.String("command", string(req.Cmd)), zap.Float64("value", req.Param))
	}
	c.resp.SendOK("")
}

// allowMovement gates jog and goto commands. The answer is already written
// when false is returned.
func (c *Controller) allowMovement() bool {
	switch c.state {
	case StateEmergency:
		c.resp.SendError(protocol.StatusEmergency, "")
		return false
	case StateRunning, StatePaused, StateHoming:
		c.resp.SendError(protocol.StatusBusy, "")
		return false
	default:
		return true
	}
}
