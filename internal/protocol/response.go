package protocol

import (
	"fmt"
	"io"
)

// Device identification reported on ID.
const (
	DeviceName         = "TensileTester"
	DeviceVersion      = "2.0.0"
	DeviceManufacturer = "DIY-Pico"
)

// Status is the numeric error code carried on ERROR lines.
type Status int

const (
	StatusOK Status = iota
	StatusUnknownCommand
	StatusInvalidParam
	StatusNotReady
	StatusBusy
	StatusOverload
	StatusLimitReached
	StatusNotHomed
	StatusEmergency
)

func (s Status) Description() string {
	switch s {
	case StatusUnknownCommand:
		return "Unknown command"
	case StatusInvalidParam:
		return "Invalid parameter"
	case StatusNotReady:
		return "Not ready"
	case StatusBusy:
		return "Busy"
	case StatusOverload:
		return "Force overload"
	case StatusLimitReached:
		return "Limit reached"
	case StatusNotHomed:
		return "Not homed"
	case StatusEmergency:
		return "Emergency stop"
	default:
		return "Unknown error"
	}
}

// DataPoint is one streamed measurement. Stress and strain stay zero; the
// firmware does not model specimen geometry.
type DataPoint struct {
	TimestampMS int64
	Force       float64 // N
	Extension   float64 // mm, relative to test start
	Stress      float64
	Strain      float64
}

// Responder formats response lines onto the host channel. Write failures
// are dropped; there is nothing the kernel can do about a dead host link
// mid-line.
type Responder struct {
	w         io.Writer
	streaming bool
}

func NewResponder(w io.Writer) *Responder {
	return &Responder{w: w}
}

func (r *Responder) SendOK(message string) {
	if message == "" {
		fmt.Fprintf(r.w, "OK\n")
		return
	}
	fmt.Fprintf(r.w, "OK %s\n", message)
}

func (r *Responder) SendError(status Status, message string) {
	if message == "" {
		fmt.Fprintf(r.w, "ERROR %d %s\n", int(status), status.Description())
		return
	}
	fmt.Fprintf(r.w, "ERROR %d %s: %s\n", int(status), status.Description(), message)
}

func (r *Responder) SendStatus(state string, force, position float64, running bool) {
	run := 0
	if running {
		run = 1
	}
	fmt.Fprintf(r.w, "STATUS %s F:%.2f P:%.3f R:%d\n", state, force, position, run)
}

func (r *Responder) SendForce(force float64) {
	fmt.Fprintf(r.w, "FORCE %.3f\n", force)
}

func (r *Responder) SendPosition(position float64) {
	fmt.Fprintf(r.w, "POS %.3f\n", position)
}

func (r *Responder) SendConfig(speed, maxForce, maxExtension float64, sampleRateMS int) {
	fmt.Fprintf(r.w, "CONFIG SPD:%.2f MAXF:%.1f MAXE:%.1f SR:%d\n",
		speed, maxForce, maxExtension, sampleRateMS)
}

// SendData streams one sample while a test is running.
func (r *Responder) SendData(p DataPoint) {
	fmt.Fprintf(r.w, "DATA %d,%.3f,%.4f,%.3f,%.6f\n",
		p.TimestampMS, p.Force, p.Extension, p.Stress, p.Strain)
}

func (r *Responder) SendIdentity() {
	fmt.Fprintf(r.w, "ID %s V%s %s\n", DeviceName, DeviceVersion, DeviceManufacturer)
}

// SetDataStreaming gates SendData emission from the kernel's record path.
func (r *Responder) SetDataStreaming(enable bool) {
	r.streaming = enable
}

func (r *Responder) DataStreaming() bool {
	return r.streaming
}
