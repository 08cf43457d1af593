package kernel

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alexanderbarati/tensiletester/internal/hal"
	"github.com/alexanderbarati/tensiletester/internal/loadcell"
	"github.com/alexanderbarati/tensiletester/internal/motion"
	"github.com/alexanderbarati/tensiletester/internal/protocol"
)

const (
	breakDetectMinPeak = 10.0 // N of peak force before break detection arms
	minSampleRateMS    = 10
	maxSampleRateMS    = 10000
	statusInterval     = 200 * time.Millisecond
	archiveTimeout     = 5 * time.Second
)

// TestRun is one archived test: identity, the parameters it ran with and
// the finalized result.
type TestRun struct {
	ID        uuid.UUID
	StartedAt time.Time
	Params    TestParameters
	Result    TestResult
}

// ResultStore archives finalized test runs. Implementations must tolerate
// being called from a short-lived background goroutine.
type ResultStore interface {
	SaveTestRun(ctx context.Context, run TestRun) error
}

// Controller is the execution kernel: a cooperative state machine driven by
// Update ticks that coordinates motion, force acquisition, the safety
// envelope and data recording. It owns the machine state, TestParameters
// and TestResult exclusively; all methods must be called from the single
// scheduler goroutine.
type Controller struct {
	logger  *zap.Logger
	stepper *motion.Stepper
	cell    *loadcell.LoadCell
	resp    *protocol.Responder
	estop   hal.DigitalInput
	store   ResultStore

	statusLED hal.DigitalOutput
	errorLED  hal.DigitalOutput

	state         State
	previousState State
	stateEntry    time.Time

	params TestParameters
	limits Limits
	result TestResult
	runID  uuid.UUID

	testStart       time.Time
	startPosition   float64
	peakForce       float64
	extensionAtPeak float64
	finalized       bool

	jogActive bool

	sampler sampler

	lastStatusTime time.Time
	ledOn          bool

	tareSamples int

	now func() time.Time
}

// NewController wires the kernel to its collaborators. defaults become the
// initial TestParameters; limits bound what the setters accept later.
func NewController(
	logger *zap.Logger,
	stepper *motion.Stepper,
	cell *loadcell.LoadCell,
	resp *protocol.Responder,
	estop hal.DigitalInput,
	defaults TestParameters,
	limits Limits,
) *Controller {
	c := &Controller{
		logger:        logger,
		stepper:       stepper,
		cell:          cell,
		resp:          resp,
		estop:         estop,
		statusLED:     hal.NewOutput(),
		errorLED:      hal.NewOutput(),
		state:         StateIdle,
		previousState: StateIdle,
		params:        defaults,
		limits:        limits,
		tareSamples:   10,
		now:           time.Now,
	}
	c.stateEntry = c.now()
	return c
}

// SetResultStore attaches an optional archive for finalized runs.
func (c *Controller) SetResultStore(store ResultStore) {
	c.store = store
}

// SetIndicators attaches the status and error LEDs.
func (c *Controller) SetIndicators(status, errorLED hal.DigitalOutput) {
	c.statusLED = status
	c.errorLED = errorLED
}

// SetTimeSource overrides the kernel clock, for simulation rigs.
func (c *Controller) SetTimeSource(now func() time.Time) {
	c.now = now
}

// SetTareSamples sets how many raw samples a TARE averages.
func (c *Controller) SetTareSamples(n int) {
	if n > 0 {
		c.tareSamples = n
	}
}

// Update runs one scheduler tick. Invariant order: the emergency input is
// polled first and preempts everything, then force acquisition refreshes,
// then motion advances, then the per-state logic runs.
func (c *Controller) Update() {
	now := c.now()

	if c.estop.Read() && c.state != StateEmergency {
		c.EmergencyStop()
		return
	}

	if _, err := c.cell.ReadForce(); err != nil {
		c.logger.Debug("force read failed", zap.Error(err))
	}

	if c.state != StateHoming && c.stepper.Enabled() {
		c.stepper.Run()
	}

	switch c.state {
	case StateIdle, StateReady:
		if c.jogActive && !c.stepper.Moving() {
			c.jogActive = false
		}
		if c.state == StateReady && !c.checkSafety() {
			c.setState(StateError)
		}
	case StateHoming:
		c.updateHoming()
	case StateRunning:
		c.updateRunning(now)
	case StatePaused, StateStopped, StateEmergency, StateError:
		// Waiting on a command.
	}

	c.updateIndicators(now)
}

func (c *Controller) updateHoming() {
	switch c.stepper.UpdateHoming() {
	case motion.HomingComplete:
		c.setState(StateReady)
	case motion.HomingFailed:
		c.setState(StateError)
	}
}

func (c *Controller) updateRunning(now time.Time) {
	if !c.checkSafety() {
		c.endTest(StateError, now)
		c.resp.SendError(protocol.StatusLimitReached, "Limit switch triggered")
		return
	}

	force := c.cell.LastForce()
	if force >= c.params.MaxForce || c.cell.IsOverload() {
		c.endTest(StateStopped, now)
		c.resp.SendError(protocol.StatusOverload, "Force limit exceeded")
		return
	}

	extension := c.stepper.PositionMM() - c.startPosition
	if extension >= c.params.MaxExtension {
		c.endTest(StateStopped, now)
		c.resp.SendOK("Extension limit reached")
		return
	}

	if force > c.peakForce {
		c.peakForce = force
		c.extensionAtPeak = extension
	}

	if c.params.StopOnBreak && c.detectBreak(force) {
		c.result.SpecimenBroke = true
		c.result.BreakForce = force
		c.result.BreakExtension = extension
		c.endTest(StateStopped, now)
		c.resp.SendOK("Specimen break detected")
		return
	}

	if !c.stepper.Moving() {
		c.result.Completed = true
		c.endTest(StateStopped, now)
		c.resp.SendOK("Test completed")
		return
	}

	interval := time.Duration(c.params.SampleRateMS) * time.Millisecond
	if c.sampler.observe(now, force, interval) {
		c.recordDataPoint(now, force, extension)
	}
}

// detectBreak fires on a relative force drop from the running peak. It is
// disarmed until the peak clears 10 N to avoid false positives at low load.
func (c *Controller) detectBreak(force float64) bool {
	if c.peakForce < breakDetectMinPeak {
		return false
	}
	dropRatio := 1.0 - force/c.peakForce
	return dropRatio > c.params.BreakThreshold
}

func (c *Controller) recordDataPoint(now time.Time, force, extension float64) {
	c.result.DataPoints++
	if c.resp.DataStreaming() {
		c.resp.SendData(protocol.DataPoint{
			TimestampMS: now.Sub(c.testStart).Milliseconds(),
			Force:       force,
			Extension:   extension,
		})
	}
}

// checkSafety verifies the limit switches against the travel direction.
func (c *Controller) checkSafety() bool {
	if c.stepper.AtTopLimit() && c.stepper.CurrentDirection() == motion.DirectionUp {
		c.stepper.Stop()
		return false
	}
	if c.stepper.AtBottomLimit() && c.stepper.CurrentDirection() == motion.DirectionDown {
		c.stepper.Stop()
		return false
	}
	return true
}

// StartTest arms a test from READY: result reset, trackers zeroed, motion
// toward the extension limit, streaming on. Any other state is a no-op
// returning false with no side effects.
func (c *Controller) StartTest() bool {
	if c.state != StateReady {
		return false
	}

	now := c.now()
	c.result = TestResult{}
	c.finalized = false
	c.runID = uuid.New()
	c.testStart = now
	c.startPosition = c.stepper.PositionMM()
	c.peakForce = 0
	c.extensionAtPeak = 0
	c.sampler.reset(now)

	c.stepper.SetSpeedMMPerSec(c.params.Speed)
	c.stepper.Enable()
	c.stepper.MoveToMM(c.params.MaxExtension)

	c.resp.SetDataStreaming(true)
	c.setState(StateRunning)

	c.logger.Info("test started",
		zap.String("run_id", c.runID.String()),
		zap.Float64("speed", c.params.Speed),
		zap.Float64("max_force", c.params.MaxForce),
		zap.Float64("max_extension", c.params.MaxExtension))
	return true
}

// StopTest ends a running or paused test into STOPPED.
func (c *Controller) StopTest() {
	if c.state == StateRunning || c.state == StatePaused {
		c.endTest(StateStopped, c.now())
	}
}

func (c *Controller) PauseTest() {
	if c.state == StateRunning {
		c.stepper.StopSmooth()
		c.setState(StatePaused)
	}
}

func (c *Controller) ResumeTest() {
	if c.state == StatePaused {
		c.stepper.MoveToMM(c.params.MaxExtension)
		c.setState(StateRunning)
	}
}

// EmergencyStop cuts motion and the motor driver, finalizes any active test
// and latches EMERGENCY. Only RESET with the input released clears it.
func (c *Controller) EmergencyStop() {
	c.stepper.Stop()
	c.stepper.Disable()

	c.errorLED.Set(true)
	c.statusLED.Set(false)

	if c.state == StateRunning || c.state == StatePaused {
		c.finalizeTest(c.now())
		c.resp.SetDataStreaming(false)
	}

	c.setState(StateEmergency)
}

// ClearEmergency leaves EMERGENCY once the hardware input is released.
func (c *Controller) ClearEmergency() bool {
	if c.state != StateEmergency || c.estop.Read() {
		return false
	}
	c.errorLED.Set(false)
	c.setState(StateIdle)
	return true
}

// StartHoming begins the cooperative homing sequence toward the bottom limit.
func (c *Controller) StartHoming() bool {
	if c.state != StateIdle && c.state != StateReady && c.state != StateStopped {
		return false
	}
	if err := c.stepper.BeginHoming(motion.DirectionDown); err != nil {
		c.logger.Error("homing rejected", zap.Error(err))
		return false
	}
	c.setState(StateHoming)
	return true
}

// Jog moves the crosshead manually: a positive distance is a bounded move,
// zero keeps moving until HALT or a limit.
func (c *Controller) Jog(dir motion.Direction, distanceMM float64) {
	if c.state == StateRunning || c.state == StateEmergency {
		return
	}
	if !c.stepper.Enabled() {
		c.stepper.Enable()
	}
	c.jogActive = true
	if distanceMM > 0 {
		if dir == motion.DirectionUp {
			c.stepper.MoveByMM(distanceMM)
		} else {
			c.stepper.MoveByMM(-distanceMM)
		}
		return
	}
	c.stepper.SetDirection(dir)
	if dir == motion.DirectionUp {
		c.stepper.MoveTo(1 << 30)
	} else {
		c.stepper.MoveTo(-(1 << 30))
	}
}

// StopJog ramps any manual movement down.
func (c *Controller) StopJog() {
	c.stepper.StopSmooth()
	c.jogActive = false
}

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) PreviousState() State {
	return c.previousState
}

// StateEntryTime reports when the current state was entered.
func (c *Controller) StateEntryTime() time.Time {
	return c.stateEntry
}

func (c *Controller) CurrentForce() float64 {
	return c.cell.LastForce()
}

func (c *Controller) CurrentPosition() float64 {
	return c.stepper.PositionMM()
}

func (c *Controller) Params() TestParameters {
	return c.params
}

func (c *Controller) Result() TestResult {
	return c.result
}

// TestActive reports whether a test is running or paused.
func (c *Controller) TestActive() bool {
	return c.state == StateRunning || c.state == StatePaused
}

// SetTestSpeed updates the test speed when within (0, MaxSpeed]. The return
// value reports acceptance; rejected values leave the parameter untouched.
func (c *Controller) SetTestSpeed(speed float64) bool {
	if speed <= 0 || speed > c.limits.MaxSpeed {
		return false
	}
	c.params.Speed = speed
	c.stepper.SetSpeedMMPerSec(speed)
	return true
}

func (c *Controller) SetMaxForce(force float64) bool {
	if force <= 0 || force > c.limits.MaxForce {
		return false
	}
	c.params.MaxForce = force
	return true
}

func (c *Controller) SetMaxExtension(extension float64) bool {
	if extension <= 0 || extension > c.limits.MaxExtension {
		return false
	}
	c.params.MaxExtension = extension
	return true
}

func (c *Controller) SetSampleRate(rateMS int) bool {
	if rateMS < minSampleRateMS || rateMS > maxSampleRateMS {
		return false
	}
	c.params.SampleRateMS = rateMS
	return true
}

func (c *Controller) setState(next State) {
	c.previousState = c.state
	c.state = next
	c.stateEntry = c.now()
	c.logger.Info("machine state changed",
		zap.String("from", string(c.previousState)),
		zap.String("to", string(next)))
}

// endTest stops motion, finalizes the result once, disables streaming and
// enters the terminal state for this test.
func (c *Controller) endTest(next State, now time.Time) {
	c.stepper.Stop()
	c.finalizeTest(now)
	c.resp.SetDataStreaming(false)
	c.setState(next)
}

func (c *Controller) finalizeTest(now time.Time) {
	if c.finalized {
		return
	}
	c.finalized = true
	c.result.MaxForce = c.peakForce
	c.result.MaxExtension = c.extensionAtPeak
	c.result.DurationMS = now.Sub(c.testStart).Milliseconds()

	c.logger.Info("test finalized",
		zap.String("run_id", c.runID.String()),
		zap.Float64("max_force", c.result.MaxForce),
		zap.Int64("duration_ms", c.result.DurationMS),
		zap.Int("data_points", c.result.DataPoints),
		zap.Bool("completed", c.result.Completed),
		zap.Bool("specimen_broke", c.result.SpecimenBroke))

	if c.store != nil {
		run := TestRun{ID: c.runID, StartedAt: c.testStart, Params: c.params, Result: c.result}
		store, logger := c.store, c.logger
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
			defer cancel()
			if err := store.SaveTestRun(ctx, run); err != nil {
				logger.Error("failed to archive test run",
					zap.String("run_id", run.ID.String()), zap.Error(err))
			}
		}()
	}
}

func (c *Controller) updateIndicators(now time.Time) {
	if now.Sub(c.lastStatusTime) < statusInterval {
		return
	}
	c.lastStatusTime = now
	c.ledOn = !c.ledOn

	switch c.state {
	case StateIdle, StateStopped:
		c.statusLED.Set(false)
	case StateReady:
		c.statusLED.Set(true)
	case StateRunning:
		c.statusLED.Set(c.ledOn)
	case StatePaused:
		c.statusLED.Set(c.ledOn && now.UnixMilli()%1000 < 500)
	case StateError, StateEmergency:
		c.errorLED.Set(c.ledOn)
	}
}
