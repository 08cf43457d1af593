package motion

import (
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/alexanderbarati/tensiletester/internal/hal"
)

// Direction of crosshead travel. Up is the tension direction.
type Direction int

const (
	DirectionUp Direction = iota
	DirectionDown
)

func (d Direction) String() string {
	if d == DirectionUp {
		return "up"
	}
	return "down"
}

// Opposite returns the reversed direction.
func (d Direction) Opposite() Direction {
	if d == DirectionUp {
		return DirectionDown
	}
	return DirectionUp
}

// HomingStatus is the per-tick outcome of a homing sequence.
type HomingStatus int

const (
	HomingIdle HomingStatus = iota
	HomingInProgress
	HomingComplete
	HomingFailed
)

type homingPhase int

const (
	phaseIdle homingPhase = iota
	phaseSeek
	phaseBackoff
)

const (
	// Below this pulse rate the DM542T risks stalling, so profiles
	// decelerate to it instead of to a full stop mid-move.
	minCruiseSpeed = 100.0 // steps/s

	stepPulseWidth = 3 * time.Microsecond
	dirSetupTime   = 5 * time.Microsecond

	homingTimeout         = 60 * time.Second
	homingSeekFraction    = 0.5
	homingBackoffFraction = 0.1
	homingBackoffMM       = 2.0
)

// Config holds the motor and lead-screw constants.
type Config struct {
	StepsPerRev   int     // full steps per motor revolution
	Microstepping int     // driver microstep factor
	LeadMM        float64 // lead-screw travel per revolution (mm)
	MaxSpeed      float64 // steps/s
	Acceleration  float64 // steps/s²
}

// Pins are the driver outputs. Enable is active low (DM542T).
type Pins struct {
	Step   hal.DigitalOutput
	Dir    hal.DigitalOutput
	Enable hal.DigitalOutput
}

// Stepper drives a single-axis lead-screw crosshead through a step/dir
// driver. All methods are non-blocking and must be called from the one
// scheduler goroutine; Run advances at most one pulse per call with the
// pulse timing decoupled from the tick rate.
type Stepper struct {
	logger *zap.Logger
	pins   Pins

	topLimit    hal.DigitalInput
	bottomLimit hal.DigitalInput
	hasLimits   bool

	currentPos int64
	targetPos  int64

	speed        float64 // signed, steps/s
	maxSpeed     float64
	acceleration float64
	stepInterval time.Duration

	lastStepTime  time.Time
	lastSpeedCalc time.Time

	enabled bool
	homed   bool

	direction Direction
	dirKnown  bool

	stepsPerMM float64

	homing struct {
		phase       homingPhase
		dir         Direction
		started     time.Time
		backoffLeft int64
	}

	now   func() time.Time
	delay func(time.Duration)
}

// NewStepper creates a stepper controller. The driver starts disabled.
func NewStepper(cfg Config, pins Pins, logger *zap.Logger) *Stepper {
	s := &Stepper{
		logger:       logger,
		pins:         pins,
		maxSpeed:     cfg.MaxSpeed,
		acceleration: cfg.Acceleration,
		stepsPerMM:   float64(cfg.StepsPerRev*cfg.Microstepping) / cfg.LeadMM,
		now:          time.Now,
		delay:        time.Sleep,
	}
	pins.Step.Set(false)
	pins.Dir.Set(false)
	pins.Enable.Set(true) // high = disabled
	return s
}

// SetTimeSource overrides the clock used for pulse and homing timing.
// Simulation rigs drive it; production uses time.Now.
func (s *Stepper) SetTimeSource(now func() time.Time) {
	s.now = now
}

// Enable powers the motor driver.
func (s *Stepper) Enable() {
	if s.enabled {
		return
	}
	s.pins.Enable.Set(false) // low = enabled
	s.enabled = true
	s.delay(10 * time.Millisecond) // driver wake-up
	s.logger.Debug("stepper enabled")
}

// Disable cuts the motor driver. Position state is retained.
func (s *Stepper) Disable() {
	s.pins.Enable.Set(true)
	s.enabled = false
	s.logger.Debug("stepper disabled")
}

func (s *Stepper) Enabled() bool {
	return s.enabled
}

// SetMaxSpeed sets the profile ceiling in steps/s.
func (s *Stepper) SetMaxSpeed(speed float64) {
	speed = math.Abs(speed)
	s.maxSpeed = speed
	if math.Abs(s.speed) > speed {
		if s.speed > 0 {
			s.speed = speed
		} else {
			s.speed = -speed
		}
	}
}

// SetAcceleration sets the profile acceleration in steps/s².
func (s *Stepper) SetAcceleration(accel float64) {
	s.acceleration = math.Abs(accel)
}

// SetSpeedMMPerSec sets the profile ceiling in crosshead mm/s.
func (s *Stepper) SetSpeedMMPerSec(mmPerSec float64) {
	s.SetMaxSpeed(mmPerSec * s.stepsPerMM)
}

// SetSpeed sets the instantaneous speed used by RunAtConstantSpeed.
func (s *Stepper) SetSpeed(stepsPerSec float64) {
	s.speed = stepsPerSec
}

// MoveTo sets an absolute target in steps.
func (s *Stepper) MoveTo(position int64) {
	s.targetPos = position
}

// MoveToMM sets an absolute target in mm.
func (s *Stepper) MoveToMM(positionMM float64) {
	s.MoveTo(s.MMToSteps(positionMM))
}

// MoveBy sets a target relative to the current position, in steps.
func (s *Stepper) MoveBy(steps int64) {
	s.MoveTo(s.currentPos + steps)
}

// MoveByMM sets a target relative to the current position, in mm.
func (s *Stepper) MoveByMM(distanceMM float64) {
	s.MoveBy(s.MMToSteps(distanceMM))
}

// Run advances the trapezoidal profile by at most one pulse. It returns
// false once the target is reached or travel is clamped by a limit switch.
func (s *Stepper) Run() bool {
	if !s.enabled {
		return false
	}
	dist := s.DistanceToGo()
	if dist == 0 {
		s.speed = 0
		s.stepInterval = 0
		return false
	}

	if s.hasLimits {
		if dist > 0 && s.AtTopLimit() {
			s.targetPos = s.currentPos
			return false
		}
		if dist < 0 && s.AtBottomLimit() {
			s.targetPos = s.currentPos
			return false
		}
	}

	now := s.now()
	s.computeNewSpeed(now)
	if s.stepInterval <= 0 {
		return true
	}
	if now.Sub(s.lastStepTime) >= s.stepInterval {
		if dist > 0 {
			s.pulse(DirectionUp)
		} else {
			s.pulse(DirectionDown)
		}
		s.lastStepTime = now
	}
	return true
}

// RunAtConstantSpeed emits one pulse in the set direction when the interval
// for the set speed has elapsed. No acceleration is applied; the jog and
// homing paths use it. Returns true when a step was taken.
func (s *Stepper) RunAtConstantSpeed() bool {
	if !s.enabled || s.speed == 0 {
		return false
	}
	if s.hasLimits {
		if s.direction == DirectionUp && s.AtTopLimit() {
			return false
		}
		if s.direction == DirectionDown && s.AtBottomLimit() {
			return false
		}
	}
	interval := time.Duration(float64(time.Second) / math.Abs(s.speed))
	now := s.now()
	if now.Sub(s.lastStepTime) < interval {
		return false
	}
	s.pulse(s.direction)
	s.lastStepTime = now
	return true
}

// Stop halts immediately: the target collapses onto the current position.
func (s *Stepper) Stop() {
	s.targetPos = s.currentPos
	s.speed = 0
	s.homing.phase = phaseIdle
}

// StopSmooth retargets to the nearest position reachable under the
// configured deceleration, so the profile ramps down instead of halting.
func (s *Stepper) StopSmooth() {
	stepsToStop := int64((s.speed * s.speed) / (2 * s.acceleration))
	if s.speed > 0 {
		s.targetPos = s.currentPos + stepsToStop
	} else {
		s.targetPos = s.currentPos - stepsToStop
	}
}

// Moving reports whether the profile has distance left to travel.
func (s *Stepper) Moving() bool {
	return s.currentPos != s.targetPos
}

func (s *Stepper) Position() int64 {
	return s.currentPos
}

func (s *Stepper) PositionMM() float64 {
	return s.StepsToMM(s.currentPos)
}

func (s *Stepper) TargetPosition() int64 {
	return s.targetPos
}

func (s *Stepper) DistanceToGo() int64 {
	return s.targetPos - s.currentPos
}

// Speed returns the current signed profile speed in steps/s.
func (s *Stepper) Speed() float64 {
	return s.speed
}

// SetPosition overwrites the position without moving.
func (s *Stepper) SetPosition(position int64) {
	s.currentPos = position
	s.targetPos = position
	s.speed = 0
}

// ResetPosition zeroes the position reference.
func (s *Stepper) ResetPosition() {
	s.SetPosition(0)
}

// SetDirection latches the travel direction output for constant-speed runs.
func (s *Stepper) SetDirection(dir Direction) {
	s.applyDirection(dir)
}

// CurrentDirection returns the last latched travel direction.
func (s *Stepper) CurrentDirection() Direction {
	return s.direction
}

func (s *Stepper) StepsToMM(steps int64) float64 {
	return float64(steps) / s.stepsPerMM
}

func (s *Stepper) MMToSteps(mm float64) int64 {
	return int64(mm * s.stepsPerMM)
}

// SetLimitSwitches wires the travel limit inputs.
func (s *Stepper) SetLimitSwitches(top, bottom hal.DigitalInput) {
	s.topLimit = top
	s.bottomLimit = bottom
	s.hasLimits = true
}

func (s *Stepper) AtTopLimit() bool {
	if !s.hasLimits {
		return false
	}
	return s.topLimit.Read()
}

func (s *Stepper) AtBottomLimit() bool {
	if !s.hasLimits {
		return false
	}
	return s.bottomLimit.Read()
}

func (s *Stepper) Homed() bool {
	return s.homed
}

// BeginHoming starts the homing sub-state machine toward the given limit.
// UpdateHoming must then be called every scheduler tick; the sequence never
// blocks, so the emergency path stays live throughout.
func (s *Stepper) BeginHoming(dir Direction) error {
	if !s.hasLimits {
		return errors.New("motion: homing requires limit switches")
	}
	if !s.enabled {
		s.Enable()
	}
	s.homed = false
	s.homing.phase = phaseSeek
	s.homing.dir = dir
	s.homing.started = s.now()
	s.applyDirection(dir)
	s.speed = s.maxSpeed * homingSeekFraction
	s.logger.Info("homing started", zap.String("direction", dir.String()))
	return nil
}

// UpdateHoming advances the homing sequence by one tick: seek the limit at
// half speed (bounded by a 60 s timeout), back off 2 mm at 10% speed, then
// zero the position and mark the axis homed.
func (s *Stepper) UpdateHoming() HomingStatus {
	switch s.homing.phase {
	case phaseSeek:
		if s.limitFor(s.homing.dir) {
			s.applyDirection(s.homing.dir.Opposite())
			s.speed = s.maxSpeed * homingBackoffFraction
			s.homing.backoffLeft = s.MMToSteps(homingBackoffMM)
			s.homing.phase = phaseBackoff
			return HomingInProgress
		}
		if s.now().Sub(s.homing.started) >= homingTimeout {
			s.homing.phase = phaseIdle
			s.speed = 0
			s.logger.Error("homing timeout", zap.Duration("timeout", homingTimeout))
			return HomingFailed
		}
		s.RunAtConstantSpeed()
		return HomingInProgress
	case phaseBackoff:
		if s.homing.backoffLeft <= 0 {
			s.ResetPosition()
			s.homed = true
			s.homing.phase = phaseIdle
			s.logger.Info("homing complete")
			return HomingComplete
		}
		// Back off regardless of the opposite limit still being held.
		if s.stepAtConstantSpeed() {
			s.homing.backoffLeft--
		}
		return HomingInProgress
	default:
		return HomingIdle
	}
}

// HomingActive reports whether a homing sequence is in progress.
func (s *Stepper) HomingActive() bool {
	return s.homing.phase != phaseIdle
}

func (s *Stepper) limitFor(dir Direction) bool {
	if dir == DirectionUp {
		return s.AtTopLimit()
	}
	return s.AtBottomLimit()
}

// stepAtConstantSpeed is RunAtConstantSpeed without the limit clamp, for
// backing off a switch that is still pressed.
func (s *Stepper) stepAtConstantSpeed() bool {
	if !s.enabled || s.speed == 0 {
		return false
	}
	interval := time.Duration(float64(time.Second) / math.Abs(s.speed))
	now := s.now()
	if now.Sub(s.lastStepTime) < interval {
		return false
	}
	s.pulse(s.direction)
	s.lastStepTime = now
	return true
}

func (s *Stepper) pulse(dir Direction) {
	s.applyDirection(dir)
	if dir == DirectionUp {
		s.currentPos++
	} else {
		s.currentPos--
	}
	// DM542T wants a 2.5 µs minimum pulse width.
	s.pins.Step.Set(true)
	s.delay(stepPulseWidth)
	s.pins.Step.Set(false)
}

func (s *Stepper) applyDirection(dir Direction) {
	if s.dirKnown && dir == s.direction {
		return
	}
	s.direction = dir
	s.dirKnown = true
	s.pins.Dir.Set(dir == DirectionUp)
	s.delay(dirSetupTime) // direction setup before the next pulse
}

// computeNewSpeed recomputes the profile speed. Inside the stopping envelope
// v²/(2a) the speed only ramps down, never up, bottoming out at the cruise
// floor; outside it the speed ramps toward the signed target.
func (s *Stepper) computeNewSpeed(now time.Time) {
	dist := s.DistanceToGo()
	if dist == 0 {
		s.speed = 0
		s.stepInterval = 0
		return
	}

	dt := now.Sub(s.lastSpeedCalc).Seconds()
	s.lastSpeedCalc = now
	if dt < 0 {
		dt = 0
	}
	if dt > 0.05 {
		dt = 0.05 // first call or a stalled loop; do not integrate the gap
	}

	target := s.maxSpeed
	if dist < 0 {
		target = -s.maxSpeed
	}

	stepsToStop := (s.speed * s.speed) / (2 * s.acceleration)
	absDist := math.Abs(float64(dist))

	if absDist <= stepsToStop {
		if s.speed > 0 {
			s.speed -= s.acceleration * dt
			if s.speed < minCruiseSpeed {
				s.speed = minCruiseSpeed
			}
		} else {
			s.speed += s.acceleration * dt
			if s.speed > -minCruiseSpeed {
				s.speed = -minCruiseSpeed
			}
		}
	} else {
		if s.speed < target {
			s.speed += s.acceleration * dt
			if s.speed > target {
				s.speed = target
			}
		} else if s.speed > target {
			s.speed -= s.acceleration * dt
			if s.speed < target {
				s.speed = target
			}
		}
		// Kick out of standstill; pulse rates below the floor stall the motor.
		if dist > 0 && s.speed >= 0 && s.speed < minCruiseSpeed {
			s.speed = minCruiseSpeed
		} else if dist < 0 && s.speed <= 0 && s.speed > -minCruiseSpeed {
			s.speed = -minCruiseSpeed
		}
	}

	absSpeed := math.Abs(s.speed)
	if absSpeed > 0 {
		s.stepInterval = time.Duration(float64(time.Second) / absSpeed)
	} else {
		s.stepInterval = 0
	}
}
