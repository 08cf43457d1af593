package motion

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alexanderbarati/tensiletester/internal/hal"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestStepper() (*Stepper, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := NewStepper(Config{
		StepsPerRev:   200,
		Microstepping: 16,
		LeadMM:        8.0,
		MaxSpeed:      4000,
		Acceleration:  2000,
	}, Pins{
		Step:   hal.NewOutput(),
		Dir:    hal.NewOutput(),
		Enable: hal.NewOutput(),
	}, zap.NewNop())
	s.now = clock.Now
	s.delay = func(time.Duration) {}
	return s, clock
}

func TestUnitConversion(t *testing.T) {
	s, _ := newTestStepper()

	// 200 * 16 steps per rev over an 8 mm lead = 400 steps/mm.
	assert.Equal(t, int64(800), s.MMToSteps(2.0))
	assert.InDelta(t, 1.0, s.StepsToMM(400), 1e-9)
}

func TestRunReachesTarget(t *testing.T) {
	s, clock := newTestStepper()
	s.Enable()
	s.MoveTo(50)

	for i := 0; i < 100000 && s.Moving(); i++ {
		s.Run()
		clock.Advance(500 * time.Microsecond)
	}

	require.False(t, s.Moving())
	assert.Equal(t, int64(50), s.Position())
	assert.False(t, s.Run())
}

func TestRunMovesDownForNegativeTarget(t *testing.T) {
	s, clock := newTestStepper()
	s.Enable()
	s.MoveTo(-30)

	for i := 0; i < 100000 && s.Moving(); i++ {
		s.Run()
		clock.Advance(500 * time.Microsecond)
	}

	assert.Equal(t, int64(-30), s.Position())
	assert.Equal(t, DirectionDown, s.CurrentDirection())
}

func TestDisabledStepperDoesNotMove(t *testing.T) {
	s, clock := newTestStepper()
	s.MoveTo(100)

	for i := 0; i < 100; i++ {
		require.False(t, s.Run())
		clock.Advance(time.Millisecond)
	}
	assert.Equal(t, int64(0), s.Position())
}

func TestDecelerationMonotonicInsideStoppingEnvelope(t *testing.T) {
	s, clock := newTestStepper()
	s.Enable()
	s.MoveTo(3000)

	prevSpeed := 0.0
	for i := 0; i < 200000 && s.Moving(); i++ {
		insideEnvelope := float64(s.DistanceToGo()) <= (s.Speed()*s.Speed())/(2*s.acceleration)
		s.Run()
		if insideEnvelope && prevSpeed > minCruiseSpeed {
			assert.LessOrEqual(t, math.Abs(s.Speed()), prevSpeed+1e-9,
				"speed rose inside the stopping envelope")
		}
		prevSpeed = math.Abs(s.Speed())
		clock.Advance(250 * time.Microsecond)
	}
	require.False(t, s.Moving())
}

func TestLimitSwitchClampsTravel(t *testing.T) {
	s, _ := newTestStepper()
	top := hal.NewInput()
	bottom := hal.NewInput()
	s.SetLimitSwitches(top, bottom)
	s.Enable()

	top.Assert(true)
	s.MoveTo(1000)

	require.False(t, s.Run())
	assert.Equal(t, int64(0), s.Position())
	assert.Equal(t, s.Position(), s.TargetPosition())
	assert.False(t, s.Moving())
}

func TestStopSmoothRetargetsToStoppingDistance(t *testing.T) {
	s, _ := newTestStepper()
	s.Enable()
	s.speed = 2000
	s.MoveTo(100000)

	s.StopSmooth()

	// v²/(2a) = 2000² / (2·2000) = 1000 steps.
	assert.Equal(t, int64(1000), s.TargetPosition())
}

func TestStopHaltsImmediately(t *testing.T) {
	s, _ := newTestStepper()
	s.Enable()
	s.MoveTo(500)
	s.speed = 1500

	s.Stop()

	assert.False(t, s.Moving())
	assert.Zero(t, s.Speed())
}

func TestHomingTimesOutWhenLimitNeverTriggers(t *testing.T) {
	s, clock := newTestStepper()
	s.SetLimitSwitches(hal.NewInput(), hal.NewInput())

	require.NoError(t, s.BeginHoming(DirectionDown))
	require.Equal(t, HomingInProgress, s.UpdateHoming())

	clock.Advance(homingTimeout - time.Millisecond)
	require.Equal(t, HomingInProgress, s.UpdateHoming())

	clock.Advance(time.Millisecond)
	require.Equal(t, HomingFailed, s.UpdateHoming())
	assert.False(t, s.Homed())
	assert.False(t, s.HomingActive())
}

func TestHomingRequiresLimitSwitches(t *testing.T) {
	s, _ := newTestStepper()
	require.Error(t, s.BeginHoming(DirectionDown))
}

func TestHomingSeeksBacksOffAndZeroes(t *testing.T) {
	s, clock := newTestStepper()
	top := hal.NewInput()
	bottom := hal.NewInput()
	s.SetLimitSwitches(top, bottom)

	require.NoError(t, s.BeginHoming(DirectionDown))

	// Seek toward the bottom switch at half speed.
	for i := 0; i < 50; i++ {
		require.Equal(t, HomingInProgress, s.UpdateHoming())
		clock.Advance(time.Millisecond)
	}
	assert.Negative(t, s.Position())

	bottom.Assert(true)
	require.Equal(t, HomingInProgress, s.UpdateHoming())
	bottom.Assert(false)

	// Back off 2 mm (800 steps) at 10% speed, then zero.
	status := HomingInProgress
	for i := 0; i < 5000 && status == HomingInProgress; i++ {
		clock.Advance(3 * time.Millisecond)
		status = s.UpdateHoming()
	}

	require.Equal(t, HomingComplete, status)
	assert.True(t, s.Homed())
	assert.Equal(t, int64(0), s.Position())
	assert.Equal(t, DirectionUp, s.CurrentDirection())
}

func TestStopAbortsHoming(t *testing.T) {
	s, _ := newTestStepper()
	s.SetLimitSwitches(hal.NewInput(), hal.NewInput())

	require.NoError(t, s.BeginHoming(DirectionDown))
	require.True(t, s.HomingActive())

	s.Stop()

	assert.False(t, s.HomingActive())
	assert.Equal(t, HomingIdle, s.UpdateHoming())
	assert.False(t, s.Homed())
}

func TestSetMaxSpeedClampsCurrentSpeed(t *testing.T) {
	s, _ := newTestStepper()
	s.speed = 3000

	s.SetMaxSpeed(1000)

	assert.InDelta(t, 1000, s.Speed(), 1e-9)
}

func TestSetSpeedMMPerSec(t *testing.T) {
	s, _ := newTestStepper()
	s.SetSpeedMMPerSec(1.0) // 400 steps/s at 400 steps/mm
	assert.InDelta(t, 400, s.maxSpeed, 1e-9)
}
