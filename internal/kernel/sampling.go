package kernel

import (
	"math"
	"time"
)

// Hybrid sampling thresholds: a fixed interval catches the slow stretches,
// event triggers catch yield and break detail, and a hard floor keeps event
// bursts from flooding the channel.
const (
	minSampleGap       = 20 * time.Millisecond
	forceDeltaTrigger  = 5.0  // N of absolute change since the last sample
	slopeChangeTrigger = 0.3  // relative slope change
	slopeFloor         = 1.0  // N/s; below this a prior slope is noise
	peakWindow         = 0.99 // new peak within 1% of the maximum
	dropArmForce       = 50.0 // N the maximum must exceed before drops count
	dropTrigger        = 0.9  // sample when force falls below 90% of maximum
)

// sampler decides when a data point is recorded. All trackers live here on
// the instance so concurrent kernels (and tests) never share state.
type sampler struct {
	lastSampleTime time.Time
	lastForce      float64
	lastSlope      float64
	maxSeen        float64
}

func (sm *sampler) reset(now time.Time) {
	sm.lastSampleTime = now
	sm.lastForce = 0
	sm.lastSlope = 0
	sm.maxSeen = 0
}

// observe evaluates the time- and event-based triggers for the current force
// reading. It returns true when a sample must be emitted, and updates the
// trackers only in that case.
func (sm *sampler) observe(now time.Time, force float64, interval time.Duration) bool {
	since := now.Sub(sm.lastSampleTime)
	dt := since.Seconds()
	slope := 0.0
	if dt > 0 {
		slope = (force - sm.lastForce) / dt
	}

	timeTriggered := since >= interval

	eventTriggered := false
	if !timeTriggered && since >= minSampleGap {
		forceChange := math.Abs(force-sm.lastForce) > forceDeltaTrigger
		slopeChange := math.Abs(sm.lastSlope) > slopeFloor &&
			math.Abs(slope-sm.lastSlope)/math.Abs(sm.lastSlope) > slopeChangeTrigger
		peak := force > sm.maxSeen && force > sm.maxSeen*peakWindow
		drop := sm.maxSeen > dropArmForce && force < sm.maxSeen*dropTrigger
		eventTriggered = forceChange || slopeChange || peak || drop
	}

	if !timeTriggered && !eventTriggered {
		return false
	}

	sm.lastSampleTime = now
	sm.lastForce = force
	sm.lastSlope = slope
	if force > sm.maxSeen {
		sm.maxSeen = force
	}
	return true
}
