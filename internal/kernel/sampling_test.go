package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var samplerEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestSamplerTimeTrigger(t *testing.T) {
	var sm sampler
	sm.reset(samplerEpoch)

	assert.False(t, sm.observe(samplerEpoch.Add(49*time.Millisecond), 0, 50*time.Millisecond))
	assert.True(t, sm.observe(samplerEpoch.Add(50*time.Millisecond), 0, 50*time.Millisecond))
}

func TestSamplerFloorSuppressesEvents(t *testing.T) {
	var sm sampler
	sm.reset(samplerEpoch)

	// A 100 N jump inside the 20 ms floor stays suppressed.
	assert.False(t, sm.observe(samplerEpoch.Add(10*time.Millisecond), 100, time.Second))
	// Once past the floor the pending force delta emits.
	assert.True(t, sm.observe(samplerEpoch.Add(21*time.Millisecond), 100, time.Second))
}

func TestSamplerTrackersUpdateOnlyOnEmit(t *testing.T) {
	var sm sampler
	sm.reset(samplerEpoch)

	require.False(t, sm.observe(samplerEpoch.Add(10*time.Millisecond), 100, 50*time.Millisecond))
	// Had the suppressed call advanced lastSampleTime, this one would still
	// be inside the floor and stay silent.
	assert.True(t, sm.observe(samplerEpoch.Add(21*time.Millisecond), 100, 50*time.Millisecond))
}

func TestSamplerForceDeltaTrigger(t *testing.T) {
	var sm sampler
	sm.reset(samplerEpoch)

	// Commit a 100 N baseline over a long stretch so the stored slope stays
	// under the noise floor and cannot co-trigger.
	base := samplerEpoch.Add(200 * time.Second)
	require.True(t, sm.observe(base, 100, 300*time.Second))

	assert.False(t, sm.observe(base.Add(25*time.Millisecond), 96, 300*time.Second),
		"a 4 N change is under the delta trigger")
	assert.True(t, sm.observe(base.Add(30*time.Millisecond), 94, 300*time.Second),
		"a 6 N change crosses the delta trigger")
}

func TestSamplerSlopeChangeTrigger(t *testing.T) {
	var sm sampler
	sm.reset(samplerEpoch)

	// Two time-triggered commits establish a -2 N/s slope with the last
	// force below the running maximum.
	require.True(t, sm.observe(samplerEpoch.Add(time.Second), 5, time.Second))
	require.True(t, sm.observe(samplerEpoch.Add(2*time.Second), 3, time.Second))
	base := samplerEpoch.Add(2 * time.Second)

	assert.False(t, sm.observe(base.Add(25*time.Millisecond), 2.95, time.Second),
		"slope held at -2 N/s is no event")
	assert.True(t, sm.observe(base.Add(30*time.Millisecond), 2.9, time.Second),
		"slope swinging past a 30% change emits")
}

func TestSamplerPeakTrigger(t *testing.T) {
	var sm sampler
	sm.reset(samplerEpoch)

	base := samplerEpoch.Add(200 * time.Second)
	require.True(t, sm.observe(base, 30, 300*time.Second))

	assert.False(t, sm.observe(base.Add(25*time.Millisecond), 29.9, 300*time.Second),
		"below the maximum there is no peak")
	assert.True(t, sm.observe(base.Add(30*time.Millisecond), 30.2, 300*time.Second),
		"a fresh maximum emits")
}

func TestSamplerDropTrigger(t *testing.T) {
	var sm sampler
	sm.reset(samplerEpoch)

	// Arm the drop detector with a 100 N maximum, then settle at 92 N over a
	// long gap so neither delta nor slope can co-trigger.
	base := samplerEpoch.Add(200 * time.Second)
	require.True(t, sm.observe(base, 100, 300*time.Second))
	settle := base.Add(100 * time.Second)
	require.True(t, sm.observe(settle, 92, 300*time.Second))

	assert.False(t, sm.observe(settle.Add(25*time.Millisecond), 90.5, 300*time.Second),
		"90.5 N is still above 90% of the maximum")
	assert.True(t, sm.observe(settle.Add(30*time.Millisecond), 89, 300*time.Second),
		"falling under 90% of the maximum emits")
}
