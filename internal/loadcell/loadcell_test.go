package loadcell

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alexanderbarati/tensiletester/internal/hal"
)

func newTestCell() (*LoadCell, *hal.LoadCellSim) {
	sim := hal.NewLoadCellSim()
	lc := New(sim, Config{CalibrationFactor: 1000, OverloadLimit: 480}, zap.NewNop())
	return lc, sim
}

func TestReadForceAppliesCalibration(t *testing.T) {
	lc, sim := newTestCell()
	sim.SetRaw(5000)

	f, err := lc.ReadForce()
	require.NoError(t, err)
	assert.InDelta(t, 5.0, f, 1e-9)
	assert.InDelta(t, 5.0, lc.LastForce(), 1e-9)
}

func TestReadForceSubtractsOffset(t *testing.T) {
	lc, sim := newTestCell()
	lc.SetOffset(2000)
	sim.SetRaw(5000)

	f, err := lc.ReadForce()
	require.NoError(t, err)
	assert.InDelta(t, 3.0, f, 1e-9)
}

func TestReadForceKeepsLastReadingOnError(t *testing.T) {
	lc, sim := newTestCell()
	sim.SetRaw(4000)
	_, err := lc.ReadForce()
	require.NoError(t, err)

	sim.Fail(errors.New("i2c transfer failed"))
	f, err := lc.ReadForce()
	require.Error(t, err)
	assert.InDelta(t, 4.0, f, 1e-9)
	assert.InDelta(t, 4.0, lc.LastForce(), 1e-9)
}

func TestTareIsIdempotent(t *testing.T) {
	lc, sim := newTestCell()
	sim.SetRaw(123400)

	for i := 0; i < 2; i++ {
		require.NoError(t, lc.Tare(10))
		f, err := lc.ReadForce()
		require.NoError(t, err)
		assert.InDelta(t, 0.0, f, 1e-9)
	}
	assert.Equal(t, int64(123400), lc.Offset())
}

func TestReadForceAverage(t *testing.T) {
	lc, sim := newTestCell()
	sim.SetRaw(10000)

	f, err := lc.ReadForceAverage(5)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, f, 1e-9)
	assert.InDelta(t, 10.0, lc.LastForce(), 1e-9)
}

func TestSetCalibrationFactorRejectsZero(t *testing.T) {
	lc, _ := newTestCell()

	assert.False(t, lc.SetCalibrationFactor(0))
	assert.InDelta(t, 1000, lc.CalibrationFactor(), 1e-9)

	assert.True(t, lc.SetCalibrationFactor(2000))
	assert.InDelta(t, 2000, lc.CalibrationFactor(), 1e-9)
}

func TestOverloadUsesHardwareCeiling(t *testing.T) {
	lc, sim := newTestCell()

	sim.SetRaw(479000)
	_, err := lc.ReadForce()
	require.NoError(t, err)
	assert.False(t, lc.IsOverload())

	sim.SetRaw(481000)
	_, err = lc.ReadForce()
	require.NoError(t, err)
	assert.True(t, lc.IsOverload())

	// Compression beyond the ceiling counts too.
	sim.SetRaw(-481000)
	_, err = lc.ReadForce()
	require.NoError(t, err)
	assert.True(t, lc.IsOverload())
}
