package loadcell

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/alexanderbarati/tensiletester/internal/hal"
)

// ErrNotReady is returned when the ADC produces no fresh conversion within
// the ready window.
var ErrNotReady = errors.New("loadcell: sample not ready")

const (
	readyTimeout = 50 * time.Millisecond
	readyPoll    = time.Millisecond
)

// Config holds the calibration constants for the attached cell.
type Config struct {
	CalibrationFactor float64 // raw counts per newton
	OverloadLimit     float64 // hardware ceiling (N), independent of test limits
}

// LoadCell is the calibration layer over a raw sample source: it converts
// raw ADC counts to newtons via (raw - offset) / calibrationFactor, owns
// tare state and detects hardware overload. It never touches registers;
// the SampleSource does.
type LoadCell struct {
	logger *zap.Logger
	source hal.SampleSource

	calibrationFactor float64
	offset            int64
	lastForce         float64
	overloadLimit     float64

	sleep func(time.Duration)
}

func New(source hal.SampleSource, cfg Config, logger *zap.Logger) *LoadCell {
	return &LoadCell{
		logger:            logger,
		source:            source,
		calibrationFactor: cfg.CalibrationFactor,
		overloadLimit:     cfg.OverloadLimit,
		sleep:             time.Sleep,
	}
}

// ReadForce takes one sample and returns the calibrated force. On error the
// cached reading is returned unchanged.
func (lc *LoadCell) ReadForce() (float64, error) {
	raw, err := lc.readRaw()
	if err != nil {
		return lc.lastForce, err
	}
	lc.lastForce = float64(int64(raw)-lc.offset) / lc.calibrationFactor
	return lc.lastForce, nil
}

// ReadForceAverage averages n fresh samples. It blocks until each sample is
// ready, bounded per sample by the ready window.
func (lc *LoadCell) ReadForceAverage(samples int) (float64, error) {
	if samples < 1 {
		samples = 1
	}
	sum := 0.0
	for i := 0; i < samples; i++ {
		f, err := lc.ReadForce()
		if err != nil {
			return lc.lastForce, fmt.Errorf("average sample %d: %w", i, err)
		}
		sum += f
	}
	lc.lastForce = sum / float64(samples)
	return lc.lastForce, nil
}

// Tare averages n raw samples into the new zero offset.
func (lc *LoadCell) Tare(samples int) error {
	if samples < 1 {
		samples = 1
	}
	sum := int64(0)
	for i := 0; i < samples; i++ {
		raw, err := lc.readRaw()
		if err != nil {
			return fmt.Errorf("tare sample %d: %w", i, err)
		}
		sum += int64(raw)
	}
	lc.offset = sum / int64(samples)
	lc.logger.Info("load cell tared", zap.Int64("offset", lc.offset), zap.Int("samples", samples))
	return nil
}

// SetCalibrationFactor updates the counts-per-newton factor. A zero factor
// is rejected and false returned; the previous factor stays in effect.
func (lc *LoadCell) SetCalibrationFactor(factor float64) bool {
	if factor == 0 {
		lc.logger.Warn("rejected zero calibration factor")
		return false
	}
	lc.calibrationFactor = factor
	return true
}

func (lc *LoadCell) CalibrationFactor() float64 {
	return lc.calibrationFactor
}

func (lc *LoadCell) SetOffset(offset int64) {
	lc.offset = offset
}

func (lc *LoadCell) Offset() int64 {
	return lc.offset
}

// IsOverload reports whether the last reading exceeds the cell's hardware
// ceiling in either direction.
func (lc *LoadCell) IsOverload() bool {
	return math.Abs(lc.lastForce) > lc.overloadLimit
}

// LastForce returns the cached reading without touching the hardware.
func (lc *LoadCell) LastForce() float64 {
	return lc.lastForce
}

func (lc *LoadCell) readRaw() (int32, error) {
	if !lc.source.Ready() {
		deadline := time.Now().Add(readyTimeout)
		for !lc.source.Ready() {
			if time.Now().After(deadline) {
				return 0, ErrNotReady
			}
			lc.sleep(readyPoll)
		}
	}
	return lc.source.ReadRaw()
}
