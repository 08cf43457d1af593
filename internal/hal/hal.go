package hal

// DigitalInput is a polled hardware input (limit switch, emergency stop).
// Read returns true when the input is asserted, with any active-low
// translation done by the implementation.
type DigitalInput interface {
	Read() bool
}

// DigitalOutput is a single hardware output line (step, direction, enable, LED).
type DigitalOutput interface {
	Set(high bool)
}

// SampleSource provides raw load cell samples. The register-level ADC driver
// (NAU7802 over I2C) implements this; tests and bench runs use LoadCellSim.
type SampleSource interface {
	// ReadRaw returns the latest raw conversion result.
	ReadRaw() (int32, error)

	// Ready reports whether a fresh conversion is available.
	Ready() bool
}
