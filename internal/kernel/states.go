package kernel

// State of the machine. Exactly one is active at a time.
type State string

const (
	StateIdle      State = "IDLE"
	StateHoming    State = "HOMING"
	StateReady     State = "READY"
	StateRunning   State = "RUNNING"
	StatePaused    State = "PAUSED"
	StateStopped   State = "STOPPED"
	StateError     State = "ERROR"
	StateEmergency State = "EMERGENCY"
)

// TestParameters configure the next test. They change only through the
// bounds-checked setters on Controller; out-of-range values are dropped.
type TestParameters struct {
	Speed          float64 `json:"speed"`           // crosshead speed (mm/s)
	MaxForce       float64 `json:"max_force"`       // abort threshold (N)
	MaxExtension   float64 `json:"max_extension"`   // travel limit (mm)
	SampleRateMS   int     `json:"sample_rate_ms"`  // time-triggered sampling interval
	StopOnBreak    bool    `json:"stop_on_break"`   // end the test on specimen failure
	BreakThreshold float64 `json:"break_threshold"` // fractional force drop treated as a break
}

// Limits bound what the setters accept.
type Limits struct {
	MaxSpeed     float64 // mm/s
	MaxForce     float64 // load cell rated capacity (N)
	MaxExtension float64 // mm
}

// TestResult summarizes one finished test. It is zeroed at test start and
// finalized exactly once when the test ends, however it ends.
type TestResult struct {
	MaxForce       float64 `json:"max_force"`       // peak force (N)
	MaxExtension   float64 `json:"max_extension"`   // extension at peak force (mm)
	BreakForce     float64 `json:"break_force"`     // force when the break fired (N)
	BreakExtension float64 `json:"break_extension"` // extension when the break fired (mm)
	DurationMS     int64   `json:"duration_ms"`
	DataPoints     int     `json:"data_points"`
	Completed      bool    `json:"completed"`      // motion ran to target
	SpecimenBroke  bool    `json:"specimen_broke"` // break detector fired
}
