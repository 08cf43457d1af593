package hal

import "sync"

// Input is a software-settable DigitalInput for simulation and tests.
type Input struct {
	mu       sync.Mutex
	asserted bool
}

func NewInput() *Input {
	return &Input{}
}

func (i *Input) Read() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.asserted
}

// Assert sets the input state.
func (i *Input) Assert(on bool) {
	i.mu.Lock()
	i.asserted = on
	i.mu.Unlock()
}

// Output is a DigitalOutput that remembers its last level.
type Output struct {
	mu   sync.Mutex
	high bool
}

func NewOutput() *Output {
	return &Output{}
}

func (o *Output) Set(high bool) {
	o.mu.Lock()
	o.high = high
	o.mu.Unlock()
}

// High returns the last written level.
func (o *Output) High() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.high
}

// LoadCellSim is a SampleSource returning a settable raw value. It is always
// ready, which keeps averaging and tare loops from waiting in bench runs.
type LoadCellSim struct {
	mu  sync.Mutex
	raw int32
	err error
}

func NewLoadCellSim() *LoadCellSim {
	return &LoadCellSim{}
}

func (s *LoadCellSim) ReadRaw() (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raw, s.err
}

func (s *LoadCellSim) Ready() bool {
	return true
}

// SetRaw sets the raw value returned by subsequent reads.
func (s *LoadCellSim) SetRaw(raw int32) {
	s.mu.Lock()
	s.raw = raw
	s.mu.Unlock()
}

// Fail makes subsequent reads return err (nil to clear).
func (s *LoadCellSim) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
