package sweep

import (
	"fmt"
	"sync"
	"time"
)

// MockSource is a Source which records the commands it is given
type MockSource struct {
	sync.Mutex

	// Commands holds one entry per call, e.g. "span 1e+08 2e+08"
	Commands []string

	// Fail maps a command name ("reset", "power", "freq", "step", "span",
	// "trigger") to an error that command returns
	Fail map[string]error

	Power       float64
	Frequency   float64
	Start, Stop float64
	Triggers    int
}

// NewMockSource returns a MockSource with no failures
func NewMockSource() *MockSource {
	return &MockSource{Fail: make(map[string]error)}
}

func (m *MockSource) do(name, format string, args ...interface{}) error {
	cmd := name
	if format != "" {
		cmd += " " + fmt.Sprintf(format, args...)
	}
	m.Commands = append(m.Commands, cmd)
	return m.Fail[name]
}

// Reset records a reset
func (m *MockSource) Reset() error {
	m.Lock()
	defer m.Unlock()
	return m.do("reset", "")
}

// SetPower records a power
func (m *MockSource) SetPower(dbm float64) error {
	m.Lock()
	defer m.Unlock()
	if err := m.do("power", "%g", dbm); err != nil {
		return err
	}
	m.Power = dbm
	return nil
}

// SetFrequency records a CW frequency
func (m *MockSource) SetFrequency(hz float64) error {
	m.Lock()
	defer m.Unlock()
	if err := m.do("freq", "%g", hz); err != nil {
		return err
	}
	m.Frequency = hz
	return nil
}

// SetSweepStep records the sweep step and dwell
func (m *MockSource) SetSweepStep(stepHz float64, dwell time.Duration) error {
	m.Lock()
	defer m.Unlock()
	return m.do("step", "%g %s", stepHz, dwell)
}

// SetSweepSpan records a sweep span
func (m *MockSource) SetSweepSpan(startHz, stopHz float64) error {
	m.Lock()
	defer m.Unlock()
	if err := m.do("span", "%g %g", startHz, stopHz); err != nil {
		return err
	}
	m.Start, m.Stop = startHz, stopHz
	return nil
}

// Trigger records a trigger
func (m *MockSource) Trigger() error {
	m.Lock()
	defer m.Unlock()
	if err := m.do("trigger", ""); err != nil {
		return err
	}
	m.Triggers++
	m.Frequency = m.Stop
	return nil
}
