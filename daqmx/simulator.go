package daqmx

import (
	"fmt"
	"log"

	"github.com/labalyzer/labctl/status"
)

// status codes produced by the simulator.  They mirror the driver's own codes
// for the same conditions.
const (
	ErrInvalidTask          status.Code = -200088
	ErrInvalidChannel       status.Code = -200170
	ErrNotSettableCommitted status.Code = -200557
	ErrWriteSizeMismatch    status.Code = -200524
	ErrUnbufferedMultiWrite status.Code = -200462
)

var simulatorErrors = map[status.Code]string{
	ErrInvalidTask:          "Task specified is invalid or does not exist.",
	ErrInvalidChannel:       "Physical channel specified does not exist on this task.",
	ErrNotSettableCommitted: "Specified property cannot be set once the task has been committed.",
	ErrWriteSizeMismatch:    "Number of samples in write array does not match samples per channel times channel count.",
	ErrUnbufferedMultiWrite: "Only one sample per channel can be written when the output buffer size is zero.",
}

// Timing is the sample clock configuration of a simulated task
type Timing struct {
	Source       string
	Rate         float64
	Edge         Edge
	Mode         SampleMode
	SampsPerChan uint64
}

// SimTask is a snapshot of a simulated task
type SimTask struct {
	Name       string
	Channels   []string
	Ranges     [][2]float64
	BufferSize *uint32
	Xfer       map[string]TransferMechanism
	Timing     *Timing
	Written    []float64
	Writes     int
	Running    bool
}

// committed is true once the task has been timed, written or started.
// Buffer and transfer properties are refused after that.
func (t *SimTask) committed() bool {
	return t.Timing != nil || t.Writes > 0 || t.Running
}

func (t *SimTask) hasChannel(ch string) bool {
	for _, c := range t.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// Simulator is a Driver with no hardware behind it.  It enforces the same
// lifecycle rules as the hardware: buffer size and transfer mechanism are
// only accepted on a task that has not yet been committed, and cleared
// handles are invalid.
type Simulator struct {
	log   *log.Logger
	next  TaskHandle
	tasks map[TaskHandle]*SimTask
	calls []string

	// Inject maps a call name (e.g. "DAQmxStartTask") to a status that call
	// will return instead of performing its work.  Used to exercise error
	// and warning paths.
	Inject map[string]status.Code
}

// NewSimulator creates a new simulated driver
func NewSimulator(l *log.Logger) *Simulator {
	if l == nil {
		l = log.Default()
	}
	return &Simulator{log: l, tasks: make(map[TaskHandle]*SimTask), Inject: make(map[string]status.Code)}
}

func (s *Simulator) record(call string, t TaskHandle) (status.Code, bool) {
	s.calls = append(s.calls, fmt.Sprintf("%s(%d)", call, t))
	if code, ok := s.Inject[call]; ok {
		return code, true
	}
	return status.OK, false
}

func (s *Simulator) task(t TaskHandle) (*SimTask, status.Code) {
	tsk, ok := s.tasks[t]
	if !ok {
		return nil, ErrInvalidTask
	}
	return tsk, status.OK
}

// Calls returns every call made to the simulator, in order, formatted as
// Name(handle)
func (s *Simulator) Calls() []string {
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// Task returns a copy of the state of a live task
func (s *Simulator) Task(t TaskHandle) (SimTask, bool) {
	tsk, ok := s.tasks[t]
	if !ok {
		return SimTask{}, false
	}
	return *tsk, true
}

// Live returns the number of tasks that have not been cleared
func (s *Simulator) Live() int {
	return len(s.tasks)
}

// ErrorString returns the text for a status code
func (s *Simulator) ErrorString(c status.Code) string {
	if msg, ok := simulatorErrors[c]; ok {
		return msg
	}
	return fmt.Sprintf("simulated status %d", c)
}

// CreateTask creates a new simulated task
func (s *Simulator) CreateTask(name string) (TaskHandle, status.Code) {
	if code, injected := s.record("DAQmxCreateTask", 0); injected {
		return 0, code
	}
	s.next++
	s.tasks[s.next] = &SimTask{Name: name, Xfer: make(map[string]TransferMechanism)}
	return s.next, status.OK
}

// CreateAOVoltageChan attaches a channel to a simulated task
func (s *Simulator) CreateAOVoltageChan(t TaskHandle, physicalChannel string, min, max float64) status.Code {
	if code, injected := s.record("DAQmxCreateAOVoltageChan", t); injected {
		return code
	}
	tsk, code := s.task(t)
	if code != status.OK {
		return code
	}
	if tsk.committed() {
		return ErrNotSettableCommitted
	}
	tsk.Channels = append(tsk.Channels, physicalChannel)
	tsk.Ranges = append(tsk.Ranges, [2]float64{min, max})
	return status.OK
}

// CfgSampClkTiming stores the timing configuration of a simulated task
func (s *Simulator) CfgSampClkTiming(t TaskHandle, source string, rate float64, edge Edge, mode SampleMode, sampsPerChan uint64) status.Code {
	if code, injected := s.record("DAQmxCfgSampClkTiming", t); injected {
		return code
	}
	tsk, code := s.task(t)
	if code != status.OK {
		return code
	}
	if tsk.Running {
		return ErrNotSettableCommitted
	}
	tsk.Timing = &Timing{Source: source, Rate: rate, Edge: edge, Mode: mode, SampsPerChan: sampsPerChan}
	return status.OK
}

// CfgOutputBuffer sets the buffer size of a fresh simulated task
func (s *Simulator) CfgOutputBuffer(t TaskHandle, size uint32) status.Code {
	if code, injected := s.record("DAQmxCfgOutputBuffer", t); injected {
		return code
	}
	tsk, code := s.task(t)
	if code != status.OK {
		return code
	}
	if tsk.committed() {
		return ErrNotSettableCommitted
	}
	tsk.BufferSize = &size
	return status.OK
}

// SetAODataXferMech sets the transfer mechanism of a channel on a fresh simulated task
func (s *Simulator) SetAODataXferMech(t TaskHandle, channel string, mech TransferMechanism) status.Code {
	if code, injected := s.record("DAQmxSetAODataXferMech", t); injected {
		return code
	}
	tsk, code := s.task(t)
	if code != status.OK {
		return code
	}
	if !tsk.hasChannel(channel) {
		return ErrInvalidChannel
	}
	if tsk.committed() {
		return ErrNotSettableCommitted
	}
	tsk.Xfer[channel] = mech
	return status.OK
}

// WriteAnalogF64 stores the written samples
func (s *Simulator) WriteAnalogF64(t TaskHandle, sampsPerChan int, autoStart bool, timeout float64, layout DataLayout, data []float64) (int, status.Code) {
	if code, injected := s.record("DAQmxWriteAnalogF64", t); injected {
		return 0, code
	}
	tsk, code := s.task(t)
	if code != status.OK {
		return 0, code
	}
	if sampsPerChan*len(tsk.Channels) != len(data) {
		return 0, ErrWriteSizeMismatch
	}
	if tsk.BufferSize != nil && *tsk.BufferSize == 0 && sampsPerChan != 1 {
		return 0, ErrUnbufferedMultiWrite
	}
	tsk.Written = append([]float64(nil), data...)
	tsk.Writes++
	if autoStart {
		tsk.Running = true
	}
	return sampsPerChan, status.OK
}

// StartTask marks a simulated task running
func (s *Simulator) StartTask(t TaskHandle) status.Code {
	if code, injected := s.record("DAQmxStartTask", t); injected {
		return code
	}
	tsk, code := s.task(t)
	if code != status.OK {
		return code
	}
	tsk.Running = true
	s.log.Printf("simulated task %d started", t)
	return status.OK
}

// StopTask marks a simulated task stopped
func (s *Simulator) StopTask(t TaskHandle) status.Code {
	if code, injected := s.record("DAQmxStopTask", t); injected {
		return code
	}
	tsk, code := s.task(t)
	if code != status.OK {
		return code
	}
	tsk.Running = false
	return status.OK
}

// ClearTask releases a simulated task
func (s *Simulator) ClearTask(t TaskHandle) status.Code {
	if code, injected := s.record("DAQmxClearTask", t); injected {
		return code
	}
	if _, code := s.task(t); code != status.OK {
		return code
	}
	delete(s.tasks, t)
	return status.OK
}
