/*Package daqmx describes the subset of the NI-DAQmx C API used to drive analog
output boards, and provides two implementations of it: a native binding to the
NI-DAQmx library and a Simulator used when the library or hardware is absent.

The selection between the two is made once, by Open.  Nothing downstream of
Open knows which implementation it holds.

	drv := daqmx.Open(logger, false) // false: try the native library first
	h, code := drv.CreateTask("")
	code = drv.CreateAOVoltageChan(h, "Dev1/ao0", -10, 10)
	...

Every call returns a signed status code; see package status for the policy
applied to it.
*/
package daqmx

import (
	"log"

	"github.com/labalyzer/labctl/status"
)

// TaskHandle is an opaque reference to a driver task.  The zero value never
// refers to a live task.
type TaskHandle uint64

// Edge is the active edge of a clock
type Edge int32

// SampleMode selects finite or continuous generation
type SampleMode int32

// TransferMechanism is the data transfer mechanism between host and board
type TransferMechanism int32

// DataLayout is the interleaving of a write array
type DataLayout int32

// values from NIDAQmx.h
const (
	volts = 10348

	Rising  Edge = 10280
	Falling Edge = 10171

	FiniteSamps SampleMode = 10178
	ContSamps   SampleMode = 10123

	DMA          TransferMechanism = 10054
	Interrupts   TransferMechanism = 10204
	ProgrammedIO TransferMechanism = 10264

	GroupByChannel    DataLayout = 0
	GroupByScanNumber DataLayout = 1

	// WaitInfinitely is the timeout that never expires
	WaitInfinitely = -1.
)

// Driver is the analog output capability set consumed by package aout
type Driver interface {
	status.Describer

	// CreateTask creates a new, empty task
	CreateTask(name string) (TaskHandle, status.Code)

	// CreateAOVoltageChan attaches a physical output channel to a task
	CreateAOVoltageChan(t TaskHandle, physicalChannel string, min, max float64) status.Code

	// CfgSampClkTiming configures the sample clock of a task
	CfgSampClkTiming(t TaskHandle, source string, rate float64, edge Edge, mode SampleMode, sampsPerChan uint64) status.Code

	// CfgOutputBuffer sets the size of the output buffer, 0 for unbuffered output
	CfgOutputBuffer(t TaskHandle, size uint32) status.Code

	// SetAODataXferMech sets the transfer mechanism of one channel of a task
	SetAODataXferMech(t TaskHandle, channel string, mech TransferMechanism) status.Code

	// WriteAnalogF64 writes sampsPerChan samples for every channel of the
	// task.  It returns the number of samples per channel written.
	WriteAnalogF64(t TaskHandle, sampsPerChan int, autoStart bool, timeout float64, layout DataLayout, data []float64) (int, status.Code)

	// StartTask begins generation
	StartTask(t TaskHandle) status.Code

	// StopTask ends generation
	StopTask(t TaskHandle) status.Code

	// ClearTask stops and releases a task.  The handle is invalid afterwards.
	ClearTask(t TaskHandle) status.Code
}

// Open returns the native NI-DAQmx driver if it can be loaded and simulate is
// false, otherwise a Simulator.
func Open(l *log.Logger, simulate bool) Driver {
	if l == nil {
		l = log.Default()
	}
	if !simulate {
		d, err := openNative()
		if err == nil {
			l.Println("NI-DAQmx driver loaded")
			return d
		}
		l.Printf("can't load NI-DAQmx driver, using simulator: %v", err)
	}
	return NewSimulator(l)
}
