package aout

import (
	"fmt"
	"log"

	"github.com/labalyzer/labctl/daqmx"
	"github.com/labalyzer/labctl/status"
)

// Task is the driver task of one analog output board.  It exclusively owns
// its driver handle.
type Task struct {
	drv daqmx.Driver
	log *log.Logger

	// Board is the index of the board the task drives
	Board int

	// Channels are attached to the driver task in this order, which is also
	// the column order of the board's samples
	Channels []Channel

	handle     daqmx.TaskHandle
	fresh      bool
	bufferSize uint32
	xfer       daqmx.TransferMechanism
	state      State
}

func newTask(drv daqmx.Driver, l *log.Logger, board int, chans []Channel) *Task {
	return &Task{drv: drv, log: l, Board: board, Channels: chans}
}

func (t *Task) check(call string, code status.Code) error {
	if err := status.Check(t.log, t.drv, call, code); err != nil {
		return fmt.Errorf("board %d: %w", t.Board, err)
	}
	return nil
}

// State returns the lifecycle state of the task
func (t *Task) State() State { return t.state }

// BufferSize returns the output buffer size applied to the task
func (t *Task) BufferSize() uint32 { return t.bufferSize }

// TransferMechanism returns the transfer mechanism applied to the task
func (t *Task) TransferMechanism() daqmx.TransferMechanism { return t.xfer }

// open creates the driver task and attaches the channels
func (t *Task) open() error {
	h, code := t.drv.CreateTask("")
	if err := t.check("DAQmxCreateTask", code); err != nil {
		return err
	}
	t.handle = h
	t.fresh = true
	t.state = Configured
	for _, c := range t.Channels {
		code = t.drv.CreateAOVoltageChan(t.handle, c.DeviceString(), c.Min, c.Max)
		if err := t.check("DAQmxCreateAOVoltageChan", code); err != nil {
			return err
		}
	}
	return nil
}

// setBuffering applies the output buffer size and the transfer mechanism of
// every channel.  It is only allowed on a fresh task.
func (t *Task) setBuffering(size uint32, mech daqmx.TransferMechanism) error {
	if !t.fresh {
		return fmt.Errorf("%w: board %d: buffer size and transfer mechanism can only be set on a fresh task", ErrConfiguration, t.Board)
	}
	if err := t.check("DAQmxCfgOutputBuffer", t.drv.CfgOutputBuffer(t.handle, size)); err != nil {
		return err
	}
	t.bufferSize = size
	for _, c := range t.Channels {
		code := t.drv.SetAODataXferMech(t.handle, c.DeviceString(), mech)
		if err := t.check("DAQmxSetAODataXferMech", code); err != nil {
			return err
		}
	}
	t.xfer = mech
	return nil
}

func (t *Task) timing(source string, rate float64, samples uint64) error {
	t.fresh = false
	code := t.drv.CfgSampClkTiming(t.handle, source, rate, daqmx.Rising, daqmx.FiniteSamps, samples)
	return t.check("DAQmxCfgSampClkTiming", code)
}

// write writes rows, scan-interleaved
func (t *Task) write(rows Buffer, autoStart bool, timeout float64) error {
	t.fresh = false
	data := make([]float64, 0, len(rows)*len(t.Channels))
	for _, row := range rows {
		data = append(data, row...)
	}
	n, code := t.drv.WriteAnalogF64(t.handle, len(rows), autoStart, timeout, daqmx.GroupByScanNumber, data)
	if err := t.check("DAQmxWriteAnalogF64", code); err != nil {
		return err
	}
	if autoStart {
		t.state = Running
		return nil
	}
	t.log.Printf("%d samples written to board %d", n, t.Board)
	return nil
}

func (t *Task) start() error {
	t.fresh = false
	if err := t.check("DAQmxStartTask", t.drv.StartTask(t.handle)); err != nil {
		return err
	}
	t.state = Running
	return nil
}

func (t *Task) stop() error {
	if err := t.check("DAQmxStopTask", t.drv.StopTask(t.handle)); err != nil {
		return err
	}
	if t.state == Running {
		t.state = Stopped
	}
	return nil
}

// clear releases the driver task.  The task is unconfigured afterwards even
// if the driver reports an error; the handle is not reused.
func (t *Task) clear() error {
	if t.state == Unconfigured {
		return nil
	}
	err := t.check("DAQmxClearTask", t.drv.ClearTask(t.handle))
	t.handle = 0
	t.fresh = false
	t.state = Unconfigured
	return err
}
