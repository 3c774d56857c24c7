package aout

import (
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/labalyzer/labctl/daqmx"
	"github.com/labalyzer/labctl/status"
)

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func rig() []Channel {
	return []Channel{
		{Name: "coil", Board: 1, Number: 0, Min: -10, Max: 10},
		{Name: "ch1", Board: 0, Number: 1, Min: -10, Max: 10},
		{Name: "ch0", Board: 0, Number: 0, Min: -5, Max: 5},
	}
}

func newSim(t *testing.T, mode Mode) (*Coordinator, *daqmx.Simulator) {
	t.Helper()
	sim := daqmx.NewSimulator(quiet())
	c := NewCoordinator(sim, DefaultConfig(), quiet())
	if err := c.Configure(mode, rig()); err != nil {
		t.Fatal(err)
	}
	return c, sim
}

func countCalls(sim *daqmx.Simulator, name string) int {
	n := 0
	for _, c := range sim.Calls() {
		if strings.HasPrefix(c, name+"(") {
			n++
		}
	}
	return n
}

func TestDeviceString(t *testing.T) {
	c := Channel{Board: 2, Number: 5}
	if got := c.DeviceString(); got != "Dev3/ao5" {
		t.Errorf("expected Dev3/ao5, got %s", got)
	}
	c.Device = "PXI1Slot2/ao0"
	if got := c.DeviceString(); got != "PXI1Slot2/ao0" {
		t.Errorf("expected override, got %s", got)
	}
}

func TestGroupOrder(t *testing.T) {
	chans := []Channel{
		{Name: "b", Board: 0, Number: 3, Min: 0, Max: 1},
		{Name: "a", Board: 0, Number: 1, Min: 0, Max: 1},
		{Name: "c", Board: 0, Number: 3, Min: 0, Max: 1},
	}
	g, err := group([]int{0}, chans)
	if err != nil {
		t.Fatal(err)
	}
	got := []string{g[0][0].Name, g[0][1].Name, g[0][2].Name}
	if strings.Join(got, "") != "abc" {
		t.Errorf("expected stable order a b c, got %v", got)
	}
}

func TestConfigureRejects(t *testing.T) {
	cases := map[string][]Channel{
		"unknown board": {{Name: "x", Board: 7, Min: -1, Max: 1}},
		"bad range":     {{Name: "x", Board: 0, Min: 1, Max: 1}},
		"dup name":      {{Name: "x", Board: 0, Min: -1, Max: 1}, {Name: "x", Board: 1, Min: -1, Max: 1}},
	}
	for name, chans := range cases {
		sim := daqmx.NewSimulator(quiet())
		c := NewCoordinator(sim, DefaultConfig(), quiet())
		err := c.Configure(Direct, chans)
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s: expected ErrConfiguration, got %v", name, err)
		}
		if sim.Live() != 0 {
			t.Errorf("%s: expected no tasks created, got %d", name, sim.Live())
		}
	}
}

func TestConfigureDirect(t *testing.T) {
	c, sim := newSim(t, Direct)
	tasks := c.Tasks()
	if len(tasks) != 2 || tasks[0].Board != 0 || tasks[1].Board != 1 {
		t.Fatalf("expected tasks for boards 0 and 1, got %d", len(tasks))
	}
	st, _ := sim.Task(tasks[0].handle)
	if st.Channels[0] != "Dev1/ao0" || st.Channels[1] != "Dev1/ao1" {
		t.Errorf("expected channels attached by number, got %v", st.Channels)
	}
	if st.BufferSize == nil || *st.BufferSize != 0 {
		t.Error("expected unbuffered output in direct mode")
	}
	if st.Xfer["Dev1/ao0"] != daqmx.ProgrammedIO {
		t.Errorf("expected programmed IO, got %d", st.Xfer["Dev1/ao0"])
	}
	if st.Timing.Source != directClock || st.Timing.Rate != 1 || st.Timing.SampsPerChan != 1 {
		t.Errorf("unexpected direct timing %+v", *st.Timing)
	}
	if err := c.Configure(Direct, rig()); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected second configure to fail with ErrConfiguration, got %v", err)
	}
}

func TestConfigureTimeframe(t *testing.T) {
	c, sim := newSim(t, Timeframe)
	st, _ := sim.Task(c.Task(1).handle)
	if *st.BufferSize != 100000 || st.Xfer["Dev2/ao0"] != daqmx.DMA {
		t.Errorf("expected DMA with 100000 sample buffer, got %d, %d", *st.BufferSize, st.Xfer["Dev2/ao0"])
	}
	if st.Timing.Source != "PFI0" || st.Timing.Rate != 100000 || st.Timing.SampsPerChan != 1 {
		t.Errorf("unexpected timeframe timing %+v", *st.Timing)
	}
}

func TestSetModeBeforeConfigure(t *testing.T) {
	c := NewCoordinator(daqmx.NewSimulator(quiet()), DefaultConfig(), quiet())
	if err := c.SetMode(Timeframe); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestSetModeRoundTripThenWriteTimeframe(t *testing.T) {
	c, sim := newSim(t, Timeframe)
	if err := c.SetMode(Direct); err != nil {
		t.Fatal(err)
	}
	if err := c.DirectWrite(map[int][]float64{0: {1, 2}, 1: {3}}); err != nil {
		t.Fatal(err)
	}
	if err := c.SetMode(Timeframe); err != nil {
		t.Fatal(err)
	}
	if sim.Live() != 2 {
		t.Errorf("expected old tasks cleared, %d live", sim.Live())
	}
	bufs := map[int]Buffer{
		0: {{0, 0}, {1, 1}, {2, 2}},
		1: {{5}, {6}, {7}},
	}
	if err := c.WriteTimeframe(bufs); err != nil {
		t.Fatalf("expected timeframe write to succeed after mode round trip, got %v", err)
	}
	st, _ := sim.Task(c.Task(0).handle)
	if st.Timing.SampsPerChan != 3 || st.Timing.Edge != daqmx.Rising || st.Timing.Mode != daqmx.FiniteSamps {
		t.Errorf("unexpected timing %+v", *st.Timing)
	}
	want := []float64{0, 0, 1, 1, 2, 2}
	for i := range want {
		if st.Written[i] != want[i] {
			t.Fatalf("expected scan interleaved %v, got %v", want, st.Written)
		}
	}
	if st.Running {
		t.Error("expected timeframe write not to start the task")
	}
}

func TestWriteTimeframeMismatchedRows(t *testing.T) {
	c, sim := newSim(t, Timeframe)
	bufs := map[int]Buffer{
		0: {{0, 0}, {1, 1}},
		1: {{5}},
	}
	err := c.WriteTimeframe(bufs)
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
	if n := countCalls(sim, "DAQmxWriteAnalogF64"); n != 0 {
		t.Errorf("expected no driver write, got %d", n)
	}
}

func TestWriteTimeframeValidation(t *testing.T) {
	cases := map[string]map[int]Buffer{
		"missing board": {0: {{0, 0}}},
		"unknown board": {0: {{0, 0}}, 1: {{0}}, 2: {{0}}},
		"empty":         {0: {}, 1: {}},
		"row width":     {0: {{0}}, 1: {{0}}},
		"out of range":  {0: {{6, 0}}, 1: {{0}}},
	}
	for name, bufs := range cases {
		c, sim := newSim(t, Timeframe)
		if err := c.WriteTimeframe(bufs); !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s: expected ErrConfiguration, got %v", name, err)
		}
		if n := countCalls(sim, "DAQmxWriteAnalogF64"); n != 0 {
			t.Errorf("%s: expected no driver write, got %d", name, n)
		}
	}
}

func TestOutOfRangeIsVoltageRange(t *testing.T) {
	c, _ := newSim(t, Timeframe)
	err := c.WriteTimeframe(map[int]Buffer{0: {{6, 0}}, 1: {{0}}})
	if !errors.Is(err, ErrVoltageRange) {
		t.Errorf("expected ErrVoltageRange, got %v", err)
	}
	err = c.WriteTimeframe(map[int]Buffer{0: {{0}}, 1: {{0}}})
	if errors.Is(err, ErrVoltageRange) {
		t.Errorf("expected a row width error not to be ErrVoltageRange, got %v", err)
	}
}

func TestWriteInWrongMode(t *testing.T) {
	c, _ := newSim(t, Direct)
	if err := c.WriteTimeframe(map[int]Buffer{0: {{0, 0}}, 1: {{0}}}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for timeframe write in direct mode, got %v", err)
	}
	c, _ = newSim(t, Timeframe)
	if err := c.DirectWrite(map[int][]float64{0: {0, 0}, 1: {0}}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for direct write in timeframe mode, got %v", err)
	}
}

func TestDirectWriteStarts(t *testing.T) {
	c, sim := newSim(t, Direct)
	if err := c.DirectWrite(map[int][]float64{0: {1, 2}, 1: {3}}); err != nil {
		t.Fatal(err)
	}
	for _, tsk := range c.Tasks() {
		if tsk.State() != Running {
			t.Errorf("board %d: expected running, got %s", tsk.Board, tsk.State())
		}
		st, _ := sim.Task(tsk.handle)
		if !st.Running {
			t.Errorf("board %d: expected driver task started", tsk.Board)
		}
	}
}

func TestStartStopVisitsEveryBoard(t *testing.T) {
	c, sim := newSim(t, Timeframe)
	sim.Inject["DAQmxStartTask"] = -50103
	err := c.Start()
	var se *status.Error
	if !errors.As(err, &se) || se.Code != -50103 {
		t.Fatalf("expected driver error -50103, got %v", err)
	}
	if n := countCalls(sim, "DAQmxStartTask"); n != 2 {
		t.Errorf("expected start attempted on both boards, got %d", n)
	}
	delete(sim.Inject, "DAQmxStartTask")
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	for _, tsk := range c.Tasks() {
		if tsk.State() != Stopped {
			t.Errorf("board %d: expected stopped, got %s", tsk.Board, tsk.State())
		}
	}
}

func TestWarningDoesNotFail(t *testing.T) {
	c, sim := newSim(t, Timeframe)
	sim.Inject["DAQmxStartTask"] = 200015
	if err := c.Start(); err != nil {
		t.Errorf("expected warning to be swallowed, got %v", err)
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	c, sim := newSim(t, Timeframe)
	c.Start()
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if sim.Live() != 0 {
		t.Errorf("expected every task cleared, %d live", sim.Live())
	}
	if c.Configured() {
		t.Error("expected unconfigured after close")
	}
	if err := c.Configure(Direct, rig()); err != nil {
		t.Errorf("expected reconfigure after close, got %v", err)
	}
}

func TestReadCSV(t *testing.T) {
	c, _ := newSim(t, Timeframe)
	text := "coil,ch1,ch0\n1,2,3\n4,5,-5\n"
	bufs, err := ReadCSV(strings.NewReader(text), c.Channels())
	if err != nil {
		t.Fatal(err)
	}
	if len(bufs[0]) != 2 || bufs[0][0][0] != 3 || bufs[0][0][1] != 2 {
		t.Errorf("expected board 0 columns ch0,ch1, got %v", bufs[0])
	}
	if len(bufs[1]) != 2 || bufs[1][1][0] != 4 {
		t.Errorf("expected board 1 coil column, got %v", bufs[1])
	}
	if err := c.WriteTimeframe(bufs); err != nil {
		t.Errorf("expected parsed buffers to write, got %v", err)
	}
}

func TestReadCSVMissingColumn(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("coil,ch1\n1,2\n"), rig())
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
	_, err = ReadCSV(strings.NewReader("coil,ch1,ch0,extra\n1,2,3,4\n"), rig())
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for unknown column, got %v", err)
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Timeframe")
	if err != nil || m != Timeframe {
		t.Errorf("expected Timeframe, got %v, %v", m, err)
	}
	if _, err := ParseMode("burst"); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestRowByName(t *testing.T) {
	c, _ := newSim(t, Direct)
	rows, err := RowByName(c.Channels(), map[string]float64{"coil": 3, "ch1": 2, "ch0": 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows[0]) != 2 || rows[0][0] != 1 || rows[0][1] != 2 || rows[1][0] != 3 {
		t.Errorf("expected board 0 [1 2] and board 1 [3], got %v", rows)
	}
	if err := c.DirectWrite(rows); err != nil {
		t.Errorf("expected arranged row to write, got %v", err)
	}
	if _, err := RowByName(c.Channels(), map[string]float64{"coil": 3, "ch1": 2}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for a missing channel, got %v", err)
	}
	if _, err := RowByName(c.Channels(), map[string]float64{"coil": 3, "ch1": 2, "ch0": 1, "x": 0}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for an unknown name, got %v", err)
	}
}
