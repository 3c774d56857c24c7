/*Package aout coordinates a fixed set of analog output boards driven through
NI-DAQmx.

The boards run in one of two modes.  In Direct mode writes are unbuffered and
take effect immediately.  In Timeframe mode a waveform is written to every
board ahead of time and each sample is clocked out by a pulse on the trigger
terminal, which is wired to the digital pattern card.  Switching mode is
destructive: every driver task is cleared and recreated.

A Coordinator is not safe for concurrent use.  Hosts which share one between
goroutines serialize access themselves.
*/
package aout

import (
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/labalyzer/labctl/daqmx"
)

// ErrConfiguration is returned when an operation is not valid for the
// current configuration, or when its input does not match it
var ErrConfiguration = errors.New("analog output configuration error")

// ErrVoltageRange is returned for a sample outside its channel's range.  It
// wraps ErrConfiguration.
var ErrVoltageRange = fmt.Errorf("%w: voltage out of range", ErrConfiguration)

// Buffer is the samples of one board.  Each row holds one voltage per channel
// of the board, in attach order.
type Buffer [][]float64

// Config is the static configuration of a Coordinator
type Config struct {
	// Boards is the set of board indices that channels may be attached to
	Boards []int `koanf:"boards" yaml:"boards"`

	// TriggerSource is the terminal that clocks samples in Timeframe mode
	TriggerSource string `koanf:"triggerSource" yaml:"triggerSource"`

	// SamplesPerMillisecond is the nominal sample rate in Timeframe mode
	SamplesPerMillisecond float64 `koanf:"samplesPerMillisecond" yaml:"samplesPerMillisecond"`

	// BufferSize is the output buffer size in Timeframe mode
	BufferSize uint32 `koanf:"bufferSize" yaml:"bufferSize"`

	// WriteTimeout is the timeout of buffered writes in seconds, negative to
	// wait forever
	WriteTimeout float64 `koanf:"writeTimeout" yaml:"writeTimeout"`
}

// DefaultConfig returns the configuration of the three board rack
func DefaultConfig() Config {
	return Config{
		Boards:                []int{0, 1, 2},
		TriggerSource:         "PFI0",
		SamplesPerMillisecond: 100,
		BufferSize:            100000,
		WriteTimeout:          daqmx.WaitInfinitely,
	}
}

// directClock is the clock used in Direct mode
const directClock = "ao/SampleClockTimebase"

// Coordinator owns the tasks of every board and applies configuration, mode
// changes, writes, and start/stop to all of them together
type Coordinator struct {
	drv daqmx.Driver
	log *log.Logger
	cfg Config

	mode         Mode
	channels     []Channel
	tasks        []*Task
	periodLength uint64
	configured   bool
}

// NewCoordinator returns an unconfigured Coordinator.  A nil logger logs to
// the standard logger.
func NewCoordinator(drv daqmx.Driver, cfg Config, l *log.Logger) *Coordinator {
	if l == nil {
		l = log.Default()
	}
	return &Coordinator{drv: drv, log: l, cfg: cfg, periodLength: 1}
}

// Configured returns true if Configure has succeeded and Close has not been called since
func (c *Coordinator) Configured() bool { return c.configured }

// Mode returns the current output mode
func (c *Coordinator) Mode() Mode { return c.mode }

// Channels returns the configured channels, grouped by board in attach order
func (c *Coordinator) Channels() []Channel {
	out := make([]Channel, len(c.channels))
	copy(out, c.channels)
	return out
}

// Tasks returns the board tasks in ascending board order
func (c *Coordinator) Tasks() []*Task {
	out := make([]*Task, len(c.tasks))
	copy(out, c.tasks)
	return out
}

// Task returns the task of a board, or nil
func (c *Coordinator) Task(board int) *Task {
	for _, t := range c.tasks {
		if t.Board == board {
			return t
		}
	}
	return nil
}

// Configure creates one task per board with channels, attaches the channels,
// and applies the buffering and timing of mode
func (c *Coordinator) Configure(mode Mode, chans []Channel) error {
	if c.configured {
		return fmt.Errorf("%w: already configured, close first", ErrConfiguration)
	}
	if mode != Direct && mode != Timeframe {
		return fmt.Errorf("%w: unknown mode %d", ErrConfiguration, mode)
	}
	groups, err := group(c.cfg.Boards, chans)
	if err != nil {
		return err
	}
	boards := make([]int, 0, len(groups))
	for b := range groups {
		boards = append(boards, b)
	}
	sort.Ints(boards)

	c.tasks = c.tasks[:0]
	c.channels = c.channels[:0]
	for _, b := range boards {
		c.tasks = append(c.tasks, newTask(c.drv, c.log, b, groups[b]))
		c.channels = append(c.channels, groups[b]...)
	}
	c.mode = mode
	c.periodLength = 1
	if err := c.build(); err != nil {
		c.teardown()
		return err
	}
	c.configured = true
	c.log.Printf("analog output configured in %s mode on %d boards", mode, len(c.tasks))
	return nil
}

// build opens every task and applies the buffering and timing of c.mode
func (c *Coordinator) build() error {
	size, mech := uint32(0), daqmx.ProgrammedIO
	if c.mode == Timeframe {
		size, mech = c.cfg.BufferSize, daqmx.DMA
	}
	for _, t := range c.tasks {
		if err := t.open(); err != nil {
			return err
		}
		if err := t.setBuffering(size, mech); err != nil {
			return err
		}
		if err := c.applyTiming(t); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) applyTiming(t *Task) error {
	if c.mode == Direct {
		return t.timing(directClock, 1, 1)
	}
	return t.timing(c.cfg.TriggerSource, c.cfg.SamplesPerMillisecond*1000, c.periodLength)
}

// teardown stops and clears every task, visiting all of them
func (c *Coordinator) teardown() error {
	var errs []error
	for _, t := range c.tasks {
		if t.state == Running {
			if err := t.stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := t.clear(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetMode switches the output mode.  Running tasks are stopped, every task
// is cleared and recreated, and the buffering of the new mode is applied to
// the fresh tasks followed by a one sample clock.
func (c *Coordinator) SetMode(mode Mode) error {
	if !c.configured {
		return fmt.Errorf("%w: set mode before configure", ErrConfiguration)
	}
	if mode != Direct && mode != Timeframe {
		return fmt.Errorf("%w: unknown mode %d", ErrConfiguration, mode)
	}
	if err := c.teardown(); err != nil {
		c.log.Printf("errors tearing down tasks for mode change: %v", err)
	}
	c.mode = mode
	c.periodLength = 1
	if err := c.build(); err != nil {
		return err
	}
	c.log.Printf("analog output switched to %s mode", mode)
	return nil
}

// validate checks that bufs holds a buffer for every board, none for unknown
// boards, equal non-zero row counts, rows as wide as the board's channel
// count, and values in range.  It returns the row count.
func (c *Coordinator) validate(bufs map[int]Buffer) (int, error) {
	for b := range bufs {
		if c.Task(b) == nil {
			return 0, fmt.Errorf("%w: samples given for board %d which has no channels", ErrConfiguration, b)
		}
	}
	rows := -1
	for _, t := range c.tasks {
		buf, ok := bufs[t.Board]
		if !ok {
			return 0, fmt.Errorf("%w: no samples for board %d", ErrConfiguration, t.Board)
		}
		if rows == -1 {
			rows = len(buf)
		}
		if len(buf) == 0 {
			return 0, fmt.Errorf("%w: no samples for board %d", ErrConfiguration, t.Board)
		}
		if len(buf) != rows {
			return 0, fmt.Errorf("%w: board %d has %d samples, expected %d like the other boards", ErrConfiguration, t.Board, len(buf), rows)
		}
		for i, row := range buf {
			if len(row) != len(t.Channels) {
				return 0, fmt.Errorf("%w: board %d row %d has %d values for %d channels", ErrConfiguration, t.Board, i, len(row), len(t.Channels))
			}
			for j, v := range row {
				ch := t.Channels[j]
				if !ch.InRange(v) {
					return 0, fmt.Errorf("%w: %g V on channel %q is outside [%g, %g]", ErrVoltageRange, v, ch.Name, ch.Min, ch.Max)
				}
			}
		}
	}
	if rows < 1 {
		return 0, fmt.Errorf("%w: no boards configured", ErrConfiguration)
	}
	return rows, nil
}

// WriteTimeframe programs the externally clocked sample timing on every
// board and writes each board's samples, without starting.  Nothing is
// written unless every buffer is valid.
func (c *Coordinator) WriteTimeframe(bufs map[int]Buffer) error {
	if !c.configured {
		return fmt.Errorf("%w: write before configure", ErrConfiguration)
	}
	if c.mode != Timeframe {
		return fmt.Errorf("%w: timeframe write in %s mode", ErrConfiguration, c.mode)
	}
	rows, err := c.validate(bufs)
	if err != nil {
		return err
	}
	for _, t := range c.tasks {
		if t.state == Running {
			if err := t.stop(); err != nil {
				return err
			}
		}
	}
	c.periodLength = uint64(rows)
	for _, t := range c.tasks {
		if err := c.applyTiming(t); err != nil {
			return err
		}
	}
	for _, t := range c.tasks {
		if err := t.write(bufs[t.Board], false, c.cfg.WriteTimeout); err != nil {
			return err
		}
	}
	return nil
}

// DirectWrite writes one sample per channel to every board, taking effect
// immediately.  samples maps a board to its row of voltages.
func (c *Coordinator) DirectWrite(samples map[int][]float64) error {
	if !c.configured {
		return fmt.Errorf("%w: write before configure", ErrConfiguration)
	}
	if c.mode != Direct {
		return fmt.Errorf("%w: direct write in %s mode", ErrConfiguration, c.mode)
	}
	bufs := make(map[int]Buffer, len(samples))
	for b, row := range samples {
		bufs[b] = Buffer{row}
	}
	if _, err := c.validate(bufs); err != nil {
		return err
	}
	for _, t := range c.tasks {
		if err := t.write(bufs[t.Board], true, c.cfg.WriteTimeout); err != nil {
			return err
		}
	}
	return nil
}

// Start starts every board in ascending order.  A failure on one board does
// not prevent the others from starting; all failures are returned joined.
func (c *Coordinator) Start() error {
	if !c.configured {
		return fmt.Errorf("%w: start before configure", ErrConfiguration)
	}
	var errs []error
	for _, t := range c.tasks {
		if err := t.start(); err != nil {
			c.log.Printf("starting board %d: %v", t.Board, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop stops every board in ascending order, with the same error policy as Start
func (c *Coordinator) Stop() error {
	if !c.configured {
		return nil
	}
	var errs []error
	for _, t := range c.tasks {
		if err := t.stop(); err != nil {
			c.log.Printf("stopping board %d: %v", t.Board, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops and clears every task.  The coordinator may be configured
// again afterwards.
func (c *Coordinator) Close() error {
	err := c.teardown()
	c.tasks = nil
	c.channels = nil
	c.configured = false
	return err
}
