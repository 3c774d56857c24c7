/*Package sweep drives a stepped-sweep microwave source so that its output
tracks a calibration curve.

Each output request ramps the source from the frequency of the previous
request to the new one, as a single stepped sweep fired by one trigger.  The
controller remembers where the ramp ends so the next one can start there.
*/
package sweep

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/labalyzer/labctl/calibration"
)

// ErrNotInitialized is returned when the controller is used before Initialize
var ErrNotInitialized = errors.New("sweep controller is not initialized")

// Source is a frequency-swept signal generator
type Source interface {
	// Reset returns the source to its power-on state
	Reset() error

	// SetPower sets the output power in dBm
	SetPower(dbm float64) error

	// SetFrequency sets the CW frequency in Hz
	SetFrequency(hz float64) error

	// SetSweepStep puts the source in stepped sweep mode with the given step
	// and dwell per step
	SetSweepStep(stepHz float64, dwell time.Duration) error

	// SetSweepSpan sets the start and stop frequency of the sweep, in Hz
	SetSweepSpan(startHz, stopHz float64) error

	// Trigger fires one sweep
	Trigger() error
}

// Config is the static configuration of a Controller
type Config struct {
	// CalibrationFile is the path to the calibration CSV
	CalibrationFile string `koanf:"calibrationFile" yaml:"calibrationFile"`

	// InitialPower is the power set by Initialize, in dBm
	InitialPower float64 `koanf:"initialPower" yaml:"initialPower"`

	// StepHz is the frequency step of the sweep
	StepHz float64 `koanf:"stepHz" yaml:"stepHz"`

	// Dwell is the time spent on each step
	Dwell time.Duration `koanf:"dwell" yaml:"dwell"`

	// DefaultStart is the ramp origin after Initialize, in Hz
	DefaultStart float64 `koanf:"defaultStart" yaml:"defaultStart"`
}

// DefaultConfig returns the configuration used on the bench
func DefaultConfig() Config {
	return Config{
		CalibrationFile: "calibration.csv",
		InitialPower:    -20,
		StepHz:          100e3,
		Dwell:           time.Millisecond,
		DefaultStart:    100e6,
	}
}

// Controller programs a Source one output request at a time and tracks the
// ramp origin between requests.  It is not safe for concurrent use.
type Controller struct {
	src Source
	log *log.Logger
	cfg Config

	// load is how the calibration table is obtained
	load func(string) (*calibration.Table, error)

	table        *calibration.Table
	currentStart float64
}

// NewController returns a Controller.  A nil logger logs to the standard logger.
func NewController(src Source, cfg Config, l *log.Logger) *Controller {
	if l == nil {
		l = log.Default()
	}
	return &Controller{src: src, log: l, cfg: cfg, load: calibration.LoadFile}
}

// NewControllerWithTable returns a Controller that uses a table already in
// memory instead of loading cfg.CalibrationFile
func NewControllerWithTable(src Source, cfg Config, tbl *calibration.Table, l *log.Logger) *Controller {
	c := NewController(src, cfg, l)
	c.load = func(string) (*calibration.Table, error) { return tbl, nil }
	return c
}

// Initialize resets the source, loads the calibration table, sets the
// initial power and stepped sweep mode, and sets the ramp origin to the
// default start frequency
func (c *Controller) Initialize() error {
	if err := c.src.Reset(); err != nil {
		return fmt.Errorf("resetting source: %w", err)
	}
	tbl, err := c.load(c.cfg.CalibrationFile)
	if err != nil {
		return err
	}
	if err := c.src.SetPower(c.cfg.InitialPower); err != nil {
		return fmt.Errorf("setting initial power: %w", err)
	}
	if err := c.src.SetSweepStep(c.cfg.StepHz, c.cfg.Dwell); err != nil {
		return fmt.Errorf("setting sweep mode: %w", err)
	}
	c.table = tbl
	c.currentStart = c.cfg.DefaultStart
	lo, hi := tbl.Span()
	c.log.Printf("sweep controller initialized, calibrated from %g to %g Hz", lo, hi)
	return nil
}

// Initialized returns true once Initialize has succeeded
func (c *Controller) Initialized() bool { return c.table != nil }

// Table returns the calibration table, or nil before Initialize
func (c *Controller) Table() *calibration.Table { return c.table }

// SetOutput programs power and then frequency.  If useCalibration is true,
// the power is taken from the calibration table and dbm is ignored.  A
// calibration error aborts before anything is programmed.
func (c *Controller) SetOutput(hz, dbm float64, useCalibration bool) error {
	if !c.Initialized() {
		return ErrNotInitialized
	}
	if useCalibration {
		p, err := c.table.PowerAt(hz)
		if err != nil {
			return err
		}
		dbm = p
	}
	if err := c.src.SetPower(dbm); err != nil {
		return fmt.Errorf("setting power: %w", err)
	}
	return c.SetFrequency(hz)
}

// SetFrequency ramps from the current start frequency to hz with one
// triggered sweep.  The ramp origin moves to hz only if both the span and the
// trigger succeed.
func (c *Controller) SetFrequency(hz float64) error {
	if !c.Initialized() {
		return ErrNotInitialized
	}
	if err := c.src.SetSweepSpan(c.currentStart, hz); err != nil {
		return fmt.Errorf("setting sweep span: %w", err)
	}
	if err := c.src.Trigger(); err != nil {
		return fmt.Errorf("triggering sweep: %w", err)
	}
	c.currentStart = hz
	return nil
}

// CurrentStart returns the ramp origin of the next SetFrequency, in Hz
func (c *Controller) CurrentStart() float64 { return c.currentStart }
