/*Package labsrv assembles the analog boards, the digital pattern card and the
sweep source into one rig and serves it over HTTP.

Each component sits behind its own mutex, so requests to different
components proceed independently while requests to one component are
serialized.
*/
package labsrv

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/labalyzer/labctl/aout"
	"github.com/labalyzer/labctl/daqmx"
	"github.com/labalyzer/labctl/dio64"
	"github.com/labalyzer/labctl/generichttp"
	"github.com/labalyzer/labctl/generichttp/timeframe"
	"github.com/labalyzer/labctl/rohdeschwarz"
	"github.com/labalyzer/labctl/server/middleware/locker"
	"github.com/labalyzer/labctl/sweep"
	"github.com/labalyzer/labctl/util"
)

var _ sweep.Source = (*rohdeschwarz.SMx)(nil)

// Analog is an aout.Coordinator safe for concurrent use
type Analog struct {
	mu sync.Mutex
	c  *aout.Coordinator
}

// NewAnalog wraps a Coordinator
func NewAnalog(c *aout.Coordinator) *Analog { return &Analog{c: c} }

// Configure calls aout.Coordinator.Configure
func (a *Analog) Configure(mode aout.Mode, chans []aout.Channel) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.c.Configure(mode, chans)
}

// SetMode calls aout.Coordinator.SetMode
func (a *Analog) SetMode(m aout.Mode) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.c.SetMode(m)
}

// Mode calls aout.Coordinator.Mode
func (a *Analog) Mode() aout.Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.c.Mode()
}

// Channels calls aout.Coordinator.Channels
func (a *Analog) Channels() []aout.Channel {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.c.Channels()
}

// DirectWrite calls aout.Coordinator.DirectWrite
func (a *Analog) DirectWrite(samples map[int][]float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.c.DirectWrite(samples)
}

// WriteTimeframe calls aout.Coordinator.WriteTimeframe
func (a *Analog) WriteTimeframe(bufs map[int]aout.Buffer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.c.WriteTimeframe(bufs)
}

// Start calls aout.Coordinator.Start
func (a *Analog) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.c.Start()
}

// Stop calls aout.Coordinator.Stop
func (a *Analog) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.c.Stop()
}

// Close calls aout.Coordinator.Close
func (a *Analog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.c.Close()
}

// Digital is a dio64.Sequencer safe for concurrent use
type Digital struct {
	mu sync.Mutex
	s  *dio64.Sequencer
}

// NewDigital wraps a Sequencer
func NewDigital(s *dio64.Sequencer) *Digital { return &Digital{s: s} }

// Configure calls dio64.Sequencer.Configure
func (d *Digital) Configure(mask [4]uint16, divisor uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.Configure(mask, divisor)
}

// WritePattern calls dio64.Sequencer.WritePattern
func (d *Digital) WritePattern(buf []uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.WritePattern(buf)
}

// Start calls dio64.Sequencer.Start
func (d *Digital) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.Start()
}

// Stop calls dio64.Sequencer.Stop
func (d *Digital) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.Stop()
}

// Progress calls dio64.Sequencer.Progress
func (d *Digital) Progress() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.Progress()
}

// ForceOutput calls dio64.Sequencer.ForceOutput
func (d *Digital) ForceOutput(value uint16, port int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.ForceOutput(value, port)
}

// Checksum calls dio64.Sequencer.Checksum
func (d *Digital) Checksum() (uint16, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.Checksum()
}

// TimeframeLength calls dio64.Sequencer.TimeframeLength
func (d *Digital) TimeframeLength() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.TimeframeLength()
}

// Shutdown calls dio64.Sequencer.Shutdown
func (d *Digital) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.Shutdown()
}

// Sweep is a sweep.Controller safe for concurrent use
type Sweep struct {
	mu sync.Mutex
	c  *sweep.Controller
}

// NewSweep wraps a Controller
func NewSweep(c *sweep.Controller) *Sweep { return &Sweep{c: c} }

// Initialize calls sweep.Controller.Initialize
func (s *Sweep) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Initialize()
}

// SetOutput calls sweep.Controller.SetOutput
func (s *Sweep) SetOutput(hz, dbm float64, useCalibration bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.SetOutput(hz, dbm, useCalibration)
}

// SetFrequency calls sweep.Controller.SetFrequency
func (s *Sweep) SetFrequency(hz float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.SetFrequency(hz)
}

// CurrentStart calls sweep.Controller.CurrentStart
func (s *Sweep) CurrentStart() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.CurrentStart()
}

// Rig is the complete set of instruments
type Rig struct {
	Analog  *Analog
	Digital *Digital
	Sweep   *Sweep

	log *log.Logger
}

// NewSource returns the sweep source described by t.  If mock is true, or the
// instrument does not identify itself, a sweep.MockSource is returned.
func NewSource(t rohdeschwarz.Transport, mock bool, l *log.Logger) sweep.Source {
	if l == nil {
		l = log.Default()
	}
	if mock {
		return sweep.NewMockSource()
	}
	smx, err := rohdeschwarz.Dial(t)
	if err == nil {
		var idn string
		idn, err = smx.Identify()
		if err == nil {
			l.Printf("sweep source at %s is %s", t.Addr, idn)
			return smx
		}
	}
	l.Printf("sweep source at %s (%s) not reachable, using simulator: %v", t.Addr, t.Kind, err)
	return sweep.NewMockSource()
}

// NewRig opens every instrument described by c.  Drivers that cannot be
// loaded are replaced by simulators.  A sweep controller that fails to
// initialize is logged and left uninitialized.
func NewRig(c Config, l *log.Logger) (*Rig, error) {
	if l == nil {
		l = log.Default()
	}
	src := NewSource(c.Sweep.Transport, c.Mock, l)
	return NewRigWith(c, daqmx.Open(l, c.Mock), dio64.Open(l, c.Mock), src, l)
}

// NewRigWith builds a rig on the given drivers and source
func NewRigWith(c Config, ao daqmx.Driver, dio dio64.Driver, src sweep.Source, l *log.Logger) (*Rig, error) {
	if l == nil {
		l = log.Default()
	}
	r := &Rig{
		Analog:  NewAnalog(aout.NewCoordinator(ao, c.Analog.Output, l)),
		Digital: NewDigital(dio64.NewSequencer(dio, c.Digital.Card, l)),
		Sweep:   NewSweep(sweep.NewController(src, c.Sweep.Controller, l)),
		log:     l,
	}
	l.Printf("analog output on boards %s", util.IntSliceToCSV(c.Analog.Output.Boards))
	if len(c.Analog.Channels) > 0 {
		mode, err := aout.ParseMode(c.Analog.Mode)
		if err != nil {
			return nil, err
		}
		if err := r.Analog.Configure(mode, c.Analog.Channels); err != nil {
			return nil, fmt.Errorf("configuring analog output: %w", err)
		}
	}
	if err := r.Digital.Configure(c.Digital.Mask(), c.Digital.TickDivisor); err != nil {
		r.Analog.Close()
		return nil, fmt.Errorf("configuring digital output: %w", err)
	}
	if err := r.Sweep.Initialize(); err != nil {
		l.Printf("sweep controller not initialized: %v", err)
	}
	return r, nil
}

// Play starts one playback.  The analog boards are started first so they
// are armed before the digital card begins to clock them.  If the card
// fails to start, the boards are stopped again.
func (r *Rig) Play() error {
	if err := r.Analog.Start(); err != nil {
		return fmt.Errorf("starting analog output: %w", err)
	}
	if err := r.Digital.Start(); err != nil {
		if stopErr := r.Analog.Stop(); stopErr != nil {
			r.log.Printf("stopping analog output after failed play: %v", stopErr)
		}
		return fmt.Errorf("starting digital output: %w", err)
	}
	return nil
}

// Stop stops the digital card, then the analog boards
func (r *Rig) Stop() error {
	return errors.Join(r.Digital.Stop(), r.Analog.Stop())
}

// Close releases every instrument
func (r *Rig) Close() error {
	return errors.Join(r.Digital.Shutdown(), r.Analog.Close())
}

// HTTPRig wraps a Rig in a route table
type HTTPRig struct {
	RouteTable generichttp.RouteTable
}

// NewHTTPRig returns the routes of the rig as a whole.  Play and stop drive
// the analog and digital outputs, so they are refused while any of guards is
// locked.
func NewHTTPRig(r *Rig, guards ...*locker.Locker) HTTPRig {
	play, stop := timeframe.Do(r.Play), timeframe.Do(r.Stop)
	for _, g := range guards {
		play, stop = g.Guard(play), g.Guard(stop)
	}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/play"}: play,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/stop"}: stop,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/timeframe-length"}: generichttp.GetFloat(func() (float64, error) {
			return r.Digital.TimeframeLength(), nil
		}),
	}
	return HTTPRig{RouteTable: rt}
}

// RT satisfies generichttp.HTTPer
func (h HTTPRig) RT() generichttp.RouteTable {
	return h.RouteTable
}
