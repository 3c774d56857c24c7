/*Package rohdeschwarz enables control of Rohde & Schwarz SMx series signal
generators as stepped-sweep sources.

An SMx satisfies sweep.Source.  SetSweepStep arms a single-shot stepped
frequency sweep; each Trigger then runs it once from the start to the stop
frequency.
*/
package rohdeschwarz

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"

	"github.com/labalyzer/labctl/comm"
	"github.com/labalyzer/labctl/mathx"
	"github.com/labalyzer/labctl/scpi"
	"github.com/labalyzer/labctl/usbtmc"
)

// commandSpacing is the minimum time between commands
const commandSpacing = 2 * time.Millisecond

// Transport describes how the generator is reached
type Transport struct {
	// Kind is one of tcp, serial, usbtmc
	Kind string `koanf:"kind" yaml:"kind"`

	// Addr is host:port for tcp, or the port name for serial
	Addr string `koanf:"addr" yaml:"addr"`

	// Baud is the serial baud rate
	Baud int `koanf:"baud" yaml:"baud"`

	// VID and PID identify a USB-TMC device
	VID uint16 `koanf:"vid" yaml:"vid"`
	PID uint16 `koanf:"pid" yaml:"pid"`
}

// Maker returns the CreationFunc for the transport
func (t Transport) Maker() (comm.CreationFunc, error) {
	switch strings.ToLower(t.Kind) {
	case "", "tcp":
		return comm.TCPMaker(t.Addr, 3*time.Second), nil
	case "serial":
		baud := t.Baud
		if baud == 0 {
			baud = 9600
		}
		return comm.SerialMaker(&serial.Config{Name: t.Addr, Baud: baud, ReadTimeout: time.Second}), nil
	case "usbtmc":
		vid, pid := t.VID, t.PID
		return func() (io.ReadWriteCloser, error) {
			return usbtmc.NewUSBDevice(vid, pid)
		}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q, allowed values are tcp, serial, usbtmc", t.Kind)
	}
}

// SMx is a Rohde & Schwarz SMx signal generator
type SMx struct {
	*scpi.SCPI
}

// NewSMx creates a new SMx over a pool of connections
func NewSMx(pool *comm.Pool) *SMx {
	return &SMx{SCPI: scpi.New(pool, commandSpacing, false)}
}

// Dial creates a new SMx reached through t
func Dial(t Transport) (*SMx, error) {
	maker, err := t.Maker()
	if err != nil {
		return nil, err
	}
	return NewSMx(comm.NewPool(1, 30*time.Second, maker)), nil
}

func hz(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64) + " Hz"
}

// Identify returns the response to *IDN?
func (s *SMx) Identify() (string, error) {
	return s.ReadString("*IDN?")
}

// Reset returns the generator to its preset state and clears the status
func (s *SMx) Reset() error {
	return s.Write("*RST;*CLS")
}

// SetPower sets the RF level in dBm, to 0.01 dB
func (s *SMx) SetPower(dbm float64) error {
	return s.Write(fmt.Sprintf("POW %.2f dBm", mathx.Round(dbm, 0.01)))
}

// SetFrequency sets the CW frequency
func (s *SMx) SetFrequency(f float64) error {
	return s.Write("FREQ " + hz(f))
}

// SetSweepStep arms a single-shot linear stepped frequency sweep and turns
// the RF output on
func (s *SMx) SetSweepStep(stepHz float64, dwell time.Duration) error {
	cmds := []string{
		"SWE:FREQ:MODE STEP",
		"SWE:FREQ:SPAC LIN",
		"SWE:FREQ:STEP:LIN " + hz(stepHz),
		"SWE:FREQ:DWEL " + strconv.FormatFloat(dwell.Seconds(), 'f', -1, 64) + " s",
		"TRIG:FSW:SOUR SING",
		"FREQ:MODE SWE",
		"OUTP ON",
	}
	for _, c := range cmds {
		if err := s.Write(c); err != nil {
			return err
		}
	}
	return nil
}

// SetSweepSpan sets the start and stop frequency of the sweep
func (s *SMx) SetSweepSpan(start, stop float64) error {
	if err := s.Write("FREQ:STAR " + hz(start)); err != nil {
		return err
	}
	return s.Write("FREQ:STOP " + hz(stop))
}

// Trigger runs the sweep once
func (s *SMx) Trigger() error {
	return s.Write("SWE:FREQ:EXEC")
}
