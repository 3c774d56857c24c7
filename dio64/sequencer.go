package dio64

import (
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/labalyzer/labctl/status"
	"github.com/labalyzer/labctl/util"
)

var (
	// ErrNotConfigured is returned when the card is used before Configure
	ErrNotConfigured = errors.New("digital output is not configured")

	// ErrNotRunning is returned when progress is queried with no playback running
	ErrNotRunning = errors.New("digital output is not running")

	// ErrInvalidPort is returned for a port outside of A through D
	ErrInvalidPort = errors.New("port must be 0 (A) through 3 (D)")

	// ErrInvalidDivisor is returned for a tick divisor whose tick rate
	// cannot be formed
	ErrInvalidDivisor = errors.New("tick divisor out of range")
)

// MaxTickDivisor is the largest divisor Configure accepts
const MaxTickDivisor = math.MaxUint32 - 1

// Config is the static configuration of a Sequencer
type Config struct {
	// Board is the index of the card
	Board uint16 `koanf:"board" yaml:"board"`

	// OutputBufferSize is the size of the card's output buffer attribute
	OutputBufferSize uint32 `koanf:"outputBufferSize" yaml:"outputBufferSize"`

	// BaseClockHz is the frequency of the clock the tick divisor applies to
	BaseClockHz float64 `koanf:"baseClockHz" yaml:"baseClockHz"`
}

// DefaultConfig returns the configuration of a single card on the internal clock
func DefaultConfig() Config {
	return Config{Board: 0, OutputBufferSize: 16777216, BaseClockHz: BaseClockHz}
}

// Sequencer drives one card through its configure, upload, start, progress
// and stop lifecycle.  It exclusively owns the open device.
//
// A Sequencer is not safe for concurrent use.
type Sequencer struct {
	drv Driver
	log *log.Logger
	cfg Config

	open      bool
	loaded    bool
	outCfg    OutConfig
	samplesMs float64

	timeframeLength float64 // ms
	crc             uint16
	haveCRC         bool

	running  bool
	progress float64
}

// NewSequencer returns a Sequencer for the card.  A nil logger logs to the
// standard logger.
func NewSequencer(drv Driver, cfg Config, l *log.Logger) *Sequencer {
	if l == nil {
		l = log.Default()
	}
	if cfg.BaseClockHz == 0 {
		cfg.BaseClockHz = BaseClockHz
	}
	return &Sequencer{drv: drv, log: l, cfg: cfg}
}

func (s *Sequencer) check(call string, code status.Code) error {
	return status.Check(s.log, s.drv, call, code)
}

// Configured returns true if Configure has succeeded and Shutdown has not been called since
func (s *Sequencer) Configured() bool { return s.samplesMs > 0 }

// SamplesPerMillisecond returns the tick rate of the card in ticks per ms
func (s *Sequencer) SamplesPerMillisecond() float64 { return s.samplesMs }

// TimeframeLength returns the duration of the uploaded pattern in ms
func (s *Sequencer) TimeframeLength() float64 { return s.timeframeLength }

// Running returns true between Start and Stop
func (s *Sequencer) Running() bool { return s.running }

// Configure opens the card, loads the output-only FPGA program, and
// configures output of the ports enabled by mask on the internal clock.
// The tick rate is BaseClockHz/(divisor+1).  The card is only opened once;
// calling Configure again reconfigures output and discards the pattern.
func (s *Sequencer) Configure(mask [4]uint16, divisor uint32) error {
	if divisor > MaxTickDivisor {
		return fmt.Errorf("%w: %d, at most %d", ErrInvalidDivisor, divisor, uint32(MaxTickDivisor))
	}
	b := s.cfg.Board
	if !s.open {
		if err := s.check("DIO64_Open", s.drv.Open(b, 0)); err != nil {
			return err
		}
		s.open = true
	}
	if !s.loaded {
		if err := s.check("DIO64_SetAttr", s.drv.SetAttr(b, AttrOutputBufferSize, s.cfg.OutputBufferSize)); err != nil {
			return err
		}
		if err := s.check("DIO64_Load", s.drv.Load(b, "", 0, 4)); err != nil {
			return err
		}
		s.loaded = true
	}
	s.outCfg = OutConfig{
		Ticks:       divisor,
		Mask:        mask,
		ClkControl:  ClkInternal,
		StartType:   StartTypeLevel + TrigRising,
		StartSource: StartNone,
		StopType:    StopTypeEdge + TrigRising,
		StopSource:  StopNone,
		Reps:        1,
	}
	if err := s.applyOutConfig(); err != nil {
		return err
	}
	s.samplesMs = s.cfg.BaseClockHz / (float64(divisor) + 1) / 1000
	s.timeframeLength = 0
	s.haveCRC = false
	s.log.Printf("DIO64 board %d configured at %g ticks/ms", b, s.samplesMs)
	return nil
}

func (s *Sequencer) applyOutConfig() error {
	_, code := s.drv.OutConfig(s.cfg.Board, s.outCfg)
	return s.check("DIO64_Out_Config", code)
}

// WritePattern validates and uploads a card buffer.  The duration of the
// pattern is taken from its trailer.
func (s *Sequencer) WritePattern(buf []uint16) error {
	if !s.Configured() {
		return fmt.Errorf("%w: write pattern before configure", ErrNotConfigured)
	}
	ticks, err := DurationTicks(buf)
	if err != nil {
		return err
	}
	if s.running {
		if err := s.Stop(); err != nil {
			return err
		}
	}
	if err := s.applyOutConfig(); err != nil {
		return err
	}
	b := s.cfg.Board
	_, _, code := s.drv.OutStatus(b)
	if err := s.check("DIO64_Out_Status", code); err != nil {
		return err
	}
	_, code = s.drv.OutWrite(b, buf, uint32(len(buf)/WordsPerScan))
	if err := s.check("DIO64_Out_Write", code); err != nil {
		return err
	}
	s.timeframeLength = float64(ticks) / s.samplesMs
	s.crc = Checksum(buf)
	s.haveCRC = true
	s.log.Printf("DIO64 pattern of %d scans written, %g ms long", len(buf)/WordsPerScan, s.timeframeLength)
	return nil
}

// Checksum returns the CRC of the last uploaded pattern and true, or false
// if no pattern has been uploaded since Configure
func (s *Sequencer) Checksum() (uint16, bool) {
	return s.crc, s.haveCRC
}

// Start begins playback of the uploaded pattern
func (s *Sequencer) Start() error {
	if !s.Configured() {
		return fmt.Errorf("%w: start before configure", ErrNotConfigured)
	}
	if s.timeframeLength == 0 {
		return fmt.Errorf("%w: start with no pattern written", ErrNotConfigured)
	}
	if err := s.check("DIO64_Out_Start", s.drv.OutStart(s.cfg.Board)); err != nil {
		return err
	}
	s.running = true
	s.progress = 0
	return nil
}

// Progress returns the fraction of the pattern played, in [0,1].  It does not
// decrease within one playback.
func (s *Sequencer) Progress() (float64, error) {
	if !s.running {
		return 0, ErrNotRunning
	}
	_, st, code := s.drv.OutStatus(s.cfg.Board)
	if err := s.check("DIO64_Out_Status", code); err != nil {
		return s.progress, err
	}
	elapsed := float64(st.Elapsed()) / s.samplesMs
	p := util.Clamp(elapsed/s.timeframeLength, 0, 1)
	if p > s.progress {
		s.progress = p
	}
	return s.progress, nil
}

// ForceOutput immediately drives one port (0-3 for A-D) to value
func (s *Sequencer) ForceOutput(value uint16, port int) error {
	if !s.Configured() {
		return fmt.Errorf("%w: force output before configure", ErrNotConfigured)
	}
	if port < 0 || port > 3 {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, port)
	}
	buf := [4]uint16{value, value, value, value}
	return s.check("DIO64_Out_ForceOutput", s.drv.OutForceOutput(s.cfg.Board, buf, 1<<uint(port)))
}

// Stop stops playback.  It is safe to call at any time.
func (s *Sequencer) Stop() error {
	if !s.open {
		return nil
	}
	s.running = false
	return s.check("DIO64_Out_Stop", s.drv.OutStop(s.cfg.Board))
}

// Shutdown stops playback and closes the card.  It is safe to call at any time.
func (s *Sequencer) Shutdown() error {
	if !s.open {
		return nil
	}
	stopErr := s.Stop()
	closeErr := s.check("DIO64_Close", s.drv.Close(s.cfg.Board))
	s.open = false
	s.loaded = false
	s.samplesMs = 0
	s.timeframeLength = 0
	s.haveCRC = false
	return errors.Join(stopErr, closeErr)
}
