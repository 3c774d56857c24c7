/*Package dio64 drives Viewpoint DIO64 digital pattern cards.

The card plays back a buffer of timestamped port states.  Each scan of the
buffer is six 16-bit words: the low and high halves of the tick at which the
scan takes effect, then the states of ports A through D.  The final scan is a
trailer whose tick is the total duration of the pattern.

The card is reached through Driver, which mirrors the DIO64 C API.  Open
selects the native library when present, else the Simulator.  Sequencer
layers the configure, upload, start, progress, and stop lifecycle on top.
*/
package dio64

import (
	"log"

	"github.com/labalyzer/labctl/status"
)

// values from dio64_32.h
const (
	ClkInternal = 0
	ClkExternal = 1

	StartNone     = 0
	StartExternal = 1

	StartTypeLevel = 0
	StartTypeEdge  = 4

	StopNone     = 0
	StopTypeEdge = 0

	TrigRising  = 0
	TrigFalling = 1

	AttrOutputBufferSize = 3
)

// BaseClockHz is the frequency of the on-board clock the tick divisor applies to
const BaseClockHz = 40e6

// WordsPerScan is the number of 16-bit words in one scan of a pattern
const WordsPerScan = 6

// OutStat mirrors DIO64STAT
type OutStat struct {
	PktSize      uint16
	PortCount    uint16
	WritePtr     uint16
	ReadPtr      uint16
	Time         [2]uint16
	FifoSize     uint32
	Fifo0        uint16
	Ticks        uint32
	Flags        uint16
	ClkControl   uint16
	StartControl uint16
	StopControl  uint16
	AIControl    uint32
	AICurrent    uint16
	StartTime    [2]uint16
	StopTime     [2]uint16
	User         [4]uint16
}

// Elapsed returns the number of ticks since the start of output
func (s OutStat) Elapsed() uint32 {
	return uint32(s.Time[1])<<16 | uint32(s.Time[0])
}

// OutConfig holds the arguments to DIO64_Out_Config
type OutConfig struct {
	// Ticks is the clock divisor; the tick rate is BaseClockHz/(Ticks+1)
	Ticks uint32

	// Mask enables the lines of each port
	Mask [4]uint16

	Flags       uint16
	ClkControl  uint16
	StartType   uint16
	StartSource uint16
	StopType    uint16
	StopSource  uint16
	AIControl   uint32
	Reps        uint32
	NTrans      uint16
}

// Driver is the digital output capability set used by Sequencer
type Driver interface {
	status.Describer

	// Open opens a board.  baseIO is ignored by modern cards.
	Open(board uint16, baseIO uint16) status.Code

	// Close closes a board
	Close(board uint16) status.Code

	// Load loads the FPGA program matching the hinted port counts.  An empty
	// rbf selects the default program.
	Load(board uint16, rbf string, inputHint, outputHint int) status.Code

	// SetAttr sets a board attribute
	SetAttr(board uint16, attr uint32, value uint32) status.Code

	// OutConfig configures output.  It returns the effective scan rate.
	OutConfig(board uint16, cfg OutConfig) (float64, status.Code)

	// OutStart begins playback of the written buffer
	OutStart(board uint16) status.Code

	// OutStatus reports the scans available in the FIFO and the output status
	OutStatus(board uint16) (uint32, OutStat, status.Code)

	// OutWrite writes scans scans of buf to the card
	OutWrite(board uint16, buf []uint16, scans uint32) (OutStat, status.Code)

	// OutStop stops playback
	OutStop(board uint16) status.Code

	// OutForceOutput immediately drives the ports selected by mask to the
	// values in buf
	OutForceOutput(board uint16, buf [4]uint16, mask uint32) status.Code
}

// Open returns the native DIO64 driver if it can be loaded and simulate is
// false, otherwise a Simulator
func Open(l *log.Logger, simulate bool) Driver {
	if l == nil {
		l = log.Default()
	}
	if !simulate {
		d, err := openNative()
		if err == nil {
			l.Println("DIO64 driver loaded")
			return d
		}
		l.Printf("can't load DIO64 driver, using simulator: %v", err)
	}
	return NewSimulator(l)
}
