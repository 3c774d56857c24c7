package dio64

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/snksoft/crc"
)

// ErrInvalidPattern is returned for a buffer which does not have the layout
// the card expects
var ErrInvalidPattern = errors.New("invalid digital pattern")

// read only after init
var crcTable = crc.NewTable(crc.CCITT)

// Transition is a change of the output ports at a tick
type Transition struct {
	// Tick is the time of the transition in card ticks from the start of output
	Tick uint32 `json:"tick"`

	// Ports holds ports A through D in its four 16-bit lanes, A lowest
	Ports uint64 `json:"ports"`
}

// Pattern is a sequence of transitions followed by a duration
type Pattern struct {
	Transitions []Transition `json:"transitions"`

	// Duration is the length of the pattern in ticks, held in the trailer
	Duration uint32 `json:"duration"`
}

func putScan(buf []uint16, tick uint32, ports uint64) {
	buf[0] = uint16(tick)
	buf[1] = uint16(tick >> 16)
	buf[2] = uint16(ports)
	buf[3] = uint16(ports >> 16)
	buf[4] = uint16(ports >> 32)
	buf[5] = uint16(ports >> 48)
}

func scanTick(scan []uint16) uint32 {
	return uint32(scan[0]) | uint32(scan[1])<<16
}

func scanPorts(scan []uint16) uint64 {
	return uint64(scan[2]) | uint64(scan[3])<<16 | uint64(scan[4])<<32 | uint64(scan[5])<<48
}

// Encode produces the card buffer of the pattern.  The trailer holds the
// ports of the last transition, so outputs keep their final state.
func (p Pattern) Encode() ([]uint16, error) {
	if p.Duration == 0 {
		return nil, fmt.Errorf("%w: zero duration", ErrInvalidPattern)
	}
	var last uint64
	buf := make([]uint16, WordsPerScan*(len(p.Transitions)+1))
	for i, t := range p.Transitions {
		if i > 0 && t.Tick < p.Transitions[i-1].Tick {
			return nil, fmt.Errorf("%w: transition %d at tick %d precedes tick %d", ErrInvalidPattern, i, t.Tick, p.Transitions[i-1].Tick)
		}
		if t.Tick > p.Duration {
			return nil, fmt.Errorf("%w: transition %d at tick %d is after the end at %d", ErrInvalidPattern, i, t.Tick, p.Duration)
		}
		putScan(buf[i*WordsPerScan:], t.Tick, t.Ports)
		last = t.Ports
	}
	putScan(buf[len(p.Transitions)*WordsPerScan:], p.Duration, last)
	return buf, nil
}

// DurationTicks validates the layout of a card buffer and returns the
// duration held in its trailer
func DurationTicks(buf []uint16) (uint32, error) {
	if len(buf) < WordsPerScan || len(buf)%WordsPerScan != 0 {
		return 0, fmt.Errorf("%w: %d words is not a whole number of %d word scans", ErrInvalidPattern, len(buf), WordsPerScan)
	}
	var prev uint32
	for i := 0; i < len(buf); i += WordsPerScan {
		tick := scanTick(buf[i:])
		if tick < prev {
			return 0, fmt.Errorf("%w: scan %d at tick %d precedes tick %d", ErrInvalidPattern, i/WordsPerScan, tick, prev)
		}
		prev = tick
	}
	d := scanTick(buf[len(buf)-WordsPerScan:])
	if d == 0 {
		return 0, fmt.Errorf("%w: zero duration", ErrInvalidPattern)
	}
	return d, nil
}

// Decode parses a card buffer into a Pattern
func Decode(buf []uint16) (Pattern, error) {
	d, err := DurationTicks(buf)
	if err != nil {
		return Pattern{}, err
	}
	n := len(buf)/WordsPerScan - 1
	p := Pattern{Duration: d, Transitions: make([]Transition, n)}
	for i := 0; i < n; i++ {
		scan := buf[i*WordsPerScan:]
		p.Transitions[i] = Transition{Tick: scanTick(scan), Ports: scanPorts(scan)}
	}
	return p, nil
}

// Checksum returns the CRC-16/CCITT of a buffer, over its little-endian bytes
func Checksum(buf []uint16) uint16 {
	b := make([]byte, 2*len(buf))
	for i, w := range buf {
		binary.LittleEndian.PutUint16(b[2*i:], w)
	}
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, b)
	return crcTable.CRC16(c)
}

// ReadPattern reads a card buffer stored as little-endian 16-bit words
func ReadPattern(r io.Reader) ([]uint16, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrInvalidPattern, len(b))
	}
	buf := make([]uint16, len(b)/2)
	for i := range buf {
		buf[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return buf, nil
}

// WritePattern writes a card buffer as little-endian 16-bit words
func WritePattern(w io.Writer, buf []uint16) error {
	return binary.Write(w, binary.LittleEndian, buf)
}
