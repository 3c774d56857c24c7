package aout

import (
	"fmt"
	"sort"
	"strings"
)

// Mode is the output mode of the analog boards
type Mode int

const (
	// Direct mode writes single samples immediately, unbuffered
	Direct Mode = iota

	// Timeframe mode plays back a buffered waveform clocked by an external trigger
	Timeframe
)

func (m Mode) String() string {
	switch m {
	case Direct:
		return "direct"
	case Timeframe:
		return "timeframe"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts "direct" or "timeframe" (any case) to a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "direct":
		return Direct, nil
	case "timeframe":
		return Timeframe, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q, allowed values are direct, timeframe", ErrConfiguration, s)
	}
}

// State is the lifecycle state of a board task
type State int

const (
	// Unconfigured tasks have no driver task
	Unconfigured State = iota

	// Configured tasks have channels, buffering and timing applied
	Configured

	// Running tasks are generating, or armed waiting for their clock
	Running

	// Stopped tasks were started and then stopped
	Stopped
)

func (s State) String() string {
	return [...]string{"unconfigured", "configured", "running", "stopped"}[s]
}

// Channel is one analog output line
type Channel struct {
	// Name is a unique label of the channel, used as the CSV column header
	Name string `koanf:"name" yaml:"name" json:"name"`

	// Board is the index of the board that owns the channel
	Board int `koanf:"board" yaml:"board" json:"board"`

	// Number is the index of the channel on its board
	Number int `koanf:"number" yaml:"number" json:"number"`

	// Device is the physical channel string given to the driver.  If empty,
	// Dev<Board+1>/ao<Number> is used.
	Device string `koanf:"device" yaml:"device,omitempty" json:"device"`

	// Min and Max are the output range of the channel, in volts
	Min float64 `koanf:"min" yaml:"min" json:"min"`
	Max float64 `koanf:"max" yaml:"max" json:"max"`
}

// DeviceString returns the physical channel string for the driver
func (c Channel) DeviceString() string {
	if c.Device != "" {
		return c.Device
	}
	return fmt.Sprintf("Dev%d/ao%d", c.Board+1, c.Number)
}

// InRange returns true if v is within [Min, Max]
func (c Channel) InRange(v float64) bool {
	return v >= c.Min && v <= c.Max
}

// group validates chans against the known boards and splits them by board.
// Within a board channels are ordered by number, with ties in input order.
func group(known []int, chans []Channel) (map[int][]Channel, error) {
	ok := make(map[int]bool, len(known))
	for _, b := range known {
		ok[b] = true
	}
	names := make(map[string]bool, len(chans))
	out := make(map[int][]Channel)
	for _, c := range chans {
		if !ok[c.Board] {
			return nil, fmt.Errorf("%w: channel %q belongs to unknown board %d", ErrConfiguration, c.Name, c.Board)
		}
		if c.Name == "" {
			return nil, fmt.Errorf("%w: channel on board %d number %d has no name", ErrConfiguration, c.Board, c.Number)
		}
		if names[c.Name] {
			return nil, fmt.Errorf("%w: duplicate channel name %q", ErrConfiguration, c.Name)
		}
		names[c.Name] = true
		if !(c.Min < c.Max) {
			return nil, fmt.Errorf("%w: channel %q has range [%g, %g], min must be below max", ErrConfiguration, c.Name, c.Min, c.Max)
		}
		out[c.Board] = append(out[c.Board], c)
	}
	for _, cs := range out {
		sort.SliceStable(cs, func(i, j int) bool { return cs[i].Number < cs[j].Number })
	}
	return out, nil
}

// RowByName arranges one voltage per channel name into per-board rows, with
// columns in the order of chans.  Every channel needs a value and every name
// must be a channel.
func RowByName(chans []Channel, vals map[string]float64) (map[int][]float64, error) {
	out := make(map[int][]float64)
	for _, c := range chans {
		v, ok := vals[c.Name]
		if !ok {
			return nil, fmt.Errorf("%w: no value for channel %q", ErrConfiguration, c.Name)
		}
		out[c.Board] = append(out[c.Board], v)
	}
	if len(vals) != len(chans) {
		for name := range vals {
			found := false
			for _, c := range chans {
				if c.Name == name {
					found = true
					break
				}
			}
			if !found {
				return nil, fmt.Errorf("%w: %q is not a configured channel", ErrConfiguration, name)
			}
		}
	}
	return out, nil
}

// Validate checks chans against boards the way Configure does, without
// touching the driver
func Validate(boards []int, chans []Channel) error {
	_, err := group(boards, chans)
	return err
}
