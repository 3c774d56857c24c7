package labsrv

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-yaml/yaml"
	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/labalyzer/labctl/aout"
	"github.com/labalyzer/labctl/dio64"
	"github.com/labalyzer/labctl/rohdeschwarz"
	"github.com/labalyzer/labctl/sweep"
)

// AnalogSetup configures the analog output boards
type AnalogSetup struct {
	// Output is the static configuration of the boards
	Output aout.Config `koanf:"output" yaml:"output"`

	// Mode is the mode the boards start in, direct or timeframe
	Mode string `koanf:"mode" yaml:"mode"`

	// Channels is the list of output channels.  If empty the boards are
	// left unconfigured.
	Channels []aout.Channel `koanf:"channels" yaml:"channels"`
}

// DigitalSetup configures the digital pattern card
type DigitalSetup struct {
	Card dio64.Config `koanf:"card" yaml:"card"`

	// PortMask enables bits of ports A through D, missing ports are disabled
	PortMask []uint16 `koanf:"portMask" yaml:"portMask"`

	// TickDivisor sets the tick rate to Card.BaseClockHz/(TickDivisor+1)
	TickDivisor uint32 `koanf:"tickDivisor" yaml:"tickDivisor"`
}

// Mask returns PortMask as the four port words
func (d DigitalSetup) Mask() [4]uint16 {
	var m [4]uint16
	copy(m[:], d.PortMask)
	return m
}

// SweepSetup configures the sweep source and controller
type SweepSetup struct {
	Transport rohdeschwarz.Transport `koanf:"transport" yaml:"transport"`

	Controller sweep.Config `koanf:"controller" yaml:"controller"`
}

// Config is the configuration of the server
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"addr" yaml:"addr"`

	// Mock uses simulators for every piece of hardware
	Mock bool `koanf:"mock" yaml:"mock"`

	Analog  AnalogSetup  `koanf:"analog" yaml:"analog"`
	Digital DigitalSetup `koanf:"digital" yaml:"digital"`
	Sweep   SweepSetup   `koanf:"sweep" yaml:"sweep"`
}

// DefaultConfig returns the configuration of the bench, with no analog
// channels
func DefaultConfig() Config {
	return Config{
		Addr: ":8000",
		Analog: AnalogSetup{
			Output:   aout.DefaultConfig(),
			Mode:     aout.Timeframe.String(),
			Channels: []aout.Channel{},
		},
		Digital: DigitalSetup{
			Card:        dio64.DefaultConfig(),
			PortMask:    []uint16{0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF},
			TickDivisor: 3, // 10 MHz
		},
		Sweep: SweepSetup{
			Transport:  rohdeschwarz.Transport{Kind: "tcp", Addr: "192.168.100.50:5025"},
			Controller: sweep.DefaultConfig(),
		},
	}
}

// LoadYaml converts a (path to a) yaml file into a Config.  Keys missing from
// the file keep their DefaultConfig values.
func LoadYaml(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	err = yaml.NewDecoder(f).Decode(&cfg)
	return cfg, err
}

// LoadConfig loads DefaultConfig into k, then merges the yaml file at path
// over it.  A missing file is not an error.
func LoadConfig(k *koanf.Koanf, path string) error {
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return err
	}
	if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error loading config: %w", err)
	}
	return nil
}

// Validate checks the parts of the configuration that can be checked without
// hardware
func (c Config) Validate() error {
	var errs []error
	if _, err := aout.ParseMode(c.Analog.Mode); err != nil {
		errs = append(errs, err)
	}
	if err := aout.Validate(c.Analog.Output.Boards, c.Analog.Channels); err != nil {
		errs = append(errs, err)
	}
	if len(c.Digital.PortMask) > 4 {
		errs = append(errs, fmt.Errorf("digital port mask has %d ports, at most 4 allowed", len(c.Digital.PortMask)))
	}
	if c.Digital.TickDivisor > dio64.MaxTickDivisor {
		errs = append(errs, fmt.Errorf("%w: %d", dio64.ErrInvalidDivisor, c.Digital.TickDivisor))
	}
	if !c.Mock {
		if _, err := c.Sweep.Transport.Maker(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
