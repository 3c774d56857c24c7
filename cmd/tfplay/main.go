// Command tfplay plays one timeframe on the bench: it loads an analog
// timeframe CSV and a digital pattern, arms the analog boards, starts the
// digital card and shows progress until the pattern has played.
//
//	tfplay <timeframe.csv> <pattern.bin>
//
// Hardware is configured from labsrv.yml in the working directory.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/knadh/koanf"
	"github.com/theckman/yacspin"
	"golang.org/x/time/rate"

	"github.com/labalyzer/labctl/aout"
	"github.com/labalyzer/labctl/dio64"
	"github.com/labalyzer/labctl/labsrv"
	"github.com/labalyzer/labctl/util"
)

// ConfigFileName is what it sounds like
var ConfigFileName = "labsrv.yml"

// pollInterval bounds how often the card status is read
const pollInterval = 50 * time.Millisecond

func load(rig *labsrv.Rig, csvPath, patPath string) error {
	if rig.Analog.Mode() != aout.Timeframe {
		if err := rig.Analog.SetMode(aout.Timeframe); err != nil {
			return err
		}
	}
	f, err := os.Open(csvPath)
	if err != nil {
		return err
	}
	bufs, err := aout.ReadCSV(f, rig.Analog.Channels())
	f.Close()
	if err != nil {
		return fmt.Errorf("reading %s: %w", csvPath, err)
	}
	if err := rig.Analog.WriteTimeframe(bufs); err != nil {
		return err
	}

	f, err = os.Open(patPath)
	if err != nil {
		return err
	}
	buf, err := dio64.ReadPattern(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("reading %s: %w", patPath, err)
	}
	return rig.Digital.WritePattern(buf)
}

// watch polls progress at a bounded rate until the pattern has played or ctx
// is done
func watch(ctx context.Context, rig *labsrv.Rig, spinner *yacspin.Spinner) error {
	lim := rate.NewLimiter(rate.Every(pollInterval), 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		p, err := rig.Digital.Progress()
		if err != nil {
			return err
		}
		spinner.Message(fmt.Sprintf("%3.0f%%", p*100))
		if p >= 1 {
			return nil
		}
	}
}

func main() {
	if len(os.Args) != 3 {
		fmt.Println("usage: tfplay <timeframe.csv> <pattern.bin>")
		os.Exit(2)
	}
	k := koanf.New(".")
	if err := labsrv.LoadConfig(k, ConfigFileName); err != nil {
		log.Fatal(err)
	}
	c := labsrv.Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}

	os.Exit(run(c, os.Args[1], os.Args[2]))
}

// run plays the timeframe and returns the exit code.  The rig is closed
// before run returns, whatever the outcome.
func run(c labsrv.Config, csvPath, patternPath string) int {
	rig, err := labsrv.NewRig(c, nil)
	if err != nil {
		log.Println(err)
		return 1
	}
	defer rig.Close()
	if err := load(rig, csvPath, patternPath); err != nil {
		log.Println(err)
		return 1
	}

	length := util.SecsToDuration(rig.Digital.TimeframeLength() / 1e3)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, 2*length+5*time.Second)
	defer cancelTimeout()

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " playing",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopMessage:       "done",
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Println(err)
		return 1
	}

	if err := rig.Play(); err != nil {
		log.Println(err)
		return 1
	}
	spinner.Start()
	err = watch(ctx, rig, spinner)
	if stopErr := rig.Stop(); stopErr != nil {
		log.Println(stopErr)
	}
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		return 1
	}
	spinner.Stop()
	return 0
}
