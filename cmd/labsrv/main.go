package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/knadh/koanf"
	yml "gopkg.in/yaml.v2"

	"github.com/labalyzer/labctl/labsrv"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "labsrv.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	if err := labsrv.LoadConfig(k, ConfigFileName); err != nil {
		log.Fatal(err)
	}
}

func root() {
	str := `labsrv drives the analog output boards, the digital pattern card and the
sweep source of the bench, and exposes them over HTTP.

Usage:
	labsrv <command>

Commands:
	run
	help
	mkconf
	conf
	check
	version`
	fmt.Println(str)
}

func help() {
	str := `labsrv is amenable to configuration via its .yml file, labsrv.yml in the
working directory.  For a primer on YAML, see https://yaml.org/start.html

mkconf writes the current configuration (defaults merged with any existing
file) to labsrv.yml.  conf prints it.  check validates it without touching
hardware.

Set mock: true to run entirely on simulators.  Without it, each driver that
cannot be loaded, and a sweep source that does not answer *IDN?, is replaced
by a simulator and a line is logged.

Routes are served under /analog, /digital, /sweep and /rig.  GET /endpoints
lists them.  Every node has GET/POST /lock; a locked node answers 423.`
	fmt.Println(str)
}

func mkconf() {
	c := labsrv.Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := labsrv.Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func check() {
	c, err := labsrv.LoadYaml(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	if err := c.Validate(); err != nil {
		log.Fatal(err)
	}
	fmt.Println(ConfigFileName, "ok")
}

func pversion() {
	fmt.Printf("labsrv version %v\n", Version)
}

func run() {
	c := labsrv.Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	if err := c.Validate(); err != nil {
		log.Fatal(err)
	}
	rig, err := labsrv.NewRig(c, nil)
	if err != nil {
		log.Fatal(err)
	}
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		<-sig
		if err := rig.Close(); err != nil {
			log.Println(err)
		}
		os.Exit(0)
	}()
	mux := labsrv.BuildMux(rig)
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "check":
		check()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
