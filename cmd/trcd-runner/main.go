package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/theckman/yacspin"

	"github.com/savikhin-lab/ns-trcd-runner/experiment"
	"github.com/savikhin-lab/ns-trcd-runner/fstore"
	"github.com/savikhin-lab/ns-trcd-runner/notify"
	"github.com/savikhin-lab/ns-trcd-runner/shutter"
	"github.com/savikhin-lab/ns-trcd-runner/smc"
	"github.com/savikhin-lab/ns-trcd-runner/tektronix"
	"github.com/savikhin-lab/ns-trcd-runner/zaber"
)

// Version is the version number.  Typically injected via ldflags with git build
var Version = "2"

func root() {
	str := `trcd-runner drives a nanosecond TRCD measurement: it walks the etalon
through a wavelength plan, calibrates the dark signal, auto-ranges the
digitizer, and saves reconstructed waveforms per shot and wavelength.

Usage:
	trcd-runner <command>

Commands:
	run
	mkconf
	conf
	version
	help`
	fmt.Println(str)
}

func help() {
	str := `trcd-runner is configured by trcd-runner.yml; run "trcd-runner mkconf" to
write one with the defaults filled in.

The wavelength plan is given on the command line, either as a range:

	trcd-runner run -o data -n 100 --wstart 790 --wstop 800 --wstep 5

or as individual wavelengths, which may be repeated:

	trcd-runner run -o data -n 100 -w 790 -w 795.5

The output directory is created if missing and must be empty.  The digitizer
is reached over a raw TCP socket (scope setting, host:port); the etalon
stepper, monochromator, and pump shutter are serial ports.  Leave monoPort
or shutterPort empty to run without that device, though dark calibration
and paired shots need the shutter.`
	fmt.Println(str)
}

// wlFlags collects repeated -w options.
type wlFlags []float64

func (w *wlFlags) String() string {
	strs := make([]string, len(*w))
	for i, v := range *w {
		strs[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(strs, ",")
}

func (w *wlFlags) Set(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*w = append(*w, v)
	return nil
}

func dirReadyAndEmpty(path string) error {
	entries, err := os.ReadDir(path)
	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0777)
	}
	if err != nil {
		return err
	}
	if len(entries) != 0 {
		return fmt.Errorf("output directory %s is not empty", path)
	}
	return nil
}

func makePlan(start, stop, step float64, list []float64) ([]float64, error) {
	haveRange := start != 0 || stop != 0 || step != 0
	if haveRange && len(list) != 0 {
		return nil, fmt.Errorf("cannot specify both a wavelength range and individual wavelengths")
	}
	if len(list) != 0 {
		return list, experiment.ValidatePlan(list)
	}
	if !haveRange {
		return nil, fmt.Errorf("no wavelengths specified")
	}
	return experiment.NewPlanRange(start, stop, step)
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var (
		outdir string
		shots  int
		wstart float64
		wstop  float64
		wstep  float64
		wlist  wlFlags
	)
	fs.StringVar(&outdir, "o", "", "output directory for the raw data")
	fs.IntVar(&shots, "n", 0, "number of measurements to collect at each wavelength")
	fs.Float64Var(&wstart, "wstart", 0, "first wavelength for data collection, nm")
	fs.Float64Var(&wstop, "wstop", 0, "last wavelength for data collection, nm")
	fs.Float64Var(&wstep, "wstep", 0, "step between wavelengths, nm")
	fs.Var(&wlist, "w", "an individual wavelength to measure at; may be repeated")
	fs.Parse(args)

	if outdir == "" {
		log.Fatal("an output directory is required (-o)")
	}
	if shots < 1 {
		log.Fatal("the number of measurements is required (-n)")
	}
	if err := dirReadyAndEmpty(outdir); err != nil {
		log.Fatal(err)
	}
	plan, err := makePlan(wstart, wstop, wstep, wlist)
	if err != nil {
		log.Fatal(err)
	}

	cfg := loadConfig()

	cal, err := zaber.LoadCalibration(cfg.CalibrationFile)
	if err != nil {
		log.Fatal(err)
	}
	act, err := zaber.New(cfg.StepperPort, cal)
	if err != nil {
		log.Fatalf("cannot open the etalon stepper: %v", err)
	}
	defer act.Close()

	scope := tektronix.NewScope(cfg.Scope)
	scope.TriggerBudget = time.Duration(cfg.TriggerBudgetSeconds * float64(time.Second))
	defer scope.Close()

	e := &experiment.Experiment{
		Dig:   scope,
		Act:   act,
		Store: &fstore.Layout{Root: outdir},
		Cfg: experiment.Config{
			Shots:             shots,
			ChunkSize:         cfg.ChunkSize,
			Wavelengths:       plan,
			Delta:             cfg.Delta,
			Pairing:           pairingMode(cfg.Pairing),
			DarkCalibration:   cfg.DarkCalibration,
			SaveDerived:       cfg.SaveDerived,
			PumpBlockLevel:    cfg.PumpBlockLevel,
			PumpOpenLevel:     cfg.PumpOpenLevel,
			NotifyDestination: cfg.Notify.To,
		},
	}

	if cfg.MonoPort != "" {
		mono, err := smc.New(cfg.MonoPort, cfg.MonoOffset)
		if err != nil {
			log.Fatalf("monochromator not initialized correctly: %v", err)
		}
		defer mono.Close()
		e.Sec = mono
	}
	if cfg.ShutterPort != "" {
		gate, err := shutter.New(cfg.ShutterPort)
		if err != nil {
			log.Fatalf("cannot open the pump shutter: %v", err)
		}
		defer gate.Close()
		e.Pump = gate
	}
	if cfg.Notify.Endpoint != "" {
		e.Notifier = notify.NewWebhook(cfg.Notify.Endpoint)
	}

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[14],
		Suffix:          " measuring",
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
		SuffixAutoColon: true,
	})
	if err == nil {
		spinner.Start()
		e.Progress = func(done, total int) {
			spinner.Message(fmt.Sprintf("%d/%d", done, total))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runErr := e.Run(ctx)
	if spinner != nil {
		if runErr != nil {
			spinner.StopFail()
		} else {
			spinner.Stop()
		}
	}
	if runErr != nil {
		log.Fatal(runErr)
	}
}

func pairingMode(s string) experiment.ShotPairingMode {
	if strings.EqualFold(s, "paired") {
		return experiment.PumpPaired
	}
	return experiment.SingleShot
}

func main() {
	if len(os.Args) < 2 {
		root()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "run":
		runCmd(os.Args[2:])
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "version":
		fmt.Println(Version)
	case "help":
		help()
	default:
		root()
		os.Exit(1)
	}
}
