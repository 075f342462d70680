package main

import (
	"log"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

// ConfigFileName is what it sounds like
var ConfigFileName = "trcd-runner.yml"

// NotifyConfig points the completion notification at an operator.
type NotifyConfig struct {
	// Endpoint is the webhook relay URL; empty disables notification
	Endpoint string `koanf:"endpoint" yaml:"endpoint"`

	// To is the destination passed to the relay, e.g. a phone number
	To string `koanf:"to" yaml:"to"`
}

// Config holds everything about the instrument that is not a per-run flag.
type Config struct {
	// Scope is the digitizer's raw socket, host:port
	Scope string `koanf:"scope" yaml:"scope"`

	// TriggerBudgetSeconds bounds the wait for the laser trigger; 0 waits
	// forever
	TriggerBudgetSeconds float64 `koanf:"triggerBudgetSeconds" yaml:"triggerBudgetSeconds"`

	// StepperPort is the etalon actuator's serial port
	StepperPort string `koanf:"stepperPort" yaml:"stepperPort"`

	// CalibrationFile is a CSV of wavelength,steps rows for the etalon
	CalibrationFile string `koanf:"calibrationFile" yaml:"calibrationFile"`

	// MonoPort is the monochromator's serial port; empty to run without it
	MonoPort string `koanf:"monoPort" yaml:"monoPort"`

	// MonoOffset is added to every monochromator wavelength, nm
	MonoOffset float64 `koanf:"monoOffset" yaml:"monoOffset"`

	// ShutterPort is the pump gate's serial port; empty to run without it
	ShutterPort string `koanf:"shutterPort" yaml:"shutterPort"`

	// Delta is the stress plate retardation
	Delta float64 `koanf:"delta" yaml:"delta"`

	ChunkSize int `koanf:"chunkSize" yaml:"chunkSize"`

	// Pairing is "single" or "paired"
	Pairing string `koanf:"pairing" yaml:"pairing"`

	DarkCalibration bool `koanf:"darkCalibration" yaml:"darkCalibration"`
	SaveDerived     bool `koanf:"saveDerived" yaml:"saveDerived"`

	PumpBlockLevel float64 `koanf:"pumpBlockLevel" yaml:"pumpBlockLevel"`
	PumpOpenLevel  float64 `koanf:"pumpOpenLevel" yaml:"pumpOpenLevel"`

	Notify NotifyConfig `koanf:"notify" yaml:"notify"`
}

func defaults() Config {
	return Config{
		Scope:           "192.168.20.4:4000",
		StepperPort:     "COM3",
		CalibrationFile: "etalon-cal.csv",
		ShutterPort:     "COM4",
		Delta:           0.038,
		ChunkSize:       10,
		Pairing:         "single",
		DarkCalibration: true,
		SaveDerived:     true,
		PumpBlockLevel:  0,
		PumpOpenLevel:   5,
	}
}

func loadConfig() Config {
	k := koanf.New(".")
	k.Load(structs.Provider(defaults(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func mkconf() {
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := yml.NewEncoder(f).Encode(defaults()); err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	if err := yml.NewEncoder(os.Stdout).Encode(loadConfig()); err != nil {
		log.Fatal(err)
	}
}
