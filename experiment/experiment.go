// Package experiment contains the acquisition engine for nanosecond TRCD
// measurements: the control loop that sequences actuator motion, dark-signal
// calibration, auto-ranging, digitizer triggering, and reconstruction of
// voltages and derived optical quantities.
package experiment

import (
	"context"

	"github.com/savikhin-lab/ns-trcd-runner/trcd"
)

// Digitizer describes the capabilities the engine needs from the waveform
// digitizer.  The tektronix package provides the hardware implementation.
type Digitizer interface {
	// ConfigureForExperiment puts the digitizer in the fixed state every
	// acquisition assumes
	ConfigureForExperiment() error

	// StartAcquisition arms a single acquisition
	StartAcquisition() error

	// WaitUntilTriggered blocks until the armed acquisition has captured
	WaitUntilTriggered(ctx context.Context) error

	// SetVertical sets the vertical offset and scale of a channel in volts
	SetVertical(channel int, offset, scale float64) error

	// GetVertical gets the vertical offset and scale of a channel in volts
	GetVertical(channel int) (offset, scale float64, err error)

	// CaptureSnapshot reads the scaling constants for the current ranges
	CaptureSnapshot() (trcd.Preamble, error)

	// TransferChannel pulls the raw levels for one channel; bus faults are
	// reported as trcd.TransportError
	TransferChannel(channel int) ([]int, error)
}

// Actuator describes the wavelength-selecting actuator.
type Actuator interface {
	// MoveToReference sends the actuator home; wavelength moves advance
	// from there so backlash is only taken up in one direction
	MoveToReference() error

	// MoveToWavelength drives to the step position for a wavelength
	MoveToWavelength(wl float64) error

	// CurrentPosition reports the position in steps
	CurrentPosition() (int, error)
}

// Secondary describes the optional second wavelength-selective device (the
// monochromator) that tracks the actuator.
type Secondary interface {
	MoveWavelength(wl float64) error
	Home() error
}

// PumpGate describes the auxiliary output gating the pump beam.
type PumpGate interface {
	// SetLevel drives the output, blanking or unblanking the pump
	SetLevel(level float64) error

	// State reports the shutter blade position at the last trigger
	State() (trcd.PumpState, error)
}

// Store persists reconstructed arrays to named slots.
type Store interface {
	EnsureChunkDirs(shots []int, wls []float64) error
	WriteArray(shot int, wl float64, name string, data []float64) error
	WriteDarkTable(table [][]trcd.DarkSignal) error
}

// Notifier tells the operator the run is over.
type Notifier interface {
	Notify(message, destination string) error
}

// ShotPairingMode selects how shots map to computed samples.
type ShotPairingMode int

const (
	// SingleShot computes each sample from one with-pump shot, using the
	// pre-trigger region as the baseline
	SingleShot ShotPairingMode = iota

	// PumpPaired computes each sample from a pump-open shot and the
	// immediately following pump-shut shot
	PumpPaired
)

// Config is the immutable description of one run.
type Config struct {
	// Shots is the number of measurements collected at each wavelength
	Shots int

	// ChunkSize is the number of shot indices processed per chunk;
	// DefaultChunkSize when zero
	ChunkSize int

	// Wavelengths is the ordered measurement plan in nm
	Wavelengths []float64

	// Delta is the stress-plate retardation used in the dCD formula
	Delta float64

	Pairing ShotPairingMode

	// DarkCalibration re-measures the detector baseline at each wavelength
	DarkCalibration bool

	// SaveDerived persists dA and dCD arrays alongside the voltages
	SaveDerived bool

	// PumpBlockLevel and PumpOpenLevel are the auxiliary output levels in
	// volts that blank and unblank the pump
	PumpBlockLevel float64
	PumpOpenLevel  float64

	// NotifyDestination is passed to the notifier, if one is attached
	NotifyDestination string
}

// DefaultChunkSize is used when Config.ChunkSize is zero.
const DefaultChunkSize = 10

// Validate checks the configuration before any hardware motion occurs.
func (c *Config) Validate() error {
	if c.Shots < 1 {
		return trcd.ConfigurationError{Msg: "at least one shot per wavelength is required"}
	}
	if err := ValidatePlan(c.Wavelengths); err != nil {
		return err
	}
	if (c.SaveDerived || c.Pairing == PumpPaired) && c.Delta <= 0 {
		return trcd.ConfigurationError{Msg: "stress plate retardation (delta) must be > 0"}
	}
	return nil
}

func (c *Config) chunkSize() int {
	if c.ChunkSize < 1 {
		return DefaultChunkSize
	}
	return c.ChunkSize
}

// Experiment owns the instrument session for the duration of one run.  No
// component may issue device commands concurrently with it; the digitizer,
// actuator, and auxiliary output share one bus.
type Experiment struct {
	Dig Digitizer

	// Act may be nil in the fixed-wavelength mode
	Act Actuator

	// Sec may be nil when no monochromator tracks the etalon
	Sec Secondary

	// Pump is required for dark calibration and the paired mode
	Pump PumpGate

	Store Store

	// Notifier may be nil
	Notifier Notifier

	Cfg Config

	// Progress, if non-nil, is called after each persisted sample
	Progress func(done, total int)

	state           DigitizerState
	transferRetries int
}

// State returns the engine's record of the digitizer configuration.
func (e *Experiment) State() DigitizerState { return e.state }

// TransferRetries returns how many transfer retries the run has consumed.
func (e *Experiment) TransferRetries() int { return e.transferRetries }

// setVertical applies a vertical range and folds it into the state record.
func (e *Experiment) setVertical(channel int, v VerticalRange) error {
	if err := e.Dig.SetVertical(channel, v.Offset, v.Scale); err != nil {
		return err
	}
	e.state = e.state.WithVertical(channel, v)
	return nil
}
