// Package trcd provides type definitions and the signal reconstruction math
// for time-resolved circular dichroism measurements.
package trcd

import (
	"gonum.org/v1/gonum/stat"
)

// Channel numbers on the digitizer.  The fourth channel carries the trigger
// photodiode and is never transferred.
const (
	ChanPar  = 1
	ChanPerp = 2
	ChanRef  = 3
)

// ChannelScaling holds the constants needed to convert raw digitizer levels
// on one channel to volts.  To convert, compute
// Scale*(level-OffsetLevels) + ZeroVolts.
type ChannelScaling struct {
	// Scale is the size of one digitizer level in volts
	Scale float64

	// OffsetLevels is the level corresponding to zero volts, in levels
	OffsetLevels float64

	// ZeroVolts is the voltage of the zero point
	ZeroVolts float64
}

// Preamble is the data needed to reconstruct signals from digitizer levels.
// It is only valid for acquisitions made at the vertical range that was in
// effect when it was captured.
type Preamble struct {
	// TimeResolution is the temporal sample spacing in seconds
	TimeResolution float64

	Par  ChannelScaling
	Perp ChannelScaling
	Ref  ChannelScaling

	// Points is the record length in samples
	Points int
}

// DigitizerLevels are the raw levels from a single acquisition.
type DigitizerLevels struct {
	Par  []int
	Perp []int
	Ref  []int
}

// Measurement holds the reconstructed voltages for a single acquisition.
type Measurement struct {
	Par  []float64
	Perp []float64
	Ref  []float64
}

// DarkSignal is the detector baseline measured with the pump blocked.
// It is only valid for the wavelength at which it was measured; the baseline
// drifts with wavelength-dependent stray light and gain settings.
type DarkSignal struct {
	Par  float64
	Perp float64
	Ref  float64
}

// PumpState reports the position of the pump shutter.
type PumpState int

const (
	// PumpUnknown means the shutter state could not be determined
	PumpUnknown PumpState = iota

	// PumpOpen means the pump beam reaches the sample
	PumpOpen

	// PumpShut means the pump beam is blocked
	PumpShut
)

func (p PumpState) String() string {
	switch p {
	case PumpOpen:
		return "open"
	case PumpShut:
		return "shut"
	}
	return "unknown"
}

func scaleChannel(s ChannelScaling, levels []int, dark float64) []float64 {
	out := make([]float64, len(levels))
	for i := 0; i < len(levels); i++ {
		out[i] = s.Scale*(float64(levels[i])-s.OffsetLevels) + s.ZeroVolts - dark
	}
	return out
}

// Reconstruct converts raw digitizer levels to volts using the preamble
// captured immediately before the acquisition.  If dark is non-nil, the
// per-channel baseline is subtracted.
func Reconstruct(pre Preamble, raw DigitizerLevels, dark *DarkSignal) Measurement {
	var d DarkSignal
	if dark != nil {
		d = *dark
	}
	return Measurement{
		Par:  scaleChannel(pre.Par, raw.Par, d.Par),
		Perp: scaleChannel(pre.Perp, raw.Perp, d.Perp),
		Ref:  scaleChannel(pre.Ref, raw.Ref, d.Ref),
	}
}

// Dark reduces a measurement taken with the pump blocked to its per-channel
// mean baseline.
func Dark(m Measurement) DarkSignal {
	return DarkSignal{
		Par:  stat.Mean(m.Par, nil),
		Perp: stat.Mean(m.Perp, nil),
		Ref:  stat.Mean(m.Ref, nil),
	}
}
