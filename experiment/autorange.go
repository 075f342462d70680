package experiment

import (
	"context"

	"gonum.org/v1/gonum/stat"

	"github.com/savikhin-lab/ns-trcd-runner/trcd"
)

const (
	// wideScale is the coarse, low-resolution range used to find the signal
	wideScale = 1.0

	// signalScale fills the digitizer's usable range at the transient
	// amplitudes this instrument produces
	signalScale = 2e-2
)

// autoRange centers each channel on its own mean and narrows the vertical
// scale so the signal fills the digitizer's linear range at maximum
// resolution.  It must run after any dark calibration, which leaves the
// ranges at high sensitivity, and before the snapshot used for the
// wavelength's data shots.
func (e *Experiment) autoRange(ctx context.Context) error {
	for ch := trcd.ChanPar; ch <= trcd.ChanRef; ch++ {
		if err := e.setVertical(ch, VerticalRange{Offset: 0, Scale: wideScale}); err != nil {
			return err
		}
	}
	pre, err := e.Dig.CaptureSnapshot()
	if err != nil {
		return err
	}
	if err := e.Dig.StartAcquisition(); err != nil {
		return err
	}
	if err := e.Dig.WaitUntilTriggered(ctx); err != nil {
		return err
	}
	raw, err := e.transferAll()
	if err != nil {
		return err
	}
	m := trcd.Reconstruct(pre, raw, nil)
	centers := [3]float64{
		stat.Mean(m.Par, nil),
		stat.Mean(m.Perp, nil),
		stat.Mean(m.Ref, nil),
	}
	for ch := trcd.ChanPar; ch <= trcd.ChanRef; ch++ {
		if err := e.setVertical(ch, VerticalRange{Offset: centers[ch-1], Scale: signalScale}); err != nil {
			return err
		}
	}
	return nil
}
