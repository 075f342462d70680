package experiment

import (
	"context"

	"github.com/savikhin-lab/ns-trcd-runner/trcd"
)

// darkScale is the high-sensitivity vertical scale used while the pump is
// blocked; the detector sits near zero volts.
const darkScale = 1e-3

// measureDark captures the detector baseline for the current wavelength:
// blank the pump, re-range the digitizer to high sensitivity, capture one
// acquisition, and take the per-channel mean.  The previous vertical ranges
// and the pump are restored on every exit path, including failures; a fault
// here must not leave the instrument mis-configured.
//
// Transport faults are not retried locally; the orchestrator applies its
// own retry policy.
func (e *Experiment) measureDark(ctx context.Context) (d trcd.DarkSignal, err error) {
	var saved [3]VerticalRange
	for ch := trcd.ChanPar; ch <= trcd.ChanRef; ch++ {
		var off, sc float64
		off, sc, err = e.Dig.GetVertical(ch)
		if err != nil {
			return d, err
		}
		saved[ch-1] = VerticalRange{Offset: off, Scale: sc}
	}
	blocked := false
	defer func() {
		if blocked {
			if uerr := e.Pump.SetLevel(e.Cfg.PumpOpenLevel); uerr != nil && err == nil {
				err = uerr
			}
		}
		for ch := trcd.ChanPar; ch <= trcd.ChanRef; ch++ {
			if rerr := e.setVertical(ch, saved[ch-1]); rerr != nil && err == nil {
				err = rerr
			}
		}
	}()
	for ch := trcd.ChanPar; ch <= trcd.ChanRef; ch++ {
		if err = e.setVertical(ch, VerticalRange{Offset: 0, Scale: darkScale}); err != nil {
			return d, err
		}
	}
	var pre trcd.Preamble
	pre, err = e.Dig.CaptureSnapshot()
	if err != nil {
		return d, err
	}
	if err = e.Pump.SetLevel(e.Cfg.PumpBlockLevel); err != nil {
		return d, err
	}
	blocked = true
	if err = e.Dig.StartAcquisition(); err != nil {
		return d, err
	}
	if err = e.Dig.WaitUntilTriggered(ctx); err != nil {
		return d, err
	}
	var raw trcd.DigitizerLevels
	raw, err = e.transferAll()
	if err != nil {
		return d, err
	}
	d = trcd.Dark(trcd.Reconstruct(pre, raw, nil))
	return d, err
}

// transferAll pulls all three channels with no retry.
func (e *Experiment) transferAll() (trcd.DigitizerLevels, error) {
	var raw trcd.DigitizerLevels
	var err error
	raw.Par, err = e.Dig.TransferChannel(trcd.ChanPar)
	if err != nil {
		return raw, err
	}
	raw.Perp, err = e.Dig.TransferChannel(trcd.ChanPerp)
	if err != nil {
		return raw, err
	}
	raw.Ref, err = e.Dig.TransferChannel(trcd.ChanRef)
	return raw, err
}
