package experiment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/savikhin-lab/ns-trcd-runner/trcd"
)

// Run drives one experiment to completion or failure.  The engine owns the
// instrument session exclusively for the duration.
func (e *Experiment) Run(ctx context.Context) error {
	if err := e.Cfg.Validate(); err != nil {
		return err
	}
	if (e.Cfg.DarkCalibration || e.Cfg.Pairing == PumpPaired) && e.Pump == nil {
		return trcd.ConfigurationError{Msg: "dark calibration and paired shots require a pump gate"}
	}
	if err := e.Dig.ConfigureForExperiment(); err != nil {
		return e.fail(0, e.Cfg.Wavelengths[0], err)
	}

	wls := e.Cfg.Wavelengths
	total := e.Cfg.Shots * len(wls)
	done := 0

	var darkTable [][]trcd.DarkSignal
	if e.Cfg.DarkCalibration {
		darkTable = make([][]trcd.DarkSignal, e.Cfg.Shots)
		for i := range darkTable {
			darkTable[i] = make([]trcd.DarkSignal, len(wls))
		}
	}

	for _, chunk := range chunks(e.Cfg.Shots, e.Cfg.chunkSize()) {
		if err := e.Store.EnsureChunkDirs(chunk, wls); err != nil {
			return e.fail(chunk[0], wls[0], err)
		}
		if e.Act != nil {
			if err := e.motionOrWarn(e.Act.MoveToReference()); err != nil {
				return e.fail(chunk[0], wls[0], err)
			}
		}
		for wi, wl := range wls {
			if err := ctx.Err(); err != nil {
				return e.fail(chunk[0], wl, err)
			}
			if e.Sec != nil {
				if err := e.motionOrWarn(e.Sec.MoveWavelength(wl)); err != nil {
					return e.fail(chunk[0], wl, err)
				}
			}
			if e.Act != nil {
				if err := e.motionOrWarn(e.Act.MoveToWavelength(wl)); err != nil {
					return e.fail(chunk[0], wl, err)
				}
			}
			var dark *trcd.DarkSignal
			if e.Cfg.DarkCalibration {
				d, err := e.measureDark(ctx)
				if err != nil {
					return e.fail(chunk[0], wl, err)
				}
				dark = &d
				for _, shot := range chunk {
					darkTable[shot][wi] = d
				}
			}
			if err := e.autoRange(ctx); err != nil {
				return e.fail(chunk[0], wl, err)
			}
			// this snapshot matches the ranges the data shots will use; it
			// is junk for any other wavelength
			pre, err := e.Dig.CaptureSnapshot()
			if err != nil {
				return e.fail(chunk[0], wl, err)
			}
			for _, shot := range chunk {
				if err := ctx.Err(); err != nil {
					return e.fail(shot, wl, err)
				}
				if err := e.sample(ctx, pre, dark, shot, wl); err != nil {
					return e.fail(shot, wl, err)
				}
				done++
				if e.Progress != nil {
					e.Progress(done, total)
				}
			}
		}
	}

	if darkTable != nil {
		if err := e.Store.WriteDarkTable(darkTable); err != nil {
			return e.fail(e.Cfg.Shots-1, wls[len(wls)-1], err)
		}
	}
	e.shutdown("Experiment complete")
	return nil
}

// motionOrWarn demotes MotionError to a logged warning; the actuator may
// simply have rounded to the nearest step.  Anything else passes through.
func (e *Experiment) motionOrWarn(err error) error {
	if err == nil {
		return nil
	}
	var merr trcd.MotionError
	if errors.As(err, &merr) {
		log.Printf("warning: %v, continuing", err)
		return nil
	}
	return err
}

// sample acquires, reconstructs, and persists one computed sample.
func (e *Experiment) sample(ctx context.Context, pre trcd.Preamble, dark *trcd.DarkSignal, shot int, wl float64) error {
	if e.Cfg.Pairing == PumpPaired {
		return e.samplePaired(ctx, pre, dark, shot, wl)
	}
	raw, err := e.acquireShot(ctx)
	if err != nil {
		return err
	}
	m := trcd.Reconstruct(pre, raw, dark)
	var da, cd []float64
	if e.Cfg.SaveDerived {
		da = trcd.DA(m.Par, m.Ref)
		cd = trcd.DCD(m.Par, m.Perp, e.Cfg.Delta)
	}
	return e.persist(shot, wl, m, da, cd)
}

// samplePaired acquires a pump-open shot and the immediately following
// pump-shut shot.  If the shutter reports anything unexpected the pair is
// discarded and restarted; half a pair is worthless.
func (e *Experiment) samplePaired(ctx context.Context, pre trcd.Preamble, dark *trcd.DarkSignal, shot int, wl float64) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rawOpen, err := e.acquireShot(ctx)
		if err != nil {
			return err
		}
		st, err := e.Pump.State()
		if err != nil {
			return err
		}
		if st != trcd.PumpOpen {
			log.Printf("discarding shot pair: wanted pump open, shutter reported %v", st)
			continue
		}
		rawShut, err := e.acquireShot(ctx)
		if err != nil {
			return err
		}
		st, err = e.Pump.State()
		if err != nil {
			return err
		}
		if st != trcd.PumpShut {
			log.Printf("discarding shot pair: wanted pump shut, shutter reported %v", st)
			continue
		}
		withPump := trcd.Reconstruct(pre, rawOpen, dark)
		withoutPump := trcd.Reconstruct(pre, rawShut, dark)
		da := trcd.DAPaired(withPump, withoutPump)
		cd := trcd.DCDPaired(withPump, withoutPump, e.Cfg.Delta)
		return e.persist(shot, wl, withPump, da, cd)
	}
}

// acquireShot arms the digitizer, waits for the trigger, and pulls all
// three channels, retrying each transfer once on a transport fault.
func (e *Experiment) acquireShot(ctx context.Context) (trcd.DigitizerLevels, error) {
	var raw trcd.DigitizerLevels
	if err := e.Dig.StartAcquisition(); err != nil {
		return raw, err
	}
	if err := e.Dig.WaitUntilTriggered(ctx); err != nil {
		return raw, err
	}
	var err error
	raw.Par, err = e.transferRetryOnce(trcd.ChanPar)
	if err != nil {
		return raw, err
	}
	raw.Perp, err = e.transferRetryOnce(trcd.ChanPerp)
	if err != nil {
		return raw, err
	}
	raw.Ref, err = e.transferRetryOnce(trcd.ChanRef)
	return raw, err
}

// transferRetryOnce pulls one channel, retrying exactly once on a
// TransportError.  The curve transfer is the highest-latency, most
// failure-prone exchange on the bus; one retry absorbs an isolated glitch,
// but a second failure indicates a fault no amount of looping will fix.
func (e *Experiment) transferRetryOnce(channel int) ([]int, error) {
	var (
		out      []int
		attempts int
	)
	op := func() error {
		attempts++
		levels, err := e.Dig.TransferChannel(channel)
		if err != nil {
			var terr trcd.TransportError
			if errors.As(err, &terr) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = levels
		return nil
	}
	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), 1))
	if attempts > 1 {
		e.transferRetries += attempts - 1
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Experiment) persist(shot int, wl float64, m trcd.Measurement, da, cd []float64) error {
	named := []struct {
		name string
		data []float64
	}{
		{"par", m.Par},
		{"perp", m.Perp},
		{"ref", m.Ref},
		{"da", da},
		{"cd", cd},
	}
	for _, n := range named {
		if n.data == nil {
			continue
		}
		if err := e.Store.WriteArray(shot, wl, n.name, n.data); err != nil {
			return err
		}
	}
	return nil
}

// fail stops a run: log where it died, tell the operator, and send the
// monochromator somewhere safe.
func (e *Experiment) fail(shot int, wl float64, err error) error {
	log.Printf("run aborted at shot %d, wavelength %.2f nm: %v", shot, wl, err)
	if e.Notifier != nil {
		msg := fmt.Sprintf("Experiment failed at shot %d, wavelength %.2f nm: %v", shot, wl, err)
		if nerr := e.Notifier.Notify(msg, e.Cfg.NotifyDestination); nerr != nil {
			log.Printf("completion notification failed: %v", nerr)
		}
	}
	e.homeSecondary()
	return err
}

func (e *Experiment) shutdown(msg string) {
	e.homeSecondary()
	if e.Notifier != nil {
		if err := e.Notifier.Notify(msg, e.Cfg.NotifyDestination); err != nil {
			log.Printf("completion notification failed: %v", err)
		}
	}
}

func (e *Experiment) homeSecondary() {
	if e.Sec == nil {
		return
	}
	if err := e.Sec.Home(); err != nil {
		log.Printf("could not home the monochromator: %v", err)
	}
}
