// Package tektronix provides an interface to the Tektronix oscilloscope
// used as the waveform digitizer in the TRCD instrument.
package tektronix

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/savikhin-lab/ns-trcd-runner/comm"
	"github.com/savikhin-lab/ns-trcd-runner/scpi"
	"github.com/savikhin-lab/ns-trcd-runner/trcd"
)

// trigger state reported once a single-sequence acquisition has completed
const triggerStateCaptured = "save"

// pollInterval is the cadence of trigger-state and measurement polls.  The
// scope gets grumpy when hammered over the bus.
var pollLimit = rate.Every(10 * time.Millisecond)

// Scope is an interface to a Tektronix oscilloscope.
type Scope struct {
	scpi.SCPI

	// TriggerBudget bounds WaitUntilTriggered.  Zero preserves the
	// historical behavior of waiting forever for the laser.
	TriggerBudget time.Duration
}

// NewScope returns a scope speaking raw SCPI over a TCP socket.
func NewScope(addr string) *Scope {
	pool := comm.NewPool(1, comm.BackingOffTCPConnMaker(addr, 3*time.Second))
	return &Scope{SCPI: scpi.SCPI{Pool: pool}}
}

// ConfigureForExperiment puts the scope into the fixed state every
// acquisition in a run assumes: hi-res mode, single-sequence acquisitions,
// ASCII waveform encoding, and a full-record transfer window.
func (s *Scope) ConfigureForExperiment() error {
	cmds := [][]string{
		{"acquire:mode hires"},
		{"acquire:stopafter sequence"},
		{"data:encdg ascii"},
		{"data:source ch1"},
		{"data:start 1"},
		{"data:stop 10000000"},
	}
	for _, c := range cmds {
		if err := s.Write(c...); err != nil {
			return err
		}
	}
	// a mean readout of the trigger photodiode stays armed for the whole
	// run; reading a displayed slot is far cheaper than a curve transfer
	return s.AddDisplayedMeanMeasurement(4, 1)
}

// StartAcquisition arms a single-sequence acquisition.
func (s *Scope) StartAcquisition() error {
	return s.Write("acquire:state run")
}

// StopAcquisition halts acquisition.
func (s *Scope) StopAcquisition() error {
	return s.Write("acquire:state stop")
}

// TriggerState returns the scope's trigger state, lowercased.
func (s *Scope) TriggerState() (string, error) {
	return s.ReadString("trigger:state?")
}

// WaitUntilTriggered blocks until the trigger state reads back as captured.
// The poll is rate limited; ctx cancels it, and TriggerBudget (if nonzero)
// converts a stuck wait into a trcd.TimeoutError.
func (s *Scope) WaitUntilTriggered(ctx context.Context) error {
	parent := ctx
	if s.TriggerBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.TriggerBudget)
		defer cancel()
	}
	lim := rate.NewLimiter(pollLimit, 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			// the limiter bails out as soon as the next permitted poll
			// would land past the deadline, which can be before the
			// deadline itself has passed
			if s.TriggerBudget > 0 && parent.Err() == nil {
				return trcd.TimeoutError{Op: "trigger wait", Budget: s.TriggerBudget}
			}
			if perr := parent.Err(); perr != nil {
				return perr
			}
			return err
		}
		state, err := s.TriggerState()
		if err != nil {
			return err
		}
		if state == triggerStateCaptured {
			return nil
		}
	}
}

// SetVertical sets the vertical offset and scale of a channel, both in volts.
func (s *Scope) SetVertical(channel int, offset, scale float64) error {
	err := s.Write(fmt.Sprintf("ch%d:offset %.4E", channel, offset))
	if err != nil {
		return err
	}
	return s.Write(fmt.Sprintf("ch%d:scale %.4E", channel, scale))
}

// GetVertical returns the vertical offset and scale of a channel in volts.
func (s *Scope) GetVertical(channel int) (offset, scale float64, err error) {
	offset, err = s.ReadFloat(fmt.Sprintf("ch%d:offset?", channel))
	if err != nil {
		return 0, 0, err
	}
	scale, err = s.ReadFloat(fmt.Sprintf("ch%d:scale?", channel))
	return offset, scale, err
}

// SetChannelOn turns the display of a channel on.
func (s *Scope) SetChannelOn(channel int) error {
	return s.Write(fmt.Sprintf("select:ch%d on", channel))
}

// SetTimePerDiv sets the horizontal scale in seconds per division.
func (s *Scope) SetTimePerDiv(secs float64) error {
	return s.Write(fmt.Sprintf("horizontal:main:scale %.2E", secs))
}

// SetHorizontalPosition sets the trigger point as a percentage of the record.
func (s *Scope) SetHorizontalPosition(pct float64) error {
	return s.Write(fmt.Sprintf("horizontal:position %g", pct))
}

func (s *Scope) scalingFor(channel int) (trcd.ChannelScaling, error) {
	var cs trcd.ChannelScaling
	err := s.Write(fmt.Sprintf("data:source ch%d", channel))
	if err != nil {
		return cs, err
	}
	cs.Scale, err = s.ReadFloat("wfmoutpre:ymult?")
	if err != nil {
		return cs, err
	}
	cs.OffsetLevels, err = s.ReadFloat("wfmoutpre:yoff?")
	if err != nil {
		return cs, err
	}
	cs.ZeroVolts, err = s.ReadFloat("wfmoutpre:yzero?")
	return cs, err
}

// CaptureSnapshot reads back the scaling constants for all three signal
// channels.  The result is tied to the vertical ranges in effect now and is
// junk once any of them changes.
func (s *Scope) CaptureSnapshot() (trcd.Preamble, error) {
	var pre trcd.Preamble
	var err error
	pre.TimeResolution, err = s.ReadFloat("wfmoutpre:xincr?")
	if err != nil {
		return pre, err
	}
	pre.Par, err = s.scalingFor(trcd.ChanPar)
	if err != nil {
		return pre, err
	}
	pre.Perp, err = s.scalingFor(trcd.ChanPerp)
	if err != nil {
		return pre, err
	}
	pre.Ref, err = s.scalingFor(trcd.ChanRef)
	if err != nil {
		return pre, err
	}
	pre.Points, err = s.ReadInt("wfmoutpre:nr_pt?")
	return pre, err
}

// TransferChannel pulls the raw digitizer levels for one channel.  Failures
// are reported as trcd.TransportError; the curve transfer is the longest,
// flakiest exchange on the bus and the orchestrator retries it once.
func (s *Scope) TransferChannel(channel int) ([]int, error) {
	err := s.Write(fmt.Sprintf("data:source ch%d", channel))
	if err != nil {
		return nil, trcd.TransportError{Op: "waveform transfer", Err: err}
	}
	levels, err := s.ReadInts("curve?")
	if err != nil {
		return nil, trcd.TransportError{Op: "waveform transfer", Err: err}
	}
	return levels, nil
}

// AddDisplayedMeanMeasurement configures a displayed measurement slot to
// report the mean of a channel.
func (s *Scope) AddDisplayedMeanMeasurement(channel, slot int) error {
	cmds := []string{
		fmt.Sprintf("measurement:meas%d:source ch%d", slot, channel),
		fmt.Sprintf("measurement:meas%d:state on", slot),
		fmt.Sprintf("measurement:meas%d:type mean", slot),
	}
	for _, c := range cmds {
		if err := s.Write(c); err != nil {
			return err
		}
	}
	return nil
}

// ReadDisplayedMeasurement returns the value of a displayed measurement
// slot.  Much faster than a full curve transfer for mean reads.
func (s *Scope) ReadDisplayedMeasurement(slot int) (float64, error) {
	return s.ReadFloat(fmt.Sprintf("measurement:meas%d:value?", slot))
}

// Close frees the scope's connections.
func (s *Scope) Close() error {
	return s.Pool.Close()
}
