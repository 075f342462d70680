package trcd

import (
	"fmt"
	"time"
)

// TransportError is a bus or communication fault during an instrument
// exchange.  Waveform transfers that fail with a TransportError are retried
// once by the orchestrator; anything else is permanent.
type TransportError struct {
	Op  string
	Err error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("transport fault during %s: %v", e.Op, e.Err)
}

func (e TransportError) Unwrap() error { return e.Err }

// MotionError means an actuator could not reach its target or confirm its
// position within the allowed time.  The orchestrator treats these as
// warnings; the actuator may have rounded to the nearest step.
type MotionError struct {
	Device string
	Target float64
	Msg    string
}

func (e MotionError) Error() string {
	return fmt.Sprintf("%s: motion to %g failed: %s", e.Device, e.Target, e.Msg)
}

// ConfigurationError is an invalid run configuration: a bad wavelength plan,
// a non-positive retardation constant, or an unreadable calibration curve.
// These fail before any hardware motion occurs.
type ConfigurationError struct {
	Msg string
}

func (e ConfigurationError) Error() string { return e.Msg }

// ProtocolError is an unparseable status response from a serial device.
// Partial position or state information cannot be trusted, so these abort
// the run.
type ProtocolError struct {
	Device   string
	Response string
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("%s: unparseable response %q", e.Device, e.Response)
}

// TimeoutError means a bounded wait elapsed without the awaited condition.
type TimeoutError struct {
	Op     string
	Budget time.Duration
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("%s did not complete within %v", e.Op, e.Budget)
}
