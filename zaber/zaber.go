// Package zaber provides an interface to the Zaber T-series linear actuator
// that tilts the wavelength-selecting etalon.
package zaber

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/time/rate"

	"github.com/savikhin-lab/ns-trcd-runner/trcd"
)

// Zaber binary protocol command codes
const (
	cmdHome           = 1
	cmdMoveAbsolute   = 20
	cmdReturnPosition = 60
)

const (
	packetSize = 6

	// settleBudget bounds the position-confirm poll after a move
	settleBudget = 30 * time.Second
)

var pollLimit = rate.Every(10 * time.Millisecond)

func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 5 * time.Second}
}

// Actuator is a Zaber actuator on a serial port with an explicit
// wavelength-to-step calibration curve.
type Actuator struct {
	conn   io.ReadWriteCloser
	device byte
	cal    *Calibration
}

// New opens the actuator on the given port.  The calibration curve is
// explicit; there is no process-wide table.
func New(addr string, cal *Calibration) (*Actuator, error) {
	conn, err := serial.OpenPort(makeSerConf(addr))
	if err != nil {
		return nil, err
	}
	return &Actuator{conn: conn, device: 1, cal: cal}, nil
}

// NewFromConn returns an actuator over an existing connection; used to talk
// through a mux or to test against a fake port.
func NewFromConn(conn io.ReadWriteCloser, cal *Calibration) *Actuator {
	return &Actuator{conn: conn, device: 1, cal: cal}
}

func (a *Actuator) send(cmd byte, data int32) error {
	pkt := make([]byte, packetSize)
	pkt[0] = a.device
	pkt[1] = cmd
	binary.LittleEndian.PutUint32(pkt[2:], uint32(data))
	_, err := a.conn.Write(pkt)
	return err
}

func (a *Actuator) recv() (byte, int32, error) {
	pkt := make([]byte, packetSize)
	_, err := io.ReadFull(a.conn, pkt)
	if err != nil {
		return 0, 0, err
	}
	return pkt[1], int32(binary.LittleEndian.Uint32(pkt[2:])), nil
}

// CurrentPosition returns the actuator position in steps.
func (a *Actuator) CurrentPosition() (int, error) {
	err := a.send(cmdReturnPosition, 0)
	if err != nil {
		return 0, err
	}
	_, pos, err := a.recv()
	return int(pos), err
}

// waitForPosition polls until the reported position matches target.
func (a *Actuator) waitForPosition(target int) error {
	ctx, cancel := context.WithTimeout(context.Background(), settleBudget)
	defer cancel()
	lim := rate.NewLimiter(pollLimit, 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			return trcd.MotionError{
				Device: "zaber",
				Target: float64(target),
				Msg:    fmt.Sprintf("position not confirmed within %v", settleBudget),
			}
		}
		pos, err := a.CurrentPosition()
		if err != nil {
			return err
		}
		if pos == target {
			return nil
		}
	}
}

// MoveToReference homes the actuator.  All wavelength moves start from here
// so that backlash is only ever taken up in one direction.
func (a *Actuator) MoveToReference() error {
	err := a.send(cmdHome, 0)
	if err != nil {
		return err
	}
	// the home command replies when the carriage reaches the switch
	_, _, err = a.recv()
	return err
}

// MoveToWavelength drives the etalon to the step position for wl.
func (a *Actuator) MoveToWavelength(wl float64) error {
	steps, err := a.cal.Steps(wl)
	if err != nil {
		return err
	}
	err = a.send(cmdMoveAbsolute, int32(steps))
	if err != nil {
		return err
	}
	return a.waitForPosition(steps)
}

// Close releases the serial port.
func (a *Actuator) Close() error {
	return a.conn.Close()
}
