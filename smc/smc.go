// Package smc provides an interface to the Optometrics SDMC1-04G
// monochromator, which is just an SMC24 stepper driver that knows nothing
// about gratings.
package smc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/time/rate"

	"github.com/savikhin-lab/ns-trcd-runner/trcd"
)

const (
	// the grating drive advances 8 steps per nm
	stepsPerNm = 8

	// settleBudget bounds the position-confirm poll after a move
	settleBudget = 10 * time.Second

	initBanner = " SMC24 v2.12"
)

var (
	posRegex  = regexp.MustCompile(`^Z\s+(-?\d+)`)
	pollLimit = rate.Every(100 * time.Millisecond)
)

func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

// Mono is a monochromator on a serial port.
//
// The controller calibrates itself to whatever position it powers on in, so
// it must be powered on at the zero-order position or every wavelength will
// be shifted.
type Mono struct {
	conn io.ReadWriteCloser
	buf  *bufio.Reader

	// Offset is added to every commanded wavelength, correcting the
	// mismatch between the grating calibration and the etalon's.
	Offset float64
}

// New opens and initializes the monochromator.
func New(addr string, offset float64) (*Mono, error) {
	conn, err := serial.OpenPort(makeSerConf(addr))
	if err != nil {
		return nil, err
	}
	m := &Mono{conn: conn, buf: bufio.NewReader(conn), Offset: offset}
	if err := m.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return m, nil
}

// NewFromConn wraps an existing connection, skipping the port open; used
// for testing against a fake port.
func NewFromConn(conn io.ReadWriteCloser, offset float64) (*Mono, error) {
	m := &Mono{conn: conn, buf: bufio.NewReader(conn), Offset: offset}
	if err := m.init(); err != nil {
		return nil, err
	}
	return m, nil
}

// init wakes the controller and checks its banner.  An unexpected banner
// means the controller state cannot be trusted.
func (m *Mono) init() error {
	if _, err := m.conn.Write([]byte{0x03}); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	if _, err := m.conn.Write([]byte(" ")); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	banner, err := m.readLine()
	if err != nil {
		return err
	}
	if banner != initBanner {
		return trcd.ProtocolError{Device: "smc", Response: banner}
	}
	return nil
}

func (m *Mono) readLine() (string, error) {
	line, err := m.buf.ReadString('\n')
	if err != nil {
		return line, err
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}

// Position returns the grating drive position in steps.  May be positive,
// negative, or zero.
func (m *Mono) Position() (int, error) {
	if _, err := m.conn.Write([]byte("Z\r\n")); err != nil {
		return 0, err
	}
	resp, err := m.readLine()
	if err != nil {
		return 0, err
	}
	match := posRegex.FindStringSubmatch(resp)
	if match == nil {
		return 0, trcd.ProtocolError{Device: "smc", Response: resp}
	}
	return strconv.Atoi(match[1])
}

// MoveWavelength drives the grating to wl (plus the configured offset).
func (m *Mono) MoveWavelength(wl float64) error {
	return m.moveSteps(int(math.Floor((wl + m.Offset) * stepsPerNm)))
}

func (m *Mono) moveSteps(steps int) error {
	target := -steps
	cmd := fmt.Sprintf("R %d\r\n", target)
	if _, err := m.conn.Write([]byte(cmd)); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), settleBudget)
	defer cancel()
	lim := rate.NewLimiter(pollLimit, 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			return trcd.MotionError{
				Device: "smc",
				Target: float64(steps),
				Msg:    fmt.Sprintf("position not confirmed within %v", settleBudget),
			}
		}
		pos, err := m.Position()
		if err != nil {
			return err
		}
		if pos == target {
			return nil
		}
	}
}

// Home sends the grating to the zero-order position.
func (m *Mono) Home() error {
	return m.moveSteps(0)
}

// Close releases the serial port.
func (m *Mono) Close() error {
	return m.conn.Close()
}
