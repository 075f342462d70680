// Package shutter provides an interface to the analog output driving the
// pump shutter.
package shutter

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tarm/serial"

	"github.com/savikhin-lab/ns-trcd-runner/trcd"
)

func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 5 * time.Second}
}

// Gate is the pump shutter's control box on a serial port.  Driving the
// output low blocks the pump beam; the box also reports whether the blade
// was open or shut at the last trigger.
type Gate struct {
	conn io.ReadWriteCloser
	buf  *bufio.Reader
}

// New opens the gate on the given serial port.
func New(addr string) (*Gate, error) {
	conn, err := serial.OpenPort(makeSerConf(addr))
	if err != nil {
		return nil, err
	}
	return &Gate{conn: conn, buf: bufio.NewReader(conn)}, nil
}

// NewFromConn wraps an existing connection; used for testing.
func NewFromConn(conn io.ReadWriteCloser) *Gate {
	return &Gate{conn: conn, buf: bufio.NewReader(conn)}
}

// SetLevel drives the analog output, in volts.
func (g *Gate) SetLevel(level float64) error {
	_, err := fmt.Fprintf(g.conn, "out %.3f\r", level)
	return err
}

// State reads back the blade position at the last trigger.  An unexpected
// response is reported with PumpUnknown so the caller can discard the shot
// pair and try again.
func (g *Gate) State() (trcd.PumpState, error) {
	_, err := g.conn.Write([]byte("state?\r"))
	if err != nil {
		return trcd.PumpUnknown, err
	}
	resp, err := g.buf.ReadString('\r')
	if err != nil {
		return trcd.PumpUnknown, err
	}
	switch strings.ToLower(strings.TrimRight(resp, "\r\n")) {
	case "open":
		return trcd.PumpOpen, nil
	case "shut":
		return trcd.PumpShut, nil
	}
	return trcd.PumpUnknown, nil
}

// Close releases the serial port.
func (g *Gate) Close() error {
	return g.conn.Close()
}
