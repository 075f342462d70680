// Package comm provides connection pooling and line-oriented wrappers for
// communication with lab hardware over TCP or serial links.
package comm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// ErrTerminatorNotFound is generated when the termination byte is not found
// in a response
var ErrTerminatorNotFound = errors.New("termination byte not found")

// Terminator wraps a ReadWriter; writes have the Tx terminator appended and
// reads scan until the Rx terminator, which is stripped.
type Terminator struct {
	rw  io.ReadWriter
	buf *bufio.Reader
	tx  byte
	rx  byte
}

// NewTerminator returns a Terminator around rw with the given Tx and Rx
// termination bytes.
func NewTerminator(rw io.ReadWriter, tx, rx byte) *Terminator {
	return &Terminator{rw: rw, buf: bufio.NewReader(rw), tx: tx, rx: rx}
}

func (t *Terminator) Write(p []byte) (int, error) {
	n, err := t.rw.Write(append(p, t.tx))
	if n > 0 {
		n-- // do not count the terminator
	}
	return n, err
}

// Read fills p with one response, scanning the underlying connection until
// the Rx terminator regardless of frame boundaries.
func (t *Terminator) Read(p []byte) (int, error) {
	resp, err := t.buf.ReadBytes(t.rx)
	if err != nil {
		return copy(p, resp), err
	}
	resp = resp[:len(resp)-1]
	if len(resp) > len(p) {
		return copy(p, resp), io.ErrShortBuffer
	}
	return copy(p, resp), nil
}

// Deadliner is a connection which supports deadlines, e.g. net.Conn.
type Deadliner interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// Timeout wraps a ReadWriter so that each Read and Write carries a deadline.
// Connections which do not support deadlines pass through unchanged.
type Timeout struct {
	rw io.ReadWriter
	d  Deadliner
	t  time.Duration
}

// NewTimeout returns a Timeout wrapper around rw.
func NewTimeout(rw io.ReadWriter, t time.Duration) *Timeout {
	to := &Timeout{rw: rw, t: t}
	// the wrapped value may itself wrap a deadline-capable connection
	switch v := rw.(type) {
	case Deadliner:
		to.d = v
	case *Terminator:
		if d, ok := v.rw.(Deadliner); ok {
			to.d = d
		}
	}
	return to
}

func (t *Timeout) Read(p []byte) (int, error) {
	if t.d != nil {
		t.d.SetReadDeadline(time.Now().Add(t.t))
	}
	return t.rw.Read(p)
}

func (t *Timeout) Write(p []byte) (int, error) {
	if t.d != nil {
		t.d.SetWriteDeadline(time.Now().Add(t.t))
	}
	return t.rw.Write(p)
}

// BackingOffTCPConnMaker returns a CreationFunc that dials addr over TCP
// with exponential backoff.  Instruments with embedded network stacks do
// not like being connection thrashed.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			var err error
			conn, err = net.DialTimeout("tcp", addr, timeout)
			return err
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, fmt.Errorf("connection to %s failed: %w", addr, err)
		}
		return conn, nil
	}
}

// SerialConnMaker returns a CreationFunc that opens the serial port
// described by conf.
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(conf)
	}
}
