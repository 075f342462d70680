// Package scpi provides primitives for working with devices that speak
// text command languages in the SCPI family.
package scpi

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/savikhin-lab/ns-trcd-runner/comm"
)

const (
	timeout = 5 * time.Second

	// respBufSize must fit the largest expected response; an ASCII-encoded
	// curve from a long record is several hundred kB
	respBufSize = 1 << 22
)

// SCPI is a type for encapsulating communication with a SCPI-ish device.
// The Tektronix command set has no handshaking error query, so commands are
// fired without acknowledgement and failures surface on the next read.
type SCPI struct {
	Pool *comm.Pool
}

// Write sends one or more commands to the device, joined by semicolons.
func (s *SCPI) Write(cmds ...string) error {
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap := comm.NewTimeout(comm.NewTerminator(conn, '\n', '\n'), timeout)
	_, err = io.WriteString(wrap, strings.Join(cmds, ";"))
	return err
}

// Ask sends a query to the device and returns the raw response.
func (s *SCPI) Ask(cmd string) ([]byte, error) {
	var resp []byte
	conn, err := s.Pool.Get()
	if err != nil {
		return resp, err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap := comm.NewTimeout(comm.NewTerminator(conn, '\n', '\n'), timeout)
	_, err = io.WriteString(wrap, cmd)
	if err != nil {
		return resp, err
	}
	buf := make([]byte, respBufSize)
	n, err := wrap.Read(buf)
	if err != nil {
		return resp, err
	}
	return buf[:n], nil
}

// ReadString sends a query and returns the response as a trimmed string.
func (s *SCPI) ReadString(cmd string) (string, error) {
	resp, err := s.Ask(cmd)
	return strings.TrimRight(string(resp), "\r\n"), err
}

// ReadFloat sends a query and parses the response as a float.
func (s *SCPI) ReadFloat(cmd string) (float64, error) {
	resp, err := s.ReadString(cmd)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(resp, 64)
}

// ReadInt sends a query and parses the response as an integer.
func (s *SCPI) ReadInt(cmd string) (int, error) {
	resp, err := s.ReadString(cmd)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(resp)
}

// ReadInts sends a query and parses the response as a comma-separated list
// of integers, the format of an ASCII-encoded curve transfer.
func (s *SCPI) ReadInts(cmd string) ([]int, error) {
	resp, err := s.ReadString(cmd)
	if err != nil {
		return nil, err
	}
	pieces := strings.Split(resp, ",")
	out := make([]int, len(pieces))
	for i := 0; i < len(pieces); i++ {
		out[i], err = strconv.Atoi(strings.TrimSpace(pieces[i]))
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
