package shutter

import (
	"bytes"
	"testing"

	"github.com/savikhin-lab/ns-trcd-runner/trcd"
)

// fakePort records writes and replays scripted responses.
type fakePort struct {
	writes    []string
	responses bytes.Buffer
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.writes = append(f.writes, string(p))
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	return f.responses.Read(p)
}

func (f *fakePort) Close() error { return nil }

func TestSetLevel(t *testing.T) {
	port := &fakePort{}
	g := NewFromConn(port)
	if err := g.SetLevel(5); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(port.writes) != 1 || port.writes[0] != "out 5.000\r" {
		t.Errorf("wrong command written: %q", port.writes)
	}
}

func TestState(t *testing.T) {
	cases := []struct {
		resp string
		want trcd.PumpState
	}{
		{"open\r", trcd.PumpOpen},
		{"shut\r", trcd.PumpShut},
		{"OPEN\r", trcd.PumpOpen},
		{"garbage\r", trcd.PumpUnknown},
	}
	for _, c := range cases {
		port := &fakePort{}
		port.responses.WriteString(c.resp)
		g := NewFromConn(port)
		st, err := g.State()
		if err != nil {
			t.Fatalf("response %q: expected nil error, got %v", c.resp, err)
		}
		if st != c.want {
			t.Errorf("response %q: expected %v, got %v", c.resp, c.want, st)
		}
		if port.writes[0] != "state?\r" {
			t.Errorf("wrong query written: %q", port.writes[0])
		}
	}
}
