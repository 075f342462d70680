package tektronix

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/savikhin-lab/ns-trcd-runner/comm"
	"github.com/savikhin-lab/ns-trcd-runner/scpi"
	"github.com/savikhin-lab/ns-trcd-runner/trcd"
)

// fakeDevice is a SCPI instrument on a TCP loopback socket.  Queries are
// answered from a scripted table; the last scripted answer repeats.
type fakeDevice struct {
	l        net.Listener
	mu       sync.Mutex
	answers  map[string][]string
	commands []string
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	d := &fakeDevice{l: l, answers: map[string][]string{}}
	t.Cleanup(func() { l.Close() })
	go d.serve()
	return d
}

func (d *fakeDevice) serve() {
	for {
		conn, err := d.l.Accept()
		if err != nil {
			return
		}
		go d.handle(conn)
	}
}

func (d *fakeDevice) handle(conn net.Conn) {
	defer conn.Close()
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		for _, cmd := range strings.Split(sc.Text(), ";") {
			d.mu.Lock()
			d.commands = append(d.commands, cmd)
			if strings.HasSuffix(cmd, "?") {
				resp := "0"
				if q := d.answers[cmd]; len(q) > 0 {
					resp = q[0]
					if len(q) > 1 {
						d.answers[cmd] = q[1:]
					}
				}
				d.mu.Unlock()
				conn.Write([]byte(resp + "\n"))
				continue
			}
			d.mu.Unlock()
		}
	}
}

func (d *fakeDevice) script(query string, responses ...string) {
	d.mu.Lock()
	d.answers[query] = responses
	d.mu.Unlock()
}

func (d *fakeDevice) sawCommand(cmd string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.commands {
		if c == cmd {
			return true
		}
	}
	return false
}

func (d *fakeDevice) scope() *Scope {
	pool := comm.NewPool(1, comm.BackingOffTCPConnMaker(d.l.Addr().String(), time.Second))
	return &Scope{SCPI: scpi.SCPI{Pool: pool}}
}

func TestConfigureForExperiment(t *testing.T) {
	dev := newFakeDevice(t)
	s := dev.scope()
	defer s.Close()
	if err := s.ConfigureForExperiment(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	// the fake answers queries synchronously, so a final query flushes any
	// buffered plain commands before we inspect them
	if _, err := s.TriggerState(); err != nil {
		t.Fatal(err)
	}
	for _, cmd := range []string{
		"acquire:mode hires",
		"acquire:stopafter sequence",
		"data:encdg ascii",
		"data:start 1",
		"data:stop 10000000",
		"measurement:meas1:source ch4",
		"measurement:meas1:state on",
		"measurement:meas1:type mean",
	} {
		if !dev.sawCommand(cmd) {
			t.Errorf("expected command %q to be sent", cmd)
		}
	}
}

func TestGetVertical(t *testing.T) {
	dev := newFakeDevice(t)
	dev.script("ch2:offset?", "1.0E-1")
	dev.script("ch2:scale?", "2.0E-2")
	s := dev.scope()
	defer s.Close()
	offset, scale, err := s.GetVertical(2)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if offset != 0.1 || scale != 0.02 {
		t.Errorf("expected (0.1, 0.02), got (%g, %g)", offset, scale)
	}
}

func TestWaitUntilTriggered(t *testing.T) {
	dev := newFakeDevice(t)
	dev.script("trigger:state?", "armed", "ready", "save")
	s := dev.scope()
	defer s.Close()
	if err := s.WaitUntilTriggered(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestWaitUntilTriggeredBudget(t *testing.T) {
	dev := newFakeDevice(t)
	dev.script("trigger:state?", "armed")
	s := dev.scope()
	defer s.Close()
	s.TriggerBudget = 100 * time.Millisecond
	err := s.WaitUntilTriggered(context.Background())
	var terr trcd.TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
}

func TestWaitUntilTriggeredBudgetShorterThanPoll(t *testing.T) {
	dev := newFakeDevice(t)
	dev.script("trigger:state?", "armed")
	s := dev.scope()
	defer s.Close()
	// a budget inside the poll interval makes the limiter bail out before
	// the deadline itself passes; that must still read as a timeout
	s.TriggerBudget = 5 * time.Millisecond
	err := s.WaitUntilTriggered(context.Background())
	var terr trcd.TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
}

func TestWaitUntilTriggeredCancel(t *testing.T) {
	dev := newFakeDevice(t)
	dev.script("trigger:state?", "armed")
	s := dev.scope()
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	if err := s.WaitUntilTriggered(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCaptureSnapshot(t *testing.T) {
	dev := newFakeDevice(t)
	dev.script("wfmoutpre:xincr?", "4.0E-10")
	dev.script("wfmoutpre:ymult?", "1.0E-3", "2.0E-3", "3.0E-3")
	dev.script("wfmoutpre:yoff?", "100", "200", "300")
	dev.script("wfmoutpre:yzero?", "0.0E0")
	dev.script("wfmoutpre:nr_pt?", "1000")
	s := dev.scope()
	defer s.Close()
	pre, err := s.CaptureSnapshot()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if pre.TimeResolution != 4e-10 {
		t.Errorf("wrong time resolution: %g", pre.TimeResolution)
	}
	if pre.Par.Scale != 1e-3 || pre.Perp.Scale != 2e-3 || pre.Ref.Scale != 3e-3 {
		t.Errorf("wrong channel scales: %+v", pre)
	}
	if pre.Par.OffsetLevels != 100 || pre.Perp.OffsetLevels != 200 || pre.Ref.OffsetLevels != 300 {
		t.Errorf("wrong level offsets: %+v", pre)
	}
	if pre.Points != 1000 {
		t.Errorf("wrong record length: %d", pre.Points)
	}
	for _, cmd := range []string{"data:source ch1", "data:source ch2", "data:source ch3"} {
		if !dev.sawCommand(cmd) {
			t.Errorf("expected command %q to be sent", cmd)
		}
	}
}

func TestTransferChannel(t *testing.T) {
	dev := newFakeDevice(t)
	dev.script("curve?", "100,200,300")
	s := dev.scope()
	defer s.Close()
	levels, err := s.TransferChannel(1)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(levels) != 3 || levels[0] != 100 || levels[1] != 200 || levels[2] != 300 {
		t.Errorf("wrong levels: %v", levels)
	}
}

func TestDisplayedMeasurement(t *testing.T) {
	dev := newFakeDevice(t)
	dev.script("measurement:meas1:value?", "1.5E-3")
	s := dev.scope()
	defer s.Close()
	if err := s.AddDisplayedMeanMeasurement(2, 1); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	v, err := s.ReadDisplayedMeasurement(1)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if v != 1.5e-3 {
		t.Errorf("expected 1.5e-3, got %g", v)
	}
	for _, cmd := range []string{
		"measurement:meas1:source ch2",
		"measurement:meas1:state on",
		"measurement:meas1:type mean",
	} {
		if !dev.sawCommand(cmd) {
			t.Errorf("expected command %q to be sent", cmd)
		}
	}
}

func TestTransferChannelReportsTransportFault(t *testing.T) {
	dev := newFakeDevice(t)
	dev.script("curve?", "100,junk,300")
	s := dev.scope()
	defer s.Close()
	_, err := s.TransferChannel(1)
	var terr trcd.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}
