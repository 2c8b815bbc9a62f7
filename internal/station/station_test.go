package station

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roman-kulish/quadcopter-visualizer/internal/rawlog"
	"github.com/roman-kulish/quadcopter-visualizer/internal/serialport"
	"github.com/roman-kulish/quadcopter-visualizer/internal/series"
	"github.com/roman-kulish/quadcopter-visualizer/internal/telemetry"
	"github.com/roman-kulish/quadcopter-visualizer/internal/window"
)

type fakeTransport struct {
	mu       sync.Mutex
	open     bool
	name     string
	chunks   [][]byte
	readErr  error
	openErr  error
	closeErr error
	opens    int
	closes   int
}

func (f *fakeTransport) Open(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opens++
	if f.openErr != nil {
		return &serialport.TransportError{Op: "open", Port: name, Err: f.openErr}
	}
	f.open = true
	f.name = name
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closes++
	f.open = false
	return f.closeErr
}

func (f *fakeTransport) ReadAvailable() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open {
		return nil, &serialport.TransportError{Op: "read", Port: f.name, Err: serialport.ErrPortClosed}
	}

	var data []byte
	for _, c := range f.chunks {
		data = append(data, c...)
	}
	f.chunks = nil

	if err := f.readErr; err != nil {
		f.readErr = nil
		return data, &serialport.TransportError{Op: "read", Port: f.name, Err: err}
	}
	return data, nil
}

func (f *fakeTransport) List() ([]string, error) {
	return []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}, nil
}

func (f *fakeTransport) push(chunks ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range chunks {
		f.chunks = append(f.chunks, []byte(c))
	}
}

func (f *fakeTransport) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

func (f *fakeTransport) counts() (opens, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.closes
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setup(t *testing.T, options ...func(*Station)) (*Station, *fakeTransport, *series.Registry) {
	t.Helper()

	r, err := series.NewRegistry(telemetry.DefaultInstruments())
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	tr := &fakeTransport{}
	s, err := New(tr, r, options...)
	if err != nil {
		t.Fatalf("Failed to create station: %v", err)
	}
	return s, tr, r
}

func connect(t *testing.T, s *Station, port string) {
	t.Helper()

	if err := s.Connect(port); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
}

func poll(t *testing.T, s *Station) {
	t.Helper()

	if err := s.Poll(); err != nil {
		t.Fatalf("Failed to poll: %v", err)
	}
}

func lastLine(t *testing.T, feed *rawlog.Feed) rawlog.RawLine {
	t.Helper()

	var last rawlog.RawLine
	for line := range feed.Since(feed.LastSeq() - 1) {
		last = line
	}
	if last.Seq == 0 {
		t.Fatal("Expected a line in the feed")
	}
	return last
}

func TestStation_Poll(t *testing.T) {
	s, tr, r := setup(t)
	connect(t, s, "/dev/ttyUSB0")

	tr.push("DATA:TIME:0\nDATA:ACC", "ELX:10\nDATA:ACCELY:20\n")
	poll(t, s)
	tr.push("DATA:ACCELZ:30\n")
	poll(t, s)

	snap, err := r.Snapshot("Acceleration")
	if err != nil {
		t.Fatalf("Failed to get snapshot: %v", err)
	}
	if !slices.Equal(snap.Timestamps, []int64{0}) {
		t.Errorf("Expected timestamps [0], got %v", snap.Timestamps)
	}
	for ch, expected := range map[string]int64{"X": 10, "Y": 20, "Z": 30} {
		if values := snap.Channels[ch]; len(values) != 1 || values[0] != expected {
			t.Errorf("Expected %s = [%d], got %v", ch, expected, values)
		}
	}

	state := s.State()
	if state.Lines != 4 || state.Events != 4 || state.Bytes != 57 {
		t.Errorf("Unexpected state %+v", state)
	}
	if s.Feed().Len() != 4 {
		t.Errorf("Expected 4 raw lines, got %d", s.Feed().Len())
	}
}

func TestStation_GarbageAndUnrecognized(t *testing.T) {
	s, tr, r := setup(t)
	connect(t, s, "/dev/ttyUSB0")

	tr.push("\xffDATA:ACCELY:20\n", "Calibrating IMU...\n", "DATA:ACCELX:\n")
	poll(t, s)

	var kinds []rawlog.Kind
	for line := range s.Feed().Since(0) {
		kinds = append(kinds, line.Kind)
	}
	expected := []rawlog.Kind{rawlog.KindMalformed, rawlog.KindData, rawlog.KindUnrecognized, rawlog.KindUnrecognized}
	if !slices.Equal(kinds, expected) {
		t.Errorf("Expected kinds %v, got %v", expected, kinds)
	}

	_, lengths, _ := r.Lengths("Acceleration")
	if lengths["Y"] != 1 || lengths["X"] != 0 {
		t.Errorf("Unexpected channel lengths %v", lengths)
	}

	state := s.State()
	if state.Malformed != 1 || state.Unrecognized != 2 {
		t.Errorf("Unexpected counters %+v", state)
	}

	last := lastLine(t, s.Feed())
	if last.Err == nil {
		t.Error("Expected the parse error to be kept with the raw line")
	}
}

func TestStation_ReadFailure(t *testing.T) {
	c := &clock{now: time.Unix(0, 0)}
	s, tr, r := setup(t, WithClock(c.Now), WithBackoff(100*time.Millisecond, 400*time.Millisecond))
	connect(t, s, "/dev/ttyUSB0")

	tr.push("DATA:TIME:1\nDATA:TIME:5")
	tr.fail(errors.New("device unplugged"))

	err := s.Poll()
	var transportErr *serialport.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Expected TransportError, got %v", err)
	}

	state := s.State()
	if state.Connected || state.Port != "/dev/ttyUSB0" || state.LastError == nil {
		t.Errorf("Expected failed connection to be kept for reconnect, got %+v", state)
	}
	if last := lastLine(t, s.Feed()); last.Kind != rawlog.KindTransport {
		t.Errorf("Expected transport error in feed, got %+v", last)
	}
	if err := s.Poll(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}

	// reconnect after the backoff, the partial line does not survive
	c.advance(100 * time.Millisecond)
	s.step()
	if !s.State().Connected {
		t.Fatal("Expected reconnect")
	}
	tr.push("0\n")
	poll(t, s)

	if latest, _, _ := r.Latest("Acceleration"); latest != 1 {
		t.Errorf("Expected latest timestamp 1, got %d", latest)
	}
	if s.State().Reconnects != 1 {
		t.Errorf("Expected 1 reconnect, got %d", s.State().Reconnects)
	}
}

func TestStation_Backoff(t *testing.T) {
	c := &clock{now: time.Unix(0, 0)}
	s, tr, _ := setup(t, WithClock(c.Now), WithBackoff(100*time.Millisecond, 300*time.Millisecond))

	tr.openErr = serialport.ErrNoSuchPort
	if err := s.Connect("/dev/ttyUSB0"); !errors.Is(err, serialport.ErrNoSuchPort) {
		t.Fatalf("Expected ErrNoSuchPort, got %v", err)
	}

	// attempts at 100, 300, 600, 900 ms
	attempts := func() int {
		opens, _ := tr.counts()
		return opens - 1
	}
	testCases := []struct {
		advance  time.Duration
		expected int
	}{
		{50 * time.Millisecond, 0},
		{50 * time.Millisecond, 1},
		{150 * time.Millisecond, 1},
		{50 * time.Millisecond, 2},
		{300 * time.Millisecond, 3},
		{250 * time.Millisecond, 3},
		{50 * time.Millisecond, 4},
	}
	for i, tc := range testCases {
		c.advance(tc.advance)
		s.step()
		if got := attempts(); got != tc.expected {
			t.Fatalf("Step %d: expected %d attempts, got %d", i, tc.expected, got)
		}
	}

	tr.mu.Lock()
	tr.openErr = nil
	tr.mu.Unlock()

	c.advance(300 * time.Millisecond)
	s.step()
	if state := s.State(); !state.Connected || state.LastError != nil {
		t.Errorf("Expected connection after the port came back, got %+v", state)
	}
}

func TestStation_ConnectSwitchesPort(t *testing.T) {
	s, tr, r := setup(t)
	connect(t, s, "/dev/ttyUSB0")

	tr.push("DATA:TIME:7")
	poll(t, s)
	connect(t, s, "/dev/ttyUSB1")

	if opens, closes := tr.counts(); opens != 2 || closes != 1 {
		t.Errorf("Expected 2 opens and 1 close, got %d and %d", opens, closes)
	}
	if tr.name != "/dev/ttyUSB1" || s.State().Port != "/dev/ttyUSB1" {
		t.Errorf("Expected new port, got %s", tr.name)
	}

	tr.push("0\n")
	poll(t, s)
	if _, ok, _ := r.Latest("Acceleration"); ok {
		t.Error("Expected the partial line to be discarded on port switch")
	}
}

func TestStation_Disconnect(t *testing.T) {
	c := &clock{now: time.Unix(0, 0)}
	s, tr, _ := setup(t, WithClock(c.Now))
	connect(t, s, "/dev/ttyUSB0")

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Failed to disconnect: %v", err)
	}
	c.advance(time.Minute)
	s.step()

	if opens, closes := tr.counts(); opens != 1 || closes != 1 {
		t.Errorf("Expected no reconnect after disconnect, got %d opens", opens)
	}
	if state := s.State(); state.Connected || state.Port != "" {
		t.Errorf("Unexpected state %+v", state)
	}
}

func TestStation_ResetData(t *testing.T) {
	r, err := series.NewRegistry(telemetry.DefaultInstruments())
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	m, err := window.New(r, window.WithSpan(1_000), window.WithStep(500))
	if err != nil {
		t.Fatalf("Failed to create window manager: %v", err)
	}
	tr := &fakeTransport{}
	s, err := New(tr, r, WithWindow(m))
	if err != nil {
		t.Fatalf("Failed to create station: %v", err)
	}
	connect(t, s, "/dev/ttyUSB0")

	tr.push("DATA:TIME:5000\nDATA:ACCELX:1\nDATA:ACCELY:2\nDATA:ACCELZ:3\n")
	poll(t, s)
	if err := m.Refresh(); err != nil {
		t.Fatalf("Failed to refresh: %v", err)
	}

	s.ResetData()

	if _, ok, _ := r.Latest("Acceleration"); ok {
		t.Error("Expected empty registry after reset")
	}
	if b, _ := m.Bounds("Acceleration"); b != (window.Bounds{Lo: 0, Hi: 1_000}) {
		t.Errorf("Expected rebased window, got %+v", b)
	}
	if !s.State().Connected {
		t.Error("Reset must not disconnect")
	}
}

func TestStation_LocalTimestamps(t *testing.T) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	s, tr, r := setup(t, WithClock(c.Now), WithLocalTimestamps())
	connect(t, s, "/dev/ttyUSB0")

	tr.push("DATA:ACCELX:1\nDATA:ACCELY:2\nDATA:ACCELZ:3\n")
	poll(t, s)
	c.advance(40 * time.Millisecond)
	tr.push("DATA:ACCELX:4\nDATA:ACCELY:5\nDATA:ACCELZ:6\n")
	poll(t, s)

	snap, _ := r.Snapshot("Acceleration")
	if !slices.Equal(snap.Timestamps, []int64{0, 40}) {
		t.Errorf("Expected local timestamps [0 40], got %v", snap.Timestamps)
	}
}

func TestStation_LocalTimestampsAcrossReconnect(t *testing.T) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	s, tr, r := setup(t, WithClock(c.Now), WithLocalTimestamps())
	connect(t, s, "/dev/ttyUSB0")

	sample := "DATA:ACCELX:1\nDATA:ACCELY:2\nDATA:ACCELZ:3\n"
	for i := range 5 {
		if i > 0 {
			c.advance(10 * time.Second)
		}
		tr.push(sample)
		poll(t, s)
	}

	c.advance(10 * time.Second)
	tr.fail(errors.New("device unplugged"))
	if err := s.Poll(); err == nil {
		t.Fatal("Expected read failure")
	}
	connect(t, s, "/dev/ttyUSB0")

	for i := range 2 {
		if i > 0 {
			c.advance(10 * time.Second)
		}
		tr.push(sample)
		poll(t, s)
	}

	snap, _ := r.Snapshot("Acceleration")
	expected := []int64{0, 10_000, 20_000, 30_000, 40_000, 50_000, 60_000}
	if !slices.Equal(snap.Timestamps, expected) {
		t.Errorf("Expected timestamps %v, got %v", expected, snap.Timestamps)
	}
	for i := 1; i < len(snap.Timestamps); i++ {
		if snap.Timestamps[i] < snap.Timestamps[i-1] {
			t.Fatalf("Timestamp went backwards at %d: %d < %d", i, snap.Timestamps[i], snap.Timestamps[i-1])
		}
	}
}

func TestStation_ConnectReportsCloseError(t *testing.T) {
	s, tr, _ := setup(t)
	connect(t, s, "/dev/ttyUSB0")

	closeErr := errors.New("close failed")
	tr.closeErr = closeErr

	err := s.Connect("/dev/ttyUSB1")
	if !errors.Is(err, closeErr) {
		t.Errorf("Expected the close error, got %v", err)
	}
	if state := s.State(); !state.Connected || state.Port != "/dev/ttyUSB1" {
		t.Errorf("Expected the new port to be open, got %+v", state)
	}
}

func TestStation_Run(t *testing.T) {
	s, tr, r := setup(t, WithPollInterval(time.Millisecond))
	connect(t, s, "/dev/ttyUSB0")
	tr.push("DATA:TIME:0\nDATA:ACCELX:1\nDATA:ACCELY:2\nDATA:ACCELZ:3\n")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if snap, _ := r.Snapshot("Acceleration"); snap.Len() == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the sample")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Expected clean shutdown, got %v", err)
	}
	if _, closes := tr.counts(); closes != 1 {
		t.Errorf("Expected port closed on shutdown, got %d closes", closes)
	}
}

func TestStation_Ports(t *testing.T) {
	s, _, _ := setup(t)

	ports, err := s.Ports()
	if err != nil || len(ports) != 2 {
		t.Errorf("Unexpected ports %v, %v", ports, err)
	}
}

func TestState_Summary(t *testing.T) {
	testCases := []struct {
		state    State
		contains string
	}{
		{State{Port: "COM3", Connected: true, Bytes: 2048}, "connected to COM3, 2.0 kB read"},
		{State{Port: "COM3"}, "reconnecting to COM3"},
		{State{Lines: 1234567}, "disconnected, 0 B read, 1,234,567 lines"},
	}

	for _, tc := range testCases {
		t.Run(tc.contains, func(t *testing.T) {
			if got := tc.state.Summary(); !strings.Contains(got, tc.contains) {
				t.Errorf("Expected %q in %q", tc.contains, got)
			}
		})
	}
}
