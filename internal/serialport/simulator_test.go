package serialport

import (
	"errors"
	"testing"
	"time"

	"github.com/roman-kulish/quadcopter-visualizer/internal/framer"
	"github.com/roman-kulish/quadcopter-visualizer/internal/protocol"
	"github.com/roman-kulish/quadcopter-visualizer/internal/telemetry"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

func newTestSimulator(t *testing.T, c *clock, options ...func(*Simulator)) *Simulator {
	t.Helper()

	options = append([]func(*Simulator){WithSimulatorClock(c.Now), WithSimulatorRate(10)}, options...)
	s, err := NewSimulator(telemetry.DefaultInstruments(), options...)
	if err != nil {
		t.Fatalf("Failed to create simulator: %v", err)
	}
	return s
}

func decodeAll(t *testing.T, data []byte) (ticks []protocol.Tick, samples []protocol.ChannelSample, other int) {
	t.Helper()

	d, err := protocol.NewDecoder(telemetry.DefaultInstruments())
	if err != nil {
		t.Fatalf("Failed to create decoder: %v", err)
	}
	for _, line := range framer.New().Write(data) {
		for _, ev := range d.Decode(line.Text) {
			switch e := ev.(type) {
			case protocol.Tick:
				ticks = append(ticks, e)
			case protocol.ChannelSample:
				samples = append(samples, e)
			default:
				other++
			}
		}
	}
	return ticks, samples, other
}

func TestSimulator_Stream(t *testing.T) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	s := newTestSimulator(t, c)

	if err := s.Open(SimulatorPort); err != nil {
		t.Fatalf("Failed to open simulator: %v", err)
	}

	data, err := s.ReadAvailable()
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	ticks, samples, other := decodeAll(t, data)
	if len(ticks) != 1 || ticks[0].Timestamp != 0 || len(samples) != 9 || other != 0 {
		t.Fatalf("Expected one full sample at 0, got %d ticks, %d samples, %d other", len(ticks), len(samples), other)
	}

	ranges := make(map[string]telemetry.Instrument)
	for _, inst := range telemetry.DefaultInstruments() {
		ranges[inst.Name] = inst
	}
	for _, sample := range samples {
		inst := ranges[sample.Instrument]
		if sample.Value < inst.Min || sample.Value > inst.Max {
			t.Errorf("%s.%s = %d is out of range", sample.Instrument, sample.Channel, sample.Value)
		}
	}

	// nothing new until the next sample is due
	if data, _ := s.ReadAvailable(); len(data) != 0 {
		t.Errorf("Expected no data, got %q", data)
	}

	c.now = c.now.Add(time.Second)
	data, _ = s.ReadAvailable()
	ticks, samples, _ = decodeAll(t, data)
	if len(ticks) != 10 || len(samples) != 90 {
		t.Fatalf("Expected 10 samples after a second, got %d ticks, %d samples", len(ticks), len(samples))
	}
	if ticks[0].Timestamp != 100 || ticks[9].Timestamp != 1000 {
		t.Errorf("Unexpected timestamps %d..%d", ticks[0].Timestamp, ticks[9].Timestamp)
	}
}

func TestSimulator_Backlog(t *testing.T) {
	c := &clock{now: time.Unix(0, 0)}
	s := newTestSimulator(t, c)

	if err := s.Open(SimulatorPort); err != nil {
		t.Fatalf("Failed to open simulator: %v", err)
	}
	c.now = c.now.Add(time.Hour)

	data, _ := s.ReadAvailable()
	ticks, _, _ := decodeAll(t, data)
	if len(ticks) != maxSimulatedBacklog {
		t.Errorf("Expected backlog capped at %d, got %d", maxSimulatedBacklog, len(ticks))
	}
	if last := ticks[len(ticks)-1].Timestamp; last != time.Hour.Milliseconds() {
		t.Errorf("Expected the latest sample at %d, got %d", time.Hour.Milliseconds(), last)
	}
}

func TestSimulator_Banner(t *testing.T) {
	c := &clock{now: time.Unix(0, 0)}
	s := newTestSimulator(t, c, WithBanner("Flight controller v1.0", "Calibrating IMU..."))

	if err := s.Open(SimulatorPort); err != nil {
		t.Fatalf("Failed to open simulator: %v", err)
	}
	data, _ := s.ReadAvailable()
	ticks, _, other := decodeAll(t, data)
	if other != 2 || len(ticks) != 1 {
		t.Errorf("Expected 2 banner lines and 1 sample, got %d and %d", other, len(ticks))
	}
}

func TestSimulator_Lifecycle(t *testing.T) {
	c := &clock{now: time.Unix(0, 0)}
	s := newTestSimulator(t, c)

	if err := s.Open("/dev/ttyUSB0"); !errors.Is(err, ErrNoSuchPort) {
		t.Errorf("Expected ErrNoSuchPort, got %v", err)
	}
	if _, err := s.ReadAvailable(); !errors.Is(err, ErrPortClosed) {
		t.Errorf("Expected ErrPortClosed, got %v", err)
	}
	if err := s.Open(SimulatorPort); err != nil {
		t.Fatalf("Failed to open simulator: %v", err)
	}
	if err := s.Open(SimulatorPort); !errors.Is(err, ErrPortOpen) {
		t.Errorf("Expected ErrPortOpen, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Failed to close: %v", err)
	}

	ports, err := s.List()
	if err != nil || len(ports) != 1 || ports[0] != SimulatorPort {
		t.Errorf("Unexpected ports %v, %v", ports, err)
	}
}
