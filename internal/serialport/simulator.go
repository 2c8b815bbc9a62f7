package serialport

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/roman-kulish/quadcopter-visualizer/internal/protocol"
	"github.com/roman-kulish/quadcopter-visualizer/internal/telemetry"
)

const (
	// SimulatorPort is the single port offered by the simulator
	SimulatorPort = "SIM0"

	// DefaultSimulatorRate is the number of samples per second the simulator sends
	DefaultSimulatorRate = 20

	maxSimulatedBacklog = 200 // samples; older ones are skipped after a stall
)

var _ Transport = (*Simulator)(nil)

// WithSimulatorRate sets the samples per second
func WithSimulatorRate(rate int) func(*Simulator) {
	return func(s *Simulator) {
		if rate > 0 {
			s.interval = time.Second / time.Duration(rate)
		}
	}
}

// WithSimulatorClock sets the clock of the simulator
func WithSimulatorClock(now func() time.Time) func(*Simulator) {
	return func(s *Simulator) {
		s.now = now
	}
}

// WithBanner sets free text lines the simulator sends after opening, the way
// the firmware prints its boot messages.
func WithBanner(lines ...string) func(*Simulator) {
	return func(s *Simulator) {
		s.banner = lines
	}
}

// Simulator is an in-process Transport that sends the telemetry protocol
// for a set of instruments. Every channel follows a sine wave within the
// display range of its instrument.
type Simulator struct {
	targets  []telemetry.Target
	ranges   map[string][2]int64
	interval time.Duration
	now      func() time.Time
	banner   []string

	mu      sync.Mutex
	open    bool
	started time.Time
	sent    int64 // Samples sent since open
	pending []byte
}

// NewSimulator creates a simulator for the instruments.
func NewSimulator(instruments []telemetry.Instrument, options ...func(*Simulator)) (*Simulator, error) {
	targets, err := telemetry.Tags(instruments)
	if err != nil {
		return nil, err
	}

	s := Simulator{
		targets:  targets,
		ranges:   make(map[string][2]int64, len(instruments)),
		interval: time.Second / DefaultSimulatorRate,
		now:      time.Now,
	}
	for _, inst := range instruments {
		s.ranges[inst.Name] = [2]int64{inst.Min, inst.Max}
	}

	for _, option := range options {
		option(&s)
	}

	return &s, nil
}

// Open starts the simulated stream. Only SimulatorPort exists.
func (s *Simulator) Open(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name != SimulatorPort {
		return &TransportError{Op: "open", Port: name, Err: ErrNoSuchPort}
	}
	if s.open {
		return &TransportError{Op: "open", Port: name, Err: ErrPortOpen}
	}

	s.open = true
	s.started = s.now()
	s.sent = 0
	s.pending = s.pending[:0]
	for _, line := range s.banner {
		s.pending = append(s.pending, line...)
		s.pending = append(s.pending, '\n')
	}
	return nil
}

// Close stops the stream.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.open = false
	s.pending = nil
	return nil
}

// ReadAvailable returns the lines of every sample due since the previous call.
func (s *Simulator) ReadAvailable() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil, &TransportError{Op: "read", Port: SimulatorPort, Err: ErrPortClosed}
	}

	elapsed := s.now().Sub(s.started)
	due := int64(elapsed/s.interval) + 1
	if due-s.sent > maxSimulatedBacklog {
		s.sent = due - maxSimulatedBacklog
	}

	var b strings.Builder
	b.Write(s.pending)
	s.pending = s.pending[:0]

	for ; s.sent < due; s.sent++ {
		s.writeSample(&b, s.sent*s.interval.Milliseconds())
	}

	if b.Len() == 0 {
		return nil, nil
	}
	return []byte(b.String()), nil
}

func (s *Simulator) writeSample(b *strings.Builder, ts int64) {
	for _, t := range s.targets {
		if t.IsTick() {
			b.WriteString(protocol.Encode(t.Tag, ts))
		}
	}
	for i, t := range s.targets {
		if !t.IsTick() {
			b.WriteString(protocol.Encode(t.Tag, s.value(t.Instrument, i, ts)))
		}
	}
}

// value returns a sine wave within 80% of the instrument range. Channels are
// phase shifted so their traces are told apart.
func (s *Simulator) value(instrument string, channel int, ts int64) int64 {
	r := s.ranges[instrument]
	mid := float64(r[0]+r[1]) / 2
	amp := float64(r[1]-r[0]) / 2 * 0.8

	period := 4000.0 + 1500.0*float64(channel%4)
	phase := float64(channel) * math.Pi / 3
	return int64(math.Round(mid + amp*math.Sin(2*math.Pi*float64(ts)/period+phase)))
}

// List returns the simulator port.
func (s *Simulator) List() ([]string, error) {
	return []string{SimulatorPort}, nil
}
