package station

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/quadcopter-visualizer/internal/framer"
	"github.com/roman-kulish/quadcopter-visualizer/internal/protocol"
	"github.com/roman-kulish/quadcopter-visualizer/internal/rawlog"
	"github.com/roman-kulish/quadcopter-visualizer/internal/serialport"
	"github.com/roman-kulish/quadcopter-visualizer/internal/series"
	"github.com/roman-kulish/quadcopter-visualizer/internal/window"
)

const (
	// DefaultPollInterval is how often Run drains the transport
	DefaultPollInterval = 20 * time.Millisecond

	// DefaultMinBackoff is the first delay before reconnecting a failed port
	DefaultMinBackoff = 500 * time.Millisecond

	// DefaultMaxBackoff caps the reconnect delay
	DefaultMaxBackoff = 10 * time.Second
)

// ErrNotConnected is returned by operations that need an open port
var ErrNotConnected = errors.New("not connected")

// State is a point-in-time view of the station
type State struct {
	Port       string // Selected port, empty when disconnected by the user
	Connected  bool
	LastError  error
	Reconnects uint64

	Bytes        uint64 // Bytes read from the transport
	Lines        uint64 // Framed lines
	Malformed    uint64 // Lines with undecodable bytes
	Unrecognized uint64 // Lines outside the vocabulary
	Events       uint64 // Ticks and samples applied to the registry
}

// Summary returns a one line human readable form of the state.
func (s State) Summary() string {
	status := "disconnected"
	switch {
	case s.Connected:
		status = "connected to " + s.Port
	case s.Port != "":
		status = "reconnecting to " + s.Port
	}

	return fmt.Sprintf("%s, %s read, %s lines (%s malformed, %s unrecognized), %s reconnects",
		status,
		humanize.Bytes(s.Bytes),
		humanize.Comma(int64(s.Lines)),
		humanize.Comma(int64(s.Malformed)),
		humanize.Comma(int64(s.Unrecognized)),
		humanize.Comma(int64(s.Reconnects)))
}

// WithLogger sets the logger for the station
func WithLogger(logger *slog.Logger) func(*Station) {
	return func(s *Station) {
		s.logger = logger.With(slog.String("component", "station"))
	}
}

// WithPollInterval sets the poll interval of Run
func WithPollInterval(interval time.Duration) func(*Station) {
	return func(s *Station) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// WithBackoff sets the reconnect delay range. The delay doubles after every
// failed attempt, up to limit.
func WithBackoff(first, limit time.Duration) func(*Station) {
	return func(s *Station) {
		if first > 0 && limit >= first {
			s.minBackoff = first
			s.maxBackoff = limit
		}
	}
}

// WithWindow sets the window manager rebased by ResetData
func WithWindow(m *window.Manager) func(*Station) {
	return func(s *Station) {
		s.window = m
	}
}

// WithFeed sets the raw line feed
func WithFeed(feed *rawlog.Feed) func(*Station) {
	return func(s *Station) {
		s.feed = feed
	}
}

// WithClock sets the clock of the station. It also drives the local
// timestamp fallback when enabled.
func WithClock(now func() time.Time) func(*Station) {
	return func(s *Station) {
		s.now = now
	}
}

// WithLocalTimestamps enables the local timestamp fallback for streams
// without ticks.
func WithLocalTimestamps() func(*Station) {
	return func(s *Station) {
		s.localTimestamps = true
	}
}

// WithMaxLineLength sets the partial line limit of the framer
func WithMaxLineLength(n int) func(*Station) {
	return func(s *Station) {
		s.maxLineLength = n
	}
}

// Station is the single writer of the registry. It reads the transport,
// frames and decodes lines, applies the events and records every line in
// the raw feed. Poll never overlaps itself; the display only reads.
type Station struct {
	transport serialport.Transport
	registry  *series.Registry
	window    *window.Manager
	feed      *rawlog.Feed

	pollInterval    time.Duration
	minBackoff      time.Duration
	maxBackoff      time.Duration
	localTimestamps bool
	maxLineLength   int
	now             func() time.Time
	logger          *slog.Logger

	mu          sync.Mutex
	framer      *framer.Framer
	decoder     *protocol.Decoder
	state       State
	backoff     time.Duration
	nextAttempt time.Time
}

// New creates a new station reading from transport into registry
func New(transport serialport.Transport, registry *series.Registry, options ...func(*Station)) (*Station, error) {
	s := Station{
		transport:    transport,
		registry:     registry,
		pollInterval: DefaultPollInterval,
		minBackoff:   DefaultMinBackoff,
		maxBackoff:   DefaultMaxBackoff,
		now:          time.Now,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	if s.feed == nil {
		feed, err := rawlog.NewFeed(rawlog.DefaultCapacity)
		if err != nil {
			return nil, err
		}
		s.feed = feed
	}

	var decoderOptions []func(*protocol.Decoder)
	if s.localTimestamps {
		decoderOptions = append(decoderOptions, protocol.WithLocalClock(s.now))
	}

	decoder, err := protocol.NewDecoder(registry.Instruments(), decoderOptions...)
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	s.decoder = decoder
	s.framer = framer.New(framer.WithMaxLineLength(s.maxLineLength))
	s.backoff = s.minBackoff

	return &s, nil
}

// Feed returns the raw line feed.
func (s *Station) Feed() *rawlog.Feed {
	return s.feed
}

// Connect closes the current port, if any, and opens name. The framer
// starts over; the registry keeps its data and local timestamps keep
// counting.
func (s *Station) Connect(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	closeErr := s.closeLocked()
	s.state.Port = name
	s.backoff = s.minBackoff

	return errors.Join(closeErr, s.openLocked())
}

// Disconnect closes the current port. Run does not reconnect until Connect
// is called again.
func (s *Station) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.closeLocked()
	s.state.Port = ""
	return err
}

func (s *Station) openLocked() error {
	s.framer.Reset()
	s.decoder.Resync()

	if err := s.transport.Open(s.state.Port); err != nil {
		s.failLocked(err)
		return err
	}

	s.state.Connected = true
	s.state.LastError = nil
	s.backoff = s.minBackoff
	s.logger.Info("connected", slog.String("port", s.state.Port))
	return nil
}

func (s *Station) closeLocked() error {
	if !s.state.Connected {
		return nil
	}

	s.state.Connected = false
	s.framer.Reset()

	if err := s.transport.Close(); err != nil {
		s.logger.Warn("error closing port", slog.String("port", s.state.Port), slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("disconnected", slog.String("port", s.state.Port))
	return nil
}

// failLocked records a transport failure and schedules the next reconnect.
func (s *Station) failLocked(err error) {
	s.state.LastError = err
	s.nextAttempt = s.now().Add(s.backoff)
	s.backoff = min(s.backoff*2, s.maxBackoff)

	s.feed.Append(rawlog.RawLine{
		Time: s.now(),
		Text: err.Error(),
		Kind: rawlog.KindTransport,
		Err:  err,
	})
	s.logger.Error(err.Error(), slog.String("port", s.state.Port))
}

// Poll drains the bytes available on the transport once and applies every
// decoded event. A read failure closes the port; Run reconnects it later.
func (s *Station) Poll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Connected {
		return ErrNotConnected
	}

	data, err := s.transport.ReadAvailable()
	s.consumeLocked(data)

	if err != nil {
		s.closeLocked()
		s.failLocked(err)
		return err
	}
	return nil
}

func (s *Station) consumeLocked(data []byte) {
	if len(data) == 0 {
		return
	}
	s.state.Bytes += uint64(len(data))

	for _, line := range s.framer.Write(data) {
		raw := rawlog.RawLine{Time: s.now(), Text: line.Text, Kind: rawlog.KindData}
		if line.Malformed {
			raw.Kind = rawlog.KindMalformed
		}

		for _, ev := range s.decoder.Decode(line.Text) {
			if u, ok := ev.(protocol.Unrecognized); ok {
				if raw.Kind == rawlog.KindData {
					s.state.Unrecognized++
					raw.Kind = rawlog.KindUnrecognized
				}
				raw.Err = u.Err
				continue
			}

			if err := s.registry.Apply(ev); err != nil {
				s.logger.Warn("event dropped", slog.String("line", line.Text), slog.String("error", err.Error()))
				continue
			}
			s.state.Events++
		}

		s.feed.Append(raw)
	}
}

// Run polls the transport at a fixed interval until the context is
// cancelled, reconnecting a failed port with capped exponential backoff.
// The port is closed when Run returns.
func (s *Station) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closeLocked()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			s.step()
		}
	}
}

// step polls a connected port or retries a failed one when its backoff
// expired.
func (s *Station) step() {
	s.mu.Lock()
	retry := !s.state.Connected && s.state.Port != "" && !s.now().Before(s.nextAttempt)
	if retry {
		s.state.Reconnects++
		s.logger.Info("reconnecting", slog.String("port", s.state.Port), slog.Duration("backoff", s.backoff))
		_ = s.openLocked() // failure is recorded and rescheduled
	}
	connected := s.state.Connected
	s.mu.Unlock()

	if connected {
		_ = s.Poll() // failure is recorded in the state
	}
}

// ResetData clears every series, rebases the windows and restarts the
// decoder. It is the only way collected data goes away.
func (s *Station) ResetData() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.ResetAll()
	if s.window != nil {
		s.window.RebaseAll()
	}
	s.decoder.Reset()
	s.logger.Info("data reset")
}

// Ports lists the ports of the transport.
func (s *Station) Ports() ([]string, error) {
	return s.transport.List()
}

// State returns the current state.
func (s *Station) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.state
	state.Lines, state.Malformed = s.framer.Stats()
	return state
}
