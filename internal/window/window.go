package window

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/roman-kulish/quadcopter-visualizer/internal/series"
	"github.com/roman-kulish/quadcopter-visualizer/internal/telemetry"
)

const (
	// DefaultSpan is the visible time range of a plot in milliseconds
	DefaultSpan int64 = 30_000

	// DefaultStep is how far the window pages forward in milliseconds
	DefaultStep int64 = 10_000

	// DefaultRefreshInterval is the refresh cadence of the display
	DefaultRefreshInterval = 100 * time.Millisecond
)

// Bounds is the visible [Lo, Hi] time range of one instrument, in milliseconds
type Bounds struct {
	Lo int64
	Hi int64
}

// Contains reports whether ts is inside the bounds.
func (b Bounds) Contains(ts int64) bool {
	return ts >= b.Lo && ts <= b.Hi
}

// Slice is the render-ready content of an instrument's window. It is a copy
// and may be kept by the display.
type Slice struct {
	Instrument telemetry.Instrument
	Bounds     Bounds
	Timestamps []int64
	Channels   map[string][]int64 // Channel name to values, aligned with Timestamps
}

// Len returns the number of visible samples.
func (s Slice) Len() int {
	return len(s.Timestamps)
}

// WithSpan sets the window span in milliseconds
func WithSpan(span int64) func(*Manager) {
	return func(m *Manager) {
		m.span = span
	}
}

// WithStep sets the paging step in milliseconds
func WithStep(step int64) func(*Manager) {
	return func(m *Manager) {
		m.step = step
	}
}

// WithLogger sets the logger for the manager
func WithLogger(logger *slog.Logger) func(*Manager) {
	return func(m *Manager) {
		m.logger = logger.With(slog.String("component", "window"))
	}
}

// Manager computes the visible window of every instrument and bounds the
// registry buffers. A window starts at [0, span] and pages forward by step
// whenever the latest timestamp passes its upper bound. Samples that fall
// more than one span behind the window are dropped from the registry.
type Manager struct {
	registry *series.Registry
	span     int64
	step     int64
	logger   *slog.Logger

	mu     sync.Mutex
	order  []string
	bounds map[string]*Bounds
}

// New creates a new window manager over the registry
func New(registry *series.Registry, options ...func(*Manager)) (*Manager, error) {
	m := Manager{
		registry: registry,
		span:     DefaultSpan,
		step:     DefaultStep,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		bounds:   make(map[string]*Bounds),
	}

	for _, option := range options {
		option(&m)
	}

	if m.span <= 0 {
		return nil, fmt.Errorf("invalid window span: %d", m.span)
	}
	if m.step <= 0 || m.step > m.span {
		return nil, fmt.Errorf("invalid window step: %d, must be in (0, %d]", m.step, m.span)
	}

	for _, inst := range registry.Instruments() {
		m.order = append(m.order, inst.Name)
		m.bounds[inst.Name] = &Bounds{Lo: 0, Hi: m.span}
	}

	return &m, nil
}

// Span returns the window span in milliseconds.
func (m *Manager) Span() int64 {
	return m.span
}

// Step returns the paging step in milliseconds.
func (m *Manager) Step() int64 {
	return m.step
}

// Refresh advances every window to cover the latest timestamp and drops the
// samples that fell behind. It is called once per refresh cycle.
func (m *Manager) Refresh() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.order {
		b := m.bounds[name]

		latest, ok, err := m.registry.Latest(name)
		if err != nil {
			return fmt.Errorf("refreshing %s: %w", name, err)
		}
		if ok && latest > b.Hi {
			m.advance(b, latest)
			m.logger.Debug("window advanced",
				slog.String("instrument", name),
				slog.Int64("lo", b.Lo),
				slog.Int64("hi", b.Hi))
		}

		dropped, err := m.registry.Retain(name, series.KeepSince(b.Lo-m.span))
		if err != nil {
			return fmt.Errorf("retaining %s: %w", name, err)
		}
		if dropped > 0 {
			m.logger.Debug("samples dropped",
				slog.String("instrument", name),
				slog.Int("count", dropped))
		}
	}

	return nil
}

// advance pages b forward by whole steps until latest is inside.
func (m *Manager) advance(b *Bounds, latest int64) {
	gap := latest - b.Hi
	steps := gap / m.step
	if gap%m.step != 0 {
		steps++
	}

	shift := int64(math.MaxInt64)
	if steps <= math.MaxInt64/m.step {
		shift = steps * m.step
	}
	if b.Hi > math.MaxInt64-shift {
		shift = math.MaxInt64 - b.Hi // saturate at the end of the time axis
	}

	b.Lo += shift
	b.Hi += shift
}

// Bounds returns the current window of an instrument.
func (m *Manager) Bounds(name string) (Bounds, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bounds[name]
	if !ok {
		return Bounds{}, fmt.Errorf("%w: %s", series.ErrUnknownInstrument, name)
	}
	return *b, nil
}

// Rebase moves the window of an instrument back to [0, span]. It is used
// together with a registry reset, when the vehicle restarts its clock.
func (m *Manager) Rebase(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bounds[name]
	if !ok {
		return fmt.Errorf("%w: %s", series.ErrUnknownInstrument, name)
	}
	*b = Bounds{Lo: 0, Hi: m.span}
	return nil
}

// RebaseAll moves every window back to [0, span].
func (m *Manager) RebaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.bounds {
		*b = Bounds{Lo: 0, Hi: m.span}
	}
}

// VisibleSlice returns the aligned samples inside the instrument's window.
func (m *Manager) VisibleSlice(name string) (Slice, error) {
	b, err := m.Bounds(name)
	if err != nil {
		return Slice{}, err
	}

	snap, err := m.registry.Window(name, b.Lo, b.Hi)
	if err != nil {
		return Slice{}, err
	}

	return Slice{
		Instrument: snap.Instrument,
		Bounds:     b,
		Timestamps: snap.Timestamps,
		Channels:   snap.Channels,
	}, nil
}

// VisibleSlices returns the visible slice of every instrument in order.
func (m *Manager) VisibleSlices() ([]Slice, error) {
	slices := make([]Slice, 0, len(m.order))
	for _, name := range m.order {
		s, err := m.VisibleSlice(name)
		if err != nil {
			return nil, err
		}
		slices = append(slices, s)
	}
	return slices, nil
}

// Run refreshes the windows at a fixed interval until the context is
// cancelled, calling onRefresh after every cycle when it is not nil.
func (m *Manager) Run(ctx context.Context, interval time.Duration, onRefresh func()) error {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if err := m.Refresh(); err != nil {
				m.logger.Error(err.Error())
				continue
			}
			if onRefresh != nil {
				onRefresh()
			}
		}
	}
}
