package series

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/roman-kulish/quadcopter-visualizer/internal/protocol"
	"github.com/roman-kulish/quadcopter-visualizer/internal/telemetry"
)

var (
	// ErrUnknownInstrument is returned for an instrument that is not registered
	ErrUnknownInstrument = errors.New("unknown instrument")

	// ErrUnknownChannel is returned for a channel the instrument does not have
	ErrUnknownChannel = errors.New("unknown channel")
)

var _ telemetry.Provider = (*Registry)(nil)

// instrument holds the series of one instrument. Values of a channel are
// index-aligned with timestamps: values[i] belongs to timestamps[i].
type instrument struct {
	meta       telemetry.Instrument
	timestamps []int64
	channels   map[string][]int64
	dropped    uint64
}

func (i *instrument) alignedLen() int {
	n := len(i.timestamps)
	for _, values := range i.channels {
		n = min(n, len(values))
	}
	return n
}

// Stats holds counters over the registry lifetime
type Stats struct {
	Ticks   uint64 // Ticks applied
	Samples uint64 // Channel samples applied
	Dropped uint64 // Samples dropped by retention or reset, across instruments
}

// Registry owns the time series of every instrument. It is safe for
// concurrent use: Apply, Retain and the readers are serialized by a single
// mutex, so a refresh never observes a half applied event.
type Registry struct {
	mu          sync.Mutex
	order       []string
	instruments map[string]*instrument
	byTick      map[string][]*instrument
	stats       Stats
}

// NewRegistry creates a new registry for the given instruments.
func NewRegistry(instruments []telemetry.Instrument) (*Registry, error) {
	if len(instruments) == 0 {
		return nil, fmt.Errorf("no instruments")
	}

	r := Registry{
		instruments: make(map[string]*instrument, len(instruments)),
		byTick:      make(map[string][]*instrument),
	}

	for _, meta := range instruments {
		if err := meta.Validate(); err != nil {
			return nil, err
		}
		if _, ok := r.instruments[meta.Name]; ok {
			return nil, fmt.Errorf("duplicate instrument %q", meta.Name)
		}

		inst := &instrument{
			meta:     meta,
			channels: make(map[string][]int64, len(meta.Channels)),
		}
		for _, ch := range meta.Channels {
			inst.channels[ch.Name] = nil
		}

		r.order = append(r.order, meta.Name)
		r.instruments[meta.Name] = inst
		r.byTick[meta.Tick()] = append(r.byTick[meta.Tick()], inst)
	}

	return &r, nil
}

// Instruments returns the instrument definitions in registration order.
func (r *Registry) Instruments() []telemetry.Instrument {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]telemetry.Instrument, len(r.order))
	for i, name := range r.order {
		out[i] = r.instruments[name].meta
	}
	return out
}

// Apply mutates the series according to a decoded event. A tick appends its
// timestamp to every instrument listening to the tick tag, a sample appends
// to the addressed channel. Unrecognized events are ignored.
func (r *Registry) Apply(ev protocol.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := ev.(type) {
	case protocol.Tick:
		for _, inst := range r.byTick[e.Tag] {
			inst.timestamps = append(inst.timestamps, e.Timestamp)
		}
		r.stats.Ticks++

	case protocol.ChannelSample:
		inst, ok := r.instruments[e.Instrument]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownInstrument, e.Instrument)
		}
		values, ok := inst.channels[e.Channel]
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownChannel, e.Instrument, e.Channel)
		}
		inst.channels[e.Channel] = append(values, e.Value)
		r.stats.Samples++
	}

	return nil
}

// Snapshot is a copy of the aligned prefix of an instrument's series
type Snapshot struct {
	Instrument telemetry.Instrument
	Timestamps []int64
	Channels   map[string][]int64
}

// Len returns the number of aligned samples.
func (s Snapshot) Len() int {
	return len(s.Timestamps)
}

// Snapshot returns the samples every channel and the timestamp series have
// in common. A channel lagging behind, or one that stopped arriving, only
// shortens the snapshot.
func (r *Registry) Snapshot(name string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instruments[name]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, name)
	}

	n := inst.alignedLen()
	snap := Snapshot{
		Instrument: inst.meta,
		Timestamps: slices.Clone(inst.timestamps[:n]),
		Channels:   make(map[string][]int64, len(inst.channels)),
	}
	for ch, values := range inst.channels {
		snap.Channels[ch] = slices.Clone(values[:n])
	}
	return snap, nil
}

// Window returns the aligned samples with lo <= timestamp <= hi. It is a
// filtered Snapshot that avoids copying samples outside the range.
func (r *Registry) Window(name string, lo, hi int64) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instruments[name]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, name)
	}

	n := inst.alignedLen()
	var idx []int
	for i, ts := range inst.timestamps[:n] {
		if ts >= lo && ts <= hi {
			idx = append(idx, i)
		}
	}

	snap := Snapshot{
		Instrument: inst.meta,
		Timestamps: make([]int64, len(idx)),
		Channels:   make(map[string][]int64, len(inst.channels)),
	}
	for j, i := range idx {
		snap.Timestamps[j] = inst.timestamps[i]
	}
	for ch, values := range inst.channels {
		out := make([]int64, len(idx))
		for j, i := range idx {
			out[j] = values[i]
		}
		snap.Channels[ch] = out
	}
	return snap, nil
}

// Bound decides how many of the oldest samples to drop given the timestamp
// series of an instrument.
type Bound func(timestamps []int64) int

// KeepSince drops the leading samples older than cutoff. Timestamps are not
// reordered, so an out of order sample stops the trim.
func KeepSince(cutoff int64) Bound {
	return func(timestamps []int64) int {
		n := 0
		for n < len(timestamps) && timestamps[n] < cutoff {
			n++
		}
		return n
	}
}

// KeepLast keeps at most the n most recent samples.
func KeepLast(n int) Bound {
	return func(timestamps []int64) int {
		return max(len(timestamps)-max(n, 0), 0)
	}
}

// Retain drops the oldest samples of an instrument according to bound and
// returns how many timestamps were dropped. Channels are trimmed by the same
// count so they stay index-aligned with the timestamps. Retain is
// idempotent for a given bound.
func (r *Registry) Retain(name string, bound Bound) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instruments[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownInstrument, name)
	}

	n := bound(inst.timestamps)
	if n <= 0 {
		return 0, nil
	}
	n = min(n, len(inst.timestamps))

	inst.timestamps = trimFront(inst.timestamps, n)
	for ch, values := range inst.channels {
		inst.channels[ch] = trimFront(values, n)
	}
	inst.dropped += uint64(n)
	r.stats.Dropped += uint64(n)

	return n, nil
}

// Reset clears every series of an instrument. Disconnects never reset data
// on their own; this is the explicit hook for a fresh session.
func (r *Registry) Reset(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instruments[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, name)
	}
	r.reset(inst)
	return nil
}

// ResetAll clears the series of every instrument.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, inst := range r.instruments {
		r.reset(inst)
	}
}

func (r *Registry) reset(inst *instrument) {
	r.stats.Dropped += uint64(len(inst.timestamps))
	inst.dropped += uint64(len(inst.timestamps))
	inst.timestamps = nil
	for ch := range inst.channels {
		inst.channels[ch] = nil
	}
}

// Latest returns the most recent timestamp of an instrument, committed or
// not. ok is false when no tick was applied yet.
func (r *Registry) Latest(name string) (ts int64, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, found := r.instruments[name]
	if !found {
		return 0, false, fmt.Errorf("%w: %s", ErrUnknownInstrument, name)
	}
	if len(inst.timestamps) == 0 {
		return 0, false, nil
	}
	return inst.timestamps[len(inst.timestamps)-1], true, nil
}

// Lengths reports the raw length of the timestamp series and of every
// channel. A channel far behind the timestamps has stalled.
func (r *Registry) Lengths(name string) (timestamps int, channels map[string]int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instruments[name]
	if !ok {
		return 0, nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, name)
	}

	channels = make(map[string]int, len(inst.channels))
	for ch, values := range inst.channels {
		channels[ch] = len(values)
	}
	return len(inst.timestamps), channels, nil
}

// Stats returns the registry counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Telemetry returns the last aligned sample of every instrument. It
// implements telemetry.Provider.
func (r *Registry) Telemetry() *telemetry.Telemetry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var t telemetry.Telemetry
	for _, name := range r.order {
		inst := r.instruments[name]
		n := inst.alignedLen()
		if n == 0 {
			continue
		}

		reading := telemetry.Reading{
			Instrument: name,
			Units:      inst.meta.Units,
			Timestamp:  inst.timestamps[n-1],
			Values:     make(map[string]int64, len(inst.channels)),
		}
		for ch, values := range inst.channels {
			reading.Values[ch] = values[n-1]
		}
		t.Readings = append(t.Readings, reading)
	}
	return &t
}

// trimFront drops the first n elements. The remainder is copied to a new
// backing array once it is small relative to its capacity, so the memory of
// dropped samples is released over a long session.
func trimFront(s []int64, n int) []int64 {
	if n >= len(s) {
		return s[:0:0]
	}
	s = s[n:]
	if cap(s) > 2*len(s)+64 {
		return slices.Clone(s)
	}
	return s
}
