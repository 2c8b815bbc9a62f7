package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roman-kulish/quadcopter-visualizer/internal/telemetry"
)

// WithLocalClock enables the local timestamp fallback. Until the first
// remote tick arrives, the decoder emits a local tick, in milliseconds since
// the first sample, before the first sample of every cycle. A cycle ends
// when a channel repeats.
func WithLocalClock(now func() time.Time) func(*Decoder) {
	return func(d *Decoder) {
		d.now = now
	}
}

// Decoder matches framed lines against the tag table. The table is scanned
// in order and the first tag whose "TAG:" prefix matches wins, so one line
// never produces samples for two tags. Decoder is not safe for concurrent
// use.
type Decoder struct {
	targets []telemetry.Target
	tickTag string // tick used by the local fallback

	now        func() time.Time
	remoteSeen bool
	started    bool
	start      time.Time
	cycle      map[string]struct{}
}

// NewDecoder creates a decoder for the given instruments
func NewDecoder(instruments []telemetry.Instrument, options ...func(*Decoder)) (*Decoder, error) {
	targets, err := telemetry.Tags(instruments)
	if err != nil {
		return nil, fmt.Errorf("building tag table: %w", err)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("empty tag table")
	}

	d := Decoder{
		targets: targets,
		tickTag: targets[0].Tag,
		cycle:   make(map[string]struct{}),
	}

	for _, option := range options {
		option(&d)
	}

	return &d, nil
}

// Decode decodes a single line. It never fails: lines outside the
// vocabulary and tags with an invalid payload become Unrecognized.
func (d *Decoder) Decode(line string) []Event {
	rest, ok := strings.CutPrefix(line, telemetry.TagPrefix)
	if !ok {
		return []Event{Unrecognized{Line: line}}
	}

	for _, target := range d.targets {
		payload, ok := strings.CutPrefix(rest, target.Tag+":")
		if !ok {
			continue
		}

		value, err := parsePayload(payload)
		if err != nil {
			return []Event{Unrecognized{
				Line: line,
				Err:  &ParseError{Tag: target.Tag, Payload: payload, Err: err},
			}}
		}

		if target.IsTick() {
			d.remoteSeen = true
			return []Event{Tick{Tag: target.Tag, Timestamp: value, Source: TickRemote}}
		}

		sample := ChannelSample{Instrument: target.Instrument, Channel: target.Channel, Value: value}
		if tick, ok := d.localTick(target.Tag); ok {
			return []Event{tick, sample}
		}
		return []Event{sample}
	}

	return []Event{Unrecognized{Line: line}}
}

// Reset forgets the fallback clock state. The next stream may or may not
// carry remote ticks.
func (d *Decoder) Reset() {
	d.remoteSeen = false
	d.started = false
	clear(d.cycle)
}

// Resync prepares the decoder for a reopened stream. Remote ticks are
// detected again, while the fallback clock keeps counting from its first
// sample, so local timestamps never go backwards across a reconnect.
func (d *Decoder) Resync() {
	d.remoteSeen = false
	clear(d.cycle)
}

func (d *Decoder) localTick(tag string) (Tick, bool) {
	if d.now == nil || d.remoteSeen {
		return Tick{}, false
	}

	now := d.now()
	if !d.started {
		d.started = true
		d.start = now
		clear(d.cycle)
		d.cycle[tag] = struct{}{}
		return Tick{Tag: d.tickTag, Timestamp: 0, Source: TickLocal}, true
	}

	// an empty cycle follows a resync and opens a new sample
	if _, ok := d.cycle[tag]; !ok && len(d.cycle) > 0 {
		d.cycle[tag] = struct{}{}
		return Tick{}, false
	}

	clear(d.cycle)
	d.cycle[tag] = struct{}{}
	return Tick{Tag: d.tickTag, Timestamp: now.Sub(d.start).Milliseconds(), Source: TickLocal}, true
}

func parsePayload(payload string) (int64, error) {
	if payload == "" {
		return 0, ErrEmptyPayload
	}
	return strconv.ParseInt(payload, 10, 64)
}

// Encode returns the wire form of a tagged value, including the terminator.
func Encode(tag string, value int64) string {
	return telemetry.TagPrefix + tag + ":" + strconv.FormatInt(value, 10) + "\n"
}
