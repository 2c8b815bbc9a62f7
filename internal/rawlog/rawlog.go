package rawlog

import (
	"fmt"
	"iter"
	"sync"
	"time"
)

// DefaultCapacity is the number of lines kept by a feed
const DefaultCapacity = 1000

// Kind classifies a raw line
type Kind uint8

const (
	KindData         Kind = iota // Line decoded into telemetry
	KindUnrecognized             // Line outside the vocabulary or with a bad payload
	KindMalformed                // Line with undecodable bytes or overflow
	KindTransport                // Transport failure, not received from the wire
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindUnrecognized:
		return "unrecognized"
	case KindMalformed:
		return "malformed"
	case KindTransport:
		return "transport"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// IsError reports whether lines of this kind belong to the errors pane.
func (k Kind) IsError() bool {
	return k != KindData
}

// RawLine is one entry of the feed
type RawLine struct {
	Seq  uint64 // Assigned by the feed, starting at 1
	Time time.Time
	Text string
	Kind Kind
	Err  error
}

// Feed is an append-only bounded ring of raw lines. Sequence numbers grow
// monotonically; once the ring is full the oldest lines are overwritten.
// Feed is safe for concurrent use.
type Feed struct {
	mu      sync.Mutex
	lines   []RawLine
	start   int // Index of the oldest line
	size    int
	nextSeq uint64
	dropped uint64
}

// NewFeed creates a new feed holding up to capacity lines.
func NewFeed(capacity int) (*Feed, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid feed capacity: %d", capacity)
	}
	return &Feed{
		lines:   make([]RawLine, capacity),
		nextSeq: 1,
	}, nil
}

// Append adds a line and returns its sequence number. Seq of the argument
// is ignored.
func (f *Feed) Append(line RawLine) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	line.Seq = f.nextSeq
	f.nextSeq++

	if f.size < len(f.lines) {
		f.lines[(f.start+f.size)%len(f.lines)] = line
		f.size++
		return line.Seq
	}

	f.lines[f.start] = line
	f.start = (f.start + 1) % len(f.lines)
	f.dropped++
	return line.Seq
}

// Since returns the lines with a sequence number greater than seq, oldest
// first. The iterator is lazy: lines appended while iterating are yielded
// too, and lines overwritten before they are reached are skipped.
func (f *Feed) Since(seq uint64) iter.Seq[RawLine] {
	return func(yield func(RawLine) bool) {
		next := seq + 1
		for {
			line, ok := f.at(next)
			if !ok {
				return
			}
			if !yield(line) {
				return
			}
			next = line.Seq + 1
		}
	}
}

// at returns the line with the given sequence number, or the oldest kept
// line after it when it was already overwritten.
func (f *Feed) at(seq uint64) (RawLine, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.size == 0 || seq >= f.nextSeq {
		return RawLine{}, false
	}

	oldest := f.nextSeq - uint64(f.size)
	seq = max(seq, oldest)
	return f.lines[(f.start+int(seq-oldest))%len(f.lines)], true
}

// LastSeq returns the sequence number of the most recent line, 0 when the
// feed is empty.
func (f *Feed) LastSeq() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextSeq - 1
}

// Len returns the number of lines kept.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

// Dropped returns how many lines were overwritten.
func (f *Feed) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Clear removes every line. Sequence numbers keep growing.
func (f *Feed) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	clear(f.lines)
	f.start = 0
	f.size = 0
}
