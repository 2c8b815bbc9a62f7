package protocol

import (
	"errors"
	"fmt"
)

// ErrEmptyPayload is returned when a known tag carries no value
var ErrEmptyPayload = errors.New("empty payload")

// TickSource tells where a tick timestamp came from
type TickSource uint8

const (
	TickRemote TickSource = iota // Timestamp sent by the vehicle
	TickLocal                    // Timestamp derived from local elapsed time
)

func (s TickSource) String() string {
	switch s {
	case TickRemote:
		return "remote"
	case TickLocal:
		return "local"
	default:
		return fmt.Sprintf("TickSource(%d)", uint8(s))
	}
}

// Event is a decoded telemetry line: Tick, ChannelSample or Unrecognized.
type Event interface {
	event()
}

// Tick closes the current sample of every instrument listening to Tag and
// opens a new one at Timestamp.
type Tick struct {
	Tag       string     // Tick tag, e.g. "TIME"
	Timestamp int64      // Milliseconds
	Source    TickSource // Remote or local fallback
}

// ChannelSample is a single value of a channel
type ChannelSample struct {
	Instrument string
	Channel    string
	Value      int64
}

// Unrecognized is a line that does not belong to the plotted vocabulary.
// It is only shown in the raw log.
type Unrecognized struct {
	Line string
	Err  error // Parse failure of a matched tag, nil for unknown lines
}

func (Tick) event()          {}
func (ChannelSample) event() {}
func (Unrecognized) event()  {}

// ParseError describes a matched tag with an invalid payload
type ParseError struct {
	Tag     string
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s payload %q: %s", e.Tag, e.Payload, e.Err.Error())
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
