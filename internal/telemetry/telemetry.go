package telemetry

import (
	"errors"
	"fmt"
)

const (
	// TagPrefix is the common prefix of every telemetry line sent by the vehicle.
	TagPrefix = "DATA:"

	// TimeTag is the tag of the shared tick that commits a sample.
	TimeTag = "TIME"
)

// Channel describes a single scalar measurement stream of an instrument
type Channel struct {
	Name string `yaml:"name" json:"name"` // Legend name, e.g. "X"
	Tag  string `yaml:"tag" json:"tag"`   // Wire tag without prefix, e.g. "ACCELX"
}

// Instrument is a named group of channels sharing one timestamp series and
// one display range. Instruments are built once at startup and never change.
type Instrument struct {
	Name     string    `yaml:"name" json:"name"`         // Display name, e.g. "Acceleration"
	Units    string    `yaml:"units" json:"units"`       // Unit label, e.g. "mg0"
	Min      int64     `yaml:"min" json:"min"`           // Lower bound of the display range
	Max      int64     `yaml:"max" json:"max"`           // Upper bound of the display range
	TickTag  string    `yaml:"tickTag" json:"tickTag"`   // Tag of the tick committing this instrument, "TIME" when empty
	Channels []Channel `yaml:"channels" json:"channels"` // Channels in legend order
}

// Tick returns the tick tag of the instrument.
func (i Instrument) Tick() string {
	if i.TickTag == "" {
		return TimeTag
	}
	return i.TickTag
}

// ChannelNames returns channel names in legend order.
func (i Instrument) ChannelNames() []string {
	names := make([]string, len(i.Channels))
	for n, ch := range i.Channels {
		names[n] = ch.Name
	}
	return names
}

// Validate checks that the instrument is usable by the registry and decoder.
func (i Instrument) Validate() error {
	if i.Name == "" {
		return errors.New("instrument name is empty")
	}
	if i.Min >= i.Max {
		return fmt.Errorf("instrument %q: display range min %d must be below max %d", i.Name, i.Min, i.Max)
	}
	if len(i.Channels) == 0 {
		return fmt.Errorf("instrument %q: no channels", i.Name)
	}

	names := make(map[string]struct{}, len(i.Channels))
	for _, ch := range i.Channels {
		if ch.Name == "" || ch.Tag == "" {
			return fmt.Errorf("instrument %q: channel name and tag are required", i.Name)
		}
		if _, ok := names[ch.Name]; ok {
			return fmt.Errorf("instrument %q: duplicate channel %q", i.Name, ch.Name)
		}
		names[ch.Name] = struct{}{}
	}
	return nil
}

// DefaultInstruments returns the instrument set transmitted by the flight
// controller firmware.
func DefaultInstruments() []Instrument {
	return []Instrument{
		{
			Name:  "Acceleration",
			Units: "mg0",
			Min:   -2000,
			Max:   2000,
			Channels: []Channel{
				{Name: "X", Tag: "ACCELX"},
				{Name: "Y", Tag: "ACCELY"},
				{Name: "Z", Tag: "ACCELZ"},
			},
		},
		{
			Name:  "Rotation Rate",
			Units: "dps",
			Min:   -500,
			Max:   500,
			Channels: []Channel{
				{Name: "Roll", Tag: "GYROROLL"},
				{Name: "Pitch", Tag: "GYROPITCH"},
				{Name: "Yaw", Tag: "GYROYAW"},
			},
		},
		{
			Name:  "Orientation",
			Units: "degrees",
			Min:   -180,
			Max:   180,
			Channels: []Channel{
				{Name: "Bank", Tag: "KBANK"},
				{Name: "Attitude", Tag: "KATTITUDE"},
				{Name: "Heading", Tag: "KHEADING"},
			},
		},
	}
}

// Target addresses a channel of an instrument. An empty Channel addresses
// the tick of every instrument listening to the tag.
type Target struct {
	Tag        string
	Instrument string
	Channel    string
}

// IsTick reports whether the target is a tick tag.
func (t Target) IsTick() bool {
	return t.Channel == ""
}

// Tags builds the tag table for the given instruments. Ticks come first, in
// order of first use, followed by channel tags in instrument and legend
// order. A tag may appear only once across the table.
func Tags(instruments []Instrument) ([]Target, error) {
	var ticks, channels []Target
	seen := make(map[string]string)

	for _, inst := range instruments {
		tick := inst.Tick()
		if owner, ok := seen[tick]; ok && owner != "" {
			return nil, fmt.Errorf("tag %q is used both as tick and by channel %s", tick, owner)
		} else if !ok {
			seen[tick] = ""
			ticks = append(ticks, Target{Tag: tick})
		}

		for _, ch := range inst.Channels {
			if owner, ok := seen[ch.Tag]; ok {
				if owner == "" {
					owner = "tick"
				}
				return nil, fmt.Errorf("tag %q of %s.%s is already used by %s", ch.Tag, inst.Name, ch.Name, owner)
			}
			seen[ch.Tag] = inst.Name + "." + ch.Name
			channels = append(channels, Target{Tag: ch.Tag, Instrument: inst.Name, Channel: ch.Name})
		}
	}

	return append(ticks, channels...), nil
}
