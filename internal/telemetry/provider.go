package telemetry

// Provider gives access to the most recent committed telemetry.
type Provider interface {
	Telemetry() *Telemetry
}

// Reading is the latest aligned sample of one instrument
type Reading struct {
	Instrument string           `json:"instrument"`       // Instrument name
	Units      string           `json:"units"`            // Unit label
	Timestamp  int64            `json:"timestamp"`        // Vehicle time in milliseconds
	Values     map[string]int64 `json:"values,omitempty"` // Channel name to value
}

// Telemetry is the latest telemetry of every instrument, in instrument
// order. Instruments without a complete sample yet are omitted.
type Telemetry struct {
	Readings []Reading `json:"readings"`
}

// Reading returns the reading of the named instrument.
func (t *Telemetry) Reading(instrument string) (Reading, bool) {
	if t == nil {
		return Reading{}, false
	}
	for _, r := range t.Readings {
		if r.Instrument == instrument {
			return r, true
		}
	}
	return Reading{}, false
}
