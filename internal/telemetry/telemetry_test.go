package telemetry

import "testing"

func TestDefaultInstruments_Valid(t *testing.T) {
	for _, inst := range DefaultInstruments() {
		if err := inst.Validate(); err != nil {
			t.Errorf("instrument %s: %v", inst.Name, err)
		}
	}
}

func TestTags_Order(t *testing.T) {
	tags, err := Tags(DefaultInstruments())
	if err != nil {
		t.Fatalf("Failed to build tags: %v", err)
	}

	expected := []string{
		"TIME",
		"ACCELX", "ACCELY", "ACCELZ",
		"GYROROLL", "GYROPITCH", "GYROYAW",
		"KBANK", "KATTITUDE", "KHEADING",
	}
	if len(tags) != len(expected) {
		t.Fatalf("Expected %d tags, got %d", len(expected), len(tags))
	}
	for i, tag := range expected {
		if tags[i].Tag != tag {
			t.Errorf("Tag %d: expected %s, got %s", i, tag, tags[i].Tag)
		}
	}
	if !tags[0].IsTick() {
		t.Error("TIME should be a tick")
	}
	if tags[1].Instrument != "Acceleration" || tags[1].Channel != "X" {
		t.Errorf("Unexpected target for ACCELX: %+v", tags[1])
	}
}

func TestTags_Duplicates(t *testing.T) {
	testCases := []struct {
		name        string
		instruments []Instrument
	}{
		{
			name: "channel tag reused",
			instruments: []Instrument{
				{Name: "A", Min: -1, Max: 1, Channels: []Channel{{Name: "X", Tag: "AX"}}},
				{Name: "B", Min: -1, Max: 1, Channels: []Channel{{Name: "X", Tag: "AX"}}},
			},
		},
		{
			name: "channel uses tick tag",
			instruments: []Instrument{
				{Name: "A", Min: -1, Max: 1, Channels: []Channel{{Name: "X", Tag: "TIME"}}},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Tags(tc.instruments); err == nil {
				t.Error("Expected error for duplicate tag")
			}
		})
	}
}

func TestInstrument_Validate(t *testing.T) {
	testCases := []struct {
		name string
		inst Instrument
	}{
		{"empty name", Instrument{Min: -1, Max: 1, Channels: []Channel{{Name: "X", Tag: "X"}}}},
		{"inverted range", Instrument{Name: "A", Min: 1, Max: -1, Channels: []Channel{{Name: "X", Tag: "X"}}}},
		{"no channels", Instrument{Name: "A", Min: -1, Max: 1}},
		{"duplicate channel", Instrument{Name: "A", Min: -1, Max: 1, Channels: []Channel{{Name: "X", Tag: "X1"}, {Name: "X", Tag: "X2"}}}},
		{"missing tag", Instrument{Name: "A", Min: -1, Max: 1, Channels: []Channel{{Name: "X"}}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.inst.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
