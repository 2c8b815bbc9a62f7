package framer

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"
)

func collect(f *Framer, chunks ...[]byte) []Line {
	var lines []Line
	for _, chunk := range chunks {
		lines = append(lines, f.Write(chunk)...)
	}
	return lines
}

func equalLines(a, b []Line) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFramer_Strip(t *testing.T) {
	f := New()
	lines := f.Write([]byte("DATA:TI\x00ME:5\r\nDATA:ACCELX:1\n\r\n"))

	expected := []Line{
		{Text: "DATA:TIME:5"},
		{Text: "DATA:ACCELX:1"},
		{Text: ""},
	}
	if !equalLines(lines, expected) {
		t.Errorf("Expected %+v, got %+v", expected, lines)
	}
	if f.Pending() != 0 {
		t.Errorf("Expected no pending bytes, got %d", f.Pending())
	}
}

func TestFramer_PartialLines(t *testing.T) {
	f := New()

	if lines := f.Write([]byte("DATA:ACC")); len(lines) != 0 {
		t.Fatalf("Expected no lines from a partial chunk, got %+v", lines)
	}
	if f.Pending() != len("DATA:ACC") {
		t.Errorf("Expected %d pending bytes, got %d", len("DATA:ACC"), f.Pending())
	}

	lines := f.Write([]byte("ELX:-12\nDATA:"))
	if len(lines) != 1 || lines[0].Text != "DATA:ACCELX:-12" {
		t.Errorf("Expected reassembled line, got %+v", lines)
	}
}

func TestFramer_ChunkBoundaryIndependence(t *testing.T) {
	stream := []byte("DATA:TIME:0\r\nDATA:ACCELX:10\nDATA:ACCELY:2\x000\n\xffDATA:ACCELZ:30\n" +
		"héllo wörld\nDATA:GYRO\xc3\nDATA:KBANK:-4\npartial")

	whole := collect(New(), stream)

	rnd := rand.New(rand.NewSource(1))
	for run := 0; run < 200; run++ {
		var chunks [][]byte
		rest := stream
		for len(rest) > 0 {
			n := 1 + rnd.Intn(min(len(rest), 7))
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}

		got := collect(New(), chunks...)
		if !equalLines(whole, got) {
			t.Fatalf("Run %d: chunked result %+v differs from single chunk %+v", run, got, whole)
		}
	}

	// byte by byte
	var single [][]byte
	for i := range stream {
		single = append(single, stream[i:i+1])
	}
	if got := collect(New(), single...); !equalLines(whole, got) {
		t.Errorf("Byte-wise result %+v differs from single chunk %+v", got, whole)
	}
}

func TestFramer_GarbageBeforeValidLine(t *testing.T) {
	f := New()
	lines := f.Write([]byte{0xff, 'D', 'A', 'T', 'A', ':', 'T', 'I', 'M', 'E', ':', '1', '\n'})

	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %+v", lines)
	}
	if !lines[0].Malformed || lines[0].Text != ReplacementMarker {
		t.Errorf("Expected malformed marker line, got %+v", lines[0])
	}
	if lines[1].Malformed || lines[1].Text != "DATA:TIME:1" {
		t.Errorf("Expected valid line, got %+v", lines[1])
	}

	total, malformed := f.Stats()
	if total != 2 || malformed != 1 {
		t.Errorf("Expected stats 2/1, got %d/%d", total, malformed)
	}
}

func TestFramer_InvalidOnly(t *testing.T) {
	f := New()
	lines := f.Write([]byte("ab\xfe\xffcd\xc3\n"))

	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %+v", lines)
	}
	if !lines[0].Malformed {
		t.Error("Expected malformed line")
	}
	if !strings.Contains(lines[0].Text, ReplacementMarker) {
		t.Errorf("Expected replacement marker in %q", lines[0].Text)
	}
}

func TestFramer_Reset(t *testing.T) {
	f := New()
	f.Write([]byte("DATA:ACCELX:1"))
	f.Reset()

	lines := f.Write([]byte("2\nDATA:ACCELY:3\n"))
	if len(lines) != 2 || lines[0].Text != "2" || lines[1].Text != "DATA:ACCELY:3" {
		t.Errorf("Expected partial line to be discarded, got %+v", lines)
	}
}

func TestFramer_Overflow(t *testing.T) {
	f := New(WithMaxLineLength(8))
	lines := f.Write(bytes.Repeat([]byte("a"), 20))

	if len(lines) != 2 {
		t.Fatalf("Expected 2 overflow lines, got %d", len(lines))
	}
	for i, line := range lines {
		if !line.Malformed || len(line.Text) != 8 {
			t.Errorf("Line %d: expected malformed 8 byte line, got %+v", i, line)
		}
	}
	if f.Pending() != 4 {
		t.Errorf("Expected 4 pending bytes, got %d", f.Pending())
	}
}
