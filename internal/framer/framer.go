package framer

import (
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

const (
	// MaxLineLength is the default limit of a partial line. Longer runs
	// without a terminator are flushed as malformed lines.
	MaxLineLength = 4096

	// ReplacementMarker is substituted for every byte sequence that is not
	// valid UTF-8.
	ReplacementMarker = "�"
)

// Line is a single framed line of text without its terminator
type Line struct {
	Text      string // Line content, NUL and CR bytes removed
	Malformed bool   // Line contained undecodable bytes or overflowed
}

// WithMaxLineLength sets the partial line limit
func WithMaxLineLength(n int) func(*Framer) {
	return func(f *Framer) {
		if n > 0 {
			f.maxLine = n
		}
	}
}

// Framer splits a byte stream into newline terminated lines. Input may be
// delivered in chunks of any size; a line may span several chunks. Framer
// is not safe for concurrent use, it belongs to the single writer.
type Framer struct {
	buf     []byte
	maxLine int
	decoder *encoding.Decoder

	lines     uint64
	malformed uint64
}

// New creates a new Framer
func New(options ...func(*Framer)) *Framer {
	f := Framer{
		maxLine: MaxLineLength,
		decoder: unicode.UTF8.NewDecoder(),
	}

	for _, option := range options {
		option(&f)
	}

	f.buf = make([]byte, 0, min(f.maxLine, 256))
	return &f
}

// Write consumes a chunk of bytes and returns the lines it completed.
func (f *Framer) Write(p []byte) []Line {
	var lines []Line

	for _, b := range p {
		switch b {
		case '\n':
			lines = f.appendLine(lines, f.buf)
			f.buf = f.buf[:0]

		case 0, '\r':
			// stripped wherever they appear

		default:
			f.buf = append(f.buf, b)
			if len(f.buf) >= f.maxLine {
				lines = append(lines, Line{Text: f.decode(f.buf), Malformed: true})
				f.malformed++
				f.lines++
				f.buf = f.buf[:0]
			}
		}
	}

	return lines
}

// Reset discards the partial line. It is called whenever the transport is
// closed or reopened, so that no line spans a reconnect.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}

// Pending returns the number of buffered bytes of the partial line.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Stats returns the number of framed lines and how many of them were malformed.
func (f *Framer) Stats() (lines, malformed uint64) {
	return f.lines, f.malformed
}

// appendLine appends the framed line to lines. A line holding undecodable
// bytes is split after its last invalid sequence: the head becomes a
// malformed marker line, the tail is kept as a regular line, so garbage
// preceding a valid line does not swallow it.
func (f *Framer) appendLine(lines []Line, raw []byte) []Line {
	if utf8.Valid(raw) {
		f.lines++
		return append(lines, Line{Text: string(raw)})
	}

	cut := lastInvalidEnd(raw)
	lines = append(lines, Line{Text: f.decode(raw[:cut]), Malformed: true})
	f.malformed++
	f.lines++

	if cut < len(raw) {
		lines = append(lines, Line{Text: string(raw[cut:])})
		f.lines++
	}
	return lines
}

func (f *Framer) decode(raw []byte) string {
	out, err := f.decoder.Bytes(raw)
	if err != nil {
		// the UTF-8 decoder replaces instead of failing, keep the line visible anyway
		return string(raw) + ReplacementMarker
	}
	return string(out)
}

// lastInvalidEnd returns the offset just past the last invalid UTF-8
// sequence in p, 0 when p is valid.
func lastInvalidEnd(p []byte) int {
	end := 0
	for i := 0; i < len(p); {
		r, size := utf8.DecodeRune(p[i:])
		i += size
		if r == utf8.RuneError && size <= 1 {
			end = i
		}
	}
	return end
}
