package protocol

import (
	"strings"
)

// MaxLineLength bounds the unterminated tail kept between reads. A peer that
// streams more than this without a line terminator has the whole line
// discarded, up to and including its eventual terminator.
const MaxLineLength = 16 * 1024

// Decode splits tail+data into complete lines and decodes each of them.
// Whatever follows the last terminator is returned as the new tail. Empty and
// malformed lines are dropped; Decode never fails. Callers reading a stream
// should use a Decoder, which also skips the rest of an over-long line.
func Decode(tail string, data []byte) ([]Frame, string) {
	frames, rest, _, _ := decode(tail, data, false)
	return frames, rest
}

// decode parses tail+data. While skipping, everything up to and including the
// next terminator belongs to a line that was already discarded.
func decode(tail string, data []byte, skipping bool) (frames []Frame, rest string, dropped, skip bool) {
	buf := tail + string(data)

	if skipping {
		i := strings.IndexByte(buf, '\n')
		if i < 0 {
			return nil, "", false, true
		}
		buf = buf[i+1:]
	}

	for {
		i := strings.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		if f, ok := parseLine(buf[:i]); ok {
			frames = append(frames, f)
		}
		buf = buf[i+1:]
	}

	if len(buf) > MaxLineLength {
		return frames, "", true, true
	}
	return frames, buf, false, false
}

// Decoder keeps the partial-line remainder between reads.
type Decoder struct {
	tail      string
	skipping  bool
	discarded int
}

// Write feeds newly read bytes and returns the frames they complete.
func (d *Decoder) Write(data []byte) []Frame {
	frames, tail, dropped, skipping := decode(d.tail, data, d.skipping)
	if dropped {
		d.discarded++
	}
	d.tail = tail
	d.skipping = skipping
	return frames
}

// Pending returns the buffered partial line.
func (d *Decoder) Pending() string {
	return d.tail
}

// Skipping reports whether the decoder is discarding the rest of an
// over-long line.
func (d *Decoder) Skipping() bool {
	return d.skipping
}

// Discarded reports how many over-long lines have been thrown away.
func (d *Decoder) Discarded() int {
	return d.discarded
}

// Reset drops any buffered partial line.
func (d *Decoder) Reset() {
	d.tail = ""
	d.skipping = false
}
