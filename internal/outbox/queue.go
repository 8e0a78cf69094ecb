// Package outbox holds serialized frames that have not reached the router yet.
package outbox

import (
	"errors"

	"code.hybscloud.com/iox"
)

// Sink is a non-blocking byte sink. Write may accept fewer bytes than offered
// and reports iox.ErrWouldBlock when it cannot take more right now.
type Sink interface {
	Writable() bool
	Write(p []byte) (int, error)
}

// Queue is a FIFO of encoded lines. The front line may be partially written;
// the written prefix is never sent again on the same connection.
type Queue struct {
	lines  []string
	offset int
}

// Enqueue appends a line. It never blocks.
func (q *Queue) Enqueue(line string) {
	q.lines = append(q.lines, line)
}

// Len returns the number of queued lines, including a partially written one.
func (q *Queue) Len() int {
	return len(q.lines)
}

// Lines returns a copy of the queued lines in submission order.
func (q *Queue) Lines() []string {
	out := make([]string, len(q.lines))
	copy(out, q.lines)
	return out
}

// Rewind forgets how much of the front line was written, so the whole line
// goes out again. Call it when the sink has been replaced.
func (q *Queue) Rewind() {
	q.offset = 0
}

// Clear drops every queued line.
func (q *Queue) Clear() {
	q.lines = nil
	q.offset = 0
}

// Flush drains lines into s while it is writable. A short or blocked write
// stops the flush with the line still at the front. A hard error is returned
// with the queue intact. The number of fully written lines is returned.
func (q *Queue) Flush(s Sink) (int, error) {
	sent := 0
	for len(q.lines) > 0 && s.Writable() {
		rest := q.lines[0][q.offset:]
		n, err := s.Write([]byte(rest))
		if n > 0 {
			q.offset += n
		}
		if err != nil {
			if errors.Is(err, iox.ErrWouldBlock) {
				return sent, nil
			}
			return sent, err
		}
		if n < len(rest) {
			return sent, nil
		}
		q.pop()
		sent++
	}
	return sent, nil
}

func (q *Queue) pop() {
	q.lines[0] = ""
	q.lines = q.lines[1:]
	q.offset = 0
	if len(q.lines) == 0 {
		q.lines = nil
	}
}
