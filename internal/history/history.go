// Package history keeps the most recent messages of each subscribed channel.
package history

import (
	"strings"
	"time"
)

// Line is one remembered channel message.
type Line struct {
	Channel string
	Source  string
	Text    string
	Time    int64
}

// Log is a bounded per-channel ring of lines. Channel names are matched
// case-insensitively.
type Log struct {
	limit    int
	channels map[string][]Line
}

// New returns a Log keeping at most limit lines per channel.
func New(limit int) *Log {
	if limit <= 0 {
		limit = 1
	}
	return &Log{limit: limit, channels: make(map[string][]Line)}
}

// Add appends a line, dropping the oldest one once the channel is full.
func (l *Log) Add(channel, source, text string, now time.Time) {
	l.append(Line{Channel: channel, Source: source, Text: text, Time: now.Unix()})
}

func (l *Log) append(line Line) {
	k := strings.ToLower(line.Channel)
	lines := append(l.channels[k], line)
	if over := len(lines) - l.limit; over > 0 {
		lines = append(lines[:0:0], lines[over:]...)
	}
	l.channels[k] = lines
}

// Lines returns the remembered lines of channel, oldest first.
func (l *Log) Lines(channel string) []Line {
	lines := l.channels[strings.ToLower(channel)]
	out := make([]Line, len(lines))
	copy(out, lines)
	return out
}

// Channels returns the number of channels with at least one line.
func (l *Log) Channels() int {
	return len(l.channels)
}

// All returns every line, grouped by channel in no particular order.
func (l *Log) All() []Line {
	var out []Line
	for _, lines := range l.channels {
		out = append(out, lines...)
	}
	return out
}
