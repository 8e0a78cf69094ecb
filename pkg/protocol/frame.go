// Package protocol implements the line-oriented frame format spoken with the
// router: one frame per terminated line, `<type> <source> <target> :<message>`.
package protocol

import (
	"strings"
)

// Frame types the client knows about. Any other keyword is still decoded;
// it is up to the dispatcher to ignore it.
const (
	TypeKeepaliveRequest = "keepalive-request"
	TypeIsAlive          = "is-alive"
	TypeCloseNotify      = "close-notify"
	TypeChannelMessage   = "ice-msg-b"
	TypeTell             = "tell"
	TypeUserCache        = "user-cache"
)

// Everyone is the source/target token meaning "everyone" (or "none").
const Everyone = "*"

// Broadcast is the target used for frames addressed to every mud on the network.
const Broadcast = "*@*"

// Frame is a single decoded protocol unit.
type Frame struct {
	Type    string
	Source  string
	Target  string
	Message string
	// Raw is everything after the type keyword, kept verbatim for handlers
	// that parse their own payloads.
	Raw string
}

// NewFrame builds a frame from its four wire fields. Raw is filled in the same
// way Decode fills it, so NewFrame values round-trip through Encode/Decode.
func NewFrame(typ, source, target, message string) Frame {
	f := Frame{
		Type:    strings.ToLower(typ),
		Source:  source,
		Target:  target,
		Message: message,
	}
	f.Raw = f.payload()
	return f
}

// Keepalive returns the unsolicited keepalive frame for the given local name.
func Keepalive(localName string) Frame {
	return NewFrame(TypeKeepaliveRequest, localName, Broadcast, "ping")
}

// IsAlive returns the reply to a keepalive request.
func IsAlive(localName, version string) Frame {
	return NewFrame(TypeIsAlive, localName, Broadcast, "versionid="+version)
}

// String returns the wire form without the line terminator.
func (f Frame) String() string {
	return strings.TrimSuffix(Encode(f), "\n")
}

// Mud returns the mud part of a `user@mud` identity, or the identity itself
// when it carries no `@`.
func Mud(identity string) string {
	if i := strings.LastIndexByte(identity, '@'); i >= 0 {
		return identity[i+1:]
	}
	return identity
}

// lineBreaks folds embedded terminators into spaces so a field can never
// start a second wire line.
var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// Encode renders the frame as exactly one terminated line. Trailing
// terminators are dropped and embedded ones become spaces.
func Encode(f Frame) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(f.Type))
	if p := f.payload(); p != "" {
		b.WriteByte(' ')
		b.WriteString(p)
	}
	line := strings.TrimRight(b.String(), "\r\n")
	return lineBreaks.Replace(line) + "\n"
}

func (f Frame) payload() string {
	parts := make([]string, 0, 3)
	if f.Source != "" {
		parts = append(parts, f.Source)
	}
	if f.Target != "" {
		parts = append(parts, f.Target)
	}
	if f.Message != "" || (f.Source != "" && f.Target != "") {
		parts = append(parts, ":"+f.Message)
	}
	return strings.Join(parts, " ")
}

// parseLine decodes one complete line. ok is false for lines that carry no
// frame at all.
func parseLine(line string) (Frame, bool) {
	line = strings.TrimRight(line, "\r")
	line = strings.TrimLeft(line, " \t")
	if line == "" || line[0] == ':' {
		return Frame{}, false
	}

	typ, rest := cutToken(line)
	f := Frame{Type: strings.ToLower(typ), Raw: rest}

	if rest == "" {
		return f, true
	}
	if rest[0] != ':' {
		f.Source, rest = cutToken(rest)
	}
	if rest != "" && rest[0] != ':' {
		f.Target, rest = cutToken(rest)
	}
	f.Message = strings.TrimPrefix(rest, ":")
	return f, true
}

// cutToken splits off the first whitespace-delimited token and drops the
// whitespace that follows it.
func cutToken(s string) (string, string) {
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeft(s[i:], " \t")
}
