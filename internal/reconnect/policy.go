// Package reconnect decides what happens after the router link drops: retry,
// give up an optional capability, or abandon the link for good.
package reconnect

// MaxAttempts is the number of consecutive failed attempts after which the
// policy either downgrades or abandons.
const MaxAttempts = 3

// State of the link as seen by the policy.
type State int

const (
	Disconnected State = iota
	Connected
	Abandoned
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Outcome tells the caller what to do after a failed attempt.
type Outcome int

const (
	// Retry means try again on the next disconnect event.
	Retry Outcome = iota
	// Downgrade means disable the optional capability, persist that, and retry later.
	Downgrade
	// Abandon means stop reconnecting for the life of the process.
	Abandon
)

// String returns the string representation of Outcome.
func (o Outcome) String() string {
	switch o {
	case Retry:
		return "retry"
	case Downgrade:
		return "downgrade"
	case Abandon:
		return "abandon"
	default:
		return "unknown"
	}
}

// Policy is the reconnection state machine. Its zero value is Disconnected
// with no failed attempts.
type Policy struct {
	state    State
	attempts int
}

// State returns the current state.
func (p *Policy) State() State {
	return p.state
}

// Attempts returns the number of failed attempts since the last success.
func (p *Policy) Attempts() int {
	return p.attempts
}

// Abandoned reports whether the policy has given up.
func (p *Policy) Abandoned() bool {
	return p.state == Abandoned
}

// Disconnect records a lost link. Abandoned stays abandoned.
func (p *Policy) Disconnect() {
	if p.state == Abandoned {
		return
	}
	p.state = Disconnected
}

// ShouldRetry reports whether an attempt may be made now.
func (p *Policy) ShouldRetry(autoConnect bool) bool {
	return autoConnect && p.state == Disconnected
}

// Succeeded records a successful attempt.
func (p *Policy) Succeeded() {
	if p.state == Abandoned {
		return
	}
	p.state = Connected
	p.attempts = 0
}

// Failed records a failed attempt. downgradable reports whether the optional
// capability is still enabled and could be dropped.
func (p *Policy) Failed(downgradable bool) Outcome {
	if p.state == Abandoned {
		return Abandon
	}
	p.state = Disconnected
	p.attempts++
	if p.attempts < MaxAttempts {
		return Retry
	}
	p.attempts = 0
	if downgradable {
		return Downgrade
	}
	p.state = Abandoned
	return Abandon
}

// Reset clears every counter and the abandoned state.
func (p *Policy) Reset() {
	p.state = Disconnected
	p.attempts = 0
}
