package control

import "time"

// CircuitState is the position of a Circuit.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// Circuit gates session restarts. A crash loop trips it open; once the
// cooldown has passed one trial session is admitted (half-open), and the
// trial's outcome either resets it or trips it again.
//
// A Circuit is not safe for concurrent use.
type Circuit struct {
	cooldown  time.Duration
	state     CircuitState
	trippedAt time.Time
	cause     string
}

// NewCircuit returns a closed circuit.
func NewCircuit(cooldown time.Duration) *Circuit {
	return &Circuit{cooldown: cooldown, state: CircuitClosed}
}

func (c *Circuit) State() CircuitState { return c.state }

// Cause is the error class of the crash loop that last tripped the circuit.
func (c *Circuit) Cause() string { return c.cause }

func (c *Circuit) Cooldown() time.Duration { return c.cooldown }

// Trip opens the circuit at now and reports whether it was not open yet.
func (c *Circuit) Trip(cause string, now time.Time) bool {
	if cause == "" {
		cause = "unknown"
	}
	opened := c.state != CircuitOpen
	c.state = CircuitOpen
	c.trippedAt = now
	c.cause = cause
	return opened
}

// Reset closes the circuit and reports whether it was not closed yet.
func (c *Circuit) Reset() bool {
	if c.state == CircuitClosed {
		return false
	}
	c.state = CircuitClosed
	c.cause = ""
	return true
}

// Admit asks to start a session at now. A zero wait admits it; otherwise
// wait is the rest of the cooldown. trial is set when this call moved the
// circuit from open to half-open.
func (c *Circuit) Admit(now time.Time) (wait time.Duration, trial bool) {
	if c.state != CircuitOpen {
		return 0, false
	}
	if left := c.cooldown - now.Sub(c.trippedAt); left > 0 {
		return left, false
	}
	c.state = CircuitHalfOpen
	return 0, true
}
