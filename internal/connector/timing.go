package connector

import "time"

// Timing collects every timer the connector arms. Production code uses
// Default; tests shrink the values.
type Timing struct {
	// EntryTimeout bounds how long a join request may stay unanswered
	// before the room reverts to idle.
	EntryTimeout time.Duration

	// RequestTimeout bounds request/reply exchanges with the relay.
	RequestTimeout time.Duration

	// ReconnectDelay is how long an answerer waits after applying a remote
	// candidate before giving up on the inbound direction and re-offering.
	ReconnectDelay time.Duration

	// CallPollInterval and CallPollAttempts pace the check for a callee
	// actually connecting after an outgoing call.
	CallPollInterval time.Duration
	CallPollAttempts int
}

// DefaultTiming returns the production timer values.
func DefaultTiming() Timing {
	return Timing{
		EntryTimeout:     4 * time.Second,
		RequestTimeout:   3 * time.Second,
		ReconnectDelay:   2500 * time.Millisecond,
		CallPollInterval: 500 * time.Millisecond,
		CallPollAttempts: 7,
	}
}

// withDefaults fills in zero fields.
func (t Timing) withDefaults() Timing {
	def := DefaultTiming()
	if t.EntryTimeout <= 0 {
		t.EntryTimeout = def.EntryTimeout
	}
	if t.RequestTimeout <= 0 {
		t.RequestTimeout = def.RequestTimeout
	}
	if t.ReconnectDelay <= 0 {
		t.ReconnectDelay = def.ReconnectDelay
	}
	if t.CallPollInterval <= 0 {
		t.CallPollInterval = def.CallPollInterval
	}
	if t.CallPollAttempts <= 0 {
		t.CallPollAttempts = def.CallPollAttempts
	}
	return t
}
