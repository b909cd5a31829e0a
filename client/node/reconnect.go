package node

import (
	"time"
)

// ReconnectStrategy decides how long to wait before the next reconnect
// attempt. It receives the time the connection was originally lost (not
// per attempt) and the 1-based attempt number, and reports ok=false to
// give up permanently. Implementations must be pure: no state, no I/O.
type ReconnectStrategy interface {
	NextDelay(lostAt time.Time, attempt int) (delay time.Duration, ok bool)
}

const (
	DefaultBackoffBase = 2 * time.Second
	DefaultBackoffMax  = 60 * time.Second
)

// ExponentialBackoff doubles the delay on every failed attempt up to
// Max. It never gives up.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

func NewExponentialBackoff() ExponentialBackoff {
	return ExponentialBackoff{Base: DefaultBackoffBase, Max: DefaultBackoffMax}
}

func (s ExponentialBackoff) NextDelay(_ time.Time, attempt int) (time.Duration, bool) {
	base := s.Base
	if base <= 0 {
		base = DefaultBackoffBase
	}
	max := s.Max
	if max <= 0 {
		max = DefaultBackoffMax
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max, true
		}
	}
	if delay > max {
		delay = max
	}
	return delay, true
}

// NoReconnect disables reconnection entirely: the first consultation
// gives up.
type NoReconnect struct{}

func (NoReconnect) NextDelay(time.Time, int) (time.Duration, bool) {
	return 0, false
}
