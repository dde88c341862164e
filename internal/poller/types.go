// internal/poller/types.go
package poller

import (
	"time"

	"github.com/tamzrod/vitals-relay/internal/vitals"
)

// PollResult is a snapshot produced by one poll cycle.
type PollResult struct {
	UserID string
	At     time.Time

	// Updates carry Source=ModePolling and only the session's types.
	Updates []vitals.VitalsUpdate
	Err     error // non-nil means the poll cycle failed
}

// Schedule is the tick policy of one poll loop.
type Schedule struct {
	Interval         time.Duration // base interval
	MaxInterval      time.Duration // backoff cap
	FailureThreshold int           // consecutive failures tolerated before drop
	FetchTimeout     time.Duration // per-tick deadline
}

// Next returns the delay after a tick that left the loop at failures
// consecutive failures: base * 2^failures, capped at MaxInterval.
// Zero failures is the base interval.
func (s Schedule) Next(failures int) time.Duration {
	d := s.Interval
	for i := 0; i < failures; i++ {
		// doubling past MaxInterval/2 would reach the cap or overflow
		if d > s.MaxInterval/2 {
			return s.MaxInterval
		}
		d *= 2
	}
	if d > s.MaxInterval {
		return s.MaxInterval
	}
	return d
}
