// internal/poller/runner.go
package poller

import (
	"context"
	"time"
)

// Run drives PollOnce on sched until stop closes or handle returns false.
// One fetch at a time, no overlap. The first fetch happens immediately.
// failures is the consecutive failure count including res.
func (p *Poller) Run(stop <-chan struct{}, sched Schedule, handle func(res PollResult, failures int) bool) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		// Not tied to stop: an in-flight fetch is allowed to finish.
		ctx, cancel := context.WithTimeout(context.Background(), sched.FetchTimeout)
		res := p.PollOnce(ctx)
		cancel()

		if res.Err != nil {
			failures++
		} else {
			failures = 0
		}

		if !handle(res, failures) {
			return
		}

		timer.Reset(sched.Next(failures))
	}
}
