// internal/poller/channel.go
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tamzrod/vitals-relay/internal/vitals"
)

// ChannelConfig configures the polling delivery channel.
type ChannelConfig struct {
	Schedule     Schedule
	CloseTimeout time.Duration
	Logger       *slog.Logger
}

// Channel is the pull-based delivery channel: one poll loop per Open.
type Channel struct {
	cfg     ChannelConfig
	factory Factory
	log     *slog.Logger

	mu  sync.Mutex
	cur *activation
}

type activation struct {
	stop chan struct{}
	done chan struct{}

	// tickMu serializes a tick's delivery against Close.
	tickMu sync.Mutex
	closed bool
}

// NewChannel builds a polling channel over factory.
func NewChannel(cfg ChannelConfig, factory Factory) (*Channel, error) {
	if factory == nil {
		return nil, errors.New("poller: client factory required")
	}
	if cfg.Schedule.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if cfg.Schedule.MaxInterval < cfg.Schedule.Interval {
		cfg.Schedule.MaxInterval = cfg.Schedule.Interval
	}
	if cfg.Schedule.FetchTimeout <= 0 {
		cfg.Schedule.FetchTimeout = cfg.Schedule.Interval
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Channel{cfg: cfg, factory: factory, log: cfg.Logger}, nil
}

// Open starts the fetch loop for s. The first client is built here so a dead
// source fails the open instead of the first tick.
func (c *Channel) Open(ctx context.Context, s vitals.Session) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("poller: open: %w: %v", vitals.ErrConnection, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != nil {
		return fmt.Errorf("poller: open: %w: already open", vitals.ErrConnection)
	}

	client, err := c.factory()
	if err != nil {
		return fmt.Errorf("poller: open: %w: %v", vitals.ErrConnection, err)
	}

	p, err := New(Config{UserID: s.UserID, Types: s.Types}, client, c.factory)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("poller: open: %w: %v", vitals.ErrConnection, err)
	}

	sched := c.cfg.Schedule
	if s.Interval > 0 {
		sched.Interval = s.Interval
		if sched.MaxInterval < sched.Interval {
			sched.MaxInterval = sched.Interval
		}
	}

	a := &activation{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	c.cur = a

	go c.loop(a, p, sched, s)

	c.log.Info("poll channel opened", "user", s.UserID, "types", len(s.Types), "interval", sched.Interval)
	return nil
}

func (c *Channel) loop(a *activation, p *Poller, sched Schedule, s vitals.Session) {
	defer close(a.done)
	defer p.Close()

	p.Run(a.stop, sched, func(res PollResult, failures int) bool {
		a.tickMu.Lock()
		if a.closed {
			// closed while fetching: discard, do not re-arm
			a.tickMu.Unlock()
			return false
		}

		if res.Err != nil {
			c.log.Warn("poll tick failed",
				"user", s.UserID,
				"failures", failures,
				"next", sched.Next(failures),
				"error", res.Err,
			)
			if failures > sched.FailureThreshold {
				a.tickMu.Unlock()
				if s.OnDrop != nil {
					s.OnDrop(fmt.Errorf("%w: %d consecutive poll failures: %v", vitals.ErrChannelDropped, failures, res.Err))
				}
				return false
			}
			a.tickMu.Unlock()
			return true
		}

		for _, u := range res.Updates {
			if s.Sink != nil {
				s.Sink(u)
			}
		}
		a.tickMu.Unlock()
		return true
	})
}

// Close stops the loop. Idempotent. Waits at most CloseTimeout for an
// in-flight fetch; its result is discarded either way.
func (c *Channel) Close() {
	c.mu.Lock()
	a := c.cur
	c.cur = nil
	c.mu.Unlock()

	if a == nil {
		return
	}

	a.tickMu.Lock()
	a.closed = true
	a.tickMu.Unlock()
	close(a.stop)

	select {
	case <-a.done:
	case <-time.After(c.cfg.CloseTimeout):
		c.log.Warn("poll channel close timed out, abandoning in-flight fetch", "timeout", c.cfg.CloseTimeout)
	}
}

// IsOpen reports whether a loop is running.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil
}
