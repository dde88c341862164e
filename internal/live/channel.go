// internal/live/channel.go
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tamzrod/vitals-relay/internal/vitals"
)

// Subscription is one established push connection.
// Done closes when the connection ends for any reason; Err then reports why
// (nil after a local Close).
type Subscription interface {
	Updates() <-chan vitals.VitalsUpdate
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Source is the push-based health data endpoint.
type Source interface {
	// Supported reports whether live delivery is possible at all on this device.
	Supported() bool
	Subscribe(ctx context.Context, userID string, types []vitals.PermissionType) (Subscription, error)
}

// Channel is the push-based delivery channel.
// A mid-session disconnect is reported once through Session.OnDrop;
// the channel never reconnects on its own.
type Channel struct {
	src          Source
	closeTimeout time.Duration
	log          *slog.Logger

	mu  sync.Mutex
	cur *activation
}

type activation struct {
	sub  Subscription
	stop chan struct{}
	done chan struct{}

	// fwdMu serializes forwarding against Close.
	fwdMu   sync.Mutex
	closing bool
}

func NewChannel(src Source, closeTimeout time.Duration, log *slog.Logger) *Channel {
	if closeTimeout <= 0 {
		closeTimeout = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Channel{src: src, closeTimeout: closeTimeout, log: log}
}

// Supported reports the source capability. A channel without a source is unsupported.
func (c *Channel) Supported() bool {
	return c.src != nil && c.src.Supported()
}

// Open establishes the push subscription and starts forwarding to s.Sink.
func (c *Channel) Open(ctx context.Context, s vitals.Session) error {
	if !c.Supported() {
		return fmt.Errorf("live: open: %w: live delivery not supported", vitals.ErrConnection)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != nil {
		return fmt.Errorf("live: open: %w: already open", vitals.ErrConnection)
	}

	types := vitals.SortTypes(s.Types)
	if len(types) == 0 {
		return fmt.Errorf("live: open: %w: no types", vitals.ErrConnection)
	}

	sub, err := c.src.Subscribe(ctx, s.UserID, types)
	if err != nil {
		return fmt.Errorf("live: open: %w: %v", vitals.ErrConnection, err)
	}

	a := &activation{
		sub:  sub,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	c.cur = a

	go c.forward(a, s, types)

	c.log.Info("live channel opened", "user", s.UserID, "types", len(types))
	return nil
}

func (c *Channel) forward(a *activation, s vitals.Session, types []vitals.PermissionType) {
	defer close(a.done)

	allowed := make(map[vitals.PermissionType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}

	for {
		select {
		case <-a.stop:
			return

		case u := <-a.sub.Updates():
			if !allowed[u.DataType] {
				continue
			}
			u.UserID = s.UserID
			u.Source = vitals.ModeLive

			a.fwdMu.Lock()
			if a.closing {
				a.fwdMu.Unlock()
				return
			}
			if s.Sink != nil {
				s.Sink(u)
			}
			a.fwdMu.Unlock()

		case <-a.sub.Done():
			a.fwdMu.Lock()
			closing := a.closing
			a.fwdMu.Unlock()
			if closing {
				return
			}

			reason := a.sub.Err()
			if reason == nil {
				reason = errors.New("subscription ended")
			}
			c.log.Warn("live channel dropped", "user", s.UserID, "error", reason)
			if s.OnDrop != nil {
				s.OnDrop(fmt.Errorf("%w: %v", vitals.ErrChannelDropped, reason))
			}
			return
		}
	}
}

// Close releases the subscription. Idempotent; safe when never opened.
// Bounded by the close timeout even if the transport hangs.
func (c *Channel) Close() {
	c.mu.Lock()
	a := c.cur
	c.cur = nil
	c.mu.Unlock()

	if a == nil {
		return
	}

	a.fwdMu.Lock()
	a.closing = true
	a.fwdMu.Unlock()
	close(a.stop)

	released := make(chan struct{})
	go func() {
		defer close(released)
		if err := a.sub.Close(); err != nil {
			c.log.Debug("live subscription close", "error", err)
		}
	}()

	deadline := time.NewTimer(c.closeTimeout)
	defer deadline.Stop()

	for _, ch := range []chan struct{}{a.done, released} {
		select {
		case <-ch:
		case <-deadline.C:
			c.log.Warn("live channel close timed out, forcing release", "timeout", c.closeTimeout)
			return
		}
	}
}

// IsOpen reports whether a subscription is held.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil
}
