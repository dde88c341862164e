// internal/orchestrator/channels.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/tamzrod/vitals-relay/internal/vitals"
)

// Channel is one delivery transport. Close must be idempotent and bounded.
type Channel interface {
	Open(ctx context.Context, s vitals.Session) error
	Close()
}

// LiveChannel is a Channel that may be unsupported on this device.
type LiveChannel interface {
	Channel
	Supported() bool
}

func (o *Orchestrator) channel(mode vitals.ChannelMode) Channel {
	switch mode {
	case vitals.ModeLive:
		if o.live == nil {
			return nil
		}
		return o.live
	case vitals.ModePolling:
		return o.poll
	default:
		return nil
	}
}

// open activates mode for userID. The caller has already closed any previous
// channel, so at most one channel is ever open.
func (o *Orchestrator) open(ctx context.Context, mode vitals.ChannelMode, userID string, types []vitals.PermissionType) error {
	ch := o.channel(mode)
	if ch == nil {
		return fmt.Errorf("orchestrator: %w: %s channel unavailable", vitals.ErrConnection, mode)
	}

	o.mu.Lock()
	o.gen++
	gen := o.gen
	o.mu.Unlock()

	s := vitals.Session{
		UserID: userID,
		Types:  types,
		Sink:   o.sink(gen),
		OnDrop: func(err error) { go o.dropReported(gen, err) },
	}
	if mode == vitals.ModePolling {
		s.Interval = o.pollInterval
	}

	if err := ch.Open(ctx, s); err != nil {
		return err
	}

	o.active = ch
	o.activeMode = mode
	o.activeTypes = types
	o.activeGen = gen

	o.log.Info("delivery channel active", "user", userID, "mode", mode, "types", len(types))
	return nil
}

// closeActive retires the current generation before closing, so nothing the
// outgoing channel still produces reaches subscribers.
func (o *Orchestrator) closeActive() {
	if o.active == nil {
		return
	}

	o.mu.Lock()
	o.gen++
	o.mu.Unlock()

	ch, mode := o.active, o.activeMode
	o.active = nil
	o.activeMode = 0
	o.activeTypes = nil
	o.activeGen = 0

	ch.Close()
	o.log.Debug("delivery channel closed", "mode", mode)
}

// sink forwards updates of generation gen while it is current.
func (o *Orchestrator) sink(gen uint64) vitals.Sink {
	return func(u vitals.VitalsUpdate) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.gen != gen {
			return
		}
		o.updates.Publish(u)
	}
}

// dropReported runs off the channel's goroutine; a drop from a retired
// generation is ignored.
func (o *Orchestrator) dropReported(gen uint64, err error) {
	derr := o.do(context.Background(), func() error {
		if o.active == nil || o.activeGen != gen {
			return nil
		}
		return o.dropped(context.Background(), err)
	})
	if derr != nil && !errors.Is(derr, ErrClosed) {
		o.log.Warn("channel drop handling failed", "error", derr)
	}
}
