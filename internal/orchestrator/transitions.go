// internal/orchestrator/transitions.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/tamzrod/vitals-relay/internal/preference"
	"github.com/tamzrod/vitals-relay/internal/selector"
	"github.com/tamzrod/vitals-relay/internal/status"
	"github.com/tamzrod/vitals-relay/internal/vitals"
)

// Everything in this file runs on the command loop.

type decision struct {
	mode  vitals.ChannelMode
	types []vitals.PermissionType
}

func (o *Orchestrator) start(ctx context.Context, userID string) error {
	if o.closing {
		return ErrClosed
	}
	if userID == "" {
		return errors.New("orchestrator: start: empty user id")
	}

	cur := o.State()
	if cur.Kind == status.KindActive {
		if cur.UserID == userID {
			return nil
		}
		o.stop("user changed")
	}

	pref, err := preference.BoolOr(ctx, o.prefs, preference.PreferPollingKey, o.preferDefault)
	if err != nil {
		o.log.Warn("preference read failed, using default", "key", preference.PreferPollingKey, "default", o.preferDefault, "error", err)
	}
	o.preferPolling = pref
	o.liveDegraded = false

	if _, err := o.store.Refresh(ctx, o.required); err != nil {
		return fmt.Errorf("orchestrator: start: %w", err)
	}

	d, err := o.decide()
	if err != nil {
		return fmt.Errorf("orchestrator: start: %w", err)
	}

	if err := o.open(ctx, d.mode, userID, d.types); err != nil {
		o.fail(userID, err)
		return fmt.Errorf("orchestrator: start: %w", err)
	}

	o.setState(status.KindActive, d.mode, userID, "")
	return nil
}

// stop closes the active channel and moves to Stopped. No-op when there is
// nothing to stop.
func (o *Orchestrator) stop(reason string) {
	o.closeActive()

	cur := o.State()
	if cur.Kind == status.KindActive || cur.Kind == status.KindFailed {
		o.setState(status.KindStopped, 0, cur.UserID, reason)
	}
}

// reevaluate re-runs selection while Active and swaps the channel when the
// mode or the delivered type set changes.
func (o *Orchestrator) reevaluate(ctx context.Context, trigger string) error {
	cur := o.State()
	if cur.Kind != status.KindActive {
		return nil
	}

	d, err := o.decide()
	switch {
	case errors.Is(err, vitals.ErrNoPermission):
		o.log.Info("no required permission left, stopping", "user", cur.UserID, "trigger", trigger)
		o.stop("no permission")
		return err
	case err != nil:
		o.closeActive()
		o.fail(cur.UserID, err)
		return err
	}

	if d.mode == o.activeMode && slices.Equal(d.types, o.activeTypes) {
		return nil
	}

	o.log.Info("swapping delivery channel",
		"user", cur.UserID,
		"from", o.activeMode,
		"to", d.mode,
		"trigger", trigger,
	)
	return o.swap(ctx, cur.UserID, d)
}

// swap is Active -> Active through an unpublished Stopped instant.
func (o *Orchestrator) swap(ctx context.Context, userID string, d decision) error {
	o.closeActive()

	if err := o.open(ctx, d.mode, userID, d.types); err != nil {
		o.fail(userID, err)
		return err
	}

	o.setState(status.KindActive, d.mode, userID, "")
	return nil
}

// dropped handles a mid-session channel failure.
func (o *Orchestrator) dropped(ctx context.Context, reason error) error {
	cur := o.State()
	if cur.Kind != status.KindActive || o.active == nil {
		return nil
	}

	if reason == nil {
		reason = vitals.ErrChannelDropped
	}

	if o.activeMode != vitals.ModeLive {
		o.log.Warn("polling channel dropped, giving up", "user", cur.UserID, "error", reason)
		o.closeActive()
		o.fail(cur.UserID, reason)
		return nil
	}

	o.log.Warn("live channel dropped, falling back", "user", cur.UserID, "error", reason)
	o.closeActive()
	o.liveDegraded = true

	d, err := o.decide()
	switch {
	case errors.Is(err, vitals.ErrNoPermission):
		o.stop("no permission")
		return nil
	case err != nil:
		// nowhere to fall back to
		o.fail(cur.UserID, reason)
		return nil
	}

	if err := o.open(ctx, d.mode, cur.UserID, d.types); err != nil {
		o.fail(cur.UserID, err)
		return err
	}

	o.setState(status.KindActive, d.mode, cur.UserID, "")
	return nil
}

// decide runs the selector over the cached permission state and maps the
// result onto an available channel.
func (o *Orchestrator) decide() (decision, error) {
	granted := o.store.Granted(o.required)
	liveOK := o.liveAvailable()

	mode, err := selector.Evaluate(selector.Inputs{
		PreferPolling: o.preferPolling,
		LiveSupported: liveOK,
		Required:      len(o.required),
		Granted:       len(granted),
	})
	if err != nil {
		return decision{}, err
	}

	if mode == vitals.ModePolling && o.poll == nil {
		if !liveOK || len(granted) < len(o.required) {
			return decision{}, fmt.Errorf("orchestrator: %w: polling unavailable", vitals.ErrConnection)
		}
		mode = vitals.ModeLive
	}

	return decision{mode: mode, types: granted}, nil
}

func (o *Orchestrator) liveAvailable() bool {
	return o.live != nil && o.liveSupported && !o.liveDegraded
}

func (o *Orchestrator) fail(userID string, err error) {
	o.setState(status.KindFailed, 0, userID, err.Error())
}

func (o *Orchestrator) setState(kind status.Kind, mode vitals.ChannelMode, userID, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !status.CanTransition(o.snap.Kind, kind) {
		o.log.Error("illegal state transition", "from", o.snap.Kind, "to", kind)
		return
	}

	o.snap = status.Snapshot{
		Kind:   kind,
		Mode:   mode,
		UserID: userID,
		Reason: reason,
		Since:  o.now(),
	}
	o.states.Publish(o.snap)

	o.log.Info("subscription state", "user", userID, "state", o.snap.String())
}

func (o *Orchestrator) isRequired(t vitals.PermissionType) bool {
	return slices.Contains(o.required, t)
}
