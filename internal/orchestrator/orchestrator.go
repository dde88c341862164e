// internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tamzrod/vitals-relay/internal/broadcast"
	"github.com/tamzrod/vitals-relay/internal/permission"
	"github.com/tamzrod/vitals-relay/internal/preference"
	"github.com/tamzrod/vitals-relay/internal/status"
	"github.com/tamzrod/vitals-relay/internal/vitals"
)

// ErrClosed is returned by every call after Close.
var ErrClosed = errors.New("orchestrator: closed")

// Options wires the orchestrator. Store and Required are mandatory; a nil Live
// or Poll channel means that transport is unavailable on this device.
type Options struct {
	Store    *permission.Store
	Deltas   *permission.DeltaPublisher // watched for re-evaluation when set
	Prefs    preference.Port
	Live     LiveChannel
	Poll     Channel
	Required []vitals.PermissionType

	PreferPollingDefault bool
	PollInterval         time.Duration // 0 keeps the poll channel's configured interval

	Logger *slog.Logger
	Now    func() time.Time
}

// Orchestrator owns the single active delivery channel of one user session.
//
// Every transition runs on one command-loop goroutine; public methods enqueue
// a command and wait for its result. Channel callbacks never run transitions
// inline, so a channel may report a drop while the loop is closing it.
type Orchestrator struct {
	store    *permission.Store
	deltas   *permission.DeltaPublisher
	prefs    preference.Port
	live     LiveChannel
	poll     Channel
	required []vitals.PermissionType

	preferDefault bool
	pollInterval  time.Duration
	log           *slog.Logger
	now           func() time.Time

	cmds     chan func()
	quit     chan struct{}
	loopDone chan struct{}
	quitOnce sync.Once
	deltaID  string

	updates *broadcast.Hub[vitals.VitalsUpdate]
	states  *broadcast.Hub[status.Snapshot]

	// ---- loop-owned ----
	active        Channel
	activeMode    vitals.ChannelMode
	activeTypes   []vitals.PermissionType
	activeGen     uint64
	preferPolling bool
	liveSupported bool
	liveDegraded  bool // set by a live drop, cleared by Start/preference/capability
	closing       bool

	// mu guards gen and snap, read by sinks and State from other goroutines.
	mu   sync.Mutex
	gen  uint64
	snap status.Snapshot
}

// New builds the orchestrator and starts its command loop.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("orchestrator: permission store required")
	}
	required := vitals.SortTypes(opts.Required)
	if len(required) == 0 {
		return nil, errors.New("orchestrator: at least one required type")
	}
	if opts.Live == nil && opts.Poll == nil {
		return nil, errors.New("orchestrator: no delivery channel")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	o := &Orchestrator{
		store:         opts.Store,
		deltas:        opts.Deltas,
		prefs:         opts.Prefs,
		live:          opts.Live,
		poll:          opts.Poll,
		required:      required,
		preferDefault: opts.PreferPollingDefault,
		pollInterval:  opts.PollInterval,
		log:           opts.Logger,
		now:           opts.Now,

		cmds:     make(chan func()),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),

		updates: broadcast.New[vitals.VitalsUpdate](),
		states:  broadcast.New[status.Snapshot](),

		preferPolling: opts.PreferPollingDefault,
		liveSupported: opts.Live != nil && opts.Live.Supported(),
	}
	o.snap = status.Snapshot{Kind: status.KindUninitialized, Since: o.now()}

	go o.loop()

	if o.deltas != nil {
		id, ch := o.deltas.Subscribe()
		o.deltaID = id
		go o.watchDeltas(ch)
	}

	return o, nil
}

func (o *Orchestrator) loop() {
	defer close(o.loopDone)
	for {
		select {
		case fn := <-o.cmds:
			fn()
		case <-o.quit:
			return
		}
	}
}

// do runs fn on the command loop and waits for its result.
func (o *Orchestrator) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	cmd := func() { errc <- fn() }

	select {
	case o.cmds <- cmd:
	case <-o.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// once accepted the command always completes; ctx only bounds the wait
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) watchDeltas(ch <-chan vitals.PermissionDelta) {
	for d := range ch {
		err := o.OnPermissionDelta(context.Background(), d)
		if err != nil && !errors.Is(err, ErrClosed) {
			o.log.Debug("permission delta handling", "type", d.Type, "granted", d.CurrentGranted, "error", err)
		}
	}
}

// ---- PUBLIC API ----

// Start activates delivery for userID. A second Start for the same user while
// Active is a no-op; Start for another user replaces the session.
func (o *Orchestrator) Start(ctx context.Context, userID string) error {
	return o.do(ctx, func() error { return o.start(ctx, userID) })
}

// Stop closes whichever channel is open. Idempotent.
func (o *Orchestrator) Stop(ctx context.Context) error {
	return o.do(ctx, func() error {
		o.stop("")
		return nil
	})
}

// OnPreferenceChanged records the new preference and swaps channels if the
// selected mode changes. The caller persists the preference first.
func (o *Orchestrator) OnPreferenceChanged(ctx context.Context, preferPolling bool) error {
	return o.do(ctx, func() error {
		o.preferPolling = preferPolling
		o.liveDegraded = false
		return o.reevaluate(ctx, "preference")
	})
}

// OnPermissionDelta re-runs selection against the refreshed permission cache.
// Ignored unless Active.
func (o *Orchestrator) OnPermissionDelta(ctx context.Context, d vitals.PermissionDelta) error {
	return o.do(ctx, func() error {
		if !o.isRequired(d.Type) {
			return nil
		}
		return o.reevaluate(ctx, "permission "+d.Type.String())
	})
}

// OnChannelDropped handles a mid-session failure of the active channel:
// live falls back to polling, polling fails terminally.
func (o *Orchestrator) OnChannelDropped(ctx context.Context, reason error) error {
	return o.do(ctx, func() error {
		return o.dropped(ctx, reason)
	})
}

// OnCapabilityChanged records whether live delivery is possible and
// re-evaluates. Becoming supported clears a previous live drop.
func (o *Orchestrator) OnCapabilityChanged(ctx context.Context, liveSupported bool) error {
	return o.do(ctx, func() error {
		o.liveSupported = liveSupported && o.live != nil
		if liveSupported {
			o.liveDegraded = false
		}
		return o.reevaluate(ctx, "capability")
	})
}

// RequestPermissions prompts for every required type not yet granted.
// Resulting deltas reach the orchestrator through the delta stream.
func (o *Orchestrator) RequestPermissions(ctx context.Context) (map[vitals.PermissionType]bool, error) {
	select {
	case <-o.quit:
		return nil, ErrClosed
	default:
	}
	return o.store.RequestAll(ctx, o.required)
}

// Subscribe returns a handle and a stream of every update delivered from now on.
func (o *Orchestrator) Subscribe() (string, <-chan vitals.VitalsUpdate) {
	return o.updates.Subscribe()
}

func (o *Orchestrator) Unsubscribe(id string) error {
	return o.updates.Unsubscribe(id)
}

// SubscribeState streams every state transition.
func (o *Orchestrator) SubscribeState() (string, <-chan status.Snapshot) {
	return o.states.Subscribe()
}

func (o *Orchestrator) UnsubscribeState(id string) error {
	return o.states.Unsubscribe(id)
}

// State returns the current subscription state.
func (o *Orchestrator) State() status.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

// Close stops delivery, ends the command loop and closes every stream.
// Safe to call more than once.
func (o *Orchestrator) Close(ctx context.Context) error {
	err := o.do(ctx, func() error {
		o.closing = true
		o.stop("")
		return nil
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}

	o.quitOnce.Do(func() { close(o.quit) })
	<-o.loopDone

	if o.deltaID != "" {
		_ = o.deltas.Unsubscribe(o.deltaID)
	}
	o.updates.Close()
	o.states.Close()
	return err
}
