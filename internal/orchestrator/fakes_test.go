// internal/orchestrator/fakes_test.go
package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tamzrod/vitals-relay/internal/permission"
	"github.com/tamzrod/vitals-relay/internal/preference"
	"github.com/tamzrod/vitals-relay/internal/vitals"
)

// ---- permission gateway ----

type fakeGateway struct {
	mu      sync.Mutex
	grants  map[vitals.PermissionType]bool
	err     error
	prompts int
}

func (g *fakeGateway) QueryGranted(_ context.Context, types []vitals.PermissionType) (map[vitals.PermissionType]bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	out := make(map[vitals.PermissionType]bool, len(types))
	for _, t := range types {
		out[t] = g.grants[t]
	}
	return out, nil
}

func (g *fakeGateway) PromptUser(_ context.Context, types []vitals.PermissionType) (map[vitals.PermissionType]bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.prompts++
	out := make(map[vitals.PermissionType]bool, len(types))
	for _, t := range types {
		g.grants[t] = true
		out[t] = true
	}
	return out, nil
}

func (g *fakeGateway) set(t vitals.PermissionType, granted bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grants[t] = granted
}

func (g *fakeGateway) fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

// ---- channels ----

// tracker records every channel open and counts overlaps.
type tracker struct {
	mu         sync.Mutex
	open       map[string]bool
	violations int
}

func (tr *tracker) opened(name string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for other, isOpen := range tr.open {
		if isOpen && other != name {
			tr.violations++
		}
	}
	tr.open[name] = true
}

func (tr *tracker) closed(name string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.open[name] = false
}

func (tr *tracker) overlaps() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.violations
}

type fakeChannel struct {
	name      string
	tr        *tracker
	supported bool

	mu      sync.Mutex
	opens   int
	closes  int
	openErr error
	isOpen  bool
	session vitals.Session
}

func (c *fakeChannel) Supported() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.supported
}

func (c *fakeChannel) Open(_ context.Context, s vitals.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return c.openErr
	}
	c.tr.opened(c.name)
	c.opens++
	c.isOpen = true
	c.session = s
	return nil
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	if c.isOpen {
		c.isOpen = false
		c.tr.closed(c.name)
	}
}

// emit pushes a sample through the last session's sink, as the transport would.
func (c *fakeChannel) emit(v float64) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s.Sink == nil {
		return
	}
	dt := vitals.HeartRate
	if len(s.Types) > 0 {
		dt = s.Types[0]
	}
	s.Sink(vitals.VitalsUpdate{UserID: s.UserID, DataType: dt, Value: v, Source: c.mode()})
}

// drop reports a mid-session failure through the last session.
func (c *fakeChannel) drop(err error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s.OnDrop != nil {
		s.OnDrop(err)
	}
}

func (c *fakeChannel) mode() vitals.ChannelMode {
	if c.name == "live" {
		return vitals.ModeLive
	}
	return vitals.ModePolling
}

func (c *fakeChannel) counts() (opens, closes int, isOpen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens, c.closes, c.isOpen
}

func (c *fakeChannel) lastTypes() []vitals.PermissionType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Types
}

// ---- harness ----

type harness struct {
	o      *Orchestrator
	gw     *fakeGateway
	store  *permission.Store
	deltas *permission.DeltaPublisher
	prefs  *preference.Memory
	live   *fakeChannel
	poll   *fakeChannel
	tr     *tracker
}

type harnessConfig struct {
	required      []vitals.PermissionType
	granted       []vitals.PermissionType
	liveSupported bool
	noLive        bool
	noPoll        bool
	preferPolling bool
}

func newHarness(t *testing.T, hc harnessConfig) *harness {
	t.Helper()

	if len(hc.required) == 0 {
		hc.required = []vitals.PermissionType{vitals.HeartRate}
	}

	tr := &tracker{open: map[string]bool{}}
	h := &harness{
		gw:    &fakeGateway{grants: map[vitals.PermissionType]bool{}},
		prefs: preference.NewMemory(),
		live:  &fakeChannel{name: "live", tr: tr, supported: hc.liveSupported},
		poll:  &fakeChannel{name: "poll", tr: tr, supported: true},
		tr:    tr,
	}
	for _, g := range hc.granted {
		h.gw.grants[g] = true
	}
	if hc.preferPolling {
		require.NoError(t, h.prefs.SetBool(context.Background(), preference.PreferPollingKey, true))
	}

	h.deltas = permission.NewDeltaPublisher()
	h.store = permission.NewStore(h.gw, h.deltas, permission.StoreOptions{})

	opts := Options{
		Store:    h.store,
		Deltas:   h.deltas,
		Prefs:    h.prefs,
		Required: hc.required,
	}
	if !hc.noLive {
		opts.Live = h.live
	}
	if !hc.noPoll {
		opts.Poll = h.poll
	}

	o, err := New(opts)
	require.NoError(t, err)
	h.o = o

	t.Cleanup(func() {
		_ = o.Close(context.Background())
		h.deltas.Close()
	})
	return h
}

func (h *harness) refresh(t *testing.T) {
	t.Helper()
	_, err := h.store.Refresh(context.Background(), h.o.required)
	require.NoError(t, err)
}

func recv(t *testing.T, ch <-chan vitals.VitalsUpdate) vitals.VitalsUpdate {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.True(t, ok, "stream closed")
		return u
	case <-time.After(time.Second):
		t.Fatalf("no update received")
		return vitals.VitalsUpdate{}
	}
}

func assertQuiet(t *testing.T, ch <-chan vitals.VitalsUpdate) {
	t.Helper()
	select {
	case u, ok := <-ch:
		if ok {
			t.Fatalf("unexpected update: %+v", u)
		}
	case <-time.After(30 * time.Millisecond):
	}
}
