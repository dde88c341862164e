// internal/permission/store_test.go
package permission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/vitals-relay/internal/vitals"
)

// ---- fake gateway ----

type fakeGateway struct {
	mu      sync.Mutex
	grants  map[vitals.PermissionType]bool
	err     error
	queries int
	prompts [][]vitals.PermissionType
}

func newFakeGateway(grants map[vitals.PermissionType]bool) *fakeGateway {
	return &fakeGateway{grants: grants}
}

func (f *fakeGateway) set(t vitals.PermissionType, granted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants[t] = granted
}

func (f *fakeGateway) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeGateway) QueryGranted(_ context.Context, types []vitals.PermissionType) (map[vitals.PermissionType]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	out := map[vitals.PermissionType]bool{}
	for _, t := range types {
		out[t] = f.grants[t]
	}
	return out, nil
}

func (f *fakeGateway) PromptUser(_ context.Context, types []vitals.PermissionType) (map[vitals.PermissionType]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, types)
	if f.err != nil {
		return nil, f.err
	}
	out := map[vitals.PermissionType]bool{}
	for _, t := range types {
		f.grants[t] = true
		out[t] = true
	}
	return out, nil
}

func (f *fakeGateway) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

// slowGateway grants everything once released; it honors ctx while waiting.
type slowGateway struct {
	entered chan struct{}
	release chan struct{}
}

func newSlowGateway() *slowGateway {
	return &slowGateway{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *slowGateway) QueryGranted(ctx context.Context, types []vitals.PermissionType) (map[vitals.PermissionType]bool, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	out := map[vitals.PermissionType]bool{}
	for _, t := range types {
		out[t] = true
	}
	return out, nil
}

func (g *slowGateway) PromptUser(ctx context.Context, types []vitals.PermissionType) (map[vitals.PermissionType]bool, error) {
	return g.QueryGranted(ctx, types)
}

// ---- clock ----

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func drainDeltas(ch <-chan vitals.PermissionDelta, want int, t *testing.T) []vitals.PermissionDelta {
	t.Helper()
	var out []vitals.PermissionDelta
	for len(out) < want {
		select {
		case d := <-ch:
			out = append(out, d)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected %d deltas, got %d", want, len(out))
		}
	}
	return out
}

func assertNoDelta(t *testing.T, ch <-chan vitals.PermissionDelta) {
	t.Helper()
	select {
	case d := <-ch:
		t.Fatalf("unexpected delta: %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

// ---- tests ----

func TestRefresh_ReplacesCacheAndReturnsSnapshot(t *testing.T) {
	gw := newFakeGateway(map[vitals.PermissionType]bool{vitals.HeartRate: true})
	s := NewStore(gw, nil, StoreOptions{})

	_, ok := s.Get(vitals.HeartRate)
	assert.False(t, ok, "never-queried type must be absent")

	snap, err := s.Refresh(context.Background(), []vitals.PermissionType{vitals.HeartRate, vitals.Steps})
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.True(t, snap[vitals.HeartRate].Granted)
	assert.False(t, snap[vitals.Steps].Granted)

	e, ok := s.Get(vitals.HeartRate)
	require.True(t, ok)
	assert.True(t, e.Granted)
	assert.Equal(t, []vitals.PermissionType{vitals.HeartRate}, s.Granted(vitals.AllPermissionTypes()))
}

func TestRefresh_GatewayFailureKeepsStaleCache(t *testing.T) {
	gw := newFakeGateway(map[vitals.PermissionType]bool{vitals.HeartRate: true})
	s := NewStore(gw, nil, StoreOptions{})
	ctx := context.Background()

	_, err := s.Refresh(ctx, []vitals.PermissionType{vitals.HeartRate})
	require.NoError(t, err)

	gw.fail(errors.New("healthkit unreachable"))
	snap, err := s.Refresh(ctx, []vitals.PermissionType{vitals.HeartRate})
	require.Error(t, err)
	assert.ErrorIs(t, err, vitals.ErrGatewayUnavailable)
	assert.True(t, snap[vitals.HeartRate].Granted, "stale entry returned unchanged")

	e, _ := s.Get(vitals.HeartRate)
	assert.True(t, e.Granted)
}

func TestRefresh_LastCheckedNeverMovesBackwards(t *testing.T) {
	gw := newFakeGateway(map[vitals.PermissionType]bool{vitals.Steps: true})
	clock := &stepClock{now: time.Unix(1000, 0)}
	s := NewStore(gw, nil, StoreOptions{Now: clock.Now})
	ctx := context.Background()

	_, err := s.Refresh(ctx, []vitals.PermissionType{vitals.Steps})
	require.NoError(t, err)

	clock.Set(time.Unix(500, 0))
	snap, err := s.Refresh(ctx, []vitals.PermissionType{vitals.Steps})
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1000, 0), snap[vitals.Steps].LastChecked)

	clock.Set(time.Unix(2000, 0))
	snap, err = s.Refresh(ctx, []vitals.PermissionType{vitals.Steps})
	require.NoError(t, err)
	assert.Equal(t, time.Unix(2000, 0), snap[vitals.Steps].LastChecked)
}

func TestDeltas_OnlyOnFlipInDeclarationOrder(t *testing.T) {
	gw := newFakeGateway(map[vitals.PermissionType]bool{
		vitals.HeartRate:     true,
		vitals.Steps:         true,
		vitals.SleepDuration: false,
	})
	pub := NewDeltaPublisher()
	defer pub.Close()
	s := NewStore(gw, pub, StoreOptions{})
	ctx := context.Background()
	types := []vitals.PermissionType{vitals.SleepDuration, vitals.Steps, vitals.HeartRate}

	_, a := pub.Subscribe()
	_, b := pub.Subscribe()

	// first observation has nothing to compare against
	_, err := s.Refresh(ctx, types)
	require.NoError(t, err)
	assertNoDelta(t, a)

	// unchanged refresh emits nothing
	_, err = s.Refresh(ctx, types)
	require.NoError(t, err)
	assertNoDelta(t, a)

	gw.set(vitals.SleepDuration, true)
	gw.set(vitals.HeartRate, false)
	_, err = s.Refresh(ctx, types)
	require.NoError(t, err)

	for _, ch := range []<-chan vitals.PermissionDelta{a, b} {
		got := drainDeltas(ch, 2, t)
		assert.Equal(t, vitals.HeartRate, got[0].Type)
		assert.True(t, got[0].PreviousGranted)
		assert.False(t, got[0].CurrentGranted)
		assert.Equal(t, vitals.SleepDuration, got[1].Type)
		assert.False(t, got[1].PreviousGranted)
		assert.True(t, got[1].CurrentGranted)
		assertNoDelta(t, ch)
	}
}

func TestDeltas_SequenceMatchesObservedFlips(t *testing.T) {
	gw := newFakeGateway(map[vitals.PermissionType]bool{vitals.HeartRate: false})
	pub := NewDeltaPublisher()
	defer pub.Close()
	s := NewStore(gw, pub, StoreOptions{})
	ctx := context.Background()
	_, ch := pub.Subscribe()

	states := []bool{false, true, true, false, true, true, true, false}
	var flips []bool
	prev := states[0]
	for i, st := range states {
		gw.set(vitals.HeartRate, st)
		_, err := s.Refresh(ctx, []vitals.PermissionType{vitals.HeartRate})
		require.NoError(t, err)
		if i > 0 && st != prev {
			flips = append(flips, st)
		}
		prev = st
	}

	got := drainDeltas(ch, len(flips), t)
	var seq []bool
	for _, d := range got {
		seq = append(seq, d.CurrentGranted)
	}
	assert.Equal(t, flips, seq)
	assertNoDelta(t, ch)
}

func TestDeltas_FailedRefreshEmitsNothing(t *testing.T) {
	gw := newFakeGateway(map[vitals.PermissionType]bool{vitals.HeartRate: true})
	pub := NewDeltaPublisher()
	defer pub.Close()
	s := NewStore(gw, pub, StoreOptions{})
	ctx := context.Background()
	_, ch := pub.Subscribe()

	_, err := s.Refresh(ctx, []vitals.PermissionType{vitals.HeartRate})
	require.NoError(t, err)

	gw.set(vitals.HeartRate, false)
	gw.fail(errors.New("down"))
	_, err = s.Refresh(ctx, []vitals.PermissionType{vitals.HeartRate})
	require.Error(t, err)
	assertNoDelta(t, ch)

	// recovery surfaces the flip exactly once
	gw.fail(nil)
	_, err = s.Refresh(ctx, []vitals.PermissionType{vitals.HeartRate})
	require.NoError(t, err)
	got := drainDeltas(ch, 1, t)
	assert.False(t, got[0].CurrentGranted)
}

func TestRequestAll_PromptsOnlyUngrantedOnce(t *testing.T) {
	gw := newFakeGateway(map[vitals.PermissionType]bool{vitals.HeartRate: true})
	s := NewStore(gw, nil, StoreOptions{})
	ctx := context.Background()

	_, err := s.Refresh(ctx, []vitals.PermissionType{vitals.HeartRate, vitals.Steps})
	require.NoError(t, err)

	got, err := s.RequestAll(ctx, []vitals.PermissionType{vitals.Steps, vitals.HeartRate, vitals.BloodOxygen})
	require.NoError(t, err)

	require.Len(t, gw.prompts, 1)
	assert.Equal(t, []vitals.PermissionType{vitals.Steps, vitals.BloodOxygen}, gw.prompts[0])
	assert.Equal(t, map[vitals.PermissionType]bool{
		vitals.HeartRate:   true,
		vitals.Steps:       true,
		vitals.BloodOxygen: true,
	}, got)

	// everything granted now: no prompt
	_, err = s.RequestAll(ctx, []vitals.PermissionType{vitals.Steps, vitals.HeartRate})
	require.NoError(t, err)
	assert.Len(t, gw.prompts, 1)
}

func TestRequestAll_PromptFailurePropagates(t *testing.T) {
	gw := newFakeGateway(map[vitals.PermissionType]bool{})
	gw.fail(errors.New("dialog unavailable"))
	s := NewStore(gw, nil, StoreOptions{})

	_, err := s.RequestAll(context.Background(), []vitals.PermissionType{vitals.HeartRate})
	assert.ErrorIs(t, err, vitals.ErrGatewayUnavailable)
}

func TestRefresh_ConcurrentCallersSeeConsistentSnapshots(t *testing.T) {
	gw := newFakeGateway(map[vitals.PermissionType]bool{
		vitals.HeartRate: true,
		vitals.Steps:     true,
	})
	s := NewStore(gw, nil, StoreOptions{})
	ctx := context.Background()
	types := []vitals.PermissionType{vitals.HeartRate, vitals.Steps}

	var wg sync.WaitGroup
	results := make([]map[vitals.PermissionType]vitals.PermissionEntry, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := s.Refresh(ctx, types)
			assert.NoError(t, err)
			results[i] = snap
		}(i)
	}
	wg.Wait()

	for _, snap := range results {
		require.Len(t, snap, 2)
		assert.True(t, snap[vitals.HeartRate].Granted)
		assert.True(t, snap[vitals.Steps].Granted)
	}
	assert.LessOrEqual(t, gw.queries, len(results))
}

func TestRefresh_CancelledCallerDoesNotFailSharedQuery(t *testing.T) {
	gw := newSlowGateway()
	s := NewStore(gw, nil, StoreOptions{})
	types := []vitals.PermissionType{vitals.HeartRate}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Refresh(first, types)
		firstErr <- err
	}()
	<-gw.entered

	type result struct {
		snap map[vitals.PermissionType]vitals.PermissionEntry
		err  error
	}
	second := make(chan result, 1)
	go func() {
		snap, err := s.Refresh(context.Background(), types)
		second <- result{snap, err}
	}()

	// let the second caller join the in-flight query
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, vitals.ErrGatewayUnavailable, "caller cancellation is not a gateway outage")
	case <-time.After(2 * time.Second):
		t.Fatalf("cancelled caller did not return")
	}

	close(gw.release)

	select {
	case r := <-second:
		require.NoError(t, r.err)
		assert.True(t, r.snap[vitals.HeartRate].Granted)
	case <-time.After(2 * time.Second):
		t.Fatalf("second caller did not return")
	}

	e, ok := s.Get(vitals.HeartRate)
	require.True(t, ok)
	assert.True(t, e.Granted)
}

func TestRefresh_SharedQueryBoundedByTimeout(t *testing.T) {
	gw := newSlowGateway() // never released
	s := NewStore(gw, nil, StoreOptions{RefreshTimeout: 30 * time.Millisecond})

	_, err := s.Refresh(context.Background(), []vitals.PermissionType{vitals.Steps})
	assert.ErrorIs(t, err, vitals.ErrGatewayUnavailable)
}

func TestRefresh_AlreadyCancelledReturnsCache(t *testing.T) {
	gw := newFakeGateway(map[vitals.PermissionType]bool{vitals.Steps: true})
	s := NewStore(gw, nil, StoreOptions{})

	_, err := s.Refresh(context.Background(), []vitals.PermissionType{vitals.Steps})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snap, err := s.Refresh(ctx, []vitals.PermissionType{vitals.Steps})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, snap[vitals.Steps].Granted)
	assert.Equal(t, 1, gw.queryCount())
}

func TestRequestAll_PromptsForTypeRevokedSinceLastRefresh(t *testing.T) {
	gw := newFakeGateway(map[vitals.PermissionType]bool{
		vitals.HeartRate: true,
		vitals.Steps:     true,
	})
	s := NewStore(gw, nil, StoreOptions{})
	ctx := context.Background()
	types := []vitals.PermissionType{vitals.HeartRate, vitals.Steps}

	_, err := s.Refresh(ctx, types)
	require.NoError(t, err)

	// revoked behind the cache's back
	gw.set(vitals.HeartRate, false)

	got, err := s.RequestAll(ctx, types)
	require.NoError(t, err)
	require.Len(t, gw.prompts, 1)
	assert.Equal(t, []vitals.PermissionType{vitals.HeartRate}, gw.prompts[0])
	assert.True(t, got[vitals.HeartRate])
	assert.True(t, got[vitals.Steps])
}
