// internal/permission/store.go
package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tamzrod/vitals-relay/internal/vitals"
)

// Store caches the last known authorization entry per type.
//
// The cache map is replaced wholesale on every refresh and never mutated in
// place, so any snapshot handed out is internally consistent. Refreshes are
// serialized; concurrent refreshes of the same type set share one gateway call.
type Store struct {
	gw  Gateway
	pub *DeltaPublisher
	now func() time.Time
	log *slog.Logger

	timeout time.Duration

	refreshMu sync.Mutex
	group     singleflight.Group

	mu      sync.RWMutex
	entries map[vitals.PermissionType]vitals.PermissionEntry
}

// StoreOptions are optional collaborators. Zero values pick defaults.
type StoreOptions struct {
	Now    func() time.Time
	Logger *slog.Logger

	// RefreshTimeout bounds one shared gateway query. Default 10s.
	RefreshTimeout time.Duration
}

// NewStore builds a store over gw. pub may be nil when no deltas are wanted.
func NewStore(gw Gateway, pub *DeltaPublisher, opts StoreOptions) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 10 * time.Second
	}
	return &Store{
		gw:      gw,
		pub:     pub,
		now:     opts.Now,
		log:     opts.Logger,
		timeout: opts.RefreshTimeout,
		entries: make(map[vitals.PermissionType]vitals.PermissionEntry),
	}
}

// Refresh queries the gateway for types and replaces their cached entries.
// On gateway failure the cached entries for types are returned unchanged
// together with an error wrapping vitals.ErrGatewayUnavailable.
//
// If ctx ends first, the cached entries are returned with ctx's error; the
// shared query keeps running for the other callers waiting on it.
func (s *Store) Refresh(ctx context.Context, types []vitals.PermissionType) (map[vitals.PermissionType]vitals.PermissionEntry, error) {
	types = vitals.SortTypes(types)
	if len(types) == 0 {
		return map[vitals.PermissionType]vitals.PermissionEntry{}, nil
	}
	if err := ctx.Err(); err != nil {
		return s.snapshot(types), fmt.Errorf("permission: refresh: %w", err)
	}

	res := s.group.DoChan(typesKey(types), func() (interface{}, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.refresh(qctx, types)
	})

	select {
	case <-ctx.Done():
		return s.snapshot(types), fmt.Errorf("permission: refresh: %w", ctx.Err())
	case r := <-res:
		// coalesced callers share r.Val; hand each its own copy
		snap, _ := r.Val.(map[vitals.PermissionType]vitals.PermissionEntry)
		return copyEntries(snap), r.Err
	}
}

func (s *Store) refresh(ctx context.Context, types []vitals.PermissionType) (map[vitals.PermissionType]vitals.PermissionEntry, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	granted, err := s.gw.QueryGranted(ctx, types)
	if err != nil {
		s.log.Warn("permission refresh failed, keeping cache", "types", typesKey(types), "error", err)
		return s.snapshot(types), gatewayError("refresh", err)
	}

	now := s.now()

	s.mu.Lock()
	old := s.entries
	next := make(map[vitals.PermissionType]vitals.PermissionEntry, len(old)+len(types))
	for k, e := range old {
		next[k] = e
	}

	prev := make(map[vitals.PermissionType]vitals.PermissionEntry, len(types))
	fresh := make(map[vitals.PermissionType]vitals.PermissionEntry, len(types))
	for _, t := range types {
		checked := now
		if e, ok := old[t]; ok {
			prev[t] = e
			// LastChecked never moves backwards, even if the clock does.
			if e.LastChecked.After(checked) {
				checked = e.LastChecked
			}
		}
		e := vitals.PermissionEntry{Type: t, Granted: granted[t], LastChecked: checked}
		next[t] = e
		fresh[t] = e
	}
	s.entries = next
	s.mu.Unlock()

	// Emit under refreshMu so deltas leave in refresh order.
	if s.pub != nil {
		s.pub.Emit(prev, fresh)
	}

	return fresh, nil
}

// Get is a pure cache read.
func (s *Store) Get(t vitals.PermissionType) (vitals.PermissionEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[t]
	return e, ok
}

// Granted returns the cached granted subset of types, in declaration order.
func (s *Store) Granted(types []vitals.PermissionType) []vitals.PermissionType {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []vitals.PermissionType
	for _, t := range vitals.SortTypes(types) {
		if e, ok := s.entries[t]; ok && e.Granted {
			out = append(out, t)
		}
	}
	return out
}

// RequestAll refreshes, prompts for every type not granted, then refreshes
// again. The gateway prompt is invoked at most once per call, covering all
// such types. If the first refresh fails the cache decides what to prompt for.
func (s *Store) RequestAll(ctx context.Context, types []vitals.PermissionType) (map[vitals.PermissionType]bool, error) {
	types = vitals.SortTypes(types)

	if _, err := s.Refresh(ctx, types); err != nil {
		if ctx.Err() != nil {
			return grantedFlags(s.snapshot(types)), err
		}
		s.log.Warn("permission pre-prompt refresh failed, using cache", "error", err)
	}

	var ungranted []vitals.PermissionType
	for _, t := range types {
		if e, ok := s.Get(t); !ok || !e.Granted {
			ungranted = append(ungranted, t)
		}
	}

	if len(ungranted) > 0 {
		if _, err := s.gw.PromptUser(ctx, ungranted); err != nil {
			if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) {
				return grantedFlags(s.snapshot(types)), fmt.Errorf("permission: prompt: %w", err)
			}
			return grantedFlags(s.snapshot(types)), gatewayError("prompt", err)
		}
	}

	snap, err := s.Refresh(ctx, types)
	return grantedFlags(snap), err
}

func (s *Store) snapshot(types []vitals.PermissionType) map[vitals.PermissionType]vitals.PermissionEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[vitals.PermissionType]vitals.PermissionEntry, len(types))
	for _, t := range types {
		if e, ok := s.entries[t]; ok {
			out[t] = e
		}
	}
	return out
}

// ---- helpers ----

func typesKey(types []vitals.PermissionType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, ",")
}

func copyEntries(in map[vitals.PermissionType]vitals.PermissionEntry) map[vitals.PermissionType]vitals.PermissionEntry {
	out := make(map[vitals.PermissionType]vitals.PermissionEntry, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func grantedFlags(in map[vitals.PermissionType]vitals.PermissionEntry) map[vitals.PermissionType]bool {
	out := make(map[vitals.PermissionType]bool, len(in))
	for k, v := range in {
		out[k] = v.Granted
	}
	return out
}
