// internal/permission/watcher.go
package permission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tamzrod/vitals-relay/internal/vitals"
)

// Watcher runs the routine delta check: a periodic refresh whose failures are
// absorbed. Deltas reach subscribers through the store's publisher.
type Watcher struct {
	store    *Store
	types    []vitals.PermissionType
	interval time.Duration
	log      *slog.Logger
}

func NewWatcher(store *Store, types []vitals.PermissionType, interval time.Duration, log *slog.Logger) (*Watcher, error) {
	if store == nil {
		return nil, errors.New("permission: watcher needs a store")
	}
	if interval <= 0 {
		return nil, errors.New("permission: watcher interval must be > 0")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		store:    store,
		types:    vitals.SortTypes(types),
		interval: interval,
		log:      log,
	}, nil
}

// Run refreshes until ctx is done. One refresh per tick, no overlap.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.store.Refresh(ctx, w.types); err != nil {
				w.log.Debug("routine permission check absorbed failure", "error", err)
			}
		}
	}
}
