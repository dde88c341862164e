// internal/poller/poller.go
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/tamzrod/vitals-relay/internal/vitals"
)

// Client abstracts the request/response health data source.
// It returns the current value per type; Source is filled in by the poller.
type Client interface {
	ReadVitals(ctx context.Context, userID string, types []vitals.PermissionType) ([]vitals.VitalsUpdate, error)
	Close() error
}

// Factory builds a fresh Client. ONE attempt per call.
type Factory func() (Client, error)

// Config is the minimal runtime config the poller needs.
type Config struct {
	UserID string
	Types  []vitals.PermissionType
}

// Poller is a dumb, clock-driven reader for one user session.
// The client is reused while healthy. On a failed read the poller discards it
// and asks the factory for a new one on a future tick.
type Poller struct {
	cfg     Config
	client  Client
	factory Factory
	allowed map[vitals.PermissionType]bool
}

// New creates a poller with immutable config.
func New(cfg Config, client Client, factory Factory) (*Poller, error) {
	if cfg.UserID == "" {
		return nil, errors.New("poller: user id required")
	}
	if len(cfg.Types) == 0 {
		return nil, errors.New("poller: at least one type required")
	}
	if client == nil && factory == nil {
		return nil, errors.New("poller: client or factory required")
	}

	cfg.Types = vitals.SortTypes(cfg.Types)
	allowed := make(map[vitals.PermissionType]bool, len(cfg.Types))
	for _, t := range cfg.Types {
		allowed[t] = true
	}

	return &Poller{cfg: cfg, client: client, factory: factory, allowed: allowed}, nil
}

// PollOnce performs exactly one poll cycle.
// All-or-nothing: any failure aborts the cycle.
func (p *Poller) PollOnce(ctx context.Context) PollResult {
	res := PollResult{
		UserID: p.cfg.UserID,
		At:     time.Now(),
	}

	if p.client == nil {
		if p.factory == nil {
			res.Err = errors.New("poller: no client and no factory")
			return res
		}
		c, err := p.factory()
		if err != nil {
			res.Err = err
			return res
		}
		p.client = c
	}

	ups, err := p.client.ReadVitals(ctx, p.cfg.UserID, p.cfg.Types)
	if err != nil {
		// transport is suspect: rebuild on a later tick
		_ = p.client.Close()
		p.client = nil
		res.Err = err
		return res
	}

	out := make([]vitals.VitalsUpdate, 0, len(ups))
	for _, u := range ups {
		if !p.allowed[u.DataType] {
			continue
		}
		u.UserID = p.cfg.UserID
		u.Source = vitals.ModePolling
		if u.ObservedAt.IsZero() {
			u.ObservedAt = res.At
		}
		out = append(out, u)
	}

	// Commit only if the read succeeded
	res.Updates = out
	return res
}

// Close releases the current client, if any.
func (p *Poller) Close() error {
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}
