// internal/preference/preference.go
package preference

import (
	"context"
	"sync"
)

// PreferPollingKey holds the persisted "prefer polling over live" toggle.
const PreferPollingKey = "vitals.prefer_polling"

// Port is the persisted boolean preference boundary.
// GetBool reports ok=false when the key was never written.
type Port interface {
	GetBool(ctx context.Context, key string) (value bool, ok bool, err error)
	SetBool(ctx context.Context, key string, value bool) error
}

// Memory is a process-local Port.
type Memory struct {
	mu   sync.RWMutex
	vals map[string]bool
}

func NewMemory() *Memory {
	return &Memory{vals: make(map[string]bool)}
}

func (m *Memory) GetBool(_ context.Context, key string) (bool, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *Memory) SetBool(_ context.Context, key string, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	return nil
}

// BoolOr reads key and falls back to def when it is unset or unreadable.
func BoolOr(ctx context.Context, p Port, key string, def bool) (bool, error) {
	if p == nil {
		return def, nil
	}
	v, ok, err := p.GetBool(ctx, key)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}
