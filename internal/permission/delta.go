// internal/permission/delta.go
package permission

import (
	"github.com/tamzrod/vitals-relay/internal/broadcast"
	"github.com/tamzrod/vitals-relay/internal/vitals"
)

// DeltaPublisher broadcasts a PermissionDelta for every granted-flag flip
// between two successive snapshots.
type DeltaPublisher struct {
	hub *broadcast.Hub[vitals.PermissionDelta]
}

func NewDeltaPublisher() *DeltaPublisher {
	return &DeltaPublisher{hub: broadcast.New[vitals.PermissionDelta]()}
}

// Emit compares the types present in both snapshots and publishes one delta
// per changed type, in declaration order. It returns what it published.
func (p *DeltaPublisher) Emit(old, cur map[vitals.PermissionType]vitals.PermissionEntry) []vitals.PermissionDelta {
	var out []vitals.PermissionDelta

	for _, t := range vitals.AllPermissionTypes() {
		o, ok := old[t]
		if !ok {
			continue
		}
		n, ok := cur[t]
		if !ok || o.Granted == n.Granted {
			continue
		}

		d := vitals.PermissionDelta{
			Type:            t,
			PreviousGranted: o.Granted,
			CurrentGranted:  n.Granted,
			ObservedAt:      n.LastChecked,
		}
		p.hub.Publish(d)
		out = append(out, d)
	}

	return out
}

// Subscribe returns a handle and a stream receiving every future delta.
func (p *DeltaPublisher) Subscribe() (string, <-chan vitals.PermissionDelta) {
	return p.hub.Subscribe()
}

func (p *DeltaPublisher) Unsubscribe(id string) error {
	return p.hub.Unsubscribe(id)
}

// Close ends every delta stream.
func (p *DeltaPublisher) Close() {
	p.hub.Close()
}
