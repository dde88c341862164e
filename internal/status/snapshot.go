// internal/status/snapshot.go
package status

import (
	"fmt"
	"time"

	"github.com/tamzrod/vitals-relay/internal/vitals"
)

// Snapshot is the inspectable subscription state of one session.
// Mode is only meaningful while Active; Reason only while Failed or after a
// permission-driven stop.
type Snapshot struct {
	Kind   Kind
	Mode   vitals.ChannelMode
	UserID string
	Reason string
	Since  time.Time
}

// ActiveIn reports whether a channel is open in the given mode.
func (s Snapshot) ActiveIn(mode vitals.ChannelMode) bool {
	return s.Kind == KindActive && s.Mode == mode
}

func (s Snapshot) String() string {
	switch s.Kind {
	case KindActive:
		return fmt.Sprintf("active(%s)", s.Mode)
	case KindFailed:
		return fmt.Sprintf("failed(%s)", s.Reason)
	default:
		return s.Kind.String()
	}
}
