// internal/status/kind.go
package status

// Kind is the coarse subscription state.
// Values are stable: they are exposed to the embedding UI.
type Kind uint8

// KindUninitialized is the boot state: Start was never called.
const KindUninitialized Kind = 0

// KindActive means exactly one channel is open and delivering.
const KindActive Kind = 1

// KindStopped means no channel is open by request (Stop, or permissions revoked).
const KindStopped Kind = 2

// KindFailed means the last channel failed and no automatic retry follows.
const KindFailed Kind = 3

func (k Kind) String() string {
	switch k {
	case KindUninitialized:
		return "uninitialized"
	case KindActive:
		return "active"
	case KindStopped:
		return "stopped"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CanTransition reports whether from -> to is a legal state change.
//
//	Uninitialized -> Active
//	Active        -> Active (mode swap), Stopped
//	Stopped       -> Active
//	Failed        -> Active (explicit Start), Stopped (explicit Stop)
//	any           -> Failed
func CanTransition(from, to Kind) bool {
	if to == KindFailed {
		return true
	}
	switch from {
	case KindUninitialized:
		return to == KindActive
	case KindActive:
		return to == KindActive || to == KindStopped
	case KindStopped:
		return to == KindActive
	case KindFailed:
		return to == KindActive || to == KindStopped
	default:
		return false
	}
}
