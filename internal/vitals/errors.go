// internal/vitals/errors.go
package vitals

import "errors"

// Error kinds shared by every delivery component.
// Wrap with fmt.Errorf("...: %w", Err...) and test with errors.Is.
var (
	// ErrGatewayUnavailable means the platform permission API could not be reached.
	ErrGatewayUnavailable = errors.New("permission gateway unavailable")

	// ErrNoPermission means none of the required types is granted.
	ErrNoPermission = errors.New("no required permission granted")

	// ErrConnection means a channel failed to open.
	ErrConnection = errors.New("channel connection failed")

	// ErrChannelDropped means an open channel failed mid-session.
	ErrChannelDropped = errors.New("channel dropped")
)
