// internal/selector/selector.go
package selector

import "github.com/tamzrod/vitals-relay/internal/vitals"

// Select decides which channel should deliver updates.
// Pure: no state, no I/O. Re-evaluate on every trigger; never cache the result.
//
// A partial grant selects polling, which degrades per type; the caller filters
// by individually granted types. Zero granted types is not a mode at all; see
// Evaluate.
func Select(preferPolling, liveSupported, allRequiredGranted bool) vitals.ChannelMode {
	if !allRequiredGranted {
		return vitals.ModePolling
	}
	if preferPolling || !liveSupported {
		return vitals.ModePolling
	}
	return vitals.ModeLive
}

// Inputs is everything one evaluation looks at.
type Inputs struct {
	PreferPolling bool
	LiveSupported bool
	Required      int // number of required types
	Granted       int // how many of them are granted
}

// Evaluate applies the NoPermission gate before Select.
func Evaluate(in Inputs) (vitals.ChannelMode, error) {
	if in.Granted <= 0 {
		return 0, vitals.ErrNoPermission
	}
	return Select(in.PreferPolling, in.LiveSupported, in.Granted >= in.Required), nil
}
