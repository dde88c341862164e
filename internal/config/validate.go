// internal/config/validate.go
package config

import (
	"fmt"

	"github.com/tamzrod/vitals-relay/internal/vitals"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration. Zero values that Normalize fills are accepted.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: empty")
	}
	v := cfg.Vitals

	// ------------------------------------------------------------
	// REQUIRED TYPES
	// ------------------------------------------------------------

	if len(v.RequiredTypes) == 0 {
		return fmt.Errorf("vitals.required_types: at least one type required")
	}
	seen := make(map[string]bool, len(v.RequiredTypes))
	for _, name := range v.RequiredTypes {
		if _, err := vitals.ParsePermissionType(name); err != nil {
			return fmt.Errorf("vitals.required_types: %w", err)
		}
		if seen[name] {
			return fmt.Errorf("vitals.required_types: %q listed twice", name)
		}
		seen[name] = true
	}

	if v.CloseTimeoutMs < 0 {
		return fmt.Errorf("vitals.close_timeout_ms must be >= 0")
	}

	// ------------------------------------------------------------
	// PERMISSIONS
	// ------------------------------------------------------------

	if v.Permissions.GrantsFile == "" {
		return fmt.Errorf("vitals.permissions.grants_file is required")
	}
	if v.Permissions.RefreshIntervalMs < 0 {
		return fmt.Errorf("vitals.permissions.refresh_interval_ms must be >= 0")
	}
	if v.Permissions.QueryTimeoutMs < 0 {
		return fmt.Errorf("vitals.permissions.query_timeout_ms must be >= 0")
	}

	// ------------------------------------------------------------
	// LIVE (OPT-IN)
	// ------------------------------------------------------------

	if v.Live.Enabled {
		if v.Live.Broker == "" {
			return fmt.Errorf("vitals.live: enabled but no broker set")
		}
		if v.Live.QoS > 2 {
			return fmt.Errorf("vitals.live.qos: %d out of range 0-2", v.Live.QoS)
		}
		if v.Live.ConnectTimeoutMs < 0 || v.Live.BufferSize < 0 {
			return fmt.Errorf("vitals.live: timeouts and buffer size must be >= 0")
		}
	}

	// ------------------------------------------------------------
	// POLL (ALWAYS: it is the fallback channel)
	// ------------------------------------------------------------

	p := v.Poll
	if p.Endpoint == "" {
		return fmt.Errorf("vitals.poll.endpoint is required")
	}
	if p.IntervalMs <= 0 {
		return fmt.Errorf("vitals.poll.interval_ms must be > 0")
	}
	if p.MaxIntervalMs != 0 && p.MaxIntervalMs < p.IntervalMs {
		return fmt.Errorf(
			"vitals.poll.max_interval_ms (%d) must be >= interval_ms (%d)",
			p.MaxIntervalMs,
			p.IntervalMs,
		)
	}
	if p.TimeoutMs < 0 || p.FailureThreshold < 0 {
		return fmt.Errorf("vitals.poll: timeout_ms and failure_threshold must be >= 0")
	}
	if len(p.Users) == 0 {
		return fmt.Errorf("vitals.poll.users: at least one user mapping required")
	}

	for name := range p.Registers {
		if _, err := vitals.ParsePermissionType(name); err != nil {
			return fmt.Errorf("vitals.poll.registers: %w", err)
		}
	}

	// every required type must be pollable, or the fallback silently loses it
	for _, name := range v.RequiredTypes {
		if _, ok := p.Registers[name]; !ok {
			return fmt.Errorf("vitals.poll.registers: required type %q has no register", name)
		}
	}

	// register collision: two types on one address read the same value
	owner := make(map[uint16]string, len(p.Registers))
	for name, r := range p.Registers {
		if prev, exists := owner[r.Address]; exists {
			return fmt.Errorf(
				"vitals.poll.registers: address %d used by both %q and %q",
				r.Address,
				prev,
				name,
			)
		}
		owner[r.Address] = name
	}

	return nil
}
