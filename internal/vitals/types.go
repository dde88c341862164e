// internal/vitals/types.go
package vitals

import (
	"fmt"
	"time"
)

// PermissionType identifies one health data category.
// Declaration order is the canonical order for everything that iterates types.
type PermissionType uint8

const (
	HeartRate PermissionType = iota
	RestingHeartRate
	HeartRateVariability
	Steps
	ActiveEnergy
	SleepDuration
	BloodOxygen
	RespiratoryRate

	permissionTypeCount
)

var permissionTypeNames = [permissionTypeCount]string{
	HeartRate:            "heart_rate",
	RestingHeartRate:     "resting_heart_rate",
	HeartRateVariability: "hrv",
	Steps:                "steps",
	ActiveEnergy:         "active_energy",
	SleepDuration:        "sleep_duration",
	BloodOxygen:          "blood_oxygen",
	RespiratoryRate:      "respiratory_rate",
}

// AllPermissionTypes returns every known type in declaration order.
func AllPermissionTypes() []PermissionType {
	out := make([]PermissionType, 0, permissionTypeCount)
	for t := PermissionType(0); t < permissionTypeCount; t++ {
		out = append(out, t)
	}
	return out
}

func (t PermissionType) Valid() bool { return t < permissionTypeCount }

func (t PermissionType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("permission_type(%d)", uint8(t))
	}
	return permissionTypeNames[t]
}

// ParsePermissionType maps a config name (e.g. "heart_rate") to its type.
func ParsePermissionType(name string) (PermissionType, error) {
	for i, n := range permissionTypeNames {
		if n == name {
			return PermissionType(i), nil
		}
	}
	return 0, fmt.Errorf("vitals: unknown permission type %q", name)
}

// SortTypes returns a copy of types in declaration order without duplicates.
func SortTypes(types []PermissionType) []PermissionType {
	var seen [permissionTypeCount]bool
	for _, t := range types {
		if t.Valid() {
			seen[t] = true
		}
	}
	out := make([]PermissionType, 0, len(types))
	for i, ok := range seen {
		if ok {
			out = append(out, PermissionType(i))
		}
	}
	return out
}

// ---- PERMISSIONS ----

// PermissionEntry is the last known authorization state of one type.
type PermissionEntry struct {
	Type        PermissionType
	Granted     bool
	LastChecked time.Time
}

// PermissionDelta records one observed flip of a type's granted flag.
type PermissionDelta struct {
	Type            PermissionType
	PreviousGranted bool
	CurrentGranted  bool
	ObservedAt      time.Time
}

// ---- DELIVERY ----

// ChannelMode is which delivery channel is responsible for updates.
type ChannelMode uint8

const (
	ModeLive ChannelMode = iota + 1
	ModePolling
)

func (m ChannelMode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModePolling:
		return "polling"
	default:
		return "none"
	}
}

// VitalsUpdate is one measurement produced by the active channel.
type VitalsUpdate struct {
	UserID     string
	DataType   PermissionType
	Value      float64
	Unit       string
	ObservedAt time.Time
	Source     ChannelMode
}

// Sink receives updates from a channel, in generation order.
type Sink func(VitalsUpdate)

// DropFunc is called once when an open channel fails mid-session.
type DropFunc func(reason error)

// Session is everything a channel needs for one activation.
// Interval is only read by the polling channel; zero means the configured base.
type Session struct {
	UserID   string
	Types    []PermissionType
	Interval time.Duration
	Sink     Sink
	OnDrop   DropFunc
}
