// internal/config/config.go
package config

import (
	"time"

	"github.com/tamzrod/vitals-relay/internal/vitals"
)

type Config struct {
	Vitals VitalsConfig `yaml:"vitals"`
}

type VitalsConfig struct {
	RequiredTypes        []string `yaml:"required_types"`
	PreferPollingDefault bool     `yaml:"prefer_polling_default"`
	CloseTimeoutMs       int      `yaml:"close_timeout_ms"`

	Permissions PermissionsConfig `yaml:"permissions"`
	Preferences PreferencesConfig `yaml:"preferences"`
	Live        LiveConfig        `yaml:"live"`
	Poll        PollConfig        `yaml:"poll"`
}

// ---- PERMISSIONS ----

type PermissionsConfig struct {
	GrantsFile        string `yaml:"grants_file"`
	AutoApprove       bool   `yaml:"auto_approve"`        // prompting grants (headless)
	RefreshIntervalMs int    `yaml:"refresh_interval_ms"` // routine delta check
	QueryTimeoutMs    int    `yaml:"query_timeout_ms"`    // bound on one shared gateway query
}

// ---- PREFERENCES ----

type PreferencesConfig struct {
	Path string `yaml:"path"` // SQLite file; empty keeps preferences in memory
}

// ---- LIVE ----

type LiveConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Broker           string `yaml:"broker"`
	ClientID         string `yaml:"client_id"`
	TopicPrefix      string `yaml:"topic_prefix"`
	QoS              byte   `yaml:"qos"`
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms"`
	BufferSize       int    `yaml:"buffer_size"`
}

// ---- POLL ----

type PollConfig struct {
	Endpoint         string                    `yaml:"endpoint"`
	TimeoutMs        int                       `yaml:"timeout_ms"`
	IntervalMs       int                       `yaml:"interval_ms"`
	MaxIntervalMs    int                       `yaml:"max_interval_ms"`
	FailureThreshold int                       `yaml:"failure_threshold"`
	Users            map[string]uint8          `yaml:"users"`     // userID -> unit id
	Registers        map[string]RegisterConfig `yaml:"registers"` // type name -> register
}

type RegisterConfig struct {
	Address uint16  `yaml:"address"`
	Scale   float64 `yaml:"scale"`
	Signed  bool    `yaml:"signed"`
	Unit    string  `yaml:"unit"`
}

// Required parses required_types in declaration order.
// Only valid after Validate.
func (v VitalsConfig) Required() []vitals.PermissionType {
	out := make([]vitals.PermissionType, 0, len(v.RequiredTypes))
	for _, name := range v.RequiredTypes {
		if t, err := vitals.ParsePermissionType(name); err == nil {
			out = append(out, t)
		}
	}
	return vitals.SortTypes(out)
}

// Ms converts a _ms config field.
func Ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
