// internal/config/normalize.go
package config

const (
	defaultCloseTimeoutMs    = 2000
	defaultRefreshIntervalMs = 60000
	defaultQueryTimeoutMs    = 10000
	defaultPollTimeoutMs     = 1000
	defaultMaxIntervalFactor = 12
	defaultFailureThreshold  = 5
	defaultTopicPrefix       = "vitals"
	defaultClientID          = "vitalsd"
	defaultConnectTimeoutMs  = 5000
	defaultLiveBufferSize    = 64
)

// Normalize applies post-validation defaults.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	v := &cfg.Vitals

	if v.CloseTimeoutMs == 0 {
		v.CloseTimeoutMs = defaultCloseTimeoutMs
	}
	if v.Permissions.RefreshIntervalMs == 0 {
		v.Permissions.RefreshIntervalMs = defaultRefreshIntervalMs
	}
	if v.Permissions.QueryTimeoutMs == 0 {
		v.Permissions.QueryTimeoutMs = defaultQueryTimeoutMs
	}

	// ---- poll ----

	p := &v.Poll
	if p.TimeoutMs == 0 {
		p.TimeoutMs = defaultPollTimeoutMs
	}
	if p.MaxIntervalMs == 0 {
		p.MaxIntervalMs = p.IntervalMs * defaultMaxIntervalFactor
	}
	// zero tolerance is not useful: one hiccup would drop the channel
	if p.FailureThreshold == 0 {
		p.FailureThreshold = defaultFailureThreshold
	}
	for name, r := range p.Registers {
		if r.Scale == 0 {
			r.Scale = 1
			p.Registers[name] = r
		}
	}

	// ---- live ----

	l := &v.Live
	if l.TopicPrefix == "" {
		l.TopicPrefix = defaultTopicPrefix
	}
	if l.ClientID == "" {
		l.ClientID = defaultClientID
	}
	if l.ConnectTimeoutMs == 0 {
		l.ConnectTimeoutMs = defaultConnectTimeoutMs
	}
	if l.BufferSize == 0 {
		l.BufferSize = defaultLiveBufferSize
	}
}
