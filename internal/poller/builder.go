// internal/poller/builder.go
package poller

import (
	"log/slog"

	cfg "github.com/tamzrod/vitals-relay/internal/config"
	pmodbus "github.com/tamzrod/vitals-relay/internal/poller/modbus"
	"github.com/tamzrod/vitals-relay/internal/vitals"
)

// Build constructs the polling Channel and wires Modbus client lifecycle.
// Connection is reused while healthy.
// On transport death, Poller discards the client and uses factory on a future tick.
// Retries and backoff belong to the channel loop, not the client.
func Build(v cfg.VitalsConfig, log *slog.Logger) (*Channel, error) {
	p := v.Poll

	regs := make(map[vitals.PermissionType]pmodbus.Register, len(p.Registers))
	for name, r := range p.Registers {
		t, err := vitals.ParsePermissionType(name)
		if err != nil {
			return nil, err
		}
		regs[t] = pmodbus.Register{
			Address: r.Address,
			Scale:   r.Scale,
			Signed:  r.Signed,
			Unit:    r.Unit,
		}
	}

	// client factory: ONE attempt per call
	factory := func() (Client, error) {
		return pmodbus.New(pmodbus.Config{
			Endpoint:  p.Endpoint,
			Timeout:   cfg.Ms(p.TimeoutMs),
			Users:     p.Users,
			Registers: regs,
		})
	}

	return NewChannel(ChannelConfig{
		Schedule: Schedule{
			Interval:         cfg.Ms(p.IntervalMs),
			MaxInterval:      cfg.Ms(p.MaxIntervalMs),
			FailureThreshold: p.FailureThreshold,
			FetchTimeout:     cfg.Ms(p.TimeoutMs) * 4,
		},
		CloseTimeout: cfg.Ms(v.CloseTimeoutMs),
		Logger:       log,
	}, factory)
}
